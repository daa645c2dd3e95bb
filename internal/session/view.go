package session

import (
	"sort"

	"studyroom/internal/models"
)

// view is the merged conversation state a handle maintains: persisted
// messages ordered by (created_at, id) with duplicates dropped, plus
// optimistic placeholders appended at the tail until reconciled. Not
// goroutine-safe; the handle's dispatch loop is the only writer.
type view struct {
	messages     []*models.Message
	seen         map[uint]struct{}
	placeholders map[string]*models.Message
	order        []string
}

func newView() *view {
	return &view{
		seen:         make(map[uint]struct{}),
		placeholders: make(map[string]*models.Message),
	}
}

// insert merges a persisted message into order. Returns false when the id
// was already present (duplicate delivery or history/live overlap).
func (v *view) insert(msg *models.Message) bool {
	if msg == nil || msg.ID == 0 {
		return false
	}
	if _, dup := v.seen[msg.ID]; dup {
		return false
	}
	v.seen[msg.ID] = struct{}{}

	idx := sort.Search(len(v.messages), func(i int) bool {
		m := v.messages[i]
		if !m.CreatedAt.Equal(msg.CreatedAt) {
			return m.CreatedAt.After(msg.CreatedAt)
		}
		return m.ID > msg.ID
	})
	v.messages = append(v.messages, nil)
	copy(v.messages[idx+1:], v.messages[idx:])
	v.messages[idx] = msg
	return true
}

// insertAll merges a history page.
func (v *view) insertAll(msgs []*models.Message) int {
	inserted := 0
	for _, msg := range msgs {
		if v.insert(msg) {
			inserted++
		}
	}
	return inserted
}

// addPlaceholder appends an optimistic message keyed by its local id.
func (v *view) addPlaceholder(localID string, msg *models.Message) {
	v.placeholders[localID] = msg
	v.order = append(v.order, localID)
}

// removePlaceholder drops a placeholder after the send settles, either
// because the authoritative copy arrived or because the send failed.
// Returns false when the local id is unknown (already reconciled).
func (v *view) removePlaceholder(localID string) bool {
	if _, ok := v.placeholders[localID]; !ok {
		return false
	}
	delete(v.placeholders, localID)
	for i, id := range v.order {
		if id == localID {
			v.order = append(v.order[:i], v.order[i+1:]...)
			break
		}
	}
	return true
}

// snapshot returns the display order: persisted messages followed by pending
// placeholders in submission order.
func (v *view) snapshot() []*models.Message {
	out := make([]*models.Message, 0, len(v.messages)+len(v.order))
	out = append(out, v.messages...)
	for _, localID := range v.order {
		if msg, ok := v.placeholders[localID]; ok {
			out = append(out, msg)
		}
	}
	return out
}

// oldest returns the first persisted message, or nil when the view is empty.
// Used to derive the cursor for loading older history.
func (v *view) oldest() *models.Message {
	if len(v.messages) == 0 {
		return nil
	}
	return v.messages[0]
}

func (v *view) len() int {
	return len(v.messages) + len(v.order)
}
