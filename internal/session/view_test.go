package session

import (
	"testing"
	"time"

	"studyroom/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func msgAt(id uint, ts time.Time) *models.Message {
	return &models.Message{ID: id, Type: models.MessageTypeText, CreatedAt: ts}
}

func TestView_InsertKeepsOrder(t *testing.T) {
	v := newView()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	assert.True(t, v.insert(msgAt(3, base.Add(2*time.Second))))
	assert.True(t, v.insert(msgAt(1, base)))
	assert.True(t, v.insert(msgAt(2, base.Add(time.Second))))

	snap := v.snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, uint(1), snap[0].ID)
	assert.Equal(t, uint(2), snap[1].ID)
	assert.Equal(t, uint(3), snap[2].ID)
}

func TestView_TimestampTieBreaksByID(t *testing.T) {
	v := newView()
	ts := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	v.insert(msgAt(9, ts))
	v.insert(msgAt(4, ts))
	v.insert(msgAt(7, ts))

	snap := v.snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, uint(4), snap[0].ID)
	assert.Equal(t, uint(7), snap[1].ID)
	assert.Equal(t, uint(9), snap[2].ID)
}

func TestView_DuplicateIDsDropped(t *testing.T) {
	v := newView()
	ts := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	assert.True(t, v.insert(msgAt(1, ts)))
	assert.False(t, v.insert(msgAt(1, ts)))
	assert.False(t, v.insert(msgAt(1, ts.Add(time.Minute))))
	assert.Equal(t, 1, v.len())
}

func TestView_ZeroIDRejected(t *testing.T) {
	v := newView()
	assert.False(t, v.insert(&models.Message{ID: 0}))
	assert.False(t, v.insert(nil))
	assert.Equal(t, 0, v.len())
}

func TestView_PlaceholdersAppendAfterPersisted(t *testing.T) {
	v := newView()
	ts := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	v.insert(msgAt(1, ts))

	pending := &models.Message{Content: "sending..."}
	v.addPlaceholder("local-1", pending)

	snap := v.snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, uint(1), snap[0].ID)
	assert.Same(t, pending, snap[1])
}

func TestView_RemovePlaceholder(t *testing.T) {
	v := newView()
	v.addPlaceholder("local-1", &models.Message{Content: "a"})
	v.addPlaceholder("local-2", &models.Message{Content: "b"})

	assert.True(t, v.removePlaceholder("local-1"))
	assert.False(t, v.removePlaceholder("local-1"), "second remove is a no-op")

	snap := v.snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, "b", snap[0].Content)
}

func TestView_HistoryAndLiveOverlapMergesOnce(t *testing.T) {
	v := newView()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	history := []*models.Message{msgAt(1, base), msgAt(2, base.Add(time.Second))}
	assert.Equal(t, 2, v.insertAll(history))

	// Live stream redelivers message 2 and brings a new message 3.
	assert.False(t, v.insert(msgAt(2, base.Add(time.Second))))
	assert.True(t, v.insert(msgAt(3, base.Add(2*time.Second))))
	assert.Equal(t, 3, v.len())
}

func TestView_Oldest(t *testing.T) {
	v := newView()
	assert.Nil(t, v.oldest())

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	v.insert(msgAt(5, base.Add(time.Minute)))
	v.insert(msgAt(2, base))
	require.NotNil(t, v.oldest())
	assert.Equal(t, uint(2), v.oldest().ID)
}
