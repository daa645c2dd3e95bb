package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"studyroom/internal/models"
	"studyroom/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDirectory struct {
	mu         sync.Mutex
	room       *models.Room
	resolveErr error
	joinErr    error
	resolveDly time.Duration
	joins      int
}

func (d *fakeDirectory) Resolve(ctx context.Context, logicalKey string, kind models.RoomKind, userID uint) (*models.Room, error) {
	if d.resolveDly > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(d.resolveDly):
		}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.resolveErr != nil {
		return nil, d.resolveErr
	}
	if d.room == nil {
		d.room = &models.Room{ID: 1, LogicalKey: logicalKey, Kind: kind, IsActive: true, CreatedBy: userID}
	}
	return d.room, nil
}

func (d *fakeDirectory) Join(ctx context.Context, roomID, userID uint) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.joins++
	return d.joinErr
}

type fakeLog struct {
	mu        sync.Mutex
	messages  []*models.Message
	nextID    uint
	appendErr error
	pageErr   error
	appendDly time.Duration
}

func (l *fakeLog) Page(ctx context.Context, roomID, userID uint, before *repository.PageCursor, limit int) ([]*models.Message, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.pageErr != nil {
		return nil, l.pageErr
	}
	out := make([]*models.Message, 0, len(l.messages))
	for _, m := range l.messages {
		if before != nil {
			older := m.CreatedAt.Before(before.CreatedAt) ||
				(m.CreatedAt.Equal(before.CreatedAt) && m.ID < before.ID)
			if !older {
				continue
			}
		}
		out = append(out, m)
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (l *fakeLog) Append(ctx context.Context, in AppendInput) (*models.Message, error) {
	if l.appendDly > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(l.appendDly):
		}
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.appendErr != nil {
		return nil, l.appendErr
	}
	l.nextID++
	msg := &models.Message{
		ID:        l.nextID,
		RoomID:    in.RoomID,
		SenderID:  in.UserID,
		Type:      in.Type,
		Content:   in.Content,
		CreatedAt: time.Now().UTC(),
	}
	l.messages = append(l.messages, msg)
	return msg, nil
}

func (l *fakeLog) seed(count int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	for i := 0; i < count; i++ {
		l.nextID++
		l.messages = append(l.messages, &models.Message{
			ID:        l.nextID,
			RoomID:    1,
			SenderID:  2,
			Type:      models.MessageTypeText,
			Content:   "seeded",
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		})
	}
}

func newTestSessionClient(dir *fakeDirectory, msgLog *fakeLog, transport *fakeTransport, opts Options) *Client {
	c := NewClient(dir, msgLog, NewChannel(transport, nil), opts)
	c.sleep = func(context.Context, time.Duration) error { return nil }
	return c
}

func TestClient_OpenLoadsHistoryAndSubscribes(t *testing.T) {
	dir := &fakeDirectory{}
	msgLog := &fakeLog{}
	msgLog.seed(3)
	transport := &fakeTransport{}
	client := newTestSessionClient(dir, msgLog, transport, Options{})

	h, err := client.Open(context.Background(), "booking:1", models.RoomKindSession, 5, Callbacks{})
	require.NoError(t, err)
	defer h.Close()

	assert.Equal(t, uint(1), h.Room().ID)
	assert.Len(t, h.View(), 3)
	assert.Equal(t, StateSubscribed, h.State())
	assert.Equal(t, 1, dir.joins)
}

func TestClient_OpenNotFoundPassesThrough(t *testing.T) {
	dir := &fakeDirectory{resolveErr: models.NewNotFoundError("room", "booking:1")}
	client := newTestSessionClient(dir, &fakeLog{}, &fakeTransport{}, Options{})

	_, err := client.Open(context.Background(), "booking:1", models.RoomKindSession, 5, Callbacks{})
	assert.Equal(t, models.CodeNotFound, models.ErrorCode(err))
	assert.False(t, models.IsRetryable(err))
}

func TestClient_OpenTimeoutIsTransient(t *testing.T) {
	dir := &fakeDirectory{resolveDly: time.Second}
	client := newTestSessionClient(dir, &fakeLog{}, &fakeTransport{}, Options{OpenTimeout: 20 * time.Millisecond})

	_, err := client.Open(context.Background(), "booking:1", models.RoomKindSession, 5, Callbacks{})
	require.Error(t, err)
	assert.True(t, models.IsRetryable(err), "stuck resolve surfaces as retryable")
}

func TestClient_SendReconcilesPlaceholder(t *testing.T) {
	dir := &fakeDirectory{}
	msgLog := &fakeLog{}
	transport := &fakeTransport{}
	client := newTestSessionClient(dir, msgLog, transport, Options{})

	h, err := client.Open(context.Background(), "booking:1", models.RoomKindSession, 5, Callbacks{})
	require.NoError(t, err)
	defer h.Close()

	msg, err := h.Send(context.Background(), "hello")
	require.NoError(t, err)
	require.NotNil(t, msg)

	view := h.View()
	require.Len(t, view, 1, "exactly one copy: placeholder was replaced")
	assert.Equal(t, msg.ID, view[0].ID)
	assert.Equal(t, "hello", view[0].Content)
}

func TestClient_SendFailureRemovesPlaceholder(t *testing.T) {
	dir := &fakeDirectory{}
	msgLog := &fakeLog{appendErr: errors.New("db down")}
	client := newTestSessionClient(dir, msgLog, &fakeTransport{}, Options{})

	h, err := client.Open(context.Background(), "booking:1", models.RoomKindSession, 5, Callbacks{})
	require.NoError(t, err)
	defer h.Close()

	_, err = h.Send(context.Background(), "hello")
	require.Error(t, err)
	assert.True(t, models.IsRetryable(err))
	assert.Empty(t, h.View(), "failed send leaves no trace in the view")
}

func TestClient_LiveEchoDoesNotDuplicateOwnSend(t *testing.T) {
	dir := &fakeDirectory{}
	msgLog := &fakeLog{}
	transport := &fakeTransport{}
	client := newTestSessionClient(dir, msgLog, transport, Options{})

	h, err := client.Open(context.Background(), "booking:1", models.RoomKindSession, 5, Callbacks{})
	require.NoError(t, err)
	defer h.Close()

	msg, err := h.Send(context.Background(), "hello")
	require.NoError(t, err)

	// The server also broadcasts the authoritative copy.
	transport.emit(Event{Type: EventMessage, EventID: "echo", RoomID: 1, Message: msg})

	assert.Eventually(t, func() bool {
		return len(h.View()) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestClient_LiveMessagesMergeInOrder(t *testing.T) {
	dir := &fakeDirectory{}
	msgLog := &fakeLog{}
	msgLog.seed(2)
	transport := &fakeTransport{}
	client := newTestSessionClient(dir, msgLog, transport, Options{})

	var delivered atomic.Int32
	h, err := client.Open(context.Background(), "booking:1", models.RoomKindSession, 5, Callbacks{
		OnMessage: func(*models.Message) { delivered.Add(1) },
	})
	require.NoError(t, err)
	defer h.Close()

	live := &models.Message{
		ID: 99, RoomID: 1, SenderID: 2, Type: models.MessageTypeText,
		Content: "live", CreatedAt: time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC),
	}
	transport.emit(Event{Type: EventMessage, EventID: "live-99", RoomID: 1, Message: live})
	// Redelivery of the same event.
	transport.emit(Event{Type: EventMessage, EventID: "live-99", RoomID: 1, Message: live})

	assert.Eventually(t, func() bool {
		view := h.View()
		return len(view) == 3 && view[2].ID == 99
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(1), delivered.Load(), "duplicate delivery surfaced once")
}

func TestClient_CloseIdempotentAndFinal(t *testing.T) {
	dir := &fakeDirectory{}
	client := newTestSessionClient(dir, &fakeLog{}, &fakeTransport{}, Options{})

	var closedEvents atomic.Int32
	h, err := client.Open(context.Background(), "booking:1", models.RoomKindSession, 5, Callbacks{
		OnState: func(s ConnectionState) {
			if s == StateClosed {
				closedEvents.Add(1)
			}
		},
	})
	require.NoError(t, err)

	h.Close()
	h.Close()
	h.Close()

	assert.Equal(t, StateClosed, h.State())
	assert.Equal(t, int32(1), closedEvents.Load())

	_, err = h.Send(context.Background(), "too late")
	assert.Equal(t, models.CodeConflict, models.ErrorCode(err))
}

func TestClient_InFlightSendDiscardedAfterClose(t *testing.T) {
	dir := &fakeDirectory{}
	msgLog := &fakeLog{appendDly: 50 * time.Millisecond}
	client := newTestSessionClient(dir, msgLog, &fakeTransport{}, Options{})

	h, err := client.Open(context.Background(), "booking:1", models.RoomKindSession, 5, Callbacks{})
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		_, _ = h.Send(context.Background(), "slow")
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	h.Close()
	<-done

	// The append may have completed server-side, but the closed handle's
	// view must not have been mutated by it.
	assert.Equal(t, StateClosed, h.State())
}

func TestClient_ReconnectAfterStreamLoss(t *testing.T) {
	dir := &fakeDirectory{}
	msgLog := &fakeLog{}
	transport := &fakeTransport{}
	client := newTestSessionClient(dir, msgLog, transport, Options{
		ReconnectAttempts: 3,
		ReconnectBase:     time.Millisecond,
	})

	h, err := client.Open(context.Background(), "booking:1", models.RoomKindSession, 5, Callbacks{})
	require.NoError(t, err)
	defer h.Close()

	transport.dropAll(errors.New("connection reset"))

	assert.Eventually(t, func() bool {
		return h.State() == StateSubscribed && transport.subscribeCount() == 1
	}, 2*time.Second, 10*time.Millisecond, "resubscribed after stream loss")
}

func TestClient_ReconnectExhaustionFallsBackToPolling(t *testing.T) {
	dir := &fakeDirectory{}
	msgLog := &fakeLog{}
	transport := &fakeTransport{}
	client := newTestSessionClient(dir, msgLog, transport, Options{
		ReconnectAttempts: 2,
		ReconnectBase:     time.Millisecond,
		PollInterval:      20 * time.Millisecond,
	})

	var sawTransient atomic.Bool
	h, err := client.Open(context.Background(), "booking:1", models.RoomKindSession, 5, Callbacks{
		OnError: func(e error) {
			if models.IsRetryable(e) {
				sawTransient.Store(true)
			}
		},
	})
	require.NoError(t, err)
	defer h.Close()

	transport.mu.Lock()
	transport.failures = -1 // every resubscribe fails from here on
	transport.mu.Unlock()
	transport.dropAll(errors.New("connection reset"))

	assert.Eventually(t, func() bool {
		h.mu.Lock()
		defer h.mu.Unlock()
		return h.poller != nil
	}, 2*time.Second, 10*time.Millisecond, "degraded to polling")
	assert.True(t, sawTransient.Load())

	// Polling still surfaces new messages.
	_, err = msgLog.Append(context.Background(), AppendInput{RoomID: 1, UserID: 2, Type: models.MessageTypeText, Content: "while degraded"})
	require.NoError(t, err)
	assert.Eventually(t, func() bool {
		return len(h.View()) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestClient_TransportUnavailableAtOpenPolls(t *testing.T) {
	dir := &fakeDirectory{}
	msgLog := &fakeLog{}
	transport := &fakeTransport{failures: -1}
	client := newTestSessionClient(dir, msgLog, transport, Options{PollInterval: 20 * time.Millisecond})

	h, err := client.Open(context.Background(), "booking:1", models.RoomKindSession, 5, Callbacks{})
	require.NoError(t, err, "open succeeds in degraded mode")
	defer h.Close()

	_, err = msgLog.Append(context.Background(), AppendInput{RoomID: 1, UserID: 2, Type: models.MessageTypeText, Content: "polled"})
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		return len(h.View()) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestClient_LoadOlderPagesBackward(t *testing.T) {
	dir := &fakeDirectory{}
	msgLog := &fakeLog{}
	msgLog.seed(10)
	client := newTestSessionClient(dir, msgLog, &fakeTransport{}, Options{PageSize: 4})

	h, err := client.Open(context.Background(), "booking:1", models.RoomKindSession, 5, Callbacks{})
	require.NoError(t, err)
	defer h.Close()

	require.Len(t, h.View(), 4, "latest page only")

	added, err := h.LoadOlder(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, added)

	added, err = h.LoadOlder(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, added)

	view := h.View()
	require.Len(t, view, 10)
	for i := 1; i < len(view); i++ {
		prev, cur := view[i-1], view[i]
		ordered := prev.CreatedAt.Before(cur.CreatedAt) ||
			(prev.CreatedAt.Equal(cur.CreatedAt) && prev.ID < cur.ID)
		assert.True(t, ordered, "view stays sorted by (created_at, id)")
	}
}
