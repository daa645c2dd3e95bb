package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"studyroom/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSub struct {
	onEvent func(Event)
	onDown  func(error)

	mu     sync.Mutex
	closed bool
}

func (s *fakeSub) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *fakeSub) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

type fakeTransport struct {
	mu   sync.Mutex
	subs []*fakeSub
	// failures makes the next N subscribe calls fail; -1 fails forever.
	failures int
}

func (t *fakeTransport) Subscribe(_ context.Context, _ uint, onEvent func(Event), onDown func(error)) (TransportSubscription, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.failures != 0 {
		if t.failures > 0 {
			t.failures--
		}
		return nil, errors.New("transport down")
	}
	sub := &fakeSub{onEvent: onEvent, onDown: onDown}
	t.subs = append(t.subs, sub)
	return sub, nil
}

func (t *fakeTransport) emit(event Event) {
	t.mu.Lock()
	subs := append([]*fakeSub(nil), t.subs...)
	t.mu.Unlock()
	for _, sub := range subs {
		if !sub.isClosed() {
			sub.onEvent(event)
		}
	}
}

func (t *fakeTransport) dropAll(err error) {
	t.mu.Lock()
	subs := append([]*fakeSub(nil), t.subs...)
	t.subs = nil
	t.mu.Unlock()
	for _, sub := range subs {
		if sub.onDown != nil {
			sub.onDown(err)
		}
	}
}

func (t *fakeTransport) subscribeCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.subs)
}

type fakeProfiles struct {
	mu       sync.Mutex
	profiles map[uint]*models.UserProfile
	err      error
}

func (p *fakeProfiles) Get(_ context.Context, userID uint) (*models.UserProfile, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	if profile, ok := p.profiles[userID]; ok {
		return profile, nil
	}
	return nil, errors.New("no such profile")
}

func TestChannel_SubscribeStateTransitions(t *testing.T) {
	transport := &fakeTransport{}
	ch := NewChannel(transport, nil)

	var states []ConnectionState
	var mu sync.Mutex
	sub, err := ch.Subscribe(context.Background(), 1, Callbacks{
		OnState: func(s ConnectionState) {
			mu.Lock()
			states = append(states, s)
			mu.Unlock()
		},
	})
	require.NoError(t, err)
	assert.Equal(t, StateSubscribed, sub.State())

	mu.Lock()
	assert.Equal(t, []ConnectionState{StateConnecting, StateSubscribed}, states)
	mu.Unlock()
}

func TestChannel_SubscribeFailureIsRetryable(t *testing.T) {
	transport := &fakeTransport{failures: 1}
	ch := NewChannel(transport, nil)

	sub, err := ch.Subscribe(context.Background(), 1, Callbacks{})
	require.Error(t, err)
	assert.True(t, models.IsRetryable(err))
	assert.Equal(t, StateErrored, sub.State())
}

func TestChannel_UnsubscribeIdempotent(t *testing.T) {
	transport := &fakeTransport{}
	ch := NewChannel(transport, nil)

	var closedStates int
	var mu sync.Mutex
	sub, err := ch.Subscribe(context.Background(), 1, Callbacks{
		OnState: func(s ConnectionState) {
			if s == StateClosed {
				mu.Lock()
				closedStates++
				mu.Unlock()
			}
		},
	})
	require.NoError(t, err)

	sub.Unsubscribe()
	sub.Unsubscribe()
	sub.Unsubscribe()

	assert.Equal(t, StateClosed, sub.State())
	mu.Lock()
	assert.Equal(t, 1, closedStates, "Closed emitted exactly once")
	mu.Unlock()
	assert.True(t, transport.subs[0].isClosed())
}

func TestChannel_EventsAfterUnsubscribeDropped(t *testing.T) {
	transport := &fakeTransport{}
	ch := NewChannel(transport, nil)

	var delivered int
	var mu sync.Mutex
	sub, err := ch.Subscribe(context.Background(), 1, Callbacks{
		OnMessage: func(*models.Message) {
			mu.Lock()
			delivered++
			mu.Unlock()
		},
	})
	require.NoError(t, err)

	sub.Unsubscribe()
	// Simulate a frame already in flight when the close landed.
	sub.handleEvent(Event{Type: EventMessage, Message: &models.Message{ID: 1}})

	mu.Lock()
	assert.Zero(t, delivered)
	mu.Unlock()
}

func TestChannel_DuplicateEventIDsDropped(t *testing.T) {
	transport := &fakeTransport{}
	ch := NewChannel(transport, nil)

	var delivered int
	var mu sync.Mutex
	_, err := ch.Subscribe(context.Background(), 1, Callbacks{
		OnMessage: func(*models.Message) {
			mu.Lock()
			delivered++
			mu.Unlock()
		},
	})
	require.NoError(t, err)

	event := Event{Type: EventMessage, EventID: "evt-1", Message: &models.Message{ID: 1}}
	transport.emit(event)
	transport.emit(event)
	transport.emit(event)

	mu.Lock()
	assert.Equal(t, 1, delivered)
	mu.Unlock()
}

func TestChannel_EnrichmentFallsBackToPlaceholder(t *testing.T) {
	transport := &fakeTransport{}
	profiles := &fakeProfiles{profiles: map[uint]*models.UserProfile{
		7: {ID: 7, DisplayName: "Tutor Tina"},
	}}
	ch := NewChannel(transport, profiles)

	var got []*models.Message
	var mu sync.Mutex
	_, err := ch.Subscribe(context.Background(), 1, Callbacks{
		OnMessage: func(m *models.Message) {
			mu.Lock()
			got = append(got, m)
			mu.Unlock()
		},
	})
	require.NoError(t, err)

	transport.emit(Event{Type: EventMessage, EventID: "a", Message: &models.Message{ID: 1, SenderID: 7}})
	transport.emit(Event{Type: EventMessage, EventID: "b", Message: &models.Message{ID: 2, SenderID: 99}})

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 2)
	assert.Equal(t, "Tutor Tina", got[0].Sender.DisplayName)
	assert.Equal(t, "Unknown user", got[1].Sender.DisplayName, "missing profile becomes placeholder")
	assert.Equal(t, uint(99), got[1].Sender.ID)
}

func TestChannel_StreamLossMovesToErrored(t *testing.T) {
	transport := &fakeTransport{}
	ch := NewChannel(transport, nil)

	var lastErr error
	var mu sync.Mutex
	sub, err := ch.Subscribe(context.Background(), 1, Callbacks{
		OnError: func(e error) {
			mu.Lock()
			lastErr = e
			mu.Unlock()
		},
	})
	require.NoError(t, err)

	transport.dropAll(errors.New("connection reset"))

	assert.Eventually(t, func() bool {
		return sub.State() == StateErrored
	}, time.Second, 10*time.Millisecond)
	mu.Lock()
	assert.True(t, models.IsRetryable(lastErr))
	mu.Unlock()
}
