package session

import (
	"context"
	"sync"
	"time"

	"studyroom/internal/models"
)

const enrichTimeout = 2 * time.Second

// dedupWindow bounds how many delivered ids a subscription remembers. The
// transport is at-least-once; redeliveries land well within this window.
const dedupWindow = 4096

// Channel turns a raw Transport into enriched, deduplicated room
// subscriptions. It owns no reconnect policy; when the transport fails the
// subscription moves to Errored and stays there until the caller
// resubscribes.
type Channel struct {
	transport Transport
	profiles  Profiles
}

// NewChannel creates a Channel over the given transport. profiles may be nil,
// in which case messages without a sender get the placeholder directly.
func NewChannel(transport Transport, profiles Profiles) *Channel {
	return &Channel{transport: transport, profiles: profiles}
}

// Subscription is one live realtime subscription to a room.
type Subscription struct {
	ch     *Channel
	roomID uint
	cb     Callbacks

	mu        sync.Mutex
	state     ConnectionState
	inner     TransportSubscription
	seenIDs   map[string]struct{}
	seenOrder []string
}

// Subscribe opens a realtime subscription to the room. The returned
// subscription starts Connecting and moves to Subscribed once the transport
// accepts it; transport errors during setup return an Errored subscription
// alongside the error.
func (c *Channel) Subscribe(ctx context.Context, roomID uint, cb Callbacks) (*Subscription, error) {
	sub := &Subscription{
		ch:      c,
		roomID:  roomID,
		cb:      cb,
		state:   StateIdle,
		seenIDs: make(map[string]struct{}),
	}

	sub.setState(StateConnecting)
	inner, err := c.transport.Subscribe(ctx, roomID, sub.handleEvent, sub.fail)
	if err != nil {
		// Setup failure is reported through the return value; state
		// callbacks stay quiet so the caller decides how to recover.
		sub.mu.Lock()
		sub.state = StateErrored
		sub.mu.Unlock()
		return sub, models.NewTransientError("subscribe failed", err)
	}

	sub.mu.Lock()
	sub.inner = inner
	sub.mu.Unlock()
	sub.setState(StateSubscribed)
	return sub, nil
}

// State returns the subscription's current lifecycle state.
func (s *Subscription) State() ConnectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Unsubscribe tears the subscription down. Safe to call multiple times; only
// the first call closes the transport and emits the Closed state.
func (s *Subscription) Unsubscribe() {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	s.state = StateClosed
	inner := s.inner
	s.inner = nil
	cb := s.cb.OnState
	s.mu.Unlock()

	if inner != nil {
		_ = inner.Close()
	}
	if cb != nil {
		cb(StateClosed)
	}
}

// fail moves the subscription to Errored. Used by the transport layer when
// the underlying stream dies.
func (s *Subscription) fail(err error) {
	s.mu.Lock()
	if s.state == StateClosed || s.state == StateErrored {
		s.mu.Unlock()
		return
	}
	s.state = StateErrored
	stateCB := s.cb.OnState
	errCB := s.cb.OnError
	s.mu.Unlock()

	if stateCB != nil {
		stateCB(StateErrored)
	}
	if errCB != nil {
		errCB(models.NewTransientError("realtime stream lost", err))
	}
}

func (s *Subscription) setState(state ConnectionState) {
	s.mu.Lock()
	if s.state == state {
		s.mu.Unlock()
		return
	}
	s.state = state
	cb := s.cb.OnState
	s.mu.Unlock()

	if cb != nil {
		cb(state)
	}
}

// handleEvent is the single entry point for transport deliveries. Events on
// a closed subscription are dropped; duplicate deliveries are dropped by
// event id.
func (s *Subscription) handleEvent(event Event) {
	s.mu.Lock()
	if s.state != StateSubscribed {
		s.mu.Unlock()
		return
	}
	if event.EventID != "" {
		if _, seen := s.seenIDs[event.EventID]; seen {
			s.mu.Unlock()
			return
		}
		s.remember(event.EventID)
	}
	cb := s.cb
	s.mu.Unlock()

	switch event.Type {
	case EventMessage:
		if event.Message == nil {
			return
		}
		s.ch.enrich(event.Message)
		if cb.OnMessage != nil {
			cb.OnMessage(event.Message)
		}
	case EventPresence:
		if cb.OnPresence != nil {
			cb.OnPresence(event.UserID, event.Status)
		}
	case EventParticipant:
		if cb.OnParticipant != nil {
			cb.OnParticipant(event.UserID, event.Status)
		}
	}
}

// remember records a delivered event id, evicting the oldest beyond the
// window. Caller holds s.mu.
func (s *Subscription) remember(id string) {
	s.seenIDs[id] = struct{}{}
	s.seenOrder = append(s.seenOrder, id)
	if len(s.seenOrder) > dedupWindow {
		evict := s.seenOrder[0]
		s.seenOrder = s.seenOrder[1:]
		delete(s.seenIDs, evict)
	}
}

// enrich attaches the sender profile, falling back to the placeholder when
// the lookup fails or times out. Delivery never blocks on enrichment beyond
// the bounded timeout.
func (c *Channel) enrich(msg *models.Message) {
	if msg.Sender != nil {
		return
	}
	if c.profiles == nil {
		msg.Sender = models.PlaceholderProfile(msg.SenderID)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), enrichTimeout)
	defer cancel()

	sender, err := c.profiles.Get(ctx, msg.SenderID)
	if err != nil || sender == nil {
		msg.Sender = models.PlaceholderProfile(msg.SenderID)
		return
	}
	msg.Sender = sender
}
