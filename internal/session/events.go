// Package session implements the client-side chat session layer: it resolves
// a room, loads recent history, subscribes to the realtime stream, and keeps
// a deduplicated, ordered view of the conversation for its consumer.
package session

import (
	"context"

	"studyroom/internal/models"
	"studyroom/internal/repository"
)

// ConnectionState is the lifecycle of a realtime subscription.
type ConnectionState int

const (
	StateIdle ConnectionState = iota
	StateConnecting
	StateSubscribed
	StateClosed
	StateErrored
)

func (s ConnectionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateSubscribed:
		return "subscribed"
	case StateClosed:
		return "closed"
	case StateErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// EventType discriminates realtime events.
type EventType string

const (
	EventMessage     EventType = "message"
	EventPresence    EventType = "presence"
	EventParticipant EventType = "participant"
	EventCall        EventType = "call"
)

// Event is a single realtime occurrence in a room. Message events carry the
// authoritative message row; presence and participant events carry only the
// affected user.
type Event struct {
	Type    EventType
	EventID string
	RoomID  uint
	UserID  uint
	Status  string
	Message *models.Message
}

// Callbacks are invoked by the session layer as the room changes. All
// callbacks fire from a single goroutine per subscription, so consumers need
// no locking of their own. A nil callback is skipped.
type Callbacks struct {
	OnMessage     func(*models.Message)
	OnPresence    func(userID uint, status string)
	OnParticipant func(userID uint, action string)
	OnState       func(ConnectionState)
	OnError       func(error)
}

// Directory resolves and joins rooms. Satisfied by service.RoomService.
type Directory interface {
	Resolve(ctx context.Context, logicalKey string, kind models.RoomKind, userID uint) (*models.Room, error)
	Join(ctx context.Context, roomID, userID uint) error
}

// Log reads and appends room messages. Satisfied by service.MessageService
// through a thin adapter.
type Log interface {
	Page(ctx context.Context, roomID, userID uint, before *repository.PageCursor, limit int) ([]*models.Message, error)
	Append(ctx context.Context, in AppendInput) (*models.Message, error)
}

// AppendInput is the log-append request issued for an outgoing message.
type AppendInput struct {
	RoomID       uint
	UserID       uint
	Type         models.MessageType
	Content      string
	CodeLanguage string
	FileName     string
	FileSize     int64
	FileURL      string
}

// Profiles looks up sender profiles for enrichment.
type Profiles interface {
	Get(ctx context.Context, userID uint) (*models.UserProfile, error)
}

// Transport delivers a room's realtime events. Implementations must call
// onEvent from a single goroutine and keep calling it until Close. onDown is
// invoked at most once when the stream dies for any reason other than Close.
type Transport interface {
	Subscribe(ctx context.Context, roomID uint, onEvent func(Event), onDown func(error)) (TransportSubscription, error)
}

// TransportSubscription is a live transport-level subscription.
type TransportSubscription interface {
	Close() error
}
