package service

import (
	"context"
	"strconv"
	"strings"
	"time"

	"studyroom/internal/models"
	"studyroom/internal/observability"
	"studyroom/internal/repository"
)

const maxMessageContentLen = 10000

// MessageService provides message log business logic.
type MessageService struct {
	messageRepo repository.MessageRepository
	roomRepo    repository.RoomRepository
	profileRepo repository.ProfileRepository
}

// SendMessageInput is the input for appending a message to a room's log.
type SendMessageInput struct {
	UserID       uint
	RoomID       uint
	Type         models.MessageType
	Content      string
	CodeLanguage string
	FileName     string
	FileSize     int64
	FileURL      string
	ReplyToID    *uint
}

// HistoryInput is the input for paging a room's message history.
type HistoryInput struct {
	UserID uint
	RoomID uint
	Before *repository.PageCursor
	Limit  int
}

// NewMessageService returns a new MessageService.
func NewMessageService(
	messageRepo repository.MessageRepository,
	roomRepo repository.RoomRepository,
	profileRepo repository.ProfileRepository,
) *MessageService {
	return &MessageService{
		messageRepo: messageRepo,
		roomRepo:    roomRepo,
		profileRepo: profileRepo,
	}
}

// Send validates and appends a message. The timestamp is assigned here, on
// the server clock in UTC, so ordering does not depend on client clocks.
func (s *MessageService) Send(ctx context.Context, in SendMessageInput) (*models.Message, error) {
	if in.Type == "" {
		in.Type = models.MessageTypeText
	}
	if len(in.Content) > maxMessageContentLen {
		return nil, models.NewValidationError("Message content too long (max 10000 characters)")
	}

	room, err := s.roomRepo.GetRoom(ctx, in.RoomID)
	if err != nil {
		return nil, wrapRepoError(err, "room", in.RoomID)
	}
	if !room.IsActive {
		return nil, models.NewConflictError("Room is no longer active")
	}
	ok, err := s.roomRepo.IsParticipant(ctx, in.RoomID, in.UserID)
	if err != nil {
		return nil, wrapRepoError(err, "room", in.RoomID)
	}
	if !ok {
		return nil, models.NewForbiddenError("Not a member of this room")
	}

	message := &models.Message{
		RoomID:       in.RoomID,
		SenderID:     in.UserID,
		Type:         in.Type,
		Content:      strings.TrimSpace(in.Content),
		CodeLanguage: in.CodeLanguage,
		FileName:     in.FileName,
		FileSize:     in.FileSize,
		FileURL:      in.FileURL,
		ReplyToID:    in.ReplyToID,
		CreatedAt:    time.Now().UTC(),
	}
	if err := message.Validate(); err != nil {
		return nil, err
	}
	if err := s.messageRepo.Append(ctx, message); err != nil {
		return nil, wrapRepoError(err, "message", in.RoomID)
	}
	observability.MessageThroughput.WithLabelValues(strconv.FormatUint(uint64(in.RoomID), 10), string(message.Type)).Inc()

	// Enrichment is best-effort; a missing profile falls back to the
	// placeholder rather than failing the send.
	if sender, err := s.profileRepo.Get(ctx, in.UserID); err == nil {
		message.Sender = sender
	} else {
		message.Sender = models.PlaceholderProfile(in.UserID)
	}

	return message, nil
}

// History returns a page of the room's log in chronological order. The
// returned cursor, when non-nil, fetches the adjacent older page.
func (s *MessageService) History(ctx context.Context, in HistoryInput) ([]*models.Message, *repository.PageCursor, error) {
	ok, err := s.roomRepo.IsParticipant(ctx, in.RoomID, in.UserID)
	if err != nil {
		return nil, nil, wrapRepoError(err, "room", in.RoomID)
	}
	if !ok {
		return nil, nil, models.NewForbiddenError("Not a member of this room")
	}

	messages, err := s.messageRepo.Page(ctx, in.RoomID, in.Before, in.Limit)
	if err != nil {
		return nil, nil, wrapRepoError(err, "message", in.RoomID)
	}
	for _, msg := range messages {
		if msg.Sender == nil {
			msg.Sender = models.PlaceholderProfile(msg.SenderID)
		}
	}

	var next *repository.PageCursor
	if len(messages) > 0 {
		oldest := messages[0]
		next = &repository.PageCursor{CreatedAt: oldest.CreatedAt, ID: oldest.ID}
	}
	return messages, next, nil
}

// MarkRead flags a message as read by its recipient.
func (s *MessageService) MarkRead(ctx context.Context, userID, msgID uint) error {
	msg, err := s.messageRepo.GetByID(ctx, msgID)
	if err != nil {
		return wrapRepoError(err, "message", msgID)
	}
	ok, err := s.roomRepo.IsParticipant(ctx, msg.RoomID, userID)
	if err != nil {
		return wrapRepoError(err, "room", msg.RoomID)
	}
	if !ok {
		return models.NewForbiddenError("Not a member of this room")
	}
	if msg.SenderID == userID {
		return models.NewValidationError("Cannot mark your own message as read")
	}
	return wrapRepoError(s.messageRepo.MarkRead(ctx, msgID), "message", msgID)
}

// Delete retracts a message. Only the sender may retract; the row is kept so
// the log stays append-only.
func (s *MessageService) Delete(ctx context.Context, userID, msgID uint) error {
	msg, err := s.messageRepo.GetByID(ctx, msgID)
	if err != nil {
		return wrapRepoError(err, "message", msgID)
	}
	if msg.SenderID != userID {
		return models.NewForbiddenError("Only the sender can delete a message")
	}
	return wrapRepoError(s.messageRepo.SoftDelete(ctx, msgID), "message", msgID)
}

// Edit replaces the content of the sender's own text or code message.
func (s *MessageService) Edit(ctx context.Context, userID, msgID uint, content string) error {
	content = strings.TrimSpace(content)
	if content == "" {
		return models.NewValidationError("Message content is required")
	}
	if len(content) > maxMessageContentLen {
		return models.NewValidationError("Message content too long (max 10000 characters)")
	}

	msg, err := s.messageRepo.GetByID(ctx, msgID)
	if err != nil {
		return wrapRepoError(err, "message", msgID)
	}
	if msg.SenderID != userID {
		return models.NewForbiddenError("Only the sender can edit a message")
	}
	if msg.Type != models.MessageTypeText && msg.Type != models.MessageTypeCode {
		return models.NewValidationError("Only text and code messages can be edited")
	}
	if msg.IsDeleted {
		return models.NewConflictError("Cannot edit a deleted message")
	}
	return wrapRepoError(s.messageRepo.Edit(ctx, msgID, content), "message", msgID)
}
