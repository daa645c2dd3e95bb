package repository

import (
	"context"
	"time"

	"studyroom/internal/models"
	"studyroom/internal/observability"

	"gorm.io/gorm"
)

// PageCursor identifies the position to page backward from. Both fields are
// taken from the oldest message of the previous page so that messages sharing
// a timestamp are neither skipped nor duplicated across pages.
type PageCursor struct {
	CreatedAt time.Time
	ID        uint
}

// DefaultPageLimit bounds history pages when the caller does not specify one.
const DefaultPageLimit = 50

// MessageRepository defines the interface for message log data operations.
type MessageRepository interface {
	Append(ctx context.Context, msg *models.Message) error
	GetByID(ctx context.Context, id uint) (*models.Message, error)
	Page(ctx context.Context, roomID uint, before *PageCursor, limit int) ([]*models.Message, error)
	MarkRead(ctx context.Context, msgID uint) error
	SoftDelete(ctx context.Context, msgID uint) error
	Edit(ctx context.Context, msgID uint, content string) error
}

type messageRepository struct {
	db  *gorm.DB
	log *observability.RepoLogger
}

// NewMessageRepository creates a new message repository.
func NewMessageRepository(db *gorm.DB) MessageRepository {
	return &messageRepository{
		db:  db,
		log: observability.NewRepoLogger("messages"),
	}
}

func (r *messageRepository) Append(ctx context.Context, msg *models.Message) error {
	if err := r.db.WithContext(ctx).Create(msg).Error; err != nil {
		r.log.LogError(ctx, err, "append")
		return err
	}
	r.log.LogCreate(ctx, map[string]interface{}{
		"message_id": msg.ID,
		"room_id":    msg.RoomID,
		"type":       msg.Type,
	})
	return nil
}

func (r *messageRepository) GetByID(ctx context.Context, id uint) (*models.Message, error) {
	var msg models.Message
	err := r.db.WithContext(ctx).Preload("Sender").First(&msg, id).Error
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

// Page returns up to limit messages older than the cursor, oldest-first.
// Rows are fetched newest-first so the latest page is cheap, then reversed
// for display order.
func (r *messageRepository) Page(ctx context.Context, roomID uint, before *PageCursor, limit int) ([]*models.Message, error) {
	if limit <= 0 || limit > DefaultPageLimit {
		limit = DefaultPageLimit
	}

	q := r.db.WithContext(ctx).
		Where("room_id = ?", roomID).
		Preload("Sender").
		Order("created_at DESC, id DESC").
		Limit(limit)

	if before != nil {
		q = q.Where("(created_at < ?) OR (created_at = ? AND id < ?)",
			before.CreatedAt, before.CreatedAt, before.ID)
	}

	var messages []*models.Message
	if err := q.Find(&messages).Error; err != nil {
		return nil, err
	}

	// Reverse to chronological order (oldest -> newest) for the caller.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}

	return messages, nil
}

func (r *messageRepository) MarkRead(ctx context.Context, msgID uint) error {
	now := time.Now().UTC()
	return r.db.WithContext(ctx).Model(&models.Message{}).
		Where("id = ?", msgID).
		Updates(map[string]interface{}{"is_read": true, "read_at": now}).Error
}

// SoftDelete retracts a message without removing the row; the log stays
// append-only and ordering is unaffected.
func (r *messageRepository) SoftDelete(ctx context.Context, msgID uint) error {
	res := r.db.WithContext(ctx).Model(&models.Message{}).
		Where("id = ?", msgID).
		Update("is_deleted", true)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// Edit replaces the content and flags the message as edited. The row keeps
// its original position in the log.
func (r *messageRepository) Edit(ctx context.Context, msgID uint, content string) error {
	res := r.db.WithContext(ctx).Model(&models.Message{}).
		Where("id = ?", msgID).
		Updates(map[string]interface{}{"content": content, "is_edited": true})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
