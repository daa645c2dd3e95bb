package models

import (
	"time"

	"gorm.io/gorm"
)

// MessageType is the closed set of message variants. Each variant has its own
// required fields, validated in Validate rather than left optional.
type MessageType string

const (
	MessageTypeText     MessageType = "text"
	MessageTypeCode     MessageType = "code"
	MessageTypeImage    MessageType = "image"
	MessageTypeVideo    MessageType = "video"
	MessageTypeDocument MessageType = "document"
	MessageTypeSystem   MessageType = "system"
)

// Valid reports whether the type is a known message variant.
func (t MessageType) Valid() bool {
	switch t {
	case MessageTypeText, MessageTypeCode, MessageTypeImage,
		MessageTypeVideo, MessageTypeDocument, MessageTypeSystem:
		return true
	}
	return false
}

// IsFileBacked reports whether the variant carries a file reference.
func (t MessageType) IsFileBacked() bool {
	switch t {
	case MessageTypeImage, MessageTypeVideo, MessageTypeDocument:
		return true
	}
	return false
}

// Message is one entry in a room's append-only log. Rows are never physically
// deleted and content is never rewritten; retraction sets IsDeleted and edits
// set IsEdited alongside the new content. Ordering is (created_at, id).
type Message struct {
	ID       uint        `gorm:"primaryKey" json:"id"`
	RoomID   uint        `gorm:"not null;index:idx_messages_room_created,priority:1" json:"room_id"`
	SenderID uint        `gorm:"index" json:"sender_id"`
	Type     MessageType `gorm:"type:varchar(16);not null;default:'text'" json:"type"`
	Content  string      `gorm:"type:text" json:"content"`

	// Variant fields. CodeLanguage is required for code messages; the file
	// triple is required for image/video/document messages. Only the URL and
	// metadata are stored, never file bytes.
	CodeLanguage string `json:"code_language,omitempty"`
	FileName     string `json:"file_name,omitempty"`
	FileSize     int64  `json:"file_size,omitempty"`
	FileURL      string `json:"file_url,omitempty"`

	ReplyToID *uint `gorm:"index" json:"reply_to_id,omitempty"`

	IsDeleted bool       `gorm:"not null;default:false" json:"is_deleted"`
	IsEdited  bool       `gorm:"not null;default:false" json:"is_edited"`
	IsRead    bool       `gorm:"not null;default:false" json:"is_read"`
	ReadAt    *time.Time `json:"read_at,omitempty"`

	CreatedAt time.Time      `gorm:"index:idx_messages_room_created,priority:2" json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	Sender *UserProfile `gorm:"foreignKey:SenderID;references:ID" json:"sender,omitempty"`
}

// Validate checks the per-variant required fields before a message is appended.
func (m *Message) Validate() error {
	if !m.Type.Valid() {
		return NewValidationError("Unknown message type")
	}
	if m.SenderID == 0 && m.Type != MessageTypeSystem {
		return NewValidationError("Message sender is required")
	}

	switch m.Type {
	case MessageTypeText, MessageTypeSystem:
		if m.Content == "" {
			return NewValidationError("Message content cannot be empty")
		}
	case MessageTypeCode:
		if m.Content == "" {
			return NewValidationError("Code message content cannot be empty")
		}
		if m.CodeLanguage == "" {
			return NewValidationError("Code messages require a language tag")
		}
	case MessageTypeImage, MessageTypeVideo, MessageTypeDocument:
		if m.FileURL == "" {
			return NewValidationError("File messages require a file URL")
		}
		if m.FileName == "" {
			return NewValidationError("File messages require a file name")
		}
	}
	return nil
}
