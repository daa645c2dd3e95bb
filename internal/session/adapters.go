package session

import (
	"context"

	"studyroom/internal/models"
	"studyroom/internal/repository"
	"studyroom/internal/service"
)

// ServiceDirectory adapts the room service to the Directory interface, for
// session clients embedded in the same process as the chat server.
type ServiceDirectory struct {
	Rooms *service.RoomService
}

func (d ServiceDirectory) Resolve(ctx context.Context, logicalKey string, kind models.RoomKind, userID uint) (*models.Room, error) {
	resolved, err := d.Rooms.Resolve(ctx, service.ResolveRoomInput{
		UserID:     userID,
		LogicalKey: logicalKey,
		Kind:       kind,
	})
	if err != nil {
		return nil, err
	}
	return resolved.Room, nil
}

func (d ServiceDirectory) Join(ctx context.Context, roomID, userID uint) error {
	_, err := d.Rooms.Join(ctx, roomID, userID)
	return err
}

// ServiceLog adapts the message service to the Log interface.
type ServiceLog struct {
	Messages *service.MessageService
}

func (l ServiceLog) Page(ctx context.Context, roomID, userID uint, before *repository.PageCursor, limit int) ([]*models.Message, error) {
	page, _, err := l.Messages.History(ctx, service.HistoryInput{
		UserID: userID,
		RoomID: roomID,
		Before: before,
		Limit:  limit,
	})
	return page, err
}

func (l ServiceLog) Append(ctx context.Context, in AppendInput) (*models.Message, error) {
	return l.Messages.Send(ctx, service.SendMessageInput{
		UserID:       in.UserID,
		RoomID:       in.RoomID,
		Type:         in.Type,
		Content:      in.Content,
		CodeLanguage: in.CodeLanguage,
		FileName:     in.FileName,
		FileSize:     in.FileSize,
		FileURL:      in.FileURL,
	})
}

var (
	_ Directory = ServiceDirectory{}
	_ Log       = ServiceLog{}
)
