package service

import (
	"context"

	"chatrelay/internal/store"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

// MessageService 封装消息查询。
type MessageService struct {
	st *store.Store
}

func NewMessageService(st *store.Store) *MessageService {
	return &MessageService{st: st}
}

// ListByRoom 分页查询指定房间的消息，按存储顺序升序返回。
func (s *MessageService) ListByRoom(ctx context.Context, roomID uint, limit int, beforeID uint) ([]store.MessageView, error) {
	if limit <= 0 || limit > maxPageSize {
		limit = defaultPageSize
	}
	ok, err := s.st.RoomExists(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrRoomNotFound
	}
	return s.st.ListMessages(ctx, roomID, limit, beforeID)
}
