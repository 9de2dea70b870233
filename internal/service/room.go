package service

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"chatrelay/internal/models"
	"chatrelay/internal/store"

	"github.com/rs/zerolog/log"
)

// Presence 是实时层对 REST 暴露的能力：在线人数与房间变更通知。
type Presence interface {
	Online(roomID uint) int
	NotifyRoomChanged(roomID uint)
}

// RoomService 封装房间相关的业务逻辑。
type RoomService struct {
	st       *store.Store
	presence Presence
}

func NewRoomService(st *store.Store, presence Presence) *RoomService {
	return &RoomService{st: st, presence: presence}
}

// RoomDTO 是对外输出的房间数据。
type RoomDTO struct {
	ID     uint   `json:"id"`
	Title  string `json:"title"`
	Online int    `json:"online"`
}

func (s *RoomService) toDTOs(rooms []models.Room) []RoomDTO {
	out := make([]RoomDTO, 0, len(rooms))
	for _, r := range rooms {
		out = append(out, RoomDTO{ID: r.ID, Title: r.Title, Online: s.presence.Online(r.ID)})
	}
	return out
}

// List 返回房间列表，附带各房间的在线人数。
func (s *RoomService) List(ctx context.Context) ([]RoomDTO, error) {
	rooms, err := s.st.ListRooms(ctx)
	if err != nil {
		return nil, err
	}
	return s.toDTOs(rooms), nil
}

func normalizeTitle(title string) (string, error) {
	title = strings.TrimSpace(title)
	if title == "" || utf8.RuneCountInString(title) > 128 {
		return "", ErrInvalidTitle
	}
	return title, nil
}

// Create 创建房间并通知在线连接刷新房间列表。
func (s *RoomService) Create(ctx context.Context, title string) (*RoomDTO, error) {
	title, err := normalizeTitle(title)
	if err != nil {
		return nil, err
	}
	room, err := s.st.CreateRoom(ctx, title)
	if err != nil {
		if errors.Is(err, store.ErrTitleTaken) {
			return nil, ErrTitleTaken
		}
		return nil, err
	}
	log.Info().Uint("room_id", room.ID).Str("title", room.Title).Msg("room created")
	s.presence.NotifyRoomChanged(room.ID)
	return &RoomDTO{ID: room.ID, Title: room.Title}, nil
}

func (s *RoomService) Rename(ctx context.Context, roomID uint, title string) (*RoomDTO, error) {
	title, err := normalizeTitle(title)
	if err != nil {
		return nil, err
	}
	if err := s.st.RenameRoom(ctx, roomID, title); err != nil {
		return nil, mapRoomErr(err)
	}
	log.Info().Uint("room_id", roomID).Str("title", title).Msg("room renamed")
	s.presence.NotifyRoomChanged(roomID)
	return &RoomDTO{ID: roomID, Title: title, Online: s.presence.Online(roomID)}, nil
}

// Delete 删除房间及其消息，房间内的在线连接会被移出。
func (s *RoomService) Delete(ctx context.Context, roomID uint) error {
	if err := s.st.DeleteRoom(ctx, roomID); err != nil {
		return mapRoomErr(err)
	}
	log.Info().Uint("room_id", roomID).Msg("room deleted")
	s.presence.NotifyRoomChanged(roomID)
	return nil
}

// Joined 返回用户显式加入过的房间。
func (s *RoomService) Joined(ctx context.Context, userID uint) ([]RoomDTO, error) {
	rooms, err := s.st.JoinedRooms(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.toDTOs(rooms), nil
}

// Join 通过 REST 持久加入房间，不建立实时连接。
func (s *RoomService) Join(ctx context.Context, userID, roomID uint) (*RoomDTO, error) {
	title, err := s.st.RoomTitle(ctx, roomID)
	if err != nil {
		return nil, mapRoomErr(err)
	}
	if err := s.st.UpsertMembership(ctx, userID, roomID); err != nil {
		return nil, err
	}
	log.Info().Uint("user_id", userID).Uint("room_id", roomID).Msg("room joined")
	s.presence.NotifyRoomChanged(roomID)
	return &RoomDTO{ID: roomID, Title: title, Online: s.presence.Online(roomID)}, nil
}

// Joinable 返回用户尚未加入的房间。
func (s *RoomService) Joinable(ctx context.Context, userID uint) ([]RoomDTO, error) {
	rooms, err := s.st.JoinableRooms(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.toDTOs(rooms), nil
}

func mapRoomErr(err error) error {
	switch {
	case errors.Is(err, store.ErrRoomNotFound):
		return ErrRoomNotFound
	case errors.Is(err, store.ErrTitleTaken):
		return ErrTitleTaken
	default:
		return err
	}
}
