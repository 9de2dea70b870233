// Package store 基于 gorm 持久化用户、房间、持久成员关系与消息。
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"chatrelay/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrUserNotFound = errors.New("user not found")
	ErrRoomNotFound = errors.New("room not found")
	ErrTitleTaken   = errors.New("room title taken")
)

type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// MessageView 是附带发送者名称的已落库消息。
type MessageView struct {
	ID        uint      `json:"id"`
	RoomID    uint      `json:"room_id"`
	UserID    uint      `json:"user_id"`
	Sender    string    `json:"sender"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

func NewMessageView(m models.Message, sender string) MessageView {
	return MessageView{
		ID:        m.ID,
		RoomID:    m.RoomID,
		UserID:    m.UserID,
		Sender:    sender,
		Body:      m.Body,
		CreatedAt: m.CreatedAt,
	}
}

// ResolveOrCreateUser 按名称查找用户，不存在时创建；同名并发调用得到同一行。
func (s *Store) ResolveOrCreateUser(ctx context.Context, name string) (*models.User, error) {
	u, err := s.FindUserByName(ctx, name)
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, ErrUserNotFound) {
		return nil, err
	}

	created := models.User{Name: name, Role: models.RoleUser}
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&created).Error; err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	if created.ID != 0 {
		return &created, nil
	}
	// 并发创建时被别人抢先插入，重新读取。
	return s.FindUserByName(ctx, name)
}

func (s *Store) FindUserByName(ctx context.Context, name string) (*models.User, error) {
	var u models.User
	if err := s.db.WithContext(ctx).Where("name = ?", name).First(&u).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("find user: %w", err)
	}
	return &u, nil
}

// SaveAdmin 创建管理员或把已有用户提升为管理员，并写入密码哈希。
func (s *Store) SaveAdmin(ctx context.Context, name, passwordHash string) error {
	u, err := s.ResolveOrCreateUser(ctx, name)
	if err != nil {
		return err
	}
	err = s.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", u.ID).
		Updates(map[string]any{"password_hash": passwordHash, "role": models.RoleAdmin}).Error
	if err != nil {
		return fmt.Errorf("save admin: %w", err)
	}
	return nil
}

func (s *Store) RoomExists(ctx context.Context, roomID uint) (bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.Room{}).Where("id = ?", roomID).Count(&count).Error; err != nil {
		return false, fmt.Errorf("room exists: %w", err)
	}
	return count > 0, nil
}

func (s *Store) RoomTitle(ctx context.Context, roomID uint) (string, error) {
	var room models.Room
	if err := s.db.WithContext(ctx).Select("id", "title").First(&room, roomID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", ErrRoomNotFound
		}
		return "", fmt.Errorf("room title: %w", err)
	}
	return room.Title, nil
}

func (s *Store) RoomIDByTitle(ctx context.Context, title string) (uint, error) {
	var room models.Room
	if err := s.db.WithContext(ctx).Select("id").Where("title = ?", title).First(&room).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, ErrRoomNotFound
		}
		return 0, fmt.Errorf("room by title: %w", err)
	}
	return room.ID, nil
}

func (s *Store) ListRooms(ctx context.Context) ([]models.Room, error) {
	var rooms []models.Room
	if err := s.db.WithContext(ctx).Order("id asc").Find(&rooms).Error; err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}
	return rooms, nil
}

func (s *Store) CreateRoom(ctx context.Context, title string) (*models.Room, error) {
	room := models.Room{Title: title}
	if err := s.db.WithContext(ctx).Create(&room).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrTitleTaken
		}
		return nil, fmt.Errorf("create room: %w", err)
	}
	return &room, nil
}

func (s *Store) RenameRoom(ctx context.Context, roomID uint, title string) error {
	res := s.db.WithContext(ctx).Model(&models.Room{}).Where("id = ?", roomID).Update("title", title)
	if err := res.Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrTitleTaken
		}
		return fmt.Errorf("rename room: %w", err)
	}
	if res.RowsAffected == 0 {
		return ErrRoomNotFound
	}
	return nil
}

// DeleteRoom 在一个事务里删除房间及其成员关系和消息。
func (s *Store) DeleteRoom(ctx context.Context, roomID uint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("room_id = ?", roomID).Delete(&models.Membership{}).Error; err != nil {
			return fmt.Errorf("delete memberships: %w", err)
		}
		if err := tx.Where("room_id = ?", roomID).Delete(&models.Message{}).Error; err != nil {
			return fmt.Errorf("delete messages: %w", err)
		}
		res := tx.Delete(&models.Room{}, roomID)
		if err := res.Error; err != nil {
			return fmt.Errorf("delete room: %w", err)
		}
		if res.RowsAffected == 0 {
			return ErrRoomNotFound
		}
		return nil
	})
}
