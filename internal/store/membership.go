package store

import (
	"context"
	"fmt"

	"chatrelay/internal/models"

	"gorm.io/gorm/clause"
)

// UpsertMembership 记录用户加入过房间，重复调用只保留一行。
func (s *Store) UpsertMembership(ctx context.Context, userID, roomID uint) error {
	m := models.Membership{UserID: userID, RoomID: roomID}
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&m).Error; err != nil {
		return fmt.Errorf("upsert membership: %w", err)
	}
	return nil
}

func (s *Store) DeleteMembership(ctx context.Context, userID, roomID uint) error {
	err := s.db.WithContext(ctx).Where("user_id = ? AND room_id = ?", userID, roomID).Delete(&models.Membership{}).Error
	if err != nil {
		return fmt.Errorf("delete membership: %w", err)
	}
	return nil
}

// JoinedRooms 列出用户持久加入的房间。
func (s *Store) JoinedRooms(ctx context.Context, userID uint) ([]models.Room, error) {
	var rooms []models.Room
	err := s.db.WithContext(ctx).
		Joins("JOIN memberships ON memberships.room_id = rooms.id").
		Where("memberships.user_id = ?", userID).
		Order("rooms.id asc").
		Find(&rooms).Error
	if err != nil {
		return nil, fmt.Errorf("joined rooms: %w", err)
	}
	return rooms, nil
}

// JoinableRooms 列出用户尚未加入的房间。
func (s *Store) JoinableRooms(ctx context.Context, userID uint) ([]models.Room, error) {
	joined := s.db.Model(&models.Membership{}).Select("room_id").Where("user_id = ?", userID)
	var rooms []models.Room
	err := s.db.WithContext(ctx).Where("id NOT IN (?)", joined).Order("id asc").Find(&rooms).Error
	if err != nil {
		return nil, fmt.Errorf("joinable rooms: %w", err)
	}
	return rooms, nil
}
