package models

import "time"

// User 是聊天用户。普通用户在首次出现时创建，只有管理员带密码。
type User struct {
	ID           uint   `gorm:"primaryKey"`
	Name         string `gorm:"uniqueIndex;size:64;not null"`
	PasswordHash string
	Role         string `gorm:"size:16;not null;default:user"`
	CreatedAt    time.Time
}

const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

type Room struct {
	ID        uint   `gorm:"primaryKey"`
	Title     string `gorm:"uniqueIndex;size:128;not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Membership 记录用户显式加入过的房间，与是否在线无关。
type Membership struct {
	UserID    uint `gorm:"primaryKey;autoIncrement:false"`
	RoomID    uint `gorm:"primaryKey;autoIncrement:false;index"`
	CreatedAt time.Time
}

type Message struct {
	ID        uint      `gorm:"primaryKey"`
	RoomID    uint      `gorm:"index:idx_msg_room_created,priority:1;not null"`
	UserID    uint      `gorm:"index;not null"`
	Body      string    `gorm:"type:text;not null"`
	CreatedAt time.Time `gorm:"index:idx_msg_room_created,priority:2"`
}
