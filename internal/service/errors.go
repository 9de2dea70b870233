package service

import "errors"

// 业务层通用错误，handler 可根据错误类型映射到合适的 HTTP 状态码。
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidName        = errors.New("invalid user name")
	ErrInvalidTitle       = errors.New("invalid room title")
	ErrRoomNotFound       = errors.New("room not found")
	ErrTitleTaken         = errors.New("room title taken")
)
