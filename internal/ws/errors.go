package ws

import (
	"errors"

	"chatrelay/internal/metrics"
)

var (
	ErrUnidentified      = errors.New("connection is not identified")
	ErrAlreadyIdentified = errors.New("connection is already identified")
	ErrInvalidName       = errors.New("user name must be 1-64 characters")
	ErrReservedName      = errors.New("user name is reserved, sign in with a token")
	ErrUnknownRoom       = errors.New("room does not exist")
	ErrNotInRoom         = errors.New("connection is not in a room")
	ErrWrongRoom         = errors.New("message addressed to a room the connection is not in")
	ErrEmptyBody         = errors.New("message body is empty")
	ErrBodyTooLong       = errors.New("message body is too long")
	ErrRateLimited       = errors.New("rate limited")
	ErrMalformedFrame    = errors.New("malformed frame")
	ErrUnknownFrame      = errors.New("unknown frame type")
	ErrConnClosed        = errors.New("connection closed")
	errSendQueueFull     = errors.New("send queue full")
	errStorageQueueFull  = errors.New("storage queue full")
)

const (
	codeValidation = "validation"
	codeStorage    = "storage"
)

// ValidationError 拒绝一帧且不改变状态，只通知发送方。
type ValidationError struct {
	Err error
}

func (e *ValidationError) Error() string { return e.Err.Error() }
func (e *ValidationError) Unwrap() error { return e.Err }

func invalid(err error) error { return &ValidationError{Err: err} }

// StorageError 表示持久化失败，对应操作不会产生任何广播。
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string { return e.Op + ": " + e.Err.Error() }
func (e *StorageError) Unwrap() error { return e.Err }

func storageErr(op string, err error) error {
	metrics.StorageErrors.WithLabelValues(op).Inc()
	return &StorageError{Op: op, Err: err}
}

// errorCode 返回错误帧中的 code。
func errorCode(err error) string {
	var se *StorageError
	if errors.As(err, &se) {
		return codeStorage
	}
	return codeValidation
}

// errorReason 是返回给客户端的原因文本，存储错误不暴露底层细节。
func errorReason(err error) string {
	var se *StorageError
	if errors.As(err, &se) {
		if errors.Is(se.Err, errStorageQueueFull) {
			return se.Op + ": " + errStorageQueueFull.Error()
		}
		return se.Op + " failed"
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Err.Error()
	}
	return err.Error()
}
