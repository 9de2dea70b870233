package ws

import (
	"encoding/json"
	"strings"

	"chatrelay/internal/store"

	"github.com/rs/zerolog/log"
)

const (
	typeIdentify    = "identify"
	typeJoinRoom    = "join_room"
	typeSendMessage = "send_message"
	typeLeaveRoom   = "leave_room"

	typeIdentified = "identified"
	typeJoined     = "joined"
	typeLeft       = "left"
	typeHistory    = "history"
	typeMessage    = "message"
	typeOccupancy  = "occupancy"
	typeError      = "error"
)

// inboundFrame 是客户端帧的线上形态，按 type 解码为具体事件。
type inboundFrame struct {
	Type      string `json:"type"`
	User      string `json:"user,omitempty"`
	RoomID    uint   `json:"room_id,omitempty"`
	RoomTitle string `json:"room_title,omitempty"`
	Body      string `json:"body,omitempty"`
}

// event 是会话可处理的入站事件的封闭集合。
type event interface{ isEvent() }

type identifyEvent struct{ user string }

type joinRoomEvent struct {
	roomID uint
	title  string
}

type sendMessageEvent struct {
	roomID uint
	body   string
}

type leaveRoomEvent struct{}

// disconnectEvent 不来自线上，由读循环结束时产生。
type disconnectEvent struct{}

func (identifyEvent) isEvent()    {}
func (joinRoomEvent) isEvent()    {}
func (sendMessageEvent) isEvent() {}
func (leaveRoomEvent) isEvent()   {}
func (disconnectEvent) isEvent()  {}

func decodeEvent(raw []byte) (event, error) {
	var f inboundFrame
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, invalid(ErrMalformedFrame)
	}
	switch f.Type {
	case typeIdentify:
		return identifyEvent{user: strings.TrimSpace(f.User)}, nil
	case typeJoinRoom:
		return joinRoomEvent{roomID: f.RoomID, title: strings.TrimSpace(f.RoomTitle)}, nil
	case typeSendMessage:
		return sendMessageEvent{roomID: f.RoomID, body: f.Body}, nil
	case typeLeaveRoom:
		return leaveRoomEvent{}, nil
	default:
		return nil, invalid(ErrUnknownFrame)
	}
}

type identifiedFrame struct {
	Type   string `json:"type"`
	UserID uint   `json:"user_id"`
	User   string `json:"user"`
}

type joinedFrame struct {
	Type   string `json:"type"`
	RoomID uint   `json:"room_id"`
	Title  string `json:"title"`
}

type leftFrame struct {
	Type   string `json:"type"`
	RoomID uint   `json:"room_id"`
	Reason string `json:"reason,omitempty"`
}

type historyFrame struct {
	Type     string              `json:"type"`
	RoomID   uint                `json:"room_id"`
	Messages []store.MessageView `json:"messages"`
}

type messageFrame struct {
	Type string `json:"type"`
	store.MessageView
}

// RoomOccupancy 是房间列表中的一项。
type RoomOccupancy struct {
	ID     uint   `json:"id"`
	Title  string `json:"title"`
	Online int    `json:"online"`
}

type occupancyFrame struct {
	Type      string          `json:"type"`
	Occupancy map[uint]int    `json:"occupancy"`
	Rooms     []RoomOccupancy `json:"rooms,omitempty"`
}

type errorFrame struct {
	Type   string `json:"type"`
	Code   string `json:"code"`
	Reason string `json:"reason"`
}

// encode 序列化出站帧；失败只记录日志并返回 nil。
func encode(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Msg("encode frame")
		return nil
	}
	return b
}
