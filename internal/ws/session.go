package ws

import (
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"chatrelay/internal/metrics"
	"chatrelay/internal/models"
	"chatrelay/internal/store"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

type sessionState int

const (
	stateUnidentified sessionState = iota
	stateIdentified
	stateInRoom
	stateClosed
)

func (s sessionState) String() string {
	switch s {
	case stateUnidentified:
		return "unidentified"
	case stateIdentified:
		return "identified"
	case stateInRoom:
		return "in_room"
	default:
		return "closed"
	}
}

const maxNameLen = 64

// stateOf 由连接的身份与注册表推导会话状态，不单独存储。
func (h *Hub) stateOf(c *Conn) sessionState {
	switch {
	case !c.Alive():
		return stateClosed
	case !c.identified():
		return stateUnidentified
	case h.reg.RoomOf(c) != 0:
		return stateInRoom
	default:
		return stateIdentified
	}
}

// dispatch 处理一个入站事件，同一连接的事件按顺序调用。
func (h *Hub) dispatch(c *Conn, ev event) {
	var err error
	switch e := ev.(type) {
	case identifyEvent:
		err = h.identify(c, e)
	case joinRoomEvent:
		err = h.joinRoom(c, e)
	case sendMessageEvent:
		err = h.sendMessage(c, e)
	case leaveRoomEvent:
		err = h.leaveRoom(c)
	case disconnectEvent:
		h.disconnect(c)
	}
	if err != nil && !errors.Is(err, ErrConnClosed) {
		h.reject(c, err)
	}
}

// reject 只通知发起方，不改变任何状态。
func (h *Hub) reject(c *Conn, err error) {
	code := errorCode(err)
	metrics.WsRejectedFrames.WithLabelValues(code).Inc()
	if code == codeStorage {
		log.Warn().Err(err).Str("conn_id", c.id).Msg("storage error")
	} else {
		log.Debug().Err(err).Str("conn_id", c.id).Msg("frame rejected")
	}
	h.bc.SendTo(c, encode(errorFrame{Type: typeError, Code: code, Reason: errorReason(err)}))
}

func (h *Hub) identify(c *Conn, e identifyEvent) error {
	switch h.stateOf(c) {
	case stateClosed:
		return ErrConnClosed
	case stateUnidentified:
	default:
		return invalid(ErrAlreadyIdentified)
	}
	if e.user == "" || utf8.RuneCountInString(e.user) > maxNameLen {
		return invalid(ErrInvalidName)
	}
	for _, r := range h.opts.ReservedNames {
		if strings.EqualFold(r, e.user) {
			return invalid(ErrReservedName)
		}
	}

	ctx, cancel := h.storeCtx()
	defer cancel()
	u, err := h.st.ResolveOrCreateUser(ctx, e.user)
	if err != nil {
		return storageErr("resolve_user", err)
	}
	c.bind(u.ID, u.Name)
	h.bc.SendTo(c, encode(identifiedFrame{Type: typeIdentified, UserID: u.ID, User: u.Name}))
	log.Info().Str("conn_id", c.id).Uint("user_id", u.ID).Str("user", u.Name).Msg("identified")
	return nil
}

// resolveRoom 按 id 或标题定位房间，返回 id 与标题。
func (h *Hub) resolveRoom(e joinRoomEvent) (uint, string, error) {
	ctx, cancel := h.storeCtx()
	defer cancel()

	roomID := e.roomID
	if roomID == 0 && e.title != "" {
		id, err := h.st.RoomIDByTitle(ctx, e.title)
		if errors.Is(err, store.ErrRoomNotFound) {
			return 0, "", invalid(ErrUnknownRoom)
		}
		if err != nil {
			return 0, "", storageErr("room_by_title", err)
		}
		roomID = id
	}
	if roomID == 0 {
		return 0, "", invalid(ErrUnknownRoom)
	}
	title, err := h.st.RoomTitle(ctx, roomID)
	if errors.Is(err, store.ErrRoomNotFound) {
		return 0, "", invalid(ErrUnknownRoom)
	}
	if err != nil {
		return 0, "", storageErr("room_title", err)
	}
	return roomID, title, nil
}

// roomAlive 在持有序列器时确认房间未被删除。
func (h *Hub) roomAlive(roomID uint) error {
	ctx, cancel := h.storeCtx()
	defer cancel()
	ok, err := h.st.RoomExists(ctx, roomID)
	if err != nil {
		return storageErr("room_exists", err)
	}
	if !ok {
		return invalid(ErrUnknownRoom)
	}
	return nil
}

// joinRoom 切换到目标房间并下发历史。加入与历史读取都在房间序列器内完成，
// 并发落库的消息要么在历史里，要么随后实时送达，二者只取其一。
func (h *Hub) joinRoom(c *Conn, e joinRoomEvent) error {
	switch h.stateOf(c) {
	case stateClosed:
		return ErrConnClosed
	case stateUnidentified:
		return invalid(ErrUnidentified)
	}
	roomID, title, err := h.resolveRoom(e)
	if err != nil {
		return err
	}

	seq := h.sequencer(roomID)
	seq.mu.Lock()
	// 删除房间的驱逐同样持有序列器，持锁后再确认一次房间仍在。
	if err := h.roomAlive(roomID); err != nil {
		if errors.Is(err, ErrUnknownRoom) {
			h.releaseSequencer(roomID, seq)
		}
		seq.mu.Unlock()
		return err
	}
	prev, changed, err := h.reg.Join(c, roomID)
	if err != nil {
		seq.mu.Unlock()
		if errors.Is(err, ErrConnClosed) {
			return err
		}
		return invalid(err)
	}
	if changed && prev != 0 {
		h.bc.SendTo(c, encode(leftFrame{Type: typeLeft, RoomID: prev}))
	}
	h.bc.SendTo(c, encode(joinedFrame{Type: typeJoined, RoomID: roomID, Title: title}))

	ctx, cancel := h.storeCtx()
	history, herr := h.st.ListMessages(ctx, roomID, h.opts.HistoryLimit, 0)
	cancel()
	if herr == nil {
		if history == nil {
			history = []store.MessageView{}
		}
		h.bc.SendTo(c, encode(historyFrame{Type: typeHistory, RoomID: roomID, Messages: history}))
	}
	seq.mu.Unlock()

	uid, name := c.User()
	if herr != nil {
		h.reject(c, storageErr("list_messages", herr))
	}
	if err := h.members.enqueue(membershipOp{conn: c, userID: uid, roomID: roomID}); err != nil {
		h.reject(c, storageErr("upsert_membership", err))
	}
	if changed {
		log.Info().Str("conn_id", c.id).Str("user", name).Uint("room_id", roomID).Uint("prev_room_id", prev).Msg("joined room")
		h.broadcastOccupancy()
	}
	return nil
}

// sendMessage 落库成功后才广播；落库期间连接断开，消息仍然写入。
func (h *Hub) sendMessage(c *Conn, e sendMessageEvent) error {
	switch {
	case !c.Alive():
		return ErrConnClosed
	case !c.identified():
		return invalid(ErrUnidentified)
	}
	// 房间只读一次：驱逐或断开可能随时把它清零。
	roomID := h.reg.RoomOf(c)
	if roomID == 0 {
		return invalid(ErrNotInRoom)
	}
	if e.roomID != 0 && e.roomID != roomID {
		return invalid(ErrWrongRoom)
	}
	body := strings.TrimSpace(e.body)
	if body == "" {
		return invalid(ErrEmptyBody)
	}
	if utf8.RuneCountInString(body) > h.opts.MaxMessageLen {
		return invalid(ErrBodyTooLong)
	}
	if c.limiter != nil && !c.limiter.Allow() {
		return invalid(ErrRateLimited)
	}
	uid, name := c.User()

	seq := h.sequencer(roomID)
	seq.mu.Lock()
	defer seq.mu.Unlock()
	// 房间可能在等待序列器期间被删除。已断开的发送方不再有房间，
	// 只要房间还在，消息照常落库。
	if h.reg.RoomOf(c) != roomID {
		if c.Alive() {
			return invalid(ErrNotInRoom)
		}
		if err := h.roomAlive(roomID); err != nil {
			if errors.Is(err, ErrUnknownRoom) {
				h.releaseSequencer(roomID, seq)
			}
			return err
		}
	}

	msg := models.Message{RoomID: roomID, UserID: uid, Body: body, CreatedAt: seq.stamp()}
	ctx, cancel := h.storeCtx()
	defer cancel()
	if err := h.st.InsertMessage(ctx, &msg); err != nil {
		return storageErr("insert_message", err)
	}
	metrics.WsMessagesTotal.Inc()
	h.bc.ToRoom(roomID, encode(messageFrame{Type: typeMessage, MessageView: store.NewMessageView(msg, name)}))
	return nil
}

func (h *Hub) leaveRoom(c *Conn) error {
	switch h.stateOf(c) {
	case stateClosed:
		return ErrConnClosed
	case stateUnidentified:
		return invalid(ErrUnidentified)
	}
	prev, ok := h.reg.Leave(c)
	if !ok {
		return invalid(ErrNotInRoom)
	}
	h.bc.SendTo(c, encode(leftFrame{Type: typeLeft, RoomID: prev}))

	uid, name := c.User()
	if err := h.members.enqueue(membershipOp{conn: c, userID: uid, roomID: prev, remove: true}); err != nil {
		h.reject(c, storageErr("delete_membership", err))
	}
	log.Info().Str("conn_id", c.id).Str("user", name).Uint("room_id", prev).Msg("left room")
	h.broadcastOccupancy()
	return nil
}

// disconnect 可重复调用，只有第一次真正从注册表移除。
func (h *Hub) disconnect(c *Conn) {
	c.Close()
	prev, ok := h.reg.Remove(c)
	if !ok {
		return
	}
	metrics.WsConnections.Dec()
	uid, name := c.User()
	log.Debug().Str("conn_id", c.id).Uint("user_id", uid).Str("user", name).Uint("room_id", prev).Msg("connection closed")
	if prev != 0 {
		h.broadcastOccupancy()
	}
}

func (h *Hub) readLoop(c *Conn) {
	defer h.dispatch(c, disconnectEvent{})

	c.ws.SetReadLimit(h.opts.ReadLimit)
	_ = c.ws.SetReadDeadline(time.Now().Add(h.opts.PongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(h.opts.PongWait))
	})
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Str("conn_id", c.id).Msg("read")
			}
			return
		}
		ev, err := decodeEvent(data)
		if err != nil {
			h.reject(c, err)
			continue
		}
		h.dispatch(c, ev)
		if !c.Alive() {
			return
		}
	}
}
