package ws

import (
	"chatrelay/internal/metrics"

	"github.com/rs/zerolog/log"
)

// Broadcaster 把消息非阻塞地投递给一组连接快照。
// 队列已满或已关闭时丢弃该接收方的这一帧，并交给 onDead 清理。
type Broadcaster struct {
	reg    *Registry
	onDead func(*Conn)
}

func NewBroadcaster(reg *Registry, onDead func(*Conn)) *Broadcaster {
	return &Broadcaster{reg: reg, onDead: onDead}
}

// ToRoom 投递给房间内所有连接，返回成功入队的数量。
func (b *Broadcaster) ToRoom(roomID uint, payload []byte) int {
	return b.deliver(b.reg.MembersOf(roomID), payload)
}

// ToAll 投递给所有存活连接。
func (b *Broadcaster) ToAll(payload []byte) int {
	return b.deliver(b.reg.All(), payload)
}

func (b *Broadcaster) SendTo(c *Conn, payload []byte) bool {
	if payload == nil {
		return false
	}
	err := c.offer(payload)
	if err == nil {
		return true
	}
	metrics.WsDeliveryDropped.Inc()
	log.Debug().Err(err).Str("conn_id", c.id).Msg("delivery dropped")
	if b.onDead != nil {
		b.onDead(c)
	}
	return false
}

func (b *Broadcaster) deliver(conns []*Conn, payload []byte) int {
	n := 0
	for _, c := range conns {
		if b.SendTo(c, payload) {
			n++
		}
	}
	return n
}
