package ws

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

// Conn 是一个已升级的 websocket 连接，出站队列归连接所有。
type Conn struct {
	id      string
	ws      *websocket.Conn
	send    chan []byte
	done    chan struct{}
	once    sync.Once
	alive   atomic.Bool
	limiter *rate.Limiter

	mu     sync.RWMutex
	userID uint
	name   string

	// room 由 Registry.mu 保护
	room uint
}

func newConn(ws *websocket.Conn, sendBuffer int, limiter *rate.Limiter) *Conn {
	c := &Conn{
		id:      uuid.NewString(),
		ws:      ws,
		send:    make(chan []byte, sendBuffer),
		done:    make(chan struct{}),
		limiter: limiter,
	}
	c.alive.Store(true)
	return c
}

func (c *Conn) ID() string { return c.id }

func (c *Conn) Alive() bool { return c.alive.Load() }

// User 返回绑定的用户，未绑定时 id 为 0。
func (c *Conn) User() (id uint, name string) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.userID, c.name
}

func (c *Conn) identified() bool {
	id, _ := c.User()
	return id != 0
}

func (c *Conn) bind(id uint, name string) {
	c.mu.Lock()
	c.userID, c.name = id, name
	c.mu.Unlock()
}

// offer 非阻塞入队。
func (c *Conn) offer(b []byte) error {
	if !c.alive.Load() {
		return ErrConnClosed
	}
	select {
	case c.send <- b:
		return nil
	default:
		return errSendQueueFull
	}
}

// Close 标记连接失效并停止写循环，返回本次调用是否真正执行了关闭。
func (c *Conn) Close() bool {
	closed := false
	c.once.Do(func() {
		c.alive.Store(false)
		close(c.done)
		closed = true
	})
	return closed
}

func (c *Conn) writePump(pingPeriod, writeWait time.Duration) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()
	for {
		select {
		case msg := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.Close()
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		case <-c.done:
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
			return
		}
	}
}
