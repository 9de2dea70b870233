package ws

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"chatrelay/internal/auth"
	"chatrelay/internal/metrics"
	"chatrelay/internal/models"
	"chatrelay/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// Store 是会话层依赖的持久化网关。
type Store interface {
	ResolveOrCreateUser(ctx context.Context, name string) (*models.User, error)
	RoomExists(ctx context.Context, roomID uint) (bool, error)
	RoomTitle(ctx context.Context, roomID uint) (string, error)
	RoomIDByTitle(ctx context.Context, title string) (uint, error)
	ListRooms(ctx context.Context) ([]models.Room, error)
	UpsertMembership(ctx context.Context, userID, roomID uint) error
	DeleteMembership(ctx context.Context, userID, roomID uint) error
	InsertMessage(ctx context.Context, m *models.Message) error
	ListMessages(ctx context.Context, roomID uint, limit int, beforeID uint) ([]store.MessageView, error)
}

// roomInvalidator 由带缓存的 Store 实现，房间变更时清掉旧条目。
type roomInvalidator interface {
	InvalidateRoom(ctx context.Context, roomID uint) error
}

type Options struct {
	SendBuffer        int
	HistoryLimit      int // <= 0 表示全量历史
	MaxMessageLen     int
	MessagesPerSecond float64
	MessageBurst      int

	ReadLimit  int64
	PongWait   time.Duration
	PingPeriod time.Duration
	WriteWait  time.Duration

	StoreTimeout    time.Duration
	MembershipQueue int

	// JWTSecret 非空时，连接可携带 token 直接完成身份绑定。
	JWTSecret string
	// ReservedNames 只能通过 token 绑定。
	ReservedNames []string
	CheckOrigin   func(r *http.Request) bool
}

func (o Options) withDefaults() Options {
	if o.SendBuffer <= 0 {
		o.SendBuffer = 256
	}
	if o.MaxMessageLen <= 0 {
		o.MaxMessageLen = 4096
	}
	if o.MessageBurst <= 0 {
		o.MessageBurst = 20
	}
	if o.ReadLimit <= 0 {
		o.ReadLimit = 1 << 20
	}
	if o.PongWait <= 0 {
		o.PongWait = 60 * time.Second
	}
	if o.PingPeriod <= 0 || o.PingPeriod >= o.PongWait {
		o.PingPeriod = o.PongWait / 2
	}
	if o.WriteWait <= 0 {
		o.WriteWait = 10 * time.Second
	}
	if o.StoreTimeout <= 0 {
		o.StoreTimeout = 5 * time.Second
	}
	if o.MembershipQueue <= 0 {
		o.MembershipQueue = 1024
	}
	if o.CheckOrigin == nil {
		o.CheckOrigin = func(*http.Request) bool { return true }
	}
	return o
}

// sequencer 串行化单个房间的“落库+广播”和“加入+历史”，与注册表锁分离。
type sequencer struct {
	mu   sync.Mutex
	last time.Time
}

// stamp 返回不早于上一条消息的接收时间，持有 mu 时调用。
func (s *sequencer) stamp() time.Time {
	now := time.Now().UTC()
	if now.Before(s.last) {
		now = s.last
	}
	s.last = now
	return now
}

// Hub 持有注册表、广播器和成员关系写入队列，负责所有连接的会话。
type Hub struct {
	st       Store
	opts     Options
	reg      *Registry
	bc       *Broadcaster
	members  *membershipWriter
	upgrader websocket.Upgrader

	seqMu sync.Mutex
	seqs  map[uint]*sequencer

	occMu sync.Mutex

	cancel  context.CancelFunc
	closing atomic.Bool
}

func NewHub(st Store, opts Options) *Hub {
	opts = opts.withDefaults()
	h := &Hub{
		st:   st,
		opts: opts,
		reg:  NewRegistry(),
		seqs: make(map[uint]*sequencer),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     opts.CheckOrigin,
		},
	}
	h.bc = NewBroadcaster(h.reg, h.dropConn)
	h.members = newMembershipWriter(st, opts.MembershipQueue, opts.StoreTimeout, func(c *Conn, err error) {
		if c != nil {
			h.reject(c, err)
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go h.members.run(ctx)
	return h
}

// Run 阻塞到 ctx 结束，然后关闭所有连接并排空成员关系队列。
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.Close()
}

func (h *Hub) Close() {
	if !h.closing.CompareAndSwap(false, true) {
		return
	}
	conns := h.reg.Close()
	for _, c := range conns {
		c.Close()
	}
	h.cancel()
	h.members.wait()
	log.Info().Int("connections", len(conns)).Msg("hub closed")
}

// Serve 升级 HTTP 连接并在当前 goroutine 中运行读循环。
func (h *Hub) Serve() gin.HandlerFunc {
	return func(c *gin.Context) {
		if h.closing.Load() {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "shutting down"})
			return
		}

		var claims *auth.Claims
		if token := bearerToken(c); token != "" && h.opts.JWTSecret != "" {
			parsed, err := auth.ParseAccessToken(token, h.opts.JWTSecret)
			if err != nil {
				c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
				return
			}
			claims = parsed
		}

		wsConn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Debug().Err(err).Msg("websocket upgrade")
			return
		}
		conn := newConn(wsConn, h.opts.SendBuffer, h.newLimiter())
		if !h.register(conn) {
			_ = wsConn.Close()
			return
		}
		if claims != nil {
			conn.bind(claims.UserID, claims.Name)
			h.bc.SendTo(conn, encode(identifiedFrame{Type: typeIdentified, UserID: claims.UserID, User: claims.Name}))
		}
		h.readLoop(conn)
	}
}

func bearerToken(c *gin.Context) string {
	if t := c.Query("token"); t != "" {
		return t
	}
	authz := c.GetHeader("Authorization")
	if len(authz) > 7 && strings.EqualFold(authz[:7], "bearer ") {
		return authz[7:]
	}
	return ""
}

func (h *Hub) newLimiter() *rate.Limiter {
	if h.opts.MessagesPerSecond <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(h.opts.MessagesPerSecond), h.opts.MessageBurst)
}

// register 把连接加入注册表并启动写循环。
func (h *Hub) register(c *Conn) bool {
	if !h.reg.Add(c) {
		return false
	}
	metrics.WsConnections.Inc()
	go c.writePump(h.opts.PingPeriod, h.opts.WriteWait)
	log.Debug().Str("conn_id", c.id).Msg("connection opened")
	return true
}

// dropConn 是广播投递失败的回调：立即停止投递，异步完成清理。
func (h *Hub) dropConn(c *Conn) {
	if c.Close() {
		go h.disconnect(c)
	}
}

func (h *Hub) sequencer(roomID uint) *sequencer {
	h.seqMu.Lock()
	defer h.seqMu.Unlock()
	s := h.seqs[roomID]
	if s == nil {
		s = &sequencer{}
		h.seqs[roomID] = s
	}
	return s
}

// releaseSequencer 删除已删除房间的序列器，调用方须持有 seq.mu。
func (h *Hub) releaseSequencer(roomID uint, seq *sequencer) {
	h.seqMu.Lock()
	if h.seqs[roomID] == seq {
		delete(h.seqs, roomID)
	}
	h.seqMu.Unlock()
}

// storeCtx 不继承连接生命周期，断开的连接也要完成正在进行的写入。
func (h *Hub) storeCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), h.opts.StoreTimeout)
}

// NotifyRoomChanged 在房间被创建、重命名或删除后调用。
// 已删除房间里的连接会被移出并收到 left 通知，随后全局广播房间占用。
func (h *Hub) NotifyRoomChanged(roomID uint) {
	ctx, cancel := h.storeCtx()
	defer cancel()

	h.invalidateRoom(ctx, roomID)
	exists, err := h.st.RoomExists(ctx, roomID)
	switch {
	case err != nil:
		log.Warn().Err(err).Uint("room_id", roomID).Msg("room exists")
	case !exists:
		h.evictRoom(roomID)
	}
	h.broadcastOccupancy()
	// 失效期间并发的未命中可能把旧标题写回缓存，通知完成后再清一次。
	h.invalidateRoom(ctx, roomID)
}

func (h *Hub) invalidateRoom(ctx context.Context, roomID uint) {
	inv, ok := h.st.(roomInvalidator)
	if !ok {
		return
	}
	if err := inv.InvalidateRoom(ctx, roomID); err != nil {
		log.Warn().Err(err).Uint("room_id", roomID).Msg("invalidate room cache")
	}
}

func (h *Hub) evictRoom(roomID uint) {
	seq := h.sequencer(roomID)
	seq.mu.Lock()
	evicted := h.reg.Evict(roomID)
	h.releaseSequencer(roomID, seq)
	seq.mu.Unlock()
	metrics.DropRoom(roomID)

	payload := encode(leftFrame{Type: typeLeft, RoomID: roomID, Reason: "room deleted"})
	for _, c := range evicted {
		h.bc.SendTo(c, payload)
	}
	if len(evicted) > 0 {
		log.Info().Uint("room_id", roomID).Int("connections", len(evicted)).Msg("room deleted, occupants evicted")
	}
}

// Online 返回房间当前在线连接数，供 REST 接口复用。
func (h *Hub) Online(roomID uint) int { return h.reg.Online(roomID) }

// Occupancy 返回所有有人房间的在线连接数。
func (h *Hub) Occupancy() map[uint]int { return h.reg.OccupancyCounts() }

// broadcastOccupancy 向所有连接推送房间列表与在线人数。
// 快照与发送在 occMu 内完成，后发出的总是更新的快照。
func (h *Hub) broadcastOccupancy() {
	if h.closing.Load() {
		return
	}
	ctx, cancel := h.storeCtx()
	rooms, err := h.st.ListRooms(ctx)
	cancel()
	if err != nil {
		log.Warn().Err(err).Msg("list rooms for occupancy")
	}

	h.occMu.Lock()
	defer h.occMu.Unlock()
	frame := h.occupancyPayload(rooms, err == nil)
	h.bc.ToAll(encode(frame))
}

func (h *Hub) occupancyPayload(rooms []models.Room, withRooms bool) occupancyFrame {
	counts := h.reg.OccupancyCounts()
	frame := occupancyFrame{Type: typeOccupancy, Occupancy: counts}
	if !withRooms {
		metrics.SetOccupancy(counts, nil)
		return frame
	}
	known := make([]uint, 0, len(rooms))
	frame.Rooms = make([]RoomOccupancy, 0, len(rooms))
	for _, r := range rooms {
		n := counts[r.ID]
		counts[r.ID] = n
		known = append(known, r.ID)
		frame.Rooms = append(frame.Rooms, RoomOccupancy{ID: r.ID, Title: r.Title, Online: n})
	}
	metrics.SetOccupancy(counts, known)
	return frame
}
