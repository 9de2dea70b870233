// Package cache 为每次加入房间都会发生的房间查询提供 Redis 旁路缓存。
package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"chatrelay/internal/store"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// RoomSource 是未命中时回源的查询。
type RoomSource interface {
	RoomTitle(ctx context.Context, roomID uint) (string, error)
}

// Rooms 包装 *store.Store，按 id 缓存房间标题，房间是否存在也由同一条目回答。
// 其余方法直接透传。
type Rooms struct {
	*store.Store
	src    RoomSource
	client *redis.Client
	prefix string
	ttl    time.Duration
	sf     singleflight.Group
	// gen 每次失效递增，回源期间发生过失效则不回写。
	gen atomic.Uint64

	hits   atomic.Uint64
	misses atomic.Uint64
}

// Connect 连接 Redis 并检查连通性。
func Connect(ctx context.Context, addr string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, DB: db})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}

func NewRooms(st *store.Store, client *redis.Client, ttl time.Duration) *Rooms {
	return &Rooms{Store: st, src: st, client: client, prefix: "chatrelay:room:", ttl: ttl}
}

func (r *Rooms) key(roomID uint) string {
	return r.prefix + strconv.FormatUint(uint64(roomID), 10) + ":title"
}

// RoomTitle 优先读 Redis，未命中时回源；Redis 出错时降级为直接查库。
func (r *Rooms) RoomTitle(ctx context.Context, roomID uint) (string, error) {
	title, err := r.client.Get(ctx, r.key(roomID)).Result()
	if err == nil {
		r.hits.Add(1)
		return title, nil
	}
	if !errors.Is(err, redis.Nil) {
		log.Warn().Err(err).Uint("room_id", roomID).Msg("room cache get")
	}
	r.misses.Add(1)

	v, err, _ := r.sf.Do(r.key(roomID), func() (any, error) {
		gen := r.gen.Load()
		t, err := r.src.RoomTitle(ctx, roomID)
		if err != nil {
			return "", err
		}
		if r.gen.Load() != gen {
			return t, nil
		}
		if err := r.client.Set(ctx, r.key(roomID), t, r.ttl).Err(); err != nil {
			log.Warn().Err(err).Uint("room_id", roomID).Msg("room cache set")
		}
		return t, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (r *Rooms) RoomExists(ctx context.Context, roomID uint) (bool, error) {
	_, err := r.RoomTitle(ctx, roomID)
	if errors.Is(err, store.ErrRoomNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// InvalidateRoom 在改名或删除后清除缓存条目。
func (r *Rooms) InvalidateRoom(ctx context.Context, roomID uint) error {
	r.gen.Add(1)
	r.sf.Forget(r.key(roomID))
	if err := r.client.Del(ctx, r.key(roomID)).Err(); err != nil {
		return fmt.Errorf("room cache delete: %w", err)
	}
	return nil
}

// Stats 返回命中与未命中计数。
func (r *Rooms) Stats() (hits, misses uint64) {
	return r.hits.Load(), r.misses.Load()
}
