package ws

import "sync"

// Registry 记录所有存活连接及其当前房间。
// 连接在 rooms[R] 中当且仅当其 room 字段为 R，二者只在 mu 内一起修改。
type Registry struct {
	mu     sync.RWMutex
	conns  map[*Conn]struct{}
	rooms  map[uint]map[*Conn]struct{}
	closed bool
}

func NewRegistry() *Registry {
	return &Registry{
		conns: make(map[*Conn]struct{}),
		rooms: make(map[uint]map[*Conn]struct{}),
	}
}

// Add 注册连接，注册表关闭后返回 false。
func (r *Registry) Add(c *Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false
	}
	r.conns[c] = struct{}{}
	return true
}

// Join 在同一临界区内离开旧房间并加入 roomID，任何快照都不会看到连接同时在两个房间或都不在。
// 已在 roomID 中时 changed 为 false。
func (r *Registry) Join(c *Conn, roomID uint) (prev uint, changed bool, err error) {
	if roomID == 0 {
		return 0, false, ErrUnknownRoom
	}
	if !c.identified() {
		return 0, false, ErrUnidentified
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conns[c]; !ok || !c.Alive() {
		return 0, false, ErrConnClosed
	}
	if c.room == roomID {
		return roomID, false, nil
	}
	prev = r.detachLocked(c)
	set := r.rooms[roomID]
	if set == nil {
		set = make(map[*Conn]struct{})
		r.rooms[roomID] = set
	}
	set[c] = struct{}{}
	c.room = roomID
	return prev, true, nil
}

// Leave 离开当前房间，不在任何房间时 ok 为 false。
func (r *Registry) Leave(c *Conn) (prev uint, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev = r.detachLocked(c)
	return prev, prev != 0
}

// Remove 离开房间并从存活集合删除。未注册时 ok 为 false，保证清理只发生一次。
func (r *Registry) Remove(c *Conn) (prev uint, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, found := r.conns[c]; !found {
		return 0, false
	}
	delete(r.conns, c)
	return r.detachLocked(c), true
}

// Evict 清空房间并返回原有连接。
func (r *Registry) Evict(roomID uint) []*Conn {
	r.mu.Lock()
	defer r.mu.Unlock()
	set := r.rooms[roomID]
	out := make([]*Conn, 0, len(set))
	for c := range set {
		c.room = 0
		out = append(out, c)
	}
	delete(r.rooms, roomID)
	return out
}

func (r *Registry) detachLocked(c *Conn) uint {
	prev := c.room
	if prev == 0 {
		return 0
	}
	if set := r.rooms[prev]; set != nil {
		delete(set, c)
		if len(set) == 0 {
			delete(r.rooms, prev)
		}
	}
	c.room = 0
	return prev
}

// RoomOf 返回连接当前所在房间，没有则为 0。
func (r *Registry) RoomOf(c *Conn) uint {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return c.room
}

// MembersOf 返回房间内存活连接的快照。
func (r *Registry) MembersOf(roomID uint) []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set := r.rooms[roomID]
	out := make([]*Conn, 0, len(set))
	for c := range set {
		if c.Alive() {
			out = append(out, c)
		}
	}
	return out
}

// All 返回所有存活连接的快照，包括未绑定身份的。
func (r *Registry) All() []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Conn, 0, len(r.conns))
	for c := range r.conns {
		if c.Alive() {
			out = append(out, c)
		}
	}
	return out
}

// OccupancyCounts 返回每个有人房间的存活连接数。
func (r *Registry) OccupancyCounts() map[uint]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[uint]int, len(r.rooms))
	for id, set := range r.rooms {
		n := 0
		for c := range set {
			if c.Alive() {
				n++
			}
		}
		if n > 0 {
			out[id] = n
		}
	}
	return out
}

func (r *Registry) Online(roomID uint) int {
	return len(r.MembersOf(roomID))
}

// Close 拒绝后续注册并返回仍存活的连接。
func (r *Registry) Close() []*Conn {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	return r.All()
}

// Len 返回已注册的连接数。
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
