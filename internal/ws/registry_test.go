package ws

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func identifiedConn(id uint, name string) *Conn {
	c := newConn(nil, 64, nil)
	c.bind(id, name)
	return c
}

func TestRegistry_JoinRequiresIdentity(t *testing.T) {
	r := NewRegistry()
	c := newConn(nil, 8, nil)
	require.True(t, r.Add(c))

	_, _, err := r.Join(c, 1)
	assert.ErrorIs(t, err, ErrUnidentified)

	c.bind(1, "alice")
	_, _, err = r.Join(c, 0)
	assert.ErrorIs(t, err, ErrUnknownRoom)
}

func TestRegistry_JoinUnregistered(t *testing.T) {
	r := NewRegistry()
	c := identifiedConn(1, "alice")
	_, _, err := r.Join(c, 1)
	assert.ErrorIs(t, err, ErrConnClosed)
}

func TestRegistry_JoinSwitchLeave(t *testing.T) {
	r := NewRegistry()
	c := identifiedConn(1, "alice")
	require.True(t, r.Add(c))

	prev, changed, err := r.Join(c, 1)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Zero(t, prev)
	assert.Equal(t, uint(1), r.RoomOf(c))
	assert.Equal(t, []*Conn{c}, r.MembersOf(1))

	// 重复加入同一房间不改变注册表
	prev, changed, err = r.Join(c, 1)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, uint(1), prev)

	prev, changed, err = r.Join(c, 2)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, uint(1), prev)
	assert.Empty(t, r.MembersOf(1))
	assert.Equal(t, []*Conn{c}, r.MembersOf(2))

	prev, ok := r.Leave(c)
	assert.True(t, ok)
	assert.Equal(t, uint(2), prev)
	assert.Zero(t, r.RoomOf(c))
	assert.Empty(t, r.MembersOf(2))

	_, ok = r.Leave(c)
	assert.False(t, ok)
}

func TestRegistry_RemoveIsIdempotent(t *testing.T) {
	r := NewRegistry()
	c := identifiedConn(1, "alice")
	require.True(t, r.Add(c))
	_, _, err := r.Join(c, 3)
	require.NoError(t, err)

	prev, ok := r.Remove(c)
	assert.True(t, ok)
	assert.Equal(t, uint(3), prev)
	assert.Equal(t, 0, r.Len())

	_, ok = r.Remove(c)
	assert.False(t, ok)
	assert.Empty(t, r.OccupancyCounts())
}

func TestRegistry_MembersOfSkipsDead(t *testing.T) {
	r := NewRegistry()
	a := identifiedConn(1, "alice")
	b := identifiedConn(2, "bob")
	for _, c := range []*Conn{a, b} {
		require.True(t, r.Add(c))
		_, _, err := r.Join(c, 7)
		require.NoError(t, err)
	}
	assert.Equal(t, map[uint]int{7: 2}, r.OccupancyCounts())

	b.Close()
	assert.Equal(t, []*Conn{a}, r.MembersOf(7))
	assert.Equal(t, map[uint]int{7: 1}, r.OccupancyCounts())
	assert.Len(t, r.All(), 1)
}

func TestRegistry_Evict(t *testing.T) {
	r := NewRegistry()
	a := identifiedConn(1, "alice")
	b := identifiedConn(2, "bob")
	for _, c := range []*Conn{a, b} {
		require.True(t, r.Add(c))
		_, _, err := r.Join(c, 7)
		require.NoError(t, err)
	}

	evicted := r.Evict(7)
	assert.ElementsMatch(t, []*Conn{a, b}, evicted)
	assert.Zero(t, r.RoomOf(a))
	assert.Empty(t, r.MembersOf(7))
	assert.Equal(t, 2, r.Len())
}

func TestRegistry_CloseRejectsAdd(t *testing.T) {
	r := NewRegistry()
	a := identifiedConn(1, "alice")
	require.True(t, r.Add(a))

	live := r.Close()
	assert.Equal(t, []*Conn{a}, live)
	assert.False(t, r.Add(identifiedConn(2, "bob")))
}

// 并发切换房间时，任一快照里连接最多出现在一个房间。
func TestRegistry_ConcurrentSwitchUniqueness(t *testing.T) {
	r := NewRegistry()
	conns := make([]*Conn, 16)
	for i := range conns {
		conns[i] = identifiedConn(uint(i+1), "u")
		require.True(t, r.Add(conns[i]))
	}

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for i, c := range conns {
		wg.Add(1)
		go func(i int, c *Conn) {
			defer wg.Done()
			for n := 0; n < 200; n++ {
				_, _, _ = r.Join(c, uint(1+(i+n)%3))
			}
		}(i, c)
	}

	violations := 0
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-stop:
				return
			default:
			}
			total := 0
			for _, n := range r.OccupancyCounts() {
				total += n
			}
			if total > len(conns) {
				violations++
			}
		}
	}()
	wg.Wait()
	close(stop)
	<-done

	assert.Zero(t, violations)
	total := 0
	for room := uint(1); room <= 3; room++ {
		for _, c := range r.MembersOf(room) {
			assert.Equal(t, room, r.RoomOf(c))
			total++
		}
	}
	assert.Equal(t, len(conns), total)
}
