package service

import (
	"context"
	"sync"
	"testing"

	"chatrelay/internal/auth"
	"chatrelay/internal/config"
	"chatrelay/internal/db"
	"chatrelay/internal/models"
	"chatrelay/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePresence struct {
	mu       sync.Mutex
	online   map[uint]int
	notified []uint
}

func (p *fakePresence) Online(roomID uint) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.online[roomID]
}

func (p *fakePresence) NotifyRoomChanged(roomID uint) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.notified = append(p.notified, roomID)
}

func setupStore(t *testing.T, rooms ...string) *store.Store {
	t.Helper()
	gdb, err := db.Connect("sqlite", ":memory:")
	require.NoError(t, err)
	require.NoError(t, db.Migrate(gdb))
	require.NoError(t, db.SeedRooms(gdb, rooms))
	t.Cleanup(func() {
		if sqlDB, err := gdb.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return store.New(gdb)
}

func testConfig() config.Config {
	return config.Config{
		JWTSecret:             "test-secret",
		AccessTokenTTLMinutes: 5,
		AdminName:             "admin",
		AdminPassword:         "s3cret",
	}
}

func TestUserService_LoginCreatesUser(t *testing.T) {
	ctx := context.Background()
	svc := NewUserService(setupStore(t), testConfig())

	res, err := svc.Login(ctx, "  alice ", "")
	require.NoError(t, err)
	assert.Equal(t, "alice", res.User.Name)
	claims, err := auth.ParseAccessToken(res.AccessToken, "test-secret")
	require.NoError(t, err)
	assert.Equal(t, res.User.ID, claims.UserID)
	assert.Equal(t, models.RoleUser, claims.Role)

	again, err := svc.Login(ctx, "alice", "ignored")
	require.NoError(t, err)
	assert.Equal(t, res.User.ID, again.User.ID)

	_, err = svc.Login(ctx, "   ", "")
	assert.ErrorIs(t, err, ErrInvalidName)
}

func TestUserService_AdminRequiresPassword(t *testing.T) {
	ctx := context.Background()
	svc := NewUserService(setupStore(t), testConfig())

	_, err := svc.Login(ctx, "admin", "s3cret")
	assert.ErrorIs(t, err, ErrInvalidCredentials, "admin does not exist before EnsureAdmin")

	require.NoError(t, svc.EnsureAdmin(ctx))
	require.NoError(t, svc.EnsureAdmin(ctx))

	_, err = svc.Login(ctx, "admin", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = svc.Login(ctx, "ADMIN", "")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	res, err := svc.Login(ctx, "admin", "s3cret")
	require.NoError(t, err)
	assert.Equal(t, models.RoleAdmin, res.User.Role)
}

func TestUserService_EnsureAdminSkipsWithoutPassword(t *testing.T) {
	cfg := testConfig()
	cfg.AdminPassword = ""
	st := setupStore(t)
	svc := NewUserService(st, cfg)
	require.NoError(t, svc.EnsureAdmin(context.Background()))

	_, err := st.FindUserByName(context.Background(), "admin")
	assert.ErrorIs(t, err, store.ErrUserNotFound)
}

func TestRoomService_CRUDNotifies(t *testing.T) {
	ctx := context.Background()
	p := &fakePresence{online: map[uint]int{}}
	svc := NewRoomService(setupStore(t, "general"), p)

	room, err := svc.Create(ctx, " random ")
	require.NoError(t, err)
	assert.Equal(t, "random", room.Title)

	_, err = svc.Create(ctx, "general")
	assert.ErrorIs(t, err, ErrTitleTaken)
	_, err = svc.Create(ctx, "")
	assert.ErrorIs(t, err, ErrInvalidTitle)

	p.online[room.ID] = 3
	renamed, err := svc.Rename(ctx, room.ID, "offtopic")
	require.NoError(t, err)
	assert.Equal(t, 3, renamed.Online)

	_, err = svc.Rename(ctx, 9999, "ghost")
	assert.ErrorIs(t, err, ErrRoomNotFound)

	require.NoError(t, svc.Delete(ctx, room.ID))
	assert.ErrorIs(t, svc.Delete(ctx, room.ID), ErrRoomNotFound)

	assert.Equal(t, []uint{room.ID, room.ID, room.ID}, p.notified)

	rooms, err := svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, rooms, 1)
	assert.Equal(t, "general", rooms[0].Title)
}

func TestRoomService_JoinedAndJoinable(t *testing.T) {
	ctx := context.Background()
	st := setupStore(t, "general", "random")
	svc := NewRoomService(st, &fakePresence{})

	alice, err := st.ResolveOrCreateUser(ctx, "alice")
	require.NoError(t, err)
	general, err := st.RoomIDByTitle(ctx, "general")
	require.NoError(t, err)
	require.NoError(t, st.UpsertMembership(ctx, alice.ID, general))

	joined, err := svc.Joined(ctx, alice.ID)
	require.NoError(t, err)
	require.Len(t, joined, 1)
	assert.Equal(t, "general", joined[0].Title)

	joinable, err := svc.Joinable(ctx, alice.ID)
	require.NoError(t, err)
	require.Len(t, joinable, 1)
	assert.Equal(t, "random", joinable[0].Title)
}

func TestRoomService_JoinRecordsMembership(t *testing.T) {
	ctx := context.Background()
	st := setupStore(t, "general", "random")
	p := &fakePresence{online: map[uint]int{}}
	svc := NewRoomService(st, p)

	alice, err := st.ResolveOrCreateUser(ctx, "alice")
	require.NoError(t, err)
	random, err := st.RoomIDByTitle(ctx, "random")
	require.NoError(t, err)

	room, err := svc.Join(ctx, alice.ID, random)
	require.NoError(t, err)
	assert.Equal(t, "random", room.Title)
	// joining twice keeps a single membership
	_, err = svc.Join(ctx, alice.ID, random)
	require.NoError(t, err)

	joined, err := svc.Joined(ctx, alice.ID)
	require.NoError(t, err)
	require.Len(t, joined, 1)
	assert.Equal(t, random, joined[0].ID)
	assert.Equal(t, []uint{random, random}, p.notified)

	_, err = svc.Join(ctx, alice.ID, 9999)
	assert.ErrorIs(t, err, ErrRoomNotFound)
	assert.Len(t, p.notified, 2)
}

func TestMessageService_ListByRoom(t *testing.T) {
	ctx := context.Background()
	st := setupStore(t, "general")
	svc := NewMessageService(st)

	_, err := svc.ListByRoom(ctx, 9999, 10, 0)
	assert.ErrorIs(t, err, ErrRoomNotFound)

	general, err := st.RoomIDByTitle(ctx, "general")
	require.NoError(t, err)
	alice, err := st.ResolveOrCreateUser(ctx, "alice")
	require.NoError(t, err)
	var ids []uint
	for _, body := range []string{"one", "two", "three"} {
		m := models.Message{RoomID: general, UserID: alice.ID, Body: body}
		require.NoError(t, st.InsertMessage(ctx, &m))
		ids = append(ids, m.ID)
	}

	page, err := svc.ListByRoom(ctx, general, 2, 0)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "two", page[0].Body)
	assert.Equal(t, "three", page[1].Body)

	older, err := svc.ListByRoom(ctx, general, 0, ids[1])
	require.NoError(t, err)
	require.Len(t, older, 1)
	assert.Equal(t, "one", older[0].Body)
	assert.Equal(t, "alice", older[0].Sender)
}
