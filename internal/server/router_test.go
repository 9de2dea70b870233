package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"chatrelay/internal/config"
	"chatrelay/internal/db"
	"chatrelay/internal/service"
	"chatrelay/internal/store"
	"chatrelay/internal/ws"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	engine *gin.Engine
	st     *store.Store
	hub    *ws.Hub
}

func setup(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	cfg := config.Config{
		Env:                   "dev",
		JWTSecret:             "secret",
		AccessTokenTTLMinutes: 15,
		AdminName:             "admin",
		AdminPassword:         "pw",
	}
	gdb, err := db.Connect("sqlite", ":memory:")
	require.NoError(t, err)
	require.NoError(t, db.Migrate(gdb))
	require.NoError(t, db.SeedRooms(gdb, []string{"general"}))
	t.Cleanup(func() {
		if sqlDB, err := gdb.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	st := store.New(gdb)
	require.NoError(t, service.NewUserService(st, cfg).EnsureAdmin(context.Background()))
	hub := ws.NewHub(st, ws.Options{JWTSecret: cfg.JWTSecret})
	t.Cleanup(hub.Close)
	return &testEnv{engine: SetupRouter(cfg, st, hub, nil), st: st, hub: hub}
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.engine.ServeHTTP(w, req)

	var out map[string]any
	if w.Body.Len() > 0 {
		_ = json.Unmarshal(w.Body.Bytes(), &out)
	}
	return w, out
}

func (e *testEnv) login(t *testing.T, name, password string) string {
	t.Helper()
	w, out := e.do(t, http.MethodPost, "/api/v1/login", "", map[string]string{"name": name, "password": password})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	return out["access_token"].(string)
}

func TestHealthz(t *testing.T) {
	e := setup(t)
	w, out := e.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", out["status"])
}

func TestLogin(t *testing.T) {
	e := setup(t)
	e.login(t, "alice", "")

	w, _ := e.do(t, http.MethodPost, "/api/v1/login", "", map[string]string{"name": "admin", "password": "nope"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, _ = e.do(t, http.MethodPost, "/api/v1/login", "", map[string]string{"name": ""})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRooms_AdminCRUD(t *testing.T) {
	e := setup(t)
	userToken := e.login(t, "alice", "")
	adminToken := e.login(t, "admin", "pw")

	w, _ := e.do(t, http.MethodPost, "/api/v1/rooms", "", map[string]string{"title": "random"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	w, _ = e.do(t, http.MethodPost, "/api/v1/rooms", userToken, map[string]string{"title": "random"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, out := e.do(t, http.MethodPost, "/api/v1/rooms", adminToken, map[string]string{"title": "random"})
	require.Equal(t, http.StatusCreated, w.Code)
	id := uint(out["room"].(map[string]any)["id"].(float64))

	w, _ = e.do(t, http.MethodPost, "/api/v1/rooms", adminToken, map[string]string{"title": "random"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w, out = e.do(t, http.MethodPut, "/api/v1/rooms/"+itoa(id), adminToken, map[string]string{"title": "offtopic"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "offtopic", out["room"].(map[string]any)["title"])

	w, out = e.do(t, http.MethodGet, "/api/v1/rooms", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, out["rooms"], 2)

	w, _ = e.do(t, http.MethodDelete, "/api/v1/rooms/"+itoa(id), adminToken, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	w, _ = e.do(t, http.MethodDelete, "/api/v1/rooms/"+itoa(id), adminToken, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w, _ = e.do(t, http.MethodDelete, "/api/v1/rooms/abc", adminToken, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestMessagesAndMemberships(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	token := e.login(t, "alice", "")
	alice, err := e.st.FindUserByName(ctx, "alice")
	require.NoError(t, err)
	general, err := e.st.RoomIDByTitle(ctx, "general")
	require.NoError(t, err)

	w, _ := e.do(t, http.MethodGet, "/api/v1/rooms/999/messages", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, out := e.do(t, http.MethodGet, "/api/v1/rooms/"+itoa(general)+"/messages?limit=10", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, out["messages"])

	w, _ = e.do(t, http.MethodGet, "/api/v1/me/rooms/joined", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, out = e.do(t, http.MethodGet, "/api/v1/me/rooms/joinable", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, out["rooms"], 1)

	require.NoError(t, e.st.UpsertMembership(ctx, alice.ID, general))
	w, out = e.do(t, http.MethodGet, "/api/v1/me/rooms/joined", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, out["rooms"], 1)
}

func TestJoinRoomOverREST(t *testing.T) {
	e := setup(t)
	token := e.login(t, "alice", "")
	general, err := e.st.RoomIDByTitle(context.Background(), "general")
	require.NoError(t, err)

	w, _ := e.do(t, http.MethodPost, "/api/v1/me/rooms/"+itoa(general)+"/join", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, out := e.do(t, http.MethodPost, "/api/v1/me/rooms/"+itoa(general)+"/join", token, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "general", out["room"].(map[string]any)["title"])

	w, out = e.do(t, http.MethodGet, "/api/v1/me/rooms/joined", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, out["rooms"], 1)
	w, out = e.do(t, http.MethodGet, "/api/v1/me/rooms/joinable", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, out["rooms"])

	w, _ = e.do(t, http.MethodPost, "/api/v1/me/rooms/999/join", token, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w, _ = e.do(t, http.MethodPost, "/api/v1/me/rooms/abc/join", token, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func itoa(id uint) string { return strconv.FormatUint(uint64(id), 10) }
