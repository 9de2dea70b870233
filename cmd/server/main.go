package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chatrelay/internal/cache"
	"chatrelay/internal/config"
	"chatrelay/internal/db"
	clog "chatrelay/internal/log"
	"chatrelay/internal/mw"
	"chatrelay/internal/server"
	"chatrelay/internal/service"
	"chatrelay/internal/store"
	"chatrelay/internal/ws"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

func main() {
	// main 函数负责加载配置、初始化日志、连接数据库并启动 Gin 服务。
	_ = godotenv.Load()
	cfg := config.Load()
	clog.Init(cfg.Env, cfg.LogLevel)
	if err := config.Validate(cfg); err != nil {
		log.Fatal().Err(err).Msg("config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gdb, err := db.Connect(cfg.DBDriver, cfg.DatabaseDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("db connect")
	}
	if err := db.Migrate(gdb); err != nil {
		log.Fatal().Err(err).Msg("db migrate")
	}
	if err := db.SeedRooms(gdb, cfg.DefaultRooms); err != nil {
		log.Fatal().Err(err).Msg("db seed")
	}

	st := store.New(gdb)
	if err := service.NewUserService(st, cfg).EnsureAdmin(ctx); err != nil {
		log.Fatal().Err(err).Msg("ensure admin")
	}

	var hubStore ws.Store = st
	var roomCache *cache.Rooms
	if cfg.RedisAddr != "" {
		client, err := cache.Connect(ctx, cfg.RedisAddr, cfg.RedisDB)
		if err != nil {
			log.Warn().Err(err).Str("addr", cfg.RedisAddr).Msg("redis unavailable, room cache disabled")
		} else {
			defer client.Close()
			roomCache = cache.NewRooms(st, client, time.Duration(cfg.RoomCacheTTLSeconds)*time.Second)
			hubStore = roomCache
			log.Info().Str("addr", cfg.RedisAddr).Msg("room cache enabled")
		}
	}

	reserved := []string{}
	if cfg.AdminName != "" {
		reserved = append(reserved, cfg.AdminName)
	}
	hub := ws.NewHub(hubStore, ws.Options{
		SendBuffer:        cfg.SendBuffer,
		HistoryLimit:      cfg.HistoryLimit,
		MaxMessageLen:     cfg.MaxMessageLen,
		MessagesPerSecond: cfg.MessagesPerSecond,
		MessageBurst:      cfg.MessageBurst,
		JWTSecret:         cfg.JWTSecret,
		ReservedNames:     reserved,
	})
	hubDone := make(chan struct{})
	go func() {
		defer close(hubDone)
		hub.Run(ctx)
	}()

	// 控制单个 IP+路由的速率。
	limiter := mw.NewLimiter(rate.Every(time.Second/20), 40, 10*time.Minute)
	go limiter.Run(time.Minute)
	defer limiter.Stop()

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           server.SetupRouter(cfg, st, hub, limiter),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Info().Str("addr", srv.Addr).Str("env", cfg.Env).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server run")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")
	<-hubDone

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown")
	}
	if roomCache != nil {
		hits, misses := roomCache.Stats()
		log.Info().Uint64("hits", hits).Uint64("misses", misses).Msg("room cache stats")
	}
	if sqlDB, err := gdb.DB(); err == nil {
		_ = sqlDB.Close()
	}
}
