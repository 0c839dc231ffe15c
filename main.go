package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"whiteboard/internal/clock"
	"whiteboard/internal/config"
	"whiteboard/internal/handlers"
	"whiteboard/internal/logger"
	"whiteboard/internal/middleware"
	"whiteboard/internal/object"
	"whiteboard/internal/room"
	"whiteboard/internal/storage"
	"whiteboard/internal/transport"
	"whiteboard/internal/user"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

func main() {
	cfgPath := pflag.String("config", "", "Path to YAML config file")
	addr := pflag.String("addr", "", "HTTP listen address")
	dataDir := pflag.String("data-dir", "", "Pebble data directory (enables persistence)")
	logLevel := pflag.String("log-level", "", "debug, info, warn or error")
	pflag.Parse()

	cfg, envUsed, err := config.LoadEffective(*cfgPath)
	if err != nil {
		os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(1)
	}
	if pflag.CommandLine.Changed("addr") {
		cfg.Server.Address = *addr
	}
	if pflag.CommandLine.Changed("data-dir") {
		cfg.Storage.DataDir = *dataDir
		cfg.Storage.Enabled = true
	}
	if pflag.CommandLine.Changed("log-level") {
		cfg.Logging.Level = *logLevel
	}

	if err := logger.Init(cfg.Logging.Level); err != nil {
		os.Stderr.WriteString("logger: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer logger.Sync()
	logger.Info("config loaded", zap.String("file", *cfgPath), zap.Bool("env", envUsed))

	var store room.Store
	if cfg.Storage.Enabled {
		s, err := storage.Open(cfg.Storage.DataDir)
		if err != nil {
			logger.Error("storage unavailable", zap.Error(err))
			os.Exit(1)
		}
		defer s.Close()
		store = s
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	limits := cfg.RateLimit()
	sessionMgr := user.NewSessionManager(cfg.SessionLimits())
	roomManager := room.NewManager(store)
	ipLimiter := middleware.NewIPRateLimit(cfg.Limits.IPConnectEvery, cfg.Limits.IPConnectBurst)
	msgRouter := handlers.NewMessageRouter(object.NewValidator(), limits, sessionMgr, clock.Real())
	wsServer := transport.NewServer(cfg.Server.AllowedOrigins, limits, sessionMgr, roomManager, msgRouter)

	r := mux.NewRouter()
	r.Handle("/ws", ipLimiter.Middleware()(http.HandlerFunc(wsServer.HandleWebSocket)))
	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.HandleFunc("/rooms/{code}/objects", roomObjects(roomManager)).Methods(http.MethodGet)

	go cleanup(ctx, cfg.Server.CleanupInterval, roomManager, sessionMgr, ipLimiter)

	srv := &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("shutdown", zap.Error(err))
		}
	}()

	logger.Info("whiteboard server started", zap.String("addr", cfg.Server.Address), zap.Bool("storage", store != nil))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server failed", zap.Error(err))
		return
	}
	logger.Info("server stopped")
}

// roomObjects: JSON snapshot of a live room's shared map, ordered by id
func roomObjects(rooms *room.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rm, ok := rooms.GetRoom(mux.Vars(r)["code"])
		if !ok {
			http.Error(w, "room not found", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(rm.SortedObjects()); err != nil {
			logger.Warn("encode room snapshot", zap.Error(err))
		}
	}
}

// cleanup: periodically drops expired rooms, idle sessions and IP limiters
func cleanup(ctx context.Context, every time.Duration, rooms *room.Manager, sessions *user.SessionManager, ips *middleware.IPRateLimit) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			expiredRooms := rooms.Cleanup(now)
			expiredSessions := sessions.Cleanup(now)
			ips.Cleanup(now, time.Hour)
			if expiredRooms > 0 || expiredSessions > 0 {
				logger.Info("cleanup", zap.Int("rooms", expiredRooms), zap.Int("sessions", expiredSessions))
			}
		}
	}
}
