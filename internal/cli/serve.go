package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"whiteboard-backend/internal/config"
	"whiteboard-backend/internal/event"
	"whiteboard-backend/internal/handlers"
	"whiteboard-backend/internal/middleware"
	"whiteboard-backend/internal/room"
	"whiteboard-backend/internal/store"
	"whiteboard-backend/internal/transport"
	"whiteboard-backend/internal/user"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the WebSocket sync server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := bindFlags(v, cmd, map[string]string{
				config.KeyPort:        "port",
				config.KeyStoreDriver: "store-driver",
				config.KeyStorePath:   "store-path",
				config.KeyLogLevel:    "log-level",
			}); err != nil {
				return err
			}

			envFile, _ := cmd.Flags().GetString("env-file")
			cfg, err := config.Load(v, envFile)
			if err != nil {
				return err
			}

			logger := newLogger(cfg.LogLevel, os.Stdout)
			slog.SetDefault(logger)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, logger)
		},
	}

	flags := cmd.Flags()
	flags.String("port", "", "listen port")
	flags.String("store-driver", "", "event store backend: sqlite or memory")
	flags.String("store-path", "", "sqlite database path")
	flags.String("log-level", "", "debug, info, warn or error")

	return cmd
}

func openBackend(cfg config.Store, logger *slog.Logger) (store.Backend, error) {
	switch cfg.Driver {
	case config.DriverMemory:
		logger.Warn("memory event store: history is lost on restart")
		return store.NewMemoryBackend(), nil
	case config.DriverSQLite:
		return store.OpenSQLite(store.SQLiteConfig{
			Path:     cfg.Path,
			PoolSize: cfg.PoolSize,
			Logger:   logger,
		})
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

// app is the wired server.
type app struct {
	events     *store.Store
	registry   *room.Registry
	identities *user.IdentityManager
	ipLimiter  *middleware.IPRateLimit
	gateway    *handlers.Gateway
	ws         *transport.Server
	logger     *slog.Logger
}

func wireApp(ctx context.Context, cfg *config.Config, backend store.Backend, logger *slog.Logger) *app {
	events := store.New(backend, store.Options{Logger: logger})
	registry := room.NewRegistry(cfg.Limits)
	broadcaster := room.NewBroadcaster(registry, logger)
	gateway := handlers.NewGateway(ctx, handlers.GatewayConfig{
		Store:        events,
		Registry:     registry,
		Broadcaster:  broadcaster,
		Synchronizer: room.NewSynchronizer(events),
		Validator:    event.NewValidator(cfg.Limits.MaxPoints),
		Logger:       logger,
	})
	identities := user.NewIdentityManager(user.Limits{
		MessagesPerSecond: cfg.Limits.MessagesPerSecond,
		BurstSize:         cfg.Limits.BurstSize,
	})
	ipLimiter := middleware.NewIPRateLimit()

	ws := transport.NewServer(transport.Config{
		Domains:     cfg.Domains,
		Limits:      cfg.Limits,
		IPLimiter:   ipLimiter,
		Identities:  identities,
		Gateway:     gateway,
		Router:      handlers.NewMessageRouter(gateway, registry, broadcaster),
		SendBuffer:  cfg.SendBuffer,
		AuthTimeout: cfg.AuthTimeout,
		Logger:      logger,
	})

	return &app{
		events:     events,
		registry:   registry,
		identities: identities,
		ipLimiter:  ipLimiter,
		gateway:    gateway,
		ws:         ws,
		logger:     logger,
	}
}

func (a *app) routes() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/ws", a.ws)
	mux.HandleFunc("/health", healthHandler)
	mux.HandleFunc("/stats", a.statsHandler)
	return mux
}

func healthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

type statsResponse struct {
	room.Stats
	Sessions   int         `json:"sessions"`
	Identities int         `json:"identities"`
	Store      store.Stats `json:"store"`
}

func (a *app) statsHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(statsResponse{
		Stats:      a.registry.Stats(),
		Sessions:   a.ws.Sessions(),
		Identities: a.identities.Count(),
		Store:      a.events.Stats(),
	})
}

// cleanup: idle rooms, their cached history, expired identities and IP limiters
func (a *app) cleanup(now time.Time, roomIdleTTL time.Duration) {
	released := 0
	for _, boardID := range a.registry.Cleanup(now, roomIdleTTL) {
		if a.events.Release(boardID) {
			released++
		}
		a.logger.Debug("room expired", "board", boardID)
	}
	identities := a.identities.Cleanup(user.DefaultIdentityTTL)
	ips := a.ipLimiter.Cleanup(time.Hour)

	a.logger.Info("cleanup",
		"released_boards", released,
		"expired_identities", identities,
		"expired_ip_limiters", ips,
	)
}

func (a *app) runCleanup(ctx context.Context, interval, roomIdleTTL time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			a.cleanup(now, roomIdleTTL)
		}
	}
}

func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	backend, err := openBackend(cfg.Store, logger)
	if err != nil {
		return err
	}

	a := wireApp(ctx, cfg, backend, logger)
	defer a.events.Close()

	go a.runCleanup(ctx, cfg.CleanupInterval, cfg.RoomIdleTTL)

	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: a.routes(),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", "port", cfg.Port, "store", cfg.Store.Driver)
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("listen: %w", err)
	case <-ctx.Done():
	}

	logger.Info("server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
	if err := a.ws.Shutdown(shutdownCtx); err != nil {
		logger.Error("closing sessions", "error", err)
	}
	a.gateway.Wait()

	stats := a.events.Stats()
	logger.Info("server stopped",
		"appended", stats.Appended,
		"persisted", stats.Persisted,
		"persist_failures", stats.PersistFailures,
	)
	return nil
}
