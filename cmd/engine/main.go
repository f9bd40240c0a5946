package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gator-chat/internal/bus"
	"gator-chat/internal/config"
	"gator-chat/internal/database"
	"gator-chat/internal/engine"
	"gator-chat/internal/engine/actors"
	"gator-chat/internal/handlers"
	"gator-chat/internal/media"
	"gator-chat/internal/presence"
	"gator-chat/internal/utils"
	"gator-chat/internal/websocket"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const sweepTimeout = 30 * time.Second

// App wires every long-lived component of one engine node
type App struct {
	Config   *config.Config
	Store    database.Store
	Registry *presence.ShardedRegistry
	Hub      *websocket.Hub
	Relay    *bus.RedisRelay
	Engine   *engine.Engine
	System   *actor.ActorSystem
	SweepPID *actor.PID
	Server   *handlers.Server
	Metrics  *utils.MetricsCollector
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// openStore returns the configured store and the matching blob uploader.
func openStore(cfg *config.Config) (database.Store, media.Uploader, error) {
	if cfg.Database.Type == config.DBTypeMemory {
		return database.NewMemoryDB(), media.NewMemoryUploader(), nil
	}

	mongodb, err := database.NewMongoDB(cfg.Database.URI, cfg.Database.Name, cfg.Database.RequireTransactions)
	if err != nil {
		return nil, nil, err
	}
	uploader, err := media.NewGridFSUploader(mongodb.Database)
	if err != nil {
		mongodb.Close(context.Background())
		return nil, nil, err
	}
	return mongodb, uploader, nil
}

// NewApp builds a node from cfg. The caller must Close it.
func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	store, uploader, err := openStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	metrics := utils.NewMetricsCollector()
	registry := presence.NewRegistry()
	hub := websocket.NewHub(registry, cfg.Websocket, metrics)

	var publisher bus.Publisher = hub
	var relay *bus.RedisRelay
	if cfg.Redis.Enabled {
		rdb, err := bus.NewRedisClient(ctx, cfg.Redis.Addr)
		if err != nil {
			store.Close(ctx)
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		relay = bus.NewRedisRelay(hub, rdb, cfg.Server.NodeName, cfg.Redis.Channel)
		publisher = relay
	}

	eng := engine.NewEngine(store, registry, publisher, metrics)
	hub.Dispatcher = handlers.NewIntentDispatcher(eng)
	hub.OnConnect = func(ctx context.Context, userID uuid.UUID) {
		if _, err := eng.Direct.UserConnected(ctx, userID); err != nil {
			zap.S().Warnw("pending delivery failed", "user", userID, "error", err)
		}
	}

	system := actor.NewActorSystem()
	sweepPID := system.Root.Spawn(actor.PropsFromProducer(func() actor.Actor {
		return actors.NewSweepActor(eng.Direct, sweepTimeout)
	}))

	server := handlers.NewServer(cfg, eng, store, hub, registry, uploader, metrics)
	server.Publisher = publisher
	server.AttachSweeper(system.Root, sweepPID)

	return &App{
		Config:   cfg,
		Store:    store,
		Registry: registry,
		Hub:      hub,
		Relay:    relay,
		Engine:   eng,
		System:   system,
		SweepPID: sweepPID,
		Server:   server,
		Metrics:  metrics,
	}, nil
}

// Start runs the background loops until ctx is cancelled.
func (a *App) Start(ctx context.Context) {
	go actors.RunSweepTrigger(ctx, a.System.Root, a.SweepPID, a.Config.SweepCron)
	if a.Relay != nil {
		go a.Relay.Run(ctx)
	}
}

func (a *App) Close(ctx context.Context) {
	a.System.Root.Stop(a.SweepPID)
	if a.Relay != nil {
		if err := a.Relay.Close(); err != nil {
			zap.S().Warnw("close redis", "error", err)
		}
	}
	if err := a.Store.Close(ctx); err != nil {
		zap.S().Warnw("close store", "error", err)
	}
}

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg.Debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)
	log := zap.S().With("component", "main", "node", cfg.Server.NodeName)
	for _, warning := range cfg.Warnings {
		log.Warnw("Configuration fallback", "detail", warning)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := NewApp(ctx, cfg)
	if err != nil {
		log.Fatalw("Failed to start engine", "error", err)
	}
	app.Start(ctx)

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           app.Server.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Infow("Starting server", "addr", srv.Addr, "db", cfg.Database.Type, "redis", cfg.Redis.Enabled, "sweepCron", cfg.SweepCron)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorw("Server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Infow("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warnw("HTTP shutdown", "error", err)
	}
	app.Close(shutdownCtx)
}
