package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"codestream/internal/api"
	"codestream/internal/clock"
	"codestream/internal/config"
	"codestream/internal/database"
	"codestream/internal/execution"
	"codestream/internal/hub"
	"codestream/internal/logging"
	"codestream/internal/room"
	"codestream/internal/router"
	"codestream/internal/session"
	"codestream/internal/websocket"
	"codestream/internal/workspace"
	pkgdatabase "codestream/pkg/database"
	"codestream/pkg/types"
)

// chatHistoryLimit bounds the CHAT_HISTORY replay sent to a joiner.
const chatHistoryLimit = 200

// Application coordinates all system components
// Clean dependency injection pattern with proper initialization order
type Application struct {
	config         *config.Config
	dbManager      *database.Manager
	rooms          *room.Registry
	registry       *websocket.Registry
	messageRouter  *router.Router
	orchestrator   *execution.Orchestrator
	sessionManager *session.Manager
	limiter        router.Limiter
	redisClient    *redis.Client
	messageHub     *hub.Hub
	workspace      *workspace.Service
	apiServer      *api.Server
	httpServer     *http.Server

	listener net.Listener
	cancel   context.CancelFunc
	stopOnce sync.Once
	log      *logrus.Entry
}

// NewApplication creates a new application instance with all components initialized
// Component initialization follows strict dependency order:
// Database → Rooms → Registry → Router → Execution → Session → Hub → Workspace → API → HTTP
func NewApplication(cfg *config.Config) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	// Validate configuration before component initialization
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	app := &Application{config: cfg, log: logging.Component("app")}
	clk := clock.New()

	// STEP 1: Initialize database manager (foundation layer)
	dbConfig := pkgdatabase.DefaultConfig()
	dbConfig.DatabasePath = cfg.Database.Path
	dbConfig.WriteTimeout = cfg.Database.Timeout

	dbManager, err := database.NewManager(dbConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database manager: %w", err)
	}
	app.dbManager = dbManager

	// STEP 1.5: Apply database migrations to ensure schema is up to date
	migrationManager := pkgdatabase.NewMigrationManager(dbManager.GetDB(), nil)
	if err := migrationManager.ApplyMigrations(); err != nil {
		dbManager.Close()
		return nil, fmt.Errorf("failed to apply database migrations: %w", err)
	}
	app.log.Info("Database migrations applied successfully")

	// Rooms are in-memory, so history left by a previous process has no room.
	purgeCtx, cancelPurge := context.WithTimeout(context.Background(), cfg.Database.Timeout)
	removed, err := dbManager.PurgeAll(purgeCtx)
	cancelPurge()
	if err != nil {
		dbManager.Close()
		return nil, fmt.Errorf("failed to clear stale chat history: %w", err)
	}
	if removed > 0 {
		app.log.WithField("messages", removed).Info("Cleared chat history from previous run")
	}

	// STEP 2: Room registry. Reclaim purges chat through the session manager,
	// which is built later, so the callback reads the field at call time.
	roomOpts := room.Options{
		GracePeriod: cfg.Room.GracePeriod,
		OnReclaim: func(roomID, instance string) {
			if app.sessionManager != nil {
				app.sessionManager.RoomReclaimed(roomID, instance)
			}
		},
	}
	if cfg.Room.SeedFileName != "" {
		roomOpts.Seed = &types.FileRecord{
			ID:       "seed",
			Name:     cfg.Room.SeedFileName,
			Language: cfg.Room.SeedFileLanguage,
			Content:  cfg.Room.SeedFileContent,
		}
	}
	app.rooms = room.NewRegistry(clk, roomOpts)

	// STEP 3: Initialize WebSocket registry for connection tracking
	app.registry = websocket.NewRegistry()

	// STEP 4: Initialize message router with dependencies
	app.messageRouter = router.NewRouter(app.registry, app.rooms)

	// STEP 5: Execution orchestrator against the configured judge
	judge := execution.NewJudge0Client(execution.JudgeConfig{
		BaseURL: cfg.Execution.BaseURL,
		APIKey:  cfg.Execution.APIKey,
		APIHost: cfg.Execution.APIHost,
		Timeout: cfg.Execution.RequestTimeout,
	})
	app.orchestrator = execution.NewOrchestrator(judge, app.messageRouter, clk, execution.Options{
		Deadline:        cfg.Execution.Deadline,
		PollInterval:    cfg.Execution.PollInterval,
		MaxPerRequester: cfg.Execution.MaxConcurrentPerUser,
	})

	// STEP 6: Session manager applies client events
	app.sessionManager = session.NewManager(app.rooms, app.messageRouter, app.orchestrator, dbManager, clk, session.Options{
		HistoryLimit: chatHistoryLimit,
	})

	// STEP 7: Rate limiter, shared through redis when configured
	if cfg.Redis.URL != "" {
		client, err := router.NewRedisClient(cfg.Redis.URL)
		if err != nil {
			app.closeStores()
			return nil, fmt.Errorf("failed to initialize redis client: %w", err)
		}
		app.redisClient = client
		app.limiter = router.NewRedisLimiter(client, cfg.RateLimit.MessagesPerWindow, cfg.RateLimit.Window)
	} else {
		app.limiter = router.NewMemoryLimiter(cfg.RateLimit.MessagesPerWindow, cfg.RateLimit.Window, clk)
	}

	// STEP 8: Initialize message hub for coordination
	app.messageHub = hub.NewHub(app.registry, app.sessionManager, app.limiter, 0)

	// STEP 9: Initialize WebSocket handler
	wsHandler := websocket.NewHandler(app.messageHub, websocket.Options{
		PingInterval:   cfg.WebSocket.PingInterval,
		ReadTimeout:    cfg.WebSocket.ReadTimeout,
		WriteTimeout:   cfg.WebSocket.WriteTimeout,
		BufferSize:     cfg.WebSocket.BufferSize,
		MaxMessageSize: cfg.WebSocket.MaxMessageSize,
	})

	// STEP 10: Workspace file service
	ws, err := workspace.NewService(cfg.Workspace.Root, cfg.Workspace.Watch)
	if err != nil {
		app.closeStores()
		return nil, fmt.Errorf("failed to initialize workspace: %w", err)
	}
	app.workspace = ws

	// STEP 11: Initialize API server with all business dependencies
	app.apiServer = api.NewServer(api.Deps{
		Rooms:       app.rooms,
		Connections: app.registry,
		Database:    dbManager,
		Workspace:   ws,
		WebSocket:   wsHandler,
	})

	// STEP 12: Setup HTTP server with both API and WebSocket endpoints
	app.httpServer = &http.Server{
		Addr:         net.JoinHostPort(cfg.HTTP.Host, fmt.Sprint(cfg.HTTP.Port)),
		Handler:      app.apiServer,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	return app, nil
}

// Start begins application execution
// Hub starts first to handle messages, then HTTP server accepts connections
func (app *Application) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	app.cancel = cancel

	// STEP 1: Start message hub (background message processing)
	if err := app.messageHub.Start(runCtx); err != nil {
		cancel()
		return fmt.Errorf("failed to start message hub: %w", err)
	}

	if limiter, ok := app.limiter.(*router.MemoryLimiter); ok {
		go limiter.RunCleanup(runCtx)
	}

	// STEP 2: Bind before serving so Addr reports the real port
	listener, err := net.Listen("tcp", app.httpServer.Addr)
	if err != nil {
		app.messageHub.Stop()
		cancel()
		return fmt.Errorf("failed to listen on %s: %w", app.httpServer.Addr, err)
	}
	app.listener = listener

	go func() {
		if err := app.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			app.log.WithError(err).Error("HTTP server error")
		}
	}()

	app.log.WithField("addr", listener.Addr().String()).Info("Codestream application started")
	return nil
}

// Stop gracefully shuts down the application
// Reverse dependency order: HTTP → Sockets → Hub → Execution → Workspace → Database
func (app *Application) Stop(ctx context.Context) error {
	var firstErr error
	app.stopOnce.Do(func() {
		app.log.Info("Shutting down codestream application")

		// STEP 1: Stop accepting new connections
		if err := app.httpServer.Shutdown(ctx); err != nil {
			app.log.WithError(err).Warn("HTTP server shutdown error")
			firstErr = err
		}

		// STEP 2: Close live sockets; their read loops unregister through the hub
		app.registry.CloseAll()

		// STEP 3: Stop message processing
		if err := app.messageHub.Stop(); err != nil && !errors.Is(err, hub.ErrHubNotRunning) {
			app.log.WithError(err).Warn("Message hub shutdown error")
		}
		if app.cancel != nil {
			app.cancel()
		}

		// STEP 4: Abandon executions in flight
		app.orchestrator.Shutdown()

		// STEP 5: Release files and stores
		if err := app.workspace.Close(); err != nil {
			app.log.WithError(err).Warn("Workspace shutdown error")
		}
		app.closeStores()

		app.log.Info("Codestream application shutdown complete")
	})
	return firstErr
}

func (app *Application) closeStores() {
	// Flush queued chat writes before the database goes away.
	if app.sessionManager != nil {
		app.sessionManager.Close()
	}
	if app.redisClient != nil {
		if err := app.redisClient.Close(); err != nil {
			app.log.WithError(err).Warn("Redis shutdown error")
		}
	}
	if err := app.dbManager.Close(); err != nil {
		app.log.WithError(err).Warn("Database shutdown error")
	}
}

// Addr returns the bound address once started, the configured one before.
func (app *Application) Addr() string {
	if app.listener != nil {
		return app.listener.Addr().String()
	}
	return app.httpServer.Addr
}

// Handler returns the root HTTP handler.
func (app *Application) Handler() http.Handler {
	return app.apiServer
}

// ShutdownTimeout is the grace given to Stop by callers.
const ShutdownTimeout = 10 * time.Second
