package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"path/filepath"

	"airamed/internal/api"
	"airamed/internal/auth"
	"airamed/internal/config"
	"airamed/internal/dashboard"
	"airamed/internal/database"
	"airamed/internal/guard"
	"airamed/internal/hub"
	"airamed/internal/metrics"
	"airamed/internal/navigation"
	"airamed/internal/poller"
	"airamed/internal/session"
	"airamed/internal/transport"
	"airamed/internal/websocket"
	pkgdatabase "airamed/pkg/database"
	"airamed/pkg/interfaces"
	"airamed/pkg/types"
)

// Storage is a persistence backend that also keeps the session audit log
type Storage interface {
	interfaces.SessionPersistence
	interfaces.SessionAuditLog
}

// Application coordinates all daemon components
// Clean dependency injection pattern with proper initialization order
type Application struct {
	config     *config.Config
	storage    Storage
	sessions   *session.Store
	audit      *session.AuditTrail
	navigator  *navigation.Navigator
	client     *transport.Client
	poller     *poller.Synchronizer
	registry   *websocket.Registry
	viewerHub  *hub.Hub
	host       *dashboard.Host
	apiServer  *api.Server
	httpServer *http.Server

	listener    net.Listener
	unsubscribe []func()
}

// NewApplication creates the daemon with all components initialized.
// Component initialization follows strict dependency order:
// Storage → Metrics → Session → Navigation → Guard → Transport → Poller →
// Auth → Hub → Dashboard → API → HTTP
func NewApplication(cfg *config.Config) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	// Validate configuration before component initialization
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	// STEP 1: Open the persistence backend (foundation layer)
	storage, err := openStorage(cfg.Storage)
	if err != nil {
		return nil, err
	}

	// STEP 2: Metrics; the sampled gauges read components built below
	var (
		syncer   *poller.Synchronizer
		recorder interfaces.MetricsRecorder = interfaces.NoopMetrics{}
		scrape   http.Handler
	)
	registry := websocket.NewRegistry()
	if cfg.Metrics.Enabled {
		prom := metrics.NewRecorder(metrics.Options{
			IncludeRuntime: cfg.Metrics.IncludeRuntime,
			ViewerCount:    func() float64 { return float64(registry.Count()) },
			ActivePolls:    func() float64 { return float64(syncer.Active()) },
		})
		recorder = prom
		scrape = prom.Handler()
	}

	// STEP 3: Rehydrate the session before anything reads it
	sessions := session.NewStore(storage, recorder)
	if err := sessions.Load(context.Background()); err != nil {
		storage.Close()
		return nil, fmt.Errorf("failed to load persisted session: %w", err)
	}
	audit := session.NewAuditTrail(sessions, storage)

	// STEP 4: Navigation starts where a returning operator would land
	initial := navigation.RouteLogin
	if current := sessions.CurrentSession(); current.IsAuthenticated() {
		initial = guard.LandingRoute(current.Role)
	}
	navigator := navigation.NewNavigator(initial)
	routeGuard := guard.New(sessions, navigator)

	// STEP 5: Capacity API client and the poll scheduler
	client := transport.NewClient(transport.Options{
		BaseURL: cfg.API.BaseURL,
		Timeout: cfg.API.RequestTimeout,
	}, sessions, navigator, recorder)
	syncer = poller.New(poller.Options{Metrics: recorder, Notifier: sessions})

	// STEP 6: Viewer feed
	viewerHub := hub.NewHub(registry)
	wsHandler := websocket.NewHandler(viewerHub, websocket.CommandHandlerFunc(func(cmd websocket.Command) error {
		navigator.Push(cmd.Route)
		return nil
	}), cfg.HTTP.ViewerKey)
	wsHandler.AllowOrigins(cfg.HTTP.AllowedOrigins)

	// STEP 7: Dashboard host publishes every frame to the hub
	host := dashboard.NewHost(dashboard.HostConfig{
		Navigator: navigator,
		Sessions:  sessions,
		Notifier:  sessions,
		Guard:     routeGuard,
		Deps: dashboard.Deps{
			API:       client,
			Poller:    syncer,
			Publisher: viewerHub,
			Sessions:  sessions,
			Intervals: dashboard.Intervals{
				Network:  cfg.Polling.NetworkInterval,
				Facility: cfg.Polling.FacilityInterval,
				Chat:     cfg.Polling.ChatInterval,
			},
			Origin: dashboard.Origin{Lat: cfg.Ambulance.OriginLat, Lon: cfg.Ambulance.OriginLon},
		},
	})

	// STEP 8: Control API with both API and WebSocket endpoints
	apiServer := api.NewServer(api.Deps{
		Auth:      auth.NewService(client, sessions, navigator),
		Sessions:  sessions,
		Navigator: navigator,
		Views:     host,
		Storage:   storage,
		Viewers:   viewerHub,
		Polls:     syncer,
		Audit:     storage,
		Metrics:   scrape,
		WebSocket: http.HandlerFunc(wsHandler.HandleWebSocket),

		AccessKey:      cfg.HTTP.ViewerKey,
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
	})

	httpServer := &http.Server{
		Addr:         cfg.ListenAddress(),
		Handler:      apiServer,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	app := &Application{
		config:     cfg,
		storage:    storage,
		sessions:   sessions,
		audit:      audit,
		navigator:  navigator,
		client:     client,
		poller:     syncer,
		registry:   registry,
		viewerHub:  viewerHub,
		host:       host,
		apiServer:  apiServer,
		httpServer: httpServer,
	}

	// STEP 9: Guard redirects on teardown; the hub mirrors transitions to viewers
	app.unsubscribe = []func(){
		routeGuard.Watch(sessions),
		sessions.Subscribe(viewerHub.PublishSession),
		navigator.Subscribe(viewerHub.PublishNavigation),
	}
	return app, nil
}

// FUNCTIONAL DISCOVERY: SQLite needs its directory and schema before the
// first session write; Redis only needs to answer a ping
func openStorage(cfg *config.StorageConfig) (Storage, error) {
	switch cfg.Backend {
	case config.BackendRedis:
		store, err := database.NewRedisStore(database.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Prefix:   cfg.RedisPrefix,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to connect to Redis: %w", err)
		}
		log.Printf("Session storage: redis at %s", cfg.RedisAddr)
		return store, nil

	default:
		if dir := filepath.Dir(cfg.SQLitePath); dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create data directory: %w", err)
			}
		}

		dbConfig := pkgdatabase.DefaultConfig()
		dbConfig.DatabasePath = cfg.SQLitePath
		dbConfig.ConnMaxLifetime = cfg.Timeout
		dbConfig.ConnMaxIdleTime = cfg.Timeout / 3

		manager, err := database.NewManager(dbConfig)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize database manager: %w", err)
		}

		// Apply database migrations to ensure schema is up to date
		if err := pkgdatabase.NewMigrationManager(manager.GetDB()).ApplyMigrations(); err != nil {
			manager.Close()
			return nil, fmt.Errorf("failed to apply database migrations: %w", err)
		}
		log.Printf("Session storage: sqlite at %s", cfg.SQLitePath)
		return manager, nil
	}
}

// Start begins application execution
// Hub starts first so no frame is lost, then the dashboard host, then the
// HTTP server accepts connections
func (app *Application) Start(ctx context.Context) error {
	log.Printf("Starting airamed daemon on %s (API %s)", app.httpServer.Addr, app.config.API.BaseURL)

	// STEP 1: Start viewer hub (background fan-out)
	if err := app.viewerHub.Start(ctx); err != nil {
		return fmt.Errorf("failed to start viewer hub: %w", err)
	}

	// STEP 2: Bind before reporting success so port conflicts surface here
	listener, err := net.Listen("tcp", app.httpServer.Addr)
	if err != nil {
		app.viewerHub.Stop()
		return fmt.Errorf("HTTP server error: %w", err)
	}
	app.listener = listener

	// STEP 3: Reconcile the dashboard for the rehydrated route
	app.host.Start()

	// STEP 4: Serve the control API
	go func() {
		if err := app.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("HTTP server error: %v", err)
		}
	}()

	route, decision := app.host.Route()
	log.Printf("airamed daemon started (route %s, %s)", route, decision)
	return nil
}

// Stop gracefully shuts down the application
// Reverse dependency order: HTTP → Dashboard → Poller → Hub → Storage
func (app *Application) Stop(ctx context.Context) error {
	log.Printf("Shutting down airamed daemon")

	// STEP 1: Stop accepting requests
	if err := app.httpServer.Shutdown(ctx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}

	// STEP 2: Tear down the active view and any stray subscriptions
	app.host.Stop()
	app.poller.StopAll()

	// STEP 3: Stop viewer fan-out
	if err := app.viewerHub.Stop(); err != nil && !errors.Is(err, hub.ErrHubNotRunning) {
		log.Printf("Viewer hub shutdown error: %v", err)
	}

	for _, unsubscribe := range app.unsubscribe {
		unsubscribe()
	}

	// STEP 4: Flush the audit trail and close storage
	app.audit.Stop()
	if err := app.storage.Close(); err != nil {
		log.Printf("Storage shutdown error: %v", err)
	}

	log.Printf("airamed daemon shutdown complete")
	return nil
}

// GetAddr returns the address the control API listens on
func (app *Application) GetAddr() string {
	if app.listener != nil {
		return app.listener.Addr().String()
	}
	return app.httpServer.Addr
}

// Handler returns the control API router
func (app *Application) Handler() http.Handler {
	return app.apiServer
}

// Session returns the current session
func (app *Application) Session() types.Session {
	return app.sessions.CurrentSession()
}
