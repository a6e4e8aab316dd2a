package app

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"lifeline/internal/api"
	"lifeline/internal/auth"
	"lifeline/internal/broadcast"
	"lifeline/internal/config"
	"lifeline/internal/database"
	"lifeline/internal/hub"
	"lifeline/internal/vault"
	ws "lifeline/internal/websocket"
	dbconfig "lifeline/pkg/database"
)

// Application owns every component and their startup/shutdown ordering
// ARCHITECTURAL DISCOVERY: Dependencies are constructed bottom-up (storage
// before auth before transport) and torn down in reverse, so no component
// ever observes a dependency that has already stopped
type Application struct {
	config *config.Config

	dbManager   *database.Manager
	authService *auth.Service
	registry    *ws.Registry
	broadcaster *broadcast.Broadcaster
	alertHub    *hub.Hub
	wsHandler   *ws.Handler
	apiServer   *api.Server
	httpServer  *http.Server

	cancel context.CancelFunc
}

// New builds the full component graph from configuration
func New(cfg *config.Config) (*Application, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	dbCfg := dbconfig.DefaultConfig()
	dbCfg.DatabasePath = cfg.Database.Path

	dbManager, err := database.NewManager(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	authService := auth.NewService([]byte(cfg.Auth.Secret), cfg.Auth.TokenTTL, dbManager)

	chatVault, err := vault.New(cfg.Vault.EncryptionKey)
	if err != nil {
		_ = dbManager.Close()
		return nil, fmt.Errorf("failed to initialize vault: %w", err)
	}

	registry := ws.NewRegistry()
	broadcaster := broadcast.NewBroadcaster(registry)
	alertHub := hub.NewHub(registry, broadcaster, cfg.WebSocket.SweepInterval, cfg.WebSocket.LivenessWindow)
	wsHandler := ws.NewHandler(registry, authService, dbManager, cfg.WebSocket.LivenessWindow)
	apiServer := api.NewServer(dbManager, dbManager, authService, authService, alertHub, registry, chatVault)

	mux := http.NewServeMux()
	mux.Handle("/api/", apiServer)
	mux.Handle("/health", apiServer)
	mux.HandleFunc("/ws/alerts", wsHandler.HandleAlerts)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler:      mux,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	return &Application{
		config:      cfg,
		dbManager:   dbManager,
		authService: authService,
		registry:    registry,
		broadcaster: broadcaster,
		alertHub:    alertHub,
		wsHandler:   wsHandler,
		apiServer:   apiServer,
		httpServer:  httpServer,
	}, nil
}

// Start brings up the hub and the HTTP listener
// FUNCTIONAL DISCOVERY: A short readiness window catches immediate listener
// failures (port in use) so startup errors surface to the caller instead of
// being logged from a detached goroutine
func (a *Application) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	if err := a.alertHub.Start(ctx); err != nil {
		cancel()
		return fmt.Errorf("failed to start alert hub: %w", err)
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Printf("HTTP server listening on %s", a.httpServer.Addr)
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		_ = a.alertHub.Stop()
		cancel()
		return fmt.Errorf("HTTP server failed to start: %w", err)
	case <-time.After(100 * time.Millisecond):
	}

	log.Println("Application started")
	return nil
}

// Stop tears components down in reverse dependency order
func (a *Application) Stop(ctx context.Context) error {
	log.Println("Shutting down application...")

	// Stop accepting new connections first
	if err := a.httpServer.Shutdown(ctx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}

	if err := a.alertHub.Stop(); err != nil && err != hub.ErrHubNotRunning {
		log.Printf("Hub shutdown error: %v", err)
	}

	if a.cancel != nil {
		a.cancel()
	}

	// Close any subscriber sessions that survived the HTTP shutdown
	for _, conn := range a.registry.Connections() {
		a.registry.Unregister(conn)
		_ = conn.Close()
	}

	if err := a.dbManager.Close(); err != nil {
		return fmt.Errorf("database shutdown error: %w", err)
	}

	log.Println("Application stopped")
	return nil
}
