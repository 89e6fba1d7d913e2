// ABOUTME: Gateway orchestrator that wires the store, façade, and HTTP server
// ABOUTME: Manages router setup, lifecycle, and graceful shutdown

package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/servilocal/mensajeria/internal/config"
	"github.com/servilocal/mensajeria/internal/delivery"
	"github.com/servilocal/mensajeria/internal/directory"
	"github.com/servilocal/mensajeria/internal/identity"
	"github.com/servilocal/mensajeria/internal/messagelog"
	"github.com/servilocal/mensajeria/internal/messaging"
	"github.com/servilocal/mensajeria/internal/otp"
	"github.com/servilocal/mensajeria/internal/store"
)

// Gateway orchestrates the mensajeria server components. It owns the store,
// the messaging façade, the delivery broadcaster, and the HTTP server.
type Gateway struct {
	config      *config.Config
	store       store.Store
	broadcaster delivery.Broadcaster
	messaging   *messaging.Service
	httpServer  *http.Server
	logger      *slog.Logger
}

// initStore creates the store from config, honoring the MENSAJERIA_DB_PATH
// environment override.
func initStore(cfg *config.Config) (store.Store, error) {
	dbPath := cfg.Database.Path
	if envPath := os.Getenv("MENSAJERIA_DB_PATH"); envPath != "" {
		dbPath = envPath
	}

	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// initBroadcaster selects the delivery transport: Redis pub/sub when a URL is
// configured, otherwise the in-process broadcaster.
func initBroadcaster(cfg *config.Config, logger *slog.Logger) (delivery.Broadcaster, error) {
	if cfg.Redis.URL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		b, err := delivery.NewRedisBroadcaster(ctx, cfg.Redis.URL, logger.With("component", "broadcaster"))
		if err != nil {
			return nil, fmt.Errorf("connecting to redis: %w", err)
		}
		logger.Info("live delivery via redis pub/sub")
		return b, nil
	}
	logger.Info("live delivery via in-process broadcaster")
	return delivery.NewMemoryBroadcaster(logger.With("component", "broadcaster")), nil
}

// corsOptions builds the CORS policy from config. Browsers need this for the
// web client; non-browser callers are unaffected.
func corsOptions(cfg *config.Config) cors.Options {
	origins := cfg.Server.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}
}

// New creates a new Gateway instance with the given configuration.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	s, err := initStore(cfg)
	if err != nil {
		return nil, err
	}

	broadcaster, err := initBroadcaster(cfg, logger)
	if err != nil {
		_ = s.Close()
		return nil, err
	}

	dir := directory.New(s, logger.With("component", "directory"))
	msgLog := messagelog.New(s, logger.With("component", "messagelog"))
	svc := messaging.New(dir, msgLog, broadcaster, logger)

	gw := &Gateway{
		config:      cfg,
		store:       s,
		broadcaster: broadcaster,
		messaging:   svc,
		logger:      logger.With("component", "gateway"),
	}

	router, err := gw.buildRouter(cfg, logger)
	if err != nil {
		_ = broadcaster.Close()
		_ = s.Close()
		return nil, err
	}

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return gw, nil
}

// buildRouter assembles the chi router: health and verification routes stay
// open, everything under /api requires a bearer token.
func (g *Gateway) buildRouter(cfg *config.Config, logger *slog.Logger) (chi.Router, error) {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(corsOptions(cfg)))

	r.Get("/health", g.handleHealth)
	r.Get("/health/ready", g.handleReady)

	if cfg.OTP.Enabled {
		verifyClient := otp.NewClient(cfg.OTP.BaseURL, cfg.OTP.ServiceSID, cfg.OTP.APIKey, logger)
		verifyHandlers := otp.NewHandlers(verifyClient, logger)
		r.Post("/api/verify/start", verifyHandlers.HandleStart)
		r.Post("/api/verify/check", verifyHandlers.HandleCheck)
		logger.Info("whatsapp verification bridge enabled")
	}

	if cfg.Auth.JWTSecret == "" {
		return nil, fmt.Errorf("auth.jwt_secret is required")
	}
	verifier := identity.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))

	r.Group(func(r chi.Router) {
		r.Use(identity.Middleware(verifier))

		r.Post("/api/conversations", g.handleStartConversation)
		r.Get("/api/conversations", g.handleListConversations)
		r.Get("/api/conversations/{id}", g.handleGetConversation)
		r.Get("/api/conversations/{id}/messages", g.handleListMessages)
		r.Post("/api/conversations/{id}/messages", g.handleSendMessage)
		r.Get("/api/conversations/{id}/stream", g.handleStream)
	})

	return r, nil
}

// Run starts the HTTP server and blocks until the context is canceled.
// Returns nil on graceful shutdown, or an error if the server fails.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listening on HTTP address: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	serverErr := g.waitForShutdownSignal(ctx, errCh)
	shutdownErr := g.gracefulShutdown()

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// waitForShutdownSignal waits for context cancellation or a server error.
func (g *Gateway) waitForShutdownSignal(ctx context.Context, errCh chan error) error {
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
		return nil
	case err := <-errCh:
		g.logger.Error("server error", "error", err)
		return err
	}
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// Uses context.Background() intentionally since the original context is
// already canceled.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

// Shutdown gracefully stops the HTTP server and releases resources.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	if err := g.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("HTTP shutdown: %w", err))
	}
	if err := g.broadcaster.Close(); err != nil {
		errs = append(errs, fmt.Errorf("broadcaster close: %w", err))
	}
	if err := g.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("store close: %w", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK once the store answers queries.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	if _, err := g.store.ListConversationsForUser(r.Context(), "readiness-check"); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("store unavailable"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
