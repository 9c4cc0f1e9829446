package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/osda-portal/apiserver/config"
	"github.com/osda-portal/apiserver/internal/audit"
	"github.com/osda-portal/apiserver/internal/auth"
	"github.com/osda-portal/apiserver/internal/db"
	"github.com/osda-portal/apiserver/internal/federation"
	"github.com/osda-portal/apiserver/internal/handlers"
	"github.com/osda-portal/apiserver/internal/metrics"
	"github.com/osda-portal/apiserver/internal/mq"
	"github.com/osda-portal/apiserver/internal/pending"
	"github.com/osda-portal/apiserver/internal/policy"
	"github.com/osda-portal/apiserver/internal/services"
	"github.com/osda-portal/apiserver/internal/storage"
	"github.com/osda-portal/apiserver/internal/store"
)

const pendingSweepInterval = time.Minute

// Server wraps the HTTP server, router and the connections it owns.
type Server struct {
	httpServer *http.Server
	router     *chi.Mux
	logger     *slog.Logger
	cancel     context.CancelFunc
	closers    []func() error
}

// New wires every dependency from cfg. Background workers stop when
// Shutdown is called.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (srv *Server, err error) {
	if logger == nil {
		logger = slog.Default()
	}
	if strings.TrimSpace(cfg.Auth.JWTSecret) == "" {
		return nil, errors.New("JWT_SECRET is required")
	}

	bgCtx, cancel := context.WithCancel(context.Background())
	s := &Server{logger: logger, cancel: cancel}
	defer func() {
		if err != nil {
			s.close()
		}
	}()

	accounts, err := s.openAccounts(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	pendingStore, err := s.openPending(ctx, bgCtx, cfg.Redis)
	if err != nil {
		return nil, err
	}

	m := metrics.New()
	permissions, err := s.loadPermissions(ctx, bgCtx, cfg, m)
	if err != nil {
		return nil, err
	}

	recorder, err := s.openAudit(ctx, cfg.Audit)
	if err != nil {
		return nil, err
	}

	providers, err := federation.FromConfig(ctx, cfg.Providers, logger)
	if err != nil {
		return nil, fmt.Errorf("configure identity providers: %w", err)
	}

	tokenOpts := []auth.TokenOption{auth.WithIssuer(cfg.Auth.Issuer), auth.WithLeeway(cfg.Auth.TokenLeeway)}
	issuer, err := auth.NewTokenIssuer(cfg.Auth.JWTSecret, tokenOpts...)
	if err != nil {
		return nil, err
	}
	verifier, err := auth.NewTokenVerifier(cfg.Auth.JWTSecret, tokenOpts...)
	if err != nil {
		return nil, err
	}
	redirects, err := auth.NewRedirectPolicy(cfg.Server.BaseOrigin, cfg.Server.LandingPath)
	if err != nil {
		return nil, err
	}

	hasher := auth.NewPasswordHasher(cfg.Auth.BcryptCost)
	bridgeOpts := []auth.BridgeOption{
		auth.WithPendingTTL(cfg.Auth.PendingTTL),
		auth.WithAuditRecorder(recorder),
		auth.WithLogger(logger),
	}
	for _, provider := range providers {
		bridgeOpts = append(bridgeOpts, auth.WithProvider(provider))
	}
	bridge := auth.NewBridge(accounts, pendingStore, issuer, hasher, redirects, bridgeOpts...)
	resolver := auth.NewPrincipalResolver(verifier, accounts, permissions)
	credentials := auth.NewCredentialVerifier(accounts, hasher, recorder, logger)
	accountService := services.NewAccountService(accounts, hasher, issuer, recorder)

	cookies := handlers.CookieSettings{Secure: cfg.Server.CookieSecure}
	authMiddleware := handlers.RequireAuth(resolver, m)
	limiter := handlers.NewRateLimiter(cfg.Auth.LoginRatePerSecond, cfg.Auth.LoginBurst)

	authHandler := handlers.NewAuthHandler(credentials, issuer, permissions, accountService, cookies, m, logger)
	federatedHandler := handlers.NewFederatedHandler(bridge, redirects, cfg.Server.ProfileCompletionPath, cookies, m, logger)
	adminHandler := handlers.NewAdminHandler(accountService, permissions)

	router := chi.NewRouter()
	router.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Recoverer,
		middleware.Logger,
		m.Instrument,
		middleware.Timeout(60*time.Second),
	)
	router.Get("/healthz", handlers.Healthz)
	router.Method(http.MethodGet, "/metrics", m.Handler())
	router.Route("/auth", func(r chi.Router) {
		handlers.AuthRouter(r, authHandler, authMiddleware, limiter)
		r.Route("/federated", func(r chi.Router) {
			handlers.FederatedRouter(r, federatedHandler)
		})
	})
	router.Route("/admin", func(r chi.Router) {
		handlers.AdminRouter(r, adminHandler, authMiddleware)
	})

	port := cfg.Server.Port
	if port == 0 {
		port = 8080
	}

	s.router = router
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	logger.InfoContext(ctx, "server configured",
		slog.Int("port", port),
		slog.String("accounts", cfg.Database.Backend),
		slog.Any("providers", bridge.Providers()),
		slog.String("permissions_version", permissions.Version()),
	)
	return s, nil
}

func (s *Server) openAccounts(ctx context.Context, cfg config.DatabaseConfig) (services.AccountRepository, error) {
	if strings.EqualFold(cfg.Backend, "memory") {
		s.logger.WarnContext(ctx, "accounts are kept in memory and lost on restart")
		return store.NewMemoryAccountRepository(), nil
	}

	conn, err := db.Open(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	s.onClose(conn.Close)
	return store.NewAccountRepository(conn), nil
}

func (s *Server) openPending(ctx, bgCtx context.Context, cfg config.RedisConfig) (auth.PendingStore, error) {
	if strings.TrimSpace(cfg.Addr) == "" {
		memory := pending.NewMemoryStore()
		go memory.Run(bgCtx, pendingSweepInterval)
		return memory, nil
	}

	client, err := pending.Connect(ctx, cfg.Addr, cfg.Password, cfg.DB)
	if err != nil {
		return nil, err
	}
	s.onClose(client.Close)
	return pending.NewRedisStore(client), nil
}

func (s *Server) loadPermissions(ctx, bgCtx context.Context, cfg config.Config, m *metrics.Metrics) (*auth.Permissions, error) {
	var objects storage.ObjectStorage
	if strings.EqualFold(cfg.Permissions.Source, policy.SourceStorage) {
		var err error
		objects, err = storage.New(ctx, cfg.Storage)
		if err != nil {
			return nil, fmt.Errorf("open object storage: %w", err)
		}
	}

	loader, err := policy.NewLoader(cfg.Permissions, objects, s.logger)
	if err != nil {
		return nil, err
	}
	permissions, err := auth.NewPermissions(auth.DefaultPermissionTable())
	if err != nil {
		return nil, err
	}
	loader.OnSwap(func(table auth.PermissionTable) { m.SetPermissionsVersion(table.Version) })
	if err := loader.Refresh(ctx, permissions); err != nil {
		return nil, fmt.Errorf("load permission table from %s: %w", loader.Source(), err)
	}
	m.SetPermissionsVersion(permissions.Version())

	go loader.Run(bgCtx, permissions, cfg.Permissions.RefreshInterval)
	return permissions, nil
}

func (s *Server) openAudit(ctx context.Context, cfg config.AuditConfig) (*audit.Recorder, error) {
	sinks := []audit.Sink{audit.NewLogSink(s.logger)}

	backend, err := mq.New(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect audit backend: %w", err)
	}
	if backend != nil {
		s.onClose(backend.Close)
		sink, err := audit.NewPublisherSink(backend, cfg.Channel)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, sink)
	}
	return audit.NewRecorder(s.logger, sinks...), nil
}

func (s *Server) onClose(fn func() error) {
	s.closers = append(s.closers, fn)
}

func (s *Server) close() {
	s.cancel()
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			s.logger.Warn("close dependency", slog.Any("error", err))
		}
	}
	s.closers = nil
}

// Router exposes the chi router for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start runs the HTTP server until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("listening", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests, stops background workers and closes
// connections.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	s.close()
	return err
}
