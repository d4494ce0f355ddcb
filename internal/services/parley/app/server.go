package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"

	platformgrpc "github.com/louisbranch/parley/internal/platform/grpc"
	"github.com/louisbranch/parley/internal/platform/telemetry/metrics"
	"github.com/louisbranch/parley/internal/platform/timeouts"
	"github.com/louisbranch/parley/internal/services/auth/account"
	"github.com/louisbranch/parley/internal/services/auth/credential"
	"github.com/louisbranch/parley/internal/services/auth/mail"
	"github.com/louisbranch/parley/internal/services/auth/purpose"
	"github.com/louisbranch/parley/internal/services/auth/session"
	"github.com/louisbranch/parley/internal/services/chat/access"
	chatservice "github.com/louisbranch/parley/internal/services/chat/service"
	"github.com/louisbranch/parley/internal/services/parley/api/httpapi"
	"github.com/louisbranch/parley/internal/storage/sqlstore"
)

// HealthService is the gRPC health service name reported while serving.
const HealthService = "parley.v1.API"

const (
	defaultPurgeInterval    = time.Hour
	defaultPurposeRetention = 24 * time.Hour
)

// Config holds everything needed to assemble a Server.
type Config struct {
	HTTPAddr   string
	HealthPort int

	DBDriver string
	DBDSN    string

	Session       session.Config
	Purpose       purpose.Config
	Mail          mail.Config
	MailLogTokens bool
	// BcryptCost overrides the password hashing cost. Zero keeps the default.
	BcryptCost int

	PurgeInterval    time.Duration
	PurposeRetention time.Duration
}

// Server hosts the parley HTTP API and its background loops.
type Server struct {
	config         Config
	store          *sqlstore.Store
	tokens         *purpose.Service
	dispatcher     *mail.Dispatcher
	httpListener   net.Listener
	httpServer     *http.Server
	healthListener net.Listener
	grpcServer     *grpc.Server
	health         *health.Server
}

// New opens the store, wires services, and binds both listeners.
func New(ctx context.Context, cfg Config) (*Server, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if cfg.PurgeInterval <= 0 {
		cfg.PurgeInterval = defaultPurgeInterval
	}
	if cfg.PurposeRetention <= 0 {
		cfg.PurposeRetention = defaultPurposeRetention
	}

	sessions, err := session.NewIssuer(cfg.Session)
	if err != nil {
		return nil, fmt.Errorf("session config: %w", err)
	}

	driver, err := normalizeDriver(cfg.DBDriver)
	if err != nil {
		return nil, err
	}
	store, err := sqlstore.Open(ctx, driver, cfg.DBDSN)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	m := metrics.New()
	credentialOpts := []credential.Option{credential.WithMetrics(m)}
	if cfg.BcryptCost > 0 {
		credentialOpts = append(credentialOpts, credential.WithCost(cfg.BcryptCost))
	}
	credentials, err := credential.NewService(store, credentialOpts...)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("credential service: %w", err)
	}
	tokens := purpose.NewService(store, store, cfg.Purpose, purpose.WithMetrics(m))
	authz := access.NewAuthorizer(store, m)

	handler, err := httpapi.NewHandler(httpapi.Deps{
		Sessions:      sessions,
		Credentials:   credentials,
		Accounts:      account.NewFlows(store, tokens, credentials, nil),
		Users:         store,
		Conversations: chatservice.NewService(store, authz),
		Members:       authz,
		Metrics:       m,
		Health:        store.Ping,
	})
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("http handler: %w", err)
	}

	httpListener, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("listen on http addr %s: %w", cfg.HTTPAddr, err)
	}
	healthListener, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.HealthPort))
	if err != nil {
		_ = httpListener.Close()
		_ = store.Close()
		return nil, fmt.Errorf("listen on health port %d: %w", cfg.HealthPort, err)
	}

	grpcServer, healthServer := platformgrpc.NewHealthServer()
	mailer := mail.LogMailer{RevealTokens: cfg.MailLogTokens}

	return &Server{
		config:         cfg,
		store:          store,
		tokens:         tokens,
		dispatcher:     mail.NewDispatcher(store, mailer, cfg.Mail, nil, m),
		httpListener:   httpListener,
		httpServer:     &http.Server{Handler: handler, ReadHeaderTimeout: timeouts.ReadHeader},
		healthListener: healthListener,
		grpcServer:     grpcServer,
		health:         healthServer,
	}, nil
}

// HTTPAddr returns the bound HTTP listener address.
func (s *Server) HTTPAddr() string {
	if s == nil || s.httpListener == nil {
		return ""
	}
	return s.httpListener.Addr().String()
}

// HealthPort returns the bound gRPC health port.
func (s *Server) HealthPort() int {
	if s == nil || s.healthListener == nil {
		return 0
	}
	if addr, ok := s.healthListener.Addr().(*net.TCPAddr); ok {
		return addr.Port
	}
	return 0
}

// Run creates and serves a parley server until the context ends.
func Run(ctx context.Context, cfg Config) error {
	server, err := New(ctx, cfg)
	if err != nil {
		return err
	}
	return server.Serve(ctx)
}

// Serve starts every listener and loop and blocks until the context ends or
// a listener fails.
func (s *Server) Serve(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	loopCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer s.closeStore()

	grpcErr := make(chan error, 1)
	go func() {
		grpcErr <- s.grpcServer.Serve(s.healthListener)
	}()
	httpErr := make(chan error, 1)
	go func() {
		httpErr <- s.httpServer.Serve(s.httpListener)
	}()
	loopsDone := make(chan struct{}, 2)
	go func() {
		defer func() { loopsDone <- struct{}{} }()
		if err := s.dispatcher.Run(loopCtx); err != nil {
			log.Printf("mail dispatcher stopped: %v", err)
		}
	}()
	go func() {
		defer func() { loopsDone <- struct{}{} }()
		s.purgeLoop(loopCtx)
	}()

	s.health.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	s.health.SetServingStatus(HealthService, grpc_health_v1.HealthCheckResponse_SERVING)
	log.Printf("parley HTTP server listening at %v", s.httpListener.Addr())
	log.Printf("parley health server listening at %v", s.healthListener.Addr())

	shutdown := func() {
		s.health.Shutdown()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), timeouts.Shutdown)
		defer shutdownCancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("shutdown http server: %v", err)
		}
		s.grpcServer.GracefulStop()
		cancel()
		<-loopsDone
		<-loopsDone
	}

	var serveErr error
	select {
	case <-ctx.Done():
	case err := <-httpErr:
		if !errors.Is(err, http.ErrServerClosed) {
			serveErr = fmt.Errorf("serve HTTP: %w", err)
		}
	case err := <-grpcErr:
		if err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			serveErr = fmt.Errorf("serve gRPC health: %w", err)
		}
	}
	shutdown()
	return serveErr
}

// purgeLoop removes purpose tokens whose expiry passed the retention window.
func (s *Server) purgeLoop(ctx context.Context) {
	ticker := time.NewTicker(s.config.PurgeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deleted, err := s.tokens.PurgeExpired(ctx, s.config.PurposeRetention)
			if err != nil {
				if ctx.Err() == nil {
					log.Printf("purge purpose tokens: %v", err)
				}
				continue
			}
			if deleted > 0 {
				log.Printf("purged %d expired purpose tokens", deleted)
			}
		}
	}
}

func (s *Server) closeStore() {
	if s == nil || s.store == nil {
		return
	}
	done := make(chan error, 1)
	go func() {
		done <- s.store.Close()
	}()
	select {
	case err := <-done:
		if err != nil {
			log.Printf("close parley store: %v", err)
		}
	case <-time.After(timeouts.StoreClose):
		log.Printf("close parley store: timed out after %s", timeouts.StoreClose)
	}
}

// normalizeDriver maps user-facing driver names onto registered ones.
func normalizeDriver(driver string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", "sqlite", "sqlite3":
		return sqlstore.DriverSQLite, nil
	case "postgres", "postgresql", "pgx":
		return sqlstore.DriverPostgres, nil
	default:
		return "", fmt.Errorf("unsupported db driver %q", driver)
	}
}
