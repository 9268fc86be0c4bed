// ABOUTME: Server wires the store, registry, identity service and HTTP API from config
// ABOUTME: Runs HTTP and gRPC health listeners over TCP or Tailscale with graceful shutdown

package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"tailscale.com/ipn/ipnstate"
	"tailscale.com/tsnet"

	"github.com/2389/corp-gateway/internal/api"
	"github.com/2389/corp-gateway/internal/auditlog"
	"github.com/2389/corp-gateway/internal/auth"
	"github.com/2389/corp-gateway/internal/cardano"
	"github.com/2389/corp-gateway/internal/challenge"
	"github.com/2389/corp-gateway/internal/config"
	"github.com/2389/corp-gateway/internal/corp"
	"github.com/2389/corp-gateway/internal/identity"
	"github.com/2389/corp-gateway/internal/metrics"
	"github.com/2389/corp-gateway/internal/notify"
	"github.com/2389/corp-gateway/internal/ratelimit"
	"github.com/2389/corp-gateway/internal/store"
)

// tailscaleGRPCPort is where the health service listens on the tailnet.
const tailscaleGRPCPort = ":50051"

// shutdownTimeout bounds graceful shutdown once Run's context is done.
const shutdownTimeout = 5 * time.Second

// Server owns every long-lived component of a gateway process.
type Server struct {
	config   *config.Config
	store    *store.SQLiteStore
	metrics  *metrics.Metrics
	issuer   *challenge.Issuer
	registry *corp.Registry
	identity *identity.Service
	notifier notify.Notifier
	handler  http.Handler
	logger   *slog.Logger

	httpServer  *http.Server
	grpcServer  *grpc.Server
	health      *health.Server
	tsnetServer *tsnet.Server

	// closers release notifier resources in reverse order on shutdown
	closers []io.Closer

	mu    sync.Mutex
	addrs map[string]net.Addr
}

// New builds a Server from cfg. Nothing listens until Run.
func New(cfg *config.Config) (*Server, error) {
	logger := slog.Default().With("component", "server")

	s, err := openStore(cfg.Database)
	if err != nil {
		return nil, err
	}

	srv := &Server{
		config: cfg,
		store:  s,
		logger: logger,
		addrs:  make(map[string]net.Addr),
	}
	if err := srv.wire(); err != nil {
		_ = s.Close()
		return nil, err
	}
	return srv, nil
}

// openStore opens the configured database. CORP_DB_PATH overrides the path.
func openStore(cfg config.DatabaseConfig) (*store.SQLiteStore, error) {
	path := cfg.Path
	if envPath := os.Getenv("CORP_DB_PATH"); envPath != "" {
		path = envPath
	}
	s, err := store.OpenSQLiteStore(cfg.Driver, path)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	return s, nil
}

func (s *Server) wire() error {
	cfg := s.config

	if cfg.Metrics.Enabled {
		s.metrics = metrics.New()
	}

	audit := auditlog.New(s.store, auditlog.WithMetrics(s.metrics))
	// Every address is stored as lowercase bech32 so one stake key has one
	// membership however the wallet spelled it.
	s.registry = corp.NewRegistry(s.store, audit, corp.Options{
		MaxWalletsPerGroup: cfg.Groups.MaxWalletsPerGroup,
		NormalizeWallet:    cardano.NormalizeStakeAddress,
	})

	// Failed signatures are counted once and checked by both the issuer and
	// the identity service.
	var failures *ratelimit.Limiter
	if cfg.Challenges.RateLimit.PerHour > 0 {
		failures = ratelimit.New(cfg.Challenges.RateLimit.PerHour, cfg.Challenges.RateLimit.Burst)
	}
	s.issuer = challenge.NewIssuer(s.store, challenge.Options{
		TTL:             cfg.Challenges.TTL,
		ApplicationName: cfg.Challenges.ApplicationName,
		Failures:        failures,
		Normalize:       s.registry.NormalizeWallet,
		Metrics:         s.metrics,
	})

	policy, err := cardano.ParseNetworkPolicy(cfg.Verifier.Network)
	if err != nil {
		return fmt.Errorf("configuring verifier: %w", err)
	}

	s.notifier, s.closers = buildNotifier(cfg.Notify)

	s.identity = identity.NewService(identity.Config{
		Challenges:      s.store,
		Verifier:        cardano.NewVerifier(policy, s.metrics),
		Registry:        s.registry,
		Notifier:        s.notifier,
		Failures:        failures,
		Metrics:         s.metrics,
		ApplicationName: s.issuer.ApplicationName(),
		NotifyTimeout:   cfg.Notify.Timeout,
	})

	admin, err := buildAdminVerifier(cfg.Auth)
	if err != nil {
		return err
	}
	if admin == nil {
		s.logger.Warn("auth.jwt_secret not set, admin endpoints are disabled")
	}

	metricsPath := ""
	if cfg.Metrics.Enabled {
		metricsPath = cfg.Metrics.Path
	}
	s.handler = api.New(api.Deps{
		Identity:    s.identity,
		Registry:    s.registry,
		Issuer:      s.issuer,
		Admin:       admin,
		Metrics:     s.metrics,
		MetricsPath: metricsPath,
	})

	s.httpServer = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.health = health.NewServer()
	s.grpcServer = grpc.NewServer(
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             10 * time.Second,
			PermitWithoutStream: true,
		}),
	)
	healthpb.RegisterHealthServer(s.grpcServer, s.health)
	return nil
}

// buildAdminVerifier returns a nil interface when no secret is configured so
// the API refuses admin calls instead of accepting any token.
func buildAdminVerifier(cfg config.AuthConfig) (auth.TokenVerifier, error) {
	if cfg.JWTSecret == "" {
		return nil, nil
	}
	v, err := auth.NewJWTVerifier([]byte(cfg.JWTSecret))
	if err != nil {
		return nil, fmt.Errorf("creating JWT verifier: %w", err)
	}
	return v, nil
}

// buildNotifier picks the configured transport and debounces it.
func buildNotifier(cfg config.NotifyConfig) (notify.Notifier, []io.Closer) {
	var base notify.Notifier
	var closers []io.Closer

	switch cfg.Driver {
	case "amqp":
		pub := notify.NewAMQPPublisher(notify.AMQPConfig{
			URL:        cfg.AMQPURL,
			Exchange:   cfg.Exchange,
			RoutingKey: cfg.RoutingKey,
		})
		closers = append(closers, pub)
		base = pub
	default:
		base = notify.NewLogNotifier()
	}

	n := notify.NewDebounced(base, cfg.Debounce)
	if c, ok := n.(io.Closer); ok && n != base {
		closers = append(closers, c)
	}
	return n, closers
}

// Handler returns the HTTP API handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Registry returns the group registry.
func (s *Server) Registry() *corp.Registry {
	return s.registry
}

// Addr returns the bound address of a listener ("http" or "grpc") once Run
// has started it.
func (s *Server) Addr(name string) net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addrs[name]
}

func (s *Server) recordAddr(name string, ln net.Listener) {
	s.mu.Lock()
	s.addrs[name] = ln.Addr()
	s.mu.Unlock()
}

// Run starts the servers and the challenge cleanup loop, then blocks until
// ctx is canceled or a server fails. Returns nil on graceful shutdown.
func (s *Server) Run(ctx context.Context) error {
	grpcLn, httpLn, err := s.setupListeners(ctx)
	if err != nil {
		_ = s.gracefulShutdown()
		return err
	}

	cleanupCtx, stopCleanup := context.WithCancel(ctx)
	cleanupDone := make(chan struct{})
	go func() {
		defer close(cleanupDone)
		s.issuer.Run(cleanupCtx, s.config.Challenges.CleanupInterval)
	}()

	errCh := s.startServers(grpcLn, httpLn)
	serverErr := s.waitForShutdownSignal(ctx, errCh)

	stopCleanup()
	<-cleanupDone

	shutdownErr := s.gracefulShutdown()
	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// setupTCPListeners binds the HTTP address and, if configured, the gRPC one.
func (s *Server) setupTCPListeners() (grpcLn, httpLn net.Listener, err error) {
	s.logger.Info("starting corp-gateway",
		"http_addr", s.config.Server.HTTPAddr,
		"grpc_addr", s.config.Server.GRPCAddr,
	)

	httpLn, err = net.Listen("tcp", s.config.Server.HTTPAddr)
	if err != nil {
		return nil, nil, fmt.Errorf("listening on HTTP address: %w", err)
	}

	if s.config.Server.GRPCAddr != "" {
		grpcLn, err = net.Listen("tcp", s.config.Server.GRPCAddr)
		if err != nil {
			_ = httpLn.Close()
			return nil, nil, fmt.Errorf("listening on gRPC address: %w", err)
		}
	}
	return grpcLn, httpLn, nil
}

// setupListeners creates listeners based on configuration (Tailscale or TCP).
func (s *Server) setupListeners(ctx context.Context) (grpcLn, httpLn net.Listener, err error) {
	if s.config.Tailscale.Enabled {
		if s.config.Server.GRPCAddr != "" || s.config.Server.HTTPAddr != "" {
			s.logger.Warn("server.http_addr and server.grpc_addr are ignored when tailscale is enabled")
		}
		return s.setupTailscaleListeners(ctx)
	}
	return s.setupTCPListeners()
}

// startServers serves each listener in its own goroutine. grpcLn may be nil.
func (s *Server) startServers(grpcLn, httpLn net.Listener) chan error {
	errCh := make(chan error, 2)

	s.recordAddr("http", httpLn)
	go func() {
		s.logger.Info("HTTP server listening", "addr", httpLn.Addr().String())
		if err := s.httpServer.Serve(httpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	if grpcLn != nil {
		s.recordAddr("grpc", grpcLn)
		s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
		go func() {
			s.logger.Info("gRPC health server listening", "addr", grpcLn.Addr().String())
			if err := s.grpcServer.Serve(grpcLn); err != nil {
				errCh <- fmt.Errorf("gRPC server: %w", err)
			}
		}()
	}

	return errCh
}

// waitForShutdownSignal waits for context cancellation or server error.
func (s *Server) waitForShutdownSignal(ctx context.Context, errCh chan error) error {
	select {
	case <-ctx.Done():
		s.logger.Info("context canceled, initiating shutdown")
		return nil
	case err := <-errCh:
		s.logger.Error("server error", "error", err)
		select {
		case additional := <-errCh:
			s.logger.Error("additional server error", "error", additional)
		default:
		}
		return err
	}
}

// gracefulShutdown runs Shutdown with a fresh context since Run's is done.
func (s *Server) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return s.Shutdown(ctx)
}

// Shutdown stops the listeners, waits for in-flight resync notifications and
// releases the notifier and store.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down corp-gateway")

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", s.httpServer.Shutdown(ctx))

	s.health.Shutdown()
	s.shutdownGRPCServer(ctx)

	s.waitForNotifications(ctx)

	for i := len(s.closers) - 1; i >= 0; i-- {
		errs = appendCloseError(errs, "notifier close", s.closers[i].Close())
	}
	if s.tsnetServer != nil {
		errs = appendCloseError(errs, "tailscale shutdown", s.tsnetServer.Close())
	}
	errs = appendCloseError(errs, "store close", s.store.Close())

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}
	return nil
}

// shutdownGRPCServer gracefully stops the gRPC server or force-stops on context cancel.
func (s *Server) shutdownGRPCServer(ctx context.Context) {
	stopped := make(chan struct{})
	go func() {
		s.grpcServer.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-ctx.Done():
		s.grpcServer.Stop()
	}
}

// waitForNotifications gives background resync notifications until ctx is
// done to finish before the notifier is closed under them.
func (s *Server) waitForNotifications(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		s.identity.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn("shutdown timed out waiting for resync notifications")
	}
}

func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// resolveTailscaleStateDir returns the state directory, using default if not configured.
func resolveTailscaleStateDir(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory for tailscale state (set tailscale.state_dir explicitly): %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "corp-gateway", "tailscale"), nil
}

// resolveTailscaleAuthKey returns the auth key from config or TS_AUTHKEY.
func resolveTailscaleAuthKey(configured string) (string, error) {
	authKey := configured
	if authKey == "" {
		authKey = os.Getenv("TS_AUTHKEY")
	}
	if authKey == "" {
		return "", errors.New("tailscale auth key required: set tailscale.auth_key in config or TS_AUTHKEY environment variable")
	}
	return authKey, nil
}

// setupTailscaleListeners joins the tailnet and listens on :80 and :50051.
func (s *Server) setupTailscaleListeners(ctx context.Context) (grpcLn, httpLn net.Listener, err error) {
	tsCfg := s.config.Tailscale

	stateDir, err := resolveTailscaleStateDir(tsCfg.StateDir)
	if err != nil {
		return nil, nil, err
	}
	if err := os.MkdirAll(stateDir, 0700); err != nil {
		return nil, nil, fmt.Errorf("creating tailscale state dir: %w", err)
	}

	authKey, err := resolveTailscaleAuthKey(tsCfg.AuthKey)
	if err != nil {
		return nil, nil, err
	}

	s.tsnetServer = &tsnet.Server{
		Hostname:  tsCfg.Hostname,
		Dir:       stateDir,
		Ephemeral: tsCfg.Ephemeral,
		AuthKey:   authKey,
	}

	s.logger.Info("starting tailscale node", "hostname", tsCfg.Hostname, "state_dir", stateDir, "ephemeral", tsCfg.Ephemeral)
	status, err := s.tsnetServer.Up(ctx)
	if err != nil {
		_ = s.tsnetServer.Close()
		s.tsnetServer = nil
		return nil, nil, fmt.Errorf("starting tailscale: %w", err)
	}
	s.logTailscaleStatus(tsCfg.Hostname, status)

	httpLn, err = s.tsnetServer.Listen("tcp", ":80")
	if err != nil {
		return nil, nil, fmt.Errorf("listening on tailscale HTTP port: %w", err)
	}
	grpcLn, err = s.tsnetServer.Listen("tcp", tailscaleGRPCPort)
	if err != nil {
		_ = httpLn.Close()
		return nil, nil, fmt.Errorf("listening on tailscale gRPC port: %w", err)
	}
	return grpcLn, httpLn, nil
}

func (s *Server) logTailscaleStatus(hostname string, status *ipnstate.Status) {
	var tsAddr, dnsName string
	if len(status.TailscaleIPs) > 0 {
		tsAddr = status.TailscaleIPs[0].String()
	} else {
		s.logger.Warn("tailscale node has no IP addresses assigned")
	}
	if status.Self != nil {
		dnsName = status.Self.DNSName
	}
	s.logger.Info("tailscale node ready", "hostname", hostname, "tailscale_ip", tsAddr, "dns_name", dnsName)
}
