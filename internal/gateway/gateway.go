// ABOUTME: Gateway orchestrator that coordinates the HTTP and gRPC health servers
// ABOUTME: Wires store, registry, relay and messaging service and owns their lifecycle

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"

	"github.com/2389/giftbox-chat/internal/auth"
	"github.com/2389/giftbox-chat/internal/config"
	"github.com/2389/giftbox-chat/internal/convkey"
	"github.com/2389/giftbox-chat/internal/dedupe"
	"github.com/2389/giftbox-chat/internal/directory"
	"github.com/2389/giftbox-chat/internal/messaging"
	"github.com/2389/giftbox-chat/internal/ratelimit"
	"github.com/2389/giftbox-chat/internal/registry"
	"github.com/2389/giftbox-chat/internal/relay"
	"github.com/2389/giftbox-chat/internal/store"
)

const (
	// idempotencyMaxEntries bounds the Idempotency-Key cache.
	idempotencyMaxEntries = 100_000
	// storeProbeInterval is how often the gRPC health status is refreshed.
	storeProbeInterval = 10 * time.Second
	pingTimeout        = 2 * time.Second
)

// Backend is a message store that also serves the user and listing directories.
// SQLiteStore and MongoStore both satisfy it.
type Backend interface {
	store.MessageStore
	directory.Users
	directory.Listings
}

// Gateway orchestrates the giftbox-chat server components.
type Gateway struct {
	config      *config.Config
	store       Backend
	registry    *registry.Registry
	fanout      *relay.Fanout
	service     *messaging.Service
	dedupe      *dedupe.Cache
	sendLimit   *ratelimit.Limiter
	typingLimit *ratelimit.Limiter
	verifier    *auth.JWTVerifier
	upgrader    websocket.Upgrader
	health      *health.Server
	grpcServer  *grpc.Server
	httpServer  *http.Server
	logger      *slog.Logger
}

// initStore opens the configured message store.
func initStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (Backend, error) {
	switch cfg.Database.Driver {
	case "mongo":
		s, err := store.NewMongoStore(ctx, cfg.Database.MongoURI, cfg.Database.MongoDatabase, logger)
		if err != nil {
			return nil, fmt.Errorf("initializing store: %w", err)
		}
		return s, nil
	default:
		s, err := store.NewSQLiteStore(cfg.Database.Path, store.WithLogger(logger))
		if err != nil {
			return nil, fmt.Errorf("initializing store: %w", err)
		}
		return s, nil
	}
}

// initRelay connects the configured cross-node relay. Returns nil for driver "none".
func initRelay(ctx context.Context, cfg *config.Config, logger *slog.Logger) (relay.Relay, error) {
	switch cfg.Relay.Driver {
	case "redis":
		r, err := relay.NewRedisRelay(ctx, cfg.Relay.RedisURL, cfg.Relay.Channel, logger)
		if err != nil {
			return nil, fmt.Errorf("initializing redis relay: %w", err)
		}
		return r, nil
	case "nats":
		r, err := relay.NewNATSRelay(cfg.Relay.NATSURL, cfg.Relay.Channel, "giftbox-chat", logger)
		if err != nil {
			return nil, fmt.Errorf("initializing nats relay: %w", err)
		}
		return r, nil
	default:
		return nil, nil
	}
}

// limiterFor builds a per-user limiter. Negative n disables limiting.
func limiterFor(n int, build func(int) *ratelimit.Limiter) *ratelimit.Limiter {
	if n < 0 {
		return nil
	}
	return build(n)
}

// New creates a new Gateway instance with the given configuration.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}

	s, err := initStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	r, err := initRelay(ctx, cfg, logger)
	if err != nil {
		_ = s.Close()
		return nil, err
	}

	gw, err := newGateway(cfg, s, r, logger)
	if err != nil {
		if r != nil {
			_ = r.Close()
		}
		_ = s.Close()
		return nil, err
	}
	return gw, nil
}

// newGateway assembles a Gateway around an already-open store and optional relay.
func newGateway(cfg *config.Config, s Backend, r relay.Relay, logger *slog.Logger) (*Gateway, error) {
	verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	if err != nil {
		return nil, fmt.Errorf("creating JWT verifier: %w", err)
	}

	validator, err := convkey.NewValidator(convkey.IDFormat(cfg.Chat.IDFormat))
	if err != nil {
		return nil, fmt.Errorf("creating id validator: %w", err)
	}

	reg := registry.New(logger, registry.WithHeartbeat(cfg.Chat.HeartbeatInterval))
	fanout := relay.NewFanout(reg, r, logger)

	gw := &Gateway{
		config:      cfg,
		store:       s,
		registry:    reg,
		fanout:      fanout,
		dedupe:      dedupe.New(cfg.Chat.IdempotencyTTL, idempotencyMaxEntries),
		sendLimit:   limiterFor(cfg.RateLimit.MessagesPerMinute, ratelimit.PerMinute),
		typingLimit: limiterFor(cfg.RateLimit.TypingPerSecond, ratelimit.PerSecond),
		verifier:    verifier,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		health: health.NewServer(),
		logger: logger.With("component", "gateway"),
	}

	gw.service = messaging.New(messaging.Options{
		Store:            s,
		Users:            s,
		Listings:         s,
		Registry:         reg,
		Notifier:         fanout,
		Validator:        validator,
		Idempotency:      gw.dedupe,
		SendLimiter:      gw.sendLimit,
		TypingLimiter:    gw.typingLimit,
		MaxContentLength: cfg.Chat.MaxContentLength,
	}, logger)

	if cfg.Server.GRPCAddr != "" {
		gw.grpcServer = grpc.NewServer(
			grpc.KeepaliveParams(keepalive.ServerParameters{
				Time:    15 * time.Second,
				Timeout: 5 * time.Second,
			}),
			grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
				MinTime:             5 * time.Second,
				PermitWithoutStream: true,
			}),
		)
		healthpb.RegisterHealthServer(gw.grpcServer, gw.health)
	}

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           gw.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return gw, nil
}

// Handler returns the HTTP routes. Health endpoints are unauthenticated;
// every /api/chat route requires a valid token for a known user.
func (g *Gateway) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", g.handleHealth)
	mux.HandleFunc("GET /health/ready", g.handleReady)

	authMiddleware := auth.HTTPAuthMiddleware(g.store, g.verifier, g.logger)
	mux.Handle("GET /api/chat/events", authMiddleware(http.HandlerFunc(g.handleEvents)))
	mux.Handle("GET /api/chat/ws", authMiddleware(http.HandlerFunc(g.handleWebSocket)))
	mux.Handle("GET /api/chat/conversations", authMiddleware(http.HandlerFunc(g.handleConversations)))
	mux.Handle("GET /api/chat/messages", authMiddleware(http.HandlerFunc(g.handleThread)))
	mux.Handle("POST /api/chat/messages", authMiddleware(http.HandlerFunc(g.handleSendMessage)))
	mux.Handle("POST /api/chat/mark-read", authMiddleware(http.HandlerFunc(g.handleMarkRead)))
	mux.Handle("GET /api/chat/unread-count", authMiddleware(http.HandlerFunc(g.handleUnreadCount)))
	mux.Handle("POST /api/chat/typing", authMiddleware(http.HandlerFunc(g.handleTyping)))

	return mux
}

// setupListeners creates TCP listeners for HTTP and, when configured, gRPC.
func (g *Gateway) setupListeners() (httpLn, grpcLn net.Listener, err error) {
	g.logger.Info("starting gateway",
		"http_addr", g.config.Server.HTTPAddr,
		"grpc_addr", g.config.Server.GRPCAddr,
	)

	httpLn, err = net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return nil, nil, fmt.Errorf("listening on HTTP address: %w", err)
	}

	if g.grpcServer == nil {
		return httpLn, nil, nil
	}

	grpcLn, err = net.Listen("tcp", g.config.Server.GRPCAddr)
	if err != nil {
		_ = httpLn.Close()
		return nil, nil, fmt.Errorf("listening on gRPC address: %w", err)
	}
	return httpLn, grpcLn, nil
}

// startServers starts the servers and the relay subscriber, returning an error channel.
func (g *Gateway) startServers(ctx context.Context, httpLn, grpcLn net.Listener) chan error {
	errCh := make(chan error, 3)

	go func() {
		g.logger.Info("HTTP server listening", "addr", httpLn.Addr().String())
		if err := g.httpServer.Serve(httpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	if grpcLn != nil {
		go func() {
			g.logger.Info("gRPC health server listening", "addr", grpcLn.Addr().String())
			if err := g.grpcServer.Serve(grpcLn); err != nil {
				errCh <- fmt.Errorf("gRPC server: %w", err)
			}
		}()
	}

	go func() {
		if err := g.fanout.Run(ctx); err != nil {
			errCh <- err
		}
	}()

	go g.watchStore(ctx)

	return errCh
}

// waitForShutdownSignal waits for context cancellation or server error.
func (g *Gateway) waitForShutdownSignal(ctx context.Context, errCh chan error) error {
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
		return nil
	case err := <-errCh:
		g.logger.Error("server error", "error", err)
		g.drainErrors(errCh)
		return err
	}
}

// drainErrors drains any remaining errors from the channel.
func (g *Gateway) drainErrors(errCh chan error) {
	select {
	case additionalErr := <-errCh:
		g.logger.Error("additional server error", "error", additionalErr)
	default:
	}
}

// Run starts the gateway servers and blocks until the context is canceled.
// Returns nil on graceful shutdown (context canceled), or an error if a server fails.
func (g *Gateway) Run(ctx context.Context) error {
	httpLn, grpcLn, err := g.setupListeners()
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := g.startServers(runCtx, httpLn, grpcLn)
	serverErr := g.waitForShutdownSignal(runCtx, errCh)
	cancel()

	shutdownErr := g.gracefulShutdown()

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

// watchStore keeps the gRPC health status in line with store reachability.
func (g *Gateway) watchStore(ctx context.Context) {
	ticker := time.NewTicker(storeProbeInterval)
	defer ticker.Stop()

	for {
		g.updateHealth(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (g *Gateway) updateHealth(ctx context.Context) {
	status := healthpb.HealthCheckResponse_SERVING
	if err := g.pingStore(ctx); err != nil {
		g.logger.Warn("store unreachable", "error", err)
		status = healthpb.HealthCheckResponse_NOT_SERVING
	} else if err := g.pingRelay(ctx); err != nil {
		g.logger.Warn("relay unreachable", "error", err)
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	g.health.SetServingStatus("", status)
}

func (g *Gateway) pingStore(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	return g.store.Ping(ctx)
}

// pingRelay is always nil when no relay is configured.
func (g *Gateway) pingRelay(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	return g.fanout.Ping(ctx)
}

// shutdownGRPCServer gracefully stops the gRPC server or force-stops on context cancel.
func (g *Gateway) shutdownGRPCServer(ctx context.Context) {
	if g.grpcServer == nil {
		return
	}
	stopped := make(chan struct{})
	go func() {
		g.grpcServer.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-ctx.Done():
		g.grpcServer.Stop()
	}
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// closeOptionalComponents closes components that may be nil.
func (g *Gateway) closeOptionalComponents() {
	if g.dedupe != nil {
		g.dedupe.Close()
	}
	if g.sendLimit != nil {
		g.sendLimit.Close()
	}
	if g.typingLimit != nil {
		g.typingLimit.Close()
	}
}

// Shutdown gracefully stops all gateway servers and releases resources.
// Keep-alives are disabled and the registry closed before the HTTP server
// waits for in-flight requests, so every stream handler returns, including
// one that opens after the registry closes.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	g.health.Shutdown()
	g.httpServer.SetKeepAlivesEnabled(false)
	g.registry.Close()

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))

	g.shutdownGRPCServer(ctx)

	errs = appendCloseError(errs, "relay close", g.fanout.Close())
	errs = appendCloseError(errs, "store close", g.store.Close())

	g.closeOptionalComponents()

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

// handleReady returns 200 OK if the store and the relay, when configured, answer a ping.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := g.pingStore(r.Context()); err != nil {
		g.logger.Warn("readiness check failed", "error", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("store unavailable"))
		return
	}
	if err := g.pingRelay(r.Context()); err != nil {
		g.logger.Warn("readiness check failed", "error", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("relay unavailable"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (%d connections, %d users)", g.registry.Total(), len(g.registry.Users()))
}
