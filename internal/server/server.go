package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"slices"
	"sync"
	"time"

	"github.com/a-essam23/go-signal/internal/engine"
	"github.com/a-essam23/go-signal/internal/router"
	"github.com/a-essam23/go-signal/internal/server/middleware"
	"github.com/a-essam23/go-signal/pkg/config"
	"github.com/a-essam23/go-signal/pkg/metrics"
	"github.com/a-essam23/go-signal/pkg/pipeline"
	"github.com/a-essam23/go-signal/pkg/state"
	"github.com/a-essam23/go-signal/pkg/state/statemanager"
	"github.com/a-essam23/go-signal/pkg/transport"
	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"golang.org/x/time/rate"
)

var (
	errShutdown         = errors.New("graceful shutdown")
	errConnectionCycled = errors.New("connection cycled by new connection")
)

type App struct {
	logger      *slog.Logger
	registry    state.Registry
	engine      *engine.Registry
	eventRouter *router.EventRouter
	metrics     *metrics.Metrics
	iceServers  []webrtc.ICEServer
	acceptOpts  *websocket.AcceptOptions
	wg          sync.WaitGroup
	http        *http.Server
	config      *config.Config

	ctx context.Context
}

func NewApp(logger *slog.Logger, rootContx context.Context, cfg *config.Config) (*App, error) {
	iceServers, err := cfg.ICE.Resolve()
	if err != nil {
		return nil, err
	}

	registry := statemanager.NewInMemoryManager(logger,
		statemanager.WithMaxRoomIDAttempts(cfg.Rooms.MaxIDAttempts),
	)
	actions := engine.New(logger)
	actions.RegisterCore()
	m := metrics.New(metrics.Gauges{
		Rooms:    registry.RoomCount,
		Sessions: registry.SessionCount,
	})

	app := &App{
		logger:      logger.With(slog.String("component", "server")),
		registry:    registry,
		engine:      actions,
		eventRouter: router.NewEventRouter(logger, registry, actions, m),
		metrics:     m,
		iceServers:  iceServers,
		acceptOpts:  acceptOptions(cfg.Server.AllowedOrigins),
		config:      cfg,
		ctx:         rootContx,
	}

	app.http = &http.Server{
		Addr:              cfg.Server.Address(),
		Handler:           app.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(l net.Listener) context.Context {
			return app.ctx
		},
	}
	return app, nil
}

// Handler returns the full HTTP surface of the relay.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()

	connCounter := middleware.IPConnectionCounter(a.registry.CountSessionsByIP)
	cors := middleware.NewCORS(a.config.Server.AllowedOrigins)

	mux.Handle("/ws",
		middleware.Chain(http.HandlerFunc(a.upgradeHandler),
			middleware.RequestMetadataMiddleware(),
			middleware.NewRequestLogger(a.logger),
			cors,
			middleware.NewConnectionLimiter(a.logger, connCounter, a.cycleOldest, a.config.Server.ConnectionLimit),
		),
	)
	mux.Handle("/config", middleware.Chain(http.HandlerFunc(a.configHandler),
		middleware.RequestMetadataMiddleware(),
		middleware.NewRequestLogger(a.logger),
		cors,
	))
	mux.HandleFunc("GET /healthz", a.healthHandler)
	mux.Handle("GET /metrics", a.metrics.Handler())
	mux.Handle("/", a.staticHandler())
	return mux
}

// cycleOldest evicts the oldest session from ip. The close handshake runs in
// the background so the incoming upgrade is not held up by an unresponsive peer.
func (a *App) cycleOldest(ip string) {
	oldest, found := a.registry.FindOldestSessionByIP(ip)
	if !found {
		return
	}
	a.logger.Info("Cycling connection: closing oldest", slog.String("ip", ip), slog.String("peerID", oldest.ID.String()))
	go oldest.Transport.Close(errConnectionCycled)
}

func (a *App) Run() error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if a.useTLS() {
			a.logger.Info("Server starting", slog.String("addr", a.http.Addr), slog.Bool("tls", true))
			err = a.http.ListenAndServeTLS(a.config.Server.CertFile, a.config.Server.KeyFile)
		} else {
			a.logger.Info("Server starting", slog.String("addr", a.http.Addr), slog.Bool("tls", false))
			err = a.http.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-a.ctx.Done():
		return a.Shutdown()
	case err := <-errCh:
		a.logger.Error("HTTP server failed", slog.Any("error", err))
		return errors.Join(fmt.Errorf("serve: %w", err), a.Shutdown())
	}
}

// useTLS falls back to plain HTTP when the configured files are missing.
func (a *App) useTLS() bool {
	srv := a.config.Server
	if !srv.TLSConfigured() {
		return false
	}
	for _, path := range []string{srv.CertFile, srv.KeyFile} {
		if _, err := os.Stat(path); err != nil {
			a.logger.Error("TLS file unavailable, falling back to HTTP", slog.String("file", path), slog.Any("error", err))
			return false
		}
	}
	return true
}

func (a *App) upgradeHandler(w http.ResponseWriter, r *http.Request) {
	var ip string
	if reqMeta, ok := middleware.ReqMetadataFrom(r.Context()); ok {
		ip = reqMeta.IP
	}

	wsConn, err := websocket.Accept(w, r, a.acceptOpts)
	if err != nil {
		a.logger.Error("Failed to accept websocket connection", slog.Any("error", err))
		return
	}

	conn := transport.NewConnection(
		r.Context(),
		&a.wg,
		wsConn,
		a.connectionConfig(),
		nil,
		nil,
		a.logger,
	)
	connLogger := a.logger.With(
		slog.String("remoteAddr", ip),
		slog.String("peerID", conn.ID().String()),
	)

	// register new session; its peer id is the connection id
	session := state.NewSession(conn.ID(), ip, conn)
	if t := a.config.Transport; t.MessagesPerSecond > 0 {
		session.Limiter = rate.NewLimiter(rate.Limit(t.MessagesPerSecond), t.MessageBurst)
	}
	if err := a.registerSession(session); err != nil {
		if errors.Is(err, statemanager.ErrIPLimitReached) {
			connLogger.Warn("IP connection limit reached after upgrade", slog.Any("error", err))
			_ = wsConn.Close(websocket.StatusTryAgainLater, "too many active connections")
			return
		}
		connLogger.Error("Failed to register session", slog.Any("error", err))
		_ = wsConn.CloseNow()
		return
	}
	if reqMeta, ok := middleware.ReqMetadataFrom(r.Context()); ok {
		reqMeta.PeerID = session.ID.String()
	}
	conn.SetOnMessageHandler(a.eventRouter.HandleMessage)
	conn.SetOnCloseHandler(func(id uuid.UUID, err error) {
		a.teardown(connLogger, session, err)
	})

	a.metrics.ConnectionAccepted()
	connLogger.Info("Peer connection fully established")
	conn.Run()
	<-conn.Done()
}

// registerSession enforces the reject-mode limit again while registering, since
// concurrent upgrades from one IP can all pass the middleware's count. Cycle
// mode stays lenient because the evicted session deregisters asynchronously.
func (a *App) registerSession(session *state.Session) error {
	limits := a.config.Server.ConnectionLimit
	if limits.Mode == config.LimitModeReject && limits.MaxPerIP > 0 {
		return a.registry.RegisterSessionCapped(session, limits.MaxPerIP)
	}
	return a.registry.RegisterSession(session)
}

// teardown runs once per connection, after its last message was handled.
func (a *App) teardown(logger *slog.Logger, session *state.Session, reason error) {
	logger.Info("Tearing down peer", slog.Any("reason", reason))
	pctx := &pipeline.Cargo{
		Logger:   logger,
		Ctx:      context.Background(),
		Session:  session,
		Registry: a.registry,
		Metrics:  a.metrics,
	}
	engine.Depart(pctx)
	if err := a.registry.DeregisterSession(session.ID); err != nil {
		logger.Error("Failed to deregister session", slog.Any("error", err))
	}
}

func (a *App) connectionConfig() transport.ConnectionConfig {
	t := a.config.Transport
	return transport.ConnectionConfig{
		HeartbeatInterval: t.HeartbeatInterval,
		PongTimeout:       t.PongTimeout,
		WriteTimeout:      t.WriteTimeout,
		SendQueueSize:     t.SendQueueSize,
		ReadLimit:         t.ReadLimit,
	}
}

// acceptOptions turns allowed origins into websocket origin patterns.
func acceptOptions(allowedOrigins []string) *websocket.AcceptOptions {
	if len(allowedOrigins) == 0 || slices.Contains(allowedOrigins, "*") {
		return &websocket.AcceptOptions{InsecureSkipVerify: true}
	}
	patterns := make([]string, 0, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		if u, err := url.Parse(origin); err == nil && u.Host != "" {
			patterns = append(patterns, u.Host)
			continue
		}
		patterns = append(patterns, origin)
	}
	return &websocket.AcceptOptions{OriginPatterns: patterns}
}

// graceful shutdown sequence.
func (a *App) Shutdown() error {
	a.logger.Info("Shutting down server...")
	timeout := a.config.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := a.http.Shutdown(shutdownCtx); err != nil {
		return err
	}

	// close all active WebSocket connections.
	sessions := a.registry.AllSessions()
	a.logger.Info("Closing all active connections...", slog.Int("count", len(sessions)))
	var closing sync.WaitGroup
	for _, s := range sessions {
		closing.Add(1)
		go func() {
			defer closing.Done()
			s.Transport.Close(errShutdown)
		}()
	}
	closing.Wait()

	// wait for all connection goroutines to finish their cleanup.
	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		a.logger.Info("Server shut down gracefully.")
		return nil
	case <-shutdownCtx.Done():
		return fmt.Errorf("connections still open after %s: %w", timeout, shutdownCtx.Err())
	}
}
