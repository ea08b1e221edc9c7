// Package server orchestrates the host: bridge broker and connection, store,
// dispatcher, client log channel and the HTTP endpoints.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	comms "github.com/nats-io/nats.go"

	"github.com/radekcihi/electrontrpc/internal/config"
	"github.com/radekcihi/electrontrpc/internal/router"
	"github.com/radekcihi/electrontrpc/pkg/codec"
	"github.com/radekcihi/electrontrpc/pkg/commsutil"
	"github.com/radekcihi/electrontrpc/pkg/db"
	"github.com/radekcihi/electrontrpc/pkg/dispatcher"
	"github.com/radekcihi/electrontrpc/pkg/events"
	"github.com/radekcihi/electrontrpc/pkg/rpcerror"
)

const logPrefix = "server:server"

// Params are the handles a Server is built from.
type Params struct {
	Config    *config.Config
	Conn      *comms.Conn // nil serves HTTP only
	Store     router.Store
	Publisher events.EventPublisher
}

// Server is the apphost orchestrator.
type Server struct {
	cfg       *config.Config
	nc        *comms.Conn
	store     router.Store
	publisher events.EventPublisher
	reg       procedureLister
	bridge    *dispatcher.Dispatcher[*router.Context]
	http      *dispatcher.Dispatcher[*router.Context]

	subs     []*comms.Subscription
	inflight sync.WaitGroup
	mu       sync.Mutex
	closing  bool // set by Unsubscribe; guards inflight.Add
}

// procedureLister is the part of the registry the home page needs.
type procedureLister interface {
	Paths() []string
}

// New builds the router and both dispatchers.
func New(p Params) (*Server, error) {
	cfg := p.Config
	transformer, err := codec.Lookup(cfg.Transformer)
	if err != nil {
		return nil, fmt.Errorf("%s - %w", logPrefix, err)
	}
	reg, err := router.New()
	if err != nil {
		return nil, fmt.Errorf("%s - failed to build router: %w", logPrefix, err)
	}

	pub := p.Publisher
	if pub == nil {
		pub = &events.NoOpPublisher{}
	}

	opts := dispatcher.Options[*router.Context]{
		Registry: reg,
		CreateContext: router.NewContextFactory(router.Deps{
			Store:       p.Store,
			Events:      pub,
			AppVersion:  cfg.AppVersion,
			ClientRange: cfg.ClientVersionConstraint,
		}),
		Codec:          codec.New(transformer, codec.WithStack(cfg.IncludeStack)),
		Batching:       cfg.BatchingEnabled,
		MaxConcurrency: cfg.MaxConcurrency,
		OnError:        logCallError,
	}
	bridgeOpts, httpOpts := opts, opts
	bridgeOpts.Transport = dispatcher.TransportBridge
	httpOpts.Transport = dispatcher.TransportHTTP

	return &Server{
		cfg:       cfg,
		nc:        p.Conn,
		store:     p.Store,
		publisher: pub,
		reg:       reg,
		bridge:    dispatcher.New(bridgeOpts),
		http:      dispatcher.New(httpOpts),
	}, nil
}

func logCallError(err *rpcerror.Error, meta codec.CallMeta) {
	if err.Code == rpcerror.CodeInternal {
		slog.Error(fmt.Sprintf("%s - %s %s failed: %v", logPrefix, meta.Type, meta.Path, err))
		return
	}
	slog.Debug(fmt.Sprintf("%s - %s %s failed: %v", logPrefix, meta.Type, meta.Path, err))
}

// Subscribe starts serving the request and client log subjects. Each request
// runs in its own goroutine with a context bounded by RequestTimeout.
func (s *Server) Subscribe(ctx context.Context) error {
	if s.nc == nil {
		return fmt.Errorf("%s - no bridge connection", logPrefix)
	}

	s.mu.Lock()
	s.closing = false
	s.mu.Unlock()

	rpcSubject := s.cfg.RPCSubjectOrDefault()
	sub, err := s.nc.Subscribe(rpcSubject, func(msg *comms.Msg) {
		if !s.track() {
			slog.Debug(fmt.Sprintf("%s - dropping request on %s during shutdown", logPrefix, msg.Subject))
			return
		}
		go func() {
			defer s.inflight.Done()
			s.handleRequest(ctx, msg)
		}()
	})
	if err != nil {
		return fmt.Errorf("%s - failed to subscribe to %s: %w", logPrefix, rpcSubject, err)
	}
	s.subs = append(s.subs, sub)
	slog.Info(fmt.Sprintf("%s - Subscribed to %s", logPrefix, rpcSubject))

	logSubject := s.cfg.LogSubjectOrDefault()
	logSub, err := s.nc.Subscribe(logSubject, handleClientLog)
	if err != nil {
		s.Unsubscribe()
		return fmt.Errorf("%s - failed to subscribe to %s: %w", logPrefix, logSubject, err)
	}
	s.subs = append(s.subs, logSub)
	slog.Info(fmt.Sprintf("%s - Subscribed to %s", logPrefix, logSubject))
	return nil
}

func (s *Server) handleRequest(ctx context.Context, msg *comms.Msg) {
	reqCtx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
	defer cancel()

	out := s.bridge.HandleMessage(reqCtx, msg.Data)
	if err := commsutil.Respond(msg, out); err != nil {
		slog.Error(fmt.Sprintf("%s - %v", logPrefix, err))
	}
}

func handleClientLog(msg *comms.Msg) {
	var lm codec.LogMessage
	if err := commsutil.DecodePayload(msg.Data, &lm); err != nil {
		slog.Warn(fmt.Sprintf("%s - undecodable client log message: %v", logPrefix, err))
		return
	}
	slog.Error(fmt.Sprintf("%s - Client error: %s", logPrefix, lm.Message))
}

// track registers one in-flight request unless the server is shutting down.
func (s *Server) track() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	s.inflight.Add(1)
	return true
}

// logEvent records every event the host sends to renderers.
func logEvent(_ context.Context, ev *events.AppAction) error {
	slog.Debug(fmt.Sprintf("%s - event %s payload=%s", logPrefix, ev.Action, ev.Payload))
	return nil
}

// Unsubscribe stops taking new requests and waits for in-flight ones.
func (s *Server) Unsubscribe() {
	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()

	for _, sub := range s.subs {
		if err := sub.Unsubscribe(); err != nil && !errors.Is(err, comms.ErrConnectionClosed) {
			slog.Warn(fmt.Sprintf("%s - unsubscribe %s: %v", logPrefix, sub.Subject, err))
		}
	}
	s.subs = nil
	s.inflight.Wait()
}

// AnnounceReady tells listening renderers the host is serving.
func (s *Server) AnnounceReady(ctx context.Context) {
	ev := events.NewAppAction(events.ActionReady, map[string]string{"version": s.cfg.AppVersion})
	if err := s.publisher.Publish(ctx, ev); err != nil {
		slog.Warn(fmt.Sprintf("%s - failed to announce ready: %v", logPrefix, err))
	}
}

// SetupLogging installs the default slog handler for level.
func SetupLogging(level string) {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})))
}

// Run starts the host, blocks until a shutdown signal, then cleans up.
func Run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("%s - failed to load config: %w", logPrefix, err)
	}
	if err := cfg.ValidateForServe(); err != nil {
		return err
	}
	SetupLogging(cfg.LogLevel)

	slog.Info(fmt.Sprintf("%s - Starting apphost %s", logPrefix, cfg.AppVersion))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Step 1: bridge broker and connection
	commsURL := cfg.COMMSURL
	if cfg.EmbeddedBridge {
		broker, err := commsutil.StartEmbedded(cfg.BridgeHost, cfg.BridgePort)
		if err != nil {
			return fmt.Errorf("%s - failed to start embedded bridge: %w", logPrefix, err)
		}
		defer broker.Shutdown()
		commsURL = broker.ClientURL()
	}
	nc, err := commsutil.Connect(commsURL, cfg.COMMSName)
	if err != nil {
		return fmt.Errorf("%s - failed to connect to bridge: %w", logPrefix, err)
	}
	defer nc.Close()

	// Step 2: database, migrated and seeded when behind
	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("%s - failed to connect to database: %w", logPrefix, err)
	}
	defer pool.Close()
	if err := PrepareDatabase(ctx, cfg, pool); err != nil {
		return err
	}

	// Step 3: dispatcher on the bridge
	s, err := New(Params{
		Config:    cfg,
		Conn:      nc,
		Store:     db.NewRepository(pool),
		Publisher: events.FanOut{
			events.NewCommsPublisher(nc, &events.CommsPublisherOpts{Subject: cfg.EventSubjectOrDefault()}),
			events.NewCallbackPublisher(logEvent),
		},
	})
	if err != nil {
		return err
	}
	if err := s.Subscribe(ctx); err != nil {
		return err
	}

	// Step 4: HTTP health and optional /rpc
	httpAddr := fmt.Sprintf(":%d", cfg.HTTPPort)
	httpServer := &http.Server{Addr: httpAddr, Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}
	go func() {
		slog.Info(fmt.Sprintf("%s - HTTP server listening on %s", logPrefix, httpAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error(fmt.Sprintf("%s - HTTP server error: %v", logPrefix, err))
		}
	}()

	s.AnnounceReady(ctx)
	slog.Info(fmt.Sprintf("%s - apphost is ready", logPrefix))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info(fmt.Sprintf("%s - Received signal %s, shutting down", logPrefix, sig))

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.RequestTimeout)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Warn(fmt.Sprintf("%s - HTTP shutdown: %v", logPrefix, err))
	}
	s.Unsubscribe()
	if err := nc.Drain(); err != nil {
		slog.Warn(fmt.Sprintf("%s - bridge drain: %v", logPrefix, err))
	}

	slog.Info(fmt.Sprintf("%s - Shutdown complete", logPrefix))
	return nil
}
