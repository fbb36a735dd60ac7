package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pardeike/gabp-server/internal/adapter/inbound/tcp"
	"github.com/pardeike/gabp-server/internal/adapter/outbound/audit"
	"github.com/pardeike/gabp-server/internal/adapter/outbound/bridgeconfig"
	"github.com/pardeike/gabp-server/internal/domain/auth"
	"github.com/pardeike/gabp-server/internal/domain/event"
	"github.com/pardeike/gabp-server/internal/domain/session"
	"github.com/pardeike/gabp-server/internal/domain/tool"
	"github.com/pardeike/gabp-server/internal/metrics"
	"github.com/pardeike/gabp-server/pkg/gabp"
)

type lifecycleState int

const (
	stateCreated lifecycleState = iota
	stateRunning
	stateStopped
)

// Config configures a Server. Host/Port describe the loopback address to
// bind; Port 0 binds an ephemeral port. Token is the shared
// secret session/hello must present, in any form auth.NewVerifier
// accepts (bare, sha256:-prefixed, or an argon2id PHC hash).
type Config struct {
	Host  string
	Port  int
	Token string
	Agent AgentInfo

	WriteBridgeConfig bool
	BridgeConfigPath  string // empty uses bridgeconfig.DefaultPath()
	LaunchID          string
}

// Server is the GABP server facade: it holds the tool registry,
// event manager, transport, and session table, and owns their lifecycle.
type Server struct {
	mu    sync.Mutex
	state lifecycleState

	cfg       Config
	verifier  *auth.Verifier
	sessions  *session.Store
	tools     *tool.Registry
	events    *event.Manager
	dispatch  *Dispatcher
	transport *tcp.Transport
	logger    *slog.Logger

	policy  PolicyGate
	metrics *metrics.Metrics
	audit   *audit.Store

	cancel context.CancelFunc
}

// Option configures optional Server dependencies.
type Option func(*Server)

// WithPolicy wires an authorization gate into tools/call handling.
func WithPolicy(p PolicyGate) Option { return func(s *Server) { s.policy = p } }

// WithMetrics wires Prometheus instrumentation.
func WithMetrics(m *metrics.Metrics) Option { return func(s *Server) { s.metrics = m } }

// WithAudit wires a connection-lifecycle audit trail.
func WithAudit(store *audit.Store) Option { return func(s *Server) { s.audit = store } }

// WithLogger overrides the default slog.Logger.
func WithLogger(logger *slog.Logger) Option { return func(s *Server) { s.logger = logger } }

// NewServer constructs a Server and registers the built-in channels
// system/status and system/log. The server is not listening until
// Start is called.
func NewServer(cfg Config, opts ...Option) *Server {
	s := &Server{
		cfg:      cfg,
		verifier: auth.NewVerifier(cfg.Token),
		sessions: session.NewStore(),
		tools:    tool.NewRegistry(),
		events:   event.NewManager(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.events.Register("system/status", "System status events")
	s.events.Register("system/log", "System log events")

	s.dispatch = NewDispatcher(s.verifier, s.tools, s.events, cfg.Agent, s.policy, s.metrics, s.logger)
	return s
}

// Tools returns the tool registry, for host applications to register
// handlers against before or after Start.
func (s *Server) Tools() *tool.Registry { return s.tools }

// Events returns the event manager, for host applications to register
// channels and emit payloads.
func (s *Server) Events() *event.Manager { return s.events }

// Port returns the bound TCP port. Valid only after Start succeeds.
func (s *Server) Port() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.transport == nil {
		return 0
	}
	return s.transport.Port()
}

// Token returns the configured shared token, exactly as supplied to Config.
func (s *Server) Token() string { return s.cfg.Token }

// Start binds the transport and begins serving connections. Starting an
// already-running or stopped Server is an error.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != stateCreated {
		s.mu.Unlock()
		return fmt.Errorf("service: server already started")
	}

	transport, err := tcp.Listen(s.cfg.Host, s.cfg.Port, s.logger)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("service: start: %w", err)
	}
	s.transport = transport
	s.state = stateRunning

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.mu.Unlock()

	if s.cfg.WriteBridgeConfig {
		if err := s.writeBridgeConfig(transport.Addr()); err != nil {
			_ = transport.Close()
			cancel()
			return fmt.Errorf("service: write bridge config: %w", err)
		}
	}

	go func() {
		if err := transport.Serve(runCtx, s.handleConnection); err != nil {
			s.logger.Error("service: transport serve exited with error", "error", err)
		}
	}()

	return nil
}

func (s *Server) writeBridgeConfig(addr string) error {
	path := s.cfg.BridgeConfigPath
	if path == "" {
		var err error
		path, err = bridgeconfig.DefaultPath()
		if err != nil {
			return err
		}
	}
	launchID := s.cfg.LaunchID
	if launchID == "" {
		launchID = uuid.NewString()
	}
	doc := bridgeconfig.NewDocument(s.cfg.Token, addr, launchID, os.Getpid(), time.Now())
	return bridgeconfig.Write(path, doc)
}

// Stop closes the transport and all connections. Idempotent.
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != stateRunning {
		return nil
	}
	s.state = stateStopped
	s.cancel()
	return s.transport.Close()
}

func (s *Server) handleConnection(ctx context.Context, netConn net.Conn) {
	id := uuid.NewString()
	conn := tcp.NewConnection(id, netConn)
	sess := session.New(id)
	s.sessions.Put(sess)

	if s.metrics != nil {
		s.metrics.ConnectionsAccepted.Inc()
	}
	s.auditAppend(ctx, id, audit.KindConnected, "")

	defer func() {
		s.events.Disconnected(conn)
		s.sessions.Remove(id)
		s.auditAppend(ctx, id, audit.KindClosed, "")
	}()

	err := conn.Run(ctx, func(msg *gabp.Message) error {
		if s.metrics != nil {
			s.metrics.FramesDecoded.Inc()
		}
		resp := s.dispatch.Dispatch(ctx, sess, conn, msg)
		if resp == nil {
			return nil
		}
		if msg.Method == "session/hello" {
			switch {
			case resp.Error == nil:
				s.auditAppend(ctx, id, audit.KindAuthenticated, "platform="+sess.Handshake().Platform)
			case resp.Error.Code == gabp.CodeAuthenticationFailed:
				s.auditAppend(ctx, id, audit.KindAuthFailed, "")
			case resp.Error.Code == gabp.CodeMethodNotAllowed:
				s.auditAppend(ctx, id, audit.KindMethodNotAllowed, resp.Error.Message)
			}
		}
		return conn.Send(resp)
	})
	if err != nil {
		if s.metrics != nil && errors.Is(err, gabp.ErrBadFrame) {
			s.metrics.FramesDropped.Inc()
		}
		s.logger.Warn("service: connection closed with error", "connection_id", id, "error", err)
	}
}

func (s *Server) auditAppend(ctx context.Context, connectionID string, kind audit.Kind, detail string) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Append(ctx, audit.Record{
		Timestamp:    time.Now(),
		ConnectionID: connectionID,
		Kind:         kind,
		Detail:       detail,
	}); err != nil {
		s.logger.Warn("service: audit append failed", "error", err)
	}
}
