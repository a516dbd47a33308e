package server

import (
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/relaychat/relay/pkg/filter"
)

var (
	errorLog *log.Logger
	debugLog *log.Logger
)

// Server owns the transports and the routing core: session manager, registry,
// group and topic directories, and the router that ties them together. All
// shared state is explicitly constructed here and passed down; nothing is
// ambient.
type Server struct {
	config      ServerConfig
	listener    net.Listener
	sshListener net.Listener

	httpListener    net.Listener
	metricsListener net.Listener

	sessions *SessionManager
	registry *Registry
	groups   *GroupDirectory
	topics   *TopicDirectory
	router   *Router
	filter   *filter.Filter

	metrics      *Metrics
	promRegistry *prometheus.Registry

	shutdown  chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
	startTime time.Time

	// Connection deltas for periodic reporting
	connectionsSinceReport    atomic.Int64
	disconnectionsSinceReport atomic.Int64
}

// ServerConfig holds server configuration
type ServerConfig struct {
	TCPPort           int
	SSHPort           int // 0 or negative = disabled
	HTTPPort          int // public WebSocket endpoint, 0 or negative = disabled
	MetricsPort       int // internal /metrics + /health, 0 or negative = disabled
	SSHHostKeyPath    string
	MaxMessageLength  int
	MaxUsernameLength int
	BannedWords       []string
	MaskRune          rune
}

// DefaultConfig returns default server configuration
func DefaultConfig() ServerConfig {
	return ServerConfig{
		TCPPort:           50000,
		SSHPort:           50022,
		HTTPPort:          8080,
		MetricsPort:       9090,
		SSHHostKeyPath:    "~/.relay/ssh_host_key",
		MaxMessageLength:  4096,
		MaxUsernameLength: 20,
		BannedWords:       filter.DefaultBannedWords,
		MaskRune:          '*',
	}
}

// NewServer creates a new server instance
func NewServer(config ServerConfig) (*Server, error) {
	if err := initLoggers(); err != nil {
		return nil, fmt.Errorf("failed to initialize loggers: %w", err)
	}

	words := config.BannedWords
	if len(words) == 0 {
		words = filter.DefaultBannedWords
	}
	mask := config.MaskRune
	if mask == 0 {
		mask = '*'
	}
	contentFilter, err := filter.New(words, mask)
	if err != nil {
		return nil, fmt.Errorf("failed to build content filter: %w", err)
	}

	promRegistry := prometheus.NewRegistry()
	metrics := newMetricsWithRegisterer(promRegistry)

	s := &Server{
		config:       config,
		filter:       contentFilter,
		metrics:      metrics,
		promRegistry: promRegistry,
		shutdown:     make(chan struct{}),
		startTime:    time.Now(),
	}

	s.sessions = NewSessionManager()
	s.sessions.SetMetrics(metrics)

	s.registry = NewRegistry(contentFilter.Clean, s.deliverTo)
	s.registry.SetMetrics(metrics)
	s.registry.SetMaxNameLength(config.MaxUsernameLength)

	s.groups = NewGroupDirectory(s.deliverTo)
	s.groups.SetMetrics(metrics)

	s.topics = NewTopicDirectory(s.deliverTo)
	s.topics.SetMetrics(metrics)

	s.router = NewRouter(s.registry, s.groups, s.topics, contentFilter.Filter, s.deliverTo, config.MaxMessageLength)
	s.router.SetMetrics(metrics)

	return s, nil
}

// getServerDataDir returns the server data directory, creating it if needed
func getServerDataDir() (string, error) {
	var dataDir string
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		dataDir = filepath.Join(xdg, "relay")
	} else {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		dataDir = filepath.Join(homeDir, ".local", "share", "relay")
	}

	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create data directory: %w", err)
	}

	return dataDir, nil
}

// initLoggers sets up error and debug loggers. Already-initialized loggers
// are left alone so concurrent readers never observe a swap.
func initLoggers() error {
	if errorLog != nil {
		return nil
	}

	dataDir, err := getServerDataDir()
	if err != nil {
		return err
	}

	// Error log goes to stderr and errors.log
	errorLogPath := filepath.Join(dataDir, "errors.log")
	errorFile, err := os.OpenFile(errorLogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err != nil {
		return err
	}

	// Startup marker distinguishes runs in errors.log
	startupMsg := fmt.Sprintf("=== Server started at %s ===\n", time.Now().Format(time.RFC3339))
	if _, err := errorFile.WriteString(startupMsg); err != nil {
		return err
	}

	errorLog = log.New(io.MultiWriter(os.Stderr, errorFile), "ERROR: ", log.LstdFlags)

	// Debug log goes to /dev/null by default (can be enabled via EnableDebugLogging)
	debugLog = log.New(io.Discard, "DEBUG: ", log.LstdFlags)

	return nil
}

// EnableDebugLogging enables debug logging to debug.log
func (s *Server) EnableDebugLogging() {
	dataDir, err := getServerDataDir()
	if err != nil {
		log.Printf("Failed to get data directory: %v", err)
		return
	}

	debugLogPath := filepath.Join(dataDir, "debug.log")
	debugLogFile, err := os.OpenFile(debugLogPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0666)
	if err != nil {
		log.Printf("Failed to open debug.log: %v", err)
		return
	}

	debugLog = log.New(debugLogFile, "DEBUG: ", log.LstdFlags)
	debugLog.Println("Debug logging enabled")
}

// Start starts the TCP, SSH and HTTP servers.
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.config.TCPPort)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.listener = listener
	log.Printf("TCP server listening on %s", listener.Addr())

	if err := s.startSSHServer(); err != nil {
		s.listener.Close()
		return fmt.Errorf("failed to start SSH server: %w", err)
	}

	// Internal metrics server - never expose publicly
	if s.config.MetricsPort > 0 {
		metricsListener, err := net.Listen("tcp", fmt.Sprintf(":%d", s.config.MetricsPort))
		if err != nil {
			s.Stop()
			return fmt.Errorf("failed to listen on metrics port: %w", err)
		}
		s.metricsListener = metricsListener

		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", promhttp.HandlerFor(s.promRegistry, promhttp.HandlerOpts{}))
		metricsMux.HandleFunc("/health", s.HealthHandler)
		log.Printf("Metrics server listening on %s (/metrics, /health) - INTERNAL ONLY", metricsListener.Addr())

		go func() {
			if err := http.Serve(metricsListener, metricsMux); err != nil && !s.isShuttingDown() {
				log.Printf("Metrics server error: %v", err)
			}
		}()
	}

	// Public HTTP server for the WebSocket transport
	if s.config.HTTPPort > 0 {
		httpListener, err := net.Listen("tcp", fmt.Sprintf(":%d", s.config.HTTPPort))
		if err != nil {
			s.Stop()
			return fmt.Errorf("failed to listen on HTTP port: %w", err)
		}
		s.httpListener = httpListener

		publicMux := http.NewServeMux()
		publicMux.HandleFunc("/ws", s.HandleWebSocket)
		log.Printf("Public HTTP server listening on %s (/ws)", httpListener.Addr())

		go func() {
			if err := http.Serve(httpListener, publicMux); err != nil && !s.isShuttingDown() {
				log.Printf("Public HTTP server error: %v", err)
			}
		}()
	}

	// Log metrics every 5 seconds
	s.wg.Add(1)
	go s.metricsLoggingLoop()

	// Accept TCP connections
	s.wg.Add(1)
	go s.acceptLoop()

	return nil
}

// TCPAddr returns the address the TCP listener is bound to. Useful when the
// configured port was 0 (ephemeral).
func (s *Server) TCPAddr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// HTTPAddr returns the address of the public HTTP listener, or nil when the
// WebSocket transport is disabled.
func (s *Server) HTTPAddr() net.Addr {
	if s.httpListener == nil {
		return nil
	}
	return s.httpListener.Addr()
}

// SSHAddr returns the address of the SSH listener, or nil when disabled.
func (s *Server) SSHAddr() net.Addr {
	if s.sshListener == nil {
		return nil
	}
	return s.sshListener.Addr()
}

func (s *Server) isShuttingDown() bool {
	select {
	case <-s.shutdown:
		return true
	default:
		return false
	}
}

// Stop gracefully stops the server. Safe to call more than once.
func (s *Server) Stop() error {
	alreadyStopped := true
	s.stopOnce.Do(func() { alreadyStopped = false })
	if alreadyStopped {
		return nil
	}

	log.Println("Graceful shutdown initiated...")

	close(s.shutdown)

	if s.listener != nil {
		s.listener.Close()
		log.Println("TCP listener closed")
	}
	if s.sshListener != nil {
		s.sshListener.Close()
		log.Println("SSH listener closed")
	}
	if s.httpListener != nil {
		s.httpListener.Close()
	}
	if s.metricsListener != nil {
		s.metricsListener.Close()
	}

	log.Println("Notifying connected clients of shutdown...")
	s.notifyClientsOfShutdown()

	log.Println("Closing all client sessions...")
	s.sessions.CloseAll()

	log.Println("Waiting for background goroutines to finish...")
	s.wg.Wait()

	log.Println("Graceful shutdown complete")
	return nil
}

// notifyClientsOfShutdown sends a final notice to all connected clients. Best
// effort: the write bypasses the outbound queue so it lands before the
// connections are closed.
func (s *Server) notifyClientsOfShutdown() {
	sessions := s.sessions.GetAllSessions()
	if len(sessions) == 0 {
		log.Println("No active sessions to notify")
		return
	}

	sent := 0
	for _, sess := range sessions {
		if err := sess.Conn.WriteLine("Server: Server shutting down."); err == nil {
			sent++
		}
	}
	log.Printf("Shutdown notification sent to %d/%d sessions", sent, len(sessions))
}

// acceptLoop accepts incoming TCP connections
func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.shutdown:
				return
			default:
				log.Printf("Accept error: %v", err)
				continue
			}
		}

		// Disable Nagle's algorithm for immediate sends
		if tcpConn, ok := conn.(*net.TCPConn); ok {
			tcpConn.SetNoDelay(true)
		}

		go s.runSession(NewLineConn(conn), "tcp")
	}
}

// HandleWebSocket upgrades an HTTP request and runs the line protocol over
// the WebSocket connection; each text message is one line.
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		// The relay speaks a public line protocol with its own registration
		// step, so cross-origin browser clients are accepted.
		CheckOrigin: func(r *http.Request) bool { return true },
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		debugLog.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	s.runSession(NewWebSocketLineConn(conn), "ws")
}

// runSession creates a session for a connection and drives its read loop
// until disconnect, then runs the cascade teardown.
func (s *Server) runSession(conn *LineConn, transport string) {
	sess := s.sessions.CreateSession(conn, transport)

	s.connectionsSinceReport.Add(1)
	debugLog.Printf("New %s connection from %s (session %d)", transport, sess.RemoteAddr, sess.ID)

	go sess.writePump(func(failed *Session) {
		debugLog.Printf("Session %d: write failure, dropping", failed.ID)
		s.dropSession(failed)
	})

	s.deliverTo(sess, "Welcome to Relay! Register with /register <name>.")

	defer s.dropSession(sess)

	for {
		line, err := sess.Conn.ReadLine()
		if err != nil {
			// Transport failure is treated exactly like /exit: the deferred
			// cascade teardown runs, nothing is surfaced to anyone.
			s.disconnectionsSinceReport.Add(1)
			if err == io.EOF {
				debugLog.Printf("Session %d: client disconnected", sess.ID)
			} else if !s.isShuttingDown() {
				debugLog.Printf("Session %d: read error: %v", sess.ID, err)
			}
			return
		}

		if err := s.router.HandleLine(sess, line); err != nil {
			if errors.Is(err, ErrClientDisconnecting) {
				s.disconnectionsSinceReport.Add(1)
				debugLog.Printf("Session %d disconnected gracefully", sess.ID)
				return
			}
			errorLog.Printf("Session %d handle error: %v", sess.ID, err)
			s.deliverTo(sess, fmt.Sprintf("Internal error: %v", err))
		}
	}
}

// deliverTo queues a line for a session. A failed delivery (closed session or
// saturated buffer) is never surfaced to the sender; the broken recipient is
// torn down asynchronously instead.
func (s *Server) deliverTo(sess *Session, line string) {
	if sess.Deliver(line) {
		if s.metrics != nil {
			s.metrics.RecordDelivery()
		}
		return
	}

	if s.metrics != nil {
		s.metrics.RecordDeliveryFailure()
	}
	go s.dropSession(sess)
}

// dropSession runs the full disconnect cascade and releases the session.
// Idempotent: every step tolerates an already-removed session.
func (s *Server) dropSession(sess *Session) {
	s.router.Teardown(sess)
	s.sessions.RemoveSession(sess.ID)
}

// HealthHandler reports basic liveness data.
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"status":"ok","uptime_seconds":%d,"sessions":%d,"registered":%d}`+"\n",
		int(time.Since(s.startTime).Seconds()), s.sessions.Count(), s.registry.Count())
}

// metricsLoggingLoop periodically logs key metrics
func (s *Server) metricsLoggingLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-s.shutdown:
			return
		case <-ticker.C:
			activeSessions := s.sessions.Count()
			goroutines := runtime.NumGoroutine()

			connected := s.connectionsSinceReport.Swap(0)
			disconnected := s.disconnectionsSinceReport.Swap(0)

			log.Printf("[METRICS] Active sessions: %d, registered: %d, connected since last: %d, disconnected since last: %d, goroutines: %d",
				activeSessions, s.registry.Count(), connected, disconnected, goroutines)
		}
	}
}
