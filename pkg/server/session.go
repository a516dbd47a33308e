package server

import (
	"sync"
	"sync/atomic"
)

// SessionState is the lifecycle state of a connected session. Registration
// data (username, group) is only meaningful in StateRegistered.
type SessionState int

const (
	StateUnregistered SessionState = iota
	StateRegistered
	StateClosed
)

// outboundBuffer is the per-session delivery queue depth. A recipient that
// falls this far behind is dropped rather than allowed to block senders.
const outboundBuffer = 64

// Session represents one connected, possibly-registered participant. The
// directories hold membership entries pointing at sessions; the session
// itself holds only its output sink, never a back-reference into a directory.
type Session struct {
	ID         uint64
	Conn       *LineConn
	RemoteAddr string
	Transport  string // "tcp", "ssh", or "ws"

	mu           sync.RWMutex // protects state, username, currentGroup
	state        SessionState
	username     string
	currentGroup string

	out  chan string
	done chan struct{}
	once sync.Once
}

// Deliver queues a line for the session's writer goroutine. It never blocks:
// if the session is closed or its buffer is full, Deliver reports false and
// the caller treats the recipient as failed.
func (s *Session) Deliver(line string) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.out <- line:
		return true
	case <-s.done:
		return false
	default:
		return false
	}
}

// writePump drains the outbound queue onto the connection. It runs in its own
// goroutine for the lifetime of the session; a write error stops the pump and
// reports the failure so the session can be torn down.
func (s *Session) writePump(onFailure func(*Session)) {
	for {
		select {
		case <-s.done:
			return
		case line := <-s.out:
			if err := s.Conn.WriteLine(line); err != nil {
				if onFailure != nil {
					onFailure(s)
				}
				return
			}
		}
	}
}

// close releases the output sink. Safe to call more than once.
func (s *Session) close() {
	s.once.Do(func() {
		close(s.done)
		s.Conn.Close()
	})
}

// State returns the session's lifecycle state.
func (s *Session) State() SessionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Username returns the registered username, or "" when unregistered.
func (s *Session) Username() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.username
}

// CurrentGroup returns the name of the group the session is in, or "".
func (s *Session) CurrentGroup() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentGroup
}

// SessionManager tracks every live session, registered or not. Session IDs
// are allocated from an atomic counter and never reused.
type SessionManager struct {
	mu       sync.RWMutex
	sessions map[uint64]*Session
	nextID   uint64
	metrics  *Metrics
}

// NewSessionManager creates an empty session manager.
func NewSessionManager() *SessionManager {
	return &SessionManager{
		sessions: make(map[uint64]*Session),
		nextID:   1,
	}
}

// SetMetrics attaches metrics to the session manager.
func (sm *SessionManager) SetMetrics(metrics *Metrics) {
	sm.metrics = metrics
}

// CreateSession wraps a connection in a new Session and tracks it.
func (sm *SessionManager) CreateSession(conn *LineConn, transport string) *Session {
	sessionID := atomic.AddUint64(&sm.nextID, 1) - 1

	sess := &Session{
		ID:         sessionID,
		Conn:       conn,
		RemoteAddr: conn.RemoteAddr(),
		Transport:  transport,
		state:      StateUnregistered,
		out:        make(chan string, outboundBuffer),
		done:       make(chan struct{}),
	}

	sm.mu.Lock()
	sm.sessions[sessionID] = sess
	count := len(sm.sessions)
	sm.mu.Unlock()

	if sm.metrics != nil {
		sm.metrics.RecordActiveSessions(count)
		sm.metrics.RecordConnection(transport)
	}

	return sess
}

// GetSession returns a session by ID.
func (sm *SessionManager) GetSession(sessionID uint64) (*Session, bool) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	sess, ok := sm.sessions[sessionID]
	return sess, ok
}

// GetAllSessions returns a snapshot of all live sessions.
func (sm *SessionManager) GetAllSessions() []*Session {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	sessions := make([]*Session, 0, len(sm.sessions))
	for _, sess := range sm.sessions {
		sessions = append(sessions, sess)
	}
	return sessions
}

// RemoveSession stops tracking a session and releases its sink. Removing a
// session twice is a no-op.
func (sm *SessionManager) RemoveSession(sessionID uint64) {
	sm.mu.Lock()
	sess, ok := sm.sessions[sessionID]
	if !ok {
		sm.mu.Unlock()
		return
	}
	delete(sm.sessions, sessionID)
	count := len(sm.sessions)
	sm.mu.Unlock()

	if sm.metrics != nil {
		sm.metrics.RecordActiveSessions(count)
	}

	sess.mu.Lock()
	sess.state = StateClosed
	sess.mu.Unlock()

	sess.close()
}

// Count returns the number of live sessions.
func (sm *SessionManager) Count() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(sm.sessions)
}

// CloseAll releases every session. Used during graceful shutdown.
func (sm *SessionManager) CloseAll() {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	for _, sess := range sm.sessions {
		sess.mu.Lock()
		sess.state = StateClosed
		sess.mu.Unlock()
		sess.close()
	}

	sm.sessions = make(map[uint64]*Session)
}
