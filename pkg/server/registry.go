package server

import (
	"regexp"
	"sort"
	"strings"
	"sync"
)

// usernameRegex restricts registered names to a safe charset. Length is
// bounded separately (configurable). Validation failures are reported to the
// requester and change no state.
var usernameRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

const defaultMaxNameLength = 20

// deliverFunc hands a line to a recipient session. The server wires in an
// implementation that tears the recipient down on failure, so directories
// never learn about broken sinks.
type deliverFunc func(sess *Session, line string)

// Registry is the authoritative table of registered sessions, unique by
// case-insensitive username. A session appears here if and only if its state
// is StateRegistered. One mutex covers the check-then-insert so two sessions
// can never claim the same name concurrently.
type Registry struct {
	mu         sync.Mutex
	byName     map[string]*Session // lowercase username -> session
	clean      func(string) bool   // content-filter clean check for names
	deliver    deliverFunc
	metrics    *Metrics
	maxNameLen int
}

// NewRegistry creates an empty registry. clean is the content filter's
// predicate; deliver is the delivery sink used for broadcasts.
func NewRegistry(clean func(string) bool, deliver deliverFunc) *Registry {
	return &Registry{
		byName:     make(map[string]*Session),
		clean:      clean,
		deliver:    deliver,
		maxNameLen: defaultMaxNameLength,
	}
}

// SetMetrics attaches metrics to the registry.
func (r *Registry) SetMetrics(metrics *Metrics) {
	r.metrics = metrics
}

// SetMaxNameLength overrides the username length limit.
func (r *Registry) SetMaxNameLength(n int) {
	if n > 0 {
		r.maxNameLen = n
	}
}

// validateName checks a requested username against the charset, length and
// content-filter rules.
func (r *Registry) validateName(name string) error {
	if name == "" {
		return ErrEmptyName
	}
	if len(name) > r.maxNameLen || !usernameRegex.MatchString(name) {
		return ErrInvalidName
	}
	if r.clean != nil && !r.clean(name) {
		return ErrDirtyName
	}
	return nil
}

// Register binds a username to a session and marks it registered. Rejects
// empty or malformed names, names the content filter objects to, and names
// already held by another session (case-insensitive).
func (r *Registry) Register(sess *Session, requestedName string) error {
	requestedName = strings.TrimSpace(requestedName)
	if err := r.validateName(requestedName); err != nil {
		return err
	}

	key := strings.ToLower(requestedName)

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, taken := r.byName[key]; taken {
		return ErrNameTaken
	}

	sess.mu.Lock()
	if sess.state == StateClosed {
		sess.mu.Unlock()
		return ErrNotRegistered
	}
	if sess.state == StateRegistered {
		sess.mu.Unlock()
		return ErrAlreadyRegistered
	}
	sess.username = requestedName
	sess.state = StateRegistered
	sess.mu.Unlock()

	r.byName[key] = sess
	if r.metrics != nil {
		r.metrics.RecordRegisteredUsers(len(r.byName))
	}
	return nil
}

// Unregister removes a session from the registry. Idempotent: unregistering
// a session that is not registered is a no-op. Reports whether the session
// was registered, so callers can decide about departure announcements.
func (r *Registry) Unregister(sess *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess.mu.Lock()
	name := sess.username
	registered := sess.state == StateRegistered
	if registered {
		sess.state = StateUnregistered
	}
	sess.username = ""
	sess.mu.Unlock()

	if !registered {
		return false
	}

	key := strings.ToLower(name)
	if r.byName[key] == sess {
		delete(r.byName, key)
	}
	if r.metrics != nil {
		r.metrics.RecordRegisteredUsers(len(r.byName))
	}
	return true
}

// Rename atomically rebinds a session to a new username. The old name is
// freed and the new one claimed inside one critical section: no third party
// can grab the old name mid-operation, and at no instant are both names held.
func (r *Registry) Rename(sess *Session, newName string) error {
	newName = strings.TrimSpace(newName)
	if err := r.validateName(newName); err != nil {
		return err
	}

	newKey := strings.ToLower(newName)

	r.mu.Lock()
	defer r.mu.Unlock()

	sess.mu.Lock()
	oldName := sess.username
	registered := sess.state == StateRegistered
	sess.mu.Unlock()

	if !registered {
		return ErrNotRegistered
	}

	oldKey := strings.ToLower(oldName)
	if holder, taken := r.byName[newKey]; taken && holder != sess {
		return ErrNameTaken
	}

	delete(r.byName, oldKey)
	r.byName[newKey] = sess

	sess.mu.Lock()
	sess.username = newName
	sess.mu.Unlock()

	return nil
}

// FindByUsername performs a case-insensitive exact-match lookup.
func (r *Registry) FindByUsername(name string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.byName[strings.ToLower(name)]
	return sess, ok
}

// Broadcast delivers a pre-formatted line to every registered session except
// the excluded one (normally the sender). Unregistered sessions never receive
// broadcasts. All recipients observe identical content.
func (r *Registry) Broadcast(line string, exclude *Session) {
	r.mu.Lock()
	recipients := make([]*Session, 0, len(r.byName))
	for _, sess := range r.byName {
		if sess != exclude {
			recipients = append(recipients, sess)
		}
	}
	r.mu.Unlock()

	for _, sess := range recipients {
		r.deliver(sess, line)
	}
}

// ListUsernames returns all registered usernames in sorted order.
func (r *Registry) ListUsernames() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.byName))
	for _, sess := range r.byName {
		names = append(names, sess.Username())
	}
	sort.Strings(names)
	return names
}

// Count returns the number of registered sessions.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byName)
}
