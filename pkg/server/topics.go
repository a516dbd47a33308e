package server

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// TopicDirectory manages keyword-triggered subscription channels. Topic names
// are normalized to lowercase. Unlike groups, a session may subscribe to any
// number of topics, membership is independent of its current group, and
// topics are never deleted automatically.
type TopicDirectory struct {
	mu      sync.Mutex
	subs    map[string]map[*Session]struct{} // lowercase topic -> subscribers
	deliver deliverFunc
	metrics *Metrics
}

// NewTopicDirectory creates an empty topic directory.
func NewTopicDirectory(deliver deliverFunc) *TopicDirectory {
	return &TopicDirectory{
		subs:    make(map[string]map[*Session]struct{}),
		deliver: deliver,
	}
}

// SetMetrics attaches metrics to the topic directory.
func (t *TopicDirectory) SetMetrics(metrics *Metrics) {
	t.metrics = metrics
}

// Create makes a new topic. Fails with ErrTopicExists if the (normalized)
// name is already known.
func (t *TopicDirectory) Create(name string) error {
	name = normalizeTopic(name)
	if name == "" {
		return ErrEmptyName
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	return t.createLocked(name)
}

func (t *TopicDirectory) createLocked(name string) error {
	if _, exists := t.subs[name]; exists {
		return ErrTopicExists
	}
	t.subs[name] = make(map[*Session]struct{})
	if t.metrics != nil {
		t.metrics.RecordTopics(len(t.subs))
	}
	return nil
}

// Subscribe adds a session to a topic's subscriber set.
func (t *TopicDirectory) Subscribe(name string, sess *Session) error {
	name = normalizeTopic(name)
	if name == "" {
		return ErrEmptyName
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	subscribers, exists := t.subs[name]
	if !exists {
		return ErrTopicNotFound
	}
	subscribers[sess] = struct{}{}
	return nil
}

// Unsubscribe removes a session from a topic's subscriber set. Other
// subscriptions of the session are untouched.
func (t *TopicDirectory) Unsubscribe(name string, sess *Session) error {
	name = normalizeTopic(name)
	if name == "" {
		return ErrEmptyName
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	subscribers, exists := t.subs[name]
	if !exists {
		return ErrTopicNotFound
	}
	delete(subscribers, sess)
	return nil
}

// List returns all known topic names, sorted.
func (t *TopicDirectory) List() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	names := make([]string, 0, len(t.subs))
	for name := range t.subs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NotifySubscribers runs the two-phase topic pass for one chat message.
//
// Phase 1 scans the raw body for #word tokens and creates any unknown topic,
// acknowledging the creation to the sender only. Creation is not broadcast.
//
// Phase 2 matches every known topic name as a substring of the lowercased,
// already-filtered body and delivers a topic-tagged copy of the filtered
// message to each subscriber except the sender. Hashtags create topics;
// plain substring containment triggers delivery. The two rules are
// deliberately different.
func (t *TopicDirectory) NotifySubscribers(sender *Session, senderName, rawBody, filteredBody string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, tag := range extractHashtags(rawBody) {
		if err := t.createLocked(tag); err == nil && sender != nil {
			t.deliver(sender, fmt.Sprintf("Topic '%s' created.", tag))
		}
	}

	bodyLower := strings.ToLower(filteredBody)
	delivered := false
	for name, subscribers := range t.subs {
		if !strings.Contains(bodyLower, name) {
			continue
		}
		line := fmt.Sprintf("%s | %s: %s", strings.ToUpper(name), senderName, filteredBody)
		for subscriber := range subscribers {
			if subscriber != sender {
				t.deliver(subscriber, line)
				delivered = true
			}
		}
	}
	if delivered && t.metrics != nil {
		t.metrics.RecordMessageRouted("topic")
	}
}

// RemoveSession drops the session from every topic it subscribes to, as part
// of cascade teardown. Topics themselves survive with empty subscriber sets.
func (t *TopicDirectory) RemoveSession(sess *Session) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, subscribers := range t.subs {
		delete(subscribers, sess)
	}
}

// normalizeTopic lowercases and trims a topic name, dropping a leading '#'.
func normalizeTopic(name string) string {
	name = strings.TrimSpace(strings.ToLower(name))
	return strings.TrimPrefix(name, "#")
}

// extractHashtags returns the normalized names of all #word tokens in body.
func extractHashtags(body string) []string {
	seen := make(map[string]struct{})
	var tags []string
	for _, word := range strings.Fields(body) {
		if !strings.HasPrefix(word, "#") || len(word) < 2 {
			continue
		}
		tag := normalizeTopic(word)
		if tag == "" {
			continue
		}
		if _, dup := seen[tag]; dup {
			continue
		}
		seen[tag] = struct{}{}
		tags = append(tags, tag)
	}
	return tags
}
