package server

import (
	"errors"
	"fmt"
	"strings"
)

// ErrClientDisconnecting is returned by HandleLine when the session asked to
// leave (or unregistered); the read loop exits cleanly and runs teardown.
var ErrClientDisconnecting = errors.New("client disconnecting")

// Router is the per-session control loop contract: it classifies each inbound
// line as a command or chat text, delegates to the directories, and performs
// the cascade teardown on disconnect. It has no storage of its own; the
// directories are explicitly passed in, never reached through globals.
type Router struct {
	registry *Registry
	groups   *GroupDirectory
	topics   *TopicDirectory
	filter   func(string) string
	deliver  deliverFunc
	metrics  *Metrics

	maxMessageLength int
}

// NewRouter wires a router to its directories. filter is the content
// filter's transform, applied exactly once to each user-authored body.
func NewRouter(registry *Registry, groups *GroupDirectory, topics *TopicDirectory, filter func(string) string, deliver deliverFunc, maxMessageLength int) *Router {
	return &Router{
		registry:         registry,
		groups:           groups,
		topics:           topics,
		filter:           filter,
		deliver:          deliver,
		maxMessageLength: maxMessageLength,
	}
}

// SetMetrics attaches metrics to the router.
func (rt *Router) SetMetrics(metrics *Metrics) {
	rt.metrics = metrics
}

// HandleLine processes one complete input line for a session. Commands start
// with '/'; any other line is chat text. While the session is unregistered,
// only /register and /exit are accepted.
func (rt *Router) HandleLine(sess *Session, line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}

	if rt.maxMessageLength > 0 && len(line) > rt.maxMessageLength {
		rt.deliver(sess, fmt.Sprintf("Message too long (limit %d bytes).", rt.maxMessageLength))
		return nil
	}

	if !strings.HasPrefix(line, "/") {
		return rt.handleChat(sess, line)
	}

	verb, rest := splitCommand(line)
	switch verb {
	case "exit":
		return ErrClientDisconnecting
	case "register":
		return rt.handleRegister(sess, rest)
	}

	if sess.State() != StateRegistered {
		rt.deliver(sess, "Please register first: /register <name>")
		return nil
	}

	switch verb {
	case "unregister":
		rt.deliver(sess, "You have been unregistered. Goodbye.")
		return ErrClientDisconnecting
	case "rename":
		rt.handleRename(sess, rest)
	case "create":
		rt.handleGroupCreate(sess, rest)
	case "join":
		rt.handleGroupJoin(sess, rest)
	case "leave":
		rt.handleGroupLeave(sess, rest)
	case "remove":
		rt.handleGroupRemove(sess, rest)
	case "list":
		rt.handleGroupList(sess)
	case "users":
		rt.handleUsers(sess)
	case "topic":
		rt.handleTopic(sess, rest)
	case "send":
		rt.handleSend(sess, rest)
	default:
		rt.deliver(sess, fmt.Sprintf("Unknown command '/%s'. Available: register, unregister, rename, create, join, leave, remove, list, users, topic, send, exit", verb))
	}
	return nil
}

// handleChat routes a plain chat line: filtered once, then to the current
// group (or the global broadcast), and independently through the topic pass.
// Group/global and topic delivery are non-exclusive scopes.
func (rt *Router) handleChat(sess *Session, body string) error {
	if sess.State() != StateRegistered {
		rt.deliver(sess, "Please register first: /register <name>")
		return nil
	}

	username := sess.Username()
	filtered := rt.filter(body)

	if group := sess.CurrentGroup(); group != "" {
		line := fmt.Sprintf("GROUP [%s] | %s: %s", group, username, filtered)
		if err := rt.groups.SendToGroup(group, line, sess); err != nil {
			rt.deliver(sess, rt.feedback(err, group))
		} else if rt.metrics != nil {
			rt.metrics.RecordMessageRouted("group")
		}
	} else {
		rt.registry.Broadcast(fmt.Sprintf("GLOBAL | %s: %s", username, filtered), sess)
		if rt.metrics != nil {
			rt.metrics.RecordMessageRouted("global")
		}
	}

	rt.topics.NotifySubscribers(sess, username, body, filtered)
	return nil
}

func (rt *Router) handleRegister(sess *Session, name string) error {
	if sess.State() == StateRegistered {
		rt.deliver(sess, fmt.Sprintf("You are already registered as %s. Use /rename <name> to change your name.", sess.Username()))
		return nil
	}

	if err := rt.registry.Register(sess, name); err != nil {
		rt.deliver(sess, rt.feedback(err, name))
		return nil
	}

	rt.deliver(sess, fmt.Sprintf("Welcome, %s! You are now registered.", sess.Username()))
	rt.registry.Broadcast(fmt.Sprintf("GLOBAL | Server: User %s joined the chat.", sess.Username()), sess)
	return nil
}

func (rt *Router) handleRename(sess *Session, name string) {
	oldName := sess.Username()
	if err := rt.registry.Rename(sess, name); err != nil {
		rt.deliver(sess, rt.feedback(err, name))
		return
	}

	rt.deliver(sess, fmt.Sprintf("You are now known as %s.", sess.Username()))
	rt.registry.Broadcast(fmt.Sprintf("GLOBAL | Server: User %s is now known as %s.", oldName, sess.Username()), sess)
}

func (rt *Router) handleGroupCreate(sess *Session, name string) {
	if err := rt.groups.Create(name); err != nil {
		rt.deliver(sess, rt.feedback(err, name))
		return
	}
	rt.deliver(sess, fmt.Sprintf("Group '%s' created successfully.", strings.TrimSpace(name)))
}

func (rt *Router) handleGroupJoin(sess *Session, name string) {
	if err := rt.groups.Join(name, sess); err != nil {
		rt.deliver(sess, rt.feedback(err, name))
		return
	}
	rt.deliver(sess, fmt.Sprintf("You joined group '%s'.", sess.CurrentGroup()))
}

func (rt *Router) handleGroupLeave(sess *Session, name string) {
	deleted, err := rt.groups.Leave(name, sess)
	if err != nil {
		rt.deliver(sess, rt.feedback(err, name))
		return
	}
	name = strings.TrimSpace(name)
	if deleted {
		rt.deliver(sess, fmt.Sprintf("You left group '%s'. Group was removed as it is now empty.", name))
	} else {
		rt.deliver(sess, fmt.Sprintf("You left group '%s'.", name))
	}
}

func (rt *Router) handleGroupRemove(sess *Session, name string) {
	if err := rt.groups.Remove(name, sess); err != nil {
		rt.deliver(sess, rt.feedback(err, name))
		return
	}
	rt.deliver(sess, fmt.Sprintf("Group '%s' was removed.", strings.TrimSpace(name)))
}

func (rt *Router) handleGroupList(sess *Session) {
	infos := rt.groups.List()
	if len(infos) == 0 {
		rt.deliver(sess, "No groups available.")
		return
	}

	var sb strings.Builder
	sb.WriteString("Available groups:")
	for _, info := range infos {
		sb.WriteString(fmt.Sprintf(" %s (%d members);", info.Name, info.Members))
	}
	rt.deliver(sess, strings.TrimSuffix(sb.String(), ";"))
}

func (rt *Router) handleUsers(sess *Session) {
	names := rt.registry.ListUsernames()
	if len(names) == 0 {
		rt.deliver(sess, "No users online.")
		return
	}
	rt.deliver(sess, fmt.Sprintf("Users online (%d): %s", len(names), strings.Join(names, ", ")))
}

func (rt *Router) handleTopic(sess *Session, rest string) {
	sub, arg := splitCommand("/" + rest)
	switch sub {
	case "create":
		if err := rt.topics.Create(arg); err != nil {
			rt.deliver(sess, rt.feedback(err, arg))
			return
		}
		rt.deliver(sess, fmt.Sprintf("Topic '%s' created.", normalizeTopic(arg)))
	case "subscribe":
		if err := rt.topics.Subscribe(arg, sess); err != nil {
			rt.deliver(sess, rt.feedback(err, arg))
			return
		}
		rt.deliver(sess, fmt.Sprintf("Subscribed to topic '%s'.", normalizeTopic(arg)))
	case "unsubscribe":
		if err := rt.topics.Unsubscribe(arg, sess); err != nil {
			rt.deliver(sess, rt.feedback(err, arg))
			return
		}
		rt.deliver(sess, fmt.Sprintf("Unsubscribed from topic '%s'.", normalizeTopic(arg)))
	case "list":
		names := rt.topics.List()
		if len(names) == 0 {
			rt.deliver(sess, "No topics available.")
			return
		}
		rt.deliver(sess, fmt.Sprintf("Topics: %s", strings.Join(names, ", ")))
	default:
		rt.deliver(sess, "Usage: /topic create|subscribe|unsubscribe|list <name>")
	}
}

// handleSend delivers a message to an explicit target. Forms:
//
//	/send user <name> <message>
//	/send group <name> <message>
//	/send <target> <message>       (legacy: try group name first, then user)
func (rt *Router) handleSend(sess *Session, rest string) {
	first, remainder := splitCommand("/" + rest)
	switch first {
	case "user", "group":
		target, body := splitCommand("/" + remainder)
		if target == "" || body == "" {
			rt.deliver(sess, "Usage: /send user|group <target> <message>")
			return
		}
		if first == "user" {
			rt.sendToUser(sess, target, body)
		} else {
			rt.sendToGroup(sess, target, body)
		}
	case "":
		rt.deliver(sess, "Usage: /send [user|group] <target> <message>")
	default:
		// Legacy form: target then message; group name wins over username.
		target, body := first, remainder
		if body == "" {
			rt.deliver(sess, "Usage: /send <target> <message>")
			return
		}
		if rt.groups.Exists(target) {
			rt.sendToGroup(sess, target, body)
		} else {
			rt.sendToUser(sess, target, body)
		}
	}
}

func (rt *Router) sendToUser(sess *Session, target, body string) {
	recipient, ok := rt.registry.FindByUsername(target)
	if !ok {
		rt.deliver(sess, fmt.Sprintf("User '%s' not found.", target))
		return
	}

	filtered := rt.filter(body)
	rt.deliver(recipient, fmt.Sprintf("PRIVATE | %s: %s", sess.Username(), filtered))
	rt.deliver(sess, fmt.Sprintf("Message sent to %s.", recipient.Username()))
	if rt.metrics != nil {
		rt.metrics.RecordMessageRouted("direct")
	}
}

func (rt *Router) sendToGroup(sess *Session, target, body string) {
	filtered := rt.filter(body)
	line := fmt.Sprintf("GROUP [%s] | %s: %s", target, sess.Username(), filtered)
	if err := rt.groups.SendToGroup(target, line, sess); err != nil {
		rt.deliver(sess, rt.feedback(err, target))
		return
	}
	rt.deliver(sess, fmt.Sprintf("Message sent to group '%s'.", target))
	if rt.metrics != nil {
		rt.metrics.RecordMessageRouted("group")
	}
}

// Teardown runs the full disconnect cascade for a session: group leave (with
// departure announcement), registry unregister (with chat-wide announcement
// when the session was registered), and topic unsubscription. It runs
// unconditionally on both /exit and transport failure, and calling it twice
// is a no-op the second time. The output sink is released by the caller.
func (rt *Router) Teardown(sess *Session) {
	rt.groups.LeaveCurrent(sess)

	name := sess.Username()
	if rt.registry.Unregister(sess) {
		rt.registry.Broadcast(fmt.Sprintf("GLOBAL | Server: User %s left the chat.", name), sess)
	}

	rt.topics.RemoveSession(sess)
}

// feedback translates a routing error into a user-facing line. name is the
// offending argument, included where it helps.
func (rt *Router) feedback(err error, name string) string {
	name = strings.TrimSpace(name)
	switch {
	case errors.Is(err, ErrEmptyName):
		return "Name cannot be empty."
	case errors.Is(err, ErrInvalidName):
		return fmt.Sprintf("Invalid name '%s'. Use letters, digits, '-' or '_'.", name)
	case errors.Is(err, ErrDirtyName):
		return fmt.Sprintf("Name '%s' is not allowed.", name)
	case errors.Is(err, ErrNameTaken):
		return fmt.Sprintf("Username '%s' is already taken.", name)
	case errors.Is(err, ErrUserNotFound):
		return fmt.Sprintf("User '%s' not found.", name)
	case errors.Is(err, ErrGroupNotFound):
		return fmt.Sprintf("Group '%s' does not exist.", name)
	case errors.Is(err, ErrGroupExists):
		return fmt.Sprintf("Group '%s' already exists.", name)
	case errors.Is(err, ErrAlreadyMember):
		return fmt.Sprintf("You are already in group '%s'.", name)
	case errors.Is(err, ErrNotMember):
		return fmt.Sprintf("You are not in group '%s'.", name)
	case errors.Is(err, ErrTopicNotFound):
		return fmt.Sprintf("Topic '%s' does not exist.", normalizeTopic(name))
	case errors.Is(err, ErrTopicExists):
		return fmt.Sprintf("Topic '%s' already exists.", normalizeTopic(name))
	case errors.Is(err, ErrNotRegistered):
		return "Please register first: /register <name>"
	case errors.Is(err, ErrAlreadyRegistered):
		return "You are already registered. Use /rename <name> to change your name."
	default:
		return fmt.Sprintf("Error: %v", err)
	}
}

// splitCommand splits "/verb rest of line" into a lowercase verb and the
// untrimmed-on-the-inside remainder. The trailing argument may contain
// embedded whitespace (message bodies).
func splitCommand(line string) (verb, rest string) {
	line = strings.TrimPrefix(line, "/")
	parts := strings.SplitN(line, " ", 2)
	verb = strings.ToLower(strings.TrimSpace(parts[0]))
	if len(parts) == 2 {
		rest = strings.TrimSpace(parts[1])
	}
	return verb, rest
}
