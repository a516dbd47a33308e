package server

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// GroupInfo is one row of a group listing.
type GroupInfo struct {
	Name    string
	Members int
}

// GroupDirectory manages named chat groups with mutually exclusive
// membership: a session is in at most one group, and a group's member set
// contains a session exactly when that session's CurrentGroup names it. Both
// sides of the relation flip inside the directory's single lock. Groups whose
// member set becomes empty are deleted.
//
// Group names are case-sensitive (leading/trailing whitespace trimmed).
type GroupDirectory struct {
	mu      sync.Mutex
	groups  map[string]map[*Session]struct{}
	deliver deliverFunc
	metrics *Metrics
}

// NewGroupDirectory creates an empty group directory.
func NewGroupDirectory(deliver deliverFunc) *GroupDirectory {
	return &GroupDirectory{
		groups:  make(map[string]map[*Session]struct{}),
		deliver: deliver,
	}
}

// SetMetrics attaches metrics to the group directory.
func (g *GroupDirectory) SetMetrics(metrics *Metrics) {
	g.metrics = metrics
}

// Create makes a new, empty group. Fails with ErrGroupExists if the name is
// already in use.
func (g *GroupDirectory) Create(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return ErrEmptyName
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.groups[name]; exists {
		return ErrGroupExists
	}
	g.groups[name] = make(map[*Session]struct{})
	g.recordGaugeLocked()
	return nil
}

// Join adds a session to a group, implicitly leaving its previous group
// first. The transition is atomic: no observer ever sees the session in two
// groups. Joining the group the session is already in fails with
// ErrAlreadyMember so the user gets feedback instead of silence.
func (g *GroupDirectory) Join(name string, sess *Session) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return ErrEmptyName
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	members, exists := g.groups[name]
	if !exists {
		return ErrGroupNotFound
	}
	if _, in := members[sess]; in {
		return ErrAlreadyMember
	}

	if old := sess.CurrentGroup(); old != "" {
		g.leaveLocked(old, sess, true)
	}

	members[sess] = struct{}{}
	sess.mu.Lock()
	sess.currentGroup = name
	sess.mu.Unlock()

	g.announceLocked(name, fmt.Sprintf("User %s joined group '%s'.", sess.Username(), name), sess)
	return nil
}

// Leave removes a session from a group. Returns true if the group was
// deleted because it became empty; that deletion has no announcement since
// nobody is left to notify.
func (g *GroupDirectory) Leave(name string, sess *Session) (deleted bool, err error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return false, ErrEmptyName
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	members, exists := g.groups[name]
	if !exists {
		return false, ErrGroupNotFound
	}
	if _, in := members[sess]; !in {
		return false, ErrNotMember
	}

	return g.leaveLocked(name, sess, true), nil
}

// leaveLocked clears both sides of the membership relation and announces the
// departure to the remaining members. Caller holds g.mu.
func (g *GroupDirectory) leaveLocked(name string, sess *Session, announce bool) (deleted bool) {
	members := g.groups[name]
	delete(members, sess)

	sess.mu.Lock()
	if sess.currentGroup == name {
		sess.currentGroup = ""
	}
	sess.mu.Unlock()

	if len(members) == 0 {
		delete(g.groups, name)
		g.recordGaugeLocked()
		return true
	}

	if announce {
		g.announceLocked(name, fmt.Sprintf("User %s left group '%s'.", sess.Username(), name), nil)
	}
	return false
}

// Remove deletes a group outright: every member is notified, evicted, and
// transitioned back to no-group.
func (g *GroupDirectory) Remove(name string, actor *Session) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return ErrEmptyName
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	members, exists := g.groups[name]
	if !exists {
		return ErrGroupNotFound
	}

	g.announceLocked(name, fmt.Sprintf("Group '%s' has been removed by %s.", name, actor.Username()), nil)

	for member := range members {
		member.mu.Lock()
		if member.currentGroup == name {
			member.currentGroup = ""
		}
		member.mu.Unlock()
	}

	delete(g.groups, name)
	g.recordGaugeLocked()
	return nil
}

// SendToGroup fans a pre-formatted line out to every member except the
// sender. The line carries already-filtered content; the directory does no
// filtering of its own.
func (g *GroupDirectory) SendToGroup(name string, line string, sender *Session) error {
	name = strings.TrimSpace(name)

	g.mu.Lock()
	defer g.mu.Unlock()

	members, exists := g.groups[name]
	if !exists {
		return ErrGroupNotFound
	}

	for member := range members {
		if member != sender {
			g.deliver(member, line)
		}
	}
	return nil
}

// LeaveCurrent removes the session from whatever group it is in, as part of
// cascade teardown. No-op when the session is in no group.
func (g *GroupDirectory) LeaveCurrent(sess *Session) {
	g.mu.Lock()
	defer g.mu.Unlock()

	name := sess.CurrentGroup()
	if name == "" {
		return
	}
	if _, exists := g.groups[name]; !exists {
		return
	}
	g.leaveLocked(name, sess, true)
}

// Exists reports whether a group with the given name exists.
func (g *GroupDirectory) Exists(name string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	_, exists := g.groups[strings.TrimSpace(name)]
	return exists
}

// List returns all groups with their member counts, sorted by name.
func (g *GroupDirectory) List() []GroupInfo {
	g.mu.Lock()
	defer g.mu.Unlock()

	infos := make([]GroupInfo, 0, len(g.groups))
	for name, members := range g.groups {
		infos = append(infos, GroupInfo{Name: name, Members: len(members)})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

// announceLocked delivers an unfiltered server announcement to every group
// member except exclude. Caller holds g.mu.
func (g *GroupDirectory) announceLocked(name, text string, exclude *Session) {
	members := g.groups[name]
	if members == nil {
		return
	}

	line := fmt.Sprintf("GROUP [%s] | Server: %s", name, text)
	for member := range members {
		if member != exclude {
			g.deliver(member, line)
		}
	}
}

func (g *GroupDirectory) recordGaugeLocked() {
	if g.metrics != nil {
		g.metrics.RecordGroups(len(g.groups))
	}
}
