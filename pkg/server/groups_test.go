package server

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGroupCreate(t *testing.T) {
	rig := newTestRig(t)

	require.NoError(t, rig.groups.Create("gophers"))
	assert.True(t, rig.groups.Exists("gophers"))

	assert.ErrorIs(t, rig.groups.Create("gophers"), ErrGroupExists)
	assert.ErrorIs(t, rig.groups.Create(""), ErrEmptyName)
	assert.ErrorIs(t, rig.groups.Create("   "), ErrEmptyName)

	// Names are case-sensitive: Gophers is a different group
	require.NoError(t, rig.groups.Create("Gophers"))
	assert.True(t, rig.groups.Exists("Gophers"))

	// Surrounding whitespace is trimmed
	assert.ErrorIs(t, rig.groups.Create("  gophers  "), ErrGroupExists)
}

func TestGroupJoin(t *testing.T) {
	rig := newTestRig(t)
	alice := rig.registeredSession(t, "alice")
	bob := rig.registeredSession(t, "bob")

	assert.ErrorIs(t, rig.groups.Join("nowhere", alice), ErrGroupNotFound)
	assert.Empty(t, alice.CurrentGroup())

	require.NoError(t, rig.groups.Create("gophers"))
	require.NoError(t, rig.groups.Join("gophers", alice))
	assert.Equal(t, "gophers", alice.CurrentGroup())

	assert.ErrorIs(t, rig.groups.Join("gophers", alice), ErrAlreadyMember)

	rig.rec.reset()
	require.NoError(t, rig.groups.Join("gophers", bob))
	assert.Equal(t, []string{"GROUP [gophers] | Server: User bob joined group 'gophers'."}, rig.rec.linesFor(alice))
	assert.Empty(t, rig.rec.linesFor(bob), "joiner does not receive its own join announcement")
}

func TestGroupMembershipIsExclusive(t *testing.T) {
	rig := newTestRig(t)
	alice := rig.registeredSession(t, "alice")
	bob := rig.registeredSession(t, "bob")

	require.NoError(t, rig.groups.Create("red"))
	require.NoError(t, rig.groups.Create("blue"))
	require.NoError(t, rig.groups.Join("red", bob))
	require.NoError(t, rig.groups.Join("red", alice))

	// Joining blue implicitly leaves red
	rig.rec.reset()
	require.NoError(t, rig.groups.Join("blue", alice))
	assert.Equal(t, "blue", alice.CurrentGroup())
	assert.Equal(t, []string{"GROUP [red] | Server: User alice left group 'red'."}, rig.rec.linesFor(bob))

	// alice no longer receives red traffic
	rig.rec.reset()
	require.NoError(t, rig.groups.SendToGroup("red", "GROUP [red] | bob: hi", bob))
	assert.Empty(t, rig.rec.linesFor(alice))
}

func TestGroupLeave(t *testing.T) {
	rig := newTestRig(t)
	alice := rig.registeredSession(t, "alice")
	bob := rig.registeredSession(t, "bob")

	require.NoError(t, rig.groups.Create("gophers"))
	require.NoError(t, rig.groups.Join("gophers", alice))
	require.NoError(t, rig.groups.Join("gophers", bob))

	_, err := rig.groups.Leave("nowhere", alice)
	assert.ErrorIs(t, err, ErrGroupNotFound)

	outsider := rig.registeredSession(t, "carol")
	_, err = rig.groups.Leave("gophers", outsider)
	assert.ErrorIs(t, err, ErrNotMember)

	rig.rec.reset()
	deleted, err := rig.groups.Leave("gophers", alice)
	require.NoError(t, err)
	assert.False(t, deleted)
	assert.Empty(t, alice.CurrentGroup())
	assert.Equal(t, []string{"GROUP [gophers] | Server: User alice left group 'gophers'."}, rig.rec.linesFor(bob))

	// Last member out deletes the group; nobody is left to notify
	rig.rec.reset()
	deleted, err = rig.groups.Leave("gophers", bob)
	require.NoError(t, err)
	assert.True(t, deleted)
	assert.False(t, rig.groups.Exists("gophers"))
	assert.Empty(t, rig.rec.linesFor(alice))
	assert.Empty(t, rig.rec.linesFor(bob))
}

func TestGroupRemove(t *testing.T) {
	rig := newTestRig(t)
	alice := rig.registeredSession(t, "alice")
	bob := rig.registeredSession(t, "bob")

	assert.ErrorIs(t, rig.groups.Remove("nowhere", alice), ErrGroupNotFound)

	require.NoError(t, rig.groups.Create("gophers"))
	require.NoError(t, rig.groups.Join("gophers", alice))
	require.NoError(t, rig.groups.Join("gophers", bob))

	rig.rec.reset()
	require.NoError(t, rig.groups.Remove("gophers", alice))
	assert.False(t, rig.groups.Exists("gophers"))
	assert.Empty(t, alice.CurrentGroup())
	assert.Empty(t, bob.CurrentGroup())

	want := "GROUP [gophers] | Server: Group 'gophers' has been removed by alice."
	assert.Equal(t, []string{want}, rig.rec.linesFor(alice))
	assert.Equal(t, []string{want}, rig.rec.linesFor(bob))
}

func TestSendToGroupExcludesSender(t *testing.T) {
	rig := newTestRig(t)
	alice := rig.registeredSession(t, "alice")
	bob := rig.registeredSession(t, "bob")
	carol := rig.registeredSession(t, "carol")

	require.NoError(t, rig.groups.Create("gophers"))
	require.NoError(t, rig.groups.Join("gophers", alice))
	require.NoError(t, rig.groups.Join("gophers", bob))
	require.NoError(t, rig.groups.Join("gophers", carol))

	rig.rec.reset()
	require.NoError(t, rig.groups.SendToGroup("gophers", "GROUP [gophers] | alice: hello", alice))

	assert.Empty(t, rig.rec.linesFor(alice))
	assert.Equal(t, []string{"GROUP [gophers] | alice: hello"}, rig.rec.linesFor(bob))
	assert.Equal(t, []string{"GROUP [gophers] | alice: hello"}, rig.rec.linesFor(carol))

	assert.ErrorIs(t, rig.groups.SendToGroup("nowhere", "x", alice), ErrGroupNotFound)
}

func TestLeaveCurrent(t *testing.T) {
	rig := newTestRig(t)
	alice := rig.registeredSession(t, "alice")
	bob := rig.registeredSession(t, "bob")

	// No-op when the session is in no group
	rig.groups.LeaveCurrent(alice)

	require.NoError(t, rig.groups.Create("gophers"))
	require.NoError(t, rig.groups.Join("gophers", alice))
	require.NoError(t, rig.groups.Join("gophers", bob))

	rig.rec.reset()
	rig.groups.LeaveCurrent(alice)
	assert.Empty(t, alice.CurrentGroup())
	assert.Equal(t, []string{"GROUP [gophers] | Server: User alice left group 'gophers'."}, rig.rec.linesFor(bob))

	// Calling again is a no-op
	rig.rec.reset()
	rig.groups.LeaveCurrent(alice)
	assert.Empty(t, rig.rec.linesFor(bob))
}

func TestGroupList(t *testing.T) {
	rig := newTestRig(t)
	alice := rig.registeredSession(t, "alice")
	bob := rig.registeredSession(t, "bob")

	assert.Empty(t, rig.groups.List())

	require.NoError(t, rig.groups.Create("zoo"))
	require.NoError(t, rig.groups.Create("aquarium"))
	require.NoError(t, rig.groups.Join("zoo", alice))
	require.NoError(t, rig.groups.Join("zoo", bob))

	assert.Equal(t, []GroupInfo{
		{Name: "aquarium", Members: 0},
		{Name: "zoo", Members: 2},
	}, rig.groups.List())
}
