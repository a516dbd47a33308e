package server

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTopicCreate(t *testing.T) {
	rig := newTestRig(t)

	require.NoError(t, rig.topics.Create("weather"))
	assert.ErrorIs(t, rig.topics.Create("weather"), ErrTopicExists)

	// Names are normalized: case folded, '#' stripped
	assert.ErrorIs(t, rig.topics.Create("Weather"), ErrTopicExists)
	assert.ErrorIs(t, rig.topics.Create("#weather"), ErrTopicExists)

	assert.ErrorIs(t, rig.topics.Create(""), ErrEmptyName)
	assert.ErrorIs(t, rig.topics.Create("#"), ErrEmptyName)

	require.NoError(t, rig.topics.Create("#Sports"))
	assert.Equal(t, []string{"sports", "weather"}, rig.topics.List())
}

func TestTopicSubscribe(t *testing.T) {
	rig := newTestRig(t)
	alice := rig.registeredSession(t, "alice")

	assert.ErrorIs(t, rig.topics.Subscribe("weather", alice), ErrTopicNotFound)

	require.NoError(t, rig.topics.Create("weather"))
	require.NoError(t, rig.topics.Subscribe("WEATHER", alice))

	// Subscribing twice is harmless
	require.NoError(t, rig.topics.Subscribe("weather", alice))

	assert.ErrorIs(t, rig.topics.Unsubscribe("nowhere", alice), ErrTopicNotFound)
	require.NoError(t, rig.topics.Unsubscribe("weather", alice))

	rig.rec.reset()
	rig.topics.NotifySubscribers(nil, "bob", "", "lovely weather today")
	assert.Empty(t, rig.rec.linesFor(alice), "unsubscribed session gets no topic traffic")
}

func TestNotifySubscribersDelivery(t *testing.T) {
	rig := newTestRig(t)
	alice := rig.registeredSession(t, "alice")
	bob := rig.registeredSession(t, "bob")
	carol := rig.registeredSession(t, "carol")

	require.NoError(t, rig.topics.Create("weather"))
	require.NoError(t, rig.topics.Subscribe("weather", alice))
	require.NoError(t, rig.topics.Subscribe("weather", bob))

	// Substring containment triggers delivery; the body need not be a hashtag
	rig.rec.reset()
	rig.topics.NotifySubscribers(carol, "carol", "nice weather today", "nice weather today")

	want := "WEATHER | carol: nice weather today"
	assert.Equal(t, []string{want}, rig.rec.linesFor(alice))
	assert.Equal(t, []string{want}, rig.rec.linesFor(bob))
	assert.Empty(t, rig.rec.linesFor(carol))

	// Matching is case-insensitive on the body
	rig.rec.reset()
	rig.topics.NotifySubscribers(carol, "carol", "WEATHER alert", "WEATHER alert")
	assert.Equal(t, []string{"WEATHER | carol: WEATHER alert"}, rig.rec.linesFor(alice))

	// A non-matching body delivers nothing
	rig.rec.reset()
	rig.topics.NotifySubscribers(carol, "carol", "sunny skies", "sunny skies")
	assert.Empty(t, rig.rec.linesFor(alice))
	assert.Empty(t, rig.rec.linesFor(bob))
}

func TestNotifySubscribersExcludesSender(t *testing.T) {
	rig := newTestRig(t)
	alice := rig.registeredSession(t, "alice")

	require.NoError(t, rig.topics.Create("weather"))
	require.NoError(t, rig.topics.Subscribe("weather", alice))

	// A subscriber's own message never echoes back through the topic
	rig.rec.reset()
	rig.topics.NotifySubscribers(alice, "alice", "weather report", "weather report")
	assert.Empty(t, rig.rec.linesFor(alice))
}

func TestHashtagCreatesTopic(t *testing.T) {
	rig := newTestRig(t)
	alice := rig.registeredSession(t, "alice")
	bob := rig.registeredSession(t, "bob")

	rig.rec.reset()
	rig.topics.NotifySubscribers(alice, "alice", "anyone into #chess or #Go?", "anyone into #chess or #Go?")

	// Creation is acknowledged to the sender only, nothing is broadcast
	lines := rig.rec.linesFor(alice)
	require.Len(t, lines, 2)
	assert.Contains(t, lines, "Topic 'chess' created.")
	assert.Contains(t, lines, "Topic 'go?' created.")
	assert.Empty(t, rig.rec.linesFor(bob))

	// The new topic is immediately subscribable
	require.NoError(t, rig.topics.Subscribe("chess", bob))

	// Mentioning it again creates nothing and (sender excluded) notifies bob
	rig.rec.reset()
	rig.topics.NotifySubscribers(alice, "alice", "chess tonight", "chess tonight")
	assert.Empty(t, rig.rec.linesFor(alice))
	assert.Equal(t, []string{"CHESS | alice: chess tonight"}, rig.rec.linesFor(bob))
}

func TestHashtagExtraction(t *testing.T) {
	tests := []struct {
		name string
		body string
		want []string
	}{
		{"none", "no tags here", nil},
		{"simple", "talk about #go", []string{"go"}},
		{"several", "#go and #rust", []string{"go", "rust"}},
		{"deduplicated", "#go #go #GO", []string{"go"}},
		{"bare hash ignored", "# lonely", nil},
		{"mid-sentence punctuation kept", "love #go, really", []string{"go,"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, extractHashtags(tt.body))
		})
	}
}

func TestTopicRemoveSession(t *testing.T) {
	rig := newTestRig(t)
	alice := rig.registeredSession(t, "alice")
	bob := rig.registeredSession(t, "bob")

	require.NoError(t, rig.topics.Create("weather"))
	require.NoError(t, rig.topics.Create("sports"))
	require.NoError(t, rig.topics.Subscribe("weather", alice))
	require.NoError(t, rig.topics.Subscribe("sports", alice))
	require.NoError(t, rig.topics.Subscribe("weather", bob))

	rig.topics.RemoveSession(alice)

	// alice is gone from every topic, bob is untouched, topics survive
	rig.rec.reset()
	rig.topics.NotifySubscribers(nil, "carol", "", "weather and sports news")
	assert.Empty(t, rig.rec.linesFor(alice))
	assert.Equal(t, []string{"WEATHER | carol: weather and sports news"}, rig.rec.linesFor(bob))
	assert.Equal(t, []string{"sports", "weather"}, rig.topics.List())
}

func TestTopicSubscriptionsIndependentOfGroups(t *testing.T) {
	rig := newTestRig(t)
	alice := rig.registeredSession(t, "alice")
	bob := rig.registeredSession(t, "bob")

	require.NoError(t, rig.topics.Create("weather"))
	require.NoError(t, rig.topics.Subscribe("weather", bob))

	// bob sits in a group, alice does not; topic traffic ignores both facts
	require.NoError(t, rig.groups.Create("gophers"))
	require.NoError(t, rig.groups.Join("gophers", bob))

	rig.rec.reset()
	rig.topics.NotifySubscribers(alice, "alice", "weather looks grim", "weather looks grim")
	assert.Equal(t, []string{"WEATHER | alice: weather looks grim"}, rig.rec.linesFor(bob))
}
