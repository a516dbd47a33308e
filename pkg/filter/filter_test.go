package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFilter(t *testing.T) *Filter {
	t.Helper()
	f, err := New(DefaultBannedWords, '*')
	require.NoError(t, err)
	return f
}

func TestFilterMasksBannedWords(t *testing.T) {
	f := newTestFilter(t)

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "clean text unchanged",
			input: "hello there, how are you",
			want:  "hello there, how are you",
		},
		{
			name:  "single banned word",
			input: "do not swear here",
			want:  "do not ***** here",
		},
		{
			name:  "banned word at start",
			input: "badword leads the line",
			want:  "******* leads the line",
		},
		{
			name:  "multiple banned words",
			input: "swear and curse",
			want:  "***** and *****",
		},
		{
			name:  "case insensitive",
			input: "SWEAR loudly",
			want:  "***** loudly",
		},
		{
			name:  "leet substitution",
			input: "sw3ar is still caught",
			want:  "***** is still caught",
		},
		{
			name:  "punctuation inside word",
			input: "bad.word split by a dot",
			want:  "******** split by a dot",
		},
		{
			name:  "empty input",
			input: "",
			want:  "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, f.Filter(tt.input))
		})
	}
}

func TestFilterPreservesSurroundingText(t *testing.T) {
	f := newTestFilter(t)

	got := f.Filter("check #weather before you swear today")
	assert.Equal(t, "check #weather before you ***** today", got)
}

func TestClean(t *testing.T) {
	f := newTestFilter(t)

	assert.True(t, f.Clean("alice"))
	assert.True(t, f.Clean(""))
	assert.True(t, f.Clean("a perfectly fine sentence"))

	assert.False(t, f.Clean("swear"))
	assert.False(t, f.Clean("SWEAR"))
	assert.False(t, f.Clean("sw3ar"))
	assert.False(t, f.Clean("contains a badword inside"))
}

func TestCustomWordList(t *testing.T) {
	f, err := New([]string{"zebra"}, '#')
	require.NoError(t, err)

	assert.Equal(t, "a ##### escaped", f.Filter("a zebra escaped"))
	assert.True(t, f.Clean("swear is fine with this list"))
	assert.False(t, f.Clean("zebra"))
}
