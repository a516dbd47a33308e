// Package filter implements the content filter applied to user-authored chat
// text. It is a pure collaborator: Filter masks banned words, Clean reports
// whether any banned word is present. Server-originated announcements never
// pass through it.
package filter

import (
	"unicode"

	goahocorasick "github.com/anknown/ahocorasick"
)

// DefaultBannedWords is the built-in word list, used when the config file
// does not provide one.
var DefaultBannedWords = []string{
	"badword", "swear", "offensive", "inappropriate", "curse",
}

// Filter masks occurrences of banned words in text. Matching is
// case-insensitive and tolerant of leet substitutions and interleaved
// punctuation, via an Aho-Corasick automaton built over normalized patterns.
type Filter struct {
	matcher  *goahocorasick.Machine
	maskRune rune
}

// textMapping is a normalized view of an input string together with the
// original rune index of every normalized rune, so matched spans can be
// masked in the original text.
type textMapping struct {
	normalized []rune
	origIdx    []int
}

// New builds a Filter from the given word list. maskRune replaces matched
// characters (typically '*').
func New(bannedWords []string, maskRune rune) (*Filter, error) {
	patterns := make([][]rune, len(bannedWords))
	for i, word := range bannedWords {
		patterns[i] = normalizeRunes([]rune(word))
	}

	m := new(goahocorasick.Machine)
	if err := m.Build(patterns); err != nil {
		return nil, err
	}
	return &Filter{matcher: m, maskRune: maskRune}, nil
}

// Filter returns text with every banned-word occurrence masked. Characters
// outside matched spans are preserved byte for byte.
func (f *Filter) Filter(text string) string {
	mapping := normalize(text)
	if len(mapping.normalized) == 0 {
		return text
	}

	spans := f.matcher.MultiPatternSearch(mapping.normalized, false)
	if len(spans) == 0 {
		return text
	}

	origRunes := []rune(text)
	for _, span := range spans {
		normStart := span.Pos
		normEnd := normStart + len(span.Word)
		if normStart < 0 || normEnd > len(mapping.origIdx) {
			continue
		}

		origStart := mapping.origIdx[normStart]
		origEnd := mapping.origIdx[normEnd-1] + 1
		for i := origStart; i < origEnd; i++ {
			origRunes[i] = f.maskRune
		}
	}

	return string(origRunes)
}

// Clean reports whether text contains no banned words.
func (f *Filter) Clean(text string) bool {
	mapping := normalize(text)
	if len(mapping.normalized) == 0 {
		return true
	}
	return len(f.matcher.MultiPatternSearch(mapping.normalized, false)) == 0
}

// normalize lowercases and strips noise from input while tracking original
// rune positions.
func normalize(input string) textMapping {
	origRunes := []rune(input)
	norm := make([]rune, 0, len(origRunes))
	origIdx := make([]int, 0, len(origRunes))

	for i, r := range origRunes {
		clean := simplifyRune(r)
		if isNoise(clean) {
			continue
		}
		norm = append(norm, unicode.ToLower(clean))
		origIdx = append(origIdx, i)
	}
	return textMapping{normalized: norm, origIdx: origIdx}
}

func normalizeRunes(input []rune) []rune {
	out := make([]rune, 0, len(input))
	for _, r := range input {
		clean := simplifyRune(r)
		if isNoise(clean) {
			continue
		}
		out = append(out, unicode.ToLower(clean))
	}
	return out
}

// simplifyRune maps common leet substitutions back to plain letters.
func simplifyRune(r rune) rune {
	switch r {
	case '4', '@':
		return 'a'
	case '3', '€':
		return 'e'
	case '1', '!', '|':
		return 'i'
	case '0':
		return 'o'
	case '5', '$':
		return 's'
	default:
		return r
	}
}

// isNoise identifies characters ignored during pattern matching.
func isNoise(r rune) bool {
	return unicode.IsPunct(r) || unicode.IsSpace(r) || unicode.IsSymbol(r)
}
