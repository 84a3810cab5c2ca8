// Package normalize maps raw channel names reported by IPTV hosts to a
// canonical display name using ordered literal rewrite tables.
package normalize

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// ErrDuplicateRule is returned when a table defines the same key twice.
var ErrDuplicateRule = errors.New("normalize: duplicate rule")

// Normalizer applies a Rules set. It is safe for concurrent use.
type Normalizer struct {
	digits   []Rule
	aliases  []Rule
	guards   []string
	exact    map[string]string
	collapse []Rule
}

// New validates rules and returns a Normalizer with each table pre-sorted
// longest key first, ties by key.
func New(r Rules) (*Normalizer, error) {
	digits, err := ordered("digits", r.Digits)
	if err != nil {
		return nil, err
	}
	aliases, err := ordered("aliases", r.Aliases)
	if err != nil {
		return nil, err
	}
	exact := make(map[string]string, len(r.Exact))
	for _, e := range r.Exact {
		if _, dup := exact[e.From]; dup {
			return nil, fmt.Errorf("%w: exact %q", ErrDuplicateRule, e.From)
		}
		exact[e.From] = e.To
	}
	return &Normalizer{
		digits:   digits,
		aliases:  aliases,
		guards:   append([]string(nil), r.Guards...),
		exact:    exact,
		collapse: append([]Rule(nil), r.Collapse...),
	}, nil
}

// MustNew is New that panics on invalid rules. For package-level tables only.
func MustNew(r Rules) *Normalizer {
	n, err := New(r)
	if err != nil {
		panic(err)
	}
	return n
}

func ordered(table string, rules []Rule) ([]Rule, error) {
	seen := make(map[string]struct{}, len(rules))
	out := make([]Rule, 0, len(rules))
	for _, r := range rules {
		if r.From == "" {
			continue
		}
		if _, dup := seen[r.From]; dup {
			return nil, fmt.Errorf("%w: %s %q", ErrDuplicateRule, table, r.From)
		}
		seen[r.From] = struct{}{}
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool {
		li, lj := utf8.RuneCountInString(out[i].From), utf8.RuneCountInString(out[j].From)
		if li != lj {
			return li > lj
		}
		return out[i].From < out[j].From
	})
	return out, nil
}

const maxPasses = 4

var defaultNormalizer = MustNew(DefaultRules())

// Normalize canonicalizes raw with the default tables.
func Normalize(raw string) string {
	return defaultNormalizer.Normalize(raw)
}

// Normalize canonicalizes raw. It never fails; on an internal fault the input is returned unchanged.
func (n *Normalizer) Normalize(raw string) (name string) {
	defer func() {
		if recover() != nil {
			name = raw
		}
	}()
	name = raw
	for i := 0; i < maxPasses; i++ {
		next := n.pass(name)
		if next == name {
			break
		}
		name = next
	}
	return name
}

// pass runs every table once. Normalize repeats it until the name stops
// changing, so aliases that only appear after a shorter rule fired
// (中央1综合 -> CCTV1综合 -> CCTV1) still collapse.
func (n *Normalizer) pass(name string) string {
	name = strings.ToUpper(stripNonWord(norm.NFKC.String(name)))
	name = apply(name, n.digits)
	if !n.guarded(name) {
		name = apply(name, n.aliases)
	}
	if to, ok := n.exact[name]; ok {
		name = to
	}
	for _, r := range n.collapse {
		for strings.Contains(name, r.From) {
			name = strings.ReplaceAll(name, r.From, r.To)
		}
	}
	return name
}

func (n *Normalizer) guarded(name string) bool {
	for _, g := range n.guards {
		if strings.Contains(name, g) {
			return true
		}
	}
	return false
}

func apply(name string, rules []Rule) string {
	for _, r := range rules {
		name = strings.ReplaceAll(name, r.From, r.To)
	}
	return name
}

// stripNonWord keeps letters, numbers, marks, '_' and '+' in any script.
// '+' is kept so sub-brands like CCTV5+ survive a second pass.
func stripNonWord(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case unicode.IsLetter(r), unicode.IsNumber(r), unicode.IsMark(r):
			return r
		case r == '_', r == '+', r == '＋':
			return r
		}
		return -1
	}, s)
}
