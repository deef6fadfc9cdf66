package filter

import (
	"strings"

	"codeberg.org/nostrcore/relaysdk/event"
)

// searchTerm is one atom of a parsed search query.
type searchTerm struct {
	field    string // "" for an unqualified term
	text     string // already lowercased
	must     bool   // +term
	mustNot  bool   // -term
	isPhrase bool   // quoted, matched as an exact substring rather than word-boundary
}

// parseSearch turns a raw query string into its boolean-AND term list. It
// never errors; malformed input just yields fewer/odder terms, and an
// all-or-nothing caller decides what to do with an empty result (matching
// nothing, per the "empty query matches nothing" rule).
func parseSearch(q string) []searchTerm {
	var terms []searchTerm
	r := []rune(q)
	i := 0
	for i < len(r) {
		for i < len(r) && r[i] == ' ' {
			i++
		}
		if i >= len(r) {
			break
		}
		t := searchTerm{}
		if r[i] == '+' {
			t.must = true
			i++
		} else if r[i] == '-' {
			t.mustNot = true
			i++
		}
		if i < len(r) && r[i] == '"' {
			i++
			start := i
			for i < len(r) && r[i] != '"' {
				i++
			}
			t.text = strings.ToLower(string(r[start:i]))
			t.isPhrase = true
			if i < len(r) {
				i++
			}
		} else {
			start := i
			for i < len(r) && r[i] != ' ' {
				i++
			}
			word := string(r[start:i])
			if field, rest, ok := strings.Cut(word, ":"); ok && field != "" {
				t.field = strings.ToLower(field)
				t.text = strings.ToLower(rest)
			} else {
				t.text = strings.ToLower(word)
			}
		}
		if t.text != "" {
			terms = append(terms, t)
		}
	}
	return terms
}

func isWordByte(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
}

// wordBoundaryContains reports whether needle appears in haystack (both
// already lowercased) at a word boundary on both sides.
func wordBoundaryContains(haystack, needle string) bool {
	if needle == "" {
		return false
	}
	for idx := 0; ; {
		pos := strings.Index(haystack[idx:], needle)
		if pos < 0 {
			return false
		}
		pos += idx
		left := pos == 0 || !isWordByte(haystack[pos-1])
		end := pos + len(needle)
		right := end == len(haystack) || !isWordByte(haystack[end])
		if left && right {
			return true
		}
		idx = pos + 1
		if idx >= len(haystack) {
			return false
		}
	}
}

// matchesTerm reports whether term matches within ev, given the fields the
// SDK knows how to search: "content" (the default target) or a tag name
// longer than one character addressed by its own name.
func matchesTerm(ev *event.E, t searchTerm) bool {
	check := func(haystack string) bool {
		if t.isPhrase {
			return strings.Contains(haystack, t.text)
		}
		return wordBoundaryContains(haystack, t.text)
	}
	if t.field != "" {
		if t.field == "content" {
			return check(strings.ToLower(ev.ContentString()))
		}
		for _, tg := range ev.Tags.ToSliceOfTags() {
			if len(tg.Key()) <= 1 || tg.Key() != t.field {
				continue
			}
			for i := 1; i < tg.Len(); i++ {
				if check(strings.ToLower(tg.S(i))) {
					return true
				}
			}
		}
		return false
	}
	if check(strings.ToLower(ev.ContentString())) {
		return true
	}
	for _, tg := range ev.Tags.ToSliceOfTags() {
		if len(tg.Key()) <= 1 {
			continue
		}
		for i := 1; i < tg.Len(); i++ {
			if check(strings.ToLower(tg.S(i))) {
				return true
			}
		}
	}
	return false
}

// MatchesSearch evaluates f.Search against ev: a conjunction of all "must"
// and default terms, none of the "must not" terms. An empty or
// unparseable-to-nothing query matches nothing.
func (f *F) MatchesSearch(ev *event.E) bool {
	if len(f.Search) == 0 {
		return false
	}
	terms := parseSearch(string(f.Search))
	if len(terms) == 0 {
		return false
	}
	for _, t := range terms {
		hit := matchesTerm(ev, t)
		if t.mustNot && hit {
			return false
		}
		if !t.mustNot && !hit {
			return false
		}
	}
	return true
}
