package tokenizer

import (
	"fmt"
	"sort"
	"strings"
)

// AddedToken is a literal string bound to a reserved id. Added tokens are
// matched as atomic units against raw input before segmentation runs, so
// they are never split.
type AddedToken struct {
	Content string `json:"content"`
	ID      int64  `json:"id"`
}

// addedTokens recognizes a fixed set of added tokens inside raw text.
// Matching is by literal substring scan, longest-first where two tokens
// could start at the same position.
type addedTokens struct {
	ordered  []AddedToken // sorted by content length, longest first
	ids      map[string]int64
	contents map[int64]string
}

func newAddedTokens(tokens []AddedToken) (*addedTokens, error) {
	a := &addedTokens{
		ordered:  make([]AddedToken, 0, len(tokens)),
		ids:      make(map[string]int64, len(tokens)),
		contents: make(map[int64]string, len(tokens)),
	}
	for _, tok := range tokens {
		if tok.Content == "" {
			return nil, fmt.Errorf("added token with id %d has empty content", tok.ID)
		}
		if tok.ID < 0 {
			return nil, fmt.Errorf("added token %q has negative id %d", tok.Content, tok.ID)
		}
		if _, exists := a.ids[tok.Content]; exists {
			return nil, fmt.Errorf("duplicate added token %q", tok.Content)
		}
		if prev, exists := a.contents[tok.ID]; exists {
			return nil, fmt.Errorf("added tokens %q and %q share id %d", prev, tok.Content, tok.ID)
		}
		a.ordered = append(a.ordered, tok)
		a.ids[tok.Content] = tok.ID
		a.contents[tok.ID] = tok.Content
	}
	sort.SliceStable(a.ordered, func(i, j int) bool {
		return len(a.ordered[i].Content) > len(a.ordered[j].Content)
	})
	return a, nil
}

// fragment is a span of raw input: either an atomic added token carrying its
// reserved id, or plain text awaiting segmentation.
type fragment struct {
	text    string
	id      int64
	special bool
}

// split scans s left to right and cuts it into added-token fragments and
// plain-text fragments in original order.
func (a *addedTokens) split(s string) []fragment {
	if a == nil || len(a.ordered) == 0 || s == "" {
		if s == "" {
			return nil
		}
		return []fragment{{text: s}}
	}

	var out []fragment
	remaining := s
	for len(remaining) > 0 {
		// Longest token first, so overlapping candidates at the same
		// position resolve to the longest match.
		matched := false
		for _, tok := range a.ordered {
			if strings.HasPrefix(remaining, tok.Content) {
				out = append(out, fragment{text: tok.Content, id: tok.ID, special: true})
				remaining = remaining[len(tok.Content):]
				matched = true
				break
			}
		}
		if matched {
			continue
		}

		// Advance to the nearest next occurrence of any added token.
		next := len(remaining)
		for _, tok := range a.ordered {
			if idx := strings.Index(remaining, tok.Content); idx >= 0 && idx < next {
				next = idx
			}
		}
		out = append(out, fragment{text: remaining[:next]})
		remaining = remaining[next:]
	}
	return out
}

// id returns the reserved id for an added-token literal.
func (a *addedTokens) id(content string) (int64, bool) {
	if a == nil {
		return 0, false
	}
	v, ok := a.ids[content]
	return v, ok
}

// contains reports whether id belongs to the added-token set.
func (a *addedTokens) contains(id int64) bool {
	if a == nil {
		return false
	}
	_, ok := a.contents[id]
	return ok
}
