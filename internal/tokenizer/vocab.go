package tokenizer

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Vocabulary is an immutable bidirectional mapping between token strings and
// non-negative integer ids. It is built once at construction and may be
// shared across any number of tokenizer instances.
type Vocabulary struct {
	ids    map[string]int64
	tokens []string // index = id; "" marks an unassigned id
}

// NewVocabulary builds a vocabulary from an ordered token list; the slice
// index is the token id. Duplicate or empty tokens fail construction.
func NewVocabulary(tokens []string) (*Vocabulary, error) {
	v := &Vocabulary{
		ids:    make(map[string]int64, len(tokens)),
		tokens: make([]string, len(tokens)),
	}
	for i, tok := range tokens {
		if tok == "" {
			return nil, fmt.Errorf("vocabulary entry %d is empty", i)
		}
		if _, exists := v.ids[tok]; exists {
			return nil, fmt.Errorf("duplicate vocabulary token %q", tok)
		}
		v.ids[tok] = int64(i)
		v.tokens[i] = tok
	}
	return v, nil
}

// ParseVocabLines parses a newline-delimited token list; the 0-based line
// number is the token id. This is the WordPiece artifact format.
func ParseVocabLines(data []byte) (*Vocabulary, error) {
	var tokens []string
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		tokens = append(tokens, strings.TrimRight(scanner.Text(), "\r\n"))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read vocabulary lines: %w", err)
	}
	// A trailing newline produces one empty final entry; drop it.
	if n := len(tokens); n > 0 && tokens[n-1] == "" {
		tokens = tokens[:n-1]
	}
	if len(tokens) == 0 {
		return nil, fmt.Errorf("vocabulary artifact is empty")
	}
	return NewVocabulary(tokens)
}

// ParseVocabJSON parses a JSON token-to-id object. This is the BPE
// vocabulary artifact format. Ids must be non-negative and unique.
func ParseVocabJSON(data []byte) (*Vocabulary, error) {
	var raw map[string]int64
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode vocabulary JSON: %w", err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("vocabulary JSON is empty")
	}

	var maxID int64 = -1
	for tok, id := range raw {
		if tok == "" {
			return nil, fmt.Errorf("vocabulary JSON contains an empty token")
		}
		if id < 0 {
			return nil, fmt.Errorf("vocabulary token %q has negative id %d", tok, id)
		}
		if id > maxID {
			maxID = id
		}
	}

	v := &Vocabulary{
		ids:    make(map[string]int64, len(raw)),
		tokens: make([]string, maxID+1),
	}
	for tok, id := range raw {
		if v.tokens[id] != "" {
			return nil, fmt.Errorf("duplicate vocabulary id %d (%q and %q)", id, v.tokens[id], tok)
		}
		v.ids[tok] = id
		v.tokens[id] = tok
	}
	return v, nil
}

// ID returns the id for a token string.
func (v *Vocabulary) ID(token string) (int64, bool) {
	id, ok := v.ids[token]
	return id, ok
}

// Token returns the token string for an id. Ids outside the assigned range
// return ErrInvalidTokenID.
func (v *Vocabulary) Token(id int64) (string, error) {
	if id < 0 || id >= int64(len(v.tokens)) || v.tokens[id] == "" {
		return "", fmt.Errorf("%w: %d", ErrInvalidTokenID, id)
	}
	return v.tokens[id], nil
}

// Size returns the number of assigned ids.
func (v *Vocabulary) Size() int {
	return len(v.ids)
}

type mergePair struct {
	left  string
	right string
}

// MergeTable holds BPE merge rules in training order. Lower rank merges
// first. Immutable after construction.
type MergeTable struct {
	ranks map[mergePair]int
}

// ParseMerges parses the plain-text merge-rules artifact whose lines are
// "left right" in training order (line number = rank). A leading "#version"
// header line is skipped when present.
func ParseMerges(data []byte) (*MergeTable, error) {
	m := &MergeTable{ranks: make(map[mergePair]int)}

	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	rank := 0
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		if line == 1 && strings.HasPrefix(text, "#") {
			continue
		}
		parts := strings.SplitN(text, " ", 2)
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return nil, fmt.Errorf("merge rule line %d malformed: %q", line, text)
		}
		pair := mergePair{left: parts[0], right: parts[1]}
		if _, exists := m.ranks[pair]; exists {
			return nil, fmt.Errorf("duplicate merge rule %q at line %d", text, line)
		}
		m.ranks[pair] = rank
		rank++
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read merge rules: %w", err)
	}
	if len(m.ranks) == 0 {
		return nil, fmt.Errorf("merge-rules artifact is empty")
	}
	return m, nil
}

// Rank returns the merge priority for an adjacent symbol pair; lower ranks
// are applied first.
func (m *MergeTable) Rank(left, right string) (int, bool) {
	rank, ok := m.ranks[mergePair{left: left, right: right}]
	return rank, ok
}

// Len returns the number of merge rules.
func (m *MergeTable) Len() int {
	return len(m.ranks)
}
