package tokenizer

import (
	"fmt"
	"strings"

	"github.com/dlclark/regexp2"
	lru "github.com/hashicorp/golang-lru"
)

// endOfWord marks the final symbol of every pretokenized word, so that word
// boundaries survive the merge loop and decoding can restore spaces.
const endOfWord = "</w>"

// bpeSplitPattern separates contractions, letter runs, single digits, and
// punctuation runs from each other. Whitespace between matches is dropped.
// The contraction alternations are not RE2-expressible in a single ordered
// pattern, hence regexp2.
const bpeSplitPattern = `'s|'t|'re|'ve|'m|'ll|'d|[\p{L}]+|[\p{N}]|[^\s\p{L}\p{N}]+`

const defaultBPECacheSize = 8192

// BPEConfig names the wrapping special tokens and tuning knobs for a
// byte-level BPE segmenter. Zero-value fields fall back to CLIP-style
// defaults.
type BPEConfig struct {
	StartToken string // default "<|startoftext|>"
	EndToken   string // default "<|endoftext|>"
	PadID      int64  // padding id, default 0
	Added      []AddedToken
	CacheSize  int // per-word merge cache entries, default 8192
}

func (c BPEConfig) withDefaults() BPEConfig {
	if c.StartToken == "" {
		c.StartToken = "<|startoftext|>"
	}
	if c.EndToken == "" {
		c.EndToken = "<|endoftext|>"
	}
	if c.CacheSize <= 0 {
		c.CacheSize = defaultBPECacheSize
	}
	return c
}

// BPE is a byte-level byte-pair-encoding segmenter: raw bytes are remapped
// to visible unicode symbols, then adjacent symbol pairs are merged in
// training-priority order. Unlike WordPiece it pads to exactly maxLength
// with the configured pad id and a zero attention mask.
type BPE struct {
	vocab      *Vocabulary
	merges     *MergeTable
	added      *addedTokens
	startID    int64
	endID      int64
	padID      int64
	byteToRune [256]rune
	runeToByte map[rune]byte
	split      *regexp2.Regexp
	cache      *lru.Cache // word -> []string merged symbols
}

// NewBPE builds a byte-level BPE segmenter from a vocabulary and merge
// table. The configured start/end tokens must be present in the vocabulary;
// they are matched atomically in raw input along with cfg.Added.
func NewBPE(vocab *Vocabulary, merges *MergeTable, cfg BPEConfig) (*BPE, error) {
	cfg = cfg.withDefaults()

	startID, ok := vocab.ID(cfg.StartToken)
	if !ok {
		return nil, fmt.Errorf("vocabulary is missing required token %q", cfg.StartToken)
	}
	endID, ok := vocab.ID(cfg.EndToken)
	if !ok {
		return nil, fmt.Errorf("vocabulary is missing required token %q", cfg.EndToken)
	}

	allAdded := append([]AddedToken{
		{Content: cfg.StartToken, ID: startID},
		{Content: cfg.EndToken, ID: endID},
	}, cfg.Added...)
	added, err := newAddedTokens(allAdded)
	if err != nil {
		return nil, err
	}

	cache, err := lru.New(cfg.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("create merge cache: %w", err)
	}

	b := &BPE{
		vocab:   vocab,
		merges:  merges,
		added:   added,
		startID: startID,
		endID:   endID,
		padID:   cfg.PadID,
		split:   regexp2.MustCompile(bpeSplitPattern, regexp2.None),
		cache:   cache,
	}
	b.byteToRune, b.runeToByte = byteLevelTables()
	return b, nil
}

// Encode tokenizes text as start-token, content ids, end-token, then pads
// with the pad id to exactly maxLength, with attention mask 0 on padded
// positions.
func (b *BPE) Encode(text string, maxLength int) (EncodedInput, error) {
	ids := make([]int64, 0, 16)
	ids = append(ids, b.startID)
	ids, err := b.appendTextIDs(ids, text)
	if err != nil {
		return EncodedInput{}, err
	}
	ids = append(ids, b.endID)
	return b.pad(newEncodedInput(ids, nil).truncate(maxLength), maxLength), nil
}

// EncodePair tokenizes a sentence pair as start A end B end, with token
// type id 1 on the second sequence including its trailing end token.
// Padding positions keep type id 0.
func (b *BPE) EncodePair(textA, textB string, maxLength int) (EncodedInput, error) {
	ids := make([]int64, 0, 32)
	ids = append(ids, b.startID)
	ids, err := b.appendTextIDs(ids, textA)
	if err != nil {
		return EncodedInput{}, err
	}
	ids = append(ids, b.endID)
	firstLen := len(ids)

	ids, err = b.appendTextIDs(ids, textB)
	if err != nil {
		return EncodedInput{}, err
	}
	ids = append(ids, b.endID)

	typeIDs := make([]int64, len(ids))
	for i := firstLen; i < len(ids); i++ {
		typeIDs[i] = 1
	}
	return b.pad(newEncodedInput(ids, typeIDs).truncate(maxLength), maxLength), nil
}

func (b *BPE) pad(e EncodedInput, maxLength int) EncodedInput {
	for len(e.InputIDs) < maxLength {
		e.InputIDs = append(e.InputIDs, b.padID)
		e.AttentionMask = append(e.AttentionMask, 0)
		e.TokenTypeIDs = append(e.TokenTypeIDs, 0)
	}
	return e
}

// Decode reverses an id sequence back to text: added/special ids are
// skipped, symbols are mapped back to raw bytes, end-of-word markers become
// spaces, and the byte stream is interpreted as UTF-8. A trailing word
// separator is trimmed. Ids outside the vocabulary fail loudly.
func (b *BPE) Decode(ids []int64) (string, error) {
	buf := make([]byte, 0, len(ids)*4)
	var err error
	for _, id := range ids {
		buf, err = b.appendTokenBytes(buf, id)
		if err != nil {
			return "", err
		}
	}
	return strings.TrimSuffix(string(buf), " "), nil
}

// DecodeToken decodes a single id, behaving exactly like Decode applied to
// a one-element sequence. Multi-token byte sequences need NewStream.
func (b *BPE) DecodeToken(id int64) (string, error) {
	return b.Decode([]int64{id})
}

// NewStream returns a fresh streaming decode state for token-by-token
// decoding. The stream is single-consumer and must not be shared.
func (b *BPE) NewStream() *DecodeStream {
	return &DecodeStream{dec: b}
}

// appendTokenBytes appends the raw bytes represented by id to dst.
func (b *BPE) appendTokenBytes(dst []byte, id int64) ([]byte, error) {
	if b.added.contains(id) {
		return dst, nil
	}
	token, err := b.vocab.Token(id)
	if err != nil {
		return nil, err
	}
	core, wordEnd := strings.CutSuffix(token, endOfWord)
	for _, r := range core {
		if raw, ok := b.runeToByte[r]; ok {
			dst = append(dst, raw)
		} else {
			dst = append(dst, string(r)...)
		}
	}
	if wordEnd {
		dst = append(dst, ' ')
	}
	return dst, nil
}

// appendTextIDs lowercases and whitespace-cleans each plain fragment, splits
// it into words, and appends the merged symbol ids for every word. A merged
// symbol absent from the vocabulary means the vocabulary and merge rules
// disagree; that is a malformed-artifact condition and fails loudly rather
// than silently shortening the output.
func (b *BPE) appendTextIDs(ids []int64, text string) ([]int64, error) {
	for _, frag := range b.added.split(text) {
		if frag.special {
			ids = append(ids, frag.id)
			continue
		}
		clean := cleanWhitespace(strings.ToLower(frag.text))
		for _, word := range b.pretokenize(clean) {
			for _, symbol := range b.mergeWord(word) {
				id, ok := b.vocab.ID(symbol)
				if !ok {
					return nil, fmt.Errorf("merged symbol %q is not in the vocabulary", symbol)
				}
				ids = append(ids, id)
			}
		}
	}
	return ids, nil
}

// pretokenize applies the split pattern, returning word pieces in order.
func (b *BPE) pretokenize(s string) []string {
	var words []string
	m, err := b.split.FindStringMatch(s)
	for err == nil && m != nil {
		words = append(words, m.String())
		m, err = b.split.FindNextMatch(m)
	}
	return words
}

// mergeWord maps the word's raw bytes to visible symbols, appends the
// end-of-word marker to the last symbol, then repeatedly merges the adjacent
// pair with the lowest merge rank until no rule applies. Results are cached
// per word.
func (b *BPE) mergeWord(word string) []string {
	if cached, ok := b.cache.Get(word); ok {
		return cached.([]string)
	}

	var symbols []string
	for i := 0; i < len(word); i++ {
		symbols = append(symbols, string(b.byteToRune[word[i]]))
	}
	if len(symbols) == 0 {
		return nil
	}
	symbols[len(symbols)-1] += endOfWord

	for len(symbols) > 1 {
		bestRank := -1
		bestIdx := -1
		for i := 0; i < len(symbols)-1; i++ {
			if rank, ok := b.merges.Rank(symbols[i], symbols[i+1]); ok {
				if bestRank < 0 || rank < bestRank {
					bestRank = rank
					bestIdx = i
				}
			}
		}
		if bestIdx < 0 {
			break
		}
		symbols[bestIdx] += symbols[bestIdx+1]
		symbols = append(symbols[:bestIdx+1], symbols[bestIdx+2:]...)
	}

	b.cache.Add(word, symbols)
	return symbols
}

// cleanWhitespace collapses whitespace runs to single spaces and trims the
// ends.
func cleanWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
