package tokenizer

import (
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// WordPieceConfig names the special tokens a WordPiece vocabulary must
// contain. Zero-value fields fall back to the conventional BERT names.
type WordPieceConfig struct {
	UnknownToken       string // default "[UNK]"
	StartToken         string // default "[CLS]"
	EndToken           string // default "[SEP]"
	PadToken           string // default "[PAD]"; registered as atomic when in the vocabulary
	ContinuationPrefix string // default "##"
	Added              []AddedToken
}

func (c WordPieceConfig) withDefaults() WordPieceConfig {
	if c.UnknownToken == "" {
		c.UnknownToken = "[UNK]"
	}
	if c.StartToken == "" {
		c.StartToken = "[CLS]"
	}
	if c.EndToken == "" {
		c.EndToken = "[SEP]"
	}
	if c.PadToken == "" {
		c.PadToken = "[PAD]"
	}
	if c.ContinuationPrefix == "" {
		c.ContinuationPrefix = "##"
	}
	return c
}

// WordPiece is a greedy longest-match subword segmenter operating per
// whitespace-delimited word. Added tokens are matched atomically in the raw
// input before normalization runs. It never pads: output length is the true
// token count up to maxLength.
type WordPiece struct {
	vocab  *Vocabulary
	added  *addedTokens
	prefix string
	unkID  int64
	clsID  int64
	sepID  int64
}

// wpAccentStripper decomposes to NFD and removes combining marks, matching
// the lowercased BERT normalization.
var wpAccentStripper = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// NewWordPiece builds a WordPiece segmenter over vocab. The configured
// special tokens must be present in the vocabulary; they are matched
// atomically in raw input along with cfg.Added.
func NewWordPiece(vocab *Vocabulary, cfg WordPieceConfig) (*WordPiece, error) {
	cfg = cfg.withDefaults()

	w := &WordPiece{vocab: vocab, prefix: cfg.ContinuationPrefix}
	for _, bind := range []struct {
		token string
		dst   *int64
	}{
		{cfg.UnknownToken, &w.unkID},
		{cfg.StartToken, &w.clsID},
		{cfg.EndToken, &w.sepID},
	} {
		id, ok := vocab.ID(bind.token)
		if !ok {
			return nil, fmt.Errorf("vocabulary is missing required token %q", bind.token)
		}
		*bind.dst = id
	}

	allAdded := []AddedToken{
		{Content: cfg.UnknownToken, ID: w.unkID},
		{Content: cfg.StartToken, ID: w.clsID},
		{Content: cfg.EndToken, ID: w.sepID},
	}
	if padID, ok := vocab.ID(cfg.PadToken); ok {
		allAdded = append(allAdded, AddedToken{Content: cfg.PadToken, ID: padID})
	}
	allAdded = append(allAdded, cfg.Added...)
	added, err := newAddedTokens(allAdded)
	if err != nil {
		return nil, err
	}
	w.added = added

	return w, nil
}

// Encode tokenizes a single sequence as [CLS] tokens... [SEP], truncated to
// maxLength keeping the head. The empty string encodes to exactly
// [CLS] [SEP]. The attention mask is all ones.
func (w *WordPiece) Encode(text string, maxLength int) (EncodedInput, error) {
	ids := make([]int64, 0, 16)
	ids = append(ids, w.clsID)
	ids = w.appendTextIDs(ids, text)
	ids = append(ids, w.sepID)
	return newEncodedInput(ids, nil).truncate(maxLength), nil
}

// EncodePair tokenizes a sentence pair as [CLS] A [SEP] B [SEP] with token
// type id 0 for the first sequence (including [CLS] and its [SEP]) and 1
// for the second (including its trailing [SEP]).
func (w *WordPiece) EncodePair(textA, textB string, maxLength int) (EncodedInput, error) {
	ids := make([]int64, 0, 32)
	ids = append(ids, w.clsID)
	ids = w.appendTextIDs(ids, textA)
	ids = append(ids, w.sepID)
	firstLen := len(ids)

	ids = w.appendTextIDs(ids, textB)
	ids = append(ids, w.sepID)

	typeIDs := make([]int64, len(ids))
	for i := firstLen; i < len(ids); i++ {
		typeIDs[i] = 1
	}
	return newEncodedInput(ids, typeIDs).truncate(maxLength), nil
}

// Decode reverses an id sequence, skipping added/special tokens, joining
// continuation pieces to their predecessor and separating words with single
// spaces. Output is lowercase because encoding lowercases.
func (w *WordPiece) Decode(ids []int64) (string, error) {
	var sb strings.Builder
	for _, id := range ids {
		if w.added.contains(id) {
			continue
		}
		piece, err := w.vocab.Token(id)
		if err != nil {
			return "", err
		}
		if cont, ok := strings.CutPrefix(piece, w.prefix); ok {
			sb.WriteString(cont)
			continue
		}
		if sb.Len() > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(piece)
	}
	return sb.String(), nil
}

// appendTextIDs scans raw text for added tokens, then normalizes each plain
// fragment, splits it into words and punctuation, and appends the subword
// ids of every word. Added tokens are matched before lowercasing so their
// literals survive intact.
func (w *WordPiece) appendTextIDs(ids []int64, text string) []int64 {
	for _, frag := range w.added.split(text) {
		if frag.special {
			ids = append(ids, frag.id)
			continue
		}
		for _, word := range splitWords(normalizeWordPiece(frag.text)) {
			ids = w.appendWordIDs(ids, word)
		}
	}
	return ids
}

// appendWordIDs greedily consumes the longest vocabulary prefix of word,
// marking non-initial pieces with the continuation prefix. A word with no
// matching prefix at any point maps to a single unknown-token id.
func (w *WordPiece) appendWordIDs(ids []int64, word string) []int64 {
	runes := []rune(word)
	pieces := make([]int64, 0, 4)

	start := 0
	for start < len(runes) {
		end := len(runes)
		matched := false
		for end > start {
			piece := string(runes[start:end])
			if start > 0 {
				piece = w.prefix + piece
			}
			if id, ok := w.vocab.ID(piece); ok {
				pieces = append(pieces, id)
				start = end
				matched = true
				break
			}
			end--
		}
		if !matched {
			// The whole word becomes a single unknown token.
			return append(ids, w.unkID)
		}
	}
	return append(ids, pieces...)
}

// normalizeWordPiece lowercases and strips accents.
func normalizeWordPiece(s string) string {
	s = strings.ToLower(s)
	if out, _, err := transform.String(wpAccentStripper, s); err == nil {
		s = out
	}
	return s
}

// splitWords cuts normalized text on whitespace and makes every punctuation
// rune its own word, so punctuation is never merged into adjacent subwords.
func splitWords(s string) []string {
	var words []string
	var current strings.Builder

	flush := func() {
		if current.Len() > 0 {
			words = append(words, current.String())
			current.Reset()
		}
	}

	for _, r := range s {
		switch {
		case unicode.IsSpace(r):
			flush()
		case isWordPiecePunct(r):
			flush()
			words = append(words, string(r))
		default:
			current.WriteRune(r)
		}
	}
	flush()
	return words
}

// isWordPiecePunct treats Unicode punctuation and symbol runes as word
// boundaries, mirroring the BERT basic tokenizer.
func isWordPiecePunct(r rune) bool {
	return unicode.IsPunct(r) || unicode.IsSymbol(r)
}
