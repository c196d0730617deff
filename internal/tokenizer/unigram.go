package tokenizer

import (
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"strings"
	"unicode/utf8"
)

// spaceMarker is the visible word-start placeholder for the space character.
const spaceMarker = "▁" // ▁

// unknownScorePenalty is subtracted from the minimum vocabulary score to
// price byte-fallback edges below every real segmentation.
const unknownScorePenalty = 10.0

// trieNode is a byte-wise prefix tree over vocabulary pieces, used to
// enumerate every piece starting at a given input offset in one walk.
type trieNode struct {
	children map[byte]*trieNode
	id       int64
	terminal bool
}

func (n *trieNode) insert(key string, id int64) {
	node := n
	for i := 0; i < len(key); i++ {
		if node.children == nil {
			node.children = make(map[byte]*trieNode)
		}
		child, ok := node.children[key[i]]
		if !ok {
			child = &trieNode{}
			node.children[key[i]] = child
		}
		node = child
	}
	node.id = id
	node.terminal = true
}

func (n *trieNode) step(c byte) *trieNode {
	if n.children == nil {
		return nil
	}
	return n.children[c]
}

// unigramArtifact is the structured vocabulary artifact: scored pieces,
// added tokens with reserved ids, and either a byte-fallback block
// addressable as <0xHH> or a declared unknown-token id.
type unigramArtifact struct {
	AddedTokens []AddedToken `json:"added_tokens"`
	Model       struct {
		Type  string  `json:"type"`
		UnkID *int64  `json:"unk_id"`
		Vocab [][]any `json:"vocab"` // [token, logProbability] pairs, index = id
	} `json:"model"`
}

// Unigram segments text by a Viterbi dynamic program maximizing the summed
// log-probability of the chosen pieces. Characters no vocabulary piece can
// reach become per-byte fallback tokens, or the model's unknown token when
// the artifact carries no byte-fallback block.
type Unigram struct {
	vocab    *Vocabulary
	scores   []float64
	added    *addedTokens
	trie     *trieNode
	byteBase int64 // id of <0x00>, -1 when the vocabulary has no fallback block
	unkID    int64 // declared unk_id, -1 when absent
	unkScore float64
}

// NewUnigram parses the structured JSON artifact and builds the segmenter.
// Construction fails fast on malformed vocab entries, duplicate tokens, a
// non-contiguous byte-fallback block, or an artifact offering neither a
// byte-fallback block nor an unk_id.
func NewUnigram(data []byte) (*Unigram, error) {
	var artifact unigramArtifact
	if err := json.Unmarshal(data, &artifact); err != nil {
		return nil, fmt.Errorf("decode unigram artifact: %w", err)
	}
	if artifact.Model.Type != "" && artifact.Model.Type != "Unigram" {
		return nil, fmt.Errorf("unexpected model type %q", artifact.Model.Type)
	}
	if len(artifact.Model.Vocab) == 0 {
		return nil, fmt.Errorf("unigram artifact has no vocabulary")
	}

	pieces := make([]string, len(artifact.Model.Vocab))
	scores := make([]float64, len(artifact.Model.Vocab))
	for i, entry := range artifact.Model.Vocab {
		if len(entry) != 2 {
			return nil, fmt.Errorf("vocab entry %d: want [token, score] pair, got %d elements", i, len(entry))
		}
		piece, ok := entry[0].(string)
		if !ok {
			return nil, fmt.Errorf("vocab entry %d: token is %T, want string", i, entry[0])
		}
		score, ok := entry[1].(float64)
		if !ok {
			return nil, fmt.Errorf("vocab entry %d (%q): score is %T, want number", i, piece, entry[1])
		}
		pieces[i] = piece
		scores[i] = score
	}

	vocab, err := NewVocabulary(pieces)
	if err != nil {
		return nil, err
	}

	added, err := newAddedTokens(artifact.AddedTokens)
	if err != nil {
		return nil, err
	}
	for _, tok := range artifact.AddedTokens {
		if _, err := vocab.Token(tok.ID); err != nil {
			return nil, fmt.Errorf("added token %q: reserved id %d not in vocabulary", tok.Content, tok.ID)
		}
	}

	byteBase, err := locateByteFallback(vocab)
	if err != nil {
		return nil, err
	}

	u := &Unigram{
		vocab:    vocab,
		scores:   scores,
		added:    added,
		trie:     &trieNode{},
		byteBase: byteBase,
		unkID:    -1,
	}
	if artifact.Model.UnkID != nil {
		if _, err := vocab.Token(*artifact.Model.UnkID); err != nil {
			return nil, fmt.Errorf("unk_id %d not in vocabulary", *artifact.Model.UnkID)
		}
		u.unkID = *artifact.Model.UnkID
	}
	if byteBase < 0 && u.unkID < 0 {
		return nil, fmt.Errorf("unigram artifact has neither a byte-fallback block nor an unk_id")
	}

	minScore := math.Inf(1)
	for id, piece := range pieces {
		if u.isByteFallbackID(int64(id)) || int64(id) == u.unkID {
			continue
		}
		if _, isAdded := added.id(piece); isAdded {
			continue
		}
		u.trie.insert(piece, int64(id))
		if scores[id] < minScore {
			minScore = scores[id]
		}
	}
	if math.IsInf(minScore, 1) {
		minScore = 0
	}
	u.unkScore = minScore - unknownScorePenalty

	return u, nil
}

// locateByteFallback finds <0x00> and verifies that all 256 byte tokens are
// present at contiguous ids. A vocabulary without <0x00> has no fallback
// block, reported as -1.
func locateByteFallback(vocab *Vocabulary) (int64, error) {
	base, ok := vocab.ID("<0x00>")
	if !ok {
		return -1, nil
	}
	for b := 1; b < 256; b++ {
		id, ok := vocab.ID(fmt.Sprintf("<0x%02X>", b))
		if !ok || id != base+int64(b) {
			return 0, fmt.Errorf("byte-fallback block is not contiguous at <0x%02X>", b)
		}
	}
	return base, nil
}

func (u *Unigram) isByteFallbackID(id int64) bool {
	return u.byteBase >= 0 && id >= u.byteBase && id < u.byteBase+256
}

// Encode scans the raw input splitting out added tokens as atomic units,
// then runs the Viterbi search per plain-text span. The final id array is
// sliced to maxLength; no padding is applied.
func (u *Unigram) Encode(text string, maxLength int) (EncodedInput, error) {
	ids := u.appendTextIDs(nil, text)
	return newEncodedInput(ids, nil).truncate(maxLength), nil
}

// EncodePair concatenates both sequences' ids, marking the second with
// token type id 1.
func (u *Unigram) EncodePair(textA, textB string, maxLength int) (EncodedInput, error) {
	ids := u.appendTextIDs(nil, textA)
	firstLen := len(ids)
	ids = u.appendTextIDs(ids, textB)

	typeIDs := make([]int64, len(ids))
	for i := firstLen; i < len(ids); i++ {
		typeIDs[i] = 1
	}
	return newEncodedInput(ids, typeIDs).truncate(maxLength), nil
}

func (u *Unigram) appendTextIDs(ids []int64, text string) []int64 {
	for _, frag := range u.added.split(text) {
		if frag.special {
			ids = append(ids, frag.id)
			continue
		}
		normalized := spaceMarker + strings.ReplaceAll(frag.text, " ", spaceMarker)
		ids = u.viterbi(normalized, ids)
	}
	return ids
}

// viterbiCell is the best segmentation ending at one byte offset: the piece
// covering the final span, the offset that span starts at, and the summed
// log-probability of the whole path.
type viterbiCell struct {
	id       int64
	start    int
	score    float64
	fallback bool
}

// viterbi runs the forward dynamic program over a normalized span and
// appends the ids of the maximum-score segmentation. Ties keep the
// first-found maximum in end-position scan order. Characters no piece
// reaches become per-byte fallback edges, or unknown-token edges for models
// without a byte-fallback block, so every input is representable.
func (u *Unigram) viterbi(normalized string, ids []int64) []int64 {
	cells := make([]viterbiCell, len(normalized)+1)
	for i := range cells {
		cells[i].score = math.Inf(-1)
	}
	cells[0].score = 0

	for offset := 0; offset < len(normalized); {
		_, runeLen := utf8.DecodeRuneInString(normalized[offset:])
		current := cells[offset]

		wholeRuneCovered := false
		node := u.trie.step(normalized[offset])
		for end := offset + 1; node != nil; end++ {
			if node.terminal {
				if end-offset == runeLen {
					wholeRuneCovered = true
				}
				challenger := current.score + u.scores[node.id]
				if challenger > cells[end].score {
					cells[end] = viterbiCell{id: node.id, start: offset, score: challenger}
				}
			}
			if end >= len(normalized) {
				break
			}
			node = node.step(normalized[end])
		}

		if !wholeRuneCovered {
			// Fallback edge over the single codepoint; expanded to byte
			// tokens or the unknown token during backtracking.
			end := offset + runeLen
			challenger := current.score + u.unkScore
			if challenger > cells[end].score {
				cells[end] = viterbiCell{start: offset, score: challenger, fallback: true}
			}
		}

		offset += runeLen
	}

	// Backtrack from the end, then reverse into encounter order.
	out := make([]int64, 0, 8)
	for end := len(normalized); end > 0; {
		cell := cells[end]
		if cell.fallback {
			if u.byteBase >= 0 {
				for i := end - 1; i >= cell.start; i-- {
					out = append(out, u.byteBase+int64(normalized[i]))
				}
			} else {
				out = append(out, u.unkID)
			}
		} else {
			out = append(out, cell.id)
		}
		end = cell.start
	}
	slices.Reverse(out)
	return append(ids, out...)
}

// Decode walks the id sequence, skips added-token ids, substitutes the
// word-start marker with a literal space, and reassembles runs of
// byte-fallback tokens into UTF-8. One leading space introduced by the
// word-start marker of the first span is stripped. Out-of-range ids fail
// loudly.
func (u *Unigram) Decode(ids []int64) (string, error) {
	buf := make([]byte, 0, len(ids)*4)
	var err error
	for _, id := range ids {
		buf, err = u.appendTokenBytes(buf, id)
		if err != nil {
			return "", err
		}
	}
	return strings.TrimPrefix(string(buf), " "), nil
}

// DecodeToken decodes a single id, behaving exactly like Decode applied to
// a one-element sequence, including the space-marker substitution. For
// token-by-token streaming use NewStream, which keeps partial UTF-8 bytes
// pending across calls.
func (u *Unigram) DecodeToken(id int64) (string, error) {
	return u.Decode([]int64{id})
}

// NewStream returns a fresh streaming decode state. The stream strips the
// leading word-start space once at stream start and preserves all later
// spacing; it is single-consumer and must not be shared.
func (u *Unigram) NewStream() *DecodeStream {
	return &DecodeStream{dec: u, trimLeadingSpace: true}
}

// appendTokenBytes appends the raw bytes represented by id to dst.
func (u *Unigram) appendTokenBytes(dst []byte, id int64) ([]byte, error) {
	if u.added.contains(id) {
		return dst, nil
	}
	if u.isByteFallbackID(id) {
		return append(dst, byte(id-u.byteBase)), nil
	}
	piece, err := u.vocab.Token(id)
	if err != nil {
		return nil, err
	}
	return append(dst, strings.ReplaceAll(piece, spaceMarker, " ")...), nil
}
