package model

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/example/go-subword/internal/tokenizer"
)

func writeFixture(t *testing.T, dir, name string, content []byte) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, content, 0o644); err != nil {
		t.Fatalf("write fixture %s: %v", name, err)
	}
	return p
}

func wordPieceVocabFixture() []byte {
	return []byte("[PAD]\n[UNK]\n[CLS]\n[SEP]\nhello\nworld\n")
}

func bpeVocabFixture(t *testing.T) []byte {
	t.Helper()
	b, err := json.Marshal(map[string]int64{
		"<|pad|>":         0,
		"<|startoftext|>": 1,
		"<|endoftext|>":   2,
		"a":               3,
		"a</w>":           4,
	})
	if err != nil {
		t.Fatalf("marshal vocab: %v", err)
	}
	return b
}

func unigramModelFixture() []byte {
	vocab := `[["<pad>",0.0],["<s>",0.0],["</s>",0.0]`
	for i := 0; i < 256; i++ {
		vocab += fmt.Sprintf(`,["<0x%02X>",-10.0]`, i)
	}
	vocab += `,["▁hello",-5.0]]`

	return []byte(`{
		"added_tokens": [
			{"content": "<pad>", "id": 0},
			{"content": "<s>", "id": 1},
			{"content": "</s>", "id": 2}
		],
		"model": {"type": "Unigram", "vocab": ` + vocab + `}
	}`)
}

func TestLoadTokenizerWordPiece(t *testing.T) {
	dir := t.TempDir()
	vocab := writeFixture(t, dir, "vocab.txt", wordPieceVocabFixture())

	tok, err := LoadTokenizer(ArtifactPaths{Kind: "wordpiece", VocabPath: vocab})
	if err != nil {
		t.Fatalf("LoadTokenizer error: %v", err)
	}
	enc, err := tok.Encode("hello world", 0)
	if err != nil {
		t.Fatalf("Encode error: %v", err)
	}
	if enc.Len() != 4 {
		t.Fatalf("expected 4 tokens, got %d", enc.Len())
	}
}

func TestLoadTokenizerBPERequiresMerges(t *testing.T) {
	dir := t.TempDir()
	vocab := writeFixture(t, dir, "vocab.json", bpeVocabFixture(t))

	_, err := LoadTokenizer(ArtifactPaths{Kind: "bpe", VocabPath: vocab})
	if err == nil {
		t.Fatal("expected error for missing merges path")
	}
}

func TestLoadTokenizerBPE(t *testing.T) {
	dir := t.TempDir()
	vocab := writeFixture(t, dir, "vocab.json", bpeVocabFixture(t))
	merges := writeFixture(t, dir, "merges.txt", []byte("#version: 0.2\na a</w>\n"))

	tok, err := LoadTokenizer(ArtifactPaths{Kind: "bpe", VocabPath: vocab, MergesPath: merges})
	if err != nil {
		t.Fatalf("LoadTokenizer error: %v", err)
	}
	if tok == nil {
		t.Fatal("expected tokenizer")
	}
}

func TestLoadTokenizerUnigram(t *testing.T) {
	dir := t.TempDir()
	model := writeFixture(t, dir, "tokenizer.json", unigramModelFixture())

	tok, err := LoadTokenizer(ArtifactPaths{Kind: "unigram", TokenizerPath: model})
	if err != nil {
		t.Fatalf("LoadTokenizer error: %v", err)
	}
	if tok == nil {
		t.Fatal("expected tokenizer")
	}
}

func TestLoadTokenizerDetect(t *testing.T) {
	dir := t.TempDir()
	wpVocab := writeFixture(t, dir, "vocab.txt", wordPieceVocabFixture())
	model := writeFixture(t, dir, "tokenizer.json", unigramModelFixture())

	// A tokenizer model path wins over a plain vocabulary.
	tok, err := LoadTokenizer(ArtifactPaths{VocabPath: wpVocab, TokenizerPath: model})
	if err != nil {
		t.Fatalf("LoadTokenizer error: %v", err)
	}
	if _, ok := tok.(*tokenizer.Unigram); !ok {
		t.Fatalf("expected unigram tokenizer, got %T", tok)
	}

	// A lone vocabulary selects WordPiece.
	tok, err = LoadTokenizer(ArtifactPaths{VocabPath: wpVocab})
	if err != nil {
		t.Fatalf("LoadTokenizer error: %v", err)
	}
	if _, ok := tok.(*tokenizer.WordPiece); !ok {
		t.Fatalf("expected wordpiece tokenizer, got %T", tok)
	}
}

func TestLoadTokenizerNoPaths(t *testing.T) {
	if _, err := LoadTokenizer(ArtifactPaths{}); err == nil {
		t.Fatal("expected error for empty artifact paths")
	}
}

func TestLoadTokenizerUnknownKind(t *testing.T) {
	if _, err := LoadTokenizer(ArtifactPaths{Kind: "sentencepiece"}); err == nil {
		t.Fatal("expected error for unknown kind")
	}
}
