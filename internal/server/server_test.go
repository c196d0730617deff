package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/example/go-subword/internal/config"
	"github.com/example/go-subword/internal/tokenizer"
)

type fakeEmbedder struct {
	vec []float32
	err error
}

func (f *fakeEmbedder) Embed(ctx context.Context, _ string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	return f.vec, nil
}

func testTokenizer(t *testing.T) tokenizer.Tokenizer {
	t.Helper()
	vocab, err := tokenizer.ParseVocabLines([]byte("[PAD]\n[UNK]\n[CLS]\n[SEP]\nhello\nworld\n"))
	if err != nil {
		t.Fatalf("ParseVocabLines: %v", err)
	}
	tok, err := tokenizer.NewWordPiece(vocab, tokenizer.WordPieceConfig{})
	if err != nil {
		t.Fatalf("NewWordPiece: %v", err)
	}
	return tok
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(bytes.NewBuffer(nil), nil))
}

func newTestHandler(t *testing.T, embedder Embedder, opts ...Option) http.Handler {
	t.Helper()
	opts = append([]Option{WithLogger(quietLogger())}, opts...)
	return NewHandler(testTokenizer(t), embedder, opts...)
}

func postJSON(t *testing.T, h http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

// --- /health ---

func TestHealth(t *testing.T) {
	h := newTestHandler(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d; want 200", rec.Code)
	}

	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status field = %q; want ok", body["status"])
	}
}

// --- /encode ---

func TestEncode(t *testing.T) {
	h := newTestHandler(t, nil)
	rec := postJSON(t, h, "/encode", `{"text": "hello world"}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d; body = %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		InputIDs      []int64 `json:"input_ids"`
		AttentionMask []int64 `json:"attention_mask"`
		TokenTypeIDs  []int64 `json:"token_type_ids"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode body: %v", err)
	}

	want := []int64{2, 4, 5, 3}
	if len(resp.InputIDs) != len(want) {
		t.Fatalf("input_ids = %v; want %v", resp.InputIDs, want)
	}
	for i, id := range want {
		if resp.InputIDs[i] != id {
			t.Fatalf("input_ids = %v; want %v", resp.InputIDs, want)
		}
	}
	if len(resp.AttentionMask) != len(want) || len(resp.TokenTypeIDs) != len(want) {
		t.Error("mask and type id lengths must match input_ids")
	}
}

func TestEncodePairSetsTypeIDs(t *testing.T) {
	h := newTestHandler(t, nil)
	rec := postJSON(t, h, "/encode", `{"text": "hello", "text_pair": "world"}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d; body = %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		TokenTypeIDs []int64 `json:"token_type_ids"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode body: %v", err)
	}

	var sawSecond bool
	for _, id := range resp.TokenTypeIDs {
		if id == 1 {
			sawSecond = true
		}
	}
	if !sawSecond {
		t.Errorf("token_type_ids = %v; expected segment 1 ids", resp.TokenTypeIDs)
	}
}

func TestEncodeRequiresText(t *testing.T) {
	h := newTestHandler(t, nil)
	rec := postJSON(t, h, "/encode", `{}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d; want 400", rec.Code)
	}
}

func TestEncodeRejectsOversizedText(t *testing.T) {
	h := newTestHandler(t, nil, WithMaxTextBytes(8))
	rec := postJSON(t, h, "/encode", `{"text": "hello world this is long"}`)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d; want 413", rec.Code)
	}
}

func TestEncodeRejectsGet(t *testing.T) {
	h := newTestHandler(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/encode", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d; want 405", rec.Code)
	}
}

func TestEncodeInvalidJSON(t *testing.T) {
	h := newTestHandler(t, nil)
	rec := postJSON(t, h, "/encode", `{not json`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d; want 400", rec.Code)
	}
}

// --- /decode ---

func TestDecode(t *testing.T) {
	h := newTestHandler(t, nil)
	rec := postJSON(t, h, "/decode", `{"ids": [4, 5]}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d; body = %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if resp.Text != "hello world" {
		t.Errorf("text = %q; want %q", resp.Text, "hello world")
	}
}

func TestDecodeInvalidID(t *testing.T) {
	h := newTestHandler(t, nil)
	rec := postJSON(t, h, "/decode", `{"ids": [9999]}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d; want 400", rec.Code)
	}
}

func TestDecodeRequiresIDs(t *testing.T) {
	h := newTestHandler(t, nil)
	rec := postJSON(t, h, "/decode", `{"ids": []}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d; want 400", rec.Code)
	}
}

// --- /embed ---

func TestEmbed(t *testing.T) {
	h := newTestHandler(t, &fakeEmbedder{vec: []float32{0.25, -0.5}})
	rec := postJSON(t, h, "/embed", `{"text": "hello"}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d; body = %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Embedding []float32 `json:"embedding"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(resp.Embedding) != 2 || resp.Embedding[0] != 0.25 {
		t.Errorf("embedding = %v; want [0.25 -0.5]", resp.Embedding)
	}
}

func TestEmbedWithoutEncoder(t *testing.T) {
	h := newTestHandler(t, nil)
	rec := postJSON(t, h, "/embed", `{"text": "hello"}`)
	if rec.Code != http.StatusNotImplemented {
		t.Fatalf("status = %d; want 501", rec.Code)
	}
}

func TestEmbedFailure(t *testing.T) {
	h := newTestHandler(t, &fakeEmbedder{err: errors.New("graph exploded")})
	rec := postJSON(t, h, "/embed", `{"text": "hello"}`)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d; want 500", rec.Code)
	}
}

func TestEmbedTimeout(t *testing.T) {
	h := newTestHandler(t, &fakeEmbedder{err: context.DeadlineExceeded})
	rec := postJSON(t, h, "/embed", `{"text": "hello"}`)
	if rec.Code != http.StatusGatewayTimeout {
		t.Fatalf("status = %d; want 504", rec.Code)
	}
}

// --- worker semaphore ---

func TestWorkerSlotReleased(t *testing.T) {
	h := newTestHandler(t, &fakeEmbedder{vec: []float32{1}}, WithWorkers(1))

	// Two sequential requests must both succeed with a single worker slot.
	for i := 0; i < 2; i++ {
		rec := postJSON(t, h, "/embed", `{"text": "hello"}`)
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d status = %d; want 200", i, rec.Code)
		}
	}
}

// --- ParseLogLevel ---

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"", slog.LevelInfo, false},
		{"info", slog.LevelInfo, false},
		{"DEBUG", slog.LevelDebug, false},
		{"warn", slog.LevelWarn, false},
		{"warning", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"trace", slog.LevelInfo, true},
	}

	for _, tt := range tests {
		got, err := ParseLogLevel(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseLogLevel(%q) = %v; want error", tt.in, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseLogLevel(%q) unexpected error: %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseLogLevel(%q) = %v; want %v", tt.in, got, tt.want)
		}
	}
}

// --- Server.Start ---

func TestServerStartAndShutdown(t *testing.T) {
	cfg := config.DefaultConfig()
	// Bind to a fixed ephemeral-range port so ProbeHTTP can find the server.
	cfg.Server.ListenAddr = "127.0.0.1:18231"

	srv := New(cfg, testTokenizer(t), nil).WithShutdownTimeout(2 * time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Start(ctx) }()

	var probeErr error
	for i := 0; i < 50; i++ {
		probeErr = ProbeHTTP("127.0.0.1:18231")
		if probeErr == nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if probeErr != nil {
		cancel()
		t.Fatalf("health probe never succeeded: %v", probeErr)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Start returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
