// Package embed turns text into sentence vectors by running encoded token
// sequences through an ONNX text-encoder graph and mean-pooling the hidden
// states under the attention mask.
package embed

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/example/go-subword/internal/onnx"
	"github.com/example/go-subword/internal/tokenizer"
)

// GraphRunner executes a single ONNX graph. *onnx.Runner implements it; tests
// substitute a fake.
type GraphRunner interface {
	Run(ctx context.Context, inputs map[string]*onnx.Tensor) (map[string]*onnx.Tensor, error)
}

type Options struct {
	// MaxLength bounds the encoded sequence; zero means the tokenizer default.
	MaxLength int
	// OutputName is the graph output holding the hidden states.
	// Defaults to "last_hidden_state".
	OutputName string
	// Normalize rescales pooled vectors to unit length.
	Normalize bool
}

type Service struct {
	tok    tokenizer.Tokenizer
	runner GraphRunner
	opts   Options
}

func NewService(tok tokenizer.Tokenizer, runner GraphRunner, opts Options) (*Service, error) {
	if tok == nil {
		return nil, errors.New("tokenizer is required")
	}
	if runner == nil {
		return nil, errors.New("graph runner is required")
	}
	if opts.OutputName == "" {
		opts.OutputName = "last_hidden_state"
	}
	return &Service{tok: tok, runner: runner, opts: opts}, nil
}

// Embed encodes text and returns its pooled sentence vector.
func (s *Service) Embed(ctx context.Context, text string) ([]float32, error) {
	enc, err := s.tok.Encode(text, s.opts.MaxLength)
	if err != nil {
		return nil, fmt.Errorf("encode text: %w", err)
	}
	if enc.Len() == 0 {
		return nil, errors.New("text encodes to an empty sequence")
	}

	inputs, err := encodedTensors(enc)
	if err != nil {
		return nil, err
	}

	outputs, err := s.runner.Run(ctx, inputs)
	if err != nil {
		return nil, fmt.Errorf("run encoder: %w", err)
	}

	hidden, ok := outputs[s.opts.OutputName]
	if !ok {
		return nil, fmt.Errorf("encoder output %q missing", s.opts.OutputName)
	}

	vec, err := meanPool(hidden, enc.AttentionMask)
	if err != nil {
		return nil, err
	}

	if s.opts.Normalize {
		normalize(vec)
	}
	return vec, nil
}

func encodedTensors(enc tokenizer.EncodedInput) (map[string]*onnx.Tensor, error) {
	seq := int64(enc.Len())
	shape := []int64{1, seq}

	ids, err := onnx.NewTensor(enc.InputIDs, shape)
	if err != nil {
		return nil, fmt.Errorf("input_ids tensor: %w", err)
	}
	mask, err := onnx.NewTensor(enc.AttentionMask, shape)
	if err != nil {
		return nil, fmt.Errorf("attention_mask tensor: %w", err)
	}
	typeIDs, err := onnx.NewTensor(enc.TokenTypeIDs, shape)
	if err != nil {
		return nil, fmt.Errorf("token_type_ids tensor: %w", err)
	}

	return map[string]*onnx.Tensor{
		"input_ids":      ids,
		"attention_mask": mask,
		"token_type_ids": typeIDs,
	}, nil
}

// meanPool averages hidden states over positions where the attention mask is
// set. The hidden tensor must have shape [1, seq, dim] with seq matching the
// mask length.
func meanPool(hidden *onnx.Tensor, mask []int64) ([]float32, error) {
	shape := hidden.Shape()
	if len(shape) != 3 || shape[0] != 1 {
		return nil, fmt.Errorf("hidden states must have shape [1, seq, dim], got %v", shape)
	}

	seq := int(shape[1])
	dim := int(shape[2])
	if seq != len(mask) {
		return nil, fmt.Errorf("hidden sequence length %d does not match mask length %d", seq, len(mask))
	}

	data, err := hidden.Float32()
	if err != nil {
		return nil, fmt.Errorf("hidden states: %w", err)
	}

	vec := make([]float32, dim)
	var count float32
	for pos := 0; pos < seq; pos++ {
		if mask[pos] == 0 {
			continue
		}
		count++
		row := data[pos*dim : (pos+1)*dim]
		for i, v := range row {
			vec[i] += v
		}
	}
	if count == 0 {
		return nil, errors.New("attention mask selects no positions")
	}

	for i := range vec {
		vec[i] /= count
	}
	return vec, nil
}

func normalize(vec []float32) {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return
	}
	inv := float32(1 / math.Sqrt(sum))
	for i := range vec {
		vec[i] *= inv
	}
}
