// Package testutil provides deterministic fakes shared by package tests.
package testutil

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
)

var tokenPattern = regexp.MustCompile(`[\p{L}\p{N}]+`)

var stopWords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "did": true, "do": true,
	"does": true, "for": true, "i": true, "in": true, "is": true, "it": true,
	"of": true, "on": true, "or": true, "the": true, "to": true, "was": true,
	"what": true, "which": true, "with": true, "you": true,
}

// VocabEmbedder assigns every distinct content word its own dimension, so
// texts are similar exactly when they share words. The last dimension is
// reserved for texts without content words.
type VocabEmbedder struct {
	dims int

	mu    sync.Mutex
	vocab map[string]int

	calls atomic.Int64
	err   atomic.Pointer[error]
}

func NewVocabEmbedder(dims int) *VocabEmbedder {
	return &VocabEmbedder{dims: dims, vocab: map[string]int{}}
}

// Vector encodes text without counting as a call.
func (e *VocabEmbedder) Vector(text string) []float32 {
	v := make([]float32, e.dims)
	words := 0
	for _, tok := range tokenPattern.FindAllString(strings.ToLower(text), -1) {
		if stopWords[tok] {
			continue
		}
		v[e.index(tok)]++
		words++
	}
	if words == 0 {
		v[e.dims-1] = 1
	}
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	norm := float32(math.Sqrt(sum))
	for i := range v {
		v[i] /= norm
	}
	return v
}

func (e *VocabEmbedder) index(tok string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	i, ok := e.vocab[tok]
	if !ok {
		i = len(e.vocab) % (e.dims - 1)
		e.vocab[tok] = i
	}
	return i
}

// FailWith makes every following Embed call return err. Pass nil to recover.
func (e *VocabEmbedder) FailWith(err error) {
	if err == nil {
		e.err.Store(nil)
		return
	}
	e.err.Store(&err)
}

// Calls counts Embed* invocations.
func (e *VocabEmbedder) Calls() int {
	return int(e.calls.Load())
}

func (e *VocabEmbedder) Dimensions() int { return e.dims }

func (e *VocabEmbedder) embed(text string) ([]float32, error) {
	e.calls.Add(1)
	if p := e.err.Load(); p != nil {
		return nil, *p
	}
	if strings.TrimSpace(text) == "" {
		return nil, errors.New("empty input")
	}
	return e.Vector(text), nil
}

func (e *VocabEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	return e.embed(text)
}

func (e *VocabEmbedder) EmbedPassage(_ context.Context, text string) ([]float32, error) {
	return e.embed(text)
}

func (e *VocabEmbedder) EmbedBatchPassage(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if strings.TrimSpace(t) == "" {
			out[i] = []float32{}
			continue
		}
		v, err := e.EmbedPassage(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// Logger discards everything.
func Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Axis returns a unit vector along dimension i.
func Axis(dims, i int) []float32 {
	v := make([]float32, dims)
	v[i] = 1
	return v
}
