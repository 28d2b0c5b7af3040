// Package gatewaytest provides a scripted model gateway for tests.
package gatewaytest

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/fyrsmithlabs/truthd/internal/gateway"
)

// Fake is a scripted gateway.Gateway. Unset functions fall back to empty
// extractions, a keyword embedding and "no conflict".
type Fake struct {
	ExtractFunc  func(ctx context.Context, text string) (gateway.Extraction, error)
	EmbedFunc    func(ctx context.Context, text string) ([]float32, error)
	ConflictFunc func(ctx context.Context, existing, proposed string) (gateway.ConflictCheck, error)

	mu    sync.Mutex
	calls map[string]int
}

var _ gateway.Gateway = (*Fake)(nil)

// NewFake returns a Fake with default behavior.
func NewFake() *Fake {
	return &Fake{}
}

// Calls returns how many times op ("extract", "embed", "check_conflict") ran.
func (f *Fake) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *Fake) count(op string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = make(map[string]int)
	}
	f.calls[op]++
}

func (f *Fake) Extract(ctx context.Context, text string) (gateway.Extraction, error) {
	f.count("extract")
	if f.ExtractFunc != nil {
		return f.ExtractFunc(ctx, text)
	}
	return gateway.Extraction{Participants: []string{}, Topics: []string{}, Decisions: []gateway.Decision{}, ActionItems: []gateway.ActionItem{}, Claims: []gateway.Claim{}}, nil
}

func (f *Fake) Embed(ctx context.Context, text string) ([]float32, error) {
	f.count("embed")
	if f.EmbedFunc != nil {
		return f.EmbedFunc(ctx, text)
	}
	return KeywordEmbedding(text), nil
}

func (f *Fake) CheckConflict(ctx context.Context, existing, proposed string) (gateway.ConflictCheck, error) {
	f.count("check_conflict")
	if f.ConflictFunc != nil {
		return f.ConflictFunc(ctx, existing, proposed)
	}
	return gateway.ConflictCheck{Conflict: false, ConflictType: "none"}, nil
}

// ErrFakeUnavailable can be returned by scripted functions to simulate an
// outage.
var ErrFakeUnavailable = &gateway.Error{Op: "fake", StatusCode: 503, Err: errors.New("service unavailable")}

// KeywordEmbedding is a deterministic bag-of-letters vector: identical text
// maps to identical vectors and unrelated text usually lands far apart.
func KeywordEmbedding(text string) []float32 {
	vec := make([]float32, 26)
	for _, r := range strings.ToLower(text) {
		if r >= 'a' && r <= 'z' {
			vec[r-'a']++
		}
	}
	return vec
}
