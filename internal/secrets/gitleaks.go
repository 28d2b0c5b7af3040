package secrets

import (
	"fmt"
	"sync"

	"github.com/zricethezav/gitleaks/v8/detect"
)

// Match is one secret reported by a Detector.
type Match struct {
	RuleID string
	Secret string
}

// Detector finds secrets in a single string.
type Detector interface {
	Detect(text string) []Match
}

// Gitleaks detects secrets with the gitleaks default rule set.
type Gitleaks struct {
	mu       sync.Mutex
	detector *detect.Detector
}

// NewGitleaks loads the gitleaks default configuration.
func NewGitleaks() (*Gitleaks, error) {
	d, err := detect.NewDetectorDefaultConfig()
	if err != nil {
		return nil, fmt.Errorf("load gitleaks config: %w", err)
	}
	return &Gitleaks{detector: d}, nil
}

// Detect scans text and returns the matched secret values.
func (g *Gitleaks) Detect(text string) []Match {
	g.mu.Lock()
	findings := g.detector.DetectString(text)
	g.mu.Unlock()

	out := make([]Match, 0, len(findings))
	for _, f := range findings {
		if f.Secret == "" {
			continue
		}
		out = append(out, Match{RuleID: f.RuleID, Secret: f.Secret})
	}
	return out
}
