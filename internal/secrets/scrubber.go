package secrets

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Replacement is substituted for each redacted span.
const Replacement = "[REDACTED]"

// Result describes one scrub.
type Result struct {
	Text     string
	Findings int
	ByRule   map[string]int
}

// Scrubber applies a fixed rule set and, optionally, a Detector.
type Scrubber struct {
	rules    []compiledRule
	detector Detector
}

// Option configures a Scrubber.
type Option func(*Scrubber)

// WithDetector adds d's matches to the rule table's. Every occurrence of a
// reported secret is redacted.
func WithDetector(d Detector) Option {
	return func(s *Scrubber) { s.detector = d }
}

type compiledRule struct {
	id       string
	pattern  *regexp.Regexp
	keywords []string
}

type span struct{ start, end int }

// New compiles rules. Nil rules selects DefaultRules.
func New(rules []Rule, opts ...Option) (*Scrubber, error) {
	if rules == nil {
		rules = DefaultRules()
	}
	s := &Scrubber{}
	for _, opt := range opts {
		opt(s)
	}
	seen := make(map[string]bool, len(rules))
	for _, r := range rules {
		if r.ID == "" {
			return nil, fmt.Errorf("rule with pattern %q has no id", r.Pattern)
		}
		if seen[r.ID] {
			return nil, fmt.Errorf("duplicate rule id %q", r.ID)
		}
		seen[r.ID] = true
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("rule %s: invalid pattern: %w", r.ID, err)
		}
		kws := make([]string, len(r.Keywords))
		for i, kw := range r.Keywords {
			kws[i] = strings.ToLower(kw)
		}
		s.rules = append(s.rules, compiledRule{id: r.ID, pattern: re, keywords: kws})
	}
	return s, nil
}

// MustNew is New that panics.
func MustNew(rules []Rule, opts ...Option) *Scrubber {
	s, err := New(rules, opts...)
	if err != nil {
		panic(err)
	}
	return s
}

// Scrub replaces every match with Replacement. Overlapping matches are
// merged into one replacement.
func (s *Scrubber) Scrub(text string) Result {
	res := Result{Text: text, ByRule: map[string]int{}}
	if text == "" {
		return res
	}
	lower := strings.ToLower(text)

	var spans []span
	for _, rule := range s.rules {
		if !rule.applies(lower) {
			continue
		}
		for _, m := range rule.pattern.FindAllStringIndex(text, -1) {
			spans = append(spans, span{m[0], m[1]})
			res.ByRule[rule.id]++
			res.Findings++
		}
	}
	if s.detector != nil {
		for _, m := range s.detector.Detect(text) {
			for _, sp := range occurrences(text, m.Secret) {
				spans = append(spans, sp)
				res.ByRule[m.RuleID]++
				res.Findings++
			}
		}
	}
	if len(spans) == 0 {
		return res
	}

	sort.Slice(spans, func(i, j int) bool { return spans[i].start < spans[j].start })
	var b strings.Builder
	cursor := 0
	for _, sp := range merge(spans) {
		b.WriteString(text[cursor:sp.start])
		b.WriteString(Replacement)
		cursor = sp.end
	}
	b.WriteString(text[cursor:])
	res.Text = b.String()
	return res
}

func (r compiledRule) applies(lower string) bool {
	if len(r.keywords) == 0 {
		return true
	}
	for _, kw := range r.keywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// occurrences returns the span of every non-overlapping occurrence of sub.
func occurrences(text, sub string) []span {
	if sub == "" {
		return nil
	}
	var out []span
	for from := 0; from < len(text); {
		i := strings.Index(text[from:], sub)
		if i < 0 {
			break
		}
		start := from + i
		out = append(out, span{start, start + len(sub)})
		from = start + len(sub)
	}
	return out
}

// merge collapses sorted overlapping or touching spans.
func merge(spans []span) []span {
	out := []span{spans[0]}
	for _, cur := range spans[1:] {
		last := &out[len(out)-1]
		if cur.start <= last.end {
			if cur.end > last.end {
				last.end = cur.end
			}
			continue
		}
		out = append(out, cur)
	}
	return out
}
