// Package secrets redacts credentials from conversation text before it is
// sent to the model gateway.
//
// A Scrubber combines a small regexp rule table with an optional Detector.
// The daemon plugs in Gitleaks, which runs the gitleaks default rule set
// over each string:
//
//	gl, err := secrets.NewGitleaks()
//	s, err := secrets.New(nil, secrets.WithDetector(gl))
//	res := s.Scrub(turnText)
package secrets
