package router

import (
	"sort"
	"strings"
)

// Routing modes.
const (
	ModeNotifyNow = "notify_now"
	ModeDigest    = "digest"
	ModeArchive   = "archive"
)

// Scoring weights and limits.
const (
	ProximityWeight = 0.6
	AffinityWeight  = 0.4
	NotifyNowScore  = 0.7
	DigestScore     = 0.4
	MaxStakeholders = 10
	maxReasonTopics = 3
)

// Candidate is a scored routing recommendation.
type Candidate struct {
	PersonID int64
	Score    float64
	Reason   string
	Mode     string
}

// ModeForScore maps a score to a routing mode.
func ModeForScore(score float64) string {
	switch {
	case score >= NotifyNowScore:
		return ModeNotifyNow
	case score >= DigestScore:
		return ModeDigest
	default:
		return ModeArchive
	}
}

// Normalize divides every weight by the largest one. A non-positive maximum
// yields all zeros.
func Normalize(weights map[int64]float64) map[int64]float64 {
	out := make(map[int64]float64, len(weights))
	var highest float64
	first := true
	for _, w := range weights {
		if first || w > highest {
			highest, first = w, false
		}
	}
	for id, w := range weights {
		if highest <= 0 {
			out[id] = 0
			continue
		}
		out[id] = w / highest
	}
	return out
}

// Score ranks candidates for a PR. Candidates are every person with a
// nonzero proximity plus the sender. Topic affinity is 1 for the sender
// when the PR has topics and 0 for everyone else. The result is sorted by
// score descending, ties by person id, and truncated to MaxStakeholders.
func Score(proximity map[int64]float64, sender *int64, topics []string) []Candidate {
	ids := make(map[int64]bool, len(proximity)+1)
	for id, p := range proximity {
		if p > 0 {
			ids[id] = true
		}
	}
	if sender != nil {
		ids[*sender] = true
	}

	ordered := make([]int64, 0, len(ids))
	for id := range ids {
		ordered = append(ordered, id)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i] < ordered[j] })

	out := make([]Candidate, 0, len(ordered))
	for _, id := range ordered {
		prox := proximity[id]
		affine := len(topics) > 0 && sender != nil && id == *sender
		affinity := 0.0
		if affine {
			affinity = 1
		}
		score := ProximityWeight*prox + AffinityWeight*affinity

		var reasons []string
		if prox > 0 {
			reasons = append(reasons, "Direct comms link")
		}
		if affine {
			shown := topics
			if len(shown) > maxReasonTopics {
				shown = shown[:maxReasonTopics]
			}
			reasons = append(reasons, "Topic match: "+strings.Join(shown, ", "))
		}
		reason := strings.Join(reasons, "; ")
		if reason == "" {
			reason = "No strong signals"
		}
		out = append(out, Candidate{PersonID: id, Score: score, Reason: reason, Mode: ModeForScore(score)})
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > MaxStakeholders {
		out = out[:MaxStakeholders]
	}
	return out
}
