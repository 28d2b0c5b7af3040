package router

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func ptr(v int64) *int64 { return &v }

func TestModeForScore_Boundaries(t *testing.T) {
	tests := []struct {
		score float64
		want  string
	}{
		{1.0, ModeNotifyNow},
		{0.7, ModeNotifyNow},
		{0.69999, ModeDigest},
		{0.4, ModeDigest},
		{0.39999, ModeArchive},
		{0, ModeArchive},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ModeForScore(tt.score), "score %v", tt.score)
	}
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, map[int64]float64{2: 1.0, 3: 0.5}, Normalize(map[int64]float64{2: 10, 3: 5}))
	assert.Empty(t, Normalize(nil))
	assert.Equal(t, map[int64]float64{2: 0, 3: 0}, Normalize(map[int64]float64{2: 0, 3: 0}))
}

func TestScore_SenderWithTwoRecipients(t *testing.T) {
	prox := Normalize(map[int64]float64{2: 10, 3: 5})
	got := Score(prox, ptr(1), []string{"launch", "rollout", "pricing", "hiring"})

	require.Len(t, got, 3)
	byID := map[int64]Candidate{}
	for _, c := range got {
		byID[c.PersonID] = c
	}

	assert.InDelta(t, 0.6, byID[2].Score, 1e-9)
	assert.Equal(t, "Direct comms link", byID[2].Reason)
	assert.Equal(t, ModeDigest, byID[2].Mode)

	assert.InDelta(t, 0.3, byID[3].Score, 1e-9)
	assert.Equal(t, ModeArchive, byID[3].Mode)

	assert.InDelta(t, 0.4, byID[1].Score, 1e-9, "sender has zero proximity and full topic affinity")
	assert.Equal(t, "Topic match: launch, rollout, pricing", byID[1].Reason)
	assert.Equal(t, ModeDigest, byID[1].Mode)

	assert.Equal(t, []int64{2, 1, 3}, []int64{got[0].PersonID, got[1].PersonID, got[2].PersonID})
}

func TestScore_NoTopicsNoSender(t *testing.T) {
	got := Score(map[int64]float64{}, nil, nil)
	assert.Empty(t, got)

	got = Score(map[int64]float64{}, ptr(5), nil)
	require.Len(t, got, 1)
	assert.Equal(t, "No strong signals", got[0].Reason)
	assert.Equal(t, 0.0, got[0].Score)
	assert.Equal(t, ModeArchive, got[0].Mode)
}

func TestScore_SenderAlsoRecipient(t *testing.T) {
	got := Score(map[int64]float64{1: 1}, ptr(1), []string{"ops"})
	require.Len(t, got, 1)
	assert.InDelta(t, 1.0, got[0].Score, 1e-9)
	assert.Equal(t, "Direct comms link; Topic match: ops", got[0].Reason)
	assert.Equal(t, ModeNotifyNow, got[0].Mode)
}

func TestScore_KeepsTopTen(t *testing.T) {
	weights := map[int64]float64{}
	for i := int64(1); i <= 15; i++ {
		weights[i+100] = float64(i)
	}
	got := Score(Normalize(weights), ptr(1), nil)
	require.Len(t, got, MaxStakeholders)
	assert.Equal(t, int64(115), got[0].PersonID)
	for i := 1; i < len(got); i++ {
		assert.GreaterOrEqual(t, got[i-1].Score, got[i].Score)
	}
}

func TestScore_Properties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		weights := rapid.MapOf(rapid.Int64Range(1, 50), rapid.Float64Range(0, 1000)).Draw(t, "weights")
		var sender *int64
		if rapid.Bool().Draw(t, "hasSender") {
			s := rapid.Int64Range(1, 60).Draw(t, "sender")
			sender = &s
		}
		topics := rapid.SliceOfN(rapid.StringMatching(`[a-z]{1,8}`), 0, 5).Draw(t, "topics")

		got := Score(Normalize(weights), sender, topics)
		if len(got) > MaxStakeholders {
			t.Fatalf("kept %d stakeholders", len(got))
		}
		for i, c := range got {
			if c.Score < 0 || c.Score > 1+1e-12 {
				t.Fatalf("score %v out of [0,1]", c.Score)
			}
			if c.Mode != ModeForScore(c.Score) {
				t.Fatalf("mode %s does not match score %v", c.Mode, c.Score)
			}
			if i > 0 && got[i-1].Score < c.Score {
				t.Fatalf("not sorted descending at %d", i)
			}
		}
	})
}
