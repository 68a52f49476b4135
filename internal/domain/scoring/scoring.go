// Package scoring turns candidate sub-scores into one composite score, ranks
// candidate sets, and derives deterministic content embeddings.
package scoring

import (
	"crypto/sha256"
	"encoding/binary"
	"math"
	"math/rand/v2"
	"sort"
	"strings"

	"github.com/forPelevin/hlfeed/internal/config"
	"github.com/forPelevin/hlfeed/internal/types"
)

// EmbeddingDim is the length of every content embedding.
const EmbeddingDim = 64

// Weights sum to 0.95; the remaining 0.05 is held for a visual-quality
// signal that is not computed.
type Weights struct {
	QuoteMatch       float64
	AudioEnergy      float64
	SceneComposition float64
	DialogueDensity  float64
	TemporalPosition float64
}

func DefaultWeights() Weights {
	return Weights{
		QuoteMatch:       0.35,
		AudioEnergy:      0.20,
		SceneComposition: 0.15,
		DialogueDensity:  0.15,
		TemporalPosition: 0.10,
	}
}

func WeightsFromConfig(w config.Weights) Weights {
	return Weights(w)
}

// Composite returns the weighted sum clamped to [0,1] and rounded to 4 places.
func Composite(s types.SubScores, w Weights) float64 {
	v := s.QuoteMatch*w.QuoteMatch +
		s.AudioEnergy*w.AudioEnergy +
		s.SceneComposition*w.SceneComposition +
		s.DialogueDensity*w.DialogueDensity +
		s.TemporalPosition*w.TemporalPosition
	if math.IsNaN(v) || v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	return math.Round(v*10000) / 10000
}

// Rank sets Composite on every candidate, sorts descending (ties keep input
// order) and truncates to maxCount. The input slice is not reordered.
func Rank(cands []types.Candidate, maxCount int, w Weights) []types.Candidate {
	if maxCount <= 0 || len(cands) == 0 {
		return nil
	}
	out := make([]types.Candidate, len(cands))
	for i, c := range cands {
		c.Composite = Composite(c.Scores, w)
		cands[i].Composite = c.Composite
		out[i] = c
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Composite > out[j].Composite })
	if len(out) > maxCount {
		out = out[:maxCount]
	}
	return out
}

// Embedding derives a unit-norm vector from classification tags. Equal inputs
// yield bit-identical output across processes: the generator is seeded from a
// SHA-256 of the joined tags.
func Embedding(genres, actors []string, director, decade string) []float64 {
	key := strings.Join([]string{
		strings.Join(genres, ","),
		strings.Join(actors, ","),
		director,
		decade,
	}, "|")
	sum := sha256.Sum256([]byte(key))
	rng := rand.New(rand.NewPCG(
		binary.BigEndian.Uint64(sum[0:8]),
		binary.BigEndian.Uint64(sum[8:16]),
	))

	v := make([]float64, EmbeddingDim)
	var norm float64
	for i := range v {
		v[i] = rng.NormFloat64()
		norm += v[i] * v[i]
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		v[0] = 1
		return v
	}
	for i := range v {
		v[i] /= norm
	}
	return v
}
