package highlights

import (
	"github.com/forPelevin/hlfeed/internal/types"
)

// Params bounds candidate windows.
type Params struct {
	MinDurationMs int64
	MaxDurationMs int64
	PaddingMs     int64
}

func DefaultParams() Params {
	return Params{MinDurationMs: 8000, MaxDurationMs: 30000, PaddingMs: 2000}
}

// IdentifyCandidates proposes one candidate per dialogue span. Windows are
// padded, snapped outward to scene boundaries, then clamped to the duration
// bounds. Candidates may overlap; deduplication is the caller's concern.
func IdentifyCandidates(sig types.SignalSet, totalMs int64, quotes []string, p Params) []types.Candidate {
	if len(sig.Dialogue) == 0 {
		return nil
	}
	out := make([]types.Candidate, 0, len(sig.Dialogue))
	for _, span := range sig.Dialogue {
		start, end := proposeWindow(span, sig.Scenes, totalMs, p)
		if end <= start {
			continue
		}
		c := types.Candidate{
			StartMs:    start,
			EndMs:      end,
			DurationMs: end - start,
			Text:       span.Text,
		}
		c.Scores = types.SubScores{
			QuoteMatch:       QuoteMatchScore(span.Text, quotes),
			AudioEnergy:      AudioEnergyScore(sig.Audio, start, end),
			SceneComposition: SceneCompositionScore(sig.Scenes, start, end),
			DialogueDensity:  DialogueDensityScore(countContained(sig.Dialogue, start, end)),
			TemporalPosition: TemporalPositionScore(start, totalMs),
		}
		out = append(out, c)
	}
	return out
}

func proposeWindow(span types.DialogueSpan, scenes []int64, totalMs int64, p Params) (int64, int64) {
	start := span.StartMs - p.PaddingMs
	end := span.EndMs + p.PaddingMs
	if start < 0 {
		start = 0
	}
	if totalMs > 0 && end > totalMs {
		end = totalMs
	}

	start = snapBackward(scenes, start)
	end = snapForward(scenes, end)

	// Bounds apply here and nowhere later.
	switch d := end - start; {
	case d < p.MinDurationMs:
		end = start + p.MinDurationMs
	case p.MaxDurationMs > 0 && d > p.MaxDurationMs:
		end = start + p.MaxDurationMs
	}
	return start, end
}

// snapBackward returns the latest scene boundary at or before t, or t.
func snapBackward(scenes []int64, t int64) int64 {
	best, found := int64(0), false
	for _, s := range scenes {
		if s <= t && (!found || s > best) {
			best, found = s, true
		}
	}
	if !found {
		return t
	}
	return best
}

// snapForward returns the earliest scene boundary at or after t, or t.
func snapForward(scenes []int64, t int64) int64 {
	best, found := int64(0), false
	for _, s := range scenes {
		if s >= t && (!found || s < best) {
			best, found = s, true
		}
	}
	if !found {
		return t
	}
	return best
}

func countContained(spans []types.DialogueSpan, start, end int64) int {
	n := 0
	for _, s := range spans {
		if s.StartMs >= start && s.EndMs <= end {
			n++
		}
	}
	return n
}
