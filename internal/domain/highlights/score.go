package highlights

import (
	"strings"

	"github.com/forPelevin/hlfeed/internal/types"
)

const quoteMatchScore = 0.9

// QuoteMatchScore is 0.9 when text and any reference quote contain one
// another (case-insensitive), else 0.
func QuoteMatchScore(text string, quotes []string) float64 {
	t := strings.ToLower(strings.TrimSpace(text))
	if t == "" {
		return 0
	}
	for _, q := range quotes {
		q = strings.ToLower(strings.TrimSpace(q))
		if q == "" {
			continue
		}
		if strings.Contains(t, q) || strings.Contains(q, t) {
			return quoteMatchScore
		}
	}
	return 0
}

// DialogueDensityScore maps the number of spans inside a window to [0..1].
func DialogueDensityScore(n int) float64 {
	switch {
	case n >= 10:
		return 1.0
	case n >= 7:
		return 0.8
	case n >= 4:
		return 0.5
	case n >= 2:
		return 0.3
	case n > 0:
		return 0.1
	default:
		return 0
	}
}

// TemporalPositionScore favors windows later in the asset.
func TemporalPositionScore(startMs, totalMs int64) float64 {
	if totalMs <= 0 {
		return 0
	}
	ratio := float64(startMs) / float64(totalMs)
	switch {
	case ratio >= 0.8:
		return 1.0
	case ratio >= 0.6:
		return 0.7
	case ratio >= 0.4:
		return 0.5
	case ratio >= 0.2:
		return 0.3
	default:
		return 0.2
	}
}

// AudioEnergyScore maps the loudest RMS sample in [start, end] from
// -60..0 dB onto 0..1. No samples in range yields a neutral 0.5.
func AudioEnergyScore(samples []types.AudioSample, start, end int64) float64 {
	found := false
	var peak float64
	for _, s := range samples {
		if s.TimeMs < start || s.TimeMs > end {
			continue
		}
		if !found || s.RMSDb > peak {
			peak, found = s.RMSDb, true
		}
	}
	if !found {
		return 0.5
	}
	return clamp((peak+60)/60, 0, 1)
}

// SceneCompositionScore rewards windows with more cuts, saturating at 5.
func SceneCompositionScore(scenes []int64, start, end int64) float64 {
	n := 0
	for _, s := range scenes {
		if s >= start && s <= end {
			n++
		}
	}
	return clamp(float64(n)/5, 0, 1)
}

func clamp(x, a, b float64) float64 {
	if x < a {
		return a
	}
	if x > b {
		return b
	}
	return x
}
