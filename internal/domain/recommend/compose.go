package recommend

import "github.com/forPelevin/hlfeed/internal/types"

// ApplyCompositionRules filters a slate in one greedy pass, keeping order.
// A clip is rejected when its title already fills the last maxConsecutive
// accepted slots, or when one of its genres already makes up more than
// maxGenreRatio of the accepted clips.
func ApplyCompositionRules(clips []types.Clip, maxConsecutive int, maxGenreRatio float64) []types.Clip {
	out := make([]types.Clip, 0, len(clips))
	var (
		lastTitle   string
		streak      int
		genreCounts = map[string]int{}
	)
	for _, c := range clips {
		if len(out) > 0 && c.Title == lastTitle && streak >= maxConsecutive {
			continue
		}
		if genreCapped(c.Genres, genreCounts, len(out), maxGenreRatio) {
			continue
		}

		out = append(out, c)
		if c.Title == lastTitle && len(out) > 1 {
			streak++
		} else {
			lastTitle, streak = c.Title, 1
		}
		for _, g := range uniq(c.Genres) {
			genreCounts[g]++
		}
	}
	return out
}

func genreCapped(genres []string, counts map[string]int, total int, maxRatio float64) bool {
	if total == 0 {
		return false
	}
	for _, g := range genres {
		if float64(counts[g])/float64(total) > maxRatio {
			return true
		}
	}
	return false
}

func uniq(ss []string) []string {
	if len(ss) < 2 {
		return ss
	}
	seen := make(map[string]bool, len(ss))
	out := ss[:0:0]
	for _, s := range ss {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
