package tournament

import "sort"

// candidatePool returns the competitors eligible for winner selection: the
// implemented ones with a positive verification score, or — when none
// passed, including the case where no verification is configured — all
// implemented ones. Empty means the tournament failed.
func candidatePool(competitors []CompetitorResult) []CompetitorResult {
	var passing, implemented []CompetitorResult
	for _, c := range competitors {
		if !c.Implemented {
			continue
		}
		implemented = append(implemented, c)
		if c.Score > 0 {
			passing = append(passing, c)
		}
	}
	if len(passing) > 0 {
		return passing
	}
	return implemented
}

// sortByScoreThenCost orders candidates best-first: verification score
// descending, then observed cost ascending. Stable so equal candidates keep
// their launch order.
func sortByScoreThenCost(candidates []CompetitorResult) {
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		return candidates[i].Cost < candidates[j].Cost
	})
}

// maxScore returns the highest verification score among candidates.
func maxScore(candidates []CompetitorResult) int {
	best := 0
	for _, c := range candidates {
		if c.Score > best {
			best = c.Score
		}
	}
	return best
}

// diffCandidates filters to candidates with non-empty diffs (the judge has
// nothing to compare otherwise).
func diffCandidates(candidates []CompetitorResult) []CompetitorResult {
	var out []CompetitorResult
	for _, c := range candidates {
		if c.Diff != "" {
			out = append(out, c)
		}
	}
	return out
}
