package tournament

import "sort"

// analyzeConvergence computes the file-level convergence of the successful
// competitors: intersection-over-union of their changed-file sets. Requires
// at least two implemented competitors; returns nil otherwise.
func analyzeConvergence(competitors []CompetitorResult) *Convergence {
	var sets [][]string
	for _, c := range competitors {
		if c.Implemented {
			sets = append(sets, c.ChangedFiles)
		}
	}
	if len(sets) < 2 {
		return nil
	}

	counts := make(map[string]int)
	for _, files := range sets {
		seen := make(map[string]bool, len(files))
		for _, f := range files {
			if !seen[f] {
				seen[f] = true
				counts[f]++
			}
		}
	}

	var common, union []string
	for f, n := range counts {
		union = append(union, f)
		if n == len(sets) {
			common = append(common, f)
		}
	}
	sort.Strings(common)
	sort.Strings(union)

	ratio := 0.0
	if len(union) > 0 {
		ratio = float64(len(common)) / float64(len(union))
	}
	return &Convergence{Ratio: ratio, CommonFiles: common, UnionFiles: union}
}
