package game

import "sort"

// Merge folds candidates into one record per identity. The first record seen
// for a key wins and later duplicates are dropped whole, so callers must pass
// sources in priority order.
func Merge(all []CandidateRecord) []CandidateRecord {
	seen := make(map[string]struct{}, len(all))
	out := make([]CandidateRecord, 0, len(all))
	for _, c := range all {
		key := Identify(c).String()
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, c)
	}
	return out
}

// FilterByQuality drops candidates whose quality signal is present and below
// threshold. Unrated candidates pass.
func FilterByQuality(in []CandidateRecord, threshold float64) []CandidateRecord {
	out := make([]CandidateRecord, 0, len(in))
	for _, c := range in {
		if c.QualitySignal != nil && *c.QualitySignal < threshold {
			continue
		}
		out = append(out, c)
	}
	return out
}

// SelectTrendTargets picks which candidates get a trend lookup: rated
// candidates by descending quality take up to scoredSlots, then unrated ones
// fill the remainder up to limit.
func SelectTrendTargets(in []CandidateRecord, scoredSlots, limit int) []CandidateRecord {
	if limit <= 0 {
		return nil
	}
	rated := make([]CandidateRecord, 0, len(in))
	unrated := make([]CandidateRecord, 0, len(in))
	for _, c := range in {
		if c.QualitySignal != nil {
			rated = append(rated, c)
		} else {
			unrated = append(unrated, c)
		}
	}
	sort.SliceStable(rated, func(i, j int) bool {
		return *rated[i].QualitySignal > *rated[j].QualitySignal
	})
	scoredSlots = min(scoredSlots, limit, len(rated))
	if scoredSlots < 0 {
		scoredSlots = 0
	}
	out := make([]CandidateRecord, 0, limit)
	out = append(out, rated[:scoredSlots]...)
	fill := min(limit-len(out), len(unrated))
	out = append(out, unrated[:fill]...)
	return out
}
