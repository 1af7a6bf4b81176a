// Package health implements the segment availability probe external
// monitoring uses to ask "is this release still there" without paying
// for a full fetch-and-decode of every segment: check_segments fires a
// cheap STAT (or a 1-byte BODY read, when a provider is known to lie on
// STAT) at a sampled subset of a file's segment ids and reports the
// first missing id, or a full per-id breakdown in the detailed form.
package health

import "math/rand"

const (
	minSampleSize = 5
	maxSampleSize = 55
	headSegments  = 3 // catches DMCA/takedown notices, which strip the start of a release
	tailSegments  = 2 // catches incomplete uploads, which stop short before the end
)

// selectSample picks which of ids to probe for samplePercentage coverage,
// always including the first headSegments and last tailSegments ids plus
// a random draw from the middle to reach the percentage-driven target,
// clamped to [minSampleSize, maxSampleSize]. samplePercentage of 100, or
// a target that already meets or exceeds len(ids), probes everything.
func selectSample(ids []string, samplePercentage int) []string {
	total := len(ids)
	if total == 0 {
		return nil
	}
	if samplePercentage >= 100 {
		return ids
	}

	target := total * samplePercentage / 100
	if target < minSampleSize {
		target = minSampleSize
	}
	if target > maxSampleSize {
		target = maxSampleSize
	}
	if target >= total {
		return ids
	}

	if total <= headSegments+tailSegments {
		return ids
	}

	picked := make(map[int]struct{}, target)
	for i := 0; i < headSegments; i++ {
		picked[i] = struct{}{}
	}
	for i := total - tailSegments; i < total; i++ {
		picked[i] = struct{}{}
	}

	middleStart := headSegments
	middleEnd := total - tailSegments // exclusive
	if middleEnd > middleStart {
		middleRange := middleEnd - middleStart
		perm := rand.Perm(middleRange)
		for _, offset := range perm {
			if len(picked) >= target {
				break
			}
			picked[middleStart+offset] = struct{}{}
		}
	}

	out := make([]string, 0, len(picked))
	for i, id := range ids {
		if _, ok := picked[i]; ok {
			out = append(out, id)
		}
	}
	return out
}
