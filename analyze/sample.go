// Package analyze trims fragment lists for statistics collection.
package analyze

import (
	gateway "github.com/featurebasedb/gateway"
	"github.com/featurebasedb/gateway/logger"
)

// SampleFragments returns at most maxSize fragments spread evenly over
// fragments, preserving their order. A maxSize of 0 disables sampling and a
// negative maxSize selects nothing.
func SampleFragments(fragments []gateway.Fragment, maxSize int, log logger.Logger) []gateway.Fragment {
	if maxSize == 0 {
		return fragments
	}
	if maxSize < 0 {
		return []gateway.Fragment{}
	}
	if log != nil {
		log.Debugf("fragments list has %d fragments, maxFragments = %d", len(fragments), maxSize)
	}

	marked := SamplingSet(len(fragments), maxSize)
	out := make([]gateway.Fragment, 0, maxSize)
	for i, f := range fragments {
		if marked[i] {
			out = append(out, f)
		}
	}
	return out
}

// SamplingSet marks sampleSize positions out of poolSize as uniformly as
// possible. It starts at position 0 and then moves forward
// poolSize/sampleSize+1 unmarked positions, wrapping around, for every
// further pick. Non-positive sizes mark nothing.
func SamplingSet(poolSize, sampleSize int) []bool {
	if poolSize <= 0 || sampleSize <= 0 {
		return make([]bool, max(poolSize, 0))
	}
	marked := make([]bool, poolSize)
	if sampleSize >= poolSize {
		for i := range marked {
			marked[i] = true
		}
		return marked
	}

	skip := poolSize/sampleSize + 1
	cur := 0
	for chosen := 0; ; {
		marked[cur] = true
		chosen++
		if chosen == sampleSize {
			break
		}
		for i := 0; i < skip; i++ {
			// sampleSize < poolSize, so a clear position always exists.
			cur = nextClear(marked, (cur+1)%poolSize)
		}
	}
	return marked
}

// nextClear returns the first unmarked position at or after from, wrapping
// to the start, or -1 if every position is marked.
func nextClear(marked []bool, from int) int {
	for i := from; i < len(marked); i++ {
		if !marked[i] {
			return i
		}
	}
	for i := 0; i < from; i++ {
		if !marked[i] {
			return i
		}
	}
	return -1
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
