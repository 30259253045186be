// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package fragmenter

import gateway "github.com/featurebasedb/gateway"

// Distribution describes how the fragments of one query are spread over
// the segments of the database.
type Distribution struct {
	TotalSegments  int
	ActiveSegments int
	SessionID      int
	CommandCount   int
}

// shift is the segment which receives fragment 0. Session id and command
// count vary per query but are equal on every segment of one query, so small
// fragment lists do not always land on the low segment ids.
func (d Distribution) shift() int {
	return d.SessionID%d.TotalSegments + d.CommandCount
}

// Segments returns, for every position in a list of n fragments, the
// segment that reads it.
func (d Distribution) Segments(n int) []int {
	out := make([]int, n)
	shift := d.shift()
	if d.ActiveSegments == d.TotalSegments {
		for i := range out {
			out[i] = (shift + i) % d.TotalSegments
		}
		return out
	}
	active := ActiveSegmentList(shift, d.ActiveSegments, d.TotalSegments)
	for i := range out {
		out[i] = active[i%len(active)]
	}
	return out
}

// Filter returns the fragments read by segmentID. The result is a new
// slice; fragments is not modified.
func (d Distribution) Filter(fragments []gateway.Fragment, segmentID int) []gateway.Fragment {
	n := d.ActiveSegments
	if n <= 0 {
		n = 1
	}
	out := make([]gateway.Fragment, 0, (len(fragments)+n-1)/n)
	for i, seg := range d.Segments(len(fragments)) {
		if seg == segmentID {
			out = append(out, fragments[i])
		}
	}
	return out
}

// ActiveSegmentList picks active segment ids out of total, spaced as evenly
// as possible around the ring starting at shift. Each pass advances by
// ceil(total/remaining); a pick which is already taken moves one further.
func ActiveSegmentList(shift, active, total int) []int {
	list := make([]int, 0, active)
	taken := make(map[int]bool, active)
	for active > 0 {
		step := (total + active - 1) / active
		count := total / step
		for i := 0; i < count; i++ {
			id := shift % total
			if taken[id] {
				shift++
				id = shift % total
			}
			list = append(list, id)
			taken[id] = true
			shift += step
		}
		active -= count
	}
	return list
}
