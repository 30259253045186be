// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package gateway

// Fragment is one schedulable unit of an external data source.
type Fragment struct {
	// SourceName is the physical object the fragment came from.
	SourceName string `json:"sourceName"`
	// Index is unique within SourceName; see AssignIndexes.
	Index int `json:"index"`
	// Metadata is connector specific and handed back to the connector's
	// accessor when the fragment is read.
	Metadata []byte `json:"metadata,omitempty"`
	UserData []byte `json:"userData,omitempty"`
	Profile  string `json:"profile,omitempty"`
}

// FragmentsResponse is the body returned by the fragments endpoint.
type FragmentsResponse struct {
	Fragments []Fragment `json:"PXFFragments"`
}

// AssignIndexes numbers fragments in place. Numbering restarts at 0 every
// time the source name changes and increases by one otherwise.
func AssignIndexes(fragments []Fragment) {
	var prev string
	idx := 0
	for i := range fragments {
		if i == 0 || fragments[i].SourceName != prev {
			idx = 0
			prev = fragments[i].SourceName
		}
		fragments[i].Index = idx
		idx++
	}
}
