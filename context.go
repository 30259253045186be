// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package gateway

import (
	"strconv"
	"strings"

	"github.com/featurebasedb/gateway/errors"
)

// RequestType identifies which endpoint a request arrived on.
type RequestType int

const (
	FragmenterRequest RequestType = iota
	ReadBridge
	WriteBridge
)

func (t RequestType) String() string {
	switch t {
	case FragmenterRequest:
		return "FRAGMENTER"
	case ReadBridge:
		return "READ_BRIDGE"
	case WriteBridge:
		return "WRITE_BRIDGE"
	}
	return "UNKNOWN"
}

// DefaultServerName is used when a request names no server.
const DefaultServerName = "default"

// DefaultAlignment is the eight-byte alignment used by the binary codec when
// the request does not carry a numeric ALIGNMENT value.
const DefaultAlignment = 8

// ColumnDescriptor describes one column of the external table.
type ColumnDescriptor struct {
	Name          string
	Index         int
	Type          DataType
	TypeName      string
	TypeModifiers []int

	// Projected is false when the query does not reference the column. Such
	// columns are not read and are sent as nulls.
	Projected bool
	IsKey     bool
}

// RequestContext holds everything decoded from one segment request. It is
// built once by the request parser and treated as read-only afterwards. The
// fragment metadata slot is the one exception; see SetFragmentMetadata.
type RequestContext struct {
	RequestType RequestType

	TransactionID string
	SegmentID     int
	TotalSegments int
	SessionID     int
	CommandCount  int

	Host       string
	Port       int
	DataSource string
	SchemaName string
	TableName  string

	HasFilter    bool
	FilterString string

	Columns           []ColumnDescriptor
	RecordkeyColumn   *ColumnDescriptor
	NumAttrsProjected int

	// Options holds the OPTIONS-* entries keyed by lower-cased name.
	Options map[string]string
	// AdditionalConfigProps holds option values copied to connector
	// configuration properties through the profile's option mappings.
	AdditionalConfigProps map[string]string

	Fragmenter string
	Accessor   string
	Resolver   string

	Profile       string
	ProfileScheme string
	ServerName    string
	Config        string

	User   string
	Login  string
	Secret string

	DataEncoding     string
	DatabaseEncoding string

	OutputFormat OutputFormat
	Format       string
	Alignment    string

	FragmentIndex     int
	StatsMaxFragments int
	StatsSampleRatio  float64

	ClientAPIVersion string

	fragmentMetadata []byte
}

// Option returns the value of a user option, or "" if it is absent.
func (rc *RequestContext) Option(name string) string {
	return rc.Options[strings.ToLower(name)]
}

// LookupOption returns the value of a user option and whether it was set.
func (rc *RequestContext) LookupOption(name string) (string, bool) {
	v, ok := rc.Options[strings.ToLower(name)]
	return v, ok
}

// OptionInt returns a user option as an integer, or def if the option is
// absent.
func (rc *RequestContext) OptionInt(name string, def int) (int, error) {
	v, ok := rc.LookupOption(name)
	if !ok {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, NewErrInvalidValue(strings.ToUpper(name), v, "an integer")
	}
	return n, nil
}

// OptionBool returns a user option as a boolean, or def if the option is
// absent.
func (rc *RequestContext) OptionBool(name string, def bool) (bool, error) {
	v, ok := rc.LookupOption(name)
	if !ok {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, NewErrInvalidValue(strings.ToUpper(name), v, "a boolean")
	}
	return b, nil
}

// Column returns the i'th column.
func (rc *RequestContext) Column(i int) ColumnDescriptor {
	return rc.Columns[i]
}

// EightByteAlignment returns the alignment the binary codec uses for 8-byte
// values.
func (rc *RequestContext) EightByteAlignment() int {
	if n, err := strconv.Atoi(rc.Alignment); err == nil && n > 0 {
		return n
	}
	return DefaultAlignment
}

// FragmentMetadata returns the connector metadata of the fragment being
// processed, or nil outside of the data path.
func (rc *RequestContext) FragmentMetadata() []byte {
	return rc.fragmentMetadata
}

// SetFragmentMetadata fills the fragment metadata slot. The slot can be
// written once; use WithFragment to process another fragment.
func (rc *RequestContext) SetFragmentMetadata(md []byte) error {
	if rc.fragmentMetadata != nil {
		return errors.New(ErrConfiguration, "fragment metadata is already set for this request")
	}
	rc.fragmentMetadata = md
	return nil
}

// WithFragment returns a copy of rc positioned at f: data source, fragment
// index and metadata come from f. rc itself is not modified.
func (rc *RequestContext) WithFragment(f Fragment) *RequestContext {
	cp := *rc
	cp.DataSource = f.SourceName
	cp.FragmentIndex = f.Index
	cp.fragmentMetadata = f.Metadata
	return &cp
}

// Copy returns a shallow copy of rc with an empty fragment metadata slot.
func (rc *RequestContext) Copy() *RequestContext {
	cp := *rc
	cp.fragmentMetadata = nil
	return &cp
}
