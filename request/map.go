// Package request decodes the X-GP- header protocol spoken by database
// segments into a gateway.RequestContext.
package request

import (
	"net/url"
	"sort"
	"strconv"
	"strings"

	gateway "github.com/featurebasedb/gateway"
)

const (
	// Prefix starts every protocol header.
	Prefix = "X-GP-"
	// OptionsPrefix starts headers carrying user options.
	OptionsPrefix = Prefix + "OPTIONS-"

	encodedHeaderValues = Prefix + "ENCODED-HEADER-VALUES"
)

// Map is a case-insensitive view of request headers. Multiple values of one
// header are joined with commas. When several keys differ only by case, the
// first one in sorted order wins.
type Map struct {
	values map[string]string
}

// NewMap builds a Map from headers. Values are percent-decoded unless the
// ENCODED-HEADER-VALUES header is false.
func NewMap(headers map[string][]string) (*Map, error) {
	keys := make([]string, 0, len(headers))
	for k := range headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	m := &Map{values: make(map[string]string, len(keys))}
	for _, k := range keys {
		uk := strings.ToUpper(k)
		if _, ok := m.values[uk]; ok {
			continue
		}
		m.values[uk] = strings.Join(headers[k], ",")
	}

	decode := true
	if v, ok := m.values[encodedHeaderValues]; ok {
		b, err := strconv.ParseBool(strings.ToLower(v))
		if err != nil {
			return nil, gateway.NewErrInvalidValue("ENCODED-HEADER-VALUES", v, "a boolean")
		}
		decode = b
	}
	if !decode {
		return m, nil
	}
	for k, v := range m.values {
		if !strings.ContainsAny(v, "%+") {
			continue
		}
		dv, err := url.QueryUnescape(v)
		if err != nil {
			return nil, gateway.NewErrInvalidValue(strings.TrimPrefix(k, Prefix), v, "percent-encoded")
		}
		m.values[k] = dv
	}
	return m, nil
}

// Get returns the value of the header key, ignoring case.
func (m *Map) Get(key string) (string, bool) {
	v, ok := m.values[strings.ToUpper(key)]
	return v, ok
}

// Len returns the number of distinct headers.
func (m *Map) Len() int { return len(m.values) }

// Property returns the value of the protocol header Prefix+name.
func (m *Map) Property(name string) (string, bool) {
	return m.Get(Prefix + name)
}

// RequiredProperty returns the value of Prefix+name or a missing-property
// error.
func (m *Map) RequiredProperty(name string) (string, error) {
	v, ok := m.Property(name)
	if !ok {
		return "", gateway.NewErrMissingProperty(name)
	}
	return v, nil
}

// PropertyOr returns the value of Prefix+name, or def if it is absent.
func (m *Map) PropertyOr(name, def string) string {
	if v, ok := m.Property(name); ok {
		return v
	}
	return def
}

// IntProperty parses the required integer property name.
func (m *Map) IntProperty(name string) (int, error) {
	v, err := m.RequiredProperty(name)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, gateway.NewErrInvalidValue(name, v, "an integer")
	}
	return n, nil
}

// IntPropertyOr parses the optional integer property name.
func (m *Map) IntPropertyOr(name string, def int) (int, error) {
	if _, ok := m.Property(name); !ok {
		return def, nil
	}
	return m.IntProperty(name)
}

// Options returns the user options keyed by lower-cased name.
func (m *Map) Options() map[string]string {
	opts := make(map[string]string)
	for k, v := range m.values {
		if strings.HasPrefix(k, OptionsPrefix) {
			opts[strings.ToLower(strings.TrimPrefix(k, OptionsPrefix))] = v
		}
	}
	return opts
}
