// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package gateway

import "strings"

// OutputFormat is the wire format used to exchange rows with the database.
type OutputFormat int

const (
	OutputText OutputFormat = iota
	OutputGPDBWritable
)

var outputFormats = []struct {
	format    OutputFormat
	name      string
	className string
}{
	{OutputText, "TEXT", "org.greenplum.pxf.api.io.Text"},
	{OutputGPDBWritable, "GPDBWritable", "org.greenplum.pxf.api.io.GPDBWritable"},
}

func (f OutputFormat) String() string {
	for _, of := range outputFormats {
		if of.format == f {
			return of.name
		}
	}
	return "UNKNOWN"
}

// ClassName returns the identifier the database extension uses for f.
func (f OutputFormat) ClassName() string {
	for _, of := range outputFormats {
		if of.format == f {
			return of.className
		}
	}
	return ""
}

// ParseOutputFormat returns the format named by the FORMAT header. Names are
// matched case-insensitively.
func ParseOutputFormat(name string) (OutputFormat, error) {
	for _, of := range outputFormats {
		if strings.EqualFold(of.name, name) {
			return of.format, nil
		}
	}
	return OutputText, NewErrUnsupportedType("output format", name)
}

// OutputFormatByClassName looks up the output format implemented by className.
func OutputFormatByClassName(className string) (OutputFormat, error) {
	for _, of := range outputFormats {
		if of.className == className {
			return of.format, nil
		}
	}
	return OutputText, NewErrUnsupportedType("output format class", className)
}
