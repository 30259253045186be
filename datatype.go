// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package gateway

// DataType is the database type identifier (OID) of a column.
type DataType int

const (
	Unsupported DataType = -1

	Boolean     DataType = 16
	Bytea       DataType = 17
	Bigint      DataType = 20
	Smallint    DataType = 21
	Integer     DataType = 23
	Text        DataType = 25
	JSON        DataType = 114
	Real        DataType = 700
	Float8      DataType = 701
	Bpchar      DataType = 1042
	Varchar     DataType = 1043
	Date        DataType = 1082
	Time        DataType = 1083
	Timestamp   DataType = 1114
	TimestampTZ DataType = 1184
	Numeric     DataType = 1700
	UUID        DataType = 2950
	JSONB       DataType = 3802
)

var dataTypeNames = map[DataType]string{
	Boolean:     "BOOLEAN",
	Bytea:       "BYTEA",
	Bigint:      "BIGINT",
	Smallint:    "SMALLINT",
	Integer:     "INTEGER",
	Text:        "TEXT",
	JSON:        "JSON",
	Real:        "REAL",
	Float8:      "FLOAT8",
	Bpchar:      "BPCHAR",
	Varchar:     "VARCHAR",
	Date:        "DATE",
	Time:        "TIME",
	Timestamp:   "TIMESTAMP",
	TimestampTZ: "TIMESTAMP_WITH_TIME_ZONE",
	Numeric:     "NUMERIC",
	UUID:        "UUID",
	JSONB:       "JSONB",
}

// DataTypeOf returns the DataType for an OID, or Unsupported.
func DataTypeOf(oid int) DataType {
	if _, ok := dataTypeNames[DataType(oid)]; ok {
		return DataType(oid)
	}
	return Unsupported
}

// TypeName returns the name of the type identified by oid. Unknown and
// negative identifiers are reported as TEXT.
func TypeName(oid int) string {
	if name, ok := dataTypeNames[DataType(oid)]; ok {
		return name
	}
	return dataTypeNames[Text]
}

func (t DataType) String() string {
	if name, ok := dataTypeNames[t]; ok {
		return name
	}
	return "UNSUPPORTED_TYPE"
}

// IsText reports whether values of t travel as strings.
func (t DataType) IsText() bool {
	switch t {
	case Text, Bpchar, Varchar, Date, Time, Timestamp, TimestampTZ, Numeric, JSON, JSONB, UUID:
		return true
	}
	return false
}
