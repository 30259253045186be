package jdbc

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	gateway "github.com/featurebasedb/gateway"
)

// PartitionType names a way of slicing a table into fragments.
type PartitionType string

const (
	PartitionInt       PartitionType = "INT"
	PartitionDate      PartitionType = "DATE"
	PartitionTimestamp PartitionType = "TIMESTAMP"
	PartitionEnum      PartitionType = "ENUM"
)

// Partition is the fragment metadata of a JDBC fragment: the constraint
// selecting its rows. Exactly one of the shapes below is set.
type Partition struct {
	Column string        `json:"column"`
	Type   PartitionType `json:"type"`

	// range [Start, End); a nil bound is unbounded
	Start *string `json:"start,omitempty"`
	End   *string `json:"end,omitempty"`

	// a single value, for ENUM and single-value ranges
	Value *string `json:"value,omitempty"`

	// ENUM rows matching none of Excluded
	Excluded []string `json:"excluded,omitempty"`

	IsNull bool `json:"isNull,omitempty"`
}

// MarshalPartition encodes p as fragment metadata.
func MarshalPartition(p Partition) []byte {
	b, _ := json.Marshal(p)
	return b
}

// UnmarshalPartition decodes fragment metadata.
func UnmarshalPartition(b []byte) (Partition, error) {
	var p Partition
	if err := json.Unmarshal(b, &p); err != nil {
		return Partition{}, gateway.NewErrCodec("invalid jdbc fragment metadata: %v", err)
	}
	return p, nil
}

// Constraint returns the SQL condition of p.
func (p Partition) Constraint(d *Dialect, quote bool) string {
	col := p.Column
	if quote {
		col = d.QuoteIdent(col)
	}
	lit := func(v string) string { return d.Literal(p.Type, v) }

	switch {
	case p.IsNull:
		return col + " IS NULL"
	case p.Value != nil:
		return col + " = " + lit(*p.Value)
	case p.Excluded != nil:
		parts := make([]string, len(p.Excluded))
		for i, v := range p.Excluded {
			parts[i] = col + " <> " + lit(v)
		}
		return strings.Join(parts, " AND ")
	case p.Start == nil && p.End != nil:
		return col + " < " + lit(*p.End)
	case p.Start != nil && p.End == nil:
		return col + " >= " + lit(*p.Start)
	case p.Start != nil && p.End != nil:
		return col + " >= " + lit(*p.Start) + " AND " + col + " < " + lit(*p.End)
	}
	return "1=1"
}

// interval is the step of a range partitioning.
type interval struct {
	n    int64
	unit string
}

// partitioner implements one PartitionType. Range types fill in the value
// functions; generate overrides the range algorithm.
type partitioner struct {
	validFormat    string
	intervalFormat string
	intervalNeeded bool
	parseValue     func(s string) (interface{}, error)
	parseInterval  func(s string) (interval, error)
	less           func(a, b interface{}) bool
	next           func(start, end interface{}, iv interval) interface{}
	format         func(v interface{}) string
	generate       func(t PartitionType, column, rng string) ([]Partition, error)
}

const (
	dateLayout      = "2006-01-02"
	timestampLayout = "20060102T150405"
)

var dateUnits = []string{"day", "month", "year"}
var timestampUnits = []string{"second", "minute", "hour", "day", "month", "year"}

var partitioners = map[PartitionType]*partitioner{
	PartitionInt: {
		validFormat:    "Integer",
		intervalFormat: "<interval_num>",
		intervalNeeded: true,
		parseValue: func(s string) (interface{}, error) {
			return strconv.ParseInt(s, 10, 64)
		},
		parseInterval: func(s string) (interval, error) {
			n, err := strconv.ParseInt(s, 10, 64)
			return interval{n: n}, err
		},
		less: func(a, b interface{}) bool { return a.(int64) < b.(int64) },
		next: func(start, end interface{}, iv interval) interface{} {
			n := start.(int64) + iv.n
			if n > end.(int64) {
				return end
			}
			return n
		},
		format: func(v interface{}) string { return strconv.FormatInt(v.(int64), 10) },
	},
	PartitionDate: {
		validFormat:    "yyyy-mm-dd",
		intervalFormat: "<interval_num>:{year|month|day}",
		intervalNeeded: true,
		parseValue: func(s string) (interface{}, error) {
			return time.Parse(dateLayout, s)
		},
		parseInterval: unitInterval(dateUnits),
		less:          func(a, b interface{}) bool { return a.(time.Time).Before(b.(time.Time)) },
		next:          nextTime,
		format:        func(v interface{}) string { return v.(time.Time).Format(dateLayout) },
	},
	PartitionTimestamp: {
		validFormat:    "yyyyMMddTHHmmss",
		intervalFormat: "<interval_num>:{year|month|day|hour|minute|second}",
		intervalNeeded: true,
		parseValue: func(s string) (interface{}, error) {
			return time.Parse(timestampLayout, s)
		},
		parseInterval: unitInterval(timestampUnits),
		less:          func(a, b interface{}) bool { return a.(time.Time).Before(b.(time.Time)) },
		next:          nextTime,
		format:        func(v interface{}) string { return v.(time.Time).Format("2006-01-02 15:04:05") },
	},
	PartitionEnum: {
		generate: func(t PartitionType, column, rng string) ([]Partition, error) {
			values := strings.Split(rng, ":")
			partitions := make([]Partition, 0, len(values)+1)
			for _, v := range values {
				v := v
				partitions = append(partitions, Partition{Column: column, Type: t, Value: &v})
			}
			partitions = append(partitions, Partition{Column: column, Type: t, Excluded: values})
			return partitions, nil
		},
	},
}

func unitInterval(units []string) func(s string) (interval, error) {
	return func(s string) (interval, error) {
		parts := strings.Split(s, ":")
		if len(parts) != 2 {
			return interval{}, fmt.Errorf("missing unit")
		}
		n, err := strconv.ParseInt(parts[0], 10, 64)
		if err != nil {
			return interval{}, err
		}
		unit := strings.ToLower(parts[1])
		for _, u := range units {
			if u == unit {
				return interval{n: n, unit: unit}, nil
			}
		}
		return interval{}, fmt.Errorf("unknown unit %s", parts[1])
	}
}

func nextTime(start, end interface{}, iv interval) interface{} {
	t := start.(time.Time)
	n := int(iv.n)
	switch iv.unit {
	case "second":
		t = t.Add(time.Duration(n) * time.Second)
	case "minute":
		t = t.Add(time.Duration(n) * time.Minute)
	case "hour":
		t = t.Add(time.Duration(n) * time.Hour)
	case "day":
		t = t.AddDate(0, 0, n)
	case "month":
		t = t.AddDate(0, n, 0)
	case "year":
		t = t.AddDate(n, 0, 0)
	}
	if t.After(end.(time.Time)) {
		return end
	}
	return t
}

// ParsePartitionType returns the partition type named s, in any case.
func ParsePartitionType(s string) (PartitionType, error) {
	t := PartitionType(strings.ToUpper(s))
	if _, ok := partitioners[t]; !ok {
		return "", gateway.NewErrInvalidValue("PARTITION_BY", s, "one of INT, DATE, TIMESTAMP, ENUM")
	}
	return t, nil
}

// Partitions slices column into partitions: rows below the range, rows
// above it, one partition per interval of the range, and rows where column
// is null. ENUM partitions have one partition per value of rng and one for
// all other values.
func Partitions(t PartitionType, column, rng, iv string) ([]Partition, error) {
	p, ok := partitioners[t]
	if !ok {
		return nil, gateway.NewErrInvalidValue("PARTITION_BY", string(t), "one of INT, DATE, TIMESTAMP, ENUM")
	}
	if strings.TrimSpace(column) == "" {
		return nil, gateway.NewErrConfiguration("The column name must be provided")
	}
	if strings.TrimSpace(rng) == "" {
		return nil, gateway.NewErrConfiguration("The parameter 'RANGE' must be specified for partition of type '%s'", t)
	}
	if p.intervalNeeded && strings.TrimSpace(iv) == "" {
		return nil, gateway.NewErrConfiguration("The parameter 'INTERVAL' must be specified for partition of type '%s'", t)
	}

	var partitions []Partition
	var err error
	if p.generate != nil {
		partitions, err = p.generate(t, column, rng)
	} else {
		partitions, err = p.ranges(t, column, rng, iv)
	}
	if err != nil {
		return nil, err
	}
	return append(partitions, Partition{Column: column, Type: t, IsNull: true}), nil
}

func (p *partitioner) ranges(t PartitionType, column, rng, iv string) ([]Partition, error) {
	bounds := strings.Split(rng, ":")
	if len(bounds) != 2 {
		return nil, gateway.NewErrConfiguration("The parameter 'RANGE' has incorrect format. The correct format for partition of type '%s' is '<start_value>:<end_value>'", t)
	}
	start, err1 := p.parseValue(bounds[0])
	end, err2 := p.parseValue(bounds[1])
	if err1 != nil || err2 != nil {
		return nil, gateway.NewErrConfiguration("The parameter 'RANGE' is invalid. The correct format for partition of type '%s' is '%s'", t, p.validFormat)
	}
	if !p.less(start, end) {
		return nil, gateway.NewErrConfiguration("The parameter 'RANGE' is invalid. The <end_value> '%s' must be larger than the <start_value> '%s'", bounds[1], bounds[0])
	}
	step, err := p.parseInterval(iv)
	if err != nil {
		return nil, gateway.NewErrConfiguration("The parameter 'INTERVAL' has invalid format. The correct format for partition of type '%s' is '%s'", t, p.intervalFormat)
	}
	if step.n < 1 {
		return nil, gateway.NewErrConfiguration("The '<interval_num>' in parameter 'INTERVAL' must be at least 1, but actual is %d", step.n)
	}

	s, e := p.format(start), p.format(end)
	partitions := []Partition{
		{Column: column, Type: t, End: &s},
		{Column: column, Type: t, Start: &e},
	}
	for cur := start; p.less(cur, end); {
		nxt := p.next(cur, end, step)
		from, to := p.format(cur), p.format(nxt)
		partitions = append(partitions, Partition{Column: column, Type: t, Start: &from, End: &to})
		cur = nxt
	}
	return partitions, nil
}
