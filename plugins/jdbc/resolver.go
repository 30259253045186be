package jdbc

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	gateway "github.com/featurebasedb/gateway"
	"github.com/featurebasedb/gateway/errors"
	"github.com/google/uuid"
)

const (
	dateFormat      = "2006-01-02"
	timestampFormat = "2006-01-02 15:04:05.999999999"
	timestampTZ     = "2006-01-02 15:04:05.999999999-07:00"
)

// Resolver converts rows scanned by the Accessor into fields of the
// requested column types, and fields into statement arguments.
type Resolver struct {
	Columns []gateway.ColumnDescriptor
}

func unsupportedField(t gateway.DataType, column string) error {
	return errors.New(gateway.ErrUnsupportedType, fmt.Sprintf("Field type '%s' (column '%s') is not supported", gateway.TypeName(int(t)), column))
}

// GetFields converts the values of a []interface{} row. Columns which are not
// projected are sent as nulls.
func (r *Resolver) GetFields(row gateway.OneRow) ([]gateway.OneField, error) {
	values, ok := row.Data.([]interface{})
	if !ok {
		return nil, gateway.NewErrCodec("unexpected record of type '%T'", row.Data)
	}
	if len(values) < len(r.Columns) {
		return nil, gateway.NewErrCodec("row has %d values for %d columns", len(values), len(r.Columns))
	}
	fields := make([]gateway.OneField, len(r.Columns))
	for i, c := range r.Columns {
		fields[i].Type = c.Type
		if !c.Projected || values[i] == nil {
			continue
		}
		v, err := fromDB(c, values[i])
		if err != nil {
			return nil, err
		}
		fields[i].Val = v
	}
	return fields, nil
}

func fromDB(c gateway.ColumnDescriptor, v interface{}) (interface{}, error) {
	bad := func() error {
		return gateway.NewErrCodec("column '%s' of type %s cannot hold a value of type '%T'", c.Name, gateway.TypeName(int(c.Type)), v)
	}
	switch c.Type {
	case gateway.Bigint, gateway.Integer, gateway.Smallint:
		var n int64
		switch x := v.(type) {
		case int64:
			n = x
		case int32:
			n = int64(x)
		case int:
			n = int64(x)
		case []byte:
			p, err := strconv.ParseInt(string(x), 10, 64)
			if err != nil {
				return nil, bad()
			}
			n = p
		default:
			return nil, bad()
		}
		switch c.Type {
		case gateway.Integer:
			return int32(n), nil
		case gateway.Smallint:
			return int16(n), nil
		}
		return n, nil

	case gateway.Float8, gateway.Real:
		var f float64
		switch x := v.(type) {
		case float64:
			f = x
		case float32:
			f = float64(x)
		case int64:
			f = float64(x)
		case []byte:
			p, err := strconv.ParseFloat(string(x), 64)
			if err != nil {
				return nil, bad()
			}
			f = p
		default:
			return nil, bad()
		}
		if c.Type == gateway.Real {
			return float32(f), nil
		}
		return f, nil

	case gateway.Boolean:
		switch x := v.(type) {
		case bool:
			return x, nil
		case int64:
			return x != 0, nil
		case []byte:
			b, err := strconv.ParseBool(string(x))
			if err != nil {
				return nil, bad()
			}
			return b, nil
		}
		return nil, bad()

	case gateway.Bytea:
		switch x := v.(type) {
		case []byte:
			return x, nil
		case string:
			return []byte(x), nil
		}
		return nil, bad()

	case gateway.Text, gateway.Varchar, gateway.Bpchar, gateway.Numeric, gateway.JSON, gateway.JSONB:
		return textOf(v), nil

	case gateway.Date:
		if t, ok := v.(time.Time); ok {
			return t.Format(dateFormat), nil
		}
		return textOf(v), nil

	case gateway.Timestamp:
		if t, ok := v.(time.Time); ok {
			return t.Format(timestampFormat), nil
		}
		return textOf(v), nil

	case gateway.TimestampTZ:
		if t, ok := v.(time.Time); ok {
			return t.Format(timestampTZ), nil
		}
		return textOf(v), nil

	case gateway.UUID:
		switch x := v.(type) {
		case []byte:
			if len(x) == 16 {
				u, err := uuid.FromBytes(x)
				if err != nil {
					return nil, bad()
				}
				return u.String(), nil
			}
			return string(x), nil
		case string:
			return x, nil
		}
		return nil, bad()
	}
	return nil, unsupportedField(c.Type, c.Name)
}

func textOf(v interface{}) string {
	switch x := v.(type) {
	case string:
		return x
	case []byte:
		return string(x)
	case time.Time:
		return x.Format(timestampFormat)
	}
	return fmt.Sprint(v)
}

// SetFields converts fields to statement arguments. TEXT fields sent for
// columns of other types are parsed as the column type.
func (r *Resolver) SetFields(fields []gateway.OneField) (gateway.OneRow, error) {
	if len(fields) != len(r.Columns) {
		return gateway.OneRow{}, gateway.NewErrCodec("record has %d fields for %d columns", len(fields), len(r.Columns))
	}
	args := make([]interface{}, len(fields))
	for i, f := range fields {
		c := r.Columns[i]
		if !writable[f.Type] {
			return gateway.OneRow{}, unsupportedField(f.Type, c.Name)
		}
		if f.Val == nil {
			continue
		}
		if f.Type != gateway.Text || c.Type == gateway.Text {
			args[i] = f.Val
			continue
		}
		v, err := parseText(c, textOf(f.Val))
		if err != nil {
			return gateway.OneRow{}, err
		}
		args[i] = v
	}
	return gateway.OneRow{Data: args}, nil
}

var writable = map[gateway.DataType]bool{
	gateway.Integer:   true,
	gateway.Float8:    true,
	gateway.Real:      true,
	gateway.Bigint:    true,
	gateway.Smallint:  true,
	gateway.Numeric:   true,
	gateway.Boolean:   true,
	gateway.Varchar:   true,
	gateway.Bpchar:    true,
	gateway.Text:      true,
	gateway.Date:      true,
	gateway.Timestamp: true,
	gateway.Bytea:     true,
	gateway.UUID:      true,
	gateway.JSON:      true,
	gateway.JSONB:     true,
}

func parseText(c gateway.ColumnDescriptor, s string) (interface{}, error) {
	invalid := func() error {
		return gateway.NewErrInvalidValue(c.Name, s, "a valid "+strings.ToLower(gateway.TypeName(int(c.Type))))
	}
	switch c.Type {
	case gateway.Varchar, gateway.Bpchar, gateway.Bytea, gateway.JSON, gateway.JSONB, gateway.Numeric:
		return s, nil
	case gateway.Boolean:
		// anything but "true" is false
		return strings.EqualFold(s, "true"), nil
	case gateway.Integer:
		n, err := strconv.ParseInt(s, 10, 32)
		if err != nil {
			return nil, invalid()
		}
		return int32(n), nil
	case gateway.Smallint:
		n, err := strconv.ParseInt(s, 10, 16)
		if err != nil {
			return nil, invalid()
		}
		return int16(n), nil
	case gateway.Bigint:
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, invalid()
		}
		return n, nil
	case gateway.Float8:
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, invalid()
		}
		return f, nil
	case gateway.Real:
		f, err := strconv.ParseFloat(s, 32)
		if err != nil {
			return nil, invalid()
		}
		return float32(f), nil
	case gateway.Date:
		t, err := time.Parse(dateFormat, s)
		if err != nil {
			return nil, invalid()
		}
		return t, nil
	case gateway.Timestamp:
		t, err := time.Parse(timestampFormat, s)
		if err != nil {
			return nil, invalid()
		}
		return t, nil
	case gateway.UUID:
		u, err := uuid.Parse(s)
		if err != nil {
			return nil, invalid()
		}
		return u.String(), nil
	}
	return nil, errors.New(gateway.ErrUnsupportedType, fmt.Sprintf("Column type '%s' (column '%s') is not supported", gateway.TypeName(int(c.Type)), c.Name))
}
