// Package demo is a connector of synthetic data. It needs no external
// system, which makes it useful for checking a database setup.
package demo

import (
	"context"
	"fmt"
	"io"
	"strings"

	gateway "github.com/featurebasedb/gateway"
	"github.com/featurebasedb/gateway/logger"
	"github.com/featurebasedb/gateway/plugins/text"
)

// Plugin names.
const (
	FragmenterName   = "demo.Fragmenter"
	AccessorName     = "demo.Accessor"
	TextResolverName = "demo.TextResolver"
)

// Options of the demo connector and their defaults.
const (
	FragmentsOption = "FRAGMENTS"
	RowsOption      = "ROWS"

	DefaultFragments = 3
	DefaultRows      = 2
)

// Register adds the demo plugins to f. Rows written through the demo
// accessor are counted and logged to log.
func Register(f *gateway.PluginFactory, log logger.Logger) {
	if log == nil {
		log = logger.NopLogger
	}
	f.RegisterFragmenter(FragmenterName, func(rc *gateway.RequestContext) (gateway.Fragmenter, error) {
		n, err := rc.OptionInt(FragmentsOption, DefaultFragments)
		if err != nil {
			return nil, err
		}
		return &Fragmenter{DataSource: rc.DataSource, Count: n}, nil
	})
	f.RegisterAccessor(AccessorName, func(rc *gateway.RequestContext) (gateway.Accessor, error) {
		n, err := rc.OptionInt(RowsOption, DefaultRows)
		if err != nil {
			return nil, err
		}
		return &Accessor{
			Metadata: string(rc.FragmentMetadata()),
			Rows:     n,
			Columns:  len(rc.Columns),
			Logger:   log.WithPrefix(fmt.Sprintf("[demo %s] ", rc.DataSource)),
		}, nil
	})
	f.RegisterResolver(TextResolverName, func(rc *gateway.RequestContext) (gateway.Resolver, error) {
		return &TextResolver{Columns: rc.Columns}, nil
	})
	text.Register(f)
}

// Fragmenter returns Count fragments of one source.
type Fragmenter struct {
	DataSource string
	Count      int
}

func (f *Fragmenter) GetFragments(ctx context.Context) ([]gateway.Fragment, error) {
	if f.Count < 0 {
		return nil, gateway.NewErrParameterRange(FragmentsOption, f.Count, 0, 1<<31-1)
	}
	fragments := make([]gateway.Fragment, f.Count)
	for i := range fragments {
		fragments[i] = gateway.Fragment{
			SourceName: f.DataSource,
			Metadata:   []byte(fmt.Sprintf("fragment%d", i+1)),
		}
	}
	return fragments, nil
}

// Accessor reads Rows rows of the form "fragmentN row1,value1" from a
// fragment. Rows have one value per column beyond the first, or a single
// value for requests without columns.
type Accessor struct {
	Metadata string
	Rows     int
	Columns  int
	Logger   logger.Logger

	row     int
	written int
}

func (a *Accessor) OpenForRead(ctx context.Context) error {
	a.row = 0
	return nil
}

func (a *Accessor) ReadNext(ctx context.Context) (gateway.OneRow, error) {
	if a.row >= a.Rows {
		return gateway.OneRow{}, io.EOF
	}
	a.row++

	values := a.Columns - 1
	if values < 1 {
		values = 1
	}
	parts := []string{fmt.Sprintf("%s row%d", a.Metadata, a.row)}
	for i := 1; i <= values; i++ {
		parts = append(parts, fmt.Sprintf("value%d", i))
	}
	return gateway.OneRow{Key: a.Metadata, Data: strings.Join(parts, ",")}, nil
}

func (a *Accessor) CloseForRead() error { return nil }

func (a *Accessor) OpenForWrite(ctx context.Context) error {
	a.written = 0
	return nil
}

func (a *Accessor) WriteNext(ctx context.Context, row gateway.OneRow) error {
	a.written++
	a.Logger.Debugf("row %d: %v", a.written, row.Data)
	return nil
}

func (a *Accessor) CloseForWrite() error {
	a.Logger.Infof("received %d rows", a.written)
	return nil
}

// Written returns the number of rows written since OpenForWrite.
func (a *Accessor) Written() int { return a.written }

// TextResolver splits comma separated rows into text fields, one per
// column.
type TextResolver struct {
	Columns []gateway.ColumnDescriptor
}

func (r *TextResolver) GetFields(row gateway.OneRow) ([]gateway.OneField, error) {
	s, ok := row.Data.(string)
	if !ok {
		return nil, gateway.NewErrCodec("unexpected record of type '%T'", row.Data)
	}
	values := strings.Split(s, ",")
	if len(r.Columns) > 0 && len(values) != len(r.Columns) {
		return nil, gateway.NewErrCodec("record has %d values for %d columns", len(values), len(r.Columns))
	}
	fields := make([]gateway.OneField, len(values))
	for i, v := range values {
		fields[i] = gateway.OneField{Type: gateway.Text, Val: v}
	}
	return fields, nil
}

func (r *TextResolver) SetFields(fields []gateway.OneField) (gateway.OneRow, error) {
	values := make([]string, len(fields))
	for i, f := range fields {
		if f.Val != nil {
			values[i] = fmt.Sprint(f.Val)
		}
	}
	return gateway.OneRow{Data: strings.Join(values, ",")}, nil
}
