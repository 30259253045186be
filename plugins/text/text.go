// Package text holds the resolver shared by connectors of line oriented
// data.
package text

import (
	"fmt"

	gateway "github.com/featurebasedb/gateway"
)

// StringPassResolverName is the plugin name of StringPassResolver.
const StringPassResolverName = "text.StringPassResolver"

// StringPassResolver passes records through unchanged. A record is a line
// of text which the database parses itself.
type StringPassResolver struct{}

// NewStringPassResolver is a gateway.ResolverFunc.
func NewStringPassResolver(*gateway.RequestContext) (gateway.Resolver, error) {
	return StringPassResolver{}, nil
}

// Register adds the resolver to f.
func Register(f *gateway.PluginFactory) {
	f.RegisterResolver(StringPassResolverName, NewStringPassResolver)
}

func (StringPassResolver) GetFields(row gateway.OneRow) ([]gateway.OneField, error) {
	switch v := row.Data.(type) {
	case string:
		return []gateway.OneField{{Type: gateway.Text, Val: v}}, nil
	case []byte:
		return []gateway.OneField{{Type: gateway.Bytea, Val: v}}, nil
	case nil:
		return []gateway.OneField{{Type: gateway.Text}}, nil
	default:
		return []gateway.OneField{{Type: gateway.Text, Val: fmt.Sprint(v)}}, nil
	}
}

func (StringPassResolver) SetFields(fields []gateway.OneField) (gateway.OneRow, error) {
	if len(fields) != 1 {
		return gateway.OneRow{}, gateway.NewErrCodec("expected a single text field per record, got %d fields", len(fields))
	}
	switch v := fields[0].Val.(type) {
	case string:
		return gateway.OneRow{Data: v}, nil
	case []byte:
		return gateway.OneRow{Data: string(v)}, nil
	default:
		return gateway.OneRow{}, gateway.NewErrCodec("unexpected value of type '%T' in a text record", v)
	}
}
