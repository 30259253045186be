package text_test

import (
	"testing"

	gateway "github.com/featurebasedb/gateway"
	"github.com/featurebasedb/gateway/errors"
	"github.com/featurebasedb/gateway/plugins/text"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStringPassResolver(t *testing.T) {
	f := gateway.NewPluginFactory()
	text.Register(f)
	res, err := f.Resolver(&gateway.RequestContext{Resolver: text.StringPassResolverName})
	require.NoError(t, err)

	fields, err := res.GetFields(gateway.OneRow{Key: int64(0), Data: "a,b,c"})
	require.NoError(t, err)
	assert.Equal(t, []gateway.OneField{{Type: gateway.Text, Val: "a,b,c"}}, fields)

	fields, err = res.GetFields(gateway.OneRow{Data: []byte{1, 2}})
	require.NoError(t, err)
	assert.Equal(t, gateway.Bytea, fields[0].Type)

	row, err := res.SetFields([]gateway.OneField{{Type: gateway.Bytea, Val: []byte("x|y")}})
	require.NoError(t, err)
	assert.Equal(t, "x|y", row.Data)

	_, err = res.SetFields([]gateway.OneField{{Type: gateway.Text, Val: "a"}, {Type: gateway.Text, Val: "b"}})
	assert.True(t, errors.Is(err, gateway.ErrCodec))

	_, err = res.SetFields([]gateway.OneField{{Type: gateway.Integer, Val: int32(1)}})
	assert.True(t, errors.Is(err, gateway.ErrCodec))
}
