package demo_test

import (
	"context"
	"io"
	"testing"

	gateway "github.com/featurebasedb/gateway"
	"github.com/featurebasedb/gateway/errors"
	"github.com/featurebasedb/gateway/logger"
	"github.com/featurebasedb/gateway/plugins/demo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDemo(t *testing.T) {
	f := gateway.NewPluginFactory()
	demo.Register(f, logger.NewLogfLogger(t))

	rc := &gateway.RequestContext{
		DataSource: "/tmp/dummy",
		Fragmenter: demo.FragmenterName,
		Accessor:   demo.AccessorName,
		Resolver:   demo.TextResolverName,
		Columns:    []gateway.ColumnDescriptor{{Name: "a"}, {Name: "b"}, {Name: "c"}},
		Options:    map[string]string{"fragments": "2"},
	}

	fr, err := f.Fragmenter(rc)
	require.NoError(t, err)
	frags, err := fr.GetFragments(context.Background())
	require.NoError(t, err)
	require.Len(t, frags, 2)
	assert.Equal(t, "fragment2", string(frags[1].Metadata))

	frc := rc.WithFragment(frags[1])
	acc, err := f.Accessor(frc)
	require.NoError(t, err)
	res, err := f.Resolver(frc)
	require.NoError(t, err)

	require.NoError(t, acc.OpenForRead(context.Background()))
	var rows [][]gateway.OneField
	for {
		row, err := acc.ReadNext(context.Background())
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		fields, err := res.GetFields(row)
		require.NoError(t, err)
		rows = append(rows, fields)
	}
	require.NoError(t, acc.CloseForRead())

	assert.Equal(t, [][]gateway.OneField{
		{{Type: gateway.Text, Val: "fragment2 row1"}, {Type: gateway.Text, Val: "value1"}, {Type: gateway.Text, Val: "value2"}},
		{{Type: gateway.Text, Val: "fragment2 row2"}, {Type: gateway.Text, Val: "value1"}, {Type: gateway.Text, Val: "value2"}},
	}, rows)
}

func TestDemo_Write(t *testing.T) {
	buf := logger.NewBufferLogger()
	f := gateway.NewPluginFactory()
	demo.Register(f, buf)

	acc, err := f.Accessor(&gateway.RequestContext{Accessor: demo.AccessorName, DataSource: "out"})
	require.NoError(t, err)
	require.NoError(t, acc.OpenForWrite(context.Background()))
	for i := 0; i < 3; i++ {
		require.NoError(t, acc.WriteNext(context.Background(), gateway.OneRow{Data: "x"}))
	}
	require.NoError(t, acc.CloseForWrite())
	assert.Equal(t, 3, acc.(*demo.Accessor).Written())
	assert.Contains(t, buf.String(), "received 3 rows")
}

func TestDemo_Errors(t *testing.T) {
	_, err := (&demo.Fragmenter{Count: -1}).GetFragments(context.Background())
	assert.True(t, errors.Is(err, gateway.ErrParameterRange))

	res := &demo.TextResolver{Columns: make([]gateway.ColumnDescriptor, 2)}
	_, err = res.GetFields(gateway.OneRow{Data: "a,b,c"})
	assert.True(t, errors.Is(err, gateway.ErrCodec))

	row, err := res.SetFields([]gateway.OneField{{Val: "a"}, {Val: nil}, {Val: int32(3)}})
	require.NoError(t, err)
	assert.Equal(t, "a,,3", row.Data)
}
