package bridge_test

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"testing"

	gateway "github.com/featurebasedb/gateway"
	"github.com/featurebasedb/gateway/bridge"
	"github.com/featurebasedb/gateway/errors"
	"github.com/featurebasedb/gateway/fragmenter"
	"github.com/featurebasedb/gateway/logger"
	"github.com/featurebasedb/gateway/plugins/demo"
	"github.com/featurebasedb/gateway/plugins/text"
	"github.com/featurebasedb/gateway/wireprotocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBridge(t *testing.T, f *gateway.PluginFactory) *bridge.Bridge {
	log := logger.NewLogfLogger(t)
	svc := fragmenter.NewService(fragmenter.NewCache(0), f, nil, log)
	return bridge.New(f, svc, nil, log)
}

func readContext(segment, total int) *gateway.RequestContext {
	return &gateway.RequestContext{
		RequestType:   gateway.ReadBridge,
		TransactionID: fmt.Sprintf("xid-%d", total),
		DataSource:    "/tmp/dummy",
		SegmentID:     segment,
		TotalSegments: total,
		Fragmenter:    demo.FragmenterName,
		Accessor:      demo.AccessorName,
		Resolver:      text.StringPassResolverName,
		Profile:       "demo:text",
		Options:       map[string]string{},
	}
}

func TestBridge_ReadText(t *testing.T) {
	f := gateway.NewPluginFactory()
	demo.Register(f, nil)
	b := newBridge(t, f)

	var out []string
	for seg := 0; seg < 2; seg++ {
		rc := readContext(seg, 2)
		var buf bytes.Buffer
		w, err := bridge.NewRowWriter(rc, &buf)
		require.NoError(t, err)
		n, err := b.Read(context.Background(), rc, w)
		require.NoError(t, err)
		assert.EqualValues(t, strings.Count(buf.String(), "\n"), n)
		out = append(out, buf.String())
	}
	assert.Equal(t, []string{
		"fragment1 row1,value1\nfragment1 row2,value1\nfragment3 row1,value1\nfragment3 row2,value1\n",
		"fragment2 row1,value1\nfragment2 row2,value1\n",
	}, out)
}

func TestBridge_ReadGPDBWritable(t *testing.T) {
	f := gateway.NewPluginFactory()
	demo.Register(f, nil)
	b := newBridge(t, f)

	rc := readContext(0, 1)
	rc.OutputFormat = gateway.OutputGPDBWritable
	rc.Resolver = demo.TextResolverName
	rc.Columns = []gateway.ColumnDescriptor{{Name: "name", Type: gateway.Text}, {Name: "value", Type: gateway.Text}}
	rc.Options["fragments"] = "1"

	var buf bytes.Buffer
	w, err := bridge.NewRowWriter(rc, &buf)
	require.NoError(t, err)
	n, err := b.Read(context.Background(), rc, w)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	c := &wireprotocol.Codec{}
	rec, err := c.ReadRecord(&buf)
	require.NoError(t, err)
	assert.Equal(t, []gateway.OneField{
		{Type: gateway.Text, Val: "fragment1 row1"},
		{Type: gateway.Text, Val: "value1"},
	}, rec.Fields)
}

func TestBridge_ReadSingleFragment(t *testing.T) {
	f := gateway.NewPluginFactory()
	demo.Register(f, nil)
	b := bridge.New(f, nil, nil, nil)

	rc := readContext(0, 1)
	require.NoError(t, rc.SetFragmentMetadata([]byte("fragment9")))
	var buf bytes.Buffer
	w, err := bridge.NewRowWriter(rc, &buf)
	require.NoError(t, err)
	_, err = b.Read(context.Background(), rc, w)
	require.NoError(t, err)
	assert.Equal(t, "fragment9 row1,value1\nfragment9 row2,value1\n", buf.String())
}

type failingAccessor struct {
	demo.Accessor
	err error
}

func (a *failingAccessor) ReadNext(ctx context.Context) (gateway.OneRow, error) {
	return gateway.OneRow{}, a.err
}

func TestBridge_ReadConnectorError(t *testing.T) {
	f := gateway.NewPluginFactory()
	demo.Register(f, nil)
	f.RegisterAccessor("failing", func(*gateway.RequestContext) (gateway.Accessor, error) {
		return &failingAccessor{err: fmt.Errorf("disk on fire")}, nil
	})
	b := newBridge(t, f)

	rc := readContext(0, 1)
	rc.Accessor = "failing"
	w, err := bridge.NewRowWriter(rc, io.Discard)
	require.NoError(t, err)
	_, err = b.Read(context.Background(), rc, w)
	assert.True(t, errors.Is(err, gateway.ErrConnector))
	assert.Contains(t, err.Error(), "disk on fire")

	rc.Accessor = "missing"
	_, err = b.Read(context.Background(), rc, w)
	assert.True(t, errors.Is(err, gateway.ErrConfiguration))
}

type collectingAccessor struct {
	demo.Accessor
	rows   []interface{}
	closed bool
}

func (a *collectingAccessor) WriteNext(ctx context.Context, row gateway.OneRow) error {
	a.rows = append(a.rows, row.Data)
	return nil
}

func (a *collectingAccessor) CloseForWrite() error {
	a.closed = true
	return nil
}

func TestBridge_Write(t *testing.T) {
	acc := &collectingAccessor{}
	f := gateway.NewPluginFactory()
	text.Register(f)
	f.RegisterAccessor("collect", func(*gateway.RequestContext) (gateway.Accessor, error) { return acc, nil })
	b := bridge.New(f, nil, nil, logger.NewLogfLogger(t))

	rc := &gateway.RequestContext{
		RequestType: gateway.WriteBridge,
		Accessor:    "collect",
		Resolver:    text.StringPassResolverName,
		Options:     map[string]string{},
	}

	t.Run("Text", func(t *testing.T) {
		acc.rows = nil
		r, err := bridge.NewRowReader(rc, strings.NewReader("a|1\nb|2\n"))
		require.NoError(t, err)
		n, err := b.Write(context.Background(), rc, r)
		require.NoError(t, err)
		assert.EqualValues(t, 2, n)
		assert.Equal(t, []interface{}{"a|1", "b|2"}, acc.rows)
		assert.True(t, acc.closed)
	})

	t.Run("GPDBWritable", func(t *testing.T) {
		acc.rows = nil
		rc := rc.Copy()
		rc.OutputFormat = gateway.OutputGPDBWritable
		var buf bytes.Buffer
		c := &wireprotocol.Codec{}
		require.NoError(t, c.WriteRecord(&buf, []gateway.OneField{{Type: gateway.Text, Val: "x,y"}}))
		require.NoError(t, c.WriteEmpty(&buf))

		r, err := bridge.NewRowReader(rc, &buf)
		require.NoError(t, err)
		n, err := b.Write(context.Background(), rc, r)
		require.NoError(t, err)
		assert.EqualValues(t, 1, n)
		assert.Equal(t, []interface{}{"x,y"}, acc.rows)
	})

	t.Run("Truncated", func(t *testing.T) {
		rc := rc.Copy()
		rc.OutputFormat = gateway.OutputGPDBWritable
		r, err := bridge.NewRowReader(rc, bytes.NewReader([]byte{0, 0, 0, 16, 0}))
		require.NoError(t, err)
		_, err = b.Write(context.Background(), rc, r)
		assert.True(t, errors.Is(err, gateway.ErrCodec))
	})
}

func TestNewRowWriter_Unsupported(t *testing.T) {
	_, err := bridge.NewRowWriter(&gateway.RequestContext{OutputFormat: gateway.OutputFormat(9)}, io.Discard)
	assert.True(t, errors.Is(err, gateway.ErrUnsupportedType))
}
