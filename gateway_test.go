package gateway_test

import (
	"fmt"
	"testing"

	gateway "github.com/featurebasedb/gateway"
	"github.com/featurebasedb/gateway/errors"
	"github.com/featurebasedb/gateway/logger"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAssignIndexes(t *testing.T) {
	frags := []gateway.Fragment{
		{SourceName: "a", Index: 7},
		{SourceName: "a", Index: 7},
		{SourceName: "b", Index: 7},
		{SourceName: "a", Index: 7},
		{SourceName: "a", Index: 7},
		{SourceName: "a", Index: 7},
	}
	gateway.AssignIndexes(frags)

	var got []int
	for _, f := range frags {
		got = append(got, f.Index)
	}
	if diff := cmp.Diff([]int{0, 1, 0, 0, 1, 2}, got); diff != "" {
		t.Fatalf("unexpected indexes (-want +got):\n%s", diff)
	}
}

func TestTypeName(t *testing.T) {
	tests := []struct {
		oid  int
		name string
	}{
		{-1, "TEXT"},
		{-7777, "TEXT"},
		{16, "BOOLEAN"},
		{17, "BYTEA"},
		{20, "BIGINT"},
		{21, "SMALLINT"},
		{23, "INTEGER"},
		{25, "TEXT"},
		{700, "REAL"},
		{701, "FLOAT8"},
		{1042, "BPCHAR"},
		{1043, "VARCHAR"},
		{1082, "DATE"},
		{1083, "TIME"},
		{1114, "TIMESTAMP"},
		{1700, "NUMERIC"},
	}
	for _, test := range tests {
		t.Run(fmt.Sprint(test.oid), func(t *testing.T) {
			assert.Equal(t, test.name, gateway.TypeName(test.oid))
		})
	}
	assert.Equal(t, gateway.Unsupported, gateway.DataTypeOf(12345))
	assert.Equal(t, gateway.Varchar, gateway.DataTypeOf(1043))
}

func TestOutputFormat(t *testing.T) {
	f, err := gateway.ParseOutputFormat("gpdbwritable")
	require.NoError(t, err)
	assert.Equal(t, gateway.OutputGPDBWritable, f)

	f, err = gateway.OutputFormatByClassName("org.greenplum.pxf.api.io.Text")
	require.NoError(t, err)
	assert.Equal(t, gateway.OutputText, f)

	_, err = gateway.OutputFormatByClassName("foo")
	assert.True(t, errors.Is(err, gateway.ErrUnsupportedType))
	assert.Contains(t, err.Error(), "foo")
}

func TestRequestContext_FragmentMetadata(t *testing.T) {
	rc := &gateway.RequestContext{DataSource: "/data", Options: map[string]string{"batch_size": "10"}}
	assert.Nil(t, rc.FragmentMetadata())

	frc := rc.WithFragment(gateway.Fragment{SourceName: "/data/part-1", Index: 3, Metadata: []byte("I like kryo")})
	assert.Equal(t, "I like kryo", string(frc.FragmentMetadata()))
	assert.Equal(t, "/data/part-1", frc.DataSource)
	assert.Equal(t, 3, frc.FragmentIndex)
	assert.Nil(t, rc.FragmentMetadata())
	assert.Equal(t, "/data", rc.DataSource)

	cp := rc.Copy()
	require.NoError(t, cp.SetFragmentMetadata([]byte("x")))
	err := cp.SetFragmentMetadata([]byte("y"))
	assert.True(t, errors.Is(err, gateway.ErrConfiguration))

	n, err := rc.OptionInt("BATCH_SIZE", 1)
	require.NoError(t, err)
	assert.Equal(t, 10, n)
	n, err = rc.OptionInt("FETCH_SIZE", 1)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRequestContext_EightByteAlignment(t *testing.T) {
	assert.Equal(t, 8, (&gateway.RequestContext{Alignment: "all"}).EightByteAlignment())
	assert.Equal(t, 4, (&gateway.RequestContext{Alignment: "4"}).EightByteAlignment())
	assert.Equal(t, 8, (&gateway.RequestContext{}).EightByteAlignment())
}

func TestRetryingFailureHandler(t *testing.T) {
	rc := &gateway.RequestContext{User: "alex"}

	t.Run("RetryOnce", func(t *testing.T) {
		var calls, renewals int
		h := &gateway.RetryingFailureHandler{
			Logger: logger.NewLogfLogger(t),
			Renew:  func(*gateway.RequestContext) error { renewals++; return nil },
		}
		err := h.Execute(rc, "listing fragments", func() error {
			calls++
			if calls == 1 {
				return gateway.NewErrAuthExpired(fmt.Errorf("token expired"))
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 2, calls)
		assert.Equal(t, 1, renewals)
	})

	t.Run("SecondFailurePropagates", func(t *testing.T) {
		calls := 0
		h := &gateway.RetryingFailureHandler{}
		err := h.Execute(rc, "listing fragments", func() error {
			calls++
			return gateway.NewErrAuthExpired(fmt.Errorf("token expired"))
		})
		assert.True(t, errors.Is(err, gateway.ErrAuthExpired))
		assert.Equal(t, 2, calls)
	})

	t.Run("OtherErrorsNotRetried", func(t *testing.T) {
		calls := 0
		h := &gateway.RetryingFailureHandler{}
		err := h.Execute(rc, "listing fragments", func() error {
			calls++
			return fmt.Errorf("no such file")
		})
		assert.EqualError(t, err, "no such file")
		assert.Equal(t, 1, calls)
	})
}

func TestMajorVersionChecker(t *testing.T) {
	c := gateway.MajorVersionChecker{}
	assert.True(t, c.IsCompatible("16", "16"))
	assert.True(t, c.IsCompatible("16.1", "16"))
	assert.False(t, c.IsCompatible("16", "15"))
}

func TestProfileConflictOrder(t *testing.T) {
	err := gateway.NewErrProfileConflict("test-profile", []string{"resolver", "accessor", "fragmenter"})
	assert.EqualError(t, err, "Profile 'test-profile' already defines: [accessor, fragmenter, resolver]")
}
