package wireprotocol_test

import (
	"bytes"
	"encoding/binary"
	"io"
	"reflect"
	"runtime"
	"strings"
	"testing"

	gateway "github.com/featurebasedb/gateway"
	"github.com/featurebasedb/gateway/errors"
	"github.com/featurebasedb/gateway/wireprotocol"
	"github.com/google/go-cmp/cmp"
	"golang.org/x/text/encoding/charmap"
)

func TestGPDBWritable_RoundTrip(t *testing.T) {
	rows := [][]gateway.OneField{
		{
			{Type: gateway.Bigint, Val: int64(-9000000000)},
			{Type: gateway.Boolean, Val: true},
			{Type: gateway.Float8, Val: 3.25},
			{Type: gateway.Integer, Val: int32(42)},
			{Type: gateway.Real, Val: float32(1.5)},
			{Type: gateway.Smallint, Val: int16(-7)},
			{Type: gateway.Bytea, Val: []byte{0, 1, 2, 0xff}},
			{Type: gateway.Text, Val: "hello, wörld"},
		},
		{
			{Type: gateway.Bigint, Val: nil},
			{Type: gateway.Boolean, Val: false},
			{Type: gateway.Float8, Val: nil},
			{Type: gateway.Integer, Val: nil},
			{Type: gateway.Real, Val: nil},
			{Type: gateway.Smallint, Val: int16(1)},
			{Type: gateway.Bytea, Val: nil},
			{Type: gateway.Text, Val: ""},
			{Type: gateway.Text, Val: nil},
		},
		{},
	}

	for _, alignment := range []int{8, 4} {
		c := &wireprotocol.Codec{Alignment: alignment}
		var buf bytes.Buffer
		for _, row := range rows {
			if err := c.WriteRecord(&buf, row); err != nil {
				t.Fatal(err)
			}
		}
		if buf.Len()%8 != 0 {
			t.Fatalf("stream of %d bytes is not padded", buf.Len())
		}

		for i, row := range rows {
			rec, err := c.ReadRecord(&buf)
			if err != nil {
				t.Fatalf("row %d: %v", i, err)
			}
			if rec.Empty {
				t.Fatalf("row %d decoded as empty", i)
			}
			want := row
			if len(want) == 0 {
				want = []gateway.OneField{}
			}
			if diff := cmp.Diff(want, rec.Fields); diff != "" {
				t.Fatalf("row %d (-want +got):\n%s", i, diff)
			}
		}
		if _, err := c.ReadRecord(&buf); err != io.EOF {
			t.Fatalf("expected io.EOF, got %v", err)
		}
	}
}

func TestGPDBWritable_TextTypes(t *testing.T) {
	// Types without a binary form travel as text.
	c := &wireprotocol.Codec{}
	b, err := c.MarshalRecord([]gateway.OneField{
		{Type: gateway.Varchar, Val: "v"},
		{Type: gateway.Numeric, Val: "12.50"},
		{Type: gateway.Date, Val: "2022-01-01"},
		{Type: gateway.Integer, Val: 5},
	})
	if err != nil {
		t.Fatal(err)
	}
	rec, err := c.ReadRecord(bytes.NewReader(b))
	if err != nil {
		t.Fatal(err)
	}
	want := []gateway.OneField{
		{Type: gateway.Text, Val: "v"},
		{Type: gateway.Text, Val: "12.50"},
		{Type: gateway.Text, Val: "2022-01-01"},
		{Type: gateway.Integer, Val: int32(5)},
	}
	if diff := cmp.Diff(want, rec.Fields); diff != "" {
		t.Fatal(diff)
	}
}

func TestGPDBWritable_Layout(t *testing.T) {
	c := &wireprotocol.Codec{}
	b, err := c.MarshalRecord([]gateway.OneField{
		{Type: gateway.Integer, Val: int32(1)},
		{Type: gateway.Bigint, Val: nil},
		{Type: gateway.Bigint, Val: int64(2)},
	})
	if err != nil {
		t.Fatal(err)
	}
	want := []byte{
		0, 0, 0, 32, // length
		0, 2, // version
		0,    // error flag
		0, 3, // columns
		3, 0, 0, // INTEGER, BIGINT, BIGINT
		0x40,    // second column is null
		0, 0, 0, // pad to 16
		0, 0, 0, 1, // integer
		0, 0, 0, 0, // pad to 24
		0, 0, 0, 0, 0, 0, 0, 2, // bigint
	}
	if diff := cmp.Diff(want, b); diff != "" {
		t.Fatal(diff)
	}
}

func TestGPDBWritable_Charset(t *testing.T) {
	c := &wireprotocol.Codec{Encoding: charmap.ISO8859_1}
	b, err := c.MarshalRecord([]gateway.OneField{{Type: gateway.Text, Val: "café"}})
	if err != nil {
		t.Fatal(err)
	}
	// "café" is 4 bytes in latin1 plus the terminator.
	if !bytes.Contains(b, []byte{0, 0, 0, 5, 'c', 'a', 'f', 0xe9, 0}) {
		t.Fatalf("unexpected encoding: %v", b)
	}
	rec, err := c.ReadRecord(bytes.NewReader(b))
	if err != nil {
		t.Fatal(err)
	}
	if got := rec.Fields[0].Val; got != "café" {
		t.Fatalf("got %q", got)
	}
}

func TestGPDBWritable_Empty(t *testing.T) {
	c := &wireprotocol.Codec{}

	t.Run("EmptyStream", func(t *testing.T) {
		rec, err := c.ReadRecord(bytes.NewReader(nil))
		if err != io.EOF {
			t.Fatalf("expected io.EOF, got %v", err)
		}
		if !rec.Empty {
			t.Fatal("expected empty record")
		}
	})

	t.Run("Sentinel", func(t *testing.T) {
		var buf bytes.Buffer
		if err := c.WriteEmpty(&buf); err != nil {
			t.Fatal(err)
		}
		buf.WriteString("trailing bytes are not read")
		rec, err := c.ReadRecord(&buf)
		if err != nil {
			t.Fatal(err)
		}
		if !rec.Empty || rec.Fields != nil {
			t.Fatalf("unexpected record %+v", rec)
		}
		if buf.String() != "trailing bytes are not read" {
			t.Fatalf("read past the sentinel: %q", buf.String())
		}
	})
}

func TestGPDBWritable_Truncated(t *testing.T) {
	c := &wireprotocol.Codec{}

	for _, length := range []int32{-2, 8} {
		b := make([]byte, 4)
		binary.BigEndian.PutUint32(b, uint32(length))
		rec, err := c.ReadRecord(bytes.NewReader(b))
		if !errors.Is(err, gateway.ErrCodec) {
			t.Fatalf("length %d: expected codec error, got %v", length, err)
		}
		if rec.Empty {
			t.Fatalf("length %d: record must not be empty", length)
		}
	}

	full, err := c.MarshalRecord([]gateway.OneField{
		{Type: gateway.Text, Val: strings.Repeat("x", 20)},
		{Type: gateway.Float8, Val: 1.0},
	})
	if err != nil {
		t.Fatal(err)
	}
	for n := 5; n < len(full); n++ {
		_, err := c.ReadRecord(bytes.NewReader(full[:n]))
		if !errors.Is(err, gateway.ErrCodec) {
			t.Fatalf("truncated at %d: expected codec error, got %v", n, err)
		}
	}
}

func TestGPDBWritable_DeclaredLengthBeyondStream(t *testing.T) {
	b := []byte{
		0x7f, 0xff, 0xff, 0xff, // record length
		0, 2,                   // version
		0,                      // error flag
		0, 1,                   // column count
		6,                      // BYTEA
		0,                      // null bitmap
		0,                      // padding
		0x7f, 0xff, 0x00, 0x00, // value length
		'a', 'b', 'c',
	}

	var before, after runtime.MemStats
	runtime.ReadMemStats(&before)
	_, err := (&wireprotocol.Codec{}).ReadRecord(bytes.NewReader(b))
	runtime.ReadMemStats(&after)

	if !errors.Is(err, gateway.ErrCodec) {
		t.Fatalf("expected codec error, got %v", err)
	}
	if grown := after.TotalAlloc - before.TotalAlloc; grown > 1<<20 {
		t.Fatalf("decoding a 19 byte stream allocated %d bytes", grown)
	}
}

func TestGPDBWritable_EmptyBytea(t *testing.T) {
	c := &wireprotocol.Codec{}
	b, err := c.MarshalRecord([]gateway.OneField{{Type: gateway.Bytea, Val: []byte{}}})
	if err != nil {
		t.Fatal(err)
	}
	rec, err := c.ReadRecord(bytes.NewReader(b))
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual([]gateway.OneField{{Type: gateway.Bytea, Val: []byte{}}}, rec.Fields) {
		t.Fatalf("unexpected fields %#v", rec.Fields)
	}
}

func TestGPDBWritable_VersionOne(t *testing.T) {
	b := []byte{
		0, 0, 0, 16,
		0, 1, // version 1 has no error flag
		0, 1,
		5, // SMALLINT
		0,
		0, 9,
		0, 0, 0, 0,
	}
	rec, err := (&wireprotocol.Codec{}).ReadRecord(bytes.NewReader(b))
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]gateway.OneField{{Type: gateway.Smallint, Val: int16(9)}}, rec.Fields); diff != "" {
		t.Fatal(diff)
	}
}

func TestGPDBWritable_Errors(t *testing.T) {
	c := &wireprotocol.Codec{}
	_, err := c.MarshalRecord([]gateway.OneField{{Type: gateway.Boolean, Val: "yes"}})
	if !errors.Is(err, gateway.ErrCodec) {
		t.Fatalf("expected codec error, got %v", err)
	}
	_, err = c.MarshalRecord([]gateway.OneField{{Type: gateway.Smallint, Val: 1 << 20}})
	if !errors.Is(err, gateway.ErrCodec) {
		t.Fatalf("expected codec error, got %v", err)
	}

	b := []byte{0, 0, 0, 16, 0, 2, 0, 0, 1, 42, 0, 0, 0, 0, 0, 0}
	_, err = c.ReadRecord(bytes.NewReader(b))
	if !errors.Is(err, gateway.ErrCodec) || !strings.Contains(err.Error(), "unknown type code 42") {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestDBTypeOf(t *testing.T) {
	if got := wireprotocol.DBTypeOf(gateway.DataTypeOf(-7777)); got != wireprotocol.DBText {
		t.Fatalf("got %s", got)
	}
	if got := wireprotocol.DBTypeOf(gateway.Real); got.String() != "REAL" {
		t.Fatalf("got %s", got)
	}
}

func TestGPDBWritable_Stream(t *testing.T) {
	c := &wireprotocol.Codec{}
	var buf bytes.Buffer
	w := c.NewWriter(&buf)
	for i := int64(0); i < 3; i++ {
		if err := w.WriteFields([]gateway.OneField{{Type: gateway.Bigint, Val: i}}); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Flush(); err != nil {
		t.Fatal(err)
	}
	if err := c.WriteEmpty(&buf); err != nil {
		t.Fatal(err)
	}

	r := c.NewReader(&buf)
	var got []int64
	for {
		fields, err := r.ReadFields()
		if err == io.EOF {
			break
		} else if err != nil {
			t.Fatal(err)
		}
		got = append(got, fields[0].Val.(int64))
	}
	if diff := cmp.Diff([]int64{0, 1, 2}, got); diff != "" {
		t.Fatal(diff)
	}
}
