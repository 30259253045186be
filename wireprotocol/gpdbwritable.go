package wireprotocol

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	gateway "github.com/featurebasedb/gateway"
	"github.com/featurebasedb/gateway/charset"
	"github.com/featurebasedb/gateway/errors"
	"golang.org/x/text/encoding"
)

// GPDBWritable record layout, big-endian:
//
// 					length (bytes)
// record length	4	including itself; -1 marks an empty record
// version			2
// error flag		1	version 2 only
// column count		2
// column types		1 per column
// null bitmap		ceil(count/8), most significant bit first, 1 = null
//
// (n) non-null values, each aligned on its type's boundary relative to the
// start of the record
//
// - BIGINT, FLOAT8		8
// - INTEGER, REAL		4
// - SMALLINT			2
// - BOOLEAN			1
// - BYTEA, TEXT		4 byte length, then the bytes. TEXT is encoded in the
//						database encoding and NUL terminated; the length
//						counts the terminator.
//
// The record is padded to a multiple of 8 bytes.
const (
	Version         int16 = 2
	PreviousVersion int16 = 1

	EmptyRecordLength int32 = -1

	headerLength = 4 + 2 + 1 + 2
)

// DBType is the column type code of a GPDBWritable record.
type DBType int8

const (
	DBBigint DBType = iota
	DBBoolean
	DBFloat8
	DBInteger
	DBReal
	DBSmallint
	DBBytea
	DBText
)

var dbTypeNames = [...]string{"BIGINT", "BOOLEAN", "FLOAT8", "INTEGER", "REAL", "SMALLINT", "BYTEA", "TEXT"}

func (t DBType) String() string {
	if t < 0 || int(t) >= len(dbTypeNames) {
		return fmt.Sprintf("DBType(%d)", int8(t))
	}
	return dbTypeNames[t]
}

// DBTypeOf returns the wire type of a column type. Types without a binary
// representation are sent as text.
func DBTypeOf(dt gateway.DataType) DBType {
	switch dt {
	case gateway.Bigint:
		return DBBigint
	case gateway.Boolean:
		return DBBoolean
	case gateway.Float8:
		return DBFloat8
	case gateway.Integer:
		return DBInteger
	case gateway.Real:
		return DBReal
	case gateway.Smallint:
		return DBSmallint
	case gateway.Bytea:
		return DBBytea
	default:
		return DBText
	}
}

// DataType returns the column type a decoded value of t carries.
func (t DBType) DataType() gateway.DataType {
	switch t {
	case DBBigint:
		return gateway.Bigint
	case DBBoolean:
		return gateway.Boolean
	case DBFloat8:
		return gateway.Float8
	case DBInteger:
		return gateway.Integer
	case DBReal:
		return gateway.Real
	case DBSmallint:
		return gateway.Smallint
	case DBBytea:
		return gateway.Bytea
	default:
		return gateway.Text
	}
}

func (t DBType) alignment(eight int) int {
	switch t {
	case DBBigint, DBFloat8:
		return eight
	case DBSmallint:
		return 2
	case DBBoolean:
		return 1
	default:
		return 4
	}
}

// Record is a decoded GPDBWritable record.
type Record struct {
	Fields    []gateway.OneField
	Empty     bool
	ErrorFlag byte
}

// Codec reads and writes GPDBWritable records. A Codec has no state of its
// own and may be shared; a stream must not be used by two callers at once.
type Codec struct {
	// Encoding of TEXT values. Nil means UTF-8.
	Encoding encoding.Encoding

	// Alignment of 8-byte values. Zero means 8.
	Alignment int
}

// NewCodec returns the codec for the database encoding and alignment of rc.
func NewCodec(rc *gateway.RequestContext) (*Codec, error) {
	enc, err := charset.Lookup(rc.DatabaseEncoding)
	if err != nil {
		return nil, err
	}
	return &Codec{Encoding: enc, Alignment: rc.EightByteAlignment()}, nil
}

func (c *Codec) eightByteAlignment() int {
	if c.Alignment <= 0 {
		return gateway.DefaultAlignment
	}
	return c.Alignment
}

func (c *Codec) encoding() encoding.Encoding {
	if c.Encoding == nil {
		enc, _ := charset.Lookup("")
		return enc
	}
	return c.Encoding
}

// WriteEmpty writes the empty record marker.
func (c *Codec) WriteEmpty(w io.Writer) error {
	rw := recordWriter{}
	rw.writeInt32(EmptyRecordLength)
	_, err := w.Write(rw.buf)
	return err
}

// WriteRecord encodes fields as one record to w.
func (c *Codec) WriteRecord(w io.Writer, fields []gateway.OneField) error {
	b, err := c.MarshalRecord(fields)
	if err != nil {
		return err
	}
	_, err = w.Write(b)
	return err
}

// MarshalRecord encodes fields as one record.
func (c *Codec) MarshalRecord(fields []gateway.OneField) ([]byte, error) {
	if len(fields) > 1<<15-1 {
		return nil, gateway.NewErrCodec("too many columns for a record: %d", len(fields))
	}
	eight := c.eightByteAlignment()

	rw := recordWriter{buf: make([]byte, 0, 64)}
	rw.writeInt32(0) // length, filled in below
	rw.writeInt16(Version)
	rw.writeInt8(0)
	rw.writeInt16(int16(len(fields)))
	for _, f := range fields {
		rw.writeInt8(int8(DBTypeOf(f.Type)))
	}

	bitmap := make([]byte, (len(fields)+7)/8)
	for i, f := range fields {
		if f.Val == nil {
			bitmap[i/8] |= 0x80 >> (i % 8)
		}
	}
	rw.write(bitmap)

	for i, f := range fields {
		if f.Val == nil {
			continue
		}
		t := DBTypeOf(f.Type)
		rw.pad(t.alignment(eight))
		if err := c.writeValue(&rw, t, f.Val); err != nil {
			return nil, errors.Wrapf(err, "column %d", i)
		}
	}
	rw.pad(8)

	n := int32(rw.len())
	b := rw.buf
	b[0], b[1], b[2], b[3] = byte(n>>24), byte(n>>16), byte(n>>8), byte(n)
	return b, nil
}

func (c *Codec) writeValue(rw *recordWriter, t DBType, v interface{}) error {
	switch t {
	case DBBigint:
		n, ok := toInt64(v)
		if !ok {
			return unexpectedValue(t, v)
		}
		rw.writeInt64(n)

	case DBBoolean:
		b, ok := v.(bool)
		if !ok {
			return unexpectedValue(t, v)
		}
		if b {
			rw.writeInt8(1)
		} else {
			rw.writeInt8(0)
		}

	case DBFloat8:
		switch f := v.(type) {
		case float64:
			rw.writeFloat64(f)
		case float32:
			rw.writeFloat64(float64(f))
		default:
			return unexpectedValue(t, v)
		}

	case DBInteger:
		n, ok := toInt64(v)
		if !ok || n < -1<<31 || n > 1<<31-1 {
			return unexpectedValue(t, v)
		}
		rw.writeInt32(int32(n))

	case DBReal:
		switch f := v.(type) {
		case float32:
			rw.writeFloat32(f)
		case float64:
			rw.writeFloat32(float32(f))
		default:
			return unexpectedValue(t, v)
		}

	case DBSmallint:
		n, ok := toInt64(v)
		if !ok || n < -1<<15 || n > 1<<15-1 {
			return unexpectedValue(t, v)
		}
		rw.writeInt16(int16(n))

	case DBBytea:
		var b []byte
		switch x := v.(type) {
		case []byte:
			b = x
		case string:
			b = []byte(x)
		default:
			return unexpectedValue(t, v)
		}
		rw.writeInt32(int32(len(b)))
		rw.write(b)

	case DBText:
		b, err := charset.Encode(c.encoding(), textValue(v))
		if err != nil {
			return err
		}
		rw.writeInt32(int32(len(b) + 1))
		rw.write(b)
		rw.writeInt8(0)
	}
	return nil
}

// ReadRecord decodes the next record from r. It returns io.EOF if r ends
// before the record starts; a stream ending inside a record is a codec
// error.
func (c *Codec) ReadRecord(r io.Reader) (Record, error) {
	rr := recordReader{r: r}

	length := rr.readInt32()
	if rr.err != nil {
		if rr.err == io.EOF {
			return Record{Empty: true}, io.EOF
		}
		return Record{}, codecError(rr.err)
	}
	if length == EmptyRecordLength {
		return Record{Empty: true}, nil
	}

	rr.limit = int(length)

	var rec Record
	version := rr.readInt16()
	if version != PreviousVersion {
		rec.ErrorFlag = byte(rr.readInt8())
	}
	count := int(rr.readInt16())
	if rr.err != nil {
		return Record{}, codecError(rr.err)
	}
	if count < 0 {
		return Record{}, gateway.NewErrCodec("invalid column count %d", count)
	}

	types := make([]DBType, count)
	for i := range types {
		types[i] = DBType(rr.readInt8())
	}
	bitmap := rr.readBytes((count + 7) / 8)
	if rr.err != nil {
		return Record{}, codecError(rr.err)
	}

	eight := c.eightByteAlignment()
	rec.Fields = make([]gateway.OneField, count)
	for i, t := range types {
		if t < DBBigint || t > DBText {
			return Record{}, gateway.NewErrCodec("column %d has unknown type code %d", i, int8(t))
		}
		rec.Fields[i].Type = t.DataType()
		if bitmap[i/8]&(0x80>>(i%8)) != 0 {
			continue
		}
		rr.skip(t.alignment(eight))
		v, err := c.readValue(&rr, t)
		if err != nil {
			return Record{}, errors.Wrapf(err, "column %d", i)
		}
		rec.Fields[i].Val = v
	}

	if int(length) < rr.off {
		return Record{}, gateway.NewErrCodec("record length %d is shorter than its %d bytes of content", length, rr.off)
	}
	if rest := int(length) - rr.off; rest > 0 {
		rr.discard(rest)
	}
	if rr.err != nil {
		return Record{}, codecError(rr.err)
	}
	return rec, nil
}

func (c *Codec) readValue(rr *recordReader, t DBType) (interface{}, error) {
	var v interface{}
	switch t {
	case DBBigint:
		v = rr.readInt64()
	case DBBoolean:
		v = rr.readInt8() != 0
	case DBFloat8:
		v = rr.readFloat64()
	case DBInteger:
		v = rr.readInt32()
	case DBReal:
		v = rr.readFloat32()
	case DBSmallint:
		v = rr.readInt16()
	case DBBytea, DBText:
		n := rr.readInt32()
		if rr.err == nil && n < 0 {
			return nil, gateway.NewErrCodec("negative %s length %d", t, n)
		}
		if rr.err == nil && rr.off+int(n) > rr.limit {
			return nil, gateway.NewErrCodec("%s length %d exceeds the record length %d", t, n, rr.limit)
		}
		b := rr.readBytes(int(n))
		if rr.err != nil {
			break
		}
		if t == DBBytea {
			v = b
			break
		}
		if len(b) > 0 && b[len(b)-1] == 0 {
			b = b[:len(b)-1]
		}
		s, err := charset.Decode(c.encoding(), b)
		if err != nil {
			return nil, err
		}
		v = s
	}
	if rr.err != nil {
		return nil, codecError(rr.err)
	}
	return v, nil
}

func toInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int16:
		return int64(n), true
	case int8:
		return int64(n), true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	}
	return 0, false
}

func textValue(v interface{}) string {
	switch x := v.(type) {
	case string:
		return x
	case []byte:
		return string(x)
	case fmt.Stringer:
		return x.String()
	}
	return fmt.Sprint(v)
}

func unexpectedValue(t DBType, v interface{}) error {
	return gateway.NewErrCodec("unexpected value %v of type '%T' for %s", v, v, strings.ToLower(t.String()))
}

// Writer writes rows as GPDBWritable records.
type Writer struct {
	w *bufio.Writer
	c *Codec
}

// NewWriter returns a buffered Writer over w.
func (c *Codec) NewWriter(w io.Writer) *Writer {
	return &Writer{w: bufio.NewWriter(w), c: c}
}

func (w *Writer) WriteFields(fields []gateway.OneField) error {
	return w.c.WriteRecord(w.w, fields)
}

func (w *Writer) Flush() error {
	return w.w.Flush()
}

// Reader reads the rows of a GPDBWritable stream. Empty records are
// skipped.
type Reader struct {
	r *bufio.Reader
	c *Codec
}

// NewReader returns a buffered Reader over r.
func (c *Codec) NewReader(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReader(r), c: c}
}

// ReadFields returns the fields of the next non-empty record, or io.EOF at
// the end of the stream.
func (r *Reader) ReadFields() ([]gateway.OneField, error) {
	for {
		rec, err := r.c.ReadRecord(r.r)
		if err != nil {
			return nil, err
		}
		if !rec.Empty {
			return rec.Fields, nil
		}
	}
}
