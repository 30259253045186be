package wireprotocol

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"io"
	"strings"

	gateway "github.com/featurebasedb/gateway"
	"github.com/featurebasedb/gateway/charset"
	"github.com/featurebasedb/gateway/errors"
	"golang.org/x/text/encoding"
)

// Defaults of the delimited text format.
const (
	DefaultDelimiter = "\t"
	DefaultNull      = `\N`
	DefaultCSVNull   = ""
)

// TextOptions configure the delimited text format.
type TextOptions struct {
	Delimiter string
	Null      string
	CSV       bool

	// Encoding of the stream. Nil means UTF-8.
	Encoding encoding.Encoding
}

// TextOptionsOf returns the text options of a request: the DELIMITER and
// NULL options and the data encoding. FORMAT=csv in the request's data
// format selects CSV quoting.
func TextOptionsOf(rc *gateway.RequestContext) (TextOptions, error) {
	enc, err := charset.Lookup(rc.DataEncoding)
	if err != nil {
		return TextOptions{}, err
	}
	opts := TextOptions{
		CSV:      strings.EqualFold(rc.Format, "csv"),
		Encoding: enc,
	}
	opts.Delimiter = DefaultDelimiter
	opts.Null = DefaultNull
	if opts.CSV {
		opts.Delimiter = ","
		opts.Null = DefaultCSVNull
	}
	if d, ok := rc.LookupOption("delimiter"); ok {
		if len([]rune(d)) != 1 {
			return TextOptions{}, gateway.NewErrInvalidValue("DELIMITER", d, "a single character")
		}
		opts.Delimiter = d
	}
	if n, ok := rc.LookupOption("null"); ok {
		opts.Null = n
	}
	return opts, nil
}

// TextWriter writes rows as lines of delimited text.
type TextWriter struct {
	w    *bufio.Writer
	opts TextOptions
	line bytes.Buffer
	csv  *csv.Writer
}

// NewTextWriter returns a TextWriter writing to w.
func NewTextWriter(w io.Writer, opts TextOptions) *TextWriter {
	if opts.Delimiter == "" {
		opts.Delimiter = DefaultDelimiter
	}
	tw := &TextWriter{w: bufio.NewWriter(w), opts: opts}
	if opts.CSV {
		tw.csv = csv.NewWriter(&tw.line)
		tw.csv.Comma = []rune(opts.Delimiter)[0]
	}
	return tw
}

// WriteFields writes one row. A row made of a single text or bytea field is
// passed through as a line of its own; it already is delimited text.
func (tw *TextWriter) WriteFields(fields []gateway.OneField) error {
	tw.line.Reset()
	if len(fields) == 1 && fields[0].Val != nil && (fields[0].Type == gateway.Text || fields[0].Type == gateway.Bytea) {
		tw.line.WriteString(textValue(fields[0].Val))
		if b := tw.line.Bytes(); len(b) == 0 || b[len(b)-1] != '\n' {
			tw.line.WriteByte('\n')
		}
	} else if tw.csv != nil {
		rec := make([]string, len(fields))
		for i, f := range fields {
			if f.Val == nil {
				rec[i] = tw.opts.Null
			} else {
				rec[i] = textValue(f.Val)
			}
		}
		if err := tw.csv.Write(rec); err != nil {
			return errors.Wrap(err, "formatting csv")
		}
		tw.csv.Flush()
	} else {
		for i, f := range fields {
			if i > 0 {
				tw.line.WriteString(tw.opts.Delimiter)
			}
			if f.Val == nil {
				tw.line.WriteString(tw.opts.Null)
				continue
			}
			tw.escape(textValue(f.Val))
		}
		tw.line.WriteByte('\n')
	}

	b := tw.line.Bytes()
	if tw.opts.Encoding != nil && !charset.IsUTF8(tw.opts.Encoding) {
		var err error
		if b, err = charset.Encode(tw.opts.Encoding, string(b)); err != nil {
			return err
		}
	}
	_, err := tw.w.Write(b)
	return err
}

func (tw *TextWriter) escape(s string) {
	for _, r := range s {
		switch {
		case r == '\\':
			tw.line.WriteString(`\\`)
		case r == '\n':
			tw.line.WriteString(`\n`)
		case r == '\r':
			tw.line.WriteString(`\r`)
		case string(r) == tw.opts.Delimiter:
			tw.line.WriteByte('\\')
			tw.line.WriteRune(r)
		default:
			tw.line.WriteRune(r)
		}
	}
}

// Flush writes buffered lines to the underlying writer.
func (tw *TextWriter) Flush() error {
	return tw.w.Flush()
}

// LineReader splits a text stream into lines, each returned as a single
// text field without its line terminator.
type LineReader struct {
	r   *bufio.Reader
	enc encoding.Encoding
}

// NewLineReader returns a LineReader over r in the encoding of opts.
func NewLineReader(r io.Reader, opts TextOptions) *LineReader {
	return &LineReader{r: bufio.NewReader(r), enc: opts.Encoding}
}

// ReadFields returns the next line. It returns io.EOF at the end of the
// stream.
func (lr *LineReader) ReadFields() ([]gateway.OneField, error) {
	line, err := lr.r.ReadBytes('\n')
	if err == io.EOF && len(line) == 0 {
		return nil, io.EOF
	} else if err != nil && err != io.EOF {
		return nil, errors.Wrap(err, "reading line")
	}
	line = bytes.TrimSuffix(line, []byte("\n"))
	line = bytes.TrimSuffix(line, []byte("\r"))

	s := string(line)
	if lr.enc != nil && !charset.IsUTF8(lr.enc) {
		if s, err = charset.Decode(lr.enc, line); err != nil {
			return nil, err
		}
	}
	return []gateway.OneField{{Type: gateway.Text, Val: s}}, nil
}
