// Package charset maps database encoding names to text encodings.
package charset

import (
	"strings"

	"github.com/featurebasedb/gateway/errors"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/ianaindex"
	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/encoding/korean"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/encoding/traditionalchinese"
	"golang.org/x/text/encoding/unicode"
)

// ErrUnknownCharset is returned for encodings which have no Go equivalent.
const ErrUnknownCharset errors.Code = "UnknownCharset"

// database server encoding names, as sent in DATA-ENCODING and
// DATABASE-ENCODING.
var byName = map[string]encoding.Encoding{
	"UTF8":       unicode.UTF8,
	"SQL_ASCII":  unicode.UTF8,
	"LATIN1":     charmap.ISO8859_1,
	"LATIN2":     charmap.ISO8859_2,
	"LATIN3":     charmap.ISO8859_3,
	"LATIN4":     charmap.ISO8859_4,
	"LATIN5":     charmap.ISO8859_9,
	"LATIN6":     charmap.ISO8859_10,
	"LATIN7":     charmap.ISO8859_13,
	"LATIN8":     charmap.ISO8859_14,
	"LATIN9":     charmap.ISO8859_15,
	"LATIN10":    charmap.ISO8859_16,
	"ISO_8859_5": charmap.ISO8859_5,
	"ISO_8859_6": charmap.ISO8859_6,
	"ISO_8859_7": charmap.ISO8859_7,
	"ISO_8859_8": charmap.ISO8859_8,
	"WIN866":     charmap.CodePage866,
	"WIN874":     charmap.Windows874,
	"WIN1250":    charmap.Windows1250,
	"WIN1251":    charmap.Windows1251,
	"WIN1252":    charmap.Windows1252,
	"WIN1253":    charmap.Windows1253,
	"WIN1254":    charmap.Windows1254,
	"WIN1255":    charmap.Windows1255,
	"WIN1256":    charmap.Windows1256,
	"WIN1257":    charmap.Windows1257,
	"WIN1258":    charmap.Windows1258,
	"KOI8R":      charmap.KOI8R,
	"KOI8U":      charmap.KOI8U,
	"EUC_JP":     japanese.EUCJP,
	"SJIS":       japanese.ShiftJIS,
	"EUC_KR":     korean.EUCKR,
	"UHC":        korean.EUCKR,
	"EUC_CN":     simplifiedchinese.GBK,
	"GBK":        simplifiedchinese.GBK,
	"GB18030":    simplifiedchinese.GB18030,
	"BIG5":       traditionalchinese.Big5,
}

// Lookup returns the encoding for a database encoding name. Names unknown to
// the database are tried as IANA names, so "UTF-8" or "ISO-8859-1" work
// too. An empty name means UTF-8.
func Lookup(name string) (encoding.Encoding, error) {
	if name == "" {
		return unicode.UTF8, nil
	}
	if enc, ok := byName[strings.ToUpper(name)]; ok {
		return enc, nil
	}
	enc, err := ianaindex.IANA.Encoding(name)
	if err != nil || enc == nil {
		return nil, errors.New(ErrUnknownCharset, "unsupported character encoding: "+name)
	}
	return enc, nil
}

// IsUTF8 reports whether enc needs no transcoding for Go strings.
func IsUTF8(enc encoding.Encoding) bool {
	return enc == unicode.UTF8
}

// Encode converts s to enc.
func Encode(enc encoding.Encoding, s string) ([]byte, error) {
	if IsUTF8(enc) {
		return []byte(s), nil
	}
	b, err := enc.NewEncoder().Bytes([]byte(s))
	return b, errors.Wrap(err, "encoding text")
}

// Decode converts b from enc to a Go string.
func Decode(enc encoding.Encoding, b []byte) (string, error) {
	if IsUTF8(enc) {
		return string(b), nil
	}
	out, err := enc.NewDecoder().Bytes(b)
	return string(out), errors.Wrap(err, "decoding text")
}
