// Package file is a connector of text files on a local or mounted
// filesystem. Files are split into fixed size chunks, one fragment each;
// a line belongs to the chunk in which it starts.
package file

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	gateway "github.com/featurebasedb/gateway"
	"github.com/featurebasedb/gateway/errors"
	"github.com/featurebasedb/gateway/plugins/text"
)

// Plugin names.
const (
	FragmenterName   = "file.Fragmenter"
	LineAccessorName = "file.LineAccessor"
)

const (
	// ChunkSizeProperty sets the fragment size in bytes.
	ChunkSizeProperty = "file.chunk.size"
	ChunkSizeOption   = "CHUNK_SIZE"

	DefaultChunkSize = 64 << 20

	// MaxLineLength bounds the lines read by the line accessor.
	MaxLineLength = 1 << 30

	// UnboundedLength is the chunk length of requests without fragment
	// metadata.
	UnboundedLength = math.MaxInt64 / 2
)

// Register adds the file plugins to f. Paths of requests are resolved
// below baseDir.
func Register(f *gateway.PluginFactory, baseDir string) {
	f.RegisterFragmenter(FragmenterName, func(rc *gateway.RequestContext) (gateway.Fragmenter, error) {
		size, err := ChunkSize(rc)
		if err != nil {
			return nil, err
		}
		return &Fragmenter{BaseDir: baseDir, Path: rc.DataSource, ChunkSize: size}, nil
	})
	f.RegisterAccessor(LineAccessorName, func(rc *gateway.RequestContext) (gateway.Accessor, error) {
		return NewLineAccessor(baseDir, rc)
	})
	text.Register(f)
}

// ChunkSize returns the fragment size set by the request, or
// DefaultChunkSize.
func ChunkSize(rc *gateway.RequestContext) (int64, error) {
	v, ok := rc.AdditionalConfigProps[ChunkSizeProperty]
	if !ok {
		v, ok = rc.LookupOption(ChunkSizeOption)
	}
	if !ok {
		return DefaultChunkSize, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, gateway.NewErrInvalidValue(ChunkSizeOption, v, "an integer")
	}
	if n < 1 {
		return 0, gateway.NewErrParameterRange(ChunkSizeOption, int(n), 1, 1<<31-1)
	}
	return n, nil
}

// resolve joins p to base without letting p escape base.
func resolve(base, p string) string {
	return filepath.Join(base, filepath.Clean("/"+p))
}

// Chunk is the fragment metadata of a byte range of a file.
type Chunk struct {
	Start, Length int64
}

func (c Chunk) MarshalBinary() []byte {
	b := make([]byte, 16)
	binary.BigEndian.PutUint64(b[:8], uint64(c.Start))
	binary.BigEndian.PutUint64(b[8:], uint64(c.Length))
	return b
}

func (c *Chunk) UnmarshalBinary(b []byte) error {
	if len(b) != 16 {
		return gateway.NewErrCodec("chunk metadata has %d bytes, expected 16", len(b))
	}
	c.Start = int64(binary.BigEndian.Uint64(b[:8]))
	c.Length = int64(binary.BigEndian.Uint64(b[8:]))
	return nil
}

// Fragmenter splits the files at Path, a file or a directory, into
// chunks. Hidden files and files starting with an underscore are skipped.
type Fragmenter struct {
	BaseDir   string
	Path      string
	ChunkSize int64
}

func (f *Fragmenter) GetFragments(ctx context.Context) ([]gateway.Fragment, error) {
	root := resolve(f.BaseDir, f.Path)
	fi, err := os.Stat(root)
	if err != nil {
		return nil, errors.Wrap(err, "listing files")
	}

	var names []string
	if fi.IsDir() {
		entries, err := os.ReadDir(root)
		if err != nil {
			return nil, errors.Wrap(err, "listing files")
		}
		for _, e := range entries {
			if e.IsDir() || strings.HasPrefix(e.Name(), ".") || strings.HasPrefix(e.Name(), "_") {
				continue
			}
			names = append(names, filepath.Join(f.Path, e.Name()))
		}
		sort.Strings(names)
	} else {
		names = []string{f.Path}
	}

	var fragments []gateway.Fragment
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		fi, err := os.Stat(resolve(f.BaseDir, name))
		if err != nil {
			return nil, errors.Wrap(err, "listing files")
		}
		fragments = append(fragments, Split(name, fi.Size(), f.ChunkSize)...)
	}
	return fragments, nil
}

// Split returns the fragments of a file of size bytes. An empty file has
// one empty fragment.
func Split(name string, size, chunkSize int64) []gateway.Fragment {
	var fragments []gateway.Fragment
	for start := int64(0); start < size || start == 0; start += chunkSize {
		length := chunkSize
		if start+length > size {
			length = size - start
		}
		fragments = append(fragments, gateway.Fragment{
			SourceName: name,
			Metadata:   Chunk{Start: start, Length: length}.MarshalBinary(),
		})
		if size == 0 {
			break
		}
	}
	return fragments
}

// LineAccessor reads the lines which start within a chunk of a file, and
// writes lines to a new file of a directory.
type LineAccessor struct {
	baseDir string
	rc      *gateway.RequestContext

	chunk Chunk
	lines *LineRange

	file   *os.File
	writer *bufio.Writer
}

// NewLineAccessor returns the accessor for the fragment of rc.
func NewLineAccessor(baseDir string, rc *gateway.RequestContext) (*LineAccessor, error) {
	a := &LineAccessor{baseDir: baseDir, rc: rc, chunk: Chunk{Length: UnboundedLength}}
	if md := rc.FragmentMetadata(); md != nil {
		if err := a.chunk.UnmarshalBinary(md); err != nil {
			return nil, err
		}
	}
	return a, nil
}

func (a *LineAccessor) OpenForRead(ctx context.Context) error {
	f, err := os.Open(resolve(a.baseDir, a.rc.DataSource))
	if err != nil {
		return err
	}
	if _, err := f.Seek(a.chunk.Start, io.SeekStart); err != nil {
		f.Close()
		return err
	}
	a.lines, err = NewLineRange(f, a.chunk)
	return err
}

// ReadNext returns the next line of the chunk without its terminator.
func (a *LineAccessor) ReadNext(ctx context.Context) (gateway.OneRow, error) {
	pos, line, err := a.lines.Next()
	if err != nil {
		return gateway.OneRow{}, err
	}
	return gateway.OneRow{Key: pos, Data: line}, nil
}

func (a *LineAccessor) CloseForRead() error {
	if a.lines == nil {
		return nil
	}
	return a.lines.Close()
}

// OpenForWrite creates the file <xid>_<segment> in the directory named by
// the request.
func (a *LineAccessor) OpenForWrite(ctx context.Context) error {
	dir := resolve(a.baseDir, a.rc.DataSource)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	name := filepath.Join(dir, fmt.Sprintf("%s_%d", a.rc.TransactionID, a.rc.SegmentID))
	f, err := os.OpenFile(name, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	a.file = f
	a.writer = bufio.NewWriter(f)
	return nil
}

func (a *LineAccessor) WriteNext(ctx context.Context, row gateway.OneRow) error {
	s, ok := row.Data.(string)
	if !ok {
		return gateway.NewErrCodec("unexpected record of type '%T'", row.Data)
	}
	if _, err := a.writer.WriteString(s); err != nil {
		return err
	}
	if !strings.HasSuffix(s, "\n") {
		return a.writer.WriteByte('\n')
	}
	return nil
}

func (a *LineAccessor) CloseForWrite() error {
	if a.file == nil {
		return nil
	}
	err := a.writer.Flush()
	if cerr := a.file.Close(); err == nil {
		err = cerr
	}
	return err
}
