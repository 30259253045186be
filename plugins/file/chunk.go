package file

import (
	"bufio"
	"io"
)

// DefaultBufferSize is the read buffer of a ChunkReader.
const DefaultBufferSize = 64 * 1024

// ChunkReader reads lines of at most a given length from a stream.
type ChunkReader struct {
	r   *bufio.Reader
	c   io.Closer
	pos int64
}

// NewChunkReader returns a ChunkReader over rc, positioned at offset pos.
func NewChunkReader(rc io.ReadCloser, pos int64) *ChunkReader {
	return &ChunkReader{r: bufio.NewReaderSize(rc, DefaultBufferSize), c: rc, pos: pos}
}

// Pos returns the offset of the next byte read.
func (cr *ChunkReader) Pos() int64 { return cr.pos }

// ReadLine returns the next line including its newline. A line longer than
// max is returned in pieces of max bytes. At the end of the stream it
// returns the final unterminated line, then io.EOF.
func (cr *ChunkReader) ReadLine(max int) ([]byte, error) {
	var line []byte
	for len(line) < max {
		b, err := cr.r.ReadByte()
		if err == io.EOF {
			if len(line) == 0 {
				return nil, io.EOF
			}
			return line, nil
		} else if err != nil {
			return nil, err
		}
		cr.pos++
		line = append(line, b)
		if b == '\n' {
			break
		}
	}
	return line, nil
}

// ReadChunk returns the next max bytes, or whatever remains of the stream,
// without regard for line boundaries.
func (cr *ChunkReader) ReadChunk(max int) ([]byte, error) {
	buf := make([]byte, max)
	n, err := io.ReadFull(cr.r, buf)
	cr.pos += int64(n)
	if err == io.ErrUnexpectedEOF {
		err = nil
	}
	if n == 0 && err == nil {
		err = io.EOF
	}
	return buf[:n], err
}

func (cr *ChunkReader) Close() error {
	return cr.c.Close()
}

// LineRange reads the lines which start within a Chunk of a stream.
type LineRange struct {
	chunk Chunk
	r     *ChunkReader
}

// NewLineRange returns a LineRange over body, which must be positioned at
// the start of c. The line in progress at the start of a chunk belongs to
// the previous chunk and is skipped.
func NewLineRange(body io.ReadCloser, c Chunk) (*LineRange, error) {
	lr := &LineRange{chunk: c, r: NewChunkReader(body, c.Start)}
	if c.Start > 0 {
		if _, err := lr.r.ReadLine(MaxLineLength); err != nil && err != io.EOF {
			body.Close()
			return nil, err
		}
	}
	return lr, nil
}

// Next returns the offset of the next line and the line without its
// terminator. Lines starting at or before the end of the chunk are read.
func (lr *LineRange) Next() (int64, string, error) {
	pos := lr.r.Pos()
	if pos > lr.chunk.Start+lr.chunk.Length {
		return pos, "", io.EOF
	}
	line, err := lr.r.ReadLine(MaxLineLength)
	if err != nil {
		return pos, "", err
	}
	n := len(line)
	if n > 0 && line[n-1] == '\n' {
		n--
		if n > 0 && line[n-1] == '\r' {
			n--
		}
	}
	return pos, string(line[:n]), nil
}

func (lr *LineRange) Close() error {
	return lr.r.Close()
}
