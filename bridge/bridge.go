// Package bridge moves rows between connectors and the database engine.
package bridge

import (
	"context"
	"io"

	gateway "github.com/featurebasedb/gateway"
	"github.com/featurebasedb/gateway/errors"
	"github.com/featurebasedb/gateway/logger"
	"github.com/featurebasedb/gateway/tracing"
	"github.com/featurebasedb/gateway/wireprotocol"
)

// Plugins instantiates the data path plugins named in a request.
type Plugins interface {
	Accessor(rc *gateway.RequestContext) (gateway.Accessor, error)
	Resolver(rc *gateway.RequestContext) (gateway.Resolver, error)
}

// FragmentSource returns the fragments a segment reads.
type FragmentSource interface {
	GetFragmentsForSegment(ctx context.Context, rc *gateway.RequestContext) ([]gateway.Fragment, error)
}

// RowWriter writes rows in the output format of a request.
type RowWriter interface {
	WriteFields(fields []gateway.OneField) error
	Flush() error
}

// RowReader reads rows sent by the database engine. It returns io.EOF at
// the end of the stream.
type RowReader interface {
	ReadFields() ([]gateway.OneField, error)
}

// NewRowWriter returns the writer for the output format of rc.
func NewRowWriter(rc *gateway.RequestContext, w io.Writer) (RowWriter, error) {
	switch rc.OutputFormat {
	case gateway.OutputGPDBWritable:
		c, err := wireprotocol.NewCodec(rc)
		if err != nil {
			return nil, err
		}
		return c.NewWriter(w), nil
	case gateway.OutputText:
		opts, err := wireprotocol.TextOptionsOf(rc)
		if err != nil {
			return nil, err
		}
		return wireprotocol.NewTextWriter(w, opts), nil
	default:
		return nil, gateway.NewErrUnsupportedType("output format", rc.OutputFormat.String())
	}
}

// NewRowReader returns the reader for the format of the rows rc sends.
func NewRowReader(rc *gateway.RequestContext, r io.Reader) (RowReader, error) {
	switch rc.OutputFormat {
	case gateway.OutputGPDBWritable:
		c, err := wireprotocol.NewCodec(rc)
		if err != nil {
			return nil, err
		}
		return c.NewReader(r), nil
	case gateway.OutputText:
		opts, err := wireprotocol.TextOptionsOf(rc)
		if err != nil {
			return nil, err
		}
		return wireprotocol.NewLineReader(r, opts), nil
	default:
		return nil, gateway.NewErrUnsupportedType("output format", rc.OutputFormat.String())
	}
}

// Bridge streams rows through the accessor and resolver of a request.
type Bridge struct {
	plugins        Plugins
	fragments      FragmentSource
	failureHandler gateway.FailureHandler
	logger         logger.Logger
}

// New returns a Bridge. fragments may be nil if only the write path is
// used.
func New(plugins Plugins, fragments FragmentSource, fh gateway.FailureHandler, log logger.Logger) *Bridge {
	if log == nil {
		log = logger.NopLogger
	}
	if fh == nil {
		fh = &gateway.RetryingFailureHandler{Logger: log}
	}
	return &Bridge{
		plugins:        plugins,
		fragments:      fragments,
		failureHandler: fh,
		logger:         log,
	}
}

// Read writes the rows of every fragment assigned to the segment of rc to
// w and returns the number of rows written. A request which carries
// fragment metadata reads only that fragment.
func (b *Bridge) Read(ctx context.Context, rc *gateway.RequestContext, w RowWriter) (n int64, err error) {
	span, ctx := tracing.StartRequestSpan(ctx, "Bridge.Read", rc)
	defer span.Finish()
	defer func() {
		gateway.CounterRecordsRead.WithLabelValues(rc.Profile).Add(float64(n))
		span.LogKV("records", n)
		span.SetError(err)
	}()

	var fragments []gateway.Fragment
	if md := rc.FragmentMetadata(); md != nil {
		fragments = []gateway.Fragment{{SourceName: rc.DataSource, Index: rc.FragmentIndex, Metadata: md}}
	} else {
		if b.fragments == nil {
			return 0, gateway.NewErrConfiguration("no fragment source configured for reads")
		}
		if fragments, err = b.fragments.GetFragmentsForSegment(ctx, rc); err != nil {
			return 0, err
		}
	}

	for _, f := range fragments {
		m, err := b.readFragment(ctx, rc.WithFragment(f), w)
		n += m
		if err != nil {
			return n, err
		}
	}
	if err := w.Flush(); err != nil {
		return n, errors.Wrap(err, "flushing rows")
	}
	b.logger.Debugf("segment %d read %d records from %d fragments of %s", rc.SegmentID, n, len(fragments), rc.DataSource)
	return n, nil
}

func (b *Bridge) readFragment(ctx context.Context, rc *gateway.RequestContext, w RowWriter) (n int64, err error) {
	acc, res, err := b.instantiate(rc)
	if err != nil {
		return 0, err
	}

	err = b.failureHandler.Execute(rc, "open for read", func() error {
		return acc.OpenForRead(ctx)
	})
	if err != nil {
		return 0, connectorError("opening "+rc.DataSource, err)
	}
	defer func() {
		if cerr := acc.CloseForRead(); cerr != nil && err == nil {
			err = connectorError("closing "+rc.DataSource, cerr)
		}
	}()

	for {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		row, err := acc.ReadNext(ctx)
		if err == io.EOF {
			return n, nil
		} else if err != nil {
			return n, connectorError("reading "+rc.DataSource, err)
		}
		fields, err := res.GetFields(row)
		if err != nil {
			return n, connectorError("resolving a record of "+rc.DataSource, err)
		}
		if err := w.WriteFields(fields); err != nil {
			return n, errors.Wrap(err, "writing row")
		}
		n++
	}
}

// Write passes every row of r to the accessor of rc and returns the number
// of rows written.
func (b *Bridge) Write(ctx context.Context, rc *gateway.RequestContext, r RowReader) (n int64, err error) {
	span, ctx := tracing.StartRequestSpan(ctx, "Bridge.Write", rc)
	defer span.Finish()
	defer func() {
		gateway.CounterRecordsWritten.WithLabelValues(rc.Profile).Add(float64(n))
		span.LogKV("records", n)
		span.SetError(err)
	}()

	rc = rc.Copy()
	acc, res, err := b.instantiate(rc)
	if err != nil {
		return 0, err
	}

	err = b.failureHandler.Execute(rc, "open for write", func() error {
		return acc.OpenForWrite(ctx)
	})
	if err != nil {
		return 0, connectorError("opening "+rc.DataSource, err)
	}
	defer func() {
		if cerr := acc.CloseForWrite(); cerr != nil && err == nil {
			err = connectorError("closing "+rc.DataSource, cerr)
		}
	}()

	for {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		fields, err := r.ReadFields()
		if err == io.EOF {
			break
		} else if err != nil {
			return n, err
		}
		row, err := res.SetFields(fields)
		if err != nil {
			return n, connectorError("resolving a record for "+rc.DataSource, err)
		}
		if err := acc.WriteNext(ctx, row); err != nil {
			return n, connectorError("writing to "+rc.DataSource, err)
		}
		n++
	}
	b.logger.Debugf("segment %d wrote %d records to %s", rc.SegmentID, n, rc.DataSource)
	return n, nil
}

func (b *Bridge) instantiate(rc *gateway.RequestContext) (gateway.Accessor, gateway.Resolver, error) {
	acc, err := b.plugins.Accessor(rc)
	if err != nil {
		return nil, nil, err
	}
	res, err := b.plugins.Resolver(rc)
	if err != nil {
		return nil, nil, err
	}
	return acc, res, nil
}

// connectorError wraps errors of connectors which carry no code of their
// own.
func connectorError(desc string, err error) error {
	if gateway.IsCoded(err) || err == context.Canceled || err == context.DeadlineExceeded {
		return err
	}
	return gateway.NewErrConnector(desc, err)
}
