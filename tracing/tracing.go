// Package tracing holds the gateway's tracer abstraction. The server installs
// a concrete tracer in GlobalTracer at start-up; until then spans are no-ops.
package tracing

import (
	"context"
	"net/http"

	"github.com/featurebasedb/gateway"
)

// Span tag keys set on every span started for a segment request.
const (
	TagTransactionID = "gateway.xid"
	TagSegmentID     = "gateway.segment"
	TagTotalSegments = "gateway.segments"
	TagProfile       = "gateway.profile"
	TagDataSource    = "gateway.path"
)

// GlobalTracer is a single, global instance of Tracer.
var GlobalTracer Tracer = NopTracer()

// StartSpanFromContext returns a new child span and context from a given
// context using the global tracer.
func StartSpanFromContext(ctx context.Context, operationName string) (Span, context.Context) {
	return GlobalTracer.StartSpanFromContext(ctx, operationName)
}

// StartRequestSpan is StartSpanFromContext for work done on behalf of rc. The
// span is tagged with the transaction, segment and profile of the request so
// spans from different segments of one query can be told apart.
func StartRequestSpan(ctx context.Context, operationName string, rc *gateway.RequestContext) (Span, context.Context) {
	span, ctx := GlobalTracer.StartSpanFromContext(ctx, operationName)
	if rc != nil {
		span.SetTag(TagTransactionID, rc.TransactionID)
		span.SetTag(TagSegmentID, rc.SegmentID)
		span.SetTag(TagTotalSegments, rc.TotalSegments)
		span.SetTag(TagProfile, rc.Profile)
		span.SetTag(TagDataSource, rc.DataSource)
	}
	return span, ctx
}

// Tracer implements a generic distributed tracing interface.
type Tracer interface {
	// Returns a new child span and context from a given context.
	StartSpanFromContext(ctx context.Context, operationName string) (Span, context.Context)

	// Reads the HTTP headers of a segment request to derive incoming context.
	ExtractHTTPHeaders(r *http.Request) (Span, context.Context)
}

// Span represents a single span in a distributed trace.
type Span interface {
	// Sets the end timestamp and finalizes Span state.
	Finish()

	// Adds key/value pairs to the span.
	LogKV(alternatingKeyValues ...interface{})

	// Tags the span. Tags describe the whole span, unlike logged fields.
	SetTag(key string, value interface{})

	// Marks the span as failed and logs err. A nil err is ignored.
	SetError(err error)
}

// NopTracer returns a tracer that doesn't do anything.
func NopTracer() Tracer {
	return &nopTracer{}
}

type nopTracer struct{}

func (t *nopTracer) StartSpanFromContext(ctx context.Context, operationName string) (Span, context.Context) {
	return nopSpan{}, ctx
}

func (t *nopTracer) ExtractHTTPHeaders(r *http.Request) (Span, context.Context) {
	return nopSpan{}, r.Context()
}

type nopSpan struct{}

func (nopSpan) Finish()                    {}
func (nopSpan) LogKV(...interface{})       {}
func (nopSpan) SetTag(string, interface{}) {}
func (nopSpan) SetError(error)             {}
