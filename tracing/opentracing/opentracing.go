// Package opentracing adapts an OpenTracing tracer, such as the Jaeger client
// installed by the server, to tracing.Tracer.
package opentracing

import (
	"context"
	"net/http"

	"github.com/featurebasedb/gateway/tracing"
	"github.com/opentracing/opentracing-go"
	"github.com/opentracing/opentracing-go/ext"
	"github.com/opentracing/opentracing-go/log"
)

// Ensure type implements interface.
var _ tracing.Tracer = (*Tracer)(nil)

// Tracer represents a wrapper for OpenTracing that implements tracing.Tracer.
type Tracer struct {
	tracer opentracing.Tracer
}

// NewTracer returns a new instance of Tracer.
func NewTracer(tracer opentracing.Tracer) *Tracer {
	return &Tracer{tracer: tracer}
}

// StartSpanFromContext returns a new child span and context from a given context.
func (t *Tracer) StartSpanFromContext(ctx context.Context, operationName string) (tracing.Span, context.Context) {
	var opts []opentracing.StartSpanOption
	if parent := opentracing.SpanFromContext(ctx); parent != nil {
		opts = append(opts, opentracing.ChildOf(parent.Context()))
	}
	s := t.tracer.StartSpan(operationName, opts...)
	return span{s}, opentracing.ContextWithSpan(ctx, s)
}

// ExtractHTTPHeaders continues the trace a segment propagated in the request
// headers, if any. The span is named after the request path so fragment, read
// and write calls from the same segment are distinguishable.
func (t *Tracer) ExtractHTTPHeaders(r *http.Request) (tracing.Span, context.Context) {
	wireContext, _ := t.tracer.Extract(
		opentracing.HTTPHeaders,
		opentracing.HTTPHeadersCarrier(r.Header),
	)

	s := t.tracer.StartSpan("HTTP "+r.URL.Path, ext.RPCServerOption(wireContext))
	ext.HTTPMethod.Set(s, r.Method)
	ext.HTTPUrl.Set(s, r.URL.String())
	return span{s}, opentracing.ContextWithSpan(r.Context(), s)
}

// span narrows opentracing.Span to tracing.Span.
type span struct {
	opentracing.Span
}

func (s span) SetTag(key string, value interface{}) {
	s.Span.SetTag(key, value)
}

func (s span) SetError(err error) {
	if err == nil {
		return
	}
	ext.Error.Set(s.Span, true)
	s.Span.LogFields(log.Error(err))
}
