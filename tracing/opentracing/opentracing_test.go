package opentracing_test

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/featurebasedb/gateway"
	"github.com/featurebasedb/gateway/tracing"
	gwtracing "github.com/featurebasedb/gateway/tracing/opentracing"
	"github.com/opentracing/opentracing-go"
	"github.com/opentracing/opentracing-go/ext"
	"github.com/opentracing/opentracing-go/mocktracer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTracer_ChildSpans(t *testing.T) {
	mt := mocktracer.New()
	tr := gwtracing.NewTracer(mt)

	req := httptest.NewRequest("GET", "/pxf/fragments", nil)
	root, ctx := tr.ExtractHTTPHeaders(req)
	child, _ := tr.StartSpanFromContext(ctx, "Fragmenter.GetFragmentsForSegment")
	child.Finish()
	root.Finish()

	spans := mt.FinishedSpans()
	require.Len(t, spans, 2)
	require.Equal(t, "Fragmenter.GetFragmentsForSegment", spans[0].OperationName)
	require.Equal(t, "HTTP /pxf/fragments", spans[1].OperationName)
	require.Equal(t, spans[1].SpanContext.SpanID, spans[0].ParentID)
	require.Equal(t, "GET", spans[1].Tag("http.method"))
}

func TestTracer_ExtractPropagated(t *testing.T) {
	mt := mocktracer.New()
	tr := gwtracing.NewTracer(mt)

	upstream := mt.StartSpan("segment")
	req := httptest.NewRequest("POST", "/pxf/read", nil)
	require.NoError(t, mt.Inject(upstream.Context(), opentracing.HTTPHeaders, opentracing.HTTPHeadersCarrier(req.Header)))

	span, _ := tr.ExtractHTTPHeaders(req)
	span.Finish()

	got := mt.FinishedSpans()[0]
	assert.Equal(t, upstream.Context().(mocktracer.MockSpanContext).SpanID, got.ParentID)
	assert.Equal(t, ext.SpanKindRPCServerEnum, got.Tag("span.kind"))
}

func TestTracer_NoParent(t *testing.T) {
	mt := mocktracer.New()
	tr := gwtracing.NewTracer(mt)

	span, ctx := tr.StartSpanFromContext(context.Background(), "Bridge.Read")
	require.NotNil(t, opentracing.SpanFromContext(ctx))
	span.Finish()
	require.Equal(t, 0, mt.FinishedSpans()[0].ParentID)
}

func TestStartRequestSpan(t *testing.T) {
	mt := mocktracer.New()
	prev := tracing.GlobalTracer
	tracing.GlobalTracer = gwtracing.NewTracer(mt)
	defer func() { tracing.GlobalTracer = prev }()

	rc := &gateway.RequestContext{
		TransactionID: "xid-9",
		SegmentID:     2,
		TotalSegments: 3,
		Profile:       "demo:text",
		DataSource:    "/tmp/dummy",
	}
	span, _ := tracing.StartRequestSpan(context.Background(), "Bridge.Read", rc)
	span.SetError(gateway.NewErrConnector("boom", nil))
	span.SetError(nil)
	span.Finish()

	got := mt.FinishedSpans()[0]
	assert.Equal(t, "xid-9", got.Tag(tracing.TagTransactionID))
	assert.Equal(t, 2, got.Tag(tracing.TagSegmentID))
	assert.Equal(t, 3, got.Tag(tracing.TagTotalSegments))
	assert.Equal(t, "demo:text", got.Tag(tracing.TagProfile))
	assert.Equal(t, "/tmp/dummy", got.Tag(tracing.TagDataSource))
	assert.Equal(t, true, got.Tag("error"))
	require.Len(t, got.Logs(), 1)
}

func TestNopTracer(t *testing.T) {
	span, ctx := tracing.NopTracer().StartSpanFromContext(context.Background(), "noop")
	span.SetTag("k", "v")
	span.SetError(nil)
	span.LogKV("k", 1)
	span.Finish()
	assert.Equal(t, context.Background(), ctx)
}
