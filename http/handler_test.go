package http_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	gateway "github.com/featurebasedb/gateway"
	"github.com/featurebasedb/gateway/bridge"
	"github.com/featurebasedb/gateway/fragmenter"
	gwhttp "github.com/featurebasedb/gateway/http"
	"github.com/featurebasedb/gateway/logger"
	"github.com/featurebasedb/gateway/plugins/demo"
	"github.com/featurebasedb/gateway/profile"
	"github.com/featurebasedb/gateway/request"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type harness struct {
	handler *gwhttp.Handler
	parser  *request.Parser
	service *fragmenter.Service
	bridge  *bridge.Bridge
}

func newHarness(t *testing.T, opts ...func(*harness) gwhttp.DataBridge) *harness {
	t.Helper()
	log := logger.NewLogfLogger(t)

	profiles, err := profile.NewRegistry()
	require.NoError(t, err)
	f := gateway.NewPluginFactory()
	demo.Register(f, log)

	h := &harness{parser: request.NewParser(profiles, f, log)}
	h.service = fragmenter.NewService(fragmenter.NewCache(0), f, nil, log)
	h.bridge = bridge.New(f, h.service, nil, log)

	var b gwhttp.DataBridge = h.bridge
	for _, opt := range opts {
		b = opt(h)
	}
	h.handler, err = gwhttp.NewHandler(
		gwhttp.OptHandlerParser(h.parser),
		gwhttp.OptHandlerFragmentService(h.service),
		gwhttp.OptHandlerBridge(b),
		gwhttp.OptHandlerLogger(log),
	)
	require.NoError(t, err)
	return h
}

// segmentRequest returns a request carrying the headers a segment sends for
// the demo:text profile.
func segmentRequest(method, path string, segment, total int, body io.Reader) *http.Request {
	r := httptest.NewRequest(method, path, body)
	for k, v := range map[string]string{
		"PXF-API-VERSION": gateway.APIVersion,
		"SEGMENT-ID":      fmt.Sprint(segment),
		"SEGMENT-COUNT":   fmt.Sprint(total),
		"SESSION-ID":      "7",
		"COMMAND-COUNT":   "1",
		"XID":             "xid-42",
		"USER":            "alex",
		"URL-HOST":        "localhost",
		"URL-PORT":        "5888",
		"DATA-DIR":        "/tmp/dummy",
		"SCHEMA-NAME":     "public",
		"TABLE-NAME":      "dummy",
		"HAS-FILTER":      "0",
		"FORMAT":          "TEXT",
		"ATTRS":           "0",
		"OPTIONS-PROFILE": "demo:text",
	} {
		r.Header.Set(request.Prefix+k, v)
	}
	return r
}

func TestHandler_Fragments(t *testing.T) {
	h := newHarness(t)

	w := httptest.NewRecorder()
	h.handler.ServeHTTP(w, segmentRequest("GET", "/pxf/fragments", 1, 2, nil))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var resp gwhttp.FragmentsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	enc := base64.StdEncoding.EncodeToString
	want := []gwhttp.FragmentJSON{
		{SourceName: "/tmp/dummy", Index: 1, Metadata: enc([]byte("fragment2"))},
	}
	if diff := cmp.Diff(want, resp.Fragments); diff != "" {
		t.Fatalf("unexpected fragments (-want +got):\n%s", diff)
	}
}

func TestHandler_Read(t *testing.T) {
	h := newHarness(t)

	w := httptest.NewRecorder()
	h.handler.ServeHTTP(w, segmentRequest("GET", "/pxf/read", 0, 2, nil))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "application/octet-stream", w.Header().Get("Content-Type"))
	assert.Equal(t,
		"fragment1 row1,value1\nfragment1 row2,value1\nfragment3 row1,value1\nfragment3 row2,value1\n",
		w.Body.String())
}

func TestHandler_ReadFragmentMetadata(t *testing.T) {
	h := newHarness(t)

	r := segmentRequest("GET", "/pxf/read", 0, 1, nil)
	r.Header.Set(request.Prefix+"FRAGMENT-METADATA", base64.StdEncoding.EncodeToString([]byte("fragment7")))
	w := httptest.NewRecorder()
	h.handler.ServeHTTP(w, r)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "fragment7 row1,value1\nfragment7 row2,value1\n", w.Body.String())
}

func TestHandler_Write(t *testing.T) {
	h := newHarness(t)

	w := httptest.NewRecorder()
	h.handler.ServeHTTP(w, segmentRequest("POST", "/pxf/write", 0, 1, strings.NewReader("a\nb\nc\n")))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "wrote 3 records to /tmp/dummy\n", w.Body.String())
}

func TestHandler_ParseError(t *testing.T) {
	h := newHarness(t)

	r := segmentRequest("GET", "/pxf/read", 0, 1, nil)
	r.Header.Del(request.Prefix + "USER")
	w := httptest.NewRecorder()
	h.handler.ServeHTTP(w, r)
	require.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body), w.Body.String())
	assert.Contains(t, fmt.Sprint(body), "Property USER has no value in the current request")
	assert.Contains(t, fmt.Sprint(body), string(gateway.ErrMissingProperty))
}

func TestHandler_VersionMismatch(t *testing.T) {
	h := newHarness(t)

	r := segmentRequest("GET", "/pxf/fragments", 0, 1, nil)
	r.Header.Set(request.Prefix+"PXF-API-VERSION", "15")
	w := httptest.NewRecorder()
	h.handler.ServeHTTP(w, r)
	require.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "API version mismatch")
}

// abortingBridge writes a row and then fails, as a connector which breaks
// in the middle of a stream does.
type abortingBridge struct {
	gwhttp.DataBridge
}

func (b abortingBridge) Read(ctx context.Context, rc *gateway.RequestContext, w bridge.RowWriter) (int64, error) {
	if err := w.WriteFields([]gateway.OneField{{Type: gateway.Text, Val: "partial"}}); err != nil {
		return 0, err
	}
	if err := w.Flush(); err != nil {
		return 0, err
	}
	return 1, gateway.NewErrConnector("reading fragment", fmt.Errorf("connection reset"))
}

func TestHandler_ReadAbortsCommittedResponse(t *testing.T) {
	h := newHarness(t, func(h *harness) gwhttp.DataBridge { return abortingBridge{h.bridge} })

	w := httptest.NewRecorder()
	assert.PanicsWithValue(t, http.ErrAbortHandler, func() {
		h.handler.ServeHTTP(w, segmentRequest("GET", "/pxf/read", 0, 1, nil))
	})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "partial\n", w.Body.String())
}

// failingBridge fails before any row is sent.
type failingBridge struct {
	gwhttp.DataBridge
}

func (failingBridge) Read(ctx context.Context, rc *gateway.RequestContext, w bridge.RowWriter) (int64, error) {
	return 0, gateway.NewErrAuthExpired(fmt.Errorf("token expired"))
}

func TestHandler_ReadErrorBeforeData(t *testing.T) {
	h := newHarness(t, func(h *harness) gwhttp.DataBridge { return failingBridge{h.bridge} })

	w := httptest.NewRecorder()
	h.handler.ServeHTTP(w, segmentRequest("GET", "/pxf/read", 0, 1, nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "token expired")
}

func TestHandler_Health(t *testing.T) {
	h := newHarness(t)

	w := httptest.NewRecorder()
	h.handler.ServeHTTP(w, httptest.NewRequest("GET", "/pxf/health", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"UP"}`, w.Body.String())
	assert.NotEmpty(t, w.Header().Get(gwhttp.HeaderRequestID))
}

func TestHandler_Version(t *testing.T) {
	h := newHarness(t)

	r := httptest.NewRequest("GET", "/version", nil)
	r.Header.Set(gwhttp.HeaderRequestID, "req-1")
	w := httptest.NewRecorder()
	h.handler.ServeHTTP(w, r)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "req-1", w.Header().Get(gwhttp.HeaderRequestID))

	var v struct {
		Version    string `json:"version"`
		APIVersion string `json:"apiVersion"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v))
	assert.Equal(t, gateway.Version, v.Version)
	assert.Equal(t, gateway.APIVersion, v.APIVersion)
}

func TestHandler_MethodNotAllowed(t *testing.T) {
	h := newHarness(t)

	w := httptest.NewRecorder()
	h.handler.ServeHTTP(w, segmentRequest("GET", "/pxf/write", 0, 1, nil))
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestNewHandler_RequiresComponents(t *testing.T) {
	_, err := gwhttp.NewHandler()
	assert.Error(t, err)
}
