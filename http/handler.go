// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

// Package http serves the segment request protocol over HTTP.
package http

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	gateway "github.com/featurebasedb/gateway"
	"github.com/featurebasedb/gateway/bridge"
	"github.com/featurebasedb/gateway/errors"
	"github.com/featurebasedb/gateway/logger"
	"github.com/featurebasedb/gateway/tracing"
)

// HeaderRequestID carries the id the gateway assigns to each request.
const HeaderRequestID = "X-Request-Id"

// RequestParser decodes the headers of a segment request.
type RequestParser interface {
	Parse(headers map[string][]string, rt gateway.RequestType) (*gateway.RequestContext, error)
}

// FragmentService returns the fragments assigned to the segment of a
// request.
type FragmentService interface {
	GetFragmentsForSegment(ctx context.Context, rc *gateway.RequestContext) ([]gateway.Fragment, error)
}

// DataBridge streams rows between connectors and segments.
type DataBridge interface {
	Read(ctx context.Context, rc *gateway.RequestContext, w bridge.RowWriter) (int64, error)
	Write(ctx context.Context, rc *gateway.RequestContext, r bridge.RowReader) (int64, error)
}

// Handler represents an HTTP handler.
type Handler struct {
	Handler http.Handler

	logger logger.Logger

	parser    RequestParser
	fragments FragmentService
	bridge    DataBridge

	metricsEnabled bool
	accessLog      io.Writer

	ln net.Listener

	closeTimeout time.Duration

	server *http.Server
}

// HandlerOption is a functional option type for Handler.
type HandlerOption func(h *Handler) error

func OptHandlerParser(p RequestParser) HandlerOption {
	return func(h *Handler) error {
		h.parser = p
		return nil
	}
}

func OptHandlerFragmentService(s FragmentService) HandlerOption {
	return func(h *Handler) error {
		h.fragments = s
		return nil
	}
}

func OptHandlerBridge(b DataBridge) HandlerOption {
	return func(h *Handler) error {
		h.bridge = b
		return nil
	}
}

func OptHandlerLogger(logger logger.Logger) HandlerOption {
	return func(h *Handler) error {
		h.logger = logger
		return nil
	}
}

// OptHandlerMetrics serves prometheus metrics at /metrics.
func OptHandlerMetrics(enabled bool) HandlerOption {
	return func(h *Handler) error {
		h.metricsEnabled = enabled
		return nil
	}
}

// OptHandlerAccessLog writes a line per request to w in Apache Common Log
// Format.
func OptHandlerAccessLog(w io.Writer) HandlerOption {
	return func(h *Handler) error {
		h.accessLog = w
		return nil
	}
}

func OptHandlerListener(ln net.Listener) HandlerOption {
	return func(h *Handler) error {
		h.ln = ln
		return nil
	}
}

// OptHandlerCloseTimeout controls how long to wait for the http Server to
// shutdown cleanly before forcibly destroying it. Default is 30 seconds.
func OptHandlerCloseTimeout(d time.Duration) HandlerOption {
	return func(h *Handler) error {
		h.closeTimeout = d
		return nil
	}
}

// NewHandler returns a new instance of Handler with a default logger.
func NewHandler(opts ...HandlerOption) (*Handler, error) {
	handler := &Handler{
		logger:       logger.NopLogger,
		closeTimeout: time.Second * 30,
	}
	for _, opt := range opts {
		if err := opt(handler); err != nil {
			return nil, errors.Wrap(err, "applying option")
		}
	}

	if handler.parser == nil {
		return nil, errors.New(gateway.ErrConfiguration, "must pass OptHandlerParser")
	}
	if handler.fragments == nil {
		return nil, errors.New(gateway.ErrConfiguration, "must pass OptHandlerFragmentService")
	}
	if handler.bridge == nil {
		return nil, errors.New(gateway.ErrConfiguration, "must pass OptHandlerBridge")
	}

	handler.Handler = newRouter(handler)
	if handler.accessLog != nil {
		handler.Handler = handlers.LoggingHandler(handler.accessLog, handler.Handler)
	}
	handler.server = &http.Server{Handler: handler}
	return handler, nil
}

// Serve accepts connections on the listener until Close is called.
func (h *Handler) Serve() error {
	if h.ln == nil {
		return errors.New(gateway.ErrConfiguration, "must pass OptHandlerListener")
	}
	err := h.server.Serve(h.ln)
	if err != nil && err != http.ErrServerClosed {
		h.logger.Errorf("HTTP handler terminated with error: %s", err)
		return errors.Wrap(err, "serve http")
	}
	return nil
}

// Close tries to cleanly shutdown the HTTP server, and failing that, after a
// timeout, calls Server.Close.
func (h *Handler) Close() error {
	deadlineCtx, cancelFunc := context.WithDeadline(context.Background(), time.Now().Add(h.closeTimeout))
	defer cancelFunc()
	err := h.server.Shutdown(deadlineCtx)
	if err != nil {
		err = h.server.Close()
	}
	return errors.Wrap(err, "shutdown/close http server")
}

// newRouter creates a new mux http router.
func newRouter(handler *Handler) *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc("/pxf/fragments", handler.handleGetFragments).Methods("GET", "POST").Name("GetFragments")
	router.HandleFunc("/pxf/read", handler.handleRead).Methods("GET", "POST").Name("Read")
	router.HandleFunc("/pxf/write", handler.handlePostWrite).Methods("POST").Name("Write")
	router.HandleFunc("/pxf/health", handler.handleGetHealth).Methods("GET").Name("GetHealth")
	router.HandleFunc("/version", handler.handleGetVersion).Methods("GET").Name("GetVersion")
	if handler.metricsEnabled {
		router.Handle("/metrics", promhttp.Handler()).Methods("GET").Name("GetMetrics")
	}

	router.Use(handler.assignRequestID)
	router.Use(handler.extractTracing)
	router.Use(handler.collectStats)
	return router
}

// ServeHTTP handles an HTTP request.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	defer func() {
		if err := recover(); err != nil {
			if err == http.ErrAbortHandler {
				panic(err)
			}
			w.WriteHeader(http.StatusInternalServerError)
			stack := debug.Stack()
			msg := "PANIC: %s\n%s"
			h.logger.Errorf(msg, err, stack)
			fmt.Fprintf(w, msg, err, stack)
		}
	}()

	h.Handler.ServeHTTP(w, r)
}

type contextKey int

const contextKeyRequestID contextKey = iota

// RequestID returns the id assigned to the request of ctx.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(contextKeyRequestID).(string)
	return id
}

func (h *Handler) assignRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(HeaderRequestID)
		if id == "" {
			id = uuid.New().String()
		}
		w.Header().Set(HeaderRequestID, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), contextKeyRequestID, id)))
	})
}

func (h *Handler) extractTracing(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		span, ctx := tracing.GlobalTracer.ExtractHTTPHeaders(r)
		defer span.Finish()

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (h *Handler) collectStats(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rw := &responseWriter{ResponseWriter: w}
		defer func() {
			route := "unknown"
			if cur := mux.CurrentRoute(r); cur != nil {
				route = cur.GetName()
			}
			gateway.CounterHTTPRequests.WithLabelValues(route, strconv.Itoa(rw.Status())).Inc()
		}()
		next.ServeHTTP(rw, r)
	})
}

// responseWriter records whether the response is committed, that is whether
// any part of it was sent.
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (w *responseWriter) WriteHeader(code int) {
	if w.status == 0 {
		w.status = code
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *responseWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	return w.ResponseWriter.Write(b)
}

func (w *responseWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		if w.status == 0 {
			w.status = http.StatusOK
		}
		f.Flush()
	}
}

// Committed reports whether the status line was sent.
func (w *responseWriter) Committed() bool { return w.status != 0 }

// Status returns the status sent, or 200 if nothing was sent yet.
func (w *responseWriter) Status() int {
	if w.status == 0 {
		return http.StatusOK
	}
	return w.status
}

// committed reports whether the response behind w was sent in part.
func committed(w http.ResponseWriter) bool {
	if c, ok := w.(interface{ Committed() bool }); ok {
		return c.Committed()
	}
	return false
}

// writeError reports err to the segment. A response which is not committed
// gets a server error carrying err as JSON. A committed response is part of
// a stream the segment is decoding, so it is aborted instead of altered.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	log := h.requestLogger(r)
	if committed(w) {
		log.Errorf("aborting response of %s after partial data: %v", r.URL.Path, err)
		panic(http.ErrAbortHandler)
	}
	log.Errorf("%s failed: %v", r.URL.Path, err)
	if hint := errors.Hint(err); hint != "" {
		log.Infof("hint: %s", hint)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusInternalServerError)
	if _, werr := io.WriteString(w, errors.MarshalJSON(err)+"\n"); werr != nil {
		log.Errorf("writing error response: %v", werr)
	}
}

func (h *Handler) requestLogger(r *http.Request) logger.Logger {
	if id := RequestID(r.Context()); id != "" {
		return h.logger.WithPrefix("[" + id + "] ")
	}
	return h.logger
}

func (h *Handler) parse(r *http.Request, rt gateway.RequestType) (*gateway.RequestContext, error) {
	return h.parser.Parse(r.Header, rt)
}

// FragmentJSON is a fragment as returned by /pxf/fragments.
type FragmentJSON struct {
	SourceName string `json:"sourceName"`
	Index      int    `json:"index"`
	Metadata   string `json:"metadata,omitempty"`
	Profile    string `json:"profile,omitempty"`
}

// FragmentsResponse is the body returned by /pxf/fragments.
type FragmentsResponse struct {
	Fragments []FragmentJSON `json:"PXFFragments"`
}

func (h *Handler) handleGetFragments(w http.ResponseWriter, r *http.Request) {
	rc, err := h.parse(r, gateway.FragmenterRequest)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	fragments, err := h.fragments.GetFragmentsForSegment(r.Context(), rc)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	resp := FragmentsResponse{Fragments: make([]FragmentJSON, len(fragments))}
	for i, f := range fragments {
		resp.Fragments[i] = FragmentJSON{
			SourceName: f.SourceName,
			Index:      f.Index,
			Metadata:   base64.StdEncoding.EncodeToString(f.Metadata),
			Profile:    f.Profile,
		}
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.requestLogger(r).Errorf("writing fragments: %v", err)
	}
}

func (h *Handler) handleRead(w http.ResponseWriter, r *http.Request) {
	rc, err := h.parse(r, gateway.ReadBridge)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	rw, err := bridge.NewRowWriter(rc, w)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	n, err := h.bridge.Read(r.Context(), rc, rw)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.requestLogger(r).Debugf("segment %d of %s: sent %d records", rc.SegmentID, rc.TransactionID, n)
}

func (h *Handler) handlePostWrite(w http.ResponseWriter, r *http.Request) {
	rc, err := h.parse(r, gateway.WriteBridge)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	rr, err := bridge.NewRowReader(rc, r.Body)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	n, err := h.bridge.Write(r.Context(), rc, rr)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	fmt.Fprintf(w, "wrote %d records to %s\n", n, rc.DataSource)
}

func (h *Handler) handleGetHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if _, err := io.WriteString(w, `{"status":"UP"}`+"\n"); err != nil {
		h.logger.Errorf("writing health: %v", err)
	}
}

func (h *Handler) handleGetVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	err := json.NewEncoder(w).Encode(struct {
		Version    string `json:"version"`
		APIVersion string `json:"apiVersion"`
		Info       string `json:"info"`
	}{
		Version:    gateway.Version,
		APIVersion: gateway.APIVersion,
		Info:       gateway.VersionInfo(),
	})
	if err != nil {
		h.logger.Errorf("writing version: %v", err)
	}
}
