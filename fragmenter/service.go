// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

// Package fragmenter computes the fragments of a query once per gateway and
// hands each segment its share.
package fragmenter

import (
	"context"
	"strings"
	"time"

	gateway "github.com/featurebasedb/gateway"
	"github.com/featurebasedb/gateway/analyze"
	"github.com/featurebasedb/gateway/logger"
	"github.com/featurebasedb/gateway/tracing"
)

// ActiveSegmentCountOption limits the number of segments which read
// fragments. It defaults to the total segment count.
const ActiveSegmentCountOption = "ACTIVE_SEGMENT_COUNT"

// FragmenterFactory instantiates the fragmenter named in a request.
type FragmenterFactory interface {
	Fragmenter(rc *gateway.RequestContext) (gateway.Fragmenter, error)
}

// Service answers fragment requests from segments.
type Service struct {
	cache          *Cache
	plugins        FragmenterFactory
	failureHandler gateway.FailureHandler
	logger         logger.Logger
}

// NewService returns a Service backed by cache.
func NewService(cache *Cache, plugins FragmenterFactory, fh gateway.FailureHandler, log logger.Logger) *Service {
	if log == nil {
		log = logger.NopLogger
	}
	if fh == nil {
		fh = &gateway.RetryingFailureHandler{Logger: log}
	}
	return &Service{
		cache:          cache,
		plugins:        plugins,
		failureHandler: fh,
		logger:         log,
	}
}

// GetFragmentsForSegment returns the fragments rc.SegmentID has to read.
func (s *Service) GetFragmentsForSegment(ctx context.Context, rc *gateway.RequestContext) ([]gateway.Fragment, error) {
	span, ctx := tracing.StartRequestSpan(ctx, "Fragmenter.GetFragmentsForSegment", rc)
	defer span.Finish()

	active, err := ActiveSegmentCount(rc)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	key := CacheKey(rc)
	s.logger.Debugf("FRAGMENTER started for path \"%s\", fragment cache size=%d", rc.DataSource, s.cache.Len())

	fragments, hit, err := s.cache.Get(ctx, key, func() ([]gateway.Fragment, error) {
		return s.populate(detach(ctx), rc, key, start)
	})
	if err != nil {
		span.SetError(err)
		return nil, err
	}
	if hit {
		gateway.CounterFragmentCacheHits.Inc()
	} else {
		gateway.CounterFragmentCacheMisses.Inc()
	}

	d := Distribution{
		TotalSegments:  rc.TotalSegments,
		ActiveSegments: active,
		SessionID:      rc.SessionID,
		CommandCount:   rc.CommandCount,
	}
	filtered := d.Filter(fragments, rc.SegmentID)
	gateway.CounterFragmentsReturned.Add(float64(len(filtered)))
	span.LogKV("fragments", len(filtered), "total", len(fragments), "cached", hit)

	s.logger.Debugf("Returning %d/%d fragment%s for path %s in %d ms [profile=%s, predicate %savailable]",
		len(filtered), len(fragments), plural(len(filtered)), rc.DataSource,
		time.Since(start).Milliseconds(), rc.Profile, unless(rc.HasFilter))
	return filtered, nil
}

func (s *Service) populate(ctx context.Context, rc *gateway.RequestContext, key string, start time.Time) ([]gateway.Fragment, error) {
	s.logger.Debugf("Caching fragments from segmentId=%d with key=%s", rc.SegmentID, key)

	var fragments []gateway.Fragment
	err := s.failureHandler.Execute(rc, "get fragments", func() error {
		f, err := s.plugins.Fragmenter(rc)
		if err != nil {
			return err
		}
		fragments, err = f.GetFragments(ctx)
		return err
	})
	if err != nil {
		if gateway.IsCoded(err) {
			return nil, err
		}
		return nil, gateway.NewErrConnector("get fragments", err)
	}

	fragments = analyze.SampleFragments(fragments, rc.StatsMaxFragments, s.logger)
	gateway.AssignIndexes(fragments)

	elapsed := time.Since(start)
	gateway.HistogramFragmentPopulation.Observe(elapsed.Seconds())
	s.logger.Infof("Returning %d fragment%s in %d ms [user=%s, table=%s.%s, resource=%s, fragmenter=%s, profile=%s, predicate %savailable]",
		len(fragments), plural(len(fragments)), elapsed.Milliseconds(), rc.User, rc.SchemaName, rc.TableName,
		rc.DataSource, shortName(rc.Fragmenter), rc.Profile, unless(rc.HasFilter))
	return fragments, nil
}

// ActiveSegmentCount returns the ACTIVE_SEGMENT_COUNT option, which must lie
// in [1, rc.TotalSegments].
func ActiveSegmentCount(rc *gateway.RequestContext) (int, error) {
	n, err := rc.OptionInt(ActiveSegmentCountOption, rc.TotalSegments)
	if err != nil {
		return 0, err
	}
	if n < 1 || n > rc.TotalSegments {
		return 0, gateway.NewErrParameterRange(ActiveSegmentCountOption, n, 1, rc.TotalSegments)
	}
	return n, nil
}

// CacheKey identifies one scan of a query. A transaction may scan one table
// several times with different filters, or recreate a table at another
// location, so the transaction id alone is not enough.
func CacheKey(rc *gateway.RequestContext) string {
	return strings.Join([]string{
		rc.TransactionID,
		rc.SchemaName,
		rc.TableName,
		rc.DataSource,
		rc.FilterString,
	}, ":")
}

func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}

func unless(b bool) string {
	if b {
		return ""
	}
	return "un"
}

func shortName(name string) string {
	return name[strings.LastIndexByte(name, '.')+1:]
}

// detached keeps the values of a context but not its cancellation, so a
// population started by one segment completes even if that segment's
// request goes away while others wait on it.
type detached struct {
	context.Context
}

func detach(ctx context.Context) context.Context { return detached{ctx} }

func (detached) Deadline() (time.Time, bool) { return time.Time{}, false }
func (detached) Done() <-chan struct{}       { return nil }
func (detached) Err() error                  { return nil }
