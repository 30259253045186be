// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package gateway

import "github.com/prometheus/client_golang/prometheus"

const (
	MetricFragmentCacheHits     = "fragment_cache_hits_total"
	MetricFragmentCacheMisses   = "fragment_cache_misses_total"
	MetricFragmentCacheEntries  = "fragment_cache_entries"
	MetricFragmentsReturned     = "fragments_returned_total"
	MetricRecordsRead           = "records_read_total"
	MetricRecordsWritten        = "records_written_total"
	MetricHTTPRequests          = "http_requests_total"
	MetricFragmentPopulationSec = "fragment_population_seconds"
)

var CounterFragmentCacheHits = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "gateway",
		Name:      MetricFragmentCacheHits,
		Help:      "Fragment requests answered from the fragment cache.",
	},
)

var CounterFragmentCacheMisses = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "gateway",
		Name:      MetricFragmentCacheMisses,
		Help:      "Fragment requests which populated the fragment cache.",
	},
)

var GaugeFragmentCacheEntries = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "gateway",
		Name:      MetricFragmentCacheEntries,
		Help:      "Queries currently held in the fragment cache.",
	},
)

var CounterFragmentsReturned = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "gateway",
		Name:      MetricFragmentsReturned,
		Help:      "Fragments handed to segments.",
	},
)

var HistogramFragmentPopulation = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: "gateway",
		Name:      MetricFragmentPopulationSec,
		Help:      "Time spent listing fragments of a query.",
		Buckets:   prometheus.DefBuckets,
	},
)

var CounterRecordsRead = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "gateway",
		Name:      MetricRecordsRead,
		Help:      "Records sent to segments.",
	},
	[]string{
		"profile",
	},
)

var CounterRecordsWritten = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "gateway",
		Name:      MetricRecordsWritten,
		Help:      "Records received from segments.",
	},
	[]string{
		"profile",
	},
)

var CounterHTTPRequests = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "gateway",
		Name:      MetricHTTPRequests,
		Help:      "HTTP requests by route and status code.",
	},
	[]string{
		"route",
		"code",
	},
)

func init() {
	prometheus.MustRegister(CounterFragmentCacheHits)
	prometheus.MustRegister(CounterFragmentCacheMisses)
	prometheus.MustRegister(GaugeFragmentCacheEntries)
	prometheus.MustRegister(CounterFragmentsReturned)
	prometheus.MustRegister(HistogramFragmentPopulation)
	prometheus.MustRegister(CounterRecordsRead)
	prometheus.MustRegister(CounterRecordsWritten)
	prometheus.MustRegister(CounterHTTPRequests)
}
