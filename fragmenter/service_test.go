package fragmenter_test

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	gateway "github.com/featurebasedb/gateway"
	"github.com/featurebasedb/gateway/errors"
	"github.com/featurebasedb/gateway/fragmenter"
	"github.com/featurebasedb/gateway/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

// countingFragmenter lists n fragments, counting calls.
type countingFragmenter struct {
	calls   int32
	n       int
	delay   time.Duration
	failFor int32 // number of leading calls which fail
	failErr error
}

func (f *countingFragmenter) GetFragments(ctx context.Context) ([]gateway.Fragment, error) {
	call := atomic.AddInt32(&f.calls, 1)
	time.Sleep(f.delay)
	if call <= f.failFor {
		return nil, f.failErr
	}
	out := make([]gateway.Fragment, f.n)
	for i := range out {
		// Indexes are reassigned by the service.
		out[i] = gateway.Fragment{SourceName: fmt.Sprintf("/data/file-%d", i/2), Index: 99}
	}
	return out, nil
}

type factoryFunc func(rc *gateway.RequestContext) (gateway.Fragmenter, error)

func (f factoryFunc) Fragmenter(rc *gateway.RequestContext) (gateway.Fragmenter, error) { return f(rc) }

func newService(t *testing.T, f gateway.Fragmenter) *fragmenter.Service {
	return fragmenter.NewService(
		fragmenter.NewCache(time.Minute),
		factoryFunc(func(*gateway.RequestContext) (gateway.Fragmenter, error) { return f, nil }),
		nil,
		logger.NewLogfLogger(t),
	)
}

func requestContext(segment, total int) *gateway.RequestContext {
	return &gateway.RequestContext{
		TransactionID: "xid-1",
		SchemaName:    "public",
		TableName:     "events",
		DataSource:    "/data",
		SegmentID:     segment,
		TotalSegments: total,
		Fragmenter:    "org.example.CountingFragmenter",
		User:          "alex",
		Options:       map[string]string{},
	}
}

func TestService_SingleFlight(t *testing.T) {
	f := &countingFragmenter{n: 10, delay: 50 * time.Millisecond}
	svc := newService(t, f)

	const callers = 50
	const total = 5
	results := make([][]gateway.Fragment, callers)

	var eg errgroup.Group
	for i := 0; i < callers; i++ {
		i := i
		eg.Go(func() error {
			frags, err := svc.GetFragmentsForSegment(context.Background(), requestContext(i%total, total))
			results[i] = frags
			return err
		})
	}
	require.NoError(t, eg.Wait())
	assert.EqualValues(t, 1, atomic.LoadInt32(&f.calls))

	// Callers for the same segment agree, and segments partition the list.
	seen := map[string]int{}
	for i, frags := range results {
		assert.Equal(t, results[i%total], frags)
		if i < total {
			for _, fr := range frags {
				seen[fmt.Sprintf("%s#%d", fr.SourceName, fr.Index)]++
			}
		}
	}
	assert.Len(t, seen, 10)
	for k, n := range seen {
		assert.Equal(t, 1, n, k)
	}
}

func TestService_IndexesPerSource(t *testing.T) {
	svc := newService(t, &countingFragmenter{n: 5})
	frags, err := svc.GetFragmentsForSegment(context.Background(), requestContext(0, 1))
	require.NoError(t, err)

	var got []string
	for _, f := range frags {
		got = append(got, fmt.Sprintf("%s#%d", f.SourceName, f.Index))
	}
	assert.Equal(t, []string{
		"/data/file-0#0", "/data/file-0#1",
		"/data/file-1#0", "/data/file-1#1",
		"/data/file-2#0",
	}, got)
}

func TestService_ThreeSegments(t *testing.T) {
	svc := newService(t, &countingFragmenter{n: 5})
	exp := map[int][]string{
		0: {"/data/file-0#0", "/data/file-1#1"},
		1: {"/data/file-0#1", "/data/file-2#0"},
		2: {"/data/file-1#0"},
	}
	for seg, want := range exp {
		frags, err := svc.GetFragmentsForSegment(context.Background(), requestContext(seg, 3))
		require.NoError(t, err)
		var got []string
		for _, f := range frags {
			got = append(got, fmt.Sprintf("%s#%d", f.SourceName, f.Index))
		}
		assert.Equal(t, want, got, "segment %d", seg)
	}
}

func TestService_ActiveSegmentCount(t *testing.T) {
	svc := newService(t, &countingFragmenter{n: 4})

	for _, v := range []string{"0", "4", "-1"} {
		rc := requestContext(0, 3)
		rc.Options["active_segment_count"] = v
		_, err := svc.GetFragmentsForSegment(context.Background(), rc)
		require.Error(t, err, v)
		assert.True(t, errors.Is(err, gateway.ErrParameterRange))
		assert.Contains(t, err.Error(), "ACTIVE_SEGMENT_COUNT")
		assert.Contains(t, err.Error(), v)
		assert.Contains(t, err.Error(), "3]")
	}

	rc := requestContext(0, 3)
	rc.Options["active_segment_count"] = "many"
	_, err := svc.GetFragmentsForSegment(context.Background(), rc)
	assert.True(t, errors.Is(err, gateway.ErrInvalidValue))

	// With a single active segment everything goes to one segment.
	total := 0
	for seg := 0; seg < 3; seg++ {
		rc := requestContext(seg, 3)
		rc.Options["active_segment_count"] = "1"
		frags, err := svc.GetFragmentsForSegment(context.Background(), rc)
		require.NoError(t, err)
		if len(frags) != 0 {
			assert.Len(t, frags, 4)
		}
		total += len(frags)
	}
	assert.Equal(t, 4, total)
}

func TestService_ErrorsAreNotCached(t *testing.T) {
	f := &countingFragmenter{n: 2, failFor: 1, failErr: fmt.Errorf("connection refused")}
	svc := newService(t, f)

	_, err := svc.GetFragmentsForSegment(context.Background(), requestContext(0, 1))
	require.Error(t, err)
	assert.True(t, errors.Is(err, gateway.ErrConnector))
	assert.Contains(t, err.Error(), "connection refused")

	frags, err := svc.GetFragmentsForSegment(context.Background(), requestContext(0, 1))
	require.NoError(t, err)
	assert.Len(t, frags, 2)
	assert.EqualValues(t, 2, f.calls)
}

func TestService_AuthExpiredRetried(t *testing.T) {
	f := &countingFragmenter{n: 2, failFor: 1, failErr: gateway.NewErrAuthExpired(fmt.Errorf("ticket expired"))}
	svc := newService(t, f)

	frags, err := svc.GetFragmentsForSegment(context.Background(), requestContext(0, 1))
	require.NoError(t, err)
	assert.Len(t, frags, 2)
	assert.EqualValues(t, 2, f.calls)
}

func TestService_Sampling(t *testing.T) {
	svc := newService(t, &countingFragmenter{n: 10})
	rc := requestContext(0, 1)
	rc.StatsMaxFragments = 5
	frags, err := svc.GetFragmentsForSegment(context.Background(), rc)
	require.NoError(t, err)
	assert.Len(t, frags, 5)
}

func TestService_DistinctKeys(t *testing.T) {
	f := &countingFragmenter{n: 3}
	svc := newService(t, f)

	rc := requestContext(0, 1)
	_, err := svc.GetFragmentsForSegment(context.Background(), rc)
	require.NoError(t, err)

	other := requestContext(0, 1)
	other.FilterString = "a1c25s1dpart1o5"
	_, err = svc.GetFragmentsForSegment(context.Background(), other)
	require.NoError(t, err)

	_, err = svc.GetFragmentsForSegment(context.Background(), requestContext(0, 1))
	require.NoError(t, err)
	assert.EqualValues(t, 2, f.calls)
}

func TestCacheKey(t *testing.T) {
	rc := requestContext(0, 1)
	rc.FilterString = "a0c20s1d1o5"
	assert.Equal(t, "xid-1:public:events:/data:a0c20s1d1o5", fragmenter.CacheKey(rc))
}

func TestCache_Expiration(t *testing.T) {
	c := fragmenter.NewCache(time.Second)
	now := time.Unix(1000, 0)
	fragmenter.SetClock(c, func() time.Time { return now })

	calls := 0
	populate := func() ([]gateway.Fragment, error) {
		calls++
		return makeFragments(1), nil
	}

	_, hit, err := c.Get(context.Background(), "k", populate)
	require.NoError(t, err)
	assert.False(t, hit)

	now = now.Add(500 * time.Millisecond)
	_, hit, _ = c.Get(context.Background(), "k", populate)
	assert.True(t, hit)

	// Reading refreshed the entry, so it survives another 900ms.
	now = now.Add(900 * time.Millisecond)
	assert.Equal(t, 0, c.Cleanup())
	assert.Equal(t, 1, c.Len())

	now = now.Add(2 * time.Second)
	assert.Equal(t, 1, c.Cleanup())
	assert.Equal(t, 0, c.Len())

	_, hit, _ = c.Get(context.Background(), "k", populate)
	assert.False(t, hit)
	assert.Equal(t, 2, calls)
}

func TestCache_WaiterGivesUp(t *testing.T) {
	c := fragmenter.NewCache(time.Minute)
	release := make(chan struct{})
	started := make(chan struct{})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		frags, _, err := c.Get(context.Background(), "k", func() ([]gateway.Fragment, error) {
			close(started)
			<-release
			return makeFragments(2), nil
		})
		assert.NoError(t, err)
		assert.Len(t, frags, 2)
	}()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, _, err := c.Get(ctx, "k", func() ([]gateway.Fragment, error) {
		t.Fatal("populated twice")
		return nil, nil
	})
	assert.Equal(t, context.DeadlineExceeded, err)

	close(release)
	wg.Wait()

	frags, hit, err := c.Get(context.Background(), "k", nil)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Len(t, frags, 2)
}
