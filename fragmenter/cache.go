// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package fragmenter

import (
	"context"
	"fmt"
	"sync"
	"time"

	gateway "github.com/featurebasedb/gateway"
)

// DefaultExpiration is how long an unused fragment list stays cached.
const DefaultExpiration = 10 * time.Second

// Cache holds the fragment lists of recent queries. Lists are populated at
// most once concurrently per key: the first caller installs a pending entry
// and runs the population function while later callers for the same key
// wait for its outcome. Stored lists are never modified.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*entry

	expiration time.Duration
	now        func() time.Time
}

type entry struct {
	done chan struct{} // closed once fragments and err are set

	fragments []gateway.Fragment
	err       error

	lastAccess time.Time // guarded by Cache.mu
}

func (e *entry) ready() bool {
	select {
	case <-e.done:
		return true
	default:
		return false
	}
}

// NewCache returns a cache whose entries expire after not being read for
// expiration. A zero expiration means DefaultExpiration.
func NewCache(expiration time.Duration) *Cache {
	if expiration <= 0 {
		expiration = DefaultExpiration
	}
	return &Cache{
		entries:    make(map[string]*entry),
		expiration: expiration,
		now:        time.Now,
	}
}

// Get returns the fragment list stored under key, calling populate to
// compute it when there is none. hit reports whether the list was computed
// by an earlier call. A failed population is not stored: the error goes to
// every caller that waited on it and the next call tries again.
//
// ctx only bounds the wait. populate is not interrupted when a waiting
// caller gives up.
func (c *Cache) Get(ctx context.Context, key string, populate func() ([]gateway.Fragment, error)) (fragments []gateway.Fragment, hit bool, err error) {
	c.mu.Lock()
	now := c.now()
	e, ok := c.entries[key]
	if ok && e.ready() && now.Sub(e.lastAccess) > c.expiration {
		ok = false
	}
	if ok {
		e.lastAccess = now
		c.mu.Unlock()

		select {
		case <-e.done:
			return e.fragments, true, e.err
		case <-ctx.Done():
			return nil, false, ctx.Err()
		}
	}

	e = &entry{done: make(chan struct{}), lastAccess: now}
	c.entries[key] = e
	gateway.GaugeFragmentCacheEntries.Set(float64(len(c.entries)))
	c.mu.Unlock()

	c.populate(key, e, populate)
	return e.fragments, false, e.err
}

func (c *Cache) populate(key string, e *entry, fn func() ([]gateway.Fragment, error)) {
	defer func() {
		if r := recover(); r != nil {
			c.fail(key, e, gateway.NewErrConnector("listing fragments", panicError{r}))
			panic(r)
		}
	}()

	fragments, err := fn()
	if err != nil {
		c.fail(key, e, err)
		return
	}
	e.fragments = fragments
	close(e.done)
}

// fail removes e before releasing its waiters so no new caller observes
// the error.
func (c *Cache) fail(key string, e *entry, err error) {
	c.mu.Lock()
	if c.entries[key] == e {
		delete(c.entries, key)
	}
	gateway.GaugeFragmentCacheEntries.Set(float64(len(c.entries)))
	c.mu.Unlock()

	e.err = err
	close(e.done)
}

// Cleanup evicts completed entries which were not read within the
// expiration and returns how many were removed. Callers holding an evicted
// list keep a valid copy.
func (c *Cache) Cleanup() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	n := 0
	for key, e := range c.entries {
		if e.ready() && now.Sub(e.lastAccess) > c.expiration {
			delete(c.entries, key)
			n++
		}
	}
	gateway.GaugeFragmentCacheEntries.Set(float64(len(c.entries)))
	return n
}

// Len returns the number of cached and in-flight entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Run calls Cleanup every interval until ctx is done.
func (c *Cache) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Cleanup()
		}
	}
}

type panicError struct {
	v interface{}
}

func (p panicError) Error() string {
	return fmt.Sprintf("panic: %v", p.v)
}
