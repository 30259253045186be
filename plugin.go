// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package gateway

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/featurebasedb/gateway/errors"
)

// OneField is a single typed value of a row. A nil Val is a null.
type OneField struct {
	Type DataType
	Val  interface{}
}

// OneRow is a record as seen by an accessor. Key and Data are connector
// specific; a resolver turns Data into fields.
type OneRow struct {
	Key  interface{}
	Data interface{}
}

// Fragmenter lists the fragments of the data source named in the request.
type Fragmenter interface {
	GetFragments(ctx context.Context) ([]Fragment, error)
}

// Accessor reads records from, or writes records to, one fragment. ReadNext
// returns io.EOF once the fragment is exhausted.
type Accessor interface {
	OpenForRead(ctx context.Context) error
	ReadNext(ctx context.Context) (OneRow, error)
	CloseForRead() error

	OpenForWrite(ctx context.Context) error
	WriteNext(ctx context.Context, row OneRow) error
	CloseForWrite() error
}

// Resolver converts between accessor records and typed fields.
type Resolver interface {
	GetFields(row OneRow) ([]OneField, error)
	SetFields(fields []OneField) (OneRow, error)
}

// ProtocolHandler lets a profile choose plugins per request.
type ProtocolHandler interface {
	FragmenterName(rc *RequestContext) string
	AccessorName(rc *RequestContext) string
	ResolverName(rc *RequestContext) string
}

// Constructors for the plugins named in a request. Each call receives the
// context of the request the plugin will serve.
type (
	FragmenterFunc func(rc *RequestContext) (Fragmenter, error)
	AccessorFunc   func(rc *RequestContext) (Accessor, error)
	ResolverFunc   func(rc *RequestContext) (Resolver, error)
)

// PluginFactory maps plugin names to constructors.
type PluginFactory struct {
	mu          sync.RWMutex
	fragmenters map[string]FragmenterFunc
	accessors   map[string]AccessorFunc
	resolvers   map[string]ResolverFunc
	handlers    map[string]ProtocolHandler
}

// NewPluginFactory returns an empty factory.
func NewPluginFactory() *PluginFactory {
	return &PluginFactory{
		fragmenters: make(map[string]FragmenterFunc),
		accessors:   make(map[string]AccessorFunc),
		resolvers:   make(map[string]ResolverFunc),
		handlers:    make(map[string]ProtocolHandler),
	}
}

func (f *PluginFactory) RegisterFragmenter(name string, fn FragmenterFunc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fragmenters[name] = fn
}

func (f *PluginFactory) RegisterAccessor(name string, fn AccessorFunc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accessors[name] = fn
}

func (f *PluginFactory) RegisterResolver(name string, fn ResolverFunc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resolvers[name] = fn
}

func (f *PluginFactory) RegisterHandler(name string, h ProtocolHandler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[name] = h
}

// Fragmenter instantiates the fragmenter named by rc.
func (f *PluginFactory) Fragmenter(rc *RequestContext) (Fragmenter, error) {
	f.mu.RLock()
	fn, ok := f.fragmenters[rc.Fragmenter]
	f.mu.RUnlock()
	if !ok {
		return nil, newErrUnknownPlugin("fragmenter", rc.Fragmenter)
	}
	p, err := fn(rc)
	return p, errors.Wrapf(err, "creating fragmenter '%s'", rc.Fragmenter)
}

// Accessor instantiates the accessor named by rc.
func (f *PluginFactory) Accessor(rc *RequestContext) (Accessor, error) {
	f.mu.RLock()
	fn, ok := f.accessors[rc.Accessor]
	f.mu.RUnlock()
	if !ok {
		return nil, newErrUnknownPlugin("accessor", rc.Accessor)
	}
	p, err := fn(rc)
	return p, errors.Wrapf(err, "creating accessor '%s'", rc.Accessor)
}

// Resolver instantiates the resolver named by rc.
func (f *PluginFactory) Resolver(rc *RequestContext) (Resolver, error) {
	f.mu.RLock()
	fn, ok := f.resolvers[rc.Resolver]
	f.mu.RUnlock()
	if !ok {
		return nil, newErrUnknownPlugin("resolver", rc.Resolver)
	}
	p, err := fn(rc)
	return p, errors.Wrapf(err, "creating resolver '%s'", rc.Resolver)
}

// Handler returns the protocol handler registered under name.
func (f *PluginFactory) Handler(name string) (ProtocolHandler, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	h, ok := f.handlers[name]
	if !ok {
		return nil, fmt.Errorf("unknown protocol handler: %s", name)
	}
	return h, nil
}

// Names returns the registered plugin names of each role, sorted.
func (f *PluginFactory) Names() map[string][]string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := map[string][]string{}
	for n := range f.fragmenters {
		out["fragmenter"] = append(out["fragmenter"], n)
	}
	for n := range f.accessors {
		out["accessor"] = append(out["accessor"], n)
	}
	for n := range f.resolvers {
		out["resolver"] = append(out["resolver"], n)
	}
	for _, names := range out {
		sort.Strings(names)
	}
	return out
}

func newErrUnknownPlugin(role, name string) error {
	return errors.New(ErrConfiguration, fmt.Sprintf("no %s plugin named '%s'", role, name))
}
