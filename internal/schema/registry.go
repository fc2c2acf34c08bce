// Package schema implements the per-(org, stream) evolving Schema Registry
// described in spec.md §4.B: additive field discovery, type widening, and
// single-writer-per-stream commits via the metadata store's CAS.
package schema

import (
	"context"
	"sync"

	"github.com/zeebo/errs"

	"go.obscore.dev/obscore/internal/model"
)

// ErrConflict signals that a commit lost a race against a concurrent
// writer; per spec.md §4.B the caller retries observe against the
// now-current schema.
var ErrConflict = errs.Class("schema conflict")

// Store is the subset of the metadata store the registry needs: durable
// get/CAS-put of a versioned schema blob, keyed by (org, stream).
type Store interface {
	GetSchema(ctx context.Context, org, stream string) (*Version, error)
	PutSchema(ctx context.Context, org, stream string, expectedVersion int64, v *Version) error
}

// Version is a durably committed schema snapshot.
type Version struct {
	Version int64
	Fields  []model.Field
}

// Handle is returned by GetOrInit and identifies a (org, stream) schema for
// subsequent Observe/Commit calls.
type Handle struct {
	Org    string
	Stream string
}

// Registry caches the current schema per (org, stream) in memory, refreshing
// from Store on conflict. Readers may see a stale cache; every partition
// embeds the schema id it was written under, so staleness never corrupts a
// read (spec.md §4.B "Consistency").
type Registry struct {
	store Store

	mu    sync.RWMutex
	cache map[string]*Version
}

// NewRegistry constructs a Registry backed by store.
func NewRegistry(store Store) *Registry {
	return &Registry{store: store, cache: make(map[string]*Version)}
}

func cacheKey(org, stream string) string { return org + "/" + stream }

// GetOrInit returns a Handle for (org, stream, kind), fetching its current
// schema from the store (or starting an empty one) if not already cached.
func (r *Registry) GetOrInit(ctx context.Context, org, stream string, kind model.StreamKind) (Handle, error) {
	h := Handle{Org: org, Stream: stream}
	key := cacheKey(org, stream)

	r.mu.RLock()
	_, ok := r.cache[key]
	r.mu.RUnlock()
	if ok {
		return h, nil
	}

	v, err := r.store.GetSchema(ctx, org, stream)
	if err != nil {
		return h, err
	}
	if v == nil {
		v = &Version{Version: 0, Fields: nil}
	}
	r.mu.Lock()
	r.cache[key] = v
	r.mu.Unlock()
	return h, nil
}

// Proposal is the in-memory result of Observe: either NoChange, or a new
// Fields slice reflecting appended/widened fields that Commit should
// durably persist.
type Proposal struct {
	Changed bool
	Fields  []model.Field
}

// Observe proposes a schema evolution for fieldMap against the handle's
// currently cached schema, purely in memory (spec.md §4.B). It never
// mutates the cache; call Commit to persist.
func (r *Registry) Observe(h Handle, fieldMap map[string]any) Proposal {
	r.mu.RLock()
	current := r.cache[cacheKey(h.Org, h.Stream)]
	r.mu.RUnlock()

	var fields []model.Field
	if current != nil {
		fields = append(fields, current.Fields...)
	}
	byName := make(map[string]int, len(fields))
	for i, f := range fields {
		byName[f.Name] = i
	}

	changed := false
	for name, value := range fieldMap {
		inferred := inferType(value)
		if idx, ok := byName[name]; ok {
			widened := widen(fields[idx].Type, inferred)
			if widened != fields[idx].Type {
				fields[idx].Type = widened
				changed = true
			}
			continue
		}
		fields = append(fields, model.Field{ID: len(fields), Name: name, Type: inferred})
		byName[name] = len(fields) - 1
		changed = true
	}

	return Proposal{Changed: changed, Fields: fields}
}

// Commit durably persists proposal via CAS against the store. On a version
// conflict it refreshes the cache from the store and returns ErrConflict so
// the caller can retry Observe+Commit against the fresh schema, per
// spec.md §4.B.
func (r *Registry) Commit(ctx context.Context, h Handle, p Proposal) error {
	if !p.Changed {
		return nil
	}
	key := cacheKey(h.Org, h.Stream)

	r.mu.RLock()
	current := r.cache[key]
	r.mu.RUnlock()
	expected := int64(0)
	if current != nil {
		expected = current.Version
	}

	next := &Version{Version: expected + 1, Fields: p.Fields}
	err := r.store.PutSchema(ctx, h.Org, h.Stream, expected, next)
	if err != nil {
		fresh, getErr := r.store.GetSchema(ctx, h.Org, h.Stream)
		if getErr == nil && fresh != nil {
			r.mu.Lock()
			r.cache[key] = fresh
			r.mu.Unlock()
		}
		return ErrConflict.Wrap(err)
	}

	r.mu.Lock()
	r.cache[key] = next
	r.mu.Unlock()
	return nil
}

// Current returns the cached schema fields for (org, stream), or nil if
// never observed.
func (r *Registry) Current(org, stream string) []model.Field {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v := r.cache[cacheKey(org, stream)]
	if v == nil {
		return nil
	}
	out := make([]model.Field, len(v.Fields))
	copy(out, v.Fields)
	return out
}
