// Package index implements the in-memory Partition Index described in
// spec.md §4.F: a per-(org,stream) list of partition summaries, pruned by
// time range, bloom filter, and min/max stats, kept current by subscribing
// to the metadata store's watch stream.
package index

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"go.uber.org/zap"

	"go.obscore.dev/obscore/internal/bloomfilter"
	"go.obscore.dev/obscore/internal/metastore"
	"go.obscore.dev/obscore/internal/metastore/catalog"
	"go.obscore.dev/obscore/internal/partition"
)

// Entry is one partition's indexed summary: enough of its manifest to prune
// without touching object storage.
type Entry struct {
	PartitionID string
	Org         string
	Stream      string
	MinTS       int64
	MaxTS       int64
	Columns     []partition.ColumnStats
	Key         string

	// IngesterID, WALSegment, and Sequence identify the ingestion that
	// produced this partition, used to coalesce duplicate replays per
	// spec.md §3's manifest-entry invariant.
	IngesterID string
	WALSegment uint64
	Sequence   uint64
}

func (e Entry) dedupKey() string {
	return e.IngesterID + "/" + itoa(e.WALSegment) + "/" + itoa(e.Sequence)
}

// Op is a predicate's comparison kind.
type Op int

// Predicate operators, per spec.md §4.F's pruning strategy.
const (
	OpEq Op = iota
	OpIn
	OpRange
)

// Predicate is one filter clause the query planner pushes down for pruning.
type Predicate struct {
	Field  string
	Op     Op
	Value  any   // for OpEq
	Values []any // for OpIn
	Low    any   // for OpRange
	High   any   // for OpRange
}

// Index is an in-memory, per-(org,stream) partition lookup structure.
// Insertion order is preserved for stable tie-breaking during merge, per
// spec.md §4.F.
type Index struct {
	log *zap.Logger

	mu      sync.RWMutex
	byKey   map[string][]Entry       // org/stream -> entries, insertion order
	dedup   map[string]map[string]int // org/stream -> dedupKey -> slice index
}

// New constructs an empty Index.
func New(log *zap.Logger) *Index {
	return &Index{
		log:   log,
		byKey: make(map[string][]Entry),
		dedup: make(map[string]map[string]int),
	}
}

func streamKey(org, stream string) string { return org + "/" + stream }

// Insert adds or updates e. A duplicate (ingester, wal-segment, sequence)
// overwrites the existing slot in place, coalescing to the latest manifest
// without disturbing insertion-order tie-breaking for other entries.
func (x *Index) Insert(e Entry) {
	x.mu.Lock()
	defer x.mu.Unlock()

	sk := streamKey(e.Org, e.Stream)
	if x.dedup[sk] == nil {
		x.dedup[sk] = make(map[string]int)
	}
	if idx, ok := x.dedup[sk][e.dedupKey()]; ok {
		x.byKey[sk][idx] = e
		return
	}
	x.byKey[sk] = append(x.byKey[sk], e)
	x.dedup[sk][e.dedupKey()] = len(x.byKey[sk]) - 1
}

// Remove drops the entry for partitionID from (org, stream), e.g. after a
// compaction supersedes it and its grace period elapses.
func (x *Index) Remove(org, stream, partitionID string) {
	x.mu.Lock()
	defer x.mu.Unlock()

	sk := streamKey(org, stream)
	entries := x.byKey[sk]
	for i, e := range entries {
		if e.PartitionID != partitionID {
			continue
		}
		x.byKey[sk] = append(entries[:i:i], entries[i+1:]...)
		delete(x.dedup[sk], e.dedupKey())
		for k, idx := range x.dedup[sk] {
			if idx > i {
				x.dedup[sk][k] = idx - 1
			}
		}
		return
	}
}

// Lookup returns candidate partition ids for (org, stream) intersecting
// [startTS, endTS] and matching every predicate, applying spec.md §4.F's
// three-step pruning strategy in order.
func (x *Index) Lookup(org, stream string, startTS, endTS int64, predicates []Predicate) []string {
	var out []string
	for _, e := range x.LookupEntries(org, stream, startTS, endTS, predicates) {
		out = append(out, e.PartitionID)
	}
	return out
}

// LookupEntries is Lookup's full-Entry counterpart, used by callers (such as
// the Query Planner) that need more than the bare partition id, e.g. the
// object store key to dispatch a scan against.
func (x *Index) LookupEntries(org, stream string, startTS, endTS int64, predicates []Predicate) []Entry {
	x.mu.RLock()
	defer x.mu.RUnlock()

	var out []Entry
	for _, e := range x.byKey[streamKey(org, stream)] {
		// step 1: time-range intersection.
		if e.MaxTS < startTS || e.MinTS > endTS {
			continue
		}
		if prunedByPredicates(e, predicates) {
			continue
		}
		out = append(out, e)
	}
	return out
}

func prunedByPredicates(e Entry, predicates []Predicate) bool {
	for _, p := range predicates {
		cs, ok := columnStats(e.Columns, p.Field)
		if !ok {
			continue // no stats for this field: cannot prune, must scan.
		}
		switch p.Op {
		case OpEq:
			if rejectedByBloom(cs, []any{p.Value}) {
				return true
			}
		case OpIn:
			if rejectedByBloom(cs, p.Values) {
				return true
			}
		case OpRange:
			if rejectedByRange(cs, p.Low, p.High) {
				return true
			}
		}
	}
	return false
}

// rejectedByBloom implements step 2: reject via bloom probe when every
// candidate value is definitely absent.
func rejectedByBloom(cs partition.ColumnStats, values []any) bool {
	if !cs.HasBloom {
		return false
	}
	bf := bloomfilter.FromBytes(cs.Bloom, cs.BloomK)
	for _, v := range values {
		if bf.Contains(bloomKeyBytes(v)) {
			return false
		}
	}
	return true
}

// rejectedByRange implements step 3: reject via min/max when the query
// range [low, high] cannot intersect [cs.Min, cs.Max].
func rejectedByRange(cs partition.ColumnStats, low, high any) bool {
	if cs.Min == nil || cs.Max == nil {
		return false
	}
	if high != nil && lessAny(high, cs.Min) {
		return true
	}
	if low != nil && lessAny(cs.Max, low) {
		return true
	}
	return false
}

func columnStats(cols []partition.ColumnStats, name string) (partition.ColumnStats, bool) {
	for _, c := range cols {
		if c.Name == name {
			return c, true
		}
	}
	return partition.ColumnStats{}, false
}

func bloomKeyBytes(v any) []byte {
	if s, ok := v.(string); ok {
		return []byte(s)
	}
	b, _ := json.Marshal(v)
	return b
}

// lessAny compares two values of matching underlying numeric or string
// type; values outside that common ground are treated as incomparable
// (never pruned), which is always safe (spec.md §4.F pruning is one-sided:
// it only ever rejects, never hides a true match).
func lessAny(a, b any) bool {
	switch av := a.(type) {
	case int64:
		if bv, ok := toInt64(b); ok {
			return av < bv
		}
	case float64:
		if bv, ok := toFloat64(b); ok {
			return av < bv
		}
	case string:
		if bv, ok := b.(string); ok {
			return av < bv
		}
	}
	return false
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case float64:
		return int64(n), true
	}
	return 0, false
}

func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func itoa(n uint64) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}

// Subscribe runs until ctx is cancelled, maintaining the index from store's
// watch stream over "/org/" partition manifests, per spec.md §4.F: "an
// in-memory structure maintained on every querier by subscribing to the
// watch stream over /org/*/partitions/*."
func (x *Index) Subscribe(ctx context.Context, store metastore.Store, resumeFrom int64) error {
	events, err := store.Watch(ctx, "/org/", resumeFrom)
	if err != nil {
		return err
	}
	return x.drain(ctx, events)
}

func (x *Index) drain(ctx context.Context, events <-chan metastore.Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case e, ok := <-events:
			if !ok {
				return nil
			}
			x.ApplyEvent(e)
		}
	}
}

// ApplyEvent updates the index from a single metastore watch event, decoding
// its value as a catalog.ManifestRecord. It is exported so callers that
// maintain their own watch loop (or tests) can drive the index directly,
// without going through Subscribe.
func (x *Index) ApplyEvent(e metastore.Event) {
	switch e.Type {
	case metastore.EventPut:
		m, err := catalog.Unmarshal(e.Item.Value)
		if err != nil {
			if x.log != nil {
				x.log.Warn("index: undecodable manifest record", zap.Error(err))
			}
			return
		}
		if m.Superseded {
			x.Remove(m.Org, m.Stream, m.PartitionID)
			return
		}
		x.Insert(Entry{
			PartitionID: m.PartitionID, Org: m.Org, Stream: m.Stream,
			MinTS: m.MinTS, MaxTS: m.MaxTS, Columns: m.Columns, Key: m.Key,
			IngesterID: m.IngesterID, WALSegment: m.WALSegment, Sequence: m.Sequence,
		})
	case metastore.EventDelete:
		if org, stream, ok := catalog.StreamFromKey(e.Item.Key); ok {
			x.Remove(org, stream, partitionIDFromKey(e.Item.Key))
		}
	}
}

func partitionIDFromKey(key string) string {
	idx := strings.LastIndex(key, "/")
	if idx < 0 {
		return key
	}
	return key[idx+1:]
}
