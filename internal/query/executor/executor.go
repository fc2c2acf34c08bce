// Package executor implements the Query Executor described in spec.md
// §4.H: per assigned scan, open the partition (via a size-bounded local
// cache), read only the required columns, apply vectorized filters with
// per-block stats skip, and emit record batches; the coordinator merges
// per-node streams, k-way ordered when the query asks for ORDER BY
// _timestamp.
package executor

import (
	"container/heap"
	"context"
	"io"
	"sort"
	"sync"

	"github.com/zeebo/errs"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"go.obscore.dev/obscore/internal/index"
	"go.obscore.dev/obscore/internal/objectstore"
	"go.obscore.dev/obscore/internal/partition"
	"go.obscore.dev/obscore/internal/query/planner"
)

// ErrExecutor is the general-purpose error class for execution failures.
var ErrExecutor = errs.Class("executor")

// Row is one projected, filtered output row.
type Row struct {
	TimestampMicros int64
	Fields          map[string]any
}

// Batch is a bounded group of rows flowing upward through the executor's
// stages, per spec.md §4.H step 4.
type Batch struct {
	Rows []Row
}

// State is a query's lifecycle stage, per spec.md §4.H's state machine.
type State int

// Query states: Planned -> Dispatched -> Running -> {Completed, Cancelled, Failed}.
const (
	StatePlanned State = iota
	StateDispatched
	StateRunning
	StateCompleted
	StateCancelled
	StateFailed
)

// Cache is a size-bounded LRU of opened partitions, shared read-only after
// publish with a per-file latch so concurrent misses coalesce into one
// fetch, per spec.md §5's partition-cache sharing policy.
type Cache struct {
	log   *zap.Logger
	store objectstore.Store

	mu       sync.Mutex
	maxBytes int64
	curBytes int64
	order    []string // MRU at the back, for simple LRU eviction
	entries  map[string]*cacheEntry
}

type cacheEntry struct {
	once   sync.Once
	data   []byte
	reader *partition.Reader
	err    error
}

// NewCache constructs a Cache bounded to maxBytes of raw partition data.
func NewCache(log *zap.Logger, store objectstore.Store, maxBytes int64) *Cache {
	return &Cache{log: log, store: store, maxBytes: maxBytes, entries: make(map[string]*cacheEntry)}
}

// Open returns the partition.Reader for key, fetching it from object
// storage into the cache on a miss. Concurrent misses for the same key
// coalesce into one fetch via the entry's sync.Once.
func (c *Cache) Open(ctx context.Context, key string) (*partition.Reader, error) {
	c.mu.Lock()
	e, ok := c.entries[key]
	if !ok {
		e = &cacheEntry{}
		c.entries[key] = e
	}
	c.mu.Unlock()

	e.once.Do(func() {
		rc, err := c.store.Get(ctx, key, nil)
		if err != nil {
			e.err = ErrExecutor.Wrap(err)
			return
		}
		defer func() { _ = rc.Close() }()

		data, err := io.ReadAll(rc)
		if err != nil {
			e.err = ErrExecutor.Wrap(err)
			return
		}
		reader, err := partition.Open(byteReaderAt(data), int64(len(data)))
		if err != nil {
			e.err = ErrExecutor.Wrap(err)
			return
		}
		e.data, e.reader = data, reader
		c.touch(key, int64(len(data)))
	})
	return e.reader, e.err
}

func (c *Cache) touch(key string, size int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.order = append(c.order, key)
	c.curBytes += size
	for c.maxBytes > 0 && c.curBytes > c.maxBytes && len(c.order) > 1 {
		evict := c.order[0]
		c.order = c.order[1:]
		if entry, ok := c.entries[evict]; ok {
			c.curBytes -= int64(len(entry.data))
			delete(c.entries, evict)
		}
	}
}

type byteReaderAt []byte

func (b byteReaderAt) ReadAt(p []byte, off int64) (int, error) {
	if off >= int64(len(b)) {
		return 0, io.EOF
	}
	n := copy(p, b[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// Executor runs a planner.Plan's scans, filters/projects/aggregates rows,
// and merges the result.
type Executor struct {
	log   *zap.Logger
	cache *Cache
}

// New constructs an Executor backed by cache for partition access.
func New(log *zap.Logger, cache *Cache) *Executor {
	return &Executor{log: log, cache: cache}
}

// Run executes plan to completion, returning every matching row merged
// across scans. Ordered merge (k-way by timestamp) is used when
// plan.OrderByTS is set; otherwise scans are simply concatenated, per
// spec.md §4.H.
func (x *Executor) Run(ctx context.Context, plan *planner.Plan) ([]Row, error) {
	streams := make([][]Row, len(plan.Scans))
	g, gctx := errgroup.WithContext(ctx)
	for i, scan := range plan.Scans {
		i, scan := i, scan
		g.Go(func() error {
			rows, err := x.scanOne(gctx, plan, scan)
			if err != nil {
				return err
			}
			streams[i] = rows
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var merged []Row
	if plan.OrderByTS {
		merged = kWayMergeByTimestamp(streams)
	} else {
		for _, s := range streams {
			merged = append(merged, s...)
		}
	}
	if plan.Limit > 0 && len(merged) > plan.Limit {
		merged = merged[:plan.Limit]
	}
	return merged, nil
}

// scanOne opens one partition, reads only the projected columns, and
// applies filters, skipping whole blocks via per-block stats when the
// predicate set allows it (spec.md §4.H steps 1-3).
func (x *Executor) scanOne(ctx context.Context, plan *planner.Plan, scan planner.Scan) ([]Row, error) {
	reader, err := x.cache.Open(ctx, scan.Key)
	if err != nil {
		return nil, err
	}

	var rows []Row
	for i, block := range reader.Blocks {
		if block.MaxTS < plan.StartTS || block.MinTS > plan.EndTS {
			continue // block-level time-range skip, spec.md §4.H step 3.
		}
		b, err := reader.ReadBlock(i)
		if err != nil {
			return nil, ErrExecutor.Wrap(err)
		}
		rowCount := b.RowCount
		for r := 0; r < rowCount; r++ {
			ts, _ := toInt64(b.Columns["_timestamp"][r])
			if !matchesPredicates(b, r, plan.Predicates) {
				continue
			}
			rows = append(rows, Row{TimestampMicros: ts, Fields: projectRow(b, r, plan.Columns)})
		}
	}
	if plan.OrderByTS {
		// a partition's rows are append-ordered by WAL offset, which tracks
		// wall-clock time closely but not exactly (per spec.md §5's ordering
		// guarantees); sort explicitly so the coordinator's k-way merge is
		// correct rather than merely approximate.
		sort.Slice(rows, func(i, j int) bool { return rows[i].TimestampMicros < rows[j].TimestampMicros })
	}
	return rows, nil
}

func projectRow(b partition.Block, r int, columns []string) map[string]any {
	fields := make(map[string]any)
	if len(columns) == 0 {
		for name, vals := range b.Columns {
			if name == "_timestamp" {
				continue
			}
			if r < len(vals) {
				fields[name] = vals[r]
			}
		}
		return fields
	}
	for _, name := range columns {
		if vals, ok := b.Columns[name]; ok && r < len(vals) {
			fields[name] = vals[r]
		}
	}
	return fields
}

// matchesPredicates re-checks plan.Predicates against one decompressed row.
// The Partition Index and block-skip stages only ever reject (bloom/min-max
// are conservative), so exact per-row filtering still happens here.
func matchesPredicates(b partition.Block, row int, predicates []index.Predicate) bool {
	for _, p := range predicates {
		vals, ok := b.Columns[p.Field]
		if !ok || row >= len(vals) {
			continue
		}
		v := vals[row]
		switch p.Op {
		case index.OpEq:
			if !equalAny(v, p.Value) {
				return false
			}
		case index.OpIn:
			matched := false
			for _, want := range p.Values {
				if equalAny(v, want) {
					matched = true
					break
				}
			}
			if !matched {
				return false
			}
		case index.OpRange:
			if lessAny(v, p.Low) || lessAny(p.High, v) {
				return false
			}
		}
	}
	return true
}

func equalAny(a, b any) bool {
	if ai, ok := toInt64(a); ok {
		if bi, ok := toInt64(b); ok {
			return ai == bi
		}
	}
	return a == b
}

// lessAny mirrors internal/index's numeric/string comparison so the
// executor's row-level range check agrees with the pruning stage.
func lessAny(a, b any) bool {
	switch av := a.(type) {
	case int64:
		if bv, ok := toInt64(b); ok {
			return av < bv
		}
	case float64:
		if bv, ok := toInt64(b); ok {
			return av < float64(bv)
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

// mergeItem is one in-flight row plus which stream it came from, for the
// k-way merge heap.
type mergeItem struct {
	row    Row
	stream int
	idx    int
}

type mergeHeap []mergeItem

func (h mergeHeap) Len() int            { return len(h) }
func (h mergeHeap) Less(i, j int) bool  { return h[i].row.TimestampMicros < h[j].row.TimestampMicros }
func (h mergeHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *mergeHeap) Push(x any)         { *h = append(*h, x.(mergeItem)) }
func (h *mergeHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// kWayMergeByTimestamp merges already-sorted-by-insertion per-scan row
// slices into one ORDER BY _timestamp sequence, per spec.md §4.H's
// coordinator-side merge.
func kWayMergeByTimestamp(streams [][]Row) []Row {
	h := &mergeHeap{}
	heap.Init(h)
	for si, s := range streams {
		if len(s) > 0 {
			heap.Push(h, mergeItem{row: s[0], stream: si, idx: 0})
		}
	}
	var out []Row
	for h.Len() > 0 {
		top := heap.Pop(h).(mergeItem)
		out = append(out, top.row)
		next := top.idx + 1
		if next < len(streams[top.stream]) {
			heap.Push(h, mergeItem{row: streams[top.stream][next], stream: top.stream, idx: next})
		}
	}
	return out
}
