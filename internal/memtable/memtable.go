// Package memtable implements the in-memory columnar buffer described in
// spec.md §4.C: batches are normalized, schema-evolved, durably WAL-appended,
// and inserted into per-field columnar builders until a flush trigger seals
// the table and hands it to the Partition Writer.
package memtable

import (
	"context"
	"sync"
	"time"

	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"go.obscore.dev/obscore/internal/model"
	"go.obscore.dev/obscore/internal/schema"
	"go.obscore.dev/obscore/internal/wal"
)

// ErrMemtable is the general-purpose error class for memtable operations.
var ErrMemtable = errs.Class("memtable")

// Config bounds one memtable's flush triggers, per spec.md §4.C.
type Config struct {
	MaxBytes int64
	MaxAge   time.Duration
}

// DefaultConfig matches the stated defaults for a single-stream memtable:
// 32MiB or 5 minutes, whichever comes first.
func DefaultConfig() Config {
	return Config{MaxBytes: 32 << 20, MaxAge: 5 * time.Minute}
}

// Column is one schema field's columnar builder: parallel slices of
// timestamp and value, indexed identically. A nil entry at index i means the
// field was absent (null) on that row.
type Column struct {
	Name   string
	Type   model.FieldType
	Values []any
}

// Sealed is an immutable snapshot of a memtable at the moment it was sealed
// for flush, handed to the Partition Writer.
type Sealed struct {
	Org          string
	Stream       string
	SchemaID     int64
	MinTS        int64
	MaxTS        int64
	RowCount     int
	// Timestamps holds each row's timestamp in insertion order, parallel to
	// every Column's Values slice; the Partition Writer uses it to compute
	// per-block time ranges for pruning (spec.md §4.F step 1).
	Timestamps   []int64
	Columns      []Column
	WALSegments  []wal.SegmentMeta
}

// Memtable buffers one (org, stream)'s accepted rows between ingestion and
// flush. It owns its builders exclusively; readers take a point-in-time
// snapshot via Snapshot rather than touching builders directly, matching
// spec.md §5's ownership rule.
type Memtable struct {
	log    *zap.Logger
	cfg    Config
	w      *wal.WAL
	reg    *schema.Registry
	handle schema.Handle

	mu        sync.RWMutex
	epoch     uint64
	createdAt time.Time
	bytes     int64
	minTS     int64
	maxTS     int64
	rowCount  int
	byName     map[string]int
	columns    []Column
	timestamps []int64
	segments   []wal.SegmentMeta
}

// New constructs an empty memtable for (org, stream), backed by w for
// durability and reg for schema evolution.
func New(log *zap.Logger, cfg Config, w *wal.WAL, reg *schema.Registry, h schema.Handle) *Memtable {
	return &Memtable{
		log:       log,
		cfg:       cfg,
		w:         w,
		reg:       reg,
		handle:    h,
		createdAt: time.Now(),
		byName:    make(map[string]int),
	}
}

// Insert normalizes field into the memtable's columnar builders, evolving
// the schema first if field introduces a new or widened column (spec.md
// §4.C steps 1-3). It does not itself WAL-append; callers append via Append
// (or combine both via InsertBatch) so that a batch of rows shares one WAL
// frame.
func (m *Memtable) insertLocked(ts int64, fields map[string]any) {
	for name, value := range fields {
		idx, ok := m.byName[name]
		if !ok {
			idx = len(m.columns)
			m.columns = append(m.columns, Column{Name: name, Type: valueKind(value), Values: make([]any, m.rowCount)})
			m.byName[name] = idx
		}
		col := &m.columns[idx]
		for len(col.Values) < m.rowCount {
			col.Values = append(col.Values, nil)
		}
		col.Values = append(col.Values, value)
		m.bytes += estimateValueBytes(value)
	}
	// pad every column not touched by this row with a null so all columns
	// stay aligned to rowCount.
	m.rowCount++
	for i := range m.columns {
		for len(m.columns[i].Values) < m.rowCount {
			m.columns[i].Values = append(m.columns[i].Values, nil)
		}
	}
	m.timestamps = append(m.timestamps, ts)
	if m.minTS == 0 || ts < m.minTS {
		m.minTS = ts
	}
	if ts > m.maxTS {
		m.maxTS = ts
	}
}

// valueKind derives a display/bloom-eligibility type from a normalized
// field value; the schema registry remains the source of truth for the
// durable column type, this is only used to pick partition-level stats
// strategy (e.g. which columns get a bloom filter).
func valueKind(v any) model.FieldType {
	switch v.(type) {
	case bool:
		return model.FieldBool
	case int, int32, int64:
		return model.FieldI64
	case float32, float64:
		return model.FieldF64
	case string:
		return model.FieldUTF8
	case []byte:
		return model.FieldBinary
	default:
		return model.FieldUTF8
	}
}

// InsertBatch appends rows as one WAL entry, evolves the schema against each
// row's fields, and inserts accepted rows into the columnar builders. It
// returns the WAL sequence id assigned to the batch.
func (m *Memtable) InsertBatch(ctx context.Context, org, stream string, records []model.Record) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rows := make([]wal.Row, 0, len(records))
	for _, rec := range records {
		prop := m.reg.Observe(m.handle, rec.Fields)
		if prop.Changed {
			if err := m.reg.Commit(ctx, m.handle, prop); err != nil {
				if !schema.ErrConflict.Has(err) {
					return 0, ErrMemtable.Wrap(err)
				}
				// retry once against the refreshed schema; a second
				// conflict is surfaced to the caller.
				prop = m.reg.Observe(m.handle, rec.Fields)
				if prop.Changed {
					if err := m.reg.Commit(ctx, m.handle, prop); err != nil {
						return 0, ErrMemtable.Wrap(err)
					}
				}
			}
		}
		rows = append(rows, wal.Row{TimestampMicros: rec.TimestampMicros, Fields: rec.Fields})
	}

	seq, err := m.w.Append(&wal.Entry{Org: org, Stream: stream, Rows: rows})
	if err != nil {
		return 0, ErrMemtable.Wrap(err)
	}

	for _, row := range rows {
		m.insertLocked(row.TimestampMicros, row.Fields)
	}
	return seq, nil
}

// ShouldFlush reports whether any of spec.md §4.C's flush triggers have
// fired: size, age, or an explicit caller-driven rotate is left to the
// caller.
func (m *Memtable) ShouldFlush() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.rowCount == 0 {
		return false
	}
	if m.bytes >= m.cfg.MaxBytes {
		return true
	}
	return time.Since(m.createdAt) >= m.cfg.MaxAge
}

// Snapshot returns a read-only epoch snapshot of the memtable's committed
// rows for intra-node "query fresh data" reads, per spec.md §5: incrementing
// an epoch and reading only already-committed builders, never partially
// written ones.
func (m *Memtable) Snapshot() Sealed {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sealLocked()
}

// Seal freezes the memtable for flush and returns its contents. The caller
// must stop routing new writes to this memtable before calling Seal; new
// writes belong in a freshly constructed Memtable.
func (m *Memtable) Seal() Sealed {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.epoch++
	return m.sealLocked()
}

func (m *Memtable) sealLocked() Sealed {
	cols := make([]Column, len(m.columns))
	copy(cols, m.columns)
	ts := make([]int64, len(m.timestamps))
	copy(ts, m.timestamps)
	return Sealed{
		MinTS:      m.minTS,
		MaxTS:      m.maxTS,
		RowCount:   m.rowCount,
		Timestamps: ts,
		Columns:    cols,
	}
}

func estimateValueBytes(v any) int64 {
	switch t := v.(type) {
	case string:
		return int64(len(t)) + 16
	case []byte:
		return int64(len(t)) + 16
	default:
		return 16
	}
}
