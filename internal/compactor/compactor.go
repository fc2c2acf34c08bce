// Package compactor implements the Compactor described in spec.md §4.I: a
// leader-elected periodic loop that merges small partitions of the same
// (org, stream, hour-bucket) into larger ones, and sweeps expired
// partitions per stream retention.
package compactor

import (
	"context"
	"io"
	"sort"
	"time"

	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"go.obscore.dev/obscore/internal/memtable"
	"go.obscore.dev/obscore/internal/metastore"
	"go.obscore.dev/obscore/internal/metastore/catalog"
	"go.obscore.dev/obscore/internal/model"
	"go.obscore.dev/obscore/internal/objectstore"
	"go.obscore.dev/obscore/internal/partition"
)

// ErrCompactor is the general-purpose error class for compaction failures.
var ErrCompactor = errs.Class("compactor")

// leaderKey is the lease key spec.md §4.I names explicitly.
const leaderKey = "/compactor/leader"

// Config controls thresholds and timing, matching spec.md §4.I's stated
// defaults.
type Config struct {
	SizeThresholdBytes int64
	CountThreshold     int
	TargetSizeBytes    int64
	GracePeriod        time.Duration
	LeaseTTL           time.Duration
	Interval           time.Duration
}

// DefaultConfig matches spec.md §4.I's stated defaults: 256 MiB merge
// target, 30 minute grace period.
func DefaultConfig() Config {
	return Config{
		SizeThresholdBytes: 64 << 20,
		CountThreshold:     4,
		TargetSizeBytes:    256 << 20,
		GracePeriod:        30 * time.Minute,
		LeaseTTL:           time.Minute,
		Interval:           time.Minute,
	}
}

// RetentionLookup resolves a stream's configured retention window.
type RetentionLookup interface {
	RetentionHours(ctx context.Context, org, stream string) (int, error)
}

// Compactor owns the leader-elected compaction and retention loops.
type Compactor struct {
	log       *zap.Logger
	cfg       Config
	meta      metastore.Store
	store     objectstore.Store
	writer    *partition.Writer
	retention RetentionLookup
}

// New constructs a Compactor.
func New(log *zap.Logger, cfg Config, meta metastore.Store, store objectstore.Store, writer *partition.Writer, retention RetentionLookup) *Compactor {
	return &Compactor{log: log, cfg: cfg, meta: meta, store: store, writer: writer, retention: retention}
}

// Run loops until ctx is cancelled, renewing leadership and, while leader,
// running one selection+compaction+retention pass per cfg.Interval.
func (c *Compactor) Run(ctx context.Context) error {
	lease, err := c.acquireLeader(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if lease != "" {
			_ = c.meta.Release(context.Background(), lease)
		}
	}()

	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if lease == "" {
				lease, err = c.acquireLeader(ctx)
				if err != nil {
					continue
				}
			}
			if err := c.meta.Renew(ctx, lease, c.cfg.LeaseTTL); err != nil {
				c.logWarn("compactor: lost leadership", err)
				lease = ""
				continue
			}
			if err := c.RunOnce(ctx); err != nil {
				c.logWarn("compactor: pass failed", err)
			}
		}
	}
}

func (c *Compactor) acquireLeader(ctx context.Context) (metastore.LeaseID, error) {
	lease, err := c.meta.Lease(ctx, leaderKey, c.cfg.LeaseTTL)
	if err != nil {
		if metastore.ErrLeaseHeld.Has(err) {
			return "", nil
		}
		return "", ErrCompactor.Wrap(err)
	}
	return lease, nil
}

func (c *Compactor) logWarn(msg string, err error) {
	if c.log != nil {
		c.log.Warn(msg, zap.Error(err))
	}
}

// RunOnce runs one selection+compaction pass followed by a retention sweep,
// without regard for leadership (callers drive leader-only invocation via
// Run).
func (c *Compactor) RunOnce(ctx context.Context) error {
	units, err := c.SelectWork(ctx)
	if err != nil {
		return err
	}
	for _, unit := range units {
		if err := c.Compact(ctx, unit); err != nil {
			c.logWarn("compactor: compaction failed", err)
		}
	}
	return c.SweepRetention(ctx)
}

// WorkUnit is one candidate set of partitions to merge, per spec.md §4.I.
type WorkUnit struct {
	Org        string
	Stream     string
	HourBucket int64 // hour bucket, seconds since epoch truncated to the hour
	Inputs     []catalog.ManifestRecord
}

const hourMicros = int64(time.Hour / time.Microsecond)

// SelectWork scans every live partition manifest and, for each (org,
// stream, hour-bucket) whose accumulated size and count exceed the
// configured thresholds, greedily selects the smallest-N inputs whose
// merged size stays at or below TargetSizeBytes, per spec.md §4.I.
func (c *Compactor) SelectWork(ctx context.Context) ([]WorkUnit, error) {
	items, err := c.meta.Scan(ctx, "/org/", "", "", 0)
	if err != nil {
		return nil, ErrCompactor.Wrap(err)
	}

	type bucketKey struct {
		org, stream string
		hour        int64
	}
	buckets := make(map[bucketKey][]catalog.ManifestRecord)
	for _, item := range items {
		rec, err := catalog.Unmarshal(item.Value)
		if err != nil || rec.Superseded {
			continue
		}
		bk := bucketKey{org: rec.Org, stream: rec.Stream, hour: rec.MinTS / hourMicros}
		buckets[bk] = append(buckets[bk], rec)
	}

	var units []WorkUnit
	for bk, recs := range buckets {
		var total int64
		for _, r := range recs {
			total += r.ByteSize
		}
		if total < c.cfg.SizeThresholdBytes || len(recs) < c.cfg.CountThreshold {
			continue
		}
		sort.Slice(recs, func(i, j int) bool { return recs[i].ByteSize < recs[j].ByteSize })
		var selected []catalog.ManifestRecord
		var sum int64
		for _, r := range recs {
			if sum+r.ByteSize > c.cfg.TargetSizeBytes && len(selected) > 0 {
				break
			}
			selected = append(selected, r)
			sum += r.ByteSize
		}
		if len(selected) < 2 {
			continue
		}
		units = append(units, WorkUnit{Org: bk.org, Stream: bk.stream, HourBucket: bk.hour * hourMicros, Inputs: selected})
	}
	return units, nil
}

type mergedRow struct {
	ts     int64
	fields map[string]any
}

// Compact reads every input's rows in timestamp order, writes one successor
// partition, registers it, and marks the inputs superseded so the retention
// sweep can delete them once the grace period elapses, per spec.md §4.I.
func (c *Compactor) Compact(ctx context.Context, unit WorkUnit) error {
	var rows []mergedRow
	var schemaID int64
	for _, in := range unit.Inputs {
		schemaID = in.SchemaID
		got, err := readPartitionRows(ctx, c.store, in.Key)
		if err != nil {
			return ErrCompactor.Wrap(err)
		}
		rows = append(rows, got...)
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].ts < rows[j].ts })

	sealed := buildSealed(unit.Org, unit.Stream, rows)
	manifest, err := c.writer.Write(ctx, unit.Org, unit.Stream, schemaID, sealed)
	if err != nil {
		return ErrCompactor.Wrap(err)
	}

	rec := catalog.FromManifest(manifest, "compactor", 0, 0)
	raw, err := catalog.Marshal(rec)
	if err != nil {
		return ErrCompactor.Wrap(err)
	}
	if err := c.meta.Put(ctx, catalog.Key(unit.Org, unit.Stream, manifest.ID), 0, raw); err != nil {
		return ErrCompactor.Wrap(err)
	}

	for _, in := range unit.Inputs {
		if err := c.markSuperseded(ctx, unit.Org, unit.Stream, in); err != nil {
			c.logWarn("compactor: failed to mark superseded", err)
		}
	}

	if c.log != nil {
		c.log.Info("compactor: merged partitions",
			zap.String("org", unit.Org), zap.String("stream", unit.Stream),
			zap.Int("inputs", len(unit.Inputs)), zap.String("output", manifest.ID))
	}
	return nil
}

func (c *Compactor) markSuperseded(ctx context.Context, org, stream string, in catalog.ManifestRecord) error {
	key := catalog.Key(org, stream, in.PartitionID)
	item, err := c.meta.Get(ctx, key)
	if err != nil {
		return ErrCompactor.Wrap(err)
	}
	rec, err := catalog.Unmarshal(item.Value)
	if err != nil {
		return ErrCompactor.Wrap(err)
	}
	if rec.Superseded {
		return nil
	}
	rec.Superseded = true
	rec.SupersededAtMicros = time.Now().UnixMicro()
	raw, err := catalog.Marshal(rec)
	if err != nil {
		return ErrCompactor.Wrap(err)
	}
	return ErrCompactor.Wrap(c.meta.Put(ctx, key, item.Version, raw))
}

// readPartitionRows opens the partition at key and decodes every block's
// rows into the row-major shape Compact merges on.
func readPartitionRows(ctx context.Context, store objectstore.Store, key string) ([]mergedRow, error) {
	rc, err := store.Get(ctx, key, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rc.Close() }()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, err
	}

	pr, err := partition.Open(bytesReaderAt(data), int64(len(data)))
	if err != nil {
		return nil, err
	}

	var rows []mergedRow
	for i := range pr.Blocks {
		block, err := pr.ReadBlock(i)
		if err != nil {
			return nil, err
		}
		ts := block.Columns["_timestamp"]
		for r := 0; r < block.RowCount; r++ {
			fields := make(map[string]any, len(block.Columns))
			for name, values := range block.Columns {
				if name == "_timestamp" {
					continue
				}
				if r < len(values) {
					fields[name] = values[r]
				}
			}
			rowTS, _ := toInt64(ts[r])
			rows = append(rows, mergedRow{ts: rowTS, fields: fields})
		}
	}
	return rows, nil
}

// valueFieldType derives a column's display/bloom-eligibility type from a
// decoded JSON value, mirroring how the memtable classifies freshly ingested
// fields.
func valueFieldType(v any) model.FieldType {
	switch v.(type) {
	case bool:
		return model.FieldBool
	case int, int32, int64:
		return model.FieldI64
	case float64, float32:
		return model.FieldF64
	case string:
		return model.FieldUTF8
	case []byte:
		return model.FieldBinary
	default:
		return model.FieldUTF8
	}
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

// buildSealed assembles a memtable.Sealed spanning every column seen across
// rows, padding absent fields with nil so every column stays row-aligned.
func buildSealed(org, stream string, rows []mergedRow) memtable.Sealed {
	order := make([]string, 0)
	index := make(map[string]int)
	for _, r := range rows {
		for name := range r.fields {
			if _, ok := index[name]; !ok {
				index[name] = len(order)
				order = append(order, name)
			}
		}
	}

	columns := make([]memtable.Column, len(order))
	for i, name := range order {
		columns[i] = memtable.Column{Name: name, Values: make([]any, len(rows))}
	}
	typed := make([]bool, len(order))
	timestamps := make([]int64, len(rows))
	var minTS, maxTS int64
	for i, r := range rows {
		timestamps[i] = r.ts
		if i == 0 || r.ts < minTS {
			minTS = r.ts
		}
		if r.ts > maxTS {
			maxTS = r.ts
		}
		for name, v := range r.fields {
			idx := index[name]
			columns[idx].Values[i] = v
			if v != nil && !typed[idx] {
				columns[idx].Type = valueFieldType(v)
				typed[idx] = true
			}
		}
	}

	return memtable.Sealed{
		Org: org, Stream: stream,
		MinTS: minTS, MaxTS: maxTS, RowCount: len(rows),
		Timestamps: timestamps, Columns: columns,
	}
}

// bytesReaderAt adapts a byte slice to io.ReaderAt, honoring its contract on
// short final reads.
type bytesReaderAt []byte

func (b bytesReaderAt) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off >= int64(len(b)) {
		return 0, io.EOF
	}
	n := copy(p, b[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}
