// Package ingest wires the §6 ingestion HTTP surface to the rest of the
// pipeline: the Record Normalizer (internal/record), the Schema Registry
// (internal/schema), the Memtable/WAL (internal/memtable, internal/wal),
// and the Partition Writer/Metadata Store (internal/partition,
// internal/metastore) for flush and registration.
package ingest

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"time"

	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"go.obscore.dev/obscore/internal/memtable"
	"go.obscore.dev/obscore/internal/metastore"
	"go.obscore.dev/obscore/internal/metastore/catalog"
	"go.obscore.dev/obscore/internal/model"
	"go.obscore.dev/obscore/internal/objectstore"
	"go.obscore.dev/obscore/internal/partition"
	"go.obscore.dev/obscore/internal/record"
	"go.obscore.dev/obscore/internal/schema"
	"go.obscore.dev/obscore/internal/wal"
)

// ErrIngest is the general-purpose error class for the ingestion pipeline.
var ErrIngest = errs.Class("ingest")

// StreamCatalog resolves a stream's declared ingestion policy, creating a
// default registration on first use, per spec.md §3's "created on first
// successful write" stream lifecycle rule.
type StreamCatalog interface {
	GetOrCreateStream(ctx context.Context, org, stream string, kind model.StreamKind) (model.Stream, error)
}

// Config bounds the pipeline's memtable/WAL/partition behavior.
type Config struct {
	WALDir        string
	Memtable      memtable.Config
	Partition     partition.Config
	IngesterID    string
	FlushInterval time.Duration
}

// Pipeline routes normalized records into the right (org, stream) memtable,
// flushing sealed memtables into partitions on its own background loop.
type Pipeline struct {
	log      *zap.Logger
	cfg      Config
	meta     metastore.Store
	schemas  *schema.Registry
	streams  StreamCatalog
	writer   *partition.Writer

	mu     sync.Mutex
	tables map[string]*shardState
}

type shardState struct {
	mu       sync.Mutex
	org      string
	stream   string
	schemaID int64
	handle   schema.Handle
	wal      *wal.WAL
	mt       *memtable.Memtable
	seq      uint64
}

// New constructs a Pipeline. store is the object store partitions are
// flushed to; meta is the metadata store partitions and schemas register
// against.
func New(log *zap.Logger, cfg Config, meta metastore.Store, store objectstore.Store, streams StreamCatalog) *Pipeline {
	return &Pipeline{
		log:     log,
		cfg:     cfg,
		meta:    meta,
		schemas: schema.NewRegistry(schemaStoreAdapter{meta}),
		streams: streams,
		writer:  partition.NewWriter(log, cfg.Partition, store),
		tables:  make(map[string]*shardState),
	}
}

// RecordError describes one input record that failed normalization or
// insertion; it never aborts the rest of the batch, per spec.md §4.A's
// "dropped and counted, never retried" rule.
type RecordError struct {
	Index int    `json:"index"`
	Error string `json:"error"`
}

// Result is the per-batch outcome returned to the HTTP layer, matching
// spec.md §6's `{code, successful, failed, errors[]}` ingestion response
// shape.
type Result struct {
	Successful int           `json:"successful"`
	Failed     int           `json:"failed"`
	Errors     []RecordError `json:"errors,omitempty"`
}

// Ingest normalizes each raw body via n, routes accepted records into the
// (org, stream) memtable (deriving the stream name per body when hints
// leaves it to the normalizer, e.g. OTLP/Loki; stream is pre-resolved and
// fixed for json-batch/bulk via the URL path), and returns a per-record
// result.
func (p *Pipeline) Ingest(ctx context.Context, org string, kind model.StreamKind, format record.SourceFormat, hints record.Hints, bodies []map[string]any) (Result, error) {
	n := record.New(model.DefaultIngestionPolicy())
	var res Result

	byStream := make(map[string][]model.Record)
	for i, body := range bodies {
		streamName, rec, err := n.Normalize(format, hints, body)
		if err != nil {
			res.Failed++
			res.Errors = append(res.Errors, RecordError{Index: i, Error: err.Error()})
			continue
		}
		byStream[streamName] = append(byStream[streamName], rec)
	}

	for streamName, records := range byStream {
		st, err := p.stateFor(ctx, org, streamName, kind)
		if err != nil {
			res.Failed += len(records)
			res.Errors = append(res.Errors, RecordError{Error: err.Error()})
			continue
		}
		st.mu.Lock()
		_, err = st.mt.InsertBatch(ctx, org, streamName, records)
		shouldFlush := st.mt.ShouldFlush()
		st.mu.Unlock()
		if err != nil {
			res.Failed += len(records)
			res.Errors = append(res.Errors, RecordError{Error: err.Error()})
			continue
		}
		res.Successful += len(records)
		if shouldFlush {
			if err := p.flush(ctx, st); err != nil {
				p.log.Warn("ingest: flush failed", zap.String("org", org), zap.String("stream", streamName), zap.Error(err))
			}
		}
	}
	return res, nil
}

func (p *Pipeline) stateFor(ctx context.Context, org, stream string, kind model.StreamKind) (*shardState, error) {
	key := org + "/" + stream
	p.mu.Lock()
	st, ok := p.tables[key]
	p.mu.Unlock()
	if ok {
		return st, nil
	}

	if p.streams != nil {
		if _, err := p.streams.GetOrCreateStream(ctx, org, stream, kind); err != nil {
			return nil, ErrIngest.Wrap(err)
		}
	}

	handle, err := p.schemas.GetOrInit(ctx, org, stream, kind)
	if err != nil {
		return nil, ErrIngest.Wrap(err)
	}

	walCfg := wal.DefaultConfig(filepath.Join(p.cfg.WALDir, org, stream))
	w, err := wal.Open(p.log, walCfg)
	if err != nil {
		return nil, ErrIngest.Wrap(err)
	}

	mtCfg := p.cfg.Memtable
	if mtCfg.MaxBytes == 0 {
		mtCfg = memtable.DefaultConfig()
	}
	newState := &shardState{
		org: org, stream: stream,
		handle: handle,
		wal:    w,
		mt:     memtable.New(p.log, mtCfg, w, p.schemas, handle),
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if existing, ok := p.tables[key]; ok {
		return existing, nil
	}
	p.tables[key] = newState
	return newState, nil
}

// flush seals st's memtable, writes a partition, registers it in the
// metadata store, truncates the WAL up to the flushed sequence, and
// installs a fresh memtable for subsequent writes, per spec.md §4.C/§4.D.
func (p *Pipeline) flush(ctx context.Context, st *shardState) error {
	st.mu.Lock()
	sealed := st.mt.Seal()
	seq := st.seq
	st.mu.Unlock()

	if sealed.RowCount == 0 {
		return nil
	}

	schemaID := st.schemaID
	if item, err := p.meta.Get(ctx, schemaKey(st.org, st.stream)); err == nil {
		schemaID = item.Version
	}

	manifest, err := p.writer.Write(ctx, st.org, st.stream, schemaID, sealed)
	if err != nil {
		return ErrIngest.Wrap(err)
	}

	rec := catalog.FromManifest(manifest, p.cfg.IngesterID, 0, seq)
	raw, err := catalog.Marshal(rec)
	if err != nil {
		return ErrIngest.Wrap(err)
	}
	if err := p.meta.Put(ctx, catalog.Key(st.org, st.stream, manifest.ID), 0, raw); err != nil {
		return ErrIngest.Wrap(err)
	}

	st.mu.Lock()
	if err := st.wal.Truncate(seq); err != nil {
		p.log.Warn("ingest: wal truncate failed", zap.Error(err))
	}
	st.mt = memtable.New(p.log, p.cfg.Memtable, st.wal, p.schemas, st.handle)
	st.mu.Unlock()
	return nil
}

// FlushAll seals and registers every shard with pending rows; used by
// cluster handover (spec.md §4.J) and graceful shutdown.
func (p *Pipeline) FlushAll(ctx context.Context) error {
	p.mu.Lock()
	states := make([]*shardState, 0, len(p.tables))
	for _, st := range p.tables {
		states = append(states, st)
	}
	p.mu.Unlock()

	var firstErr error
	for _, st := range states {
		if err := p.flush(ctx, st); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// FlushStream flushes exactly one (org, stream)'s shard, per spec.md §4.J's
// cooperative handover ("flushes its memtable and truncates the WAL").
func (p *Pipeline) FlushStream(ctx context.Context, org, stream string) error {
	p.mu.Lock()
	st, ok := p.tables[org+"/"+stream]
	p.mu.Unlock()
	if !ok {
		return nil
	}
	return p.flush(ctx, st)
}

// RunFlushLoop periodically flushes every shard whose memtable has crossed
// a flush trigger, until ctx is cancelled.
func (p *Pipeline) RunFlushLoop(ctx context.Context) {
	interval := p.cfg.FlushInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.mu.Lock()
			states := make([]*shardState, 0, len(p.tables))
			for _, st := range p.tables {
				states = append(states, st)
			}
			p.mu.Unlock()
			for _, st := range states {
				st.mu.Lock()
				due := st.mt.ShouldFlush()
				st.mu.Unlock()
				if due {
					if err := p.flush(ctx, st); err != nil {
						p.log.Warn("ingest: periodic flush failed", zap.String("org", st.org), zap.String("stream", st.stream), zap.Error(err))
					}
				}
			}
		}
	}
}

// schemaStoreAdapter satisfies schema.Store over the metadata store's CAS
// primitives, storing each stream's schema at a dedicated catalog key.
type schemaStoreAdapter struct {
	meta metastore.Store
}

func (a schemaStoreAdapter) GetSchema(ctx context.Context, org, stream string) (*schema.Version, error) {
	item, err := a.meta.Get(ctx, schemaKey(org, stream))
	if err != nil {
		if metastore.ErrNotFound.Has(err) {
			return nil, nil
		}
		return nil, err
	}
	var v schema.Version
	if err := json.Unmarshal(item.Value, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

// PutSchema's expectedVersion is schema.Registry's own version counter,
// which increments in lockstep with this key's metastore CAS version since
// this adapter is the only writer of schemaKey(org, stream); the two
// numbers stay identical by construction.
func (a schemaStoreAdapter) PutSchema(ctx context.Context, org, stream string, expected int64, v *schema.Version) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	err = a.meta.Put(ctx, schemaKey(org, stream), expected, raw)
	if metastore.ErrConflict.Has(err) {
		return schema.ErrConflict.Wrap(err)
	}
	return err
}

func schemaKey(org, stream string) string {
	return "/org/" + org + "/schemas/" + stream
}
