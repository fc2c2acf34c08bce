package memtable

import (
	"context"

	"go.uber.org/zap"

	"go.obscore.dev/obscore/internal/schema"
	"go.obscore.dev/obscore/internal/wal"
)

// Recover replays every un-truncated WAL segment in dir into a fresh
// memtable, per spec.md §4.C's recovery contract: "on startup, replay every
// un-truncated WAL segment into a fresh memtable, then immediately flush."
// The returned Memtable is already sealed; the caller is responsible for
// handing its Seal() result to the Partition Writer and then truncating the
// WAL up to the highest replayed sequence.
func Recover(log *zap.Logger, cfg Config, dir string, w *wal.WAL, reg *schema.Registry, h schema.Handle) (*Memtable, wal.ReplayResult, error) {
	mt := New(log, cfg, w, reg, h)

	result, err := wal.Replay(dir, func(e *wal.Entry) error {
		for _, row := range e.Rows {
			prop := reg.Observe(h, row.Fields)
			if prop.Changed {
				// replay runs before the stream accepts new writes, so a
				// CAS conflict here means a concurrent writer raced us;
				// surface it rather than silently dropping the row.
				if err := reg.Commit(context.Background(), h, prop); err != nil && !schema.ErrConflict.Has(err) {
					return err
				}
			}
			mt.mu.Lock()
			mt.insertLocked(row.TimestampMicros, row.Fields)
			mt.mu.Unlock()
		}
		return nil
	})
	if err != nil {
		return nil, result, ErrMemtable.Wrap(err)
	}
	if log != nil {
		log.Info("memtable: recovered from wal",
			zap.Int("entries", result.EntriesReplayed),
			zap.Int("rows", result.RowsReplayed),
			zap.Int("skipped", result.SkippedEntries))
	}
	return mt, result, nil
}
