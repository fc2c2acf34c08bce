package wal

import (
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/zeebo/errs"
	"go.uber.org/zap"
)

// ErrWAL is the general-purpose error class for WAL operations.
var ErrWAL = errs.Class("wal")

// WAL manages an append-only sequence of segments on local disk for one
// (org, stream). Append is synchronous: it returns only after the entry has
// been framed into the writer's buffer and (depending on sync policy)
// fsynced, satisfying spec.md §4.C step 2.
type WAL struct {
	log *zap.Logger
	cfg Config

	mu       sync.Mutex
	segments []*segment
	nextSeq  uint64
	active   *segment
	segSeq   uint64
}

// Open creates the WAL directory if needed and prepares a fresh active
// segment. Replay of pre-existing segments is the caller's responsibility
// (see Replay) since it must happen before new writes are accepted.
func Open(log *zap.Logger, cfg Config) (*WAL, error) {
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, ErrWAL.Wrap(err)
	}
	w := &WAL{log: log, cfg: cfg}
	if err := w.rotateLocked(); err != nil {
		return nil, err
	}
	return w, nil
}

// Append frames entry and writes it to the active segment, rotating to a
// new segment first if the size threshold would be exceeded. It returns the
// sequence id assigned to the entry.
func (w *WAL) Append(e *Entry) (uint64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.nextSeq++
	e.SequenceID = w.nextSeq

	if w.active.meta.Size > 0 && w.active.meta.Size+estimateSize(e) > w.cfg.SegmentBytes {
		if err := w.rotateLocked(); err != nil {
			return 0, err
		}
	}

	if _, err := w.active.append(e); err != nil {
		return 0, ErrWAL.Wrap(err)
	}
	if err := w.active.maybeSync(w.cfg.SyncPolicy == SyncDurable); err != nil {
		return 0, ErrWAL.Wrap(err)
	}
	return e.SequenceID, nil
}

// Sync forces a durable flush of the active segment regardless of policy;
// used by the group-commit background ticker (spec.md §4.C: fsync at a
// bounded interval ≤ 200ms).
func (w *WAL) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return ErrWAL.Wrap(w.active.maybeSync(true))
}

// Rotate seals the active segment and starts a fresh one, returning the
// sealed segment's metadata so the caller can hand it to the Partition
// Writer once the covering memtable has been flushed.
func (w *WAL) Rotate() (SegmentMeta, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	sealed := w.active.meta
	if err := w.rotateLocked(); err != nil {
		return SegmentMeta{}, err
	}
	return sealed, nil
}

func (w *WAL) rotateLocked() error {
	if w.active != nil {
		if err := w.active.maybeSync(true); err != nil {
			return ErrWAL.Wrap(err)
		}
		if err := w.active.close(); err != nil {
			return ErrWAL.Wrap(err)
		}
		w.segments = append(w.segments, w.active)
	}
	w.segSeq++
	path := filepath.Join(w.cfg.Dir, segmentFilename(w.segSeq))
	seg, err := createSegment(path, w.segSeq, w.cfg)
	if err != nil {
		return ErrWAL.Wrap(err)
	}
	w.active = seg
	if w.log != nil {
		w.log.Debug("wal: rotated segment", zap.String("path", path))
	}
	return nil
}

// Truncate removes segments fully covered by a durably registered partition,
// per spec.md §4.C: "the WAL segment ... is marked for truncation after the
// writer reports durable."
func (w *WAL) Truncate(upToSeq uint64) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	var kept []*segment
	for _, seg := range w.segments {
		if seg.meta.LastSeq <= upToSeq {
			if err := os.Remove(seg.meta.Path); err != nil && !os.IsNotExist(err) {
				return ErrWAL.Wrap(err)
			}
			seg.meta.Truncated = true
			continue
		}
		kept = append(kept, seg)
	}
	w.segments = kept
	return nil
}

// Replay reads every un-truncated segment in dir in creation order and
// invokes fn for each entry, rebuilding a fresh memtable per spec.md §4.C's
// recovery contract. It must be called before Open accepts new writes.
func Replay(dir string, fn func(*Entry) error) (ReplayResult, error) {
	paths, err := listSegmentFiles(dir)
	if err != nil {
		return ReplayResult{}, ErrWAL.Wrap(err)
	}

	var result ReplayResult
	for _, p := range paths {
		id := segmentIDFromFilename(p)
		entries, err := replaySegment(filepath.Join(dir, p))
		if err != nil {
			return result, ErrWAL.Wrap(err)
		}
		var meta SegmentMeta
		meta.ID = id
		meta.Path = filepath.Join(dir, p)
		for _, e := range entries {
			if err := fn(e); err != nil {
				result.SkippedEntries++
				continue
			}
			result.EntriesReplayed++
			result.RowsReplayed += len(e.Rows)
			if meta.FirstSeq == 0 || e.SequenceID < meta.FirstSeq {
				meta.FirstSeq = e.SequenceID
			}
			if e.SequenceID > meta.LastSeq {
				meta.LastSeq = e.SequenceID
			}
		}
		result.Segments = append(result.Segments, meta)
	}
	return result, nil
}

// Close flushes and closes the active segment.
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return ErrWAL.Wrap(w.active.close())
}

func estimateSize(e *Entry) int64 {
	n := int64(64)
	for _, row := range e.Rows {
		n += int64(64 + len(row.Fields)*32)
	}
	return n
}

func segmentFilename(id uint64) string {
	return "segment-" + strconv.FormatUint(id, 10) + ".wal"
}

func segmentIDFromFilename(name string) uint64 {
	name = strings.TrimPrefix(name, "segment-")
	name = strings.TrimSuffix(name, ".wal")
	id, _ := strconv.ParseUint(name, 10, 64)
	return id
}

func listSegmentFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), "segment-") {
			names = append(names, e.Name())
		}
	}
	sort.Slice(names, func(i, j int) bool {
		return segmentIDFromFilename(names[i]) < segmentIDFromFilename(names[j])
	})
	return names, nil
}
