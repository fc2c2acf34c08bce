package partition

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"go.obscore.dev/obscore/internal/bloomfilter"
	"go.obscore.dev/obscore/internal/memtable"
	"go.obscore.dev/obscore/internal/model"
	"go.obscore.dev/obscore/internal/objectstore"
)

// ErrPartition is the general-purpose error class for partition I/O.
var ErrPartition = errs.Class("partition")

// timestampColumn is the implicit, always-present row timestamp column, per
// spec.md §6's `_timestamp` references.
const timestampColumn = "_timestamp"

// Config controls block sizing and compression for the Partition Writer.
type Config struct {
	RowsPerBlock  int
	ZstdLevel     zstd.EncoderLevel
	CacheDir      string
}

// DefaultConfig matches spec.md §4.D's stated defaults.
func DefaultConfig(cacheDir string) Config {
	return Config{
		RowsPerBlock: defaultRowsPerBlock,
		ZstdLevel:    zstd.SpeedDefault,
		CacheDir:     cacheDir,
	}
}

// Writer flushes sealed memtables to the self-describing partition file
// format and uploads them to object storage, per spec.md §4.D.
type Writer struct {
	log   *zap.Logger
	cfg   Config
	store objectstore.Store
}

// NewWriter constructs a Writer that stages files under cfg.CacheDir before
// uploading to store.
func NewWriter(log *zap.Logger, cfg Config, store objectstore.Store) *Writer {
	return &Writer{log: log, cfg: cfg, store: store}
}

// Write encodes sealed as a partition file, stages it in the local cache
// directory via temp-file-then-atomic-rename, uploads it to object storage,
// and returns its Manifest. The metadata store registration is the caller's
// responsibility, performed only after Write returns successfully (spec.md
// §4.D: "the metadata store is updated only after the upload is
// acknowledged").
func (w *Writer) Write(ctx context.Context, org, stream string, schemaID int64, sealed memtable.Sealed) (Manifest, error) {
	id := uuid.New().String()

	if err := os.MkdirAll(w.cfg.CacheDir, 0o755); err != nil {
		return Manifest{}, ErrPartition.Wrap(err)
	}
	tmp, err := os.CreateTemp(w.cfg.CacheDir, ".part-*")
	if err != nil {
		return Manifest{}, ErrPartition.Wrap(err)
	}
	tmpPath := tmp.Name()
	defer func() { _ = os.Remove(tmpPath) }()

	manifest, byteSize, err := encode(tmp, id, org, stream, schemaID, sealed, w.cfg)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return Manifest{}, ErrPartition.Wrap(err)
	}
	manifest.ByteSize = byteSize

	finalPath := filepath.Join(w.cfg.CacheDir, id+".part")
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return Manifest{}, ErrPartition.Wrap(err)
	}

	key := objectKey(org, stream, time.UnixMicro(sealed.MinTS), id)
	f, err := os.Open(finalPath)
	if err != nil {
		return Manifest{}, ErrPartition.Wrap(err)
	}
	defer func() { _ = f.Close() }()

	if err := w.store.Put(ctx, key, f, byteSize); err != nil {
		return Manifest{}, ErrPartition.Wrap(err)
	}
	manifest.Key = key

	if w.log != nil {
		w.log.Info("partition: flushed",
			zap.String("id", id), zap.Int("rows", sealed.RowCount), zap.String("key", key))
	}
	return manifest, nil
}

func objectKey(org, stream string, ts time.Time, id string) string {
	return org + "/" + stream + "/" + ts.UTC().Format("2006/01/02/15") + "/" + id + ".part"
}

// encode writes the full file format (header, blocks, footer) to dst and
// returns the resulting Manifest and total byte size.
func encode(dst io.Writer, id, org, stream string, schemaID int64, sealed memtable.Sealed, cfg Config) (Manifest, int64, error) {
	var written int64
	countingWriter := func(w io.Writer, n *int64) io.Writer {
		return writerFunc(func(p []byte) (int, error) {
			k, err := w.Write(p)
			*n += int64(k)
			return k, err
		})
	}
	cw := countingWriter(dst, &written)

	// header: magic + footer_offset placeholder (patched via a buffer since
	// dst may be a non-seekable writer in tests; the writer always receives
	// a real *os.File in production, which we just as happily buffer here
	// for a simpler single-pass implementation).
	var buf bytes.Buffer
	buf.Write(magic[:])
	var footerOffsetPlaceholder [8]byte
	buf.Write(footerOffsetPlaceholder[:])

	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(cfg.ZstdLevel))
	if err != nil {
		return Manifest{}, 0, err
	}
	defer enc.Close()

	rowsPerBlock := cfg.RowsPerBlock
	if rowsPerBlock <= 0 {
		rowsPerBlock = defaultRowsPerBlock
	}

	var blocks []BlockMeta
	for start := 0; start < sealed.RowCount; start += rowsPerBlock {
		end := start + rowsPerBlock
		if end > sealed.RowCount {
			end = sealed.RowCount
		}
		offset := int64(buf.Len())
		minTS, maxTS, n, err := writeBlock(&buf, enc, sealed, start, end)
		if err != nil {
			return Manifest{}, 0, err
		}
		blocks = append(blocks, BlockMeta{
			Offset: offset, Length: int64(buf.Len()) - offset,
			RowCount: end - start, MinTS: minTS, MaxTS: maxTS,
		})
		_ = n
	}

	footerOffset := int64(buf.Len())
	columns := buildColumnStats(sealed)
	if err := writeFooter(&buf, blocks, columns); err != nil {
		return Manifest{}, 0, err
	}

	out := buf.Bytes()
	binary.LittleEndian.PutUint64(out[8:16], uint64(footerOffset))

	if _, err := cw.Write(out); err != nil {
		return Manifest{}, 0, err
	}

	manifest := Manifest{
		ID: id, Org: org, Stream: stream, SchemaID: schemaID,
		MinTS: sealed.MinTS, MaxTS: sealed.MaxTS, RowCount: sealed.RowCount,
		Columns: columns, Blocks: blocks,
	}
	return manifest, written, nil
}

type writerFunc func(p []byte) (int, error)

func (f writerFunc) Write(p []byte) (int, error) { return f(p) }

// writeBlock serializes rows [start,end) of every column as a JSON array,
// zstd-compresses it, and appends a length-prefixed frame to buf.
func writeBlock(buf *bytes.Buffer, enc *zstd.Encoder, sealed memtable.Sealed, start, end int) (minTS, maxTS int64, rows int, err error) {
	type blockPayload struct {
		Columns []string `json:"columns"`
		Values  [][]any  `json:"values"`
	}
	payload := blockPayload{}
	for _, col := range sealed.Columns {
		payload.Columns = append(payload.Columns, col.Name)
		payload.Values = append(payload.Values, col.Values[start:end])
	}
	// _timestamp rides along as an ordinary queryable column so the executor
	// can filter/sort/project it exactly like any other field, per spec.md
	// §6's `WHERE _timestamp BETWEEN …` / `ORDER BY _timestamp`.
	tsValues := make([]any, end-start)
	for i, ts := range sealed.Timestamps[start:end] {
		tsValues[i] = ts
	}
	payload.Columns = append(payload.Columns, timestampColumn)
	payload.Values = append(payload.Values, tsValues)

	raw, err := json.Marshal(payload)
	if err != nil {
		return 0, 0, 0, errs.Wrap(err)
	}
	compressed := enc.EncodeAll(raw, nil)

	var header [8]byte
	binary.LittleEndian.PutUint32(header[0:4], uint32(len(compressed)))
	binary.LittleEndian.PutUint32(header[4:8], crc32.ChecksumIEEE(compressed))
	buf.Write(header[:])
	buf.Write(compressed)

	minTS, maxTS = blockTimeRange(sealed.Timestamps, start, end)
	return minTS, maxTS, end - start, nil
}

func blockTimeRange(timestamps []int64, start, end int) (min, max int64) {
	if start >= len(timestamps) {
		return 0, 0
	}
	if end > len(timestamps) {
		end = len(timestamps)
	}
	min, max = timestamps[start], timestamps[start]
	for _, ts := range timestamps[start:end] {
		if ts < min {
			min = ts
		}
		if ts > max {
			max = ts
		}
	}
	return min, max
}

// buildColumnStats computes min/max/null-count/bloom for every column in
// sealed, capping bloom filters at maxBloomColumns as spec.md §4.D allows.
func buildColumnStats(sealed memtable.Sealed) []ColumnStats {
	stats := make([]ColumnStats, len(sealed.Columns))
	bloomBudget := maxBloomColumns
	for i, col := range sealed.Columns {
		cs := ColumnStats{FieldID: i, Name: col.Name, Type: col.Type}
		var bf *bloomfilter.Filter
		wantBloom := bloomBudget > 0 && isBloomCandidate(col)
		if wantBloom {
			bf = bloomfilter.NewFilter(maxInt(len(col.Values), 1), bloomFalsePositiveRate)
			bloomBudget--
		}
		for _, v := range col.Values {
			if v == nil {
				cs.NullCount++
				continue
			}
			updateMinMax(&cs, v)
			if bf != nil {
				bf.Add([]byte(toBloomKey(v)))
			}
		}
		if bf != nil {
			cs.HasBloom = true
			cs.Bloom = bf.Bytes()
			cs.BloomK = bf.K()
		}
		stats[i] = cs
	}
	return stats
}

func isBloomCandidate(col memtable.Column) bool {
	return col.Type == model.FieldUTF8
}

func toBloomKey(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	b, _ := json.Marshal(v)
	return string(b)
}

func updateMinMax(cs *ColumnStats, v any) {
	if cs.Min == nil || lessValue(v, cs.Min) {
		cs.Min = v
	}
	if cs.Max == nil || lessValue(cs.Max, v) {
		cs.Max = v
	}
}

// lessValue compares two values of the same underlying column type. Mixed
// types (possible mid-widen) fall back to string comparison of their JSON
// form so stats remain total-ordered.
func lessValue(a, b any) bool {
	switch av := a.(type) {
	case int64:
		if bv, ok := b.(int64); ok {
			return av < bv
		}
	case float64:
		if bv, ok := b.(float64); ok {
			return av < bv
		}
	case string:
		if bv, ok := b.(string); ok {
			return av < bv
		}
	case bool:
		if bv, ok := b.(bool); ok {
			return !av && bv
		}
	}
	ab, _ := json.Marshal(a)
	bb, _ := json.Marshal(b)
	return string(ab) < string(bb)
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// writeFooter appends the block directory, per-column stats, and a CRC32
// trailer to buf, per spec.md §4.D's footer layout.
func writeFooter(buf *bytes.Buffer, blocks []BlockMeta, columns []ColumnStats) error {
	type footerDoc struct {
		Blocks  []BlockMeta   `json:"blocks"`
		Columns []ColumnStats `json:"columns"`
	}
	raw, err := json.Marshal(footerDoc{Blocks: blocks, Columns: columns})
	if err != nil {
		return errs.Wrap(err)
	}
	var lenHeader [4]byte
	binary.LittleEndian.PutUint32(lenHeader[:], uint32(len(raw)))
	buf.Write(lenHeader[:])
	buf.Write(raw)

	crc := crc32.ChecksumIEEE(raw)
	var crcBytes [4]byte
	binary.LittleEndian.PutUint32(crcBytes[:], crc)
	buf.Write(crcBytes[:])
	return nil
}
