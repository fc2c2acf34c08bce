// Package partition implements the self-describing columnar file format
// written by flush and compaction, per spec.md §4.D.
package partition

import "go.obscore.dev/obscore/internal/model"

// magic identifies an obscore partition file.
var magic = [8]byte{'O', 'O', 'P', 'A', 'R', 'T', '0', '1'}

// maxBloomColumns caps how many columns get a bloom filter, per spec.md
// §4.D's "configurable set; default includes high-cardinality string
// columns up to a field-count cap".
const maxBloomColumns = 8

// bloomFalsePositiveRate is the target rate spec.md §4.D names explicitly.
const bloomFalsePositiveRate = 0.01

// defaultRowsPerBlock bounds how many rows share one compressed block; a
// smaller block lets pruning skip more of a partition at the cost of more
// per-block overhead.
const defaultRowsPerBlock = 4096

// ColumnStats is the footer's per-column entry: min/max/null-count plus an
// optional bloom filter for equality pruning (spec.md §4.D, §4.F step 2).
type ColumnStats struct {
	FieldID    int
	Name       string
	Type       model.FieldType
	NullCount  int
	Min        any
	Max        any
	HasBloom   bool
	Bloom      []byte
	BloomK     int
}

// BlockMeta is one entry in the footer's block directory.
type BlockMeta struct {
	Offset   int64
	Length   int64
	RowCount int
	MinTS    int64
	MaxTS    int64
}

// Manifest describes a written partition's attributes, mirroring spec.md
// §3's Partition/Manifest entry fields. It is what the Partition Writer
// hands to the Metadata Store after a successful upload.
type Manifest struct {
	ID       string
	Org      string
	Stream   string
	SchemaID int64
	MinTS    int64
	MaxTS    int64
	RowCount int
	ByteSize int64
	Columns  []ColumnStats
	Blocks   []BlockMeta
	// Key is the object store key the partition was uploaded under:
	// org/stream/yyyy/mm/dd/hh/{id}.part, per spec.md §6.
	Key string
}
