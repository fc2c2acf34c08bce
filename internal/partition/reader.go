package partition

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"hash/crc32"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/zeebo/errs"

	"go.obscore.dev/obscore/internal/bloomfilter"
)

// ErrCorrupt is returned by Open/ReadBlock when a header, footer, or block
// fails its integrity check.
var ErrCorrupt = errs.Class("partition: corrupt")

// Block is one decoded block's columnar contents, keyed by column name.
type Block struct {
	Columns map[string][]any
	RowCount int
}

// Reader provides random access to one partition file's footer and blocks,
// per spec.md §4.D's self-describing layout.
type Reader struct {
	src     io.ReaderAt
	size    int64
	Blocks  []BlockMeta
	Columns []ColumnStats
}

// Open reads and validates the header and footer of a partition file. src
// must support random access (typically an *os.File or a bytes.Reader over
// a fully-fetched object).
func Open(src io.ReaderAt, size int64) (*Reader, error) {
	header := make([]byte, 16)
	if _, err := src.ReadAt(header, 0); err != nil {
		return nil, errs.Wrap(err)
	}
	if !bytes.Equal(header[0:8], magic[:]) {
		return nil, ErrCorrupt.New("bad magic")
	}
	footerOffset := int64(binary.LittleEndian.Uint64(header[8:16]))
	if footerOffset < 16 || footerOffset > size {
		return nil, ErrCorrupt.New("footer offset out of range")
	}

	footerBytes := make([]byte, size-footerOffset)
	if _, err := src.ReadAt(footerBytes, footerOffset); err != nil {
		return nil, errs.Wrap(err)
	}
	if len(footerBytes) < 8 {
		return nil, ErrCorrupt.New("footer too short")
	}
	docLen := binary.LittleEndian.Uint32(footerBytes[0:4])
	if uint32(len(footerBytes)) < 4+docLen+4 {
		return nil, ErrCorrupt.New("footer length mismatch")
	}
	doc := footerBytes[4 : 4+docLen]
	wantCRC := binary.LittleEndian.Uint32(footerBytes[4+docLen : 4+docLen+4])
	if crc32.ChecksumIEEE(doc) != wantCRC {
		return nil, ErrCorrupt.New("footer crc mismatch")
	}

	var parsed struct {
		Blocks  []BlockMeta   `json:"blocks"`
		Columns []ColumnStats `json:"columns"`
	}
	if err := json.Unmarshal(doc, &parsed); err != nil {
		return nil, errs.Wrap(err)
	}

	return &Reader{src: src, size: size, Blocks: parsed.Blocks, Columns: parsed.Columns}, nil
}

// ReadBlock decodes the i'th block's rows.
func (r *Reader) ReadBlock(i int) (Block, error) {
	if i < 0 || i >= len(r.Blocks) {
		return Block{}, ErrCorrupt.New("block index %d out of range", i)
	}
	meta := r.Blocks[i]

	framed := make([]byte, meta.Length)
	if _, err := r.src.ReadAt(framed, meta.Offset); err != nil {
		return Block{}, errs.Wrap(err)
	}
	if len(framed) < 8 {
		return Block{}, ErrCorrupt.New("block frame too short")
	}
	length := binary.LittleEndian.Uint32(framed[0:4])
	wantCRC := binary.LittleEndian.Uint32(framed[4:8])
	if int(length) != len(framed)-8 {
		return Block{}, ErrCorrupt.New("block length mismatch")
	}
	compressed := framed[8:]
	if crc32.ChecksumIEEE(compressed) != wantCRC {
		return Block{}, ErrCorrupt.New("block crc mismatch")
	}

	dec, err := zstd.NewReader(nil)
	if err != nil {
		return Block{}, errs.Wrap(err)
	}
	defer dec.Close()
	raw, err := dec.DecodeAll(compressed, nil)
	if err != nil {
		return Block{}, ErrCorrupt.Wrap(err)
	}

	var payload struct {
		Columns []string `json:"columns"`
		Values  [][]any  `json:"values"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return Block{}, errs.Wrap(err)
	}

	out := Block{Columns: make(map[string][]any, len(payload.Columns)), RowCount: meta.RowCount}
	for i, name := range payload.Columns {
		out.Columns[name] = payload.Values[i]
	}
	return out, nil
}

// MayContain reports whether the named column's bloom filter indicates key
// may be present. If the column has no bloom filter, it conservatively
// returns true (spec.md §4.F: bloom probes only ever reject, never miss a
// match).
func (r *Reader) MayContain(column string, key []byte) bool {
	for _, cs := range r.Columns {
		if cs.Name != column {
			continue
		}
		if !cs.HasBloom {
			return true
		}
		return bloomfilter.FromBytes(cs.Bloom, cs.BloomK).Contains(key)
	}
	return true
}
