// Package catalog defines the JSON record shape and key layout the
// Metadata Store uses for partition manifests, shared by every component
// that reads or writes them: the component that registers a freshly
// written partition, the Partition Index (subscribes via watch), and the
// Compactor (scans, marks superseded, deletes).
package catalog

import (
	"encoding/json"
	"fmt"
	"strings"

	"go.obscore.dev/obscore/internal/partition"
)

// ManifestRecord is the durable catalog entry for one partition, stored at
// Key(org, stream, partitionID). It embeds everything the Partition Index
// needs for pruning plus the ingestion identity used to dedup replayed
// manifests, per spec.md §3.
type ManifestRecord struct {
	PartitionID string                  `json:"partition_id"`
	Org         string                  `json:"org"`
	Stream      string                  `json:"stream"`
	SchemaID    int64                   `json:"schema_id"`
	MinTS       int64                   `json:"min_ts"`
	MaxTS       int64                   `json:"max_ts"`
	RowCount    int                     `json:"row_count"`
	ByteSize    int64                   `json:"byte_size"`
	Columns     []partition.ColumnStats `json:"columns"`
	Key         string                  `json:"key"`

	// IngesterID, WALSegment, and Sequence identify the ingestion that
	// produced this partition, used to coalesce duplicate replays.
	IngesterID string `json:"ingester_id"`
	WALSegment uint64 `json:"wal_segment"`
	Sequence   uint64 `json:"sequence"`

	// Superseded marks a partition replaced by a compaction job; it is kept
	// in the catalog until the grace period elapses, per spec.md §4.I.
	Superseded bool `json:"superseded"`
	// SupersededAtMicros is when Superseded was set, used by the retention
	// sweep to wait out the grace period before deleting.
	SupersededAtMicros int64 `json:"superseded_at_micros,omitempty"`
}

// FromManifest builds a ManifestRecord from a freshly written
// partition.Manifest plus the ingestion identity that produced it.
func FromManifest(m partition.Manifest, ingesterID string, walSegment, sequence uint64) ManifestRecord {
	return ManifestRecord{
		PartitionID: m.ID, Org: m.Org, Stream: m.Stream, SchemaID: m.SchemaID,
		MinTS: m.MinTS, MaxTS: m.MaxTS, RowCount: m.RowCount, ByteSize: m.ByteSize,
		Columns: m.Columns, Key: m.Key,
		IngesterID: ingesterID, WALSegment: walSegment, Sequence: sequence,
	}
}

// StreamPrefix is the metastore key prefix covering every partition of one
// (org, stream), used for both Watch subscriptions and Compactor scans.
func StreamPrefix(org, stream string) string {
	return fmt.Sprintf("/org/%s/partitions/%s/", org, stream)
}

// OrgPrefix covers every partition of every stream in org, the prefix the
// Partition Index subscribes to on every querier.
func OrgPrefix(org string) string {
	return fmt.Sprintf("/org/%s/partitions/", org)
}

// Key is the full metastore key for one partition's manifest record.
func Key(org, stream, partitionID string) string {
	return StreamPrefix(org, stream) + partitionID
}

// StreamFromKey extracts (org, stream) from a key matching
// "/org/{org}/partitions/{stream}/{id}", or ok=false if key doesn't match.
func StreamFromKey(key string) (org, stream string, ok bool) {
	parts := strings.Split(strings.TrimPrefix(key, "/org/"), "/")
	if len(parts) < 4 || parts[1] != "partitions" {
		return "", "", false
	}
	return parts[0], parts[2], true
}

// Marshal encodes a record for storage.
func Marshal(r ManifestRecord) ([]byte, error) { return json.Marshal(r) }

// Unmarshal decodes a record read from storage.
func Unmarshal(data []byte) (ManifestRecord, error) {
	var r ManifestRecord
	err := json.Unmarshal(data, &r)
	return r, err
}
