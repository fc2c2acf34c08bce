package main

import "time"

// Config is obscore's single root configuration struct; cfgstruct.Bind
// reflects over it to build every command's flag set, and viper layers a
// config file and environment variables underneath the flags, matching the
// teacher's pflag+viper layering idiom.
type Config struct {
	Server  ServerConfig
	Storage StorageConfig
	Ingest  IngestConfig
	Cluster ClusterConfig
	Compact CompactConfig
}

// ServerConfig binds the HTTP surface.
type ServerConfig struct {
	Addr string `default:":8080" help:"address the ingestion and query HTTP servers listen on"`
}

// StorageConfig names the two collaborator backends spec.md §6 defines:
// the metadata KV and the object store, each selected by URL scheme.
type StorageConfig struct {
	DataDir        string `default:"${CONFDIR}/data" help:"root directory for wal/, cache/, metadata/"`
	MetastoreDSN   string `default:"bolt://${CONFDIR}/data/metadata/obscore.db" help:"metadata store DSN (bolt://, postgres://, cockroach://)"`
	ObjectStoreURL string `default:"local://${CONFDIR}/data/objects" help:"object store URL (local://, s3://)"`
}

// IngestConfig bounds the ingestion pipeline's memtable/flush behavior.
type IngestConfig struct {
	IngesterID       string        `default:"" help:"stable identity for this node's ingestion; defaults to the server address"`
	MemtableMaxBytes int64         `default:"33554432" help:"bytes per memtable before a flush is triggered"`
	MemtableMaxAge   time.Duration `default:"5m" help:"max memtable age before a flush is triggered"`
	FlushInterval    time.Duration `default:"10s" help:"background flush loop tick interval"`
}

// ClusterConfig governs membership and shard-handover behavior (spec.md §4.J).
type ClusterConfig struct {
	Enabled       bool          `default:"false" help:"join cluster membership via the metadata store's lease table"`
	LeaseTTL      time.Duration `default:"15s" help:"membership lease TTL"`
	RenewInterval time.Duration `default:"5s" help:"membership lease renewal interval"`
}

// CompactConfig governs the background compactor/retention loop (spec.md §4.I).
type CompactConfig struct {
	Enabled  bool          `default:"true" help:"run the leader-elected compaction and retention loop"`
	Interval time.Duration `default:"1m" help:"compactor leadership-check and work-selection interval"`
}
