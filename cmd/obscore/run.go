package main

import (
	"context"
	"net/http"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/gorilla/mux"
	"github.com/spf13/cobra"
	"github.com/zeebo/errs"
	"go.uber.org/zap"
	monkit "gopkg.in/spacemonkeygo/monkit.v2"

	"go.obscore.dev/obscore/internal/auth"
	"go.obscore.dev/obscore/internal/cluster"
	"go.obscore.dev/obscore/internal/compactor"
	"go.obscore.dev/obscore/internal/index"
	"go.obscore.dev/obscore/internal/ingest"
	"go.obscore.dev/obscore/internal/memtable"
	"go.obscore.dev/obscore/internal/metastore"
	"go.obscore.dev/obscore/internal/metastore/streamcat"
	"go.obscore.dev/obscore/internal/objectstore"
	"go.obscore.dev/obscore/internal/partition"
	"go.obscore.dev/obscore/internal/process"
	"go.obscore.dev/obscore/internal/query/executor"
	"go.obscore.dev/obscore/internal/query/planner"
	"go.obscore.dev/obscore/internal/queryhttp"
)

// ErrConfig, ErrStorage, and ErrMigration classify startup failures into
// spec.md §6's exit-code taxonomy.
var (
	ErrConfig    = errs.Class("config")
	ErrStorage   = errs.Class("storage unavailable")
	ErrMigration = errs.Class("migration required")
)

func isConfigError(err error) bool    { return ErrConfig.Has(err) }
func isStorageError(err error) bool   { return ErrStorage.Has(err) }
func isMigrationError(err error) bool { return ErrMigration.Has(err) }

// partitionCacheBytes bounds the query executor's local partition cache.
const partitionCacheBytes = 256 << 20

// service wires every component together and runs the HTTP server until
// its context is cancelled, implementing internal/process.Service.
type service struct {
	log *zap.Logger
	cfg Config
}

func (s *service) InstanceID() string { return s.cfg.Server.Addr }

func (s *service) SetLogger(log *zap.Logger) error {
	s.log = log
	return nil
}

func (s *service) SetMetricHandler(*monkit.Registry) error { return nil }

func (s *service) Process(ctx context.Context, cmd *cobra.Command, args []string) error {
	meta, err := metastore.Open(ctx, s.cfg.Storage.MetastoreDSN)
	if err != nil {
		return ErrStorage.Wrap(err)
	}
	defer func() { _ = meta.Close() }()

	store, err := objectstore.Open(ctx, s.cfg.Storage.ObjectStoreURL)
	if err != nil {
		return ErrStorage.Wrap(err)
	}

	catalog := streamcat.New(meta)

	ingesterID := s.cfg.Ingest.IngesterID
	if ingesterID == "" {
		ingesterID = s.cfg.Server.Addr
	}

	pipeCfg := ingest.Config{
		WALDir:        s.cfg.Storage.DataDir + "/wal",
		Memtable:      memtable.Config{MaxBytes: s.cfg.Ingest.MemtableMaxBytes, MaxAge: s.cfg.Ingest.MemtableMaxAge},
		Partition:     partition.DefaultConfig(s.cfg.Storage.DataDir + "/cache"),
		IngesterID:    ingesterID,
		FlushInterval: s.cfg.Ingest.FlushInterval,
	}
	pipe := ingest.New(s.log, pipeCfg, meta, store, catalog)
	go pipe.RunFlushLoop(ctx)
	s.log.Info("ingestion pipeline configured",
		zap.String("memtable_max_bytes", humanize.IBytes(uint64(pipeCfg.Memtable.MaxBytes))),
		zap.String("partition_cache_bytes", humanize.IBytes(uint64(partitionCacheBytes))))

	idx := index.New(s.log)
	if err := idx.Subscribe(ctx, meta, 0); err != nil {
		return ErrStorage.Wrap(err)
	}

	var owner planner.Owner
	if s.cfg.Cluster.Enabled {
		membership := cluster.New(s.log, meta, cluster.Config{
			TTL:           s.cfg.Cluster.LeaseTTL,
			RenewInterval: s.cfg.Cluster.RenewInterval,
		}, cluster.Node{ID: ingesterID, Addr: s.cfg.Server.Addr, Roles: []cluster.Role{cluster.RoleIngester, cluster.RoleQuerier}})
		if err := membership.Join(ctx); err != nil {
			return ErrStorage.Wrap(err)
		}
		owner = membership
		go func() {
			<-ctx.Done()
			_ = membership.Leave(context.Background(), nil, pipe.FlushStream)
		}()
	}

	pl := planner.New(catalog, idx, owner)
	cache := executor.NewCache(s.log, store, partitionCacheBytes)
	exec := executor.New(s.log, cache)

	authn := auth.HeaderAuthenticator{}

	router := mux.NewRouter()
	ingest.NewHandler(s.log, pipe, authn).Register(router)
	queryhttp.NewHandler(s.log, pl, exec, authn).Register(router)

	if s.cfg.Compact.Enabled {
		writer := partition.NewWriter(s.log, pipeCfg.Partition, store)
		comp := compactor.New(s.log, compactorConfig(s.cfg), meta, store, writer, catalog)
		go func() {
			if err := comp.Run(ctx); err != nil && ctx.Err() == nil {
				s.log.Error("compactor stopped", zap.Error(err))
			}
		}()
	}

	server := &http.Server{Addr: s.cfg.Server.Addr, Handler: router}
	go func() {
		<-ctx.Done()
		_ = server.Close()
	}()

	s.log.Info("obscore listening", zap.String("addr", s.cfg.Server.Addr))
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return ErrStorage.Wrap(err)
	}
	return nil
}

func compactorConfig(cfg Config) compactor.Config {
	c := compactor.DefaultConfig()
	c.Interval = cfg.Compact.Interval
	return c
}

func cmdStart(cmd *cobra.Command, args []string) error {
	if err := loadConfigFile(); err != nil {
		return ErrConfig.Wrap(err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		return ErrConfig.Wrap(err)
	}

	if _, err := os.Stat(runCfg.Storage.DataDir); err != nil {
		return ErrConfig.New("data directory %q missing; run `obscore init-dir -p %s` first", runCfg.Storage.DataDir, runCfg.Storage.DataDir)
	}

	svc := &service{cfg: runCfg}
	return process.Main(func() error {
		zap.ReplaceGlobals(logger)
		return nil
	}, svc)
}
