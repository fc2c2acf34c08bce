package main

import (
	"context"

	"github.com/spf13/cobra"

	"go.obscore.dev/obscore/internal/metastore"
)

// cmdMigrate implements spec.md §6's `migrate`: it opens the configured
// metadata store, which for the sqlstore (postgres/cockroach) backend
// applies its schema DDL idempotently (internal/metastore/sqlstore.New);
// the embedded bolt backend has no schema to migrate, so this is a no-op
// beyond confirming the store opens cleanly.
func cmdMigrate(cmd *cobra.Command, args []string) error {
	if err := loadConfigFile(); err != nil {
		return ErrConfig.Wrap(err)
	}

	ctx := context.Background()
	store, err := metastore.Open(ctx, runCfg.Storage.MetastoreDSN)
	if err != nil {
		return ErrMigration.Wrap(err)
	}
	return store.Close()
}
