// Command obscore runs the ingestion, query, and compaction services over
// a pluggable metadata store and object store, per spec.md §6's CLI
// surface: `init-dir`, `start` (default), `migrate`.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"go.obscore.dev/obscore/internal/cfgstruct"

	_ "go.obscore.dev/obscore/internal/metastore/boltstore"
	_ "go.obscore.dev/obscore/internal/metastore/sqlstore"
	_ "go.obscore.dev/obscore/internal/objectstore/local"
	_ "go.obscore.dev/obscore/internal/objectstore/s3"
)

// Exit codes, per spec.md §6: 0 success; 2 configuration; 3 storage
// unavailable; 4 migration required.
const (
	exitOK              = 0
	exitConfig          = 2
	exitStorage         = 3
	exitMigrationNeeded = 4
)

var (
	runCfg Config

	rootCmd = &cobra.Command{
		Use:   "obscore",
		Short: "obscore ingests, indexes, and queries observability data",
	}

	startCmd = &cobra.Command{
		Use:   "start",
		Short: "run the ingestion, query, and compaction services",
		RunE:  cmdStart,
	}

	initDirCmd = &cobra.Command{
		Use:   "init-dir",
		Short: "create the on-disk data layout (wal/, cache/, metadata/)",
		RunE:  cmdInitDir,
	}

	migrateCmd = &cobra.Command{
		Use:   "migrate",
		Short: "upgrade the metadata store's catalog schema",
		RunE:  cmdMigrate,
	}

	confDir string
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&confDir, "config-dir", "d", ".", "directory holding obscore's config and data")
	initDirCmd.Flags().StringP("path", "p", "", "data directory to create (defaults to --config-dir)")

	// Bound on the root's persistent flags so `start`, `init-dir`, and
	// `migrate` all inherit the same Config-derived flag set, and so a bare
	// `obscore` invocation (no subcommand) sees them too.
	cfgstruct.Bind(rootCmd.PersistentFlags(), &runCfg, cfgstruct.ConfDirNested(confDir))
	if err := viper.BindPFlags(rootCmd.PersistentFlags()); err != nil {
		panic(err)
	}

	rootCmd.AddCommand(startCmd, initDirCmd, migrateCmd)
	rootCmd.RunE = cmdStart // `start` is the default when no subcommand is given.
}

func loadConfigFile() error {
	viper.SetConfigName("obscore")
	viper.AddConfigPath(confDir)
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil // config file is optional; flags/defaults still apply.
		}
		return err
	}
	return viper.Unmarshal(&runCfg)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "obscore:", err)
		os.Exit(exitCodeFor(err))
	}
}

func exitCodeFor(err error) int {
	switch {
	case isConfigError(err):
		return exitConfig
	case isStorageError(err):
		return exitStorage
	case isMigrationError(err):
		return exitMigrationNeeded
	default:
		return exitConfig
	}
}
