package main

import (
	"os"

	"github.com/spf13/cobra"
)

// cmdInitDir implements spec.md §6's `init-dir -p <path>`: it creates the
// persisted layout `wal/`, `cache/`, `metadata/` spec.md §6 names.
func cmdInitDir(cmd *cobra.Command, args []string) error {
	path, err := cmd.Flags().GetString("path")
	if err != nil {
		return ErrConfig.Wrap(err)
	}
	if path == "" {
		path = confDir
	}

	for _, sub := range []string{"wal", "cache", "metadata"} {
		if err := os.MkdirAll(path+"/"+sub, 0o755); err != nil {
			return ErrConfig.Wrap(err)
		}
	}
	return nil
}
