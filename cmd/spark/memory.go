package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"spark/internal/memory"
)

var memoryCmd = &cobra.Command{
	Use:   "memory",
	Short: "Manage the memory store",
}

var migrateSource string

var memoryMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Import legacy JSONL memories into the store",
	Long: `Reads a memories.jsonl export and inserts each row through the normal
dedup path. Re-running is safe: rows already present by content key are
skipped, not duplicated.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openEnv()
		if err != nil {
			return finish("memory_migrate", err)
		}
		mem, err := memory.Open(e.layout.MemoryDB())
		if err != nil {
			return finish("memory_migrate", err)
		}
		defer mem.Close()

		path := migrateSource
		if path == "" {
			path = e.layout.MemoryJSONL()
		}
		imported, skipped, err := mem.MigrateJSONL(path)
		if err != nil {
			return finish("memory_migrate", err)
		}
		logger.Info("memory migration complete",
			zap.String("source", path),
			zap.Int("imported", imported),
			zap.Int("skipped", skipped))
		return finish("memory_migrate", nil)
	},
}

func init() {
	memoryMigrateCmd.Flags().StringVar(&migrateSource, "from", "", "source JSONL path (default: memories.jsonl under the state root)")
	memoryCmd.AddCommand(memoryMigrateCmd)
}
