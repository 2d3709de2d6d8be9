package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"spark/internal/outcome"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print store counts",
	Long: `Prints a snapshot of the substrate: queue depth, memory and insight
counts, outcome rows, and per-family reliability. The snapshot goes to
stderr; stdout stays a single result line.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openEnv()
		if err != nil {
			return finish("stats", err)
		}
		mem, cog, outLog, eid, err := e.openStores()
		if err != nil {
			return finish("stats", err)
		}
		defer mem.Close()
		defer eid.Close()

		depth, err := e.openQueue().Depth()
		if err != nil {
			return finish("stats", err)
		}
		memCount, err := mem.Count()
		if err != nil {
			return finish("stats", err)
		}
		rows, err := outLog.ReadSince(0)
		if err != nil {
			return finish("stats", err)
		}
		var explicit int
		for _, r := range rows {
			if r.EventType == outcome.EventExplicitFeedback {
				explicit++
			}
		}

		snapshot := map[string]any{
			"queue_depth":       depth,
			"memories":          memCount,
			"insights":          cog.Count(),
			"outcomes":          len(rows),
			"explicit_feedback": explicit,
		}
		data, err := json.MarshalIndent(snapshot, "", "  ")
		if err != nil {
			return finish("stats", err)
		}
		fmt.Fprintln(os.Stderr, string(data))
		return finish("stats", nil)
	},
}
