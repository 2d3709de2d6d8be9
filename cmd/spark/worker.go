package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"spark/internal/advisory"
	"spark/internal/embedding"
	"spark/internal/pipeline"
)

var workerInterval int

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the pipeline worker",
	Long: `Runs the adaptive pipeline loop: drains the event queue, fans events
into the stores, refreshes the advisory artifact, and tunes its own
interval from backpressure. Only one worker runs per state root.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openEnv()
		if err != nil {
			return finish("worker", err)
		}
		if workerInterval > 0 {
			e.cfg.Pipeline.BaseIntervalS = workerInterval
		}

		mem, cog, out, eid, err := e.openStores()
		if err != nil {
			return finish("worker", err)
		}
		defer mem.Close()
		defer eid.Close()

		q := e.openQueue()
		w := pipeline.NewWorker(e.layout, e.cfg, q, mem, cog, out, eid)

		emb, err := embedding.NewEmbedder(e.cfg.Embedding)
		if err != nil {
			logger.Warn("embedder unavailable, continuing without", zap.Error(err))
			emb = nil
		}
		if emb != nil {
			if n, berr := mem.EnsureEmbeddings(cmd.Context(), emb, 500); berr == nil && n > 0 {
				logger.Info("backfilled embeddings", zap.Int("entries", n))
			}
		}

		syn := advisory.NewSynthesizer(e.layout, e.cfg.Advisory,
			&advisory.CognitiveSource{Store: cog, Cfg: e.cfg.Cognitive},
			&advisory.MemorySource{Store: mem, Embedder: emb, Cfg: e.cfg.Retrieval},
			&advisory.EidosSource{Store: eid},
		)
		w.AddBridge(&pipeline.AdvisoryBridge{Synthesizer: syn, Queue: q, Workspace: workspace})

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		logger.Info("worker starting",
			zap.Int("base_interval_s", e.cfg.Pipeline.BaseIntervalS),
			zap.Int("batch_size", e.cfg.Pipeline.BatchSize))
		return finish("worker", w.Run(ctx))
	},
}

func init() {
	workerCmd.Flags().IntVar(&workerInterval, "interval", 0, "base loop interval in seconds (default from tuneables)")
}
