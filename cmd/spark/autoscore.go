package main

import (
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"spark/internal/advisory"
	"spark/internal/autoscore"
	"spark/internal/cognitive"
	"spark/internal/outcome"
)

var autoScoreFlags struct {
	sinceHours      int
	includeFallback bool
	useMinimax      bool
}

var autoScoreCmd = &cobra.Command{
	Use:   "auto-score",
	Short: "Reconcile emitted advisories with subsequent actions",
	Long: `Joins the advice log against outcomes and writes reliability updates
back into the effectiveness book and the insight store. Results land in
advisory/metrics.json. Deterministic rules evaluate effect; MiniMax is
consulted only for acted items with no polarity hint, and only when
enabled.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openEnv()
		if err != nil {
			return finish("auto_score", err)
		}

		cog, err := cognitive.OpenStore(e.layout, e.cfg.Cognitive)
		if err != nil {
			return finish("auto_score", err)
		}
		outLog := outcome.OpenLog(e.layout)
		book := advisory.LoadEffectiveness(e.layout)

		var llm autoscore.EffectLLM
		if autoScoreFlags.useMinimax || e.cfg.Autoscore.UseMinimax {
			judge, jerr := autoscore.NewMinimaxJudge(e.cfg.Autoscore)
			if jerr != nil {
				return finish("auto_score", jerr)
			}
			llm = judge
		}

		scorer := autoscore.NewScorer(e.layout, e.cfg.Autoscore, outLog, book, cog, llm)
		scorer.IncludeProxies = autoScoreFlags.includeFallback

		cutoff := int64(0)
		if autoScoreFlags.sinceHours > 0 {
			cutoff = time.Now().Add(-time.Duration(autoScoreFlags.sinceHours) * time.Hour).Unix()
		}
		report, err := scorer.Run(cmd.Context(), cutoff)
		if err != nil {
			return finish("auto_score", err)
		}
		logger.Info("auto-score complete",
			zap.Int("items", len(report.Items)),
			zap.Float64("action_rate", report.ActionRate),
			zap.Float64("helpful_rate", report.HelpfulRate))
		return finish("auto_score", nil)
	},
}

func init() {
	f := autoScoreCmd.Flags()
	f.IntVar(&autoScoreFlags.sinceHours, "since-hours", 24, "score advisories emitted within this window (0 = all)")
	f.BoolVar(&autoScoreFlags.includeFallback, "include-engine-fallback", false, "let behavioral-proxy matches feed reliability writeback")
	f.BoolVar(&autoScoreFlags.useMinimax, "use-minimax", false, "consult the MiniMax judge for unhinted acted items")
}
