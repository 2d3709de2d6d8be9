package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"spark/internal/advisory"
	"spark/internal/outcome"
)

var advisoryCmd = &cobra.Command{
	Use:   "advisory",
	Short: "Configure and tag the advisory layer",
}

var setupFlags struct {
	memoryMode    string
	guidanceStyle string
}

var advisorySetupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Write advisory settings",
	Long: `Writes settings.yaml under the state root. Omitted flags keep the
current (or default) value.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openEnv()
		if err != nil {
			return finish("advisory_setup", err)
		}
		s, err := advisory.LoadSettings(e.layout)
		if err != nil {
			return finish("advisory_setup", err)
		}
		if setupFlags.memoryMode != "" {
			s.MemoryMode = setupFlags.memoryMode
		}
		if setupFlags.guidanceStyle != "" {
			s.GuidanceStyle = setupFlags.guidanceStyle
		}
		return finish("advisory_setup", advisory.SaveSettings(e.layout, s))
	},
}

var tagFlags struct {
	adviceID string
	tool     string
	status   string
	traceID  string
	session  string
	comment  string
}

var advisoryTagCmd = &cobra.Command{
	Use:   "tag",
	Short: "Record explicit feedback on an emitted advisory",
	Long: `Drops a feedback report into the feedback directory and sweeps it
into the outcome log immediately. Explicit tags outrank every implicit
signal when advisories are scored.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openEnv()
		if err != nil {
			return finish("advisory_tag", err)
		}
		if tagFlags.adviceID == "" && tagFlags.tool == "" {
			return finish("advisory_tag", fmt.Errorf("either --advice-id or --tool is required"))
		}
		report := outcome.FeedbackReport{
			AdviceID: tagFlags.adviceID,
			Tool:     tagFlags.tool,
			Verdict:  tagFlags.status,
			TraceID:  tagFlags.traceID,
			Session:  tagFlags.session,
			Comment:  tagFlags.comment,
			TS:       time.Now().Unix(),
		}
		data, err := json.Marshal(report)
		if err != nil {
			return finish("advisory_tag", err)
		}
		path := filepath.Join(e.layout.FeedbackDir(), "tag-"+uuid.NewString()+".json")
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return finish("advisory_tag", fmt.Errorf("failed to write feedback report: %w", err))
		}

		log := outcome.OpenLog(e.layout)
		_, err = outcome.NewFeedbackIngester(e.layout, log).Sweep()
		return finish("advisory_tag", err)
	},
}

func init() {
	advisorySetupCmd.Flags().StringVar(&setupFlags.memoryMode, "memory-mode", "", "off|standard|replay")
	advisorySetupCmd.Flags().StringVar(&setupFlags.guidanceStyle, "guidance-style", "", "concise|balanced|coach")

	f := advisoryTagCmd.Flags()
	f.StringVar(&tagFlags.adviceID, "advice-id", "", "stable advice id being tagged")
	f.StringVar(&tagFlags.tool, "tool", "", "tool the advisory targeted (when advice id is unknown)")
	f.StringVar(&tagFlags.status, "status", "", "acted|skipped|blocked|harmful|ignored")
	f.StringVar(&tagFlags.traceID, "trace", "", "trace id the feedback applies to")
	f.StringVar(&tagFlags.session, "session", "", "session identifier")
	f.StringVar(&tagFlags.comment, "comment", "", "free-form note")
	_ = advisoryTagCmd.MarkFlagRequired("status")

	advisoryCmd.AddCommand(advisorySetupCmd)
	advisoryCmd.AddCommand(advisoryTagCmd)
}
