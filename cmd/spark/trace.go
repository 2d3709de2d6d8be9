package main

import (
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"spark/internal/eidos"
	"spark/internal/outcome"
	"spark/internal/trace"
)

var traceID string

var (
	traceHeaderStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86"))
	traceTimeStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	traceDetailStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).PaddingLeft(4)

	traceKindStyles = map[string]lipgloss.Style{
		trace.KindStep:     lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39")),
		trace.KindEvidence: lipgloss.NewStyle().Foreground(lipgloss.Color("244")),
		trace.KindOutcome:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("214")),
		trace.KindAdvisory: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("135")),
	}
)

var traceCmd = &cobra.Command{
	Use:   "trace",
	Short: "Reconstruct the timeline for a trace id",
	Long: `Joins episodic steps, evidence, outcomes and advisory emissions on a
trace id and prints them in time order. A trace with no rows anywhere
exits with the not-found code.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openEnv()
		if err != nil {
			return finish("trace", err)
		}
		eid, err := eidos.Open(e.layout)
		if err != nil {
			return finish("trace", err)
		}
		defer eid.Close()

		tl, err := trace.Build(e.layout, eid, outcome.OpenLog(e.layout), traceID)
		if err != nil {
			return finish("trace", err)
		}
		renderTimeline(tl)
		return finish("trace", nil)
	},
}

// renderTimeline prints the human view on stderr so stdout stays a single
// machine-readable result line.
func renderTimeline(tl *trace.Timeline) {
	fmt.Fprintln(os.Stderr, traceHeaderStyle.Render("trace "+tl.TraceID))
	for _, entry := range tl.Entries {
		ts := traceTimeStyle.Render(time.Unix(entry.TS, 0).Format("15:04:05"))
		style, ok := traceKindStyles[entry.Kind]
		if !ok {
			style = lipgloss.NewStyle()
		}
		fmt.Fprintf(os.Stderr, "%s  %s  %s\n", ts, style.Render(fmt.Sprintf("%-8s", entry.Kind)), entry.Summary)
		if entry.Detail != "" {
			fmt.Fprintln(os.Stderr, traceDetailStyle.Render(entry.Detail))
		}
	}
}

func init() {
	traceCmd.Flags().StringVar(&traceID, "trace-id", "", "trace id to reconstruct")
	_ = traceCmd.MarkFlagRequired("trace-id")
}
