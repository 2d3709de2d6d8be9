// spark is the local observability and advisory substrate for AI coding
// agents: it ingests agent/tool events, distills them into durable
// cognitive artifacts, and serves bounded advisory packets back into the
// agent's context.
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"spark/internal/cognitive"
	"spark/internal/config"
	"spark/internal/eidos"
	"spark/internal/faults"
	"spark/internal/logging"
	"spark/internal/memory"
	"spark/internal/outcome"
	"spark/internal/queue"
	"spark/internal/statedir"
)

var (
	verbose   bool
	workspace string

	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "spark",
	Short: "Spark - observability and advisory substrate for coding agents",
	Long: `Spark watches an AI coding agent's event stream, distills it into
durable insights, memories, outcomes and episodes, and writes a small
advisory file the agent re-reads each turn. The loop is closed: emitted
advice is scored against what the agent actually did next.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		_ = godotenv.Load()

		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
		logging.CloseAll()
	},
}

// result is the single terminal line every command prints.
type result struct {
	Action  string `json:"action"`
	OK      bool   `json:"ok"`
	Kind    string `json:"kind,omitempty"`
	Message string `json:"message,omitempty"`
}

// exitCoded carries the process exit code through RunE.
type exitCoded struct {
	code int
}

func (e *exitCoded) Error() string { return fmt.Sprintf("exit %d", e.code) }

// finish prints the terminal line and translates the error into the exit
// contract: 0 success, 2 domain not-found, 1 everything else.
func finish(action string, err error) error {
	res := result{Action: action, OK: err == nil}
	if err != nil {
		kind := faults.KindOf(err)
		res.Kind = string(kind)
		msg := err.Error()
		if len(msg) > faults.DefaultMessageCap {
			msg = msg[:faults.DefaultMessageCap]
		}
		res.Message = msg
	}
	line, merr := json.Marshal(res)
	if merr != nil {
		fmt.Fprintln(os.Stderr, merr)
		return &exitCoded{code: 1}
	}
	fmt.Println(string(line))
	if err == nil {
		return nil
	}
	if faults.KindOf(err) == faults.KindNoHit {
		return &exitCoded{code: 2}
	}
	return &exitCoded{code: 1}
}

// env bundles everything a command needs from the state root.
type env struct {
	layout *statedir.Layout
	cfg    *config.Tuneables
}

func openEnv() (*env, error) {
	layout, err := statedir.Resolve()
	if err != nil {
		return nil, err
	}
	if err := logging.Initialize(layout.LogsDir()); err != nil {
		return nil, err
	}
	cfg, err := config.Load(layout.Tuneables())
	if err != nil {
		return nil, err
	}
	return &env{layout: layout, cfg: cfg}, nil
}

func (e *env) openQueue() *queue.Queue { return queue.New(e.layout, e.cfg.Queue) }

func (e *env) openStores() (*memory.Store, *cognitive.Store, *outcome.Log, *eidos.Store, error) {
	mem, err := memory.Open(e.layout.MemoryDB())
	if err != nil {
		return nil, nil, nil, nil, err
	}
	cog, err := cognitive.OpenStore(e.layout, e.cfg.Cognitive)
	if err != nil {
		mem.Close()
		return nil, nil, nil, nil, err
	}
	out := outcome.OpenLog(e.layout)
	eid, err := eidos.Open(e.layout)
	if err != nil {
		mem.Close()
		return nil, nil, nil, nil, err
	}
	return mem, cog, out, eid, nil
}

func main() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose logging")
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", "", "workspace directory for the advisory artifact")

	rootCmd.AddCommand(workerCmd)
	rootCmd.AddCommand(emitEventCmd)
	rootCmd.AddCommand(advisoryCmd)
	rootCmd.AddCommand(autoScoreCmd)
	rootCmd.AddCommand(traceCmd)
	rootCmd.AddCommand(memoryCmd)
	rootCmd.AddCommand(statsCmd)

	if err := rootCmd.Execute(); err != nil {
		var coded *exitCoded
		if errors.As(err, &coded) {
			os.Exit(coded.code)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
