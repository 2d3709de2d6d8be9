package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"spark/internal/types"
)

var emitFlags struct {
	source     string
	kind       string
	session    string
	role       string
	text       string
	tool       string
	toolInput  string
	toolResult string
	isError    bool
	hasError   bool
	intent     string
	traceID    string
	stdin      bool
}

// ingestStdin appends one event per JSON line read from stdin. Unparseable
// lines are dropped through the queue's reason counters like any other
// invalid event.
func ingestStdin(e *env) error {
	q := e.openQueue()
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		ev, err := types.ParseEvent(line)
		if err != nil {
			ev = nil
		}
		if err := q.Append(ev); err != nil {
			return err
		}
	}
	return scanner.Err()
}

var emitEventCmd = &cobra.Command{
	Use:   "emit-event",
	Short: "Append a normalized event to the queue",
	Long: `Appends one schema-v1 event to the queue. Adapters (editor hooks,
shell wrappers) call this instead of touching the queue file directly.
Invalid events are dropped with a counted reason and the command still
exits 0; only lock contention or I/O failures are errors.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openEnv()
		if err != nil {
			return finish("emit_event", err)
		}
		if emitFlags.stdin {
			return finish("emit_event", ingestStdin(e))
		}
		if emitFlags.kind == "" {
			return finish("emit_event", fmt.Errorf("--kind is required unless --stdin is set"))
		}

		ev := &types.Event{
			Version:   types.SchemaVersion,
			Source:    emitFlags.source,
			Kind:      types.EventKind(emitFlags.kind),
			TS:        time.Now().Unix(),
			SessionID: emitFlags.session,
			TraceID:   emitFlags.traceID,
			Payload: types.Payload{
				Role:       emitFlags.role,
				Text:       emitFlags.text,
				ToolName:   emitFlags.tool,
				ToolResult: emitFlags.toolResult,
				Intent:     emitFlags.intent,
			},
		}
		if emitFlags.toolInput != "" {
			var input map[string]any
			if err := json.Unmarshal([]byte(emitFlags.toolInput), &input); err != nil {
				return finish("emit_event", fmt.Errorf("invalid --tool-input json: %w", err))
			}
			ev.Payload.ToolInput = input
		}
		if emitFlags.hasError || emitFlags.toolResult != "" {
			isErr := emitFlags.isError
			ev.Payload.IsError = &isErr
		}

		return finish("emit_event", e.openQueue().Append(ev))
	},
}

func init() {
	f := emitEventCmd.Flags()
	f.StringVar(&emitFlags.source, "source", "claude_code", "adapter source identifier")
	f.StringVar(&emitFlags.kind, "kind", "", "event kind: message|tool|command|system")
	f.StringVar(&emitFlags.session, "session", "", "session identifier")
	f.StringVar(&emitFlags.role, "role", "", "message role (message kind)")
	f.StringVar(&emitFlags.text, "text", "", "message text (message kind)")
	f.StringVar(&emitFlags.tool, "tool", "", "tool name (tool kind)")
	f.StringVar(&emitFlags.toolInput, "tool-input", "", "tool input as JSON (tool call)")
	f.StringVar(&emitFlags.toolResult, "tool-result", "", "tool result text (tool result)")
	f.BoolVar(&emitFlags.isError, "is-error", false, "tool result was an error")
	f.StringVar(&emitFlags.intent, "intent", "", "command intent (command kind)")
	f.StringVar(&emitFlags.traceID, "trace", "", "explicit trace id (derived when omitted)")
	f.BoolVar(&emitFlags.stdin, "stdin", false, "read JSON event lines from stdin instead of flags")

	emitEventCmd.PreRun = func(cmd *cobra.Command, args []string) {
		emitFlags.hasError = cmd.Flags().Changed("is-error")
	}
}
