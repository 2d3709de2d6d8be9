package eidos

import (
	"encoding/json"
	"fmt"

	"spark/internal/types"
)

// Default TTL for raw tool-output evidence.
const defaultEvidenceTTL = 7 * 24 * 3600

// Ingest folds an event into the episodic record. Tool calls open a step
// under the current episode (starting one per session when none is
// active); tool results validate the step sharing their trace_id and
// attach the output as TTL-bound evidence. Other kinds are ignored.
func (s *Store) Ingest(e *types.Event) error {
	if e.Kind != types.KindTool {
		return nil
	}
	e.EnsureTraceID()

	switch {
	case e.IsToolCall():
		return s.ingestToolCall(e)
	case e.IsToolResult():
		return s.ingestToolResult(e)
	}
	return nil
}

func (s *Store) ingestToolCall(e *types.Event) error {
	ep, err := s.ActiveEpisode()
	if err != nil {
		return err
	}
	episodeID := ""
	if ep != nil {
		episodeID = ep.EpisodeID
	} else {
		episodeID, err = s.BeginEpisode(fmt.Sprintf("session %s", e.SessionID))
		if err != nil {
			return err
		}
	}

	intent := e.Payload.Intent
	decision := ""
	if e.Payload.ToolInput != nil {
		if raw, merr := json.Marshal(e.Payload.ToolInput); merr == nil {
			decision = truncate(string(raw), 400)
		}
	}
	_, err = s.AddStep(&Step{
		EpisodeID: episodeID,
		Intent:    intent,
		Decision:  decision,
		Tool:      e.Payload.ToolName,
		TraceID:   e.TraceID,
		CreatedAt: e.TS,
	})
	return err
}

func (s *Store) ingestToolResult(e *types.Event) error {
	steps, err := s.StepsByTrace(e.TraceID)
	if err != nil {
		return err
	}
	if len(steps) == 0 {
		// Result without a recorded call; open a self-contained step so
		// the trace still reconstructs.
		ep, err := s.ActiveEpisode()
		if err != nil {
			return err
		}
		episodeID := ""
		if ep != nil {
			episodeID = ep.EpisodeID
		} else {
			episodeID, err = s.BeginEpisode(fmt.Sprintf("session %s", e.SessionID))
			if err != nil {
				return err
			}
		}
		stepID, err := s.AddStep(&Step{
			EpisodeID: episodeID,
			Tool:      e.Payload.ToolName,
			TraceID:   e.TraceID,
			CreatedAt: e.TS,
		})
		if err != nil {
			return err
		}
		steps = []Step{{StepID: stepID}}
	}

	last := steps[len(steps)-1]
	evaluation := "ok"
	if e.Payload.IsError != nil && *e.Payload.IsError {
		evaluation = "error"
	}
	if err := s.ValidateStep(last.StepID, evaluation, truncate(e.Payload.ToolResult, 400)); err != nil {
		return err
	}

	if e.Payload.ToolResult != "" {
		_, err = s.AddEvidence(&Evidence{
			StepID:     last.StepID,
			Type:       "tool_output",
			ToolName:   e.Payload.ToolName,
			Bytes:      []byte(e.Payload.ToolResult),
			TTLSeconds: defaultEvidenceTTL,
			CreatedAt:  e.TS,
		})
	}
	return err
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
