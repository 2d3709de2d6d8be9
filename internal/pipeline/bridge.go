package pipeline

import (
	"context"
	"strings"

	"spark/internal/advisory"
	"spark/internal/queue"
	"spark/internal/types"
)

// AdvisoryBridge refreshes the advisory artifact from the worker's
// processed batches. When a tick carries no metrics (the bridge ran out
// of band), it falls back to reading recent events so it is never starved
// by a fast-draining worker.
type AdvisoryBridge struct {
	Synthesizer *advisory.Synthesizer
	Queue       *queue.Queue
	Workspace   string
}

func (b *AdvisoryBridge) Name() string { return "advisory_refresh" }

// OnTick derives one advisory request from the observed events and serves
// it. An empty batch is a no-op.
func (b *AdvisoryBridge) OnTick(ctx context.Context, m *ProcessingMetrics) error {
	var events []*types.Event
	if m != nil {
		events = m.ProcessedEvents
	} else {
		recent, err := b.Queue.ReadRecent(50)
		if err != nil {
			return err
		}
		events = recent
	}
	if len(events) == 0 {
		return nil
	}

	req := b.requestFrom(events)
	if req == nil {
		return nil
	}
	_, err := b.Synthesizer.Advise(ctx, req)
	return err
}

// requestFrom summarizes a batch into a request: the last tool event sets
// tool and trace, message texts become the context.
func (b *AdvisoryBridge) requestFrom(events []*types.Event) *advisory.Request {
	req := &advisory.Request{Workspace: b.Workspace}
	var contextParts []string
	for _, e := range events {
		switch e.Kind {
		case types.KindTool:
			req.Tool = e.Payload.ToolName
			req.TraceID = e.TraceID
			req.SessionID = e.SessionID
		case types.KindMessage:
			if e.Payload.Text != "" {
				contextParts = append(contextParts, e.Payload.Text)
			}
			if req.SessionID == "" {
				req.SessionID = e.SessionID
			}
		}
	}
	if req.Tool == "" && len(contextParts) == 0 {
		return nil
	}
	if len(contextParts) > 5 {
		contextParts = contextParts[len(contextParts)-5:]
	}
	req.Context = strings.Join(contextParts, "\n")
	return req
}
