package advisory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"spark/internal/config"
	"spark/internal/emotion"
	"spark/internal/logging"
	"spark/internal/statedir"
)

// Emission is the result of serving one advisory request.
type Emission struct {
	Items        []Advice `json:"items"`
	Suppressed   int      `json:"suppressed"`
	SourceErrors int      `json:"source_errors"`
	Written      bool     `json:"written"`
	ArtifactPath string   `json:"artifact_path,omitempty"`
	TraceID      string   `json:"trace_id,omitempty"`
}

// Synthesizer gathers, gates, ranks, and emits advisories.
type Synthesizer struct {
	cfg        config.AdvisoryConfig
	settings   Settings
	layout     *statedir.Layout
	sources    []Source
	dedupe     *deduper
	quarantine *Quarantine
	book       *Effectiveness

	// now is swappable for tests.
	now func() time.Time
}

// NewSynthesizer wires the synthesizer over the state layout. Sources are
// gathered in registration order. Operator settings select the memory
// behavior: mode off mutes the memory source, replay additionally
// re-surfaces high-ranked past emissions.
func NewSynthesizer(layout *statedir.Layout, cfg config.AdvisoryConfig, sources ...Source) *Synthesizer {
	settings, err := LoadSettings(layout)
	if err != nil {
		logging.Get(logging.CategoryAdvisory).Warn("advisory settings unreadable, using defaults: %v", err)
		settings = DefaultSettings()
	}
	s := &Synthesizer{
		cfg:        cfg,
		settings:   settings,
		layout:     layout,
		sources:    sources,
		dedupe:     newDeduper(cfg, layout.RecentAdvice()),
		quarantine: NewQuarantine(layout, cfg.QuarantineMaxLines),
		book:       LoadEffectiveness(layout),
		now:        time.Now,
	}
	if settings.MemoryMode == MemoryModeReplay {
		s.sources = append(s.sources, &ReplaySource{Path: layout.RecentAdvice()})
	}
	return s
}

// Register adds a source after construction.
func (s *Synthesizer) Register(src Source) { s.sources = append(s.sources, src) }

// Effectiveness exposes the reliability book (the auto-scorer writes
// through it).
func (s *Synthesizer) Effectiveness() *Effectiveness { return s.book }

// Advise serves one request end to end. Per-source failures are isolated;
// the emission proceeds with whatever the remaining sources produced.
func (s *Synthesizer) Advise(ctx context.Context, req *Request) (*Emission, error) {
	now := s.now()
	timer := logging.StartTimer(logging.CategoryAdvisory, "advise")
	defer timer.Stop()

	em := &Emission{TraceID: req.TraceID}

	var candidates []Advice
	for _, src := range s.sources {
		if s.settings.MemoryMode == MemoryModeOff && src.Name() == SourceMemory {
			continue
		}
		items, err := src.Gather(ctx, req)
		if err != nil {
			em.SourceErrors++
			logging.Get(logging.CategoryAdvisory).Warn("source %s failed: %v", src.Name(), err)
			continue
		}
		candidates = append(candidates, items...)
	}

	minRank := s.cfg.MinRankScore
	if req.MinRank > 0 {
		minRank = req.MinRank
	}

	var ranked []Advice
	for i := range candidates {
		a := candidates[i]
		a.Finalize(now)
		a.RankScore = s.rank(&a, now)

		if reason, drop := SuppressReason(a.Text); drop {
			s.quarantine.quarantineAdvice(&a, "obvious_suppression", reason)
			em.Suppressed++
			continue
		}
		if a.RankScore < minRank {
			s.quarantine.quarantineAdvice(&a, "rank", "below min rank score")
			em.Suppressed++
			continue
		}
		if reason, dup := s.dedupe.check(&a, req.TraceID, now); dup {
			s.quarantine.quarantineAdvice(&a, "dedupe", reason)
			em.Suppressed++
			continue
		}
		if s.dedupe.toolCoolingDown(req.Tool, a.RankScore, now) {
			s.quarantine.quarantineAdvice(&a, "cooldown", DedupeReasonCooldown)
			em.Suppressed++
			continue
		}
		ranked = append(ranked, a)
	}

	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].RankScore > ranked[j].RankScore })

	// Collapse duplicates within the batch itself: same advice_id keeps
	// its highest-ranked instance.
	seen := make(map[string]bool, len(ranked))
	kept := ranked[:0]
	for _, a := range ranked {
		if seen[a.AdviceID] {
			continue
		}
		seen[a.AdviceID] = true
		kept = append(kept, a)
	}
	ranked = kept

	maxItems := s.cfg.MaxItems
	if req.MaxItems > 0 && req.MaxItems < maxItems {
		maxItems = req.MaxItems
	}
	if len(ranked) > maxItems {
		ranked = ranked[:maxItems]
	}
	if req.MaxEmitPerCall > 0 && len(ranked) > req.MaxEmitPerCall {
		ranked = ranked[:req.MaxEmitPerCall]
	}

	em.Items = ranked
	if err := s.logRequest(req, em, now); err != nil {
		logging.Get(logging.CategoryAdvisory).Warn("request log append failed: %v", err)
	}

	if len(ranked) == 0 {
		// Nothing new survived the gates; leave the artifact untouched.
		return em, nil
	}

	// The recent-advice row lands before the artifact so the dedup windows
	// always cover everything the agent could have seen. If the row cannot
	// be persisted the emission fails and nothing is shown.
	if err := s.logEmission(req, ranked, now); err != nil {
		return em, fmt.Errorf("recent advice append: %w", err)
	}

	bridge := emotion.LoadBridge(s.layout.BridgeState())
	artifact := s.renderArtifact(req, ranked, bridge)
	artifactPath := s.layout.ArtifactFile(req.Workspace)
	if err := statedir.AtomicWrite(artifactPath, []byte(artifact), 0o644); err != nil {
		return em, fmt.Errorf("advisory artifact write: %w", err)
	}
	em.Written = true
	em.ArtifactPath = artifactPath
	logging.Advisory("emitted %d items (suppressed %d) tool=%s trace=%s", len(ranked), em.Suppressed, req.Tool, req.TraceID)
	return em, nil
}

// rank combines the scoring signals, clipped to [0,1].
func (s *Synthesizer) rank(a *Advice, now time.Time) float64 {
	recency := 0.0
	if a.CreatedAt > 0 {
		age := now.Sub(time.Unix(a.CreatedAt, 0))
		if age < time.Hour {
			recency = 1 - age.Hours()
		}
	}
	r := s.cfg.ConfidenceWeight*a.Confidence +
		s.cfg.ContextWeight*a.ContextMatch +
		s.cfg.ReliabilityWeight*s.book.Reliability(a.Source) +
		s.cfg.RecencyWeight*recency
	if r < 0 {
		return 0
	}
	if r > 1 {
		return 1
	}
	return r
}

// renderArtifact produces the short markdown packet. The guidance style
// shapes presentation only: concise drops the header, coach annotates each
// item with its provenance. The bridge shapes tone and the
// clarifying-question tail only; it never resurrects gated items.
func (s *Synthesizer) renderArtifact(req *Request, items []Advice, bridge *emotion.BridgeState) string {
	var sb strings.Builder
	if s.settings.GuidanceStyle != StyleConcise {
		sb.WriteString("# Advisory\n\n")
	}
	for i, a := range items {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, strings.TrimSpace(a.Text))
		if s.settings.GuidanceStyle == StyleCoach {
			fmt.Fprintf(&sb, "   (from %s, confidence %.2f)\n", a.Source, a.Confidence)
		}
	}
	if bridge != nil && bridge.MaxInfluence > 0 && bridge.Strategy.AskClarifyingQuestion {
		sb.WriteString("\nIf the goal here is ambiguous, ask the user one clarifying question before acting.\n")
	}
	return sb.String()
}

// logEmission appends the recent-advice row and feeds the dedup windows.
func (s *Synthesizer) logEmission(req *Request, items []Advice, now time.Time) error {
	row := recentRow{
		TS:        now.Unix(),
		TraceID:   req.TraceID,
		SessionID: req.SessionID,
		Tool:      req.Tool,
	}
	for _, a := range items {
		row.AdviceIDs = append(row.AdviceIDs, a.AdviceID)
		row.Items = append(row.Items, recentItem{
			AdviceID:   a.AdviceID,
			Source:     a.Source,
			InsightKey: a.InsightKey,
			NormText:   NormalizeAdviceText(a.Text),
			Rank:       a.RankScore,
		})
	}
	line, err := json.Marshal(row)
	if err != nil {
		return err
	}
	if err := statedir.AppendLine(s.layout.RecentAdvice(), line); err != nil {
		return err
	}
	s.dedupe.noteRow(&row)
	return nil
}

// logRequest appends the served request (with its outcome shape) to the
// advice log.
func (s *Synthesizer) logRequest(req *Request, em *Emission, now time.Time) error {
	entry := struct {
		TS         int64    `json:"ts"`
		Tool       string   `json:"tool"`
		Context    string   `json:"context,omitempty"`
		TraceID    string   `json:"trace_id,omitempty"`
		SessionID  string   `json:"session_id,omitempty"`
		Emitted    int      `json:"emitted"`
		Suppressed int      `json:"suppressed"`
		AdviceIDs  []string `json:"advice_ids,omitempty"`
		Instances  []string `json:"advisory_instance_ids,omitempty"`
		Texts      []string `json:"texts,omitempty"`
	}{
		TS:         now.Unix(),
		Tool:       req.Tool,
		Context:    req.Context,
		TraceID:    req.TraceID,
		SessionID:  req.SessionID,
		Emitted:    len(em.Items),
		Suppressed: em.Suppressed,
	}
	for _, a := range em.Items {
		entry.AdviceIDs = append(entry.AdviceIDs, a.AdviceID)
		entry.Instances = append(entry.Instances, a.InstanceID)
		entry.Texts = append(entry.Texts, a.Text)
	}
	line, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return statedir.AppendLine(s.layout.AdviceLog(), line)
}
