package outcome

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"spark/internal/logging"
	"spark/internal/statedir"
)

// Checkin solicits missing outcomes: when advisories have been emitted but
// no explicit feedback has arrived for a while, it appends a neutral
// check-in row the advisory layer can surface as a gentle prompt. The min
// interval stops it from nagging.
type Checkin struct {
	statePath string
	log       *Log
	minEvery  time.Duration
}

type checkinState struct {
	LastAskedAt int64 `json:"last_asked_at"`
}

// NewCheckin builds the solicitor.
func NewCheckin(layout *statedir.Layout, log *Log, minEvery time.Duration) *Checkin {
	return &Checkin{statePath: layout.CheckinState(), log: log, minEvery: minEvery}
}

// MaybeSolicit asks for feedback when the interval has elapsed and no
// explicit feedback landed since the last ask. Returns whether a check-in
// row was appended.
func (c *Checkin) MaybeSolicit(now time.Time) (bool, error) {
	st, err := c.loadState()
	if err != nil {
		return false, err
	}
	if st.LastAskedAt > 0 && now.Sub(time.Unix(st.LastAskedAt, 0)) < c.minEvery {
		return false, nil
	}

	recent, err := c.log.ReadSince(st.LastAskedAt)
	if err != nil {
		return false, err
	}
	for _, r := range recent {
		if r.EventType == EventExplicitFeedback {
			// Feedback is flowing; push the window forward silently.
			return false, c.saveState(checkinState{LastAskedAt: now.Unix()})
		}
	}

	err = c.log.Append(&Record{
		EventType: EventCheckin,
		Polarity:  PolarityNeutral,
		Text:      "no explicit feedback received since last check-in",
		CreatedAt: now.Unix(),
	})
	if err != nil {
		return false, err
	}
	logging.Outcome("check-in solicited at %d", now.Unix())
	return true, c.saveState(checkinState{LastAskedAt: now.Unix()})
}

func (c *Checkin) loadState() (checkinState, error) {
	var st checkinState
	data, err := os.ReadFile(c.statePath)
	if err != nil {
		if os.IsNotExist(err) {
			return st, nil
		}
		return st, fmt.Errorf("checkin state read: %w", err)
	}
	if err := json.Unmarshal(data, &st); err != nil {
		// Corrupt state resets the clock rather than wedging the worker.
		return checkinState{}, nil
	}
	return st, nil
}

func (c *Checkin) saveState(st checkinState) error {
	data, err := json.Marshal(st)
	if err != nil {
		return err
	}
	return statedir.AtomicWrite(c.statePath, data, 0o644)
}
