package emotion

import (
	"encoding/json"
	"os"
)

// bridgeSource is the only accepted producer tag for bridge state files.
// Anything else (including "fallback") is ignored entirely.
const bridgeSource = "consciousness_bridge_v1"

// maxInfluenceCeiling is the hard clamp on how much the bridge can shape a
// response. The bridge shapes tone only; it never overrides suppression.
const maxInfluenceCeiling = 0.35

// Strategy is the response-shape hint supplied by the consciousness bridge.
// Only these four keys are honored; unknown keys in the state file are
// dropped on decode.
type Strategy struct {
	ResponsePace          string `json:"response_pace,omitempty"`
	Verbosity             string `json:"verbosity,omitempty"`
	ToneShape             string `json:"tone_shape,omitempty"`
	AskClarifyingQuestion bool   `json:"ask_clarifying_question,omitempty"`
}

// BridgeState is the decoded bridge file.
type BridgeState struct {
	Source       string   `json:"source"`
	MaxInfluence float64  `json:"max_influence"`
	Strategy     Strategy `json:"strategy"`
	Emotion      Snapshot `json:"emotion"`
}

// LoadBridge reads and sanitizes the bridge state file. Returns nil when
// the file is absent, malformed, or produced by an unrecognized source.
func LoadBridge(path string) *BridgeState {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var state BridgeState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil
	}
	if state.Source != bridgeSource {
		return nil
	}
	if state.MaxInfluence < 0 {
		state.MaxInfluence = 0
	}
	if state.MaxInfluence > maxInfluenceCeiling {
		state.MaxInfluence = maxInfluenceCeiling
	}
	return &state
}
