package llm

import (
	"encoding/json"
	"strings"

	"github.com/antlaw0/AI-DM-v2/internal/model/game"
)

// Interpret decodes raw model output into a TurnResult. It is total: any
// text, including empty strings, prose, or truncated JSON, yields a
// well-formed result.
//
// If the output is not a JSON object, the whole raw text becomes the
// narration. If it is an object, each expected key is decoded independently
// and backfilled with its empty default when absent or of the wrong type, so
// one malformed key never rejects the rest of the payload.
func Interpret(raw string) game.TurnResult {
	result := game.TurnResult{
		PlayerStats: map[string]any{},
		GameEvents:  []string{},
	}

	trimmed := strings.TrimSpace(raw)

	// A JSON null decodes into a nil map without error; treat it like any
	// other non-object output.
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(trimmed), &fields); err != nil || fields == nil {
		result.Narration = trimmed
		return result
	}

	if rawNarration, ok := fields["narration"]; ok {
		var narration string
		if err := json.Unmarshal(rawNarration, &narration); err == nil {
			result.Narration = narration
		}
	}

	if rawStats, ok := fields["player_stats"]; ok {
		var stats map[string]any
		if err := json.Unmarshal(rawStats, &stats); err == nil && stats != nil {
			result.PlayerStats = stats
		}
	}

	if rawEvents, ok := fields["game_events"]; ok {
		var events []string
		if err := json.Unmarshal(rawEvents, &events); err == nil && events != nil {
			result.GameEvents = events
		}
	}

	return result
}
