package llm

import (
	"strings"

	"github.com/antlaw0/AI-DM-v2/internal/model/game"
)

// systemInstruction is the fixed dungeon-master instruction sent on every
// turn. It is configuration, never user input, and carries the output-shape
// contract the interpreter decodes against.
const systemInstruction = `You are an AI Dungeon Master for a Dungeons and Dragons 5e campaign. You will need to keep track of everything in order to maintain immersion for the player. This means player HP, amount of gold, equipped gear, spells, etc. You will retrieve relevant database entries for people, places, and things throughout the game and update these files according to outcomes of the player's actions. You are to maintain realism by giving logical outcomes for player actions within the context of the game.

Always answer with a single JSON object of the form:
{"narration": string, "player_stats": {"HP": int, "Level": int, "Class": string, "Race": string, "AC": int, "Equipment": [string], "Gold": int, "Spells": [string]}, "game_events": [string]}`

// Turn boundary markers. The same strings are sent as stop sequences so the
// model cannot speak past its own turn.
const (
	markerSystem    = "<|system|>"
	markerUser      = "<|user|>"
	markerAssistant = "<|assistant|>"
)

// StopMarkers bound the model's turn in the completion request.
var StopMarkers = []string{markerUser, markerSystem}

// BuildPrompt serializes the system instruction, the prior context window
// (oldest first), and the new player input into one completion prompt ending
// on an open assistant turn.
func BuildPrompt(history []game.Message, input string) string {
	var b strings.Builder
	b.WriteString(markerSystem)
	b.WriteString("\n")
	b.WriteString(systemInstruction)
	b.WriteString("\n")

	for _, msg := range history {
		switch msg.Role {
		case game.RolePlayer:
			b.WriteString(markerUser)
		case game.RoleNarrator:
			b.WriteString(markerAssistant)
		default:
			continue
		}
		b.WriteString("\n")
		b.WriteString(msg.Content)
		b.WriteString("\n")
	}

	b.WriteString(markerUser)
	b.WriteString("\n")
	b.WriteString(input)
	b.WriteString("\n")
	b.WriteString(markerAssistant)
	b.WriteString("\n")
	return b.String()
}
