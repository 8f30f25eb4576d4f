package game

// TurnResult is the structured outcome of one turn, as decoded from the
// model's reply and as returned to the HTTP layer. PlayerStats is kept as an
// open object so stat keys the model tracks (HP, Level, Class, Race, AC,
// Equipment, Gold, Spells, or anything else) survive the round trip
// untouched.
type TurnResult struct {
	Narration   string         `json:"narration"`
	PlayerStats map[string]any `json:"player_stats"`
	GameEvents  []string       `json:"game_events"`
}
