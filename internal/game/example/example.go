// Package example is the minimal scoring adapter: an empty scoreboard and
// rounds that never change it. It doubles as a template for new game types.
package example

import (
	"encoding/json"

	"darts/internal/game"
)

// Example implements game.Adapter.
type Example struct{}

func (Example) Info() game.Info {
	return game.Info{
		Type:  game.TypeExample,
		Name:  "Example",
		Rules: game.PlayerRules{MinPlayers: 2, MaxPlayers: 4},
	}
}

func (Example) NewScoreboard() (json.RawMessage, error) {
	return json.RawMessage(`{}`), nil
}

func (Example) ApplyRound(g *game.Game, sub game.Submission) ([]game.ThrowOutcome, error) {
	outcomes := make([]game.ThrowOutcome, 0, len(sub))
	for _, i := range sub.Order() {
		outcomes = append(outcomes, game.Miss(i, sub[i]))
	}
	return outcomes, nil
}
