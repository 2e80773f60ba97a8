package aroundtheworld

import (
	"encoding/json"
	"fmt"

	"darts/internal/game"
)

// Start is every player's first target.
const Start = 20

// AroundTheWorld implements game.Adapter. Players work down from 20 to 1
// and finish on the bull.
type AroundTheWorld struct{}

func (AroundTheWorld) Info() game.Info {
	return game.Info{
		Type:  game.TypeAroundTheWorld,
		Name:  "Around the World",
		Rules: game.PlayerRules{MinPlayers: 2, MaxPlayers: 4},
	}
}

// Scoreboard holds each seat's current target.
type Scoreboard struct {
	Targets []int `json:"targets"`
}

func (AroundTheWorld) NewScoreboard() (json.RawMessage, error) {
	return json.Marshal(Scoreboard{Targets: []int{Start, Start}})
}

func (AroundTheWorld) ApplyRound(g *game.Game, sub game.Submission) ([]game.ThrowOutcome, error) {
	seat := g.ThrowerSeat()
	if seat < 0 {
		return nil, fmt.Errorf("current thrower %s is not a player", g.CurrentThrower)
	}
	var b Scoreboard
	if err := json.Unmarshal(g.Scoreboard, &b); err != nil {
		return nil, fmt.Errorf("decode around the world scoreboard: %w", err)
	}
	for len(b.Targets) <= seat {
		b.Targets = append(b.Targets, Start)
	}

	outcomes := make([]game.ThrowOutcome, 0, len(sub))
	for _, i := range sub.Order() {
		s := sub[i]
		out := game.Miss(i, s)
		// Darts after the winning bull do not count.
		if s.Empty() || g.Finished() || int(*s.Number) != b.Targets[seat] {
			outcomes = append(outcomes, out)
			continue
		}
		out.Scored = true
		out.Closed = true
		if s.Number.IsBull() {
			g.DeclareWinner()
		} else {
			b.Targets[seat] = next(b.Targets[seat], *s.Multiplier)
		}
		outcomes = append(outcomes, out)
	}

	data, err := json.Marshal(&b)
	if err != nil {
		return nil, fmt.Errorf("encode around the world scoreboard: %w", err)
	}
	g.Scoreboard = data
	return outcomes, nil
}

// next moves the target down by the multiplier; running past 1 leaves the
// bull as the final target.
func next(target, multiplier int) int {
	if target-multiplier < 1 {
		return int(game.Bull)
	}
	return target - multiplier
}
