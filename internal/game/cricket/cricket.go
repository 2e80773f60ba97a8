package cricket

import (
	"encoding/json"
	"fmt"
	"strconv"

	"darts/internal/game"
)

// Targets are the scoreable numbers, in board order.
var Targets = []game.Number{20, 19, 18, 17, 16, 15, game.Bull}

// closed is the number of marks that closes a target.
const closed = 3

// Cricket implements game.Adapter.
type Cricket struct{}

func (Cricket) Info() game.Info {
	return game.Info{
		Type:  game.TypeCricket,
		Name:  "Cricket",
		Rules: game.PlayerRules{MinPlayers: 2, MaxPlayers: 2},
	}
}

// Mark is the per-seat state of one target.
type Mark struct {
	Score  [2]int `json:"score"`
	Closes [2]int `json:"closes"`
}

// Scoreboard is the cricket board. Seat 0 is the first registered player.
type Scoreboard struct {
	Targets map[string]*Mark `json:"targets"`
	Total   [2]int           `json:"total"`
}

// Key returns the scoreboard key of a number.
func Key(n game.Number) string {
	if n.IsBull() {
		return "bull"
	}
	return strconv.Itoa(int(n))
}

func newBoard() *Scoreboard {
	b := &Scoreboard{Targets: make(map[string]*Mark, len(Targets))}
	for _, n := range Targets {
		b.Targets[Key(n)] = &Mark{}
	}
	return b
}

func (Cricket) NewScoreboard() (json.RawMessage, error) {
	return json.Marshal(newBoard())
}

func (Cricket) ApplyRound(g *game.Game, sub game.Submission) ([]game.ThrowOutcome, error) {
	if len(g.Players) != 2 {
		return nil, fmt.Errorf("cricket needs 2 players, game has %d", len(g.Players))
	}
	var b Scoreboard
	if err := json.Unmarshal(g.Scoreboard, &b); err != nil {
		return nil, fmt.Errorf("decode cricket scoreboard: %w", err)
	}

	thrower, opponent := 1, 0
	if g.CurrentThrower == g.Players[0].ID {
		thrower, opponent = 0, 1
	}

	outcomes := make([]game.ThrowOutcome, 0, len(sub))
	for _, i := range sub.Order() {
		s := sub[i]
		out := game.Miss(i, s)
		if s.Empty() {
			outcomes = append(outcomes, out)
			continue
		}
		mark, ok := b.Targets[Key(*s.Number)]
		if !ok {
			outcomes = append(outcomes, out)
			continue
		}
		value := int(*s.Number)
		hits := *s.Multiplier

		before := min(mark.Closes[thrower], closed)
		if before < closed {
			closing := min(hits, closed-before)
			mark.Closes[thrower] = before + closing
			out.Closed = true
			out.CloseAmount = game.Amount(closing)
			hits -= closing
		}
		// Marks beyond closing score only while the opponent is still open.
		if hits > 0 && mark.Closes[opponent] < closed {
			points := value * hits
			mark.Score[thrower] += points
			b.Total[thrower] += points
			out.Scored = true
			out.ScoreAmount = game.Amount(points)
		}
		outcomes = append(outcomes, out)
	}

	if b.wins(thrower, opponent) {
		g.DeclareWinner()
	}

	data, err := json.Marshal(&b)
	if err != nil {
		return nil, fmt.Errorf("encode cricket scoreboard: %w", err)
	}
	g.Scoreboard = data
	return outcomes, nil
}

// wins checks only the acting thrower: every target closed and a total at
// least equal to the opponent's.
func (b *Scoreboard) wins(thrower, opponent int) bool {
	for _, n := range Targets {
		m, ok := b.Targets[Key(n)]
		if !ok || m.Closes[thrower] < closed {
			return false
		}
	}
	return b.Total[thrower] >= b.Total[opponent]
}
