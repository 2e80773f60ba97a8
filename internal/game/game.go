package game

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Type identifies a darts game variant.
type Type string

const (
	TypeCricket        Type = "cricket"
	TypeAroundTheWorld Type = "around_the_world"
	TypeExample        Type = "example"
)

// ParseType maps a user supplied game type ("Cricket", "around-the-world", ...)
// onto the closed set of known types.
func ParseType(s string) (Type, error) {
	norm := strings.ToLower(strings.TrimSpace(s))
	norm = strings.NewReplacer("-", "_", " ", "_").Replace(norm)
	switch Type(norm) {
	case TypeCricket, TypeAroundTheWorld, TypeExample:
		return Type(norm), nil
	}
	return "", fmt.Errorf("unknown game type: %q", s)
}

// PlayerRules holds the static participant constraints of a game type.
type PlayerRules struct {
	MinPlayers int `json:"minPlayers"`
	MaxPlayers int `json:"maxPlayers"`
}

// Info describes a game type for the lobby.
type Info struct {
	Type  Type        `json:"type"`
	Name  string      `json:"name"`
	Rules PlayerRules `json:"rules"`
}

// Player is a participant reference with its resolved display name.
type Player struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName,omitempty"`
}

// Game is one darts game between registered players.
type Game struct {
	ID             string          `json:"id"`
	CreatedAt      time.Time       `json:"createdAt"`
	Type           Type            `json:"gameType"`
	Players        []Player        `json:"players"`
	CurrentThrower string          `json:"currentThrower"`
	Winner         *Player         `json:"winner,omitempty"`
	Scoreboard     json.RawMessage `json:"scoreboard"`
	Version        int             `json:"version"`
}

// Finished reports whether a winner has been recorded.
func (g *Game) Finished() bool {
	return g.Winner != nil
}

// Seat returns the registration index of a player, or -1.
func (g *Game) Seat(playerID string) int {
	for i, p := range g.Players {
		if p.ID == playerID {
			return i
		}
	}
	return -1
}

// HasPlayer reports whether playerID is a participant.
func (g *Game) HasPlayer(playerID string) bool {
	return g.Seat(playerID) >= 0
}

// ThrowerSeat is the seat of the current thrower.
func (g *Game) ThrowerSeat() int {
	return g.Seat(g.CurrentThrower)
}

// AdvanceThrower moves the turn to the next player in registration order,
// wrapping to the first after the last.
func (g *Game) AdvanceThrower() {
	if len(g.Players) == 0 {
		return
	}
	next := (g.ThrowerSeat() + 1) % len(g.Players)
	g.CurrentThrower = g.Players[next].ID
}

// DeclareWinner records the current thrower as winner. A winner, once set,
// is never replaced.
func (g *Game) DeclareWinner() {
	if g.Winner != nil {
		return
	}
	g.Winner = &Player{ID: g.CurrentThrower}
}

// PlayerIDs returns the participant ids in registration order.
func (g *Game) PlayerIDs() []string {
	ids := make([]string, len(g.Players))
	for i, p := range g.Players {
		ids[i] = p.ID
	}
	return ids
}

// Round is a persisted record of one accepted submission.
type Round struct {
	ID        string    `json:"id"`
	GameID    string    `json:"gameId"`
	PlayerID  string    `json:"playerId"`
	CreatedAt time.Time `json:"createdAt"`
	Throws    []Throw   `json:"throws,omitempty"`
}

// Throw is a persisted record of one dart within a round.
type Throw struct {
	ID        string    `json:"id"`
	RoundID   string    `json:"roundId"`
	CreatedAt time.Time `json:"createdAt"`
	ThrowOutcome
}

// Adapter scores one game type. Implementations own the shape of
// Game.Scoreboard; no other component looks inside it.
type Adapter interface {
	Info() Info
	// NewScoreboard returns the initial scoreboard of a new game.
	NewScoreboard() (json.RawMessage, error)
	// ApplyRound applies an already validated submission to g.Scoreboard in
	// slot order and returns one outcome per slot. It may declare the
	// current thrower winner but never advances the turn.
	ApplyRound(g *Game, sub Submission) ([]ThrowOutcome, error)
}
