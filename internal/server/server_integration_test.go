package server

import (
	"net/http"
	"testing"

	"nhooyr.io/websocket"

	"darts/internal/game"
)

// TestFullAroundTheWorldGame plays a game to the bull over HTTP while
// the other player follows on the feed.
func TestFullAroundTheWorldGame(t *testing.T) {
	env := setupTestEnv(t)
	alice := signup(t, env.ts, "alice", "Alice")
	bob := signup(t, env.ts, "bob", "Bob")
	g := createGame(t, env.ts, "around_the_world", alice, bob)

	ctx, cancel := timeoutCtx(t)
	defer cancel()
	conn := wsConnect(t, env.ts, g.ID, bob)
	defer conn.Close(websocket.StatusNormalClosure, "")
	readState(t, ctx, conn)
	waitSubscribers(t, env.feed, g.ID, 1)

	rounds := []struct {
		who   testUser
		round string
	}{
		{alice, `{"1":{"number":20,"multiplier":3},"2":{"number":17,"multiplier":3},"3":{"number":14,"multiplier":3}}`},
		{bob, missRound},
		{alice, `{"1":{"number":11,"multiplier":3},"2":{"number":8,"multiplier":3},"3":{"number":5,"multiplier":3}}`},
		{bob, `{"1":{"number":20,"multiplier":1}}`},
		{alice, `{"1":{"number":2,"multiplier":3},"2":{"number":25,"multiplier":1}}`},
	}
	var last game.Game
	for i, r := range rounds {
		decode(t, submitRound(t, env.ts, r.who, g.ID, r.round), http.StatusOK, &last)
		state := readState(t, ctx, conn)
		if state.Version != i+1 {
			t.Fatalf("round %d: feed version = %d, want %d", i+1, state.Version, i+1)
		}
	}

	if last.Winner == nil || last.Winner.ID != alice.ID || last.Winner.DisplayName != "Alice" {
		t.Fatalf("expected alice to win, got %+v", last.Winner)
	}

	var er errorResponse
	decode(t, submitRound(t, env.ts, bob, g.ID, missRound), http.StatusConflict, &er)
	if er.Error != game.ErrGameCompleted.Message {
		t.Fatalf("unexpected error: %q", er.Error)
	}

	var history []game.Round
	decode(t, do(t, env.ts, "GET", "/api/games/"+g.ID+"/rounds", alice, nil), http.StatusOK, &history)
	if len(history) != len(rounds) {
		t.Fatalf("expected %d rounds, got %d", len(rounds), len(history))
	}
	if history[0].PlayerID != alice.ID || len(history[0].Throws) != 3 {
		t.Fatalf("unexpected first round: %+v", history[0])
	}
	if history[1].PlayerID != bob.ID {
		t.Fatalf("expected bob's round second, got %s", history[1].PlayerID)
	}

	var listed []game.Game
	decode(t, do(t, env.ts, "GET", "/api/games", bob, nil), http.StatusOK, &listed)
	if len(listed) != 1 || listed[0].Winner == nil {
		t.Fatalf("expected finished game in list, got %+v", listed)
	}
}

// TestScorekeeperDelegation lets one player enter rounds for another.
func TestScorekeeperDelegation(t *testing.T) {
	env := setupTestEnv(t)
	alice := signup(t, env.ts, "alice", "Alice")
	bob := signup(t, env.ts, "bob", "Bob")
	g := createGame(t, env.ts, "cricket", alice, bob)

	decode(t, submitRound(t, env.ts, alice, g.ID, missRound), http.StatusOK, nil)

	// Alice cannot throw for bob until he allows it.
	decode(t, submitRound(t, env.ts, alice, g.ID, missRound), http.StatusForbidden, nil)
	decode(t, do(t, env.ts, "POST", "/api/games/"+g.ID+"/allow_update", bob, nil), http.StatusOK, nil)

	var after game.Game
	decode(t, submitRound(t, env.ts, alice, g.ID, `{"1":{"number":20,"multiplier":3}}`), http.StatusOK, &after)
	if after.CurrentThrower != alice.ID {
		t.Fatalf("expected turn back to alice, got %s", after.CurrentThrower)
	}

	var history []game.Round
	decode(t, do(t, env.ts, "GET", "/api/games/"+g.ID+"/rounds", alice, nil), http.StatusOK, &history)
	if len(history) != 2 || history[1].PlayerID != bob.ID {
		t.Fatalf("expected delegated round credited to bob, got %+v", history)
	}
}
