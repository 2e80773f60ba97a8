package server

import (
	"net/http"
	"testing"

	"nhooyr.io/websocket"

	"darts/internal/game"
)

func TestWSReceivesInitialState(t *testing.T) {
	env := setupTestEnv(t)
	alice := signup(t, env.ts, "alice", "Alice")
	bob := signup(t, env.ts, "bob", "Bob")
	g := createGame(t, env.ts, "cricket", alice, bob)

	ctx, cancel := timeoutCtx(t)
	defer cancel()
	conn := wsConnect(t, env.ts, g.ID, bob)
	defer conn.Close(websocket.StatusNormalClosure, "")

	state := readState(t, ctx, conn)
	if state.ID != g.ID || state.CurrentThrower != alice.ID {
		t.Fatalf("unexpected initial state: %+v", state)
	}
}

func TestWSRequiresAuth(t *testing.T) {
	env := setupTestEnv(t)
	ctx, cancel := timeoutCtx(t)
	defer cancel()
	_, resp, err := websocket.Dial(ctx, wsURL(env.ts, "whatever"), nil)
	if err == nil {
		t.Fatal("expected dial to fail without a token")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %v", resp)
	}
}

func TestWSUnknownGame(t *testing.T) {
	env := setupTestEnv(t)
	alice := signup(t, env.ts, "alice", "Alice")
	ctx, cancel := timeoutCtx(t)
	defer cancel()
	_, resp, err := websocket.Dial(ctx, wsURL(env.ts, "nonexistent"), &websocket.DialOptions{
		HTTPHeader: http.Header{"Authorization": []string{"Bearer " + alice.Token}},
	})
	if err == nil {
		t.Fatal("expected dial to fail for unknown game")
	}
	if resp == nil || resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %v", resp)
	}
}

func TestWSBroadcastsRESTRounds(t *testing.T) {
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

	resp := submitRound(t, env.ts, alice, g.ID, `{"1":{"number":20,"multiplier":1}}`)
	decode(t, resp, http.StatusOK, nil)

	state := readState(t, ctx, conn)
	if state.CurrentThrower != bob.ID || state.Version != 1 {
		t.Fatalf("unexpected broadcast state: %+v", state)
	}
}

func TestWSSubmitRound(t *testing.T) {
	env := setupTestEnv(t)
	alice := signup(t, env.ts, "alice", "Alice")
	bob := signup(t, env.ts, "bob", "Bob")
	g := createGame(t, env.ts, "cricket", alice, bob)

	ctx, cancel := timeoutCtx(t)
	defer cancel()
	ca := wsConnect(t, env.ts, g.ID, alice)
	defer ca.Close(websocket.StatusNormalClosure, "")
	cb := wsConnect(t, env.ts, g.ID, bob)
	defer cb.Close(websocket.StatusNormalClosure, "")
	readState(t, ctx, ca)
	readState(t, ctx, cb)
	waitSubscribers(t, env.feed, g.ID, 2)

	wsSend(ctx, t, ca, "round", `{"round":{"1":{"number":19,"multiplier":2}}}`)

	for _, conn := range []*websocket.Conn{ca, cb} {
		state := readState(t, ctx, conn)
		if state.CurrentThrower != bob.ID {
			t.Fatalf("expected bob next, got %s", state.CurrentThrower)
		}
	}
}

func TestWSRoundErrors(t *testing.T) {
	env := setupTestEnv(t)
	alice := signup(t, env.ts, "alice", "Alice")
	bob := signup(t, env.ts, "bob", "Bob")
	g := createGame(t, env.ts, "cricket", alice, bob)

	ctx, cancel := timeoutCtx(t)
	defer cancel()
	conn := wsConnect(t, env.ts, g.ID, bob)
	defer conn.Close(websocket.StatusNormalClosure, "")
	readState(t, ctx, conn)

	wsSend(ctx, t, conn, "round", `{"round":{"1":{}}}`)
	if ep := readError(t, ctx, conn); ep.Message != game.ErrNotYourTurn.Message {
		t.Fatalf("unexpected error: %q", ep.Message)
	}

	wsSend(ctx, t, conn, "round", `{"nope":1}`)
	if ep := readError(t, ctx, conn); ep.Message != "invalid round payload" {
		t.Fatalf("unexpected error: %q", ep.Message)
	}

	wsSend(ctx, t, conn, "dance", `{}`)
	if ep := readError(t, ctx, conn); ep.Message != "unknown message type: dance" {
		t.Fatalf("unexpected error: %q", ep.Message)
	}
}

func TestWSValidationErrorHasSlots(t *testing.T) {
	env := setupTestEnv(t)
	alice := signup(t, env.ts, "alice", "Alice")
	bob := signup(t, env.ts, "bob", "Bob")
	g := createGame(t, env.ts, "cricket", alice, bob)

	ctx, cancel := timeoutCtx(t)
	defer cancel()
	conn := wsConnect(t, env.ts, g.ID, alice)
	defer conn.Close(websocket.StatusNormalClosure, "")
	readState(t, ctx, conn)

	wsSend(ctx, t, conn, "round", `{"round":{"2":{"number":25,"multiplier":3}}}`)
	ep := readError(t, ctx, conn)
	if len(ep.Slots[2]) != 1 || ep.Slots[2][0] != game.MsgTripleBull {
		t.Fatalf("unexpected slots: %v", ep.Slots)
	}
}

func TestWSReconnectReplacesConnection(t *testing.T) {
	env := setupTestEnv(t)
	alice := signup(t, env.ts, "alice", "Alice")
	bob := signup(t, env.ts, "bob", "Bob")
	g := createGame(t, env.ts, "cricket", alice, bob)

	ctx, cancel := timeoutCtx(t)
	defer cancel()
	first := wsConnect(t, env.ts, g.ID, bob)
	defer first.Close(websocket.StatusNormalClosure, "")
	readState(t, ctx, first)
	waitSubscribers(t, env.feed, g.ID, 1)

	second := wsConnect(t, env.ts, g.ID, bob)
	defer second.Close(websocket.StatusNormalClosure, "")
	readState(t, ctx, second)

	// The replaced connection is closed by the server.
	if _, _, err := first.Read(ctx); err == nil {
		t.Fatal("expected first connection to be closed")
	}
	waitSubscribers(t, env.feed, g.ID, 1)
}

func TestWSClosedOnDelete(t *testing.T) {
	env := setupTestEnv(t)
	alice := signup(t, env.ts, "alice", "Alice")
	bob := signup(t, env.ts, "bob", "Bob")
	g := createGame(t, env.ts, "cricket", alice, bob)

	ctx, cancel := timeoutCtx(t)
	defer cancel()
	conn := wsConnect(t, env.ts, g.ID, bob)
	defer conn.Close(websocket.StatusNormalClosure, "")
	readState(t, ctx, conn)
	waitSubscribers(t, env.feed, g.ID, 1)

	decode(t, do(t, env.ts, "DELETE", "/api/games/"+g.ID, alice, nil), http.StatusNoContent, nil)
	if _, _, err := conn.Read(ctx); err == nil {
		t.Fatal("expected connection closed after delete")
	}
	waitSubscribers(t, env.feed, g.ID, 0)
}
