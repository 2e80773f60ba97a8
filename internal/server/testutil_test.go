package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"testing/fstest"
	"time"

	"nhooyr.io/websocket"

	"darts/internal/auth"
	"darts/internal/delegation"
	"darts/internal/game"
	"darts/internal/metrics"
	"darts/internal/play"
	"darts/internal/storage"
)

// --- Test environment ---

type testEnv struct {
	ts   *httptest.Server
	mgr  *play.Manager
	feed *play.Feed
}

func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store, err := storage.New(":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	m := metrics.New("darts")
	mgr := play.NewManager(play.Config{
		Registry:      play.NewRegistry(),
		Store:         store,
		Delegations:   delegation.New(),
		DelegationTTL: time.Minute,
		Metrics:       m,
	})
	tokens := &auth.Tokens{Secret: []byte("test-secret"), TTL: time.Hour, CookieName: "darts_token"}
	feed := play.NewFeed(m)

	webFS := fstest.MapFS{
		"index.html": &fstest.MapFile{Data: []byte("<html><body>test</body></html>")},
	}
	srv := New(Options{
		Manager:        mgr,
		Auth:           auth.NewService(store, tokens),
		Feed:           feed,
		Metrics:        m,
		WebFS:          webFS,
		ClientOrigin:   "http://localhost:5173",
		RequestTimeout: 5 * time.Second,
	})
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)

	return &testEnv{ts: ts, mgr: mgr, feed: feed}
}

// --- Context helpers ---

func timeoutCtx(t *testing.T) (context.Context, context.CancelFunc) {
	t.Helper()
	return context.WithTimeout(context.Background(), 5*time.Second)
}

// --- REST API helpers ---

type testUser struct {
	ID    string
	Token string
}

// signup registers a user and returns its id and bearer token.
func signup(t *testing.T, ts *httptest.Server, username, displayName string) testUser {
	t.Helper()
	body := fmt.Sprintf(`{"username":%q,"displayName":%q,"password":"password1"}`, username, displayName)
	resp, err := http.Post(ts.URL+"/api/auth/signup", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("signup: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		b, _ := io.ReadAll(resp.Body)
		t.Fatalf("signup %s: expected 201, got %d: %s", username, resp.StatusCode, b)
	}
	var result authResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("decode signup: %v", err)
	}
	return testUser{ID: result.User.ID, Token: result.Token}
}

// do sends an authenticated JSON request. body may be nil.
func do(t *testing.T, ts *httptest.Server, method, path string, u testUser, body any) *http.Response {
	t.Helper()
	var rd io.Reader
	if body != nil {
		switch b := body.(type) {
		case string:
			rd = strings.NewReader(b)
		default:
			data, err := json.Marshal(b)
			if err != nil {
				t.Fatalf("marshal body: %v", err)
			}
			rd = strings.NewReader(string(data))
		}
	}
	req, err := http.NewRequest(method, ts.URL+path, rd)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if u.Token != "" {
		req.Header.Set("Authorization", "Bearer "+u.Token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

// decode reads a JSON response body into v after checking the status.
func decode(t *testing.T, resp *http.Response, status int, v any) {
	t.Helper()
	if resp.StatusCode != status {
		b, _ := io.ReadAll(resp.Body)
		t.Fatalf("expected %d, got %d: %s", status, resp.StatusCode, b)
	}
	if v == nil {
		return
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode: %v", err)
	}
}

// createGame starts a game through the API as the first player.
func createGame(t *testing.T, ts *httptest.Server, gameType string, players ...testUser) *game.Game {
	t.Helper()
	ids := make([]string, len(players))
	for i, p := range players {
		ids[i] = p.ID
	}
	resp := do(t, ts, "POST", "/api/games", players[0], map[string]any{"gameType": gameType, "players": ids})
	var g game.Game
	decode(t, resp, http.StatusCreated, &g)
	return &g
}

// submitRound PUTs a round given as JSON, e.g. `{"1":{"number":20,"multiplier":3}}`.
func submitRound(t *testing.T, ts *httptest.Server, u testUser, gameID, round string) *http.Response {
	t.Helper()
	return do(t, ts, "PUT", "/api/games/"+gameID, u, `{"round":`+round+`}`)
}

const missRound = `{"1":{"number":null,"multiplier":null},"2":{},"3":{}}`

// --- WebSocket helpers ---

func wsURL(ts *httptest.Server, gameID string) string {
	return strings.Replace(ts.URL, "http://", "ws://", 1) + "/api/games/" + gameID + "/ws"
}

// wsConnect dials the game feed as u and returns the connection.
// The caller is responsible for closing the connection.
func wsConnect(t *testing.T, ts *httptest.Server, gameID string, u testUser) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, wsURL(ts, gameID), &websocket.DialOptions{
		HTTPHeader: http.Header{"Authorization": []string{"Bearer " + u.Token}},
	})
	if err != nil {
		t.Fatalf("ws dial: %v", err)
	}
	return conn
}

// wsSend marshals and writes a typed message, calling t.Fatal on error.
func wsSend(ctx context.Context, t *testing.T, conn *websocket.Conn, msgType string, payload any) {
	t.Helper()
	var p []byte
	switch v := payload.(type) {
	case string:
		p = []byte(v)
	default:
		var err error
		if p, err = json.Marshal(v); err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
	}
	data, err := json.Marshal(WSMessage{Type: msgType, Payload: p})
	if err != nil {
		t.Fatalf("marshal ws message: %v", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Fatalf("ws write: %v", err)
	}
}

// wsRead reads and unmarshals a WebSocket message, calling t.Fatal on error.
func wsRead(ctx context.Context, t *testing.T, conn *websocket.Conn) WSMessage {
	t.Helper()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("ws read: %v", err)
	}
	var msg WSMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("unmarshal ws message: %v", err)
	}
	return msg
}

// readState reads a WebSocket message and expects it to be a "state" message.
func readState(t *testing.T, ctx context.Context, conn *websocket.Conn) game.Game {
	t.Helper()
	msg := wsRead(ctx, t, conn)
	if msg.Type != "state" {
		t.Fatalf("expected state message, got %q: %s", msg.Type, string(msg.Payload))
	}
	var g game.Game
	if err := json.Unmarshal(msg.Payload, &g); err != nil {
		t.Fatalf("unmarshal state payload: %v", err)
	}
	return g
}

// readError reads a WebSocket message and expects it to be an "error" message.
func readError(t *testing.T, ctx context.Context, conn *websocket.Conn) errorPayload {
	t.Helper()
	msg := wsRead(ctx, t, conn)
	if msg.Type != "error" {
		t.Fatalf("expected error message, got %q: %s", msg.Type, string(msg.Payload))
	}
	var ep errorPayload
	if err := json.Unmarshal(msg.Payload, &ep); err != nil {
		t.Fatalf("unmarshal error payload: %v", err)
	}
	return ep
}

// waitSubscribers polls until n clients watch gameID.
func waitSubscribers(t *testing.T, feed *play.Feed, gameID string, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for feed.Count(gameID) != n {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d subscribers, have %d", n, feed.Count(gameID))
		}
		time.Sleep(5 * time.Millisecond)
	}
}
