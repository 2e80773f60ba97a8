package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(w.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return string(body)
}

func TestCounters(t *testing.T) {
	m := New("darts")
	m.GameCreated("cricket")
	m.GameCreated("cricket")
	m.GameFinished("cricket")
	m.ObserveRound("cricket", "accepted", 5*time.Millisecond)
	m.ObserveRound("cricket", "validation", time.Millisecond)
	m.IncSubscribers()
	m.IncSubscribers()
	m.DecSubscribers()

	out := scrape(t, m)
	for _, want := range []string{
		`darts_games_created_total{game_type="cricket"} 2`,
		`darts_games_finished_total{game_type="cricket"} 1`,
		`darts_rounds_total{game_type="cricket",result="accepted"} 1`,
		`darts_rounds_total{game_type="cricket",result="validation"} 1`,
		`darts_round_latency_seconds_count 2`,
		`darts_feed_subscribers 1`,
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in output:\n%s", want, out)
		}
	}
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	m.GameCreated("cricket")
	m.GameFinished("cricket")
	m.ObserveRound("cricket", "accepted", time.Millisecond)
	m.IncSubscribers()
	m.DecSubscribers()
	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))
	if w.Code != 404 {
		t.Fatalf("expected 404 from nil metrics, got %d", w.Code)
	}
}
