package play

import (
	"sync"

	"darts/internal/metrics"
)

// Subscriber is one live connection watching a game.
type Subscriber struct {
	ID     string
	GameID string
	Send   chan []byte // outbound messages
}

// Feed fans game updates out to the connections watching each game.
type Feed struct {
	mu      sync.RWMutex
	games   map[string]map[string]*Subscriber
	metrics *metrics.Metrics
}

// NewFeed creates an empty feed. m may be nil.
func NewFeed(m *metrics.Metrics) *Feed {
	return &Feed{
		games:   make(map[string]map[string]*Subscriber),
		metrics: m,
	}
}

// Subscribe registers a connection for gameID. A reconnect with the same id
// replaces the previous subscriber, whose channel is closed.
func (f *Feed) Subscribe(gameID, id string) *Subscriber {
	s := &Subscriber{ID: id, GameID: gameID, Send: make(chan []byte, 64)}
	f.mu.Lock()
	defer f.mu.Unlock()
	subs, ok := f.games[gameID]
	if !ok {
		subs = make(map[string]*Subscriber)
		f.games[gameID] = subs
	}
	if old, exists := subs[id]; exists {
		close(old.Send)
	} else {
		f.metrics.IncSubscribers()
	}
	subs[id] = s
	return s
}

// Unsubscribe removes s and closes its channel. It is a no-op if s was
// already replaced or removed.
func (f *Feed) Unsubscribe(s *Subscriber) {
	f.mu.Lock()
	defer f.mu.Unlock()
	subs := f.games[s.GameID]
	if subs[s.ID] != s {
		return
	}
	close(s.Send)
	delete(subs, s.ID)
	if len(subs) == 0 {
		delete(f.games, s.GameID)
	}
	f.metrics.DecSubscribers()
}

// Publish sends msg to every subscriber of gameID.
func (f *Feed) Publish(gameID string, msg []byte) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, s := range f.games[gameID] {
		select {
		case s.Send <- msg:
		default:
			// drop message if buffer full
		}
	}
}

// Close disconnects every subscriber of gameID.
func (f *Feed) Close(gameID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.games[gameID] {
		close(s.Send)
		f.metrics.DecSubscribers()
	}
	delete(f.games, gameID)
}

// Count returns the number of subscribers watching gameID.
func (f *Feed) Count(gameID string) int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.games[gameID])
}
