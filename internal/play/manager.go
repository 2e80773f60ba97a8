package play

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"darts/internal/game"
	"darts/internal/metrics"
)

// Store is the persistence the manager works against.
type Store interface {
	CreateGame(ctx context.Context, g *game.Game) error
	LoadGame(ctx context.Context, id string) (*game.Game, error)
	// SaveGame must fail with game.ErrStaleUpdate when the stored version
	// differs from g.Version, and bump g.Version on success.
	SaveGame(ctx context.Context, g *game.Game) error
	ListGames(ctx context.Context) ([]*game.Game, error)
	DeleteGame(ctx context.Context, id string) error
	SaveRound(ctx context.Context, r *game.Round) error
	SaveThrow(ctx context.Context, t *game.Throw) error
	ListRounds(ctx context.Context, gameID string) ([]game.Round, error)
	DisplayName(ctx context.Context, userID string) (string, error)
}

// Delegations holds scorekeeping grants keyed by game and thrower.
type Delegations interface {
	Valid(gameID, fromThrower string) bool
	Grant(gameID, fromThrower string, ttl time.Duration) time.Time
}

// Config wires a Manager.
type Config struct {
	Registry      *game.Registry
	Store         Store
	Delegations   Delegations
	DelegationTTL time.Duration
	Metrics       *metrics.Metrics
}

// Manager creates games and applies rounds to them.
type Manager struct {
	registry      *game.Registry
	store         Store
	delegations   Delegations
	delegationTTL time.Duration
	metrics       *metrics.Metrics
	now           func() time.Time

	mu    sync.Mutex
	locks map[string]*gameLock
}

type gameLock struct {
	mu   sync.Mutex
	refs int
}

// NewManager creates a game manager.
func NewManager(cfg Config) *Manager {
	ttl := cfg.DelegationTTL
	if ttl <= 0 {
		ttl = 600 * time.Second
	}
	return &Manager{
		registry:      cfg.Registry,
		store:         cfg.Store,
		delegations:   cfg.Delegations,
		delegationTTL: ttl,
		metrics:       cfg.Metrics,
		now:           time.Now,
		locks:         make(map[string]*gameLock),
	}
}

// Types lists the registered game types.
func (m *Manager) Types() []game.Info {
	return m.registry.List()
}

// Create starts a new game. The requester must be one of playerIDs; the
// first player throws first.
func (m *Manager) Create(ctx context.Context, requester string, playerIDs []string, typ game.Type) (*game.Game, error) {
	adapter, ok := m.registry.Get(typ)
	if !ok {
		return nil, game.Invalid("unknown game type: %q", typ)
	}
	rules := adapter.Info().Rules
	if len(playerIDs) < rules.MinPlayers {
		return nil, game.Invalid("%s needs at least %d players", adapter.Info().Name, rules.MinPlayers)
	}
	if len(playerIDs) > rules.MaxPlayers {
		return nil, game.Invalid("%s allows at most %d players", adapter.Info().Name, rules.MaxPlayers)
	}
	seen := make(map[string]bool, len(playerIDs))
	for _, id := range playerIDs {
		if id == "" {
			return nil, game.Invalid("player ids must not be empty")
		}
		if seen[id] {
			return nil, game.Invalid("player %s is listed more than once", id)
		}
		seen[id] = true
	}
	if !seen[requester] {
		return nil, game.Invalid("You must be one of the players in the created game.")
	}

	players := make([]game.Player, 0, len(playerIDs))
	for _, id := range playerIDs {
		name, err := m.store.DisplayName(ctx, id)
		if errors.Is(err, game.ErrNotFound) {
			return nil, game.Invalid("unknown player %s", id)
		}
		if err != nil {
			return nil, &game.PersistenceError{Op: "resolve player", Err: err}
		}
		players = append(players, game.Player{ID: id, DisplayName: name})
	}

	board, err := adapter.NewScoreboard()
	if err != nil {
		return nil, fmt.Errorf("new scoreboard: %w", err)
	}
	g := &game.Game{
		ID:             uuid.NewString(),
		CreatedAt:      m.now().UTC(),
		Type:           typ,
		Players:        players,
		CurrentThrower: players[0].ID,
		Scoreboard:     board,
	}
	if err := m.store.CreateGame(ctx, g); err != nil {
		return nil, &game.PersistenceError{Op: "create game", Err: err}
	}
	m.metrics.GameCreated(string(typ))
	log.Info().Str("game", g.ID).Str("type", string(typ)).Strs("players", playerIDs).Msg("game created")
	return g, nil
}

// Get loads a game.
func (m *Manager) Get(ctx context.Context, id string) (*game.Game, error) {
	g, err := m.store.LoadGame(ctx, id)
	if errors.Is(err, game.ErrNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, &game.PersistenceError{Op: "load game", Err: err}
	}
	return g, nil
}

// List returns all games, newest first.
func (m *Manager) List(ctx context.Context) ([]*game.Game, error) {
	games, err := m.store.ListGames(ctx)
	if err != nil {
		return nil, &game.PersistenceError{Op: "list games", Err: err}
	}
	return games, nil
}

// Rounds returns the round history of a game in play order.
func (m *Manager) Rounds(ctx context.Context, id string) ([]game.Round, error) {
	if _, err := m.Get(ctx, id); err != nil {
		return nil, err
	}
	rounds, err := m.store.ListRounds(ctx, id)
	if err != nil {
		return nil, &game.PersistenceError{Op: "list rounds", Err: err}
	}
	return rounds, nil
}

// Delete removes a game and its history. Only participants may delete.
func (m *Manager) Delete(ctx context.Context, requester, id string) error {
	unlock := m.lock(id)
	defer unlock()

	g, err := m.Get(ctx, id)
	if err != nil {
		return err
	}
	if !g.HasPlayer(requester) {
		return game.ErrNotParticipant
	}
	if err := m.store.DeleteGame(ctx, id); err != nil {
		if errors.Is(err, game.ErrNotFound) {
			return err
		}
		return &game.PersistenceError{Op: "delete game", Err: err}
	}
	log.Info().Str("game", id).Str("by", requester).Msg("game deleted")
	return nil
}

// AllowUpdate lets the game's other participants submit rounds on the
// requester's behalf until the returned time.
func (m *Manager) AllowUpdate(ctx context.Context, requester, id string) (time.Time, error) {
	g, err := m.Get(ctx, id)
	if err != nil {
		return time.Time{}, err
	}
	if !g.HasPlayer(requester) {
		return time.Time{}, game.ErrNotParticipant
	}
	if g.Finished() {
		return time.Time{}, game.ErrGameCompleted
	}
	exp := m.delegations.Grant(id, requester, m.delegationTTL)
	log.Debug().Str("game", id).Str("from", requester).Time("expires", exp).Msg("delegation granted")
	return exp, nil
}

// SubmitRound applies one round to a game and advances the turn. The
// requester must be the current thrower or hold a delegation from them.
//
// A rejected round leaves the game untouched. Once the game is saved,
// failures writing the round history are logged and not returned.
func (m *Manager) SubmitRound(ctx context.Context, gameID, requester string, sub game.Submission) (g *game.Game, err error) {
	start := m.now()
	unlock := m.lock(gameID)
	defer unlock()

	g, err = m.Get(ctx, gameID)
	if err != nil {
		return nil, err
	}
	typ := string(g.Type)
	defer func() {
		m.metrics.ObserveRound(typ, resultLabel(err), m.now().Sub(start))
	}()

	if !g.HasPlayer(requester) {
		return nil, game.ErrNotParticipant
	}
	if g.Finished() {
		return nil, game.ErrGameCompleted
	}
	if requester != g.CurrentThrower && !m.delegations.Valid(gameID, g.CurrentThrower) {
		return nil, game.ErrNotYourTurn
	}
	if verr := game.ValidateRound(sub); verr != nil {
		return nil, verr
	}

	adapter, ok := m.registry.Get(g.Type)
	if !ok {
		return nil, fmt.Errorf("no adapter for game type %q", g.Type)
	}
	outcomes, err := adapter.ApplyRound(g, sub)
	if err != nil {
		return nil, fmt.Errorf("apply round: %w", err)
	}

	thrower := g.CurrentThrower
	g.AdvanceThrower()

	if err := m.store.SaveGame(ctx, g); err != nil {
		if errors.Is(err, game.ErrStaleUpdate) || errors.Is(err, game.ErrNotFound) {
			return nil, err
		}
		return nil, &game.PersistenceError{Op: "save game", Err: err}
	}

	m.recordHistory(ctx, g.ID, thrower, outcomes)

	if g.Winner != nil {
		m.metrics.GameFinished(typ)
		name, err := m.store.DisplayName(ctx, g.Winner.ID)
		if err != nil {
			log.Warn().Err(err).Str("game", g.ID).Str("winner", g.Winner.ID).Msg("resolve winner name")
		} else {
			g.Winner.DisplayName = name
		}
		log.Info().Str("game", g.ID).Str("winner", g.Winner.ID).Msg("game won")
	}
	return g, nil
}

func (m *Manager) recordHistory(ctx context.Context, gameID, thrower string, outcomes []game.ThrowOutcome) {
	now := m.now().UTC()
	r := &game.Round{
		ID:        uuid.NewString(),
		GameID:    gameID,
		PlayerID:  thrower,
		CreatedAt: now,
	}
	if err := m.store.SaveRound(ctx, r); err != nil {
		log.Warn().Err(err).Str("game", gameID).Str("round", r.ID).Msg("save round failed")
		return
	}
	for _, o := range outcomes {
		t := &game.Throw{
			ID:           uuid.NewString(),
			RoundID:      r.ID,
			CreatedAt:    now,
			ThrowOutcome: o,
		}
		if err := m.store.SaveThrow(ctx, t); err != nil {
			log.Warn().Err(err).Str("game", gameID).Str("round", r.ID).Int("order", o.Order).Msg("save throw failed")
		}
	}
}

// lock serializes work on one game within this process. The returned func
// releases it.
func (m *Manager) lock(id string) func() {
	m.mu.Lock()
	l, ok := m.locks[id]
	if !ok {
		l = &gameLock{}
		m.locks[id] = l
	}
	l.refs++
	m.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		m.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(m.locks, id)
		}
		m.mu.Unlock()
	}
}

func resultLabel(err error) string {
	var (
		verr *game.ValidationError
		serr *game.StateError
	)
	switch {
	case err == nil:
		return "accepted"
	case errors.As(err, &verr):
		return "invalid"
	case errors.As(err, &serr):
		return "rejected"
	default:
		return "error"
	}
}
