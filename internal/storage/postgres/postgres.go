// Package postgres stores games and users in PostgreSQL through a pgx pool.
package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"darts/internal/auth"
	"darts/internal/game"
)

type Store struct {
	db *pgxpool.Pool
}

// New connects to dsn and applies migrations.
func New(ctx context.Context, dsn string) (*Store, error) {
	db, err := NewPool(ctx, dsn)
	if err != nil {
		return nil, err
	}
	s := &Store{db: db}
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func NewPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}

	db, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}

	if err := db.Ping(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

func (s *Store) Migrate(ctx context.Context) error {
	const usersTable = `
CREATE TABLE IF NOT EXISTS users (
    id            TEXT PRIMARY KEY,
    username      TEXT NOT NULL,
    display_name  TEXT NOT NULL,
    password_hash TEXT NOT NULL,
    created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE UNIQUE INDEX IF NOT EXISTS users_username_lower ON users (lower(username));
`

	const gamesTable = `
CREATE TABLE IF NOT EXISTS games (
    id              TEXT PRIMARY KEY,
    game_type       TEXT NOT NULL,
    current_thrower TEXT NOT NULL,
    winner_id       TEXT,
    scoreboard      JSONB NOT NULL,
    version         INT NOT NULL DEFAULT 0,
    created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

	const gamePlayersTable = `
CREATE TABLE IF NOT EXISTS game_players (
    game_id   TEXT NOT NULL REFERENCES games(id) ON DELETE CASCADE,
    player_id TEXT NOT NULL,
    seat      INT NOT NULL,
    PRIMARY KEY (game_id, seat)
);
`

	const roundsTable = `
CREATE TABLE IF NOT EXISTS rounds (
    id         TEXT PRIMARY KEY,
    seq        BIGSERIAL,
    game_id    TEXT NOT NULL REFERENCES games(id) ON DELETE CASCADE,
    player_id  TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS rounds_game_id ON rounds (game_id);
`

	const throwsTable = `
CREATE TABLE IF NOT EXISTS throws (
    id           TEXT PRIMARY KEY,
    round_id     TEXT NOT NULL REFERENCES rounds(id) ON DELETE CASCADE,
    ord          INT NOT NULL,
    target       INT,
    multiplier   INT,
    scored       BOOLEAN NOT NULL,
    score_amount INT,
    closed       BOOLEAN NOT NULL,
    close_amount INT,
    created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS throws_round_id ON throws (round_id);
`

	for _, q := range []string{usersTable, gamesTable, gamePlayersTable, roundsTable, throwsTable} {
		if _, err := s.db.Exec(ctx, q); err != nil {
			return err
		}
	}

	log.Info().Msg("postgres migrations applied")
	return nil
}

func (s *Store) Close() error {
	s.db.Close()
	return nil
}

// -----------------------------------------------------------------------------
// Games
// -----------------------------------------------------------------------------

func (s *Store) CreateGame(ctx context.Context, g *game.Game) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	// Ensure rollback if we return before Commit
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if _, err := tx.Exec(ctx, `
INSERT INTO games (id, game_type, current_thrower, winner_id, scoreboard, version, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7);
`, g.ID, string(g.Type), g.CurrentThrower, winnerID(g), string(g.Scoreboard), g.Version, g.CreatedAt); err != nil {
		return err
	}

	for seat, p := range g.Players {
		if _, err := tx.Exec(ctx, `
INSERT INTO game_players (game_id, player_id, seat)
VALUES ($1, $2, $3);
`, g.ID, p.ID, seat); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

const selectGame = `
SELECT id, game_type, current_thrower, winner_id, scoreboard, version, created_at
FROM games
`

func (s *Store) LoadGame(ctx context.Context, id string) (*game.Game, error) {
	g, err := scanGame(s.db.QueryRow(ctx, selectGame+"WHERE id = $1;", id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, game.ErrNotFound
		}
		return nil, err
	}
	if err := s.loadPlayers(ctx, g); err != nil {
		return nil, err
	}
	return g, nil
}

func (s *Store) ListGames(ctx context.Context) ([]*game.Game, error) {
	rows, err := s.db.Query(ctx, selectGame+"ORDER BY created_at DESC;")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	games := make([]*game.Game, 0)
	for rows.Next() {
		g, err := scanGame(rows)
		if err != nil {
			return nil, err
		}
		games = append(games, g)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	for _, g := range games {
		if err := s.loadPlayers(ctx, g); err != nil {
			return nil, err
		}
	}
	return games, nil
}

func (s *Store) loadPlayers(ctx context.Context, g *game.Game) error {
	rows, err := s.db.Query(ctx, `
SELECT gp.player_id, COALESCE(u.display_name, '')
FROM game_players gp
LEFT JOIN users u ON u.id = gp.player_id
WHERE gp.game_id = $1
ORDER BY gp.seat ASC;
`, g.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	g.Players = make([]game.Player, 0, 2)
	for rows.Next() {
		var p game.Player
		if err := rows.Scan(&p.ID, &p.DisplayName); err != nil {
			return err
		}
		g.Players = append(g.Players, p)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	if g.Winner != nil {
		if i := g.Seat(g.Winner.ID); i >= 0 {
			g.Winner.DisplayName = g.Players[i].DisplayName
		}
	}
	return nil
}

// SaveGame updates the game only if its stored version matches g.Version.
func (s *Store) SaveGame(ctx context.Context, g *game.Game) error {
	var version int
	err := s.db.QueryRow(ctx, `
UPDATE games
SET current_thrower = $1, winner_id = $2, scoreboard = $3, version = version + 1
WHERE id = $4 AND version = $5
RETURNING version;
`, g.CurrentThrower, winnerID(g), string(g.Scoreboard), g.ID, g.Version).Scan(&version)
	if errors.Is(err, pgx.ErrNoRows) {
		var exists bool
		if err := s.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM games WHERE id = $1);`, g.ID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return game.ErrNotFound
		}
		return game.ErrStaleUpdate
	}
	if err != nil {
		return err
	}
	g.Version = version
	return nil
}

func (s *Store) DeleteGame(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM games WHERE id = $1;`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return game.ErrNotFound
	}
	return nil
}

// -----------------------------------------------------------------------------
// Rounds / throws
// -----------------------------------------------------------------------------

func (s *Store) SaveRound(ctx context.Context, r *game.Round) error {
	_, err := s.db.Exec(ctx, `
INSERT INTO rounds (id, game_id, player_id, created_at)
VALUES ($1, $2, $3, $4);
`, r.ID, r.GameID, r.PlayerID, r.CreatedAt)
	return err
}

func (s *Store) SaveThrow(ctx context.Context, t *game.Throw) error {
	var target *int
	if t.Target != nil {
		v := int(*t.Target)
		target = &v
	}
	_, err := s.db.Exec(ctx, `
INSERT INTO throws (id, round_id, ord, target, multiplier, scored, score_amount, closed, close_amount, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10);
`, t.ID, t.RoundID, t.Order, target, t.Multiplier, t.Scored, t.ScoreAmount, t.Closed, t.CloseAmount, t.CreatedAt)
	return err
}

func (s *Store) ListRounds(ctx context.Context, gameID string) ([]game.Round, error) {
	rows, err := s.db.Query(ctx, `
SELECT id, game_id, player_id, created_at
FROM rounds
WHERE game_id = $1
ORDER BY seq ASC;
`, gameID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	rounds := make([]game.Round, 0)
	index := make(map[string]int)
	for rows.Next() {
		var r game.Round
		if err := rows.Scan(&r.ID, &r.GameID, &r.PlayerID, &r.CreatedAt); err != nil {
			return nil, err
		}
		index[r.ID] = len(rounds)
		rounds = append(rounds, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	trows, err := s.db.Query(ctx, `
SELECT t.id, t.round_id, t.ord, t.target, t.multiplier, t.scored, t.score_amount, t.closed, t.close_amount, t.created_at
FROM throws t
JOIN rounds r ON r.id = t.round_id
WHERE r.game_id = $1
ORDER BY t.ord ASC;
`, gameID)
	if err != nil {
		return nil, err
	}
	defer trows.Close()

	for trows.Next() {
		var (
			t      game.Throw
			target *int
		)
		if err := trows.Scan(&t.ID, &t.RoundID, &t.Order, &target, &t.Multiplier, &t.Scored,
			&t.ScoreAmount, &t.Closed, &t.CloseAmount, &t.CreatedAt); err != nil {
			return nil, err
		}
		if target != nil {
			n := game.Number(*target)
			t.Target = &n
		}
		if i, ok := index[t.RoundID]; ok {
			rounds[i].Throws = append(rounds[i].Throws, t)
		}
	}
	return rounds, trows.Err()
}

// -----------------------------------------------------------------------------
// Users
// -----------------------------------------------------------------------------

func (s *Store) DisplayName(ctx context.Context, userID string) (string, error) {
	var name string
	err := s.db.QueryRow(ctx, `SELECT display_name FROM users WHERE id = $1;`, userID).Scan(&name)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", game.ErrNotFound
	}
	return name, err
}

func (s *Store) CreateUser(ctx context.Context, u *auth.User) error {
	_, err := s.db.Exec(ctx, `
INSERT INTO users (id, username, display_name, password_hash, created_at)
VALUES ($1, $2, $3, $4, $5);
`, u.ID, u.Username, u.DisplayName, u.PasswordHash, u.CreatedAt)
	return err
}

const selectUser = `
SELECT id, username, display_name, password_hash, created_at
FROM users
`

func (s *Store) UserByUsername(ctx context.Context, username string) (*auth.User, error) {
	return scanUser(s.db.QueryRow(ctx, selectUser+"WHERE lower(username) = lower($1);", username))
}

func (s *Store) UserByID(ctx context.Context, id string) (*auth.User, error) {
	return scanUser(s.db.QueryRow(ctx, selectUser+"WHERE id = $1;", id))
}

func (s *Store) ListUsers(ctx context.Context) ([]auth.User, error) {
	rows, err := s.db.Query(ctx, selectUser+"ORDER BY display_name ASC;")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]auth.User, 0)
	for rows.Next() {
		var u auth.User
		if err := rows.Scan(&u.ID, &u.Username, &u.DisplayName, &u.PasswordHash, &u.CreatedAt); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func scanUser(row pgx.Row) (*auth.User, error) {
	var u auth.User
	if err := row.Scan(&u.ID, &u.Username, &u.DisplayName, &u.PasswordHash, &u.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, game.ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

func scanGame(row pgx.Row) (*game.Game, error) {
	var (
		g      game.Game
		typ    string
		winner *string
		board  []byte
	)
	if err := row.Scan(&g.ID, &typ, &g.CurrentThrower, &winner, &board, &g.Version, &g.CreatedAt); err != nil {
		return nil, err
	}
	g.Type = game.Type(typ)
	g.Scoreboard = board
	if winner != nil {
		g.Winner = &game.Player{ID: *winner}
	}
	return &g, nil
}

func winnerID(g *game.Game) *string {
	if g.Winner == nil {
		return nil
	}
	return &g.Winner.ID
}
