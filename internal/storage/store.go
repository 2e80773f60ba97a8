package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"darts/internal/auth"
	"darts/internal/game"
)

// Store handles SQLite persistence.
type Store struct {
	db *sql.DB
}

// New opens (or creates) the database and runs migrations.
func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// One connection: SQLite has a single writer, and every connection to
	// ":memory:" would otherwise get its own empty database.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS users (
			id            TEXT PRIMARY KEY,
			username      TEXT NOT NULL UNIQUE COLLATE NOCASE,
			display_name  TEXT NOT NULL,
			password_hash TEXT NOT NULL,
			created_at    DATETIME NOT NULL
		);
		CREATE TABLE IF NOT EXISTS games (
			id              TEXT PRIMARY KEY,
			game_type       TEXT NOT NULL,
			current_thrower TEXT NOT NULL,
			winner_id       TEXT,
			scoreboard      TEXT NOT NULL,
			version         INTEGER NOT NULL DEFAULT 0,
			created_at      DATETIME NOT NULL
		);
		CREATE TABLE IF NOT EXISTS game_players (
			game_id   TEXT NOT NULL REFERENCES games(id),
			player_id TEXT NOT NULL,
			seat      INTEGER NOT NULL,
			PRIMARY KEY (game_id, seat)
		);
		CREATE INDEX IF NOT EXISTS idx_game_players_player ON game_players(player_id);
		CREATE TABLE IF NOT EXISTS rounds (
			id         TEXT PRIMARY KEY,
			game_id    TEXT NOT NULL REFERENCES games(id),
			player_id  TEXT NOT NULL,
			created_at DATETIME NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_rounds_game ON rounds(game_id);
		CREATE TABLE IF NOT EXISTS throws (
			id           TEXT PRIMARY KEY,
			round_id     TEXT NOT NULL REFERENCES rounds(id),
			ord          INTEGER NOT NULL,
			target       INTEGER,
			multiplier   INTEGER,
			scored       BOOLEAN NOT NULL,
			score_amount INTEGER,
			closed       BOOLEAN NOT NULL,
			close_amount INTEGER,
			created_at   DATETIME NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_throws_round ON throws(round_id);
	`)
	return err
}

// CreateGame inserts a game and its players.
func (s *Store) CreateGame(ctx context.Context, g *game.Game) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO games (id, game_type, current_thrower, winner_id, scoreboard, version, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		g.ID, string(g.Type), g.CurrentThrower, winnerID(g), string(g.Scoreboard), g.Version, g.CreatedAt.UTC(),
	)
	if err != nil {
		return err
	}
	for seat, p := range g.Players {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO game_players (game_id, player_id, seat) VALUES (?, ?, ?)",
			g.ID, p.ID, seat,
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// LoadGame retrieves a game with its players' display names.
func (s *Store) LoadGame(ctx context.Context, id string) (*game.Game, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, game_type, current_thrower, winner_id, scoreboard, version, created_at
		FROM games WHERE id = ?`, id)
	g, err := scanGame(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, game.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := s.loadPlayers(ctx, g); err != nil {
		return nil, err
	}
	return g, nil
}

// ListGames returns all games, newest first.
func (s *Store) ListGames(ctx context.Context) ([]*game.Game, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, game_type, current_thrower, winner_id, scoreboard, version, created_at
		FROM games ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	var result []*game.Game
	for rows.Next() {
		g, err := scanGame(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		result = append(result, g)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// Players are loaded after the cursor is closed; the pool holds a
	// single connection.
	for _, g := range result {
		if err := s.loadPlayers(ctx, g); err != nil {
			return nil, err
		}
	}
	return result, nil
}

func (s *Store) loadPlayers(ctx context.Context, g *game.Game) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT gp.player_id, COALESCE(u.display_name, '')
		FROM game_players gp
		LEFT JOIN users u ON u.id = gp.player_id
		WHERE gp.game_id = ?
		ORDER BY gp.seat ASC`, g.ID)
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

// SaveGame writes the mutable game fields. The write only succeeds if the
// stored version still equals g.Version; on success g.Version is bumped.
func (s *Store) SaveGame(ctx context.Context, g *game.Game) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE games SET current_thrower = ?, winner_id = ?, scoreboard = ?, version = version + 1
		WHERE id = ? AND version = ?`,
		g.CurrentThrower, winnerID(g), string(g.Scoreboard), g.ID, g.Version,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		var exists int
		err := s.db.QueryRowContext(ctx, "SELECT 1 FROM games WHERE id = ?", g.ID).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return game.ErrNotFound
		}
		return game.ErrStaleUpdate
	}
	g.Version++
	return nil
}

// DeleteGame removes a game with its players, rounds and throws.
func (s *Store) DeleteGame(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, "DELETE FROM games WHERE id = ?", id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return game.ErrNotFound
	}
	stmts := []string{
		"DELETE FROM throws WHERE round_id IN (SELECT id FROM rounds WHERE game_id = ?)",
		"DELETE FROM rounds WHERE game_id = ?",
		"DELETE FROM game_players WHERE game_id = ?",
	}
	for _, q := range stmts {
		if _, err := tx.ExecContext(ctx, q, id); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// SaveRound inserts a round record.
func (s *Store) SaveRound(ctx context.Context, r *game.Round) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO rounds (id, game_id, player_id, created_at) VALUES (?, ?, ?, ?)",
		r.ID, r.GameID, r.PlayerID, r.CreatedAt.UTC(),
	)
	return err
}

// SaveThrow inserts a throw record.
func (s *Store) SaveThrow(ctx context.Context, t *game.Throw) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO throws (id, round_id, ord, target, multiplier, scored, score_amount, closed, close_amount, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.RoundID, t.Order, nullNumber(t.Target), nullInt(t.Multiplier),
		t.Scored, nullInt(t.ScoreAmount), t.Closed, nullInt(t.CloseAmount), t.CreatedAt.UTC(),
	)
	return err
}

// ListRounds returns a game's rounds in play order, each with its throws.
func (s *Store) ListRounds(ctx context.Context, gameID string) ([]game.Round, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, game_id, player_id, created_at FROM rounds
		WHERE game_id = ? ORDER BY created_at ASC, rowid ASC`, gameID)
	if err != nil {
		return nil, err
	}
	rounds := make([]game.Round, 0)
	index := make(map[string]int)
	for rows.Next() {
		var r game.Round
		if err := rows.Scan(&r.ID, &r.GameID, &r.PlayerID, &r.CreatedAt); err != nil {
			rows.Close()
			return nil, err
		}
		index[r.ID] = len(rounds)
		rounds = append(rounds, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	trows, err := s.db.QueryContext(ctx, `
		SELECT t.id, t.round_id, t.ord, t.target, t.multiplier, t.scored, t.score_amount, t.closed, t.close_amount, t.created_at
		FROM throws t JOIN rounds r ON r.id = t.round_id
		WHERE r.game_id = ? ORDER BY t.ord ASC`, gameID)
	if err != nil {
		return nil, err
	}
	defer trows.Close()
	for trows.Next() {
		var (
			t                                        game.Throw
			target, mult, scoreAmount, closeAmount sql.NullInt64
		)
		if err := trows.Scan(&t.ID, &t.RoundID, &t.Order, &target, &mult, &t.Scored, &scoreAmount, &t.Closed, &closeAmount, &t.CreatedAt); err != nil {
			return nil, err
		}
		t.Target = numberPtr(target)
		t.Multiplier = intPtr(mult)
		t.ScoreAmount = intPtr(scoreAmount)
		t.CloseAmount = intPtr(closeAmount)
		if i, ok := index[t.RoundID]; ok {
			rounds[i].Throws = append(rounds[i].Throws, t)
		}
	}
	return rounds, trows.Err()
}

// DisplayName resolves a user's display name.
func (s *Store) DisplayName(ctx context.Context, userID string) (string, error) {
	var name string
	err := s.db.QueryRowContext(ctx, "SELECT display_name FROM users WHERE id = ?", userID).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return "", game.ErrNotFound
	}
	return name, err
}

// CreateUser inserts a user.
func (s *Store) CreateUser(ctx context.Context, u *auth.User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, username, display_name, password_hash, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		u.ID, u.Username, u.DisplayName, u.PasswordHash, u.CreatedAt.UTC(),
	)
	return err
}

// UserByUsername looks a user up case-insensitively.
func (s *Store) UserByUsername(ctx context.Context, username string) (*auth.User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx, `
		SELECT id, username, display_name, password_hash, created_at
		FROM users WHERE username = ?`, username))
}

// UserByID looks a user up by id.
func (s *Store) UserByID(ctx context.Context, id string) (*auth.User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx, `
		SELECT id, username, display_name, password_hash, created_at
		FROM users WHERE id = ?`, id))
}

// ListUsers returns all users ordered by display name.
func (s *Store) ListUsers(ctx context.Context) ([]auth.User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, username, display_name, password_hash, created_at
		FROM users ORDER BY display_name ASC`)
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

func (s *Store) scanUser(row *sql.Row) (*auth.User, error) {
	var u auth.User
	err := row.Scan(&u.ID, &u.Username, &u.DisplayName, &u.PasswordHash, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, game.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanGame(row scanner) (*game.Game, error) {
	var (
		g          game.Game
		typ, board string
		winner     sql.NullString
		created    time.Time
	)
	if err := row.Scan(&g.ID, &typ, &g.CurrentThrower, &winner, &board, &g.Version, &created); err != nil {
		return nil, err
	}
	g.Type = game.Type(typ)
	g.Scoreboard = []byte(board)
	g.CreatedAt = created
	if winner.Valid {
		g.Winner = &game.Player{ID: winner.String}
	}
	return &g, nil
}

func winnerID(g *game.Game) any {
	if g.Winner == nil {
		return nil
	}
	return g.Winner.ID
}

func nullInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullNumber(n *game.Number) any {
	if n == nil {
		return nil
	}
	return int(*n)
}

func intPtr(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	i := int(v.Int64)
	return &i
}

func numberPtr(v sql.NullInt64) *game.Number {
	if !v.Valid {
		return nil
	}
	n := game.Number(v.Int64)
	return &n
}
