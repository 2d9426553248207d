// Package postgres implements the bot registry on PostgreSQL.
//
// It offers the same method set as the SQLite store and returns the same
// sentinel errors, so the orchestrator cannot tell the two apart. The caller
// may pass an externally-owned pool (New) or let Open create one.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/botoralo/botworker/internal/botworker/store"
)

const uniqueViolation = "23505"

// Store is the PostgreSQL-backed registry.
type Store struct {
	pool  *pgxpool.Pool
	owned bool
}

// New wraps an existing pool. The caller owns and closes it.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Open connects to url, creates the schema if needed and returns a Store
// that closes its pool on Close.
func Open(ctx context.Context, url string) (*Store, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	s := &Store{pool: pool, owned: true}
	if err := s.Init(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Init creates the bots table and its indexes if they do not exist.
func (s *Store) Init(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS bots (
			id                TEXT PRIMARY KEY,
			external_bot_id   TEXT NOT NULL UNIQUE,
			owner_id          TEXT NOT NULL,
			name              TEXT NOT NULL,
			code_path         TEXT,
			memory_mb         INTEGER NOT NULL DEFAULT 128 CHECK (memory_mb > 0),
			container_id      TEXT,
			status            TEXT NOT NULL DEFAULT 'stopped' CHECK (status IN ('stopped', 'running')),
			uptime_started_at TIMESTAMPTZ,
			auto_restart      BOOLEAN NOT NULL DEFAULT FALSE,
			created_at        TIMESTAMPTZ NOT NULL,
			updated_at        TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS bots_owner_idx ON bots (owner_id)`,
		`CREATE INDEX IF NOT EXISTS bots_owner_status_idx ON bots (owner_id, status)`,
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to initialise postgres schema: %w", err)
		}
	}
	return nil
}

// Close releases the pool when Open created it.
func (s *Store) Close() error {
	if s.owned {
		s.pool.Close()
	}
	return nil
}

const botColumns = `id, external_bot_id, owner_id, name, code_path, memory_mb, container_id,
	status, uptime_started_at, auto_restart, created_at, updated_at`

func scanBot(row pgx.Row) (*store.Bot, error) {
	b := &store.Bot{}
	var status string
	err := row.Scan(
		&b.ID, &b.ExternalID, &b.OwnerID, &b.Name, &b.CodePath, &b.MemoryMB, &b.ContainerID,
		&status, &b.UptimeStartedAt, &b.AutoRestart, &b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	b.Status = store.Status(status)
	return b, nil
}

// CreateBot inserts a new row with the same defaults as the SQLite store.
func (s *Store) CreateBot(ctx context.Context, bot *store.Bot) error {
	now := time.Now().UTC()
	bot.CreatedAt = now
	bot.UpdatedAt = now
	if bot.Status == "" {
		bot.Status = store.StatusStopped
	}
	if bot.MemoryMB <= 0 {
		bot.MemoryMB = store.DefaultMemoryMB
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO bots (`+botColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, bot.ID, bot.ExternalID, bot.OwnerID, bot.Name, bot.CodePath, bot.MemoryMB, bot.ContainerID,
		string(bot.Status), bot.UptimeStartedAt, bot.AutoRestart, bot.CreatedAt, bot.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("%w: %s", store.ErrDuplicateBot, bot.ExternalID)
		}
		return fmt.Errorf("failed to create bot: %w", err)
	}
	return nil
}

// GetBot returns the owner's bot with the given external id.
func (s *Store) GetBot(ctx context.Context, ownerID, externalID string) (*store.Bot, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+botColumns+` FROM bots WHERE owner_id = $1 AND external_bot_id = $2
	`, ownerID, externalID)
	bot, err := scanBot(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", store.ErrBotNotFound, externalID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get bot: %w", err)
	}
	return bot, nil
}

// ExternalIDTaken reports whether any owner already uses externalID.
func (s *Store) ExternalIDTaken(ctx context.Context, externalID string) (bool, error) {
	var taken bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM bots WHERE external_bot_id = $1)`, externalID,
	).Scan(&taken)
	if err != nil {
		return false, fmt.Errorf("failed to check external bot id: %w", err)
	}
	return taken, nil
}

// ListBots returns the owner's bots, newest first.
func (s *Store) ListBots(ctx context.Context, ownerID string) ([]*store.Bot, error) {
	return s.queryBots(ctx, `
		SELECT `+botColumns+` FROM bots WHERE owner_id = $1 ORDER BY created_at DESC
	`, ownerID)
}

// ListRunningBots returns every row claiming a live sandbox, across owners.
func (s *Store) ListRunningBots(ctx context.Context) ([]*store.Bot, error) {
	return s.queryBots(ctx, `
		SELECT `+botColumns+` FROM bots WHERE status = 'running' ORDER BY created_at ASC
	`)
}

func (s *Store) queryBots(ctx context.Context, query string, args ...any) ([]*store.Bot, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list bots: %w", err)
	}
	defer rows.Close()

	var bots []*store.Bot
	for rows.Next() {
		b, err := scanBot(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan bot: %w", err)
		}
		bots = append(bots, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating bots: %w", err)
	}
	return bots, nil
}

// CountRunning returns how many of the owner's bots are running.
func (s *Store) CountRunning(ctx context.Context, ownerID string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM bots WHERE owner_id = $1 AND status = 'running'`, ownerID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count running bots: %w", err)
	}
	return n, nil
}

// BotCount returns the total number of rows.
func (s *Store) BotCount(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM bots`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count bots: %w", err)
	}
	return n, nil
}

// SetCodePath records where the bot's source was written.
func (s *Store) SetCodePath(ctx context.Context, id, codePath string) error {
	return s.exec(ctx, id, "set code path",
		`UPDATE bots SET code_path = $1, updated_at = $2 WHERE id = $3`,
		codePath, time.Now().UTC(), id)
}

// MarkRunning associates containerID with a stopped bot and sets it
// running. It returns store.ErrNotStopped when another start got there first.
func (s *Store) MarkRunning(ctx context.Context, id, containerID string, startedAt time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE bots
		SET status = 'running', container_id = $1, uptime_started_at = $2, updated_at = $3
		WHERE id = $4 AND status = 'stopped'
	`, containerID, startedAt.UTC(), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to mark bot running: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var status string
	err = s.pool.QueryRow(ctx, `SELECT status FROM bots WHERE id = $1`, id).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %s", store.ErrBotNotFound, id)
	}
	if err != nil {
		return fmt.Errorf("failed to check bot status: %w", err)
	}
	return fmt.Errorf("%w: %s is %s", store.ErrNotStopped, id, status)
}

// MarkStopped clears the sandbox association and sets the bot stopped.
func (s *Store) MarkStopped(ctx context.Context, id string) error {
	return s.exec(ctx, id, "mark bot stopped", `
		UPDATE bots
		SET status = 'stopped', container_id = NULL, uptime_started_at = NULL, updated_at = $1
		WHERE id = $2
	`, time.Now().UTC(), id)
}

// DeleteBot removes the row.
func (s *Store) DeleteBot(ctx context.Context, id string) error {
	return s.exec(ctx, id, "delete bot", `DELETE FROM bots WHERE id = $1`, id)
}

func (s *Store) exec(ctx context.Context, id, what, query string, args ...any) error {
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to %s: %w", what, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", store.ErrBotNotFound, id)
	}
	return nil
}
