package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Status is the lifecycle state recorded for a bot.
type Status string

const (
	StatusStopped Status = "stopped"
	StatusRunning Status = "running"
)

// DefaultMemoryMB is applied when a deploy asks for no (or a non-positive)
// memory ceiling.
const DefaultMemoryMB = 128

var (
	// ErrBotNotFound is returned when no row matches; lookups are always
	// owner-scoped, so another owner's bot is also "not found".
	ErrBotNotFound = errors.New("bot not found")
	// ErrDuplicateBot is returned when an external bot id is already taken.
	ErrDuplicateBot = errors.New("external bot id already registered")
	// ErrNotStopped is returned by MarkRunning when the bot already records
	// a running sandbox.
	ErrNotStopped = errors.New("bot is not stopped")
)

// Bot is one registry row.
//
// Invariant: Status == StatusRunning iff ContainerID is valid; a stopped bot
// has neither ContainerID nor UptimeStartedAt.
type Bot struct {
	ID              string
	ExternalID      string
	OwnerID         string
	Name            string
	CodePath        sql.NullString
	MemoryMB        int
	ContainerID     sql.NullString
	Status          Status
	UptimeStartedAt sql.NullTime
	// AutoRestart is recorded at deploy time and otherwise reserved; nothing
	// restarts a bot on its own.
	AutoRestart bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Running reports whether the row claims a live sandbox.
func (b *Bot) Running() bool {
	return b.Status == StatusRunning && b.ContainerID.Valid
}

const botColumns = `id, external_bot_id, owner_id, name, code_path, memory_mb, container_id,
	status, uptime_started_at, auto_restart, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBot(row rowScanner) (*Bot, error) {
	b := &Bot{}
	var status string
	err := row.Scan(
		&b.ID, &b.ExternalID, &b.OwnerID, &b.Name, &b.CodePath, &b.MemoryMB, &b.ContainerID,
		&status, &b.UptimeStartedAt, &b.AutoRestart, &b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	b.Status = Status(status)
	return b, nil
}

// CreateBot inserts a new row. The caller assigns ID; Status defaults to
// stopped and MemoryMB to DefaultMemoryMB.
func (s *Store) CreateBot(ctx context.Context, bot *Bot) error {
	now := time.Now().UTC()
	bot.CreatedAt = now
	bot.UpdatedAt = now
	if bot.Status == "" {
		bot.Status = StatusStopped
	}
	if bot.MemoryMB <= 0 {
		bot.MemoryMB = DefaultMemoryMB
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO bots (`+botColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, bot.ID, bot.ExternalID, bot.OwnerID, bot.Name, bot.CodePath, bot.MemoryMB, bot.ContainerID,
		string(bot.Status), bot.UptimeStartedAt, bot.AutoRestart, bot.CreatedAt, bot.UpdatedAt)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed: bots.external_bot_id") {
			return fmt.Errorf("%w: %s", ErrDuplicateBot, bot.ExternalID)
		}
		return fmt.Errorf("failed to create bot: %w", err)
	}
	return nil
}

// GetBot returns the owner's bot with the given external id.
func (s *Store) GetBot(ctx context.Context, ownerID, externalID string) (*Bot, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+botColumns+`
		FROM bots
		WHERE owner_id = ? AND external_bot_id = ?
	`, ownerID, externalID)
	bot, err := scanBot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrBotNotFound, externalID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get bot: %w", err)
	}
	return bot, nil
}

// ExternalIDTaken reports whether any owner already uses externalID.
func (s *Store) ExternalIDTaken(ctx context.Context, externalID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM bots WHERE external_bot_id = ?", externalID,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check external bot id: %w", err)
	}
	return n > 0, nil
}

// ListBots returns the owner's bots, newest first.
func (s *Store) ListBots(ctx context.Context, ownerID string) ([]*Bot, error) {
	return s.queryBots(ctx, `
		SELECT `+botColumns+`
		FROM bots
		WHERE owner_id = ?
		ORDER BY created_at DESC
	`, ownerID)
}

// ListRunningBots returns every row claiming a live sandbox, across owners.
func (s *Store) ListRunningBots(ctx context.Context) ([]*Bot, error) {
	return s.queryBots(ctx, `
		SELECT `+botColumns+`
		FROM bots
		WHERE status = 'running'
		ORDER BY created_at ASC
	`)
}

func (s *Store) queryBots(ctx context.Context, query string, args ...any) ([]*Bot, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list bots: %w", err)
	}
	defer rows.Close()

	var bots []*Bot
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
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM bots WHERE owner_id = ? AND status = 'running'", ownerID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count running bots: %w", err)
	}
	return n, nil
}

// BotCount returns the total number of rows.
func (s *Store) BotCount(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM bots").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count bots: %w", err)
	}
	return n, nil
}

// SetCodePath records where the bot's source was written.
func (s *Store) SetCodePath(ctx context.Context, id, codePath string) error {
	return s.update(ctx, id, "set code path", `
		UPDATE bots SET code_path = ?, updated_at = ? WHERE id = ?
	`, codePath, time.Now().UTC(), id)
}

// MarkRunning associates containerID with a stopped bot and sets it
// running. Only one of several concurrent starts can win; the others get
// ErrNotStopped.
func (s *Store) MarkRunning(ctx context.Context, id, containerID string, startedAt time.Time) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE bots
		SET status = 'running', container_id = ?, uptime_started_at = ?, updated_at = ?
		WHERE id = ? AND status = 'stopped'
	`, containerID, startedAt.UTC(), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to mark bot running: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rows > 0 {
		return nil
	}

	var status string
	err = s.db.QueryRowContext(ctx, `SELECT status FROM bots WHERE id = ?`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrBotNotFound, id)
	}
	if err != nil {
		return fmt.Errorf("failed to check bot status: %w", err)
	}
	return fmt.Errorf("%w: %s is %s", ErrNotStopped, id, status)
}

// MarkStopped clears the sandbox association and sets the bot stopped.
func (s *Store) MarkStopped(ctx context.Context, id string) error {
	return s.update(ctx, id, "mark bot stopped", `
		UPDATE bots
		SET status = 'stopped', container_id = NULL, uptime_started_at = NULL, updated_at = ?
		WHERE id = ?
	`, time.Now().UTC(), id)
}

// DeleteBot removes the row.
func (s *Store) DeleteBot(ctx context.Context, id string) error {
	return s.update(ctx, id, "delete bot", "DELETE FROM bots WHERE id = ?", id)
}

func (s *Store) update(ctx context.Context, id, what, query string, args ...any) error {
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to %s: %w", what, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s", ErrBotNotFound, id)
	}
	return nil
}
