// Package store persists the claim → buyback → burn record chain plus the
// monitor audit log and the singleton system-status row, over an injected
// pgx connection pool.
package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib" // register pgx driver with database/sql for goose
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// ErrNotPending is returned when a status update targets a record that is no
// longer pending. Confirmed and failed are terminal.
var ErrNotPending = errors.New("record is not in pending status")

type Config struct {
	Logger *slog.Logger
	Pool   *pgxpool.Pool
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Pool == nil {
		return errors.New("pgx pool is required")
	}
	return nil
}

type Store struct {
	log  *slog.Logger
	pool *pgxpool.Pool
}

func New(cfg Config) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Store{log: cfg.Logger, pool: cfg.Pool}, nil
}

// NewPool builds a bounded pgx connection pool from a connection string.
func NewPool(ctx context.Context, connStr string) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres config: %w", err)
	}

	poolConfig.MaxConns = 10
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(pingCtx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	return pool, nil
}

// Migrate runs the embedded goose migrations against the database.
func Migrate(connStr string) error {
	goose.SetBaseFS(embedMigrations)

	db, err := sql.Open("pgx", connStr)
	if err != nil {
		return fmt.Errorf("failed to open database for migrations: %w", err)
	}
	defer db.Close()

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// InsertClaim creates a pending claim row and returns its id.
func (s *Store) InsertClaim(ctx context.Context, signature string, claimed, treasury, buyback uint64) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO claims (signature, claimed_amount, treasury_amount, buyback_amount, status)
		VALUES ($1, $2, $3, $4, 'pending')
		RETURNING id`,
		signature, int64(claimed), int64(treasury), int64(buyback),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to insert claim: %w", err)
	}
	return id, nil
}

func (s *Store) MarkClaimConfirmed(ctx context.Context, id int64) error {
	return s.markConfirmed(ctx, "claims", id)
}

func (s *Store) MarkClaimFailed(ctx context.Context, id int64, msg string) error {
	return s.markFailed(ctx, "claims", id, msg)
}

// InsertBuyback creates a pending buyback row linked to a claim.
// tokensPurchased is a decimal string of raw base units.
func (s *Store) InsertBuyback(ctx context.Context, claimID int64, signature, tokensPurchased string, solSpent uint64) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO buybacks (claim_id, signature, tokens_purchased, sol_spent, status)
		VALUES ($1, $2, $3::numeric, $4, 'pending')
		RETURNING id`,
		claimID, signature, tokensPurchased, int64(solSpent),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to insert buyback: %w", err)
	}
	return id, nil
}

func (s *Store) MarkBuybackConfirmed(ctx context.Context, id int64) error {
	return s.markConfirmed(ctx, "buybacks", id)
}

func (s *Store) MarkBuybackFailed(ctx context.Context, id int64, msg string) error {
	return s.markFailed(ctx, "buybacks", id, msg)
}

// InsertBurn creates a pending burn row linked to a buyback. tokensBurned is
// the display-format decimal string, kept verbatim for precision.
func (s *Store) InsertBurn(ctx context.Context, buybackID int64, signature, tokensBurned string) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO burns (buyback_id, signature, tokens_burned, status)
		VALUES ($1, $2, $3::numeric, 'pending')
		RETURNING id`,
		buybackID, signature, tokensBurned,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to insert burn: %w", err)
	}
	return id, nil
}

func (s *Store) MarkBurnConfirmed(ctx context.Context, id int64) error {
	return s.markConfirmed(ctx, "burns", id)
}

func (s *Store) MarkBurnFailed(ctx context.Context, id int64, msg string) error {
	return s.markFailed(ctx, "burns", id, msg)
}

// markConfirmed transitions pending → confirmed. The WHERE clause enforces
// monotonicity: terminal rows are never updated again.
func (s *Store) markConfirmed(ctx context.Context, table string, id int64) error {
	tag, err := s.pool.Exec(ctx,
		fmt.Sprintf(`UPDATE %s SET status = 'confirmed' WHERE id = $1 AND status = 'pending'`, table), id)
	if err != nil {
		return fmt.Errorf("failed to confirm %s record %d: %w", table, id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s record %d: %w", table, id, ErrNotPending)
	}
	return nil
}

func (s *Store) markFailed(ctx context.Context, table string, id int64, msg string) error {
	tag, err := s.pool.Exec(ctx,
		fmt.Sprintf(`UPDATE %s SET status = 'failed', error_message = $2 WHERE id = $1 AND status = 'pending'`, table), id, msg)
	if err != nil {
		return fmt.Errorf("failed to mark %s record %d failed: %w", table, id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s record %d: %w", table, id, ErrNotPending)
	}
	return nil
}

// InsertMonitorCheck appends a monitor evaluation to the audit log.
func (s *Store) InsertMonitorCheck(ctx context.Context, claimable, threshold uint64, triggered bool, notes string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO monitor_checks (claimable_fees, threshold, triggered, notes)
		VALUES ($1, $2, $3, $4)`,
		int64(claimable), int64(threshold), triggered, notes)
	if err != nil {
		return fmt.Errorf("failed to insert monitor check: %w", err)
	}
	return nil
}

// SystemStatus reads the singleton status row.
func (s *Store) SystemStatus(ctx context.Context) (SystemStatus, error) {
	var st SystemStatus
	err := s.pool.QueryRow(ctx, `
		SELECT is_paused, last_check_timestamp, total_checks, total_claims,
		       error_count, last_error, last_error_timestamp
		FROM system_status WHERE id = 1`).
		Scan(&st.IsPaused, &st.LastCheckTimestamp, &st.TotalChecks, &st.TotalClaims,
			&st.ErrorCount, &st.LastError, &st.LastErrorTimestamp)
	if err != nil {
		return SystemStatus{}, fmt.Errorf("failed to read system status: %w", err)
	}
	return st, nil
}

func (s *Store) SetPaused(ctx context.Context, paused bool) error {
	_, err := s.pool.Exec(ctx, `UPDATE system_status SET is_paused = $1 WHERE id = 1`, paused)
	if err != nil {
		return fmt.Errorf("failed to set paused=%v: %w", paused, err)
	}
	return nil
}

// RecordCheck bumps the check counter and timestamp after a monitor pass.
func (s *Store) RecordCheck(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE system_status
		SET total_checks = total_checks + 1, last_check_timestamp = now()
		WHERE id = 1`)
	if err != nil {
		return fmt.Errorf("failed to record check: %w", err)
	}
	return nil
}

// RecordClaim bumps the claim counter after a successful pipeline run.
func (s *Store) RecordClaim(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE system_status SET total_claims = total_claims + 1 WHERE id = 1`)
	if err != nil {
		return fmt.Errorf("failed to record claim: %w", err)
	}
	return nil
}

// RecordError bumps the error counter and remembers the message.
func (s *Store) RecordError(ctx context.Context, msg string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE system_status
		SET error_count = error_count + 1, last_error = $1, last_error_timestamp = now()
		WHERE id = 1`, msg)
	if err != nil {
		return fmt.Errorf("failed to record error: %w", err)
	}
	return nil
}

// ClaimBySignature looks up a claim by its transaction signature.
func (s *Store) ClaimBySignature(ctx context.Context, signature string) (*Claim, error) {
	var c Claim
	err := s.pool.QueryRow(ctx, `
		SELECT id, signature, claimed_amount, treasury_amount, buyback_amount,
		       status, error_message, timestamp
		FROM claims WHERE signature = $1`, signature).
		Scan(&c.ID, &c.Signature, &c.ClaimedAmount, &c.TreasuryAmount, &c.BuybackAmount,
			&c.Status, &c.ErrorMessage, &c.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("failed to read claim %s: %w", signature, err)
	}
	return &c, nil
}

// RecentClaims returns the newest claims, up to limit.
func (s *Store) RecentClaims(ctx context.Context, limit int) ([]Claim, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, signature, claimed_amount, treasury_amount, buyback_amount,
		       status, error_message, timestamp
		FROM claims ORDER BY timestamp DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query claims: %w", err)
	}
	defer rows.Close()

	var out []Claim
	for rows.Next() {
		var c Claim
		if err := rows.Scan(&c.ID, &c.Signature, &c.ClaimedAmount, &c.TreasuryAmount,
			&c.BuybackAmount, &c.Status, &c.ErrorMessage, &c.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan claim: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// RecentBuybacks returns the newest buybacks, up to limit.
func (s *Store) RecentBuybacks(ctx context.Context, limit int) ([]Buyback, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, claim_id, signature, tokens_purchased::text, sol_spent,
		       status, error_message, timestamp
		FROM buybacks ORDER BY timestamp DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query buybacks: %w", err)
	}
	defer rows.Close()

	var out []Buyback
	for rows.Next() {
		var b Buyback
		if err := rows.Scan(&b.ID, &b.ClaimID, &b.Signature, &b.TokensPurchased,
			&b.SolSpent, &b.Status, &b.ErrorMessage, &b.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan buyback: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// RecentBurns returns the newest burns, up to limit.
func (s *Store) RecentBurns(ctx context.Context, limit int) ([]Burn, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, buyback_id, signature, tokens_burned::text, status, error_message, timestamp
		FROM burns ORDER BY timestamp DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query burns: %w", err)
	}
	defer rows.Close()

	var out []Burn
	for rows.Next() {
		var b Burn
		if err := rows.Scan(&b.ID, &b.BuybackID, &b.Signature, &b.TokensBurned,
			&b.Status, &b.ErrorMessage, &b.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan burn: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// RecentChecks returns the newest monitor checks, up to limit.
func (s *Store) RecentChecks(ctx context.Context, limit int) ([]MonitorCheck, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, claimable_fees, threshold, triggered, timestamp, notes
		FROM monitor_checks ORDER BY timestamp DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query monitor checks: %w", err)
	}
	defer rows.Close()

	var out []MonitorCheck
	for rows.Next() {
		var m MonitorCheck
		if err := rows.Scan(&m.ID, &m.ClaimableFees, &m.Threshold, &m.Triggered,
			&m.Timestamp, &m.Notes); err != nil {
			return nil, fmt.Errorf("failed to scan monitor check: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
