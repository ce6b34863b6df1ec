package deviceflow

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/wrale/devicelogin/internal/validation"
)

// SQLiteStore implements the Store interface on SQLite.
// The pending to resolved transition is a single conditional UPDATE.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore opens (creating if needed) a SQLite database at path.
// Use ":memory:" for a private in-memory database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// SQLite has a single writer; one connection also keeps ":memory:" databases shared
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS device_codes (
			device_code TEXT PRIMARY KEY,
			user_code TEXT NOT NULL UNIQUE,
			display_code TEXT NOT NULL,
			client_id TEXT NOT NULL,
			scope TEXT NOT NULL DEFAULT '',
			verification_uri TEXT NOT NULL,
			verification_uri_complete TEXT NOT NULL DEFAULT '',
			interval INTEGER NOT NULL,
			expires_at INTEGER NOT NULL,
			last_poll INTEGER NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			user_id TEXT NOT NULL DEFAULT '',
			resolved_at INTEGER NOT NULL DEFAULT 0
		);

		CREATE INDEX IF NOT EXISTS idx_device_codes_expires_at ON device_codes(expires_at);

		CREATE TABLE IF NOT EXISTS verification_attempts (
			device_code TEXT NOT NULL REFERENCES device_codes(device_code) ON DELETE CASCADE,
			attempted_at INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_verification_attempts_device ON verification_attempts(device_code, attempted_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// SaveDeviceCode inserts a new device code. A row holding the same user code
// that expired by at is replaced; a live one yields ErrUserCodeConflict.
func (s *SQLiteStore) SaveDeviceCode(ctx context.Context, code *DeviceCode, at time.Time) error {
	userCode := validation.NormalizeCode(code.UserCode)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM device_codes WHERE user_code = ? AND expires_at <= ?`,
		userCode, at.UnixNano(),
	); err != nil {
		return fmt.Errorf("clearing expired user code: %w", err)
	}

	status := code.Status
	if status == "" {
		status = StatusPending
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO device_codes (
			device_code, user_code, display_code, client_id, scope,
			verification_uri, verification_uri_complete, interval,
			expires_at, last_poll, status, user_id, resolved_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		code.DeviceCode,
		userCode,
		code.UserCode,
		code.ClientID,
		code.Scope,
		code.VerificationURI,
		code.VerificationURIComplete,
		code.Interval,
		code.ExpiresAt.UnixNano(),
		unixNano(code.LastPoll),
		string(status),
		code.UserID,
		unixNano(code.ResolvedAt),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrUserCodeConflict
		}
		return fmt.Errorf("inserting device code: %w", err)
	}

	return tx.Commit()
}

const deviceCodeColumns = `
	device_code, display_code, client_id, scope, verification_uri,
	verification_uri_complete, interval, expires_at, last_poll, status,
	user_id, resolved_at`

const selectDeviceCode = `SELECT ` + deviceCodeColumns + ` FROM device_codes`

// GetDeviceCode retrieves a device code
func (s *SQLiteStore) GetDeviceCode(ctx context.Context, deviceCode string) (*DeviceCode, error) {
	row := s.db.QueryRowContext(ctx, selectDeviceCode+` WHERE device_code = ?`, deviceCode)
	return scanDeviceCode(row)
}

// GetDeviceCodeByUserCode retrieves a device code by canonical user code
func (s *SQLiteStore) GetDeviceCodeByUserCode(ctx context.Context, userCode string) (*DeviceCode, error) {
	row := s.db.QueryRowContext(ctx, selectDeviceCode+` WHERE user_code = ?`, validation.NormalizeCode(userCode))
	return scanDeviceCode(row)
}

// ResolveDeviceCode moves a pending, unexpired request to status in one statement
func (s *SQLiteStore) ResolveDeviceCode(ctx context.Context, userCode string, status Status, userID string, at time.Time) (*DeviceCode, error) {
	canonical := validation.NormalizeCode(userCode)

	res, err := s.db.ExecContext(ctx, `
		UPDATE device_codes
		SET status = ?, user_id = ?, resolved_at = ?
		WHERE user_code = ? AND status = ? AND expires_at > ?`,
		string(status), userID, at.UnixNano(),
		canonical, string(StatusPending), at.UnixNano(),
	)
	if err != nil {
		return nil, fmt.Errorf("resolving device code: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("resolving device code: %w", err)
	}

	code, err := s.GetDeviceCodeByUserCode(ctx, canonical)
	if err != nil {
		return nil, err
	}

	if affected == 0 {
		if code == nil || code.StatusAt(at) == StatusExpired {
			return nil, ErrNotFound
		}
		return nil, ErrAlreadyResolved
	}
	return code, nil
}

// UpdatePollTimestamp records the last token poll
func (s *SQLiteStore) UpdatePollTimestamp(ctx context.Context, deviceCode string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE device_codes SET last_poll = ? WHERE device_code = ?`,
		at.UnixNano(), deviceCode,
	)
	if err != nil {
		return fmt.Errorf("updating last poll: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrInvalidDeviceCode
	}
	return nil
}

// ConsumeDeviceCode deletes the row with RETURNING, so only one caller can
// read it back
func (s *SQLiteStore) ConsumeDeviceCode(ctx context.Context, deviceCode string) (*DeviceCode, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	code, err := scanDeviceCode(tx.QueryRowContext(ctx,
		`DELETE FROM device_codes WHERE device_code = ? RETURNING `+deviceCodeColumns, deviceCode))
	if err != nil || code == nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM verification_attempts WHERE device_code = ?`, deviceCode); err != nil {
		return nil, fmt.Errorf("deleting verification attempts: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("consuming device code: %w", err)
	}
	return code, nil
}

// DeleteDeviceCode removes a device code and its verification attempts
func (s *SQLiteStore) DeleteDeviceCode(ctx context.Context, deviceCode string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM verification_attempts WHERE device_code = ?`, deviceCode); err != nil {
		return fmt.Errorf("deleting verification attempts: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM device_codes WHERE device_code = ?`, deviceCode); err != nil {
		return fmt.Errorf("deleting device code: %w", err)
	}
	return tx.Commit()
}

// DeleteExpired removes every request that expired before the given time
func (s *SQLiteStore) DeleteExpired(ctx context.Context, before time.Time) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	cutoff := before.UnixNano()
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM verification_attempts WHERE device_code IN (
			SELECT device_code FROM device_codes WHERE expires_at <= ?
		)`, cutoff); err != nil {
		return 0, fmt.Errorf("deleting expired attempts: %w", err)
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM device_codes WHERE expires_at <= ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("deleting expired device codes: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("deleting expired device codes: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing sweep: %w", err)
	}
	return int(n), nil
}

// GetPollCount counts verification attempts made at or after since
func (s *SQLiteStore) GetPollCount(ctx context.Context, deviceCode string, since time.Time) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM verification_attempts WHERE device_code = ? AND attempted_at >= ?`,
		deviceCode, since.UnixNano(),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("getting poll count: %w", err)
	}
	return count, nil
}

// IncrementPollCount records a verification attempt
func (s *SQLiteStore) IncrementPollCount(ctx context.Context, deviceCode string, at time.Time) error {
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO verification_attempts (device_code, attempted_at) VALUES (?, ?)`,
		deviceCode, at.UnixNano(),
	); err != nil {
		return fmt.Errorf("incrementing poll count: %w", err)
	}
	return nil
}

// CheckHealth verifies the database answers queries
func (s *SQLiteStore) CheckHealth(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("sqlite health check failed: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDeviceCode(row rowScanner) (*DeviceCode, error) {
	var (
		code                          DeviceCode
		status                        string
		expiresAt, lastPoll, resolved int64
	)
	err := row.Scan(
		&code.DeviceCode,
		&code.UserCode,
		&code.ClientID,
		&code.Scope,
		&code.VerificationURI,
		&code.VerificationURIComplete,
		&code.Interval,
		&expiresAt,
		&lastPoll,
		&status,
		&code.UserID,
		&resolved,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning device code: %w", err)
	}

	code.Status = Status(status)
	code.ExpiresAt = time.Unix(0, expiresAt)
	code.LastPoll = fromUnixNano(lastPoll)
	code.ResolvedAt = fromUnixNano(resolved)
	return &code, nil
}

func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNano(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// isConstraintViolation checks if the error is a SQLite constraint violation
func isConstraintViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "constraint failed")
}

// Ensure SQLiteStore implements Store
var _ Store = (*SQLiteStore)(nil)
