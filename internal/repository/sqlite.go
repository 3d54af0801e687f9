package repository

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

	"starchat/internal/domain"
)

// SQLiteStore is a file-backed gateway for local runs. The UNIQUE index on
// star_markers.exchange_id enforces one marker per exchange.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore opens (or creates) the database at path and ensures the
// schema exists. Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("repository: creating database directory: %w", err)
		}
	}

	// Pragmas go in the DSN so every pooled connection gets them.
	db, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("repository: opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("repository: ping database at %s: %w", path, err)
	}

	s := &SQLiteStore{db: db, logger: logger}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("repository: creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) createSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS exchanges (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			message TEXT NOT NULL,
			response TEXT NOT NULL,
			model_used TEXT NOT NULL,
			created_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_exchanges_user_created
			ON exchanges(user_id, created_at);

		CREATE TABLE IF NOT EXISTS star_markers (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			exchange_id TEXT NOT NULL,
			starred_at INTEGER NOT NULL,
			FOREIGN KEY (exchange_id) REFERENCES exchanges(id)
		);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_star_markers_exchange
			ON star_markers(exchange_id);
		CREATE INDEX IF NOT EXISTS idx_star_markers_user_starred
			ON star_markers(user_id, starred_at);
	`)
	return err
}

func (s *SQLiteStore) CreateExchange(ctx context.Context, userID, message, response, modelID string) (domain.Exchange, error) {
	ex := domain.Exchange{
		ID:        newID(),
		UserID:    userID,
		Message:   message,
		Response:  response,
		ModelUsed: modelID,
		CreatedAt: now(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO exchanges (id, user_id, message, response, model_used, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		ex.ID, ex.UserID, ex.Message, ex.Response, ex.ModelUsed, ex.CreatedAt.UnixNano())
	if err != nil {
		return domain.Exchange{}, fmt.Errorf("repository: CreateExchange: %w", err)
	}
	return ex, nil
}

func (s *SQLiteStore) GetExchange(ctx context.Context, userID, exchangeID string) (domain.Exchange, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, message, response, model_used, created_at FROM exchanges WHERE id = ? AND user_id = ?`,
		exchangeID, userID)
	ex, err := scanExchange(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Exchange{}, fmt.Errorf("repository: GetExchange %q: %w", exchangeID, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Exchange{}, fmt.Errorf("repository: GetExchange: %w", err)
	}
	return ex, nil
}

// ListExchanges returns the user's exchanges newest first.
func (s *SQLiteStore) ListExchanges(ctx context.Context, userID string) ([]domain.Exchange, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, message, response, model_used, created_at FROM exchanges WHERE user_id = ? ORDER BY created_at DESC`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("repository: ListExchanges: %w", err)
	}
	defer rows.Close()

	var out []domain.Exchange
	for rows.Next() {
		ex, err := scanExchange(rows)
		if err != nil {
			return nil, fmt.Errorf("repository: ListExchanges scan: %w", err)
		}
		out = append(out, ex)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: ListExchanges: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) CreateStarMarker(ctx context.Context, userID, exchangeID string) (domain.StarMarker, error) {
	m := domain.StarMarker{
		ID:         newID(),
		UserID:     userID,
		ExchangeID: exchangeID,
		StarredAt:  now(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO star_markers (id, user_id, exchange_id, starred_at) VALUES (?, ?, ?, ?)`,
		m.ID, m.UserID, m.ExchangeID, m.StarredAt.UnixNano())
	if err != nil {
		if isUniqueConstraintError(err) {
			s.logger.DebugContext(ctx, "star marker already exists", "exchangeId", exchangeID)
			return domain.StarMarker{}, fmt.Errorf("repository: CreateStarMarker %q: %w", exchangeID, domain.ErrStarExists)
		}
		return domain.StarMarker{}, fmt.Errorf("repository: CreateStarMarker: %w", err)
	}
	return m, nil
}

func (s *SQLiteStore) FindStarMarker(ctx context.Context, exchangeID string) (domain.StarMarker, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, exchange_id, starred_at FROM star_markers WHERE exchange_id = ?`, exchangeID)
	m, err := scanStarMarker(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.StarMarker{}, false, nil
	}
	if err != nil {
		return domain.StarMarker{}, false, fmt.Errorf("repository: FindStarMarker: %w", err)
	}
	return m, true, nil
}

func (s *SQLiteStore) DeleteStarMarker(ctx context.Context, marker domain.StarMarker) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM star_markers WHERE id = ?`, marker.ID)
	if err != nil {
		return fmt.Errorf("repository: DeleteStarMarker: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("repository: DeleteStarMarker rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("repository: DeleteStarMarker %q: %w", marker.ID, domain.ErrNotFound)
	}
	return nil
}

// ListStarMarkers returns the user's markers newest first.
func (s *SQLiteStore) ListStarMarkers(ctx context.Context, userID string) ([]domain.StarMarker, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, exchange_id, starred_at FROM star_markers WHERE user_id = ? ORDER BY starred_at DESC`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("repository: ListStarMarkers: %w", err)
	}
	defer rows.Close()

	var out []domain.StarMarker
	for rows.Next() {
		m, err := scanStarMarker(rows)
		if err != nil {
			return nil, fmt.Errorf("repository: ListStarMarkers scan: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: ListStarMarkers: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanExchange(r rowScanner) (domain.Exchange, error) {
	var ex domain.Exchange
	var created int64
	if err := r.Scan(&ex.ID, &ex.UserID, &ex.Message, &ex.Response, &ex.ModelUsed, &created); err != nil {
		return domain.Exchange{}, err
	}
	ex.CreatedAt = time.Unix(0, created).UTC()
	return ex, nil
}

func scanStarMarker(r rowScanner) (domain.StarMarker, error) {
	var m domain.StarMarker
	var starred int64
	if err := r.Scan(&m.ID, &m.UserID, &m.ExchangeID, &starred); err != nil {
		return domain.StarMarker{}, err
	}
	m.StarredAt = time.Unix(0, starred).UTC()
	return m, nil
}

// isUniqueConstraintError checks if an error is a unique constraint violation.
func isUniqueConstraintError(err error) bool {
	// SQLite returns "UNIQUE constraint failed" in the error message
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") || strings.Contains(err.Error(), "unique constraint"))
}
