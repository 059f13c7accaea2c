package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	"posledger/backend/internal/store"
)

//go:embed schema.sql
var schemaSQL string

const maxTxAttempts = 3

type Store struct {
	db      *sql.DB
	onRetry func()
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// OnRetry registers a hook called before each serialization retry.
func (s *Store) OnRetry(fn func()) {
	s.onRetry = fn
}

// Migrate applies the idempotent schema.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// RunInTx runs fn in a serializable transaction, retrying the whole unit on
// serialization failures and deadlocks.
func (s *Store) RunInTx(ctx context.Context, fn store.TxFunc) error {
	var err error
	for attempt := 1; attempt <= maxTxAttempts; attempt++ {
		err = s.runOnce(ctx, fn)
		if err == nil || !isRetryable(err) {
			return err
		}
		if attempt == maxTxAttempts {
			break
		}
		if s.onRetry != nil {
			s.onRetry()
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt*25) * time.Millisecond):
		}
	}
	return fmt.Errorf("%w: transaction kept conflicting: %v", store.ErrConflict, err)
}

func (s *Store) runOnce(ctx context.Context, fn store.TxFunc) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(ctx, &pgTx{q: tx}); err != nil {
		return err
	}
	return tx.Commit()
}

type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

func isRetryable(err error) bool {
	switch pgCode(err) {
	case "40001", "40P01":
		return true
	}
	return false
}

func isUniqueViolation(err error) bool {
	return pgCode(err) == "23505"
}

// mapConstraint turns constraint violations into store sentinels. Anything
// else passes through.
func mapConstraint(err error, what string) error {
	if err == nil {
		return nil
	}
	switch pgCode(err) {
	case "23505":
		return fmt.Errorf("%w: %s already exists", store.ErrConflict, what)
	case "23503":
		return fmt.Errorf("%w: %s references a missing row", store.ErrNotFound, what)
	case "23514":
		return fmt.Errorf("%w: %s violates a check constraint", store.ErrValidation, what)
	}
	return err
}

func notFoundIfNoRows(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	return err
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}

func nullTime(val *time.Time) any {
	if val == nil {
		return nil
	}
	return *val
}

func nullDate(val *time.Time) any {
	if val == nil {
		return nil
	}
	return store.DayUTC(*val)
}

func nullDecimal(val *decimal.Decimal) any {
	if val == nil {
		return nil
	}
	return *val
}

func jsonOrNull(v any) (any, error) {
	switch m := v.(type) {
	case map[string]int:
		if len(m) == 0 {
			return nil, nil
		}
	case map[string]any:
		if len(m) == 0 {
			return nil, nil
		}
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(raw), nil
}

func timePtr(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time.UTC()
	return &t
}

func decimalPtr(v decimal.NullDecimal) *decimal.Decimal {
	if !v.Valid {
		return nil
	}
	d := v.Decimal
	return &d
}
