// Package pg is the Postgres backend of tracker.Store. Comments and test cases
// are kept as jsonb arrays on the bug row so every operation stays a single statement.
package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"bugtracker.org/internal/tracker"
)

const pgErrUniqueViolation = "23505"

// Store implements tracker.Store over database/sql with the pgx driver.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

var _ tracker.Store = (*Store)(nil)

// Open connects with dsn and verifies the connection.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return New(db), nil
}

// New wraps an existing handle.
func New(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// DB exposes the handle for migrations.
func (s *Store) DB() *sql.DB { return s.db }

// SetClock overrides the time source used by age filters.
func (s *Store) SetClock(now func() time.Time) { s.now = now }

func (s *Store) Users() tracker.UserStore { return users{s} }
func (s *Store) Bugs() tracker.BugStore   { return bugs{s} }
func (s *Store) Roles() tracker.RoleStore { return roles{s} }
func (s *Store) Edits() tracker.EditStore { return edits{s} }

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *Store) Close(context.Context) error { return s.db.Close() }

type scanner interface {
	Scan(dest ...any) error
}

func maybePgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}

func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return tracker.ErrNotFound
	}
	if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
		return tracker.ErrAlreadyExists
	}
	return err
}

func affectedOrNotFound(res sql.Result, err error) error {
	if err != nil {
		return translate(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return tracker.ErrNotFound
	}
	return nil
}

func nullRef(id *primitive.ObjectID) sql.NullString {
	if id == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: id.Hex(), Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}

// decoder turns stored hex strings back into ObjectIDs, keeping the first failure.
type decoder struct{ err error }

func (d *decoder) id(s string) primitive.ObjectID {
	oid, err := primitive.ObjectIDFromHex(s)
	if err != nil && d.err == nil {
		d.err = fmt.Errorf("decode id %q: %w", s, err)
	}
	return oid
}

func (d *decoder) ref(ns sql.NullString) *primitive.ObjectID {
	if !ns.Valid {
		return nil
	}
	oid := d.id(ns.String)
	return &oid
}
