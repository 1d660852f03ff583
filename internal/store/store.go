package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// Driver selects the SQL backend.
type Driver string

const (
	DriverSQLite   Driver = "sqlite"
	DriverPostgres Driver = "postgres"
)

// Store persists attempts, grade records and generated questions.
type Store struct {
	db     *sql.DB
	driver Driver
}

// New opens a SQLite database at dbPath. ":memory:" gives a private
// in-memory database.
func New(dbPath string) (*Store, error) {
	return Open(context.Background(), DriverSQLite, dbPath)
}

// Open connects to driver at dsn and applies the schema.
func Open(ctx context.Context, driver Driver, dsn string) (*Store, error) {
	var (
		db  *sql.DB
		err error
	)
	switch driver {
	case DriverSQLite, "":
		driver = DriverSQLite
		db, err = openSQLite(dsn)
	case DriverPostgres:
		db, err = sql.Open("pgx", dsn)
		if err == nil {
			db.SetMaxOpenConns(10)
			db.SetConnMaxLifetime(30 * time.Minute)
		}
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &Store{db: db, driver: driver}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func openSQLite(path string) (*sql.DB, error) {
	dsn := path
	if path != ":memory:" && !strings.Contains(dsn, "?") {
		dsn += "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// One writer at a time; for ":memory:" every extra connection would
	// also get its own empty database.
	db.SetMaxOpenConns(1)
	return db, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Driver reports the backend in use.
func (s *Store) Driver() Driver {
	return s.driver
}

var schemaSQLite = []string{
	`CREATE TABLE IF NOT EXISTS attempts (
		student_id TEXT NOT NULL,
		assessment_id TEXT NOT NULL,
		attempt_count INTEGER NOT NULL DEFAULT 0,
		updated_at DATETIME NOT NULL,
		PRIMARY KEY (student_id, assessment_id)
	)`,
	`CREATE TABLE IF NOT EXISTS grade_records (
		id TEXT PRIMARY KEY,
		course_id TEXT NOT NULL,
		assessment_id TEXT NOT NULL,
		student_id TEXT NOT NULL,
		attempt INTEGER NOT NULL,
		score REAL NOT NULL,
		max_score REAL NOT NULL,
		status TEXT NOT NULL,
		feedback TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_grade_records_student ON grade_records (student_id, assessment_id)`,
	`CREATE TABLE IF NOT EXISTS generated_questions (
		student_id TEXT NOT NULL,
		assessment_id TEXT NOT NULL,
		attempt INTEGER NOT NULL,
		question_text TEXT NOT NULL,
		options_json TEXT NOT NULL,
		correct_answer TEXT NOT NULL,
		explanation TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL,
		PRIMARY KEY (student_id, assessment_id, attempt)
	)`,
}

var schemaPostgres = []string{
	`CREATE TABLE IF NOT EXISTS attempts (
		student_id TEXT NOT NULL,
		assessment_id TEXT NOT NULL,
		attempt_count INTEGER NOT NULL DEFAULT 0,
		updated_at TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (student_id, assessment_id)
	)`,
	`CREATE TABLE IF NOT EXISTS grade_records (
		id TEXT PRIMARY KEY,
		course_id TEXT NOT NULL,
		assessment_id TEXT NOT NULL,
		student_id TEXT NOT NULL,
		attempt INTEGER NOT NULL,
		score DOUBLE PRECISION NOT NULL,
		max_score DOUBLE PRECISION NOT NULL,
		status TEXT NOT NULL,
		feedback TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_grade_records_student ON grade_records (student_id, assessment_id)`,
	`CREATE TABLE IF NOT EXISTS generated_questions (
		student_id TEXT NOT NULL,
		assessment_id TEXT NOT NULL,
		attempt INTEGER NOT NULL,
		question_text TEXT NOT NULL,
		options_json TEXT NOT NULL,
		correct_answer TEXT NOT NULL,
		explanation TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (student_id, assessment_id, attempt)
	)`,
}

func (s *Store) migrate(ctx context.Context) error {
	schema := schemaSQLite
	if s.driver == DriverPostgres {
		schema = schemaPostgres
	}
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
