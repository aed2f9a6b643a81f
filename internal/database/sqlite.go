package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"ctrack-go/internal/ctrack"
	"ctrack-go/internal/database/migrations"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteIndex implements ctrack.SnapshotIndex using SQLite.
// Each row of the snapshots table is one link of an investigation's chain.
type SQLiteIndex struct {
	db   *sql.DB
	path string
}

// NewSQLiteIndex opens the index at path and applies pending migrations.
// path can be a file path or ":memory:" for an in-memory index.
func NewSQLiteIndex(path string) (*SQLiteIndex, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}

	if err := migrations.MigrateUp(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating snapshot index: %w", err)
	}

	return &SQLiteIndex{db: db, path: path}, nil
}

// NewSQLiteIndexFromDB wraps an existing database connection.
// The caller is responsible for ensuring the schema is migrated.
func NewSQLiteIndexFromDB(db *sql.DB) *SQLiteIndex {
	return &SQLiteIndex{db: db}
}

// OpenConnection opens and configures a SQLite database connection with appropriate PRAGMAs.
// path can be a file path or ":memory:" for in-memory database.
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Every connection to ":memory:" is a separate database.
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	if path != ":memory:" {
		pragmas = append(pragmas, "PRAGMA journal_mode = WAL")
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}

	return db, nil
}

const entryColumns = "id, investigation_id, seq, name, created_at, previous_id, change_count"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*ctrack.SnapshotEntry, error) {
	var (
		e          ctrack.SnapshotEntry
		createdAt  int64
		previousID sql.NullString
	)
	if err := row.Scan(&e.ID, &e.InvestigationID, &e.Seq, &e.Name, &createdAt, &previousID, &e.ChangeCount); err != nil {
		return nil, err
	}
	e.Timestamp = time.Unix(0, createdAt).UTC()
	e.PreviousID = previousID.String
	return &e, nil
}

// Latest returns the link with the highest sequence number, or nil if the
// investigation has no snapshots.
func (s *SQLiteIndex) Latest(investigationID string) (*ctrack.SnapshotEntry, error) {
	row := s.db.QueryRowContext(context.Background(),
		"SELECT "+entryColumns+" FROM snapshots WHERE investigation_id = ? ORDER BY seq DESC LIMIT 1",
		investigationID)

	e, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("finding latest snapshot: %w", err)
	}
	return e, nil
}

// Append inserts a link. The (investigation_id, seq) pair is unique, so two
// writers racing for the same position cannot both succeed.
func (s *SQLiteIndex) Append(entry *ctrack.SnapshotEntry) error {
	var previousID sql.NullString
	if entry.PreviousID != "" {
		previousID = sql.NullString{String: entry.PreviousID, Valid: true}
	}

	_, err := s.db.ExecContext(context.Background(),
		"INSERT INTO snapshots ("+entryColumns+") VALUES (?, ?, ?, ?, ?, ?, ?)",
		entry.ID, entry.InvestigationID, entry.Seq, entry.Name,
		entry.Timestamp.UTC().UnixNano(), previousID, entry.ChangeCount)
	if err != nil {
		return fmt.Errorf("appending snapshot link: %w", err)
	}
	return nil
}

// List returns up to limit links of the investigation, newest first.
func (s *SQLiteIndex) List(investigationID string, limit int) ([]*ctrack.SnapshotEntry, error) {
	rows, err := s.db.QueryContext(context.Background(),
		"SELECT "+entryColumns+" FROM snapshots WHERE investigation_id = ? ORDER BY seq DESC LIMIT ?",
		investigationID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing snapshots: %w", err)
	}
	defer rows.Close()

	var entries []*ctrack.SnapshotEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning snapshot link: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing snapshots: %w", err)
	}
	return entries, nil
}

// Reset removes every link of the investigation.
func (s *SQLiteIndex) Reset(investigationID string) error {
	if _, err := s.db.ExecContext(context.Background(),
		"DELETE FROM snapshots WHERE investigation_id = ?", investigationID); err != nil {
		return fmt.Errorf("resetting snapshot chain: %w", err)
	}
	return nil
}

// Path returns the database file path (or ":memory:" for in-memory databases).
func (s *SQLiteIndex) Path() string {
	return s.path
}

// CheckMigrations verifies the database schema is up-to-date.
func (s *SQLiteIndex) CheckMigrations() error {
	return migrations.CheckDBMigrationStatus(s.db)
}

// BackupTo creates a complete copy of the index at destPath using VACUUM INTO.
func (s *SQLiteIndex) BackupTo(destPath string) error {
	_, err := s.db.Exec("VACUUM INTO ?", destPath)
	if err != nil {
		return fmt.Errorf("backing up snapshot index: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteIndex) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Compile-time check that SQLiteIndex implements ctrack.SnapshotIndex
var _ ctrack.SnapshotIndex = (*SQLiteIndex)(nil)
