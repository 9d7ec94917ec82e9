package db

import (
	"database/sql"
	"log"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

type Database struct {
	db *sql.DB
}

type SessionRecord struct {
	ID        string
	Code      string
	Language  string
	CreatedAt time.Time
	UpdatedAt time.Time
}

func New(dbPath string) (*Database, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, err
	}

	if err := createTables(db); err != nil {
		return nil, err
	}

	log.Printf("Database initialized at %s", dbPath)
	return &Database{db: db}, nil
}

func createTables(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		code TEXT NOT NULL DEFAULT '',
		language TEXT NOT NULL DEFAULT '',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_sessions_updated_at ON sessions(updated_at DESC);
	`

	_, err := db.Exec(schema)
	return err
}

func (d *Database) Close() error {
	return d.db.Close()
}

// Session record operations

func (d *Database) CreateSession(id, code, language string) error {
	_, err := d.db.Exec(
		"INSERT OR IGNORE INTO sessions (id, code, language) VALUES (?, ?, ?)",
		id, code, language,
	)
	return err
}

func (d *Database) GetSession(id string) (*SessionRecord, error) {
	row := d.db.QueryRow(
		"SELECT id, code, language, created_at, updated_at FROM sessions WHERE id = ?",
		id,
	)

	var rec SessionRecord
	err := row.Scan(&rec.ID, &rec.Code, &rec.Language, &rec.CreatedAt, &rec.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (d *Database) ListSessions(limit, offset int) ([]SessionRecord, error) {
	rows, err := d.db.Query(
		"SELECT id, code, language, created_at, updated_at FROM sessions ORDER BY updated_at DESC LIMIT ? OFFSET ?",
		limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []SessionRecord
	for rows.Next() {
		var rec SessionRecord
		if err := rows.Scan(&rec.ID, &rec.Code, &rec.Language, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (d *Database) UpdateCode(id, code string) error {
	_, err := d.db.Exec(
		"UPDATE sessions SET code = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?",
		code, id,
	)
	return err
}

func (d *Database) UpdateLanguage(id, language string) error {
	_, err := d.db.Exec(
		"UPDATE sessions SET language = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?",
		language, id,
	)
	return err
}

func (d *Database) DeleteSession(id string) error {
	_, err := d.db.Exec("DELETE FROM sessions WHERE id = ?", id)
	return err
}

// Stats

func (d *Database) GetStats() (map[string]interface{}, error) {
	stats := make(map[string]interface{})

	var sessionCount int
	if err := d.db.QueryRow("SELECT COUNT(*) FROM sessions").Scan(&sessionCount); err != nil {
		return nil, err
	}
	stats["session_count"] = sessionCount

	return stats, nil
}
