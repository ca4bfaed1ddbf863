// Package store provides the durable snapshot store backed by an embedded
// SQLite database. Role assignments and the channel list are relational
// tables; the message history and forum topics are saved as whole JSON
// snapshots, so each save replaces the previous one in a single write.
//
// Migration design: SQL statements are kept in the [migrations] slice as
// ordered strings. Each is applied exactly once; the applied version is
// tracked in the schema_migrations table. To add a migration, append a new
// string — never edit or reorder existing entries.
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	_ "modernc.org/sqlite"

	"localchat/server/internal/protocol"
)

// ErrFileNotFound is returned when no upload record exists for an id.
var ErrFileNotFound = errors.New("file record not found")

// Snapshot keys in the snapshots table.
const (
	snapshotHistory = "history"
	snapshotForum   = "forum_topics"
)

// migrations holds the ordered list of DDL statements that bring the schema
// up to date. Index i corresponds to version i+1.
var migrations = []string{
	// v1 — whole-value JSON snapshots (message history, forum topics)
	`CREATE TABLE IF NOT EXISTS snapshots (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`,
	// v2 — named channels beyond the built-in defaults
	`CREATE TABLE IF NOT EXISTS channels (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		name       TEXT NOT NULL UNIQUE,
		created_at INTEGER NOT NULL DEFAULT (unixepoch())
	)`,
	// v3 — persisted role assignments (absence means member)
	`CREATE TABLE IF NOT EXISTS user_roles (
		username TEXT PRIMARY KEY,
		role     TEXT NOT NULL
	)`,
	// v4 — uploaded files
	`CREATE TABLE IF NOT EXISTS files (
		id            TEXT PRIMARY KEY,
		original_name TEXT NOT NULL,
		content_type  TEXT NOT NULL,
		disk_name     TEXT NOT NULL UNIQUE,
		size          INTEGER NOT NULL CHECK(size >= 0),
		created_at    INTEGER NOT NULL DEFAULT (unixepoch())
	)`,
	// v5 — enable WAL mode
	`PRAGMA journal_mode=WAL`,
}

// Store wraps a SQLite database and exposes server-state operations.
type Store struct {
	db *sql.DB
}

// New opens (or creates) the SQLite database at path and applies any pending
// migrations. Use ":memory:" for ephemeral in-process storage (tests).
func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// One connection: SQLite serialises writes anyway, and a single conn keeps
	// ":memory:" databases from splitting across the pool.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA busy_timeout=5000`); err != nil {
		slog.Warn("busy_timeout pragma failed", "err", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	slog.Info("sqlite store opened", "path", path)
	return s, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the schema_migrations table (if absent) and applies any
// migrations whose version number exceeds the current maximum.
func (s *Store) migrate() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version    INTEGER PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`)
	if err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	var current int
	if err := s.db.QueryRow(
		`SELECT COALESCE(MAX(version), 0) FROM schema_migrations`,
	).Scan(&current); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	for i, stmt := range migrations {
		v := i + 1
		if v <= current {
			continue
		}
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("migration %d: %w", v, err)
		}
		if _, err := s.db.Exec(
			`INSERT INTO schema_migrations(version) VALUES(?)`, v,
		); err != nil {
			return fmt.Errorf("record migration %d: %w", v, err)
		}
		slog.Debug("applied migration", "version", v)
	}
	return nil
}

// ---------------------------------------------------------------------------
// JSON snapshots
// ---------------------------------------------------------------------------

func (s *Store) saveSnapshot(key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal %s snapshot: %w", key, err)
	}
	_, err = s.db.Exec(
		`INSERT INTO snapshots(key, value) VALUES(?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, string(data),
	)
	if err != nil {
		return fmt.Errorf("write %s snapshot: %w", key, err)
	}
	return nil
}

func (s *Store) loadSnapshot(key string, out any) (bool, error) {
	var raw string
	err := s.db.QueryRow(`SELECT value FROM snapshots WHERE key = ?`, key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read %s snapshot: %w", key, err)
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return false, fmt.Errorf("decode %s snapshot: %w", key, err)
	}
	return true, nil
}

// SaveHistory replaces the persisted message buffer with msgs.
func (s *Store) SaveHistory(msgs []protocol.Message) error {
	return s.saveSnapshot(snapshotHistory, msgs)
}

// LoadHistory returns the persisted message buffer, or nil if none was saved.
func (s *Store) LoadHistory() ([]protocol.Message, error) {
	var msgs []protocol.Message
	ok, err := s.loadSnapshot(snapshotHistory, &msgs)
	if err != nil || !ok {
		return nil, err
	}
	return msgs, nil
}

// SaveTopics replaces the persisted forum topic list with topics.
func (s *Store) SaveTopics(topics []protocol.ForumTopic) error {
	return s.saveSnapshot(snapshotForum, topics)
}

// LoadTopics returns the persisted forum topics, or nil if none were saved.
func (s *Store) LoadTopics() ([]protocol.ForumTopic, error) {
	var topics []protocol.ForumTopic
	ok, err := s.loadSnapshot(snapshotForum, &topics)
	if err != nil || !ok {
		return nil, err
	}
	return topics, nil
}

// ---------------------------------------------------------------------------
// Channels
// ---------------------------------------------------------------------------

// Channels returns the persisted channel names in creation order.
func (s *Store) Channels() ([]string, error) {
	rows, err := s.db.Query(`SELECT name FROM channels ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// CreateChannel persists a new channel name. Returns an error if the name
// already exists.
func (s *Store) CreateChannel(name string) error {
	_, err := s.db.Exec(`INSERT INTO channels(name) VALUES(?)`, name)
	return err
}

// ---------------------------------------------------------------------------
// Roles
// ---------------------------------------------------------------------------

// SetRole upserts a role assignment for username.
func (s *Store) SetRole(username, role string) error {
	_, err := s.db.Exec(
		`INSERT INTO user_roles(username, role) VALUES(?, ?)
		 ON CONFLICT(username) DO UPDATE SET role = excluded.role`,
		username, role,
	)
	return err
}

// DeleteRole removes a role assignment, returning the user to the default.
func (s *Store) DeleteRole(username string) error {
	_, err := s.db.Exec(`DELETE FROM user_roles WHERE username = ?`, username)
	return err
}

// Role returns the persisted role for username, defaulting to member.
func (s *Store) Role(username string) (string, error) {
	var role string
	err := s.db.QueryRow(
		`SELECT role FROM user_roles WHERE username = ?`, username,
	).Scan(&role)
	if errors.Is(err, sql.ErrNoRows) {
		return protocol.RoleMember, nil
	}
	return role, err
}

// AdminCount returns the number of persisted admin assignments.
func (s *Store) AdminCount() (int, error) {
	var n int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM user_roles WHERE role = ?`, protocol.RoleAdmin,
	).Scan(&n)
	return n, err
}

// ---------------------------------------------------------------------------
// Uploaded files
// ---------------------------------------------------------------------------

// FileRecord is the metadata row for one uploaded file on disk.
type FileRecord struct {
	ID           string
	OriginalName string
	ContentType  string
	DiskName     string
	Size         int64
}

// CreateFile inserts a file record.
func (s *Store) CreateFile(rec FileRecord) error {
	_, err := s.db.Exec(
		`INSERT INTO files(id, original_name, content_type, disk_name, size) VALUES(?, ?, ?, ?, ?)`,
		rec.ID, rec.OriginalName, rec.ContentType, rec.DiskName, rec.Size,
	)
	if err != nil {
		return fmt.Errorf("insert file record: %w", err)
	}
	return nil
}

// FileByID returns the file record with the given id.
func (s *Store) FileByID(id string) (FileRecord, error) {
	var rec FileRecord
	err := s.db.QueryRow(
		`SELECT id, original_name, content_type, disk_name, size FROM files WHERE id = ?`, id,
	).Scan(&rec.ID, &rec.OriginalName, &rec.ContentType, &rec.DiskName, &rec.Size)
	if errors.Is(err, sql.ErrNoRows) {
		return FileRecord{}, ErrFileNotFound
	}
	return rec, err
}
