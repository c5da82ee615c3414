// Package memory provides the versioned memory store for Engram
package memory

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Content is an immutable stored text blob. SupersededBy is set exactly once,
// when an update replaces this version.
type Content struct {
	ID           string    `json:"id"`
	Body         string    `json:"body"`
	SupersededBy string    `json:"superseded_by,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Path maps a hierarchical URI to a content id, with per-path recall metadata.
// Multiple paths referencing the same content id are aliases.
type Path struct {
	ID         string    `json:"id"`
	Domain     string    `json:"domain"`
	Path       string    `json:"path"`
	ContentID  string    `json:"content_id"`
	Priority   int       `json:"priority"`   // lower = higher importance
	Disclosure string    `json:"disclosure"` // recall trigger description
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// URI returns the full address of this path.
func (p Path) URI() string {
	return p.Domain + "://" + p.Path
}

// Snapshot operation types.
const (
	OpCreate        = "create"
	OpCreateAlias   = "createAlias"
	OpDelete        = "delete"
	OpModifyContent = "modifyContent"
	OpModifyMeta    = "modifyMeta"
)

// Snapshot resource types.
const (
	ResourcePath    = "path"
	ResourceContent = "content"
)

// StatusPending is the only status a stored snapshot ever holds; approval and
// rollback both discard the row in the same transaction.
const StatusPending = "pending"

// PathState is the serialized form of a path inside a snapshot's prior state.
type PathState struct {
	PathID     string    `json:"path_id"`
	Domain     string    `json:"domain"`
	Path       string    `json:"path"`
	ContentID  string    `json:"content_id"`
	Priority   int       `json:"priority"`
	Disclosure string    `json:"disclosure"`
	CreatedAt  time.Time `json:"created_at"`
}

// PriorState is the pre-mutation state recorded with every snapshot. Empty
// for create and createAlias (rollback deletes what the mutation produced).
type PriorState struct {
	Path *PathState `json:"path,omitempty"`
	Body string     `json:"body,omitempty"`
	// OtherPaths lists the URIs still referencing the content at delete time,
	// so an auditor can see whether the content became unreachable.
	OtherPaths []string `json:"other_paths,omitempty"`
}

// Snapshot records the pre-mutation state of one resource, scoped to a
// session. ResourceID is the URI the mutation addressed.
type Snapshot struct {
	ID            string     `json:"id"`
	SessionID     string     `json:"session_id"`
	ResourceType  string     `json:"resource_type"`
	ResourceID    string     `json:"resource_id"`
	OperationType string     `json:"operation_type"`
	PriorState    PriorState `json:"prior_state"`
	Status        string     `json:"status"`
	SnapshotTime  time.Time  `json:"snapshot_time"`
}

// Options configures a Store. Loaded from config and passed in explicitly;
// the store never reads ambient process state.
type Options struct {
	DataDir     string   // database directory
	Domains     []string // writable domain allow-list
	BootURIs    []string // URIs concatenated by system://boot
	RecentLimit int      // default N for system://recent
}

// Store provides versioned memory storage using SQLite
type Store struct {
	db          *sql.DB
	dataDir     string
	domains     []string
	bootURIs    []string
	recentLimit int
}

// GetDB returns the underlying SQL database handle
func (s *Store) GetDB() *sql.DB {
	return s.db
}

// NewStore opens (or creates) the store at opts.DataDir.
func NewStore(opts Options) (*Store, error) {
	dataDir := opts.DataDir
	if dataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home dir: %w", err)
		}
		dataDir = filepath.Join(home, ".engram")
	}

	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}

	dbPath := filepath.Join(dataDir, "engram.db")
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	recentLimit := opts.RecentLimit
	if recentLimit <= 0 {
		recentLimit = 10
	}

	store := &Store{
		db:          db,
		dataDir:     dataDir,
		domains:     opts.Domains,
		bootURIs:    opts.BootURIs,
		recentLimit: recentLimit,
	}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to init schema: %w", err)
	}

	return store, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// DataDir returns the directory holding the database file.
func (s *Store) DataDir() string {
	return s.dataDir
}

// Domains returns the writable domain allow-list.
func (s *Store) Domains() []string {
	return s.domains
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
	}
	return nil
}

// initSchema creates the database tables
func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS contents (
		id TEXT PRIMARY KEY,
		body TEXT NOT NULL,
		superseded_by TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_contents_superseded_by ON contents(superseded_by);

	CREATE TABLE IF NOT EXISTS paths (
		id TEXT PRIMARY KEY,
		domain TEXT NOT NULL,
		path TEXT NOT NULL,
		content_id TEXT NOT NULL,
		priority INTEGER NOT NULL DEFAULT 100,
		disclosure TEXT NOT NULL DEFAULT '',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(domain, path),
		FOREIGN KEY (content_id) REFERENCES contents(id)
	);

	CREATE INDEX IF NOT EXISTS idx_paths_content_id ON paths(content_id);
	CREATE INDEX IF NOT EXISTS idx_paths_updated_at ON paths(updated_at DESC);

	CREATE TABLE IF NOT EXISTS snapshots (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		resource_type TEXT NOT NULL,
		resource_id TEXT NOT NULL,
		operation_type TEXT NOT NULL,
		prior_state TEXT NOT NULL DEFAULT '{}',
		status TEXT NOT NULL DEFAULT 'pending',
		snapshot_time DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_snapshots_session ON snapshots(session_id, snapshot_time);
	`
	_, err := s.db.Exec(schema)
	if err != nil {
		return err
	}

	// Migrate: Add disclosure column for databases created before recall metadata
	_, _ = s.db.Exec(`ALTER TABLE paths ADD COLUMN disclosure TEXT NOT NULL DEFAULT ''`)

	return nil
}

// begin starts a write transaction, mapping connection failures to the
// retryable storage error.
func (s *Store) begin(ctx context.Context) (*sql.Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
	}
	return tx, nil
}

// getPathTx looks up a path inside a transaction. Returns ErrNotFound when
// no row matches.
func getPathTx(ctx context.Context, tx *sql.Tx, domain, path string) (*Path, error) {
	row := tx.QueryRowContext(ctx, `
		SELECT id, domain, path, content_id, priority, disclosure, created_at, updated_at
		FROM paths WHERE domain = ? AND path = ?
	`, domain, path)
	return scanPath(row)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPath(row rowScanner) (*Path, error) {
	var p Path
	err := row.Scan(&p.ID, &p.Domain, &p.Path, &p.ContentID, &p.Priority, &p.Disclosure, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// getContentTx loads a content row inside a transaction.
func getContentTx(ctx context.Context, tx *sql.Tx, id string) (*Content, error) {
	var c Content
	var superseded sql.NullString
	err := tx.QueryRowContext(ctx, `
		SELECT id, body, superseded_by, created_at FROM contents WHERE id = ?
	`, id).Scan(&c.ID, &c.Body, &superseded, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("content %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if superseded.Valid {
		c.SupersededBy = superseded.String
	}
	return &c, nil
}

// GetContent returns a content row by id.
func (s *Store) GetContent(ctx context.Context, id string) (*Content, error) {
	var c Content
	var superseded sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, body, superseded_by, created_at FROM contents WHERE id = ?
	`, id).Scan(&c.ID, &c.Body, &superseded, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("content %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if superseded.Valid {
		c.SupersededBy = superseded.String
	}
	return &c, nil
}

// pathState captures a path for snapshot storage.
func pathState(p *Path) *PathState {
	return &PathState{
		PathID:     p.ID,
		Domain:     p.Domain,
		Path:       p.Path,
		ContentID:  p.ContentID,
		Priority:   p.Priority,
		Disclosure: p.Disclosure,
		CreatedAt:  p.CreatedAt,
	}
}

// insertSnapshotTx records a snapshot inside the mutation's own transaction.
// Exactly one snapshot is written per mutating call.
func insertSnapshotTx(ctx context.Context, tx *sql.Tx, sessionID, resourceType, resourceID, opType string, prior PriorState) (string, error) {
	stateJSON, err := json.Marshal(prior)
	if err != nil {
		return "", fmt.Errorf("failed to serialize prior state: %w", err)
	}
	id := generateID()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO snapshots (id, session_id, resource_type, resource_id, operation_type, prior_state, status, snapshot_time)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, id, sessionID, resourceType, resourceID, opType, string(stateJSON), StatusPending, time.Now())
	if err != nil {
		return "", fmt.Errorf("failed to record snapshot: %w", err)
	}
	return id, nil
}

func generateID() string {
	b := make([]byte, 8)
	rand.Read(b)
	return hex.EncodeToString(b)
}
