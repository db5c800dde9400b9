package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"ctxpack/internal/contract"
	"ctxpack/internal/graph"

	_ "github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates or opens a SQLite database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		return nil, err
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to init schema: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS contracts (
			entry_id TEXT PRIMARY KEY,
			kind TEXT,
			file_hash TEXT NOT NULL,
			semantic_hash TEXT NOT NULL,
			revision INTEGER NOT NULL,
			body JSON NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS edges (
			from_id TEXT,
			to_id TEXT,
			PRIMARY KEY (from_id, to_id)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_edges_to ON edges(to_id);`,
	}

	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return err
		}
	}
	return nil
}

// SaveSnapshot stores the manifest's contracts and edges. Rows absent from the
// manifest are removed in the same transaction, so the store mirrors it exactly.
func (s *SQLiteStore) SaveSnapshot(ctx context.Context, m *graph.Manifest) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// 1. Contracts
	if _, err := tx.ExecContext(ctx, `CREATE TEMP TABLE IF NOT EXISTS live_ids (entry_id TEXT PRIMARY KEY)`); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM live_ids`); err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO contracts (entry_id, kind, file_hash, semantic_hash, revision, body)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(entry_id) DO UPDATE SET
			kind=excluded.kind,
			file_hash=excluded.file_hash,
			semantic_hash=excluded.semantic_hash,
			revision=excluded.revision,
			body=excluded.body
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	liveStmt, err := tx.PrepareContext(ctx, `INSERT OR IGNORE INTO live_ids (entry_id) VALUES (?)`)
	if err != nil {
		return err
	}
	defer liveStmt.Close()

	for _, c := range m.Contracts() {
		body, err := json.Marshal(c)
		if err != nil {
			return fmt.Errorf("failed to encode contract %s: %w", c.EntryID, err)
		}
		if _, err := stmt.ExecContext(ctx, c.EntryID, string(c.Kind), c.FileHash, c.SemanticHash, int64(c.Revision), body); err != nil {
			return err
		}
		if _, err := liveStmt.ExecContext(ctx, c.EntryID); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM contracts WHERE entry_id NOT IN (SELECT entry_id FROM live_ids)`); err != nil {
		return err
	}

	// 2. Edges are derived data: replace wholesale.
	if _, err := tx.ExecContext(ctx, `DELETE FROM edges`); err != nil {
		return err
	}
	edgeStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO edges (from_id, to_id) VALUES (?, ?)
		ON CONFLICT(from_id, to_id) DO NOTHING
	`)
	if err != nil {
		return err
	}
	defer edgeStmt.Close()

	for id, node := range m.Nodes {
		for _, dep := range node.Dependencies {
			if _, err := edgeStmt.ExecContext(ctx, id, dep); err != nil {
				return err
			}
		}
	}

	return tx.Commit()
}

func (s *SQLiteStore) LoadContracts(ctx context.Context) ([]*contract.Contract, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT entry_id, body FROM contracts ORDER BY entry_id")
	if err != nil {
		return nil, fmt.Errorf("failed to query contracts: %w", err)
	}
	defer rows.Close()

	var out []*contract.Contract
	for rows.Next() {
		var id string
		var body []byte
		if err := rows.Scan(&id, &body); err != nil {
			return nil, fmt.Errorf("failed to scan contract: %w", err)
		}
		c, err := decodeContract(id, body)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) GetContract(ctx context.Context, entryID string) (*contract.Contract, error) {
	row := s.db.QueryRowContext(ctx, "SELECT body FROM contracts WHERE entry_id = ?", entryID)

	var body []byte
	if err := row.Scan(&body); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("contract %s: %w", entryID, ErrNotFound)
		}
		return nil, err
	}
	return decodeContract(entryID, body)
}

func (s *SQLiteStore) FindDependents(ctx context.Context, entryID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT from_id FROM edges WHERE to_id = ? ORDER BY from_id", entryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func decodeContract(id string, body []byte) (*contract.Contract, error) {
	var c contract.Contract
	if err := json.Unmarshal(body, &c); err != nil {
		return nil, fmt.Errorf("failed to decode contract %s: %w", id, err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}
