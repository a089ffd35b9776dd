// Package spool persists staged batches across process crashes. The
// dispatcher writes a batch here before transmission and deletes it after
// the outcome has been applied (commit on success, restore on failure), so
// a crash in the window between drain and acknowledgement cannot lose
// events. Pending batches are retransmitted under their persisted IDs on
// the next flush; keeping the ID keeps the idempotency key, so a batch
// the collector accepted just before the crash is de-duplicated rather
// than double-counted.
package spool

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/agentsight/agentsight-go/internal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS staged_batches (
	id         TEXT PRIMARY KEY,
	payload    BLOB NOT NULL,
	created_at TEXT NOT NULL
);`

// Spool is a SQLite-backed store of staged batches. Safe for concurrent
// use; database/sql serializes access.
type Spool struct {
	db *sql.DB
}

// Open opens (creating if needed) the spool database at path.
func Open(path string) (*Spool, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("spool: open %s: %w", path, err)
	}
	// The spool is a single-writer queue; one connection avoids
	// SQLITE_BUSY contention between concurrent flushes.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("spool: create schema: %w", err)
	}
	return &Spool{db: db}, nil
}

// Put stages a batch before transmission.
func (s *Spool) Put(batch model.Batch) error {
	payload, err := json.Marshal(batch.Items)
	if err != nil {
		return fmt.Errorf("spool: marshal batch %s: %w", batch.ID, err)
	}
	_, err = s.db.Exec(
		`INSERT OR REPLACE INTO staged_batches (id, payload, created_at) VALUES (?, ?, ?)`,
		batch.ID, payload, time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("spool: stage batch %s: %w", batch.ID, err)
	}
	return nil
}

// Delete removes a staged batch once its outcome has been applied.
func (s *Spool) Delete(id string) error {
	if _, err := s.db.Exec(`DELETE FROM staged_batches WHERE id = ?`, id); err != nil {
		return fmt.Errorf("spool: delete batch %s: %w", id, err)
	}
	return nil
}

// Pending returns staged batches left behind by a crashed process, oldest
// first. Item payloads decode as map[string]any; the transport and buffer
// handle both typed and map payloads.
func (s *Spool) Pending() ([]model.Batch, error) {
	rows, err := s.db.Query(`SELECT id, payload FROM staged_batches ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("spool: query pending: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var batches []model.Batch
	for rows.Next() {
		var id string
		var payload []byte
		if err := rows.Scan(&id, &payload); err != nil {
			return nil, fmt.Errorf("spool: scan pending row: %w", err)
		}
		var items []model.TrackedItem
		if err := json.Unmarshal(payload, &items); err != nil {
			return nil, fmt.Errorf("spool: decode batch %s: %w", id, err)
		}
		batches = append(batches, model.Batch{ID: id, Items: items})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("spool: iterate pending: %w", err)
	}
	return batches, nil
}

// Close closes the underlying database.
func (s *Spool) Close() error {
	return s.db.Close()
}
