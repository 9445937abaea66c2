// Package sqlitestore is a feature.Store backed by a SQLite database file,
// standing in for an on-disk or partitioned canonical feature store.
package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"slices"
	"strings"
	"sync"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/IvanBrykalov/featcache/feature"
)

// maxParams bounds the ids per IN (...) query.
const maxParams = 500

var schema = []string{
	`CREATE TABLE IF NOT EXISTS fields (
		name  TEXT PRIMARY KEY,
		width INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS features (
		field TEXT    NOT NULL,
		node  INTEGER NOT NULL,
		data  BLOB    NOT NULL,
		PRIMARY KEY (field, node)
	) WITHOUT ROWID`,
}

// Store reads rows from a "features" table keyed by (field, node).
// Safe for concurrent use.
type Store struct {
	db *sql.DB

	mu     sync.RWMutex
	fields map[string]int // name -> row width
}

// Open opens (creating if needed) the database at path.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(4)

	s := &Store{db: db, fields: make(map[string]int)}
	if err := s.init(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		return fmt.Errorf("sqlitestore: journal mode: %w", err)
	}
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlitestore: schema: %w", err)
		}
	}

	rows, err := s.db.QueryContext(ctx, "SELECT name, width FROM fields")
	if err != nil {
		return fmt.Errorf("sqlitestore: list fields: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		var width int
		if err := rows.Scan(&name, &width); err != nil {
			return fmt.Errorf("sqlitestore: list fields: %w", err)
		}
		s.fields[name] = width
	}
	return rows.Err()
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// Fields returns the stored field names in ascending order.
func (s *Store) Fields() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.fields))
	for name := range s.fields {
		out = append(out, name)
	}
	slices.Sort(out)
	return out
}

// PutRows writes rows of field for ids in one transaction, replacing
// existing rows. Every row must have the field's width.
func (s *Store) PutRows(ctx context.Context, field string, ids []feature.NodeID, rows []feature.Row) error {
	if len(ids) != len(rows) {
		return fmt.Errorf("sqlitestore: %d ids, %d rows", len(ids), len(rows))
	}
	if len(rows) == 0 {
		return nil
	}
	width := len(rows[0])
	for i, r := range rows {
		if len(r) != width {
			return fmt.Errorf("sqlitestore: field %q node %d: width %d, want %d", field, ids[i], len(r), width)
		}
	}

	s.mu.RLock()
	known, ok := s.fields[field]
	s.mu.RUnlock()
	if ok && known != width {
		return fmt.Errorf("sqlitestore: field %q has width %d, got %d", field, known, width)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlitestore: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "INSERT OR IGNORE INTO fields (name, width) VALUES (?, ?)", field, width); err != nil {
		return fmt.Errorf("sqlitestore: put field %q: %w", field, err)
	}
	stmt, err := tx.PrepareContext(ctx, "INSERT OR REPLACE INTO features (field, node, data) VALUES (?, ?, ?)")
	if err != nil {
		return fmt.Errorf("sqlitestore: prepare: %w", err)
	}
	defer stmt.Close()

	for i, id := range ids {
		if _, err := stmt.ExecContext(ctx, field, int64(id), encodeRow(rows[i])); err != nil {
			return fmt.Errorf("sqlitestore: put %q/%d: %w", field, id, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlitestore: commit: %w", err)
	}

	s.mu.Lock()
	s.fields[field] = width
	s.mu.Unlock()
	return nil
}

// Import copies nodes [0, vnum) of fields from src, chunk ids per call.
func (s *Store) Import(ctx context.Context, src feature.Store, vnum int, fields []string, chunk int) error {
	if chunk <= 0 {
		chunk = maxParams
	}
	ids := make([]feature.NodeID, 0, chunk)
	for _, field := range fields {
		for lo := 0; lo < vnum; lo += chunk {
			ids = ids[:0]
			for id := lo; id < min(lo+chunk, vnum); id++ {
				ids = append(ids, feature.NodeID(id))
			}
			rows, err := src.GetRows(ctx, ids, field)
			if err != nil {
				return fmt.Errorf("sqlitestore: import %q: %w", field, err)
			}
			if err := s.PutRows(ctx, field, ids, rows); err != nil {
				return err
			}
		}
	}
	return nil
}

// GetRow implements feature.Store.
func (s *Store) GetRow(ctx context.Context, id feature.NodeID, field string) (feature.Row, error) {
	rows, err := s.GetRows(ctx, []feature.NodeID{id}, field)
	if err != nil {
		return nil, err
	}
	return rows[0], nil
}

// GetRows implements feature.Store. Duplicated ids are read once.
func (s *Store) GetRows(ctx context.Context, ids []feature.NodeID, field string) ([]feature.Row, error) {
	s.mu.RLock()
	_, ok := s.fields[field]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", feature.ErrNoField, field)
	}

	uniq := make([]feature.NodeID, 0, len(ids))
	found := make(map[feature.NodeID]feature.Row, len(ids))
	for _, id := range ids {
		if _, seen := found[id]; !seen {
			found[id] = nil
			uniq = append(uniq, id)
		}
	}

	for lo := 0; lo < len(uniq); lo += maxParams {
		if err := s.query(ctx, field, uniq[lo:min(lo+maxParams, len(uniq))], found); err != nil {
			return nil, err
		}
	}

	out := make([]feature.Row, len(ids))
	for i, id := range ids {
		row := found[id]
		if row == nil {
			return nil, fmt.Errorf("%w: %d in %q", feature.ErrNoRow, id, field)
		}
		out[i] = row
	}
	return out, nil
}

func (s *Store) query(ctx context.Context, field string, ids []feature.NodeID, into map[feature.NodeID]feature.Row) error {
	args := make([]any, 0, len(ids)+1)
	args = append(args, field)
	for _, id := range ids {
		args = append(args, int64(id))
	}
	q := "SELECT node, data FROM features WHERE field = ? AND node IN (?" +
		strings.Repeat(",?", len(ids)-1) + ")"

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("sqlitestore: query %q: %w", field, err)
	}
	defer rows.Close()
	for rows.Next() {
		var node int64
		var data []byte
		if err := rows.Scan(&node, &data); err != nil {
			return fmt.Errorf("sqlitestore: scan %q: %w", field, err)
		}
		row, err := decodeRow(data)
		if err != nil {
			return fmt.Errorf("sqlitestore: %q/%d: %w", field, node, err)
		}
		into[feature.NodeID(node)] = row
	}
	return rows.Err()
}

// encodeRow writes r as little-endian float32s.
func encodeRow(r feature.Row) []byte {
	b := make([]byte, 4*len(r))
	for i, v := range r {
		binary.LittleEndian.PutUint32(b[4*i:], math.Float32bits(v))
	}
	return b
}

func decodeRow(b []byte) (feature.Row, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("blob of %d bytes is not a float32 row", len(b))
	}
	r := make(feature.Row, len(b)/4)
	for i := range r {
		r[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return r, nil
}

var _ feature.Store = (*Store)(nil)
