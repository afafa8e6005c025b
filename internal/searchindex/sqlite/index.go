// Package sqlite implements searchindex.Index on an embedded SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/helix-io/helix/internal/searchindex"
)

const schema = `
CREATE TABLE IF NOT EXISTS variants (
	id         TEXT PRIMARY KEY,
	chromosome TEXT NOT NULL,
	position   INTEGER NOT NULL,
	reference  TEXT NOT NULL,
	alternate  TEXT NOT NULL,
	studies    TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS variants_region ON variants (chromosome, position);
`

const upsert = `
INSERT INTO variants (id, chromosome, position, reference, alternate, studies)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	chromosome = excluded.chromosome,
	position   = excluded.position,
	reference  = excluded.reference,
	alternate  = excluded.alternate,
	studies    = excluded.studies`

// Index is a SQLite-backed search index.
type Index struct {
	db *sql.DB
}

// Open opens or creates the database at path.
func Open(ctx context.Context, path string) (*Index, error) {
	if path == "" {
		return nil, errors.New("sqlite: path is required")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}
	// SQLite serializes writers; a single connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: create schema: %w", err)
	}
	return &Index{db: db}, nil
}

// Close closes the database.
func (x *Index) Close() error {
	return x.db.Close()
}

// Delete removes documents by id.
func (x *Index) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return x.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `DELETE FROM variants WHERE id = ?`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, id := range ids {
			if _, err := stmt.ExecContext(ctx, id); err != nil {
				return fmt.Errorf("delete %s: %w", id, err)
			}
		}
		return nil
	})
}

// Update inserts or replaces documents.
func (x *Index) Update(ctx context.Context, docs []searchindex.Document) error {
	if len(docs) == 0 {
		return nil
	}
	return x.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, upsert)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, d := range docs {
			if _, err := stmt.ExecContext(ctx, d.ID, d.Chromosome, int64(d.Position), d.Reference, d.Alternate, joinStudies(d.Studies)); err != nil {
				return fmt.Errorf("upsert %s: %w", d.ID, err)
			}
		}
		return nil
	})
}

func (x *Index) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := x.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return fmt.Errorf("sqlite: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit: %w", err)
	}
	return nil
}

// Reachable reports whether the database answers a ping.
func (x *Index) Reachable(ctx context.Context) bool {
	return x.db.PingContext(ctx) == nil
}

// Get returns the document with the given id.
func (x *Index) Get(ctx context.Context, id string) (searchindex.Document, bool, error) {
	var (
		d       searchindex.Document
		pos     int64
		studies string
	)
	err := x.db.QueryRowContext(ctx,
		`SELECT id, chromosome, position, reference, alternate, studies FROM variants WHERE id = ?`, id,
	).Scan(&d.ID, &d.Chromosome, &pos, &d.Reference, &d.Alternate, &studies)
	if errors.Is(err, sql.ErrNoRows) {
		return searchindex.Document{}, false, nil
	}
	if err != nil {
		return searchindex.Document{}, false, fmt.Errorf("sqlite: get %s: %w", id, err)
	}
	d.Position = uint64(pos)
	d.Studies, err = splitStudies(studies)
	if err != nil {
		return searchindex.Document{}, false, fmt.Errorf("sqlite: get %s: %w", id, err)
	}
	return d, true, nil
}

// Count returns the number of indexed documents.
func (x *Index) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := x.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM variants`).Scan(&n); err != nil {
		return 0, fmt.Errorf("sqlite: count: %w", err)
	}
	return n, nil
}

func joinStudies(ids []int) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.Itoa(id)
	}
	return strings.Join(parts, ",")
}

func splitStudies(s string) ([]int, error) {
	if s == "" {
		return []int{}, nil
	}
	parts := strings.Split(s, ",")
	ids := make([]int, len(parts))
	for i, p := range parts {
		id, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("bad study id %q", p)
		}
		ids[i] = id
	}
	return ids, nil
}

var _ searchindex.Index = (*Index)(nil)
