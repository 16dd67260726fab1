// Package store persists global constants and custom-constant definitions in
// a SQLite database, so a dataset's derived values survive restarts without
// recomputation.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"strings"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS global_constants (
	name  TEXT PRIMARY KEY,
	value REAL
);
CREATE TABLE IF NOT EXISTS custom_definitions (
	name       TEXT PRIMARY KEY,
	definition TEXT NOT NULL,
	position   INTEGER NOT NULL
);
`

// Store is a handle to one dataset's persistence database.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and ensures the
// schema exists.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening store %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing store %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveConstants upserts the given constants. NaN values are stored as NULL
// because SQLite has no NaN representation.
func (s *Store) SaveConstants(ctx context.Context, constants map[string]float64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO global_constants (name, value) VALUES (?, ?)
		 ON CONFLICT(name) DO UPDATE SET value = excluded.value`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for name, value := range constants {
		arg := any(value)
		if math.IsNaN(value) {
			arg = nil
		}
		if _, err := stmt.ExecContext(ctx, name, arg); err != nil {
			return fmt.Errorf("saving constant %q: %w", name, err)
		}
	}
	return tx.Commit()
}

// LoadConstants returns every stored constant. NULL values load as NaN.
func (s *Store) LoadConstants(ctx context.Context) (map[string]float64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, value FROM global_constants`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]float64)
	for rows.Next() {
		var name string
		var value sql.NullFloat64
		if err := rows.Scan(&name, &value); err != nil {
			return nil, err
		}
		if value.Valid {
			out[name] = value.Float64
		} else {
			out[name] = math.NaN()
		}
	}
	return out, rows.Err()
}

// DeleteConstant removes one constant; deleting a missing name is a no-op.
func (s *Store) DeleteConstant(ctx context.Context, name string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM global_constants WHERE name = ?`, name)
	return err
}

// SaveDefinitions replaces the stored definition list. Position order is the
// evaluation order, so chained definitions replay correctly.
func (s *Store) SaveDefinitions(ctx context.Context, definitions []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM custom_definitions`); err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO custom_definitions (name, definition, position) VALUES (?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, def := range definitions {
		name, err := definitionName(def)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, name, def, i); err != nil {
			return fmt.Errorf("saving definition %q: %w", name, err)
		}
	}
	return tx.Commit()
}

// LoadDefinitions returns the stored definitions in evaluation order.
func (s *Store) LoadDefinitions(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT definition FROM custom_definitions ORDER BY position`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var def string
		if err := rows.Scan(&def); err != nil {
			return nil, err
		}
		out = append(out, def)
	}
	return out, rows.Err()
}

func definitionName(def string) (string, error) {
	left, _, found := strings.Cut(def, "=")
	if !found {
		return "", fmt.Errorf("definition %q has no assignment", def)
	}
	name := strings.TrimSpace(left)
	if name == "" {
		return "", fmt.Errorf("definition %q has an empty name", def)
	}
	return name, nil
}

// DeleteDefinition removes one definition by constant name, along with its
// stored value.
func (s *Store) DeleteDefinition(ctx context.Context, name string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM custom_definitions WHERE name = ?`, name); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM global_constants WHERE name = ?`, name); err != nil {
		return err
	}
	return tx.Commit()
}
