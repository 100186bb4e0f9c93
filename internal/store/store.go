// Package store persists analysis results to a SQLite database so graphs can
// be queried or re-served without re-parsing.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/phobologic/importgraph/internal/graph"
	"github.com/phobologic/importgraph/internal/snippet"
)

// ErrRunNotFound is returned when a run id has no saved snapshot.
var ErrRunNotFound = errors.New("run not found")

const schema = `
CREATE TABLE IF NOT EXISTS runs (
  run_id TEXT PRIMARY KEY,
  root TEXT NOT NULL,
  created_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS nodes (
  run_id TEXT NOT NULL REFERENCES runs(run_id) ON DELETE CASCADE,
  id TEXT NOT NULL,
  kind TEXT NOT NULL,
  color TEXT NOT NULL,
  unreferenced BOOLEAN NOT NULL DEFAULT FALSE,
  PRIMARY KEY (run_id, id)
);
CREATE TABLE IF NOT EXISTS edges (
  run_id TEXT NOT NULL REFERENCES runs(run_id) ON DELETE CASCADE,
  source TEXT NOT NULL,
  target TEXT NOT NULL,
  kind TEXT NOT NULL,
  PRIMARY KEY (run_id, source, target, kind)
);
CREATE TABLE IF NOT EXISTS snippets (
  run_id TEXT NOT NULL REFERENCES runs(run_id) ON DELETE CASCADE,
  id TEXT NOT NULL,
  text TEXT NOT NULL,
  PRIMARY KEY (run_id, id)
);
CREATE TABLE IF NOT EXISTS diagnostics (
  run_id TEXT NOT NULL REFERENCES runs(run_id) ON DELETE CASCADE,
  path TEXT NOT NULL,
  error TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_edges_target ON edges (run_id, target);
`

// Snapshot is one analysis run in storable form.
type Snapshot struct {
	RunID       string
	Root        string
	CreatedAt   time.Time
	Graph       *graph.Graph
	Snippets    snippet.Map
	Diagnostics []Diagnostic
}

// Diagnostic is a skipped file and its error text.
type Diagnostic struct {
	Path  string
	Error string
}

// RunInfo summarizes a stored run.
type RunInfo struct {
	RunID     string
	Root      string
	CreatedAt time.Time
	Nodes     int
	Edges     int
}

// Store wraps a SQLite database.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and applies the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save writes a snapshot in a single transaction. Saving an existing run id
// replaces it.
func (s *Store) Save(ctx context.Context, snap *Snapshot) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM runs WHERE run_id = ?`, snap.RunID); err != nil {
		return fmt.Errorf("clearing run: %w", err)
	}
	created := snap.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	if _, err = tx.ExecContext(ctx, `INSERT INTO runs (run_id, root, created_at) VALUES (?, ?, ?)`,
		snap.RunID, snap.Root, created.UTC()); err != nil {
		return fmt.Errorf("inserting run: %w", err)
	}

	if err = insertAll(ctx, tx, `INSERT INTO nodes (run_id, id, kind, color, unreferenced) VALUES (?, ?, ?, ?, ?)`,
		snap.Graph.Nodes(), func(n graph.Node) []any {
			return []any{snap.RunID, n.ID, n.Kind.String(), n.Color(), n.Unreferenced}
		}); err != nil {
		return fmt.Errorf("inserting nodes: %w", err)
	}
	if err = insertAll(ctx, tx, `INSERT INTO edges (run_id, source, target, kind) VALUES (?, ?, ?, ?)`,
		snap.Graph.Edges(), func(e graph.Edge) []any {
			return []any{snap.RunID, e.Source, e.Target, e.Kind.String()}
		}); err != nil {
		return fmt.Errorf("inserting edges: %w", err)
	}
	if err = insertAll(ctx, tx, `INSERT INTO snippets (run_id, id, text) VALUES (?, ?, ?)`,
		snap.Snippets.IDs(), func(id string) []any {
			return []any{snap.RunID, id, snap.Snippets[id]}
		}); err != nil {
		return fmt.Errorf("inserting snippets: %w", err)
	}
	if err = insertAll(ctx, tx, `INSERT INTO diagnostics (run_id, path, error) VALUES (?, ?, ?)`,
		snap.Diagnostics, func(d Diagnostic) []any {
			return []any{snap.RunID, d.Path, d.Error}
		}); err != nil {
		return fmt.Errorf("inserting diagnostics: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func insertAll[T any](ctx context.Context, tx *sql.Tx, query string, rows []T, args func(T) []any) error {
	if len(rows) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, r := range rows {
		if _, err := stmt.ExecContext(ctx, args(r)...); err != nil {
			return err
		}
	}
	return nil
}

// Load reads a run back and reassembles its graph.
func (s *Store) Load(ctx context.Context, runID string) (*Snapshot, error) {
	snap := &Snapshot{RunID: runID, Snippets: snippet.Map{}}
	err := s.db.QueryRowContext(ctx, `SELECT root, created_at FROM runs WHERE run_id = ?`, runID).
		Scan(&snap.Root, &snap.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%q: %w", runID, ErrRunNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("loading run: %w", err)
	}

	var nodes []graph.Node
	err = queryEach(ctx, s.db, `SELECT id, kind, unreferenced FROM nodes WHERE run_id = ? ORDER BY id`, runID,
		func(rows *sql.Rows) error {
			var n graph.Node
			var kind string
			if err := rows.Scan(&n.ID, &kind, &n.Unreferenced); err != nil {
				return err
			}
			k, err := graph.ParseKind(kind)
			if err != nil {
				return err
			}
			n.Kind = k
			nodes = append(nodes, n)
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("loading nodes: %w", err)
	}

	var edges []graph.Edge
	err = queryEach(ctx, s.db, `SELECT source, target, kind FROM edges WHERE run_id = ? ORDER BY source, target, kind`, runID,
		func(rows *sql.Rows) error {
			var e graph.Edge
			var kind string
			if err := rows.Scan(&e.Source, &e.Target, &kind); err != nil {
				return err
			}
			switch kind {
			case graph.Containment.String():
				e.Kind = graph.Containment
			case graph.Reference.String():
				e.Kind = graph.Reference
			default:
				return fmt.Errorf("unknown edge kind %q", kind)
			}
			edges = append(edges, e)
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("loading edges: %w", err)
	}

	err = queryEach(ctx, s.db, `SELECT id, text FROM snippets WHERE run_id = ?`, runID,
		func(rows *sql.Rows) error {
			var id, text string
			if err := rows.Scan(&id, &text); err != nil {
				return err
			}
			snap.Snippets[id] = text
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("loading snippets: %w", err)
	}

	err = queryEach(ctx, s.db, `SELECT path, error FROM diagnostics WHERE run_id = ? ORDER BY path`, runID,
		func(rows *sql.Rows) error {
			var d Diagnostic
			if err := rows.Scan(&d.Path, &d.Error); err != nil {
				return err
			}
			snap.Diagnostics = append(snap.Diagnostics, d)
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("loading diagnostics: %w", err)
	}

	snap.Graph, err = graph.Assemble(nodes, edges)
	if err != nil {
		return nil, fmt.Errorf("reassembling graph: %w", err)
	}
	return snap, nil
}

// Runs lists stored runs, newest first.
func (s *Store) Runs(ctx context.Context) ([]RunInfo, error) {
	var runs []RunInfo
	err := queryEach(ctx, s.db, `
SELECT r.run_id, r.root, r.created_at,
  (SELECT COUNT(*) FROM nodes n WHERE n.run_id = r.run_id),
  (SELECT COUNT(*) FROM edges e WHERE e.run_id = r.run_id)
FROM runs r ORDER BY r.created_at DESC, r.run_id`, nil,
		func(rows *sql.Rows) error {
			var ri RunInfo
			if err := rows.Scan(&ri.RunID, &ri.Root, &ri.CreatedAt, &ri.Nodes, &ri.Edges); err != nil {
				return err
			}
			runs = append(runs, ri)
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	return runs, nil
}

// Importers returns the files holding a reference edge to the module id.
func (s *Store) Importers(ctx context.Context, runID, module string) ([]string, error) {
	var files []string
	err := s.queryStrings(ctx, &files,
		`SELECT source FROM edges WHERE run_id = ? AND target = ? AND kind = ? ORDER BY source`,
		runID, module, graph.Reference.String())
	if err != nil {
		return nil, fmt.Errorf("querying importers: %w", err)
	}
	return files, nil
}

func (s *Store) queryStrings(ctx context.Context, out *[]string, query string, args ...any) error {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return err
		}
		*out = append(*out, v)
	}
	return rows.Err()
}

// queryEach runs query with the optional single argument and calls fn per row.
func queryEach(ctx context.Context, db *sql.DB, query string, arg any, fn func(*sql.Rows) error) error {
	var args []any
	if arg != nil {
		args = append(args, arg)
	}
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		if err := fn(rows); err != nil {
			return err
		}
	}
	return rows.Err()
}
