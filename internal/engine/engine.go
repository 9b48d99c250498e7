// Package engine wraps the embedded SQLite engine used for per-namespace
// databases.
//
// The engine runs entirely in-memory: a namespace's database is opened from a
// byte snapshot loaded out of the durable blob store, mutated locally, and
// exported back to bytes after every write. The WASM build of SQLite
// (ncruces/go-sqlite3) is used so the engine works without cgo; loading that
// runtime is the one genuinely slow startup step, which is why Warmup exists
// as an explicit call rather than an implicit side effect of Open.
package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/ncruces/go-sqlite3"
	_ "github.com/ncruces/go-sqlite3/embed"
	"github.com/ncruces/go-sqlite3/ext/serdes"
	"github.com/tetratelabs/wazero"
)

var (
	warmupOnce sync.Once
	warmupErr  error
)

// UseCompilationCache points the WASM runtime at an on-disk compilation
// cache so repeated process starts skip recompiling the SQLite module.
//
// A missing or unusable cache directory is not fatal: the runtime falls back
// to compiling from scratch, and the returned error exists only so callers
// can log the slow path.
//
// Must be called before Warmup or the first Open.
func UseCompilationCache(dir string) error {
	cache, err := wazero.NewCompilationCacheWithDir(dir)
	if err != nil {
		return fmt.Errorf("compilation cache unavailable at %s: %w", dir, err)
	}
	sqlite3.RuntimeConfig = wazero.NewRuntimeConfig().WithCompilationCache(cache)
	return nil
}

// Warmup loads and compiles the SQLite WASM runtime.
//
// The first call is slow (module compile, or a cache read when
// UseCompilationCache was configured); subsequent calls are free. A failure
// here is irrecoverable for the process and is returned as-is to every
// caller.
func Warmup(ctx context.Context) error {
	warmupOnce.Do(func() {
		conn, err := sqlite3.Open(":memory:")
		if err != nil {
			warmupErr = fmt.Errorf("failed to load sqlite runtime: %w", err)
			return
		}
		warmupErr = conn.Close()
	})
	if warmupErr != nil {
		return warmupErr
	}
	return ctx.Err()
}

// Engine is a single open in-memory database instance.
//
// It exposes the minimal capability surface the rest of the system is
// allowed to assume: run a statement, run a query, export the whole
// database to bytes, close. Engines are not safe for concurrent use; the
// lifecycle manager serializes access.
type Engine struct {
	conn *sqlite3.Conn
}

// Open creates an in-memory database instance.
//
// If snapshot is non-nil it must be a byte image previously produced by
// Export; the new instance starts with that content. A nil snapshot yields
// an empty database.
func Open(ctx context.Context, snapshot []byte) (*Engine, error) {
	if err := Warmup(ctx); err != nil {
		return nil, err
	}

	conn, err := sqlite3.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if len(snapshot) > 0 {
		if err := serdes.Deserialize(conn, "main", snapshot); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("failed to restore database snapshot: %w", err)
		}
	}

	return &Engine{conn: conn}, nil
}

// Run executes a statement that returns no rows.
func (e *Engine) Run(query string, args ...any) error {
	stmt, _, err := e.conn.Prepare(query)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	if err := bindArgs(stmt, args); err != nil {
		return err
	}

	for stmt.Step() {
	}
	if err := stmt.Err(); err != nil {
		return fmt.Errorf("statement failed: %w", err)
	}
	return nil
}

// Exec executes a script of semicolon-separated statements with no
// parameters. Used for idempotent schema DDL.
func (e *Engine) Exec(script string) error {
	if err := e.conn.Exec(script); err != nil {
		return fmt.Errorf("script failed: %w", err)
	}
	return nil
}

// Row is a single result row, keyed by column name.
//
// Values are the engine's native types: int64, float64, string, []byte, or
// nil.
type Row map[string]any

// Query executes a query and returns all result rows.
func (e *Engine) Query(query string, args ...any) ([]Row, error) {
	stmt, _, err := e.conn.Prepare(query)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare query: %w", err)
	}
	defer stmt.Close()

	if err := bindArgs(stmt, args); err != nil {
		return nil, err
	}

	cols := stmt.ColumnCount()
	names := make([]string, cols)
	for i := 0; i < cols; i++ {
		names[i] = stmt.ColumnName(i)
	}

	var rows []Row
	for stmt.Step() {
		row := make(Row, cols)
		for i := 0; i < cols; i++ {
			switch stmt.ColumnType(i) {
			case sqlite3.INTEGER:
				row[names[i]] = stmt.ColumnInt64(i)
			case sqlite3.FLOAT:
				row[names[i]] = stmt.ColumnFloat(i)
			case sqlite3.TEXT:
				row[names[i]] = stmt.ColumnText(i)
			case sqlite3.BLOB:
				row[names[i]] = stmt.ColumnBlob(i, nil)
			default:
				row[names[i]] = nil
			}
		}
		rows = append(rows, row)
	}
	if err := stmt.Err(); err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	return rows, nil
}

// Export serializes the whole database to a byte snapshot suitable for the
// durable blob store and a later Open.
func (e *Engine) Export() ([]byte, error) {
	data, err := serdes.Serialize(e.conn, "main")
	if err != nil {
		return nil, fmt.Errorf("failed to serialize database: %w", err)
	}
	return data, nil
}

// Close releases the database instance. Safe to call more than once.
func (e *Engine) Close() error {
	if e.conn == nil {
		return nil
	}
	err := e.conn.Close()
	e.conn = nil
	if err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

// bindArgs binds positional arguments. Parameters are 1-indexed.
func bindArgs(stmt *sqlite3.Stmt, args []any) error {
	for i, arg := range args {
		var err error
		switch v := arg.(type) {
		case nil:
			err = stmt.BindNull(i + 1)
		case string:
			err = stmt.BindText(i+1, v)
		case int:
			err = stmt.BindInt64(i+1, int64(v))
		case int64:
			err = stmt.BindInt64(i+1, v)
		case float64:
			err = stmt.BindFloat(i+1, v)
		case bool:
			err = stmt.BindBool(i+1, v)
		case []byte:
			err = stmt.BindBlob(i+1, v)
		default:
			return fmt.Errorf("unsupported bind type %T at parameter %d", arg, i+1)
		}
		if err != nil {
			return fmt.Errorf("failed to bind parameter %d: %w", i+1, err)
		}
	}
	return nil
}
