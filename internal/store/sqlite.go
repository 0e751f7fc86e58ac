package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps the SQLite connection with initialization logic.
type DB struct {
	*sql.DB
	fts bool
}

// Open creates or opens the SQLite database at the given path, runs schema
// initialization, and configures WAL mode for concurrent reads.
//
// The FTS5 lexical index is created once and reused on later opens. A SQLite
// build without the fts5 module (go-sqlite3 needs the sqlite_fts5 build tag)
// leaves lexical search disabled; any other index creation failure is fatal.
func Open(dbPath string, logger *slog.Logger) (*DB, error) {
	if logger == nil {
		logger = slog.Default()
	}

	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite handles one writer at a time

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	fts, err := initFTS(db)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init fts: %w", err)
	}
	if !fts {
		logger.Warn("sqlite built without fts5, lexical search disabled", "path", dbPath)
	}

	return &DB{DB: db, fts: fts}, nil
}

// HasFTS reports whether the lexical index is available.
func (db *DB) HasFTS() bool {
	return db.fts
}

func initSchema(db *sql.DB) error {
	schema := `
CREATE TABLE IF NOT EXISTS memories (
  id TEXT PRIMARY KEY,
  text TEXT NOT NULL,
  vector BLOB NOT NULL,
  category TEXT NOT NULL DEFAULT 'other',
  scope TEXT NOT NULL DEFAULT 'global',
  importance REAL NOT NULL DEFAULT 0.7,
  timestamp INTEGER NOT NULL,
  metadata TEXT NOT NULL DEFAULT '{}'
);

CREATE INDEX IF NOT EXISTS idx_memories_scope ON memories(scope);
CREATE INDEX IF NOT EXISTS idx_memories_category ON memories(category);
CREATE INDEX IF NOT EXISTS idx_memories_timestamp ON memories(timestamp);

CREATE TABLE IF NOT EXISTS embedding_cache (
  cache_key TEXT NOT NULL,
  model TEXT NOT NULL,
  embedding BLOB NOT NULL,
  dimension INTEGER NOT NULL,
  updated_at INTEGER NOT NULL,
  PRIMARY KEY (cache_key, model)
);
`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("create tables: %w", err)
	}
	return nil
}

// initFTS creates the external-content FTS5 index and its sync triggers.
// It returns false without error when the fts5 module is not compiled in.
func initFTS(db *sql.DB) (bool, error) {
	exists, err := tableExists(db, "memories_fts")
	if err != nil {
		return false, fmt.Errorf("check fts table: %w", err)
	}

	if !exists {
		fts := `
CREATE VIRTUAL TABLE memories_fts USING fts5(
  text,
  content='memories', content_rowid='rowid'
);
`
		if _, err := db.Exec(fts); err != nil {
			if strings.Contains(err.Error(), "no such module") {
				return false, nil
			}
			return false, fmt.Errorf("create fts table: %w", err)
		}

		// Rows written before the index existed.
		if _, err := db.Exec(`INSERT INTO memories_fts(memories_fts) VALUES ('rebuild')`); err != nil {
			return false, fmt.Errorf("rebuild fts index: %w", err)
		}
	}

	triggers := []string{
		`CREATE TRIGGER IF NOT EXISTS memories_ai AFTER INSERT ON memories BEGIN
  INSERT INTO memories_fts(rowid, text) VALUES (NEW.rowid, NEW.text);
END;`,
		`CREATE TRIGGER IF NOT EXISTS memories_ad AFTER DELETE ON memories BEGIN
  INSERT INTO memories_fts(memories_fts, rowid, text) VALUES ('delete', OLD.rowid, OLD.text);
END;`,
		`CREATE TRIGGER IF NOT EXISTS memories_au AFTER UPDATE ON memories BEGIN
  INSERT INTO memories_fts(memories_fts, rowid, text) VALUES ('delete', OLD.rowid, OLD.text);
  INSERT INTO memories_fts(rowid, text) VALUES (NEW.rowid, NEW.text);
END;`,
	}

	for _, t := range triggers {
		if _, err := db.Exec(t); err != nil {
			return false, fmt.Errorf("create trigger: %w", err)
		}
	}

	return true, nil
}

// MemoryCount returns the total number of memories in the database.
func (db *DB) MemoryCount(ctx context.Context) (int, error) {
	var count int
	err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM memories").Scan(&count)
	return count, err
}

// tableExists checks sqlite_master for a table. It properly closes the
// rows cursor before returning, avoiding deadlocks with MaxOpenConns(1).
func tableExists(db *sql.DB, table string) (bool, error) {
	rows, err := db.Query(`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, table)
	if err != nil {
		return false, err
	}
	found := rows.Next()
	rows.Close()
	if err := rows.Err(); err != nil {
		return false, err
	}
	return found, nil
}
