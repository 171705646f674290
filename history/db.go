package history

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

const schemaCore = `
CREATE TABLE IF NOT EXISTS conversations (
    id TEXT PRIMARY KEY,
    title TEXT,
    server TEXT,
    created_at INTEGER,
    updated_at INTEGER
);

CREATE TABLE IF NOT EXISTS turns (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    uuid TEXT UNIQUE,
    conversation_id TEXT,
    prompt TEXT,
    final TEXT,
    council TEXT,
    chairman TEXT,
    payload TEXT,
    created_at INTEGER,
    FOREIGN KEY(conversation_id) REFERENCES conversations(id)
);

CREATE INDEX IF NOT EXISTS turns_conversation ON turns(conversation_id, id);
`

// turns_fts is keyed by the turns rowid so hits can be joined back.
const schemaFTS = `
CREATE VIRTUAL TABLE IF NOT EXISTS turns_fts USING fts5(
    prompt,
    final,
    council,
    conversation_id UNINDEXED,
    tokenize = 'porter unicode61'
);

CREATE TRIGGER IF NOT EXISTS turns_ai AFTER INSERT ON turns BEGIN
  INSERT INTO turns_fts(rowid, prompt, final, council, conversation_id)
  VALUES (new.id, new.prompt, new.final, new.council, new.conversation_id);
END;

CREATE TRIGGER IF NOT EXISTS turns_ad AFTER DELETE ON turns BEGIN
  DELETE FROM turns_fts WHERE rowid = old.id;
END;
`

func initDB(dbPath string) (*sql.DB, bool, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, false, fmt.Errorf("failed to create history dir: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, false, err
	}

	if _, err := db.Exec(schemaCore); err != nil {
		db.Close()
		return nil, false, fmt.Errorf("failed to init core schema: %w", err)
	}

	// Without FTS5 the archive still records turns; only search is disabled.
	ftsEnabled := true
	if _, err := db.Exec(schemaFTS); err != nil {
		ftsEnabled = false
	}

	return db, ftsEnabled, nil
}

// CheckFTS verifies if the FTS5 extension is loaded and working
func CheckFTS() bool {
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		return false
	}
	defer db.Close()

	_, err = db.Exec("CREATE VIRTUAL TABLE test USING fts5(content)")
	return err == nil
}
