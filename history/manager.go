package history

import (
	"bufio"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kir-gadjello/llm-council/council"
)

// ErrSearchUnavailable is returned by Search when sqlite was built without FTS5.
var ErrSearchUnavailable = errors.New("search is unavailable (binary compiled without FTS5 support)")

const (
	highlightOn  = "\x1b[1;31m"
	highlightOff = "\x1b[0m"
)

// Manager handles dual-write history (JSONL + SQLite)
type Manager struct {
	db          *sql.DB
	jsonlPath   string
	searchAvail bool
	logger      *zap.Logger
	mu          sync.Mutex
	migrated    bool
}

// New opens the archive. The JSONL log is the source of truth; an empty
// database is rebuilt from it on first read.
func New(dbPath, jsonlPath string, logger *zap.Logger) (*Manager, error) {
	db, ftsEnabled, err := initDB(dbPath)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if !ftsEnabled {
		logger.Debug("sqlite built without fts5, history search disabled")
	}

	return &Manager{
		db:          db,
		jsonlPath:   jsonlPath,
		searchAvail: ftsEnabled,
		logger:      logger,
	}, nil
}

func (m *Manager) Close() error {
	if m.db != nil {
		return m.db.Close()
	}
	return nil
}

// SearchAvailable reports whether FTS5 is usable.
func (m *Manager) SearchAvailable() bool { return m.searchAvail }

// EnsureMigrated imports the JSONL log if the database holds no turns yet.
func (m *Manager) EnsureMigrated() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.migrated {
		return nil
	}

	var count int
	if err := m.db.QueryRow("SELECT count(*) FROM turns").Scan(&count); err != nil {
		return err
	}
	if count == 0 {
		if err := m.migrate(); err != nil {
			return err
		}
	}
	m.migrated = true
	return nil
}

func (m *Manager) migrate() error {
	f, err := os.Open(m.jsonlPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 16*1024*1024)

	tx, err := m.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	imported, skipped := 0, 0
	for scanner.Scan() {
		line := scanner.Bytes()
		var probe struct {
			Forget bool   `json:"forget"`
			Prompt string `json:"prompt"`
		}
		if err := json.Unmarshal(line, &probe); err != nil {
			skipped++
			continue
		}

		if probe.Forget {
			var ev ForgetEvent
			if err := json.Unmarshal(line, &ev); err == nil {
				if err := forget(tx, ev.ConversationID); err != nil {
					return err
				}
			}
			continue
		}

		var ev TurnEvent
		if err := json.Unmarshal(line, &ev); err != nil || ev.ConversationID == "" {
			skipped++
			continue
		}
		if err := insertTurn(tx, ev); err != nil {
			return err
		}
		imported++
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read %s: %w", m.jsonlPath, err)
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	m.logger.Debug("imported history log",
		zap.String("path", m.jsonlPath),
		zap.Int("turns", imported),
		zap.Int("skipped", skipped))
	return nil
}

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	Exec(query string, args ...interface{}) (sql.Result, error)
}

func insertTurn(x execer, ev TurnEvent) error {
	_, err := x.Exec(`
		INSERT INTO conversations(id, title, server, created_at, updated_at) VALUES(?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = CASE WHEN excluded.title != '' THEN excluded.title ELSE conversations.title END,
			updated_at = excluded.updated_at`,
		ev.ConversationID, ev.Title, ev.Server, ev.TS, ev.TS)
	if err != nil {
		return err
	}

	payload, err := json.Marshal(ev.Turn)
	if err != nil {
		return err
	}
	chairman := ""
	if ev.Turn != nil && ev.Turn.Stage3 != nil {
		chairman = ev.Turn.Stage3.Model
	}
	_, err = x.Exec(`INSERT OR IGNORE INTO turns(uuid, conversation_id, prompt, final, council, chairman, payload, created_at)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.ConversationID, ev.Prompt, ev.Turn.Final(), councilText(ev.Turn), chairman, string(payload), ev.TS)
	return err
}

func forget(x execer, conversationID string) error {
	if _, err := x.Exec("DELETE FROM turns WHERE conversation_id = ?", conversationID); err != nil {
		return err
	}
	_, err := x.Exec("DELETE FROM conversations WHERE id = ?", conversationID)
	return err
}

// councilText flattens the stage 1 answers and stage 2 reviews for indexing.
func councilText(t *council.Turn) string {
	if t == nil {
		return ""
	}
	var sb strings.Builder
	for _, r := range t.Stage1 {
		sb.WriteString(r.Response)
		sb.WriteString("\n\n")
	}
	for _, r := range t.Stage2 {
		sb.WriteString(r.Evaluation)
		sb.WriteString("\n\n")
	}
	return strings.TrimSpace(sb.String())
}

// === Write Methods ===

// SaveTurn archives one settled turn.
func (m *Manager) SaveTurn(ev TurnEvent) error {
	if ev.ConversationID == "" {
		return errors.New("turn has no conversation id")
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.TS == 0 {
		ev.TS = time.Now().Unix()
	}
	if err := m.EnsureMigrated(); err != nil {
		return err
	}

	if err := m.appendJSONL(ev); err != nil {
		return err
	}
	return insertTurn(m.db, ev)
}

// Forget removes a conversation from the archive.
func (m *Manager) Forget(conversationID string) error {
	if err := m.EnsureMigrated(); err != nil {
		return err
	}
	if err := m.appendJSONL(ForgetEvent{Forget: true, ConversationID: conversationID, TS: time.Now().Unix()}); err != nil {
		return err
	}
	return forget(m.db, conversationID)
}

func (m *Manager) appendJSONL(data interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	f, err := os.OpenFile(m.jsonlPath, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()

	line, err := json.Marshal(data)
	if err != nil {
		return err
	}

	_, err = f.Write(append(line, '\n'))
	return err
}

// === Read Methods ===

func (m *Manager) Search(query string, limit int) ([]SearchResult, error) {
	if !m.searchAvail {
		return nil, ErrSearchUnavailable
	}
	if err := m.EnsureMigrated(); err != nil {
		return nil, err
	}

	ftsQuery := ParseQuery(query)
	if ftsQuery == "" {
		return nil, fmt.Errorf("empty query")
	}
	if limit <= 0 {
		limit = 50
	}

	rows, err := m.db.Query(`
		SELECT t.conversation_id, COALESCE(c.title, ''), t.created_at, t.prompt, hits.preview
		FROM (
			SELECT rowid AS id, snippet(turns_fts, -1, ?, ?, '…', 24) AS preview, rank AS score
			FROM turns_fts
			WHERE turns_fts MATCH ?
			ORDER BY rank
			LIMIT ?
		) hits
		JOIN turns t ON t.id = hits.id
		LEFT JOIN conversations c ON c.id = t.conversation_id
		ORDER BY hits.score`, highlightOn, highlightOff, ftsQuery, limit)
	if err != nil {
		return nil, fmt.Errorf("search %q: %w", ftsQuery, err)
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var r SearchResult
		var ts int64
		if err := rows.Scan(&r.ConversationID, &r.Title, &ts, &r.Prompt, &r.Preview); err != nil {
			return nil, err
		}
		r.Timestamp = time.Unix(ts, 0)
		results = append(results, r)
	}
	return results, rows.Err()
}

// ResolveConversationID finds the full id given a prefix or full string
func (m *Manager) ResolveConversationID(partial string) (string, error) {
	if err := m.EnsureMigrated(); err != nil {
		return "", err
	}

	var full string
	err := m.db.QueryRow("SELECT id FROM conversations WHERE id = ?", partial).Scan(&full)
	if err == nil {
		return full, nil
	}

	rows, err := m.db.Query("SELECT id FROM conversations WHERE id LIKE ? LIMIT 2", partial+"%")
	if err != nil {
		return "", err
	}
	defer rows.Close()

	var matches []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err == nil {
			matches = append(matches, id)
		}
	}

	if len(matches) == 0 {
		return "", &council.NotFoundError{Resource: "archived conversation", ID: partial}
	}
	if len(matches) > 1 {
		return "", fmt.Errorf("ambiguous conversation id: %s...", partial)
	}
	return matches[0], nil
}

// Turns returns the archived turns of a conversation, oldest first.
func (m *Manager) Turns(conversationID string) ([]TurnEvent, error) {
	if err := m.EnsureMigrated(); err != nil {
		return nil, err
	}

	rows, err := m.db.Query(`SELECT t.uuid, COALESCE(c.title, ''), COALESCE(c.server, ''), t.created_at, t.prompt, t.payload
		FROM turns t LEFT JOIN conversations c ON c.id = t.conversation_id
		WHERE t.conversation_id = ? ORDER BY t.id ASC`, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var turns []TurnEvent
	for rows.Next() {
		ev := TurnEvent{ConversationID: conversationID}
		var payload string
		if err := rows.Scan(&ev.ID, &ev.Title, &ev.Server, &ev.TS, &ev.Prompt, &payload); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(payload), &ev.Turn); err != nil {
			m.logger.Warn("skipping unreadable archived turn", zap.String("uuid", ev.ID), zap.Error(err))
			continue
		}
		turns = append(turns, ev)
	}
	return turns, rows.Err()
}

func (m *Manager) ListRecent(limit int) ([]ConversationSummary, error) {
	if err := m.EnsureMigrated(); err != nil {
		return nil, err
	}

	rows, err := m.db.Query(`SELECT c.id, COALESCE(c.title, ''), COALESCE(c.server, ''), c.updated_at, count(t.id)
		FROM conversations c LEFT JOIN turns t ON t.conversation_id = c.id
		GROUP BY c.id ORDER BY c.updated_at DESC, c.id LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ConversationSummary
	for rows.Next() {
		var s ConversationSummary
		var ts int64
		if err := rows.Scan(&s.ID, &s.Title, &s.Server, &ts, &s.Turns); err != nil {
			return nil, err
		}
		s.UpdatedAt = time.Unix(ts, 0)
		out = append(out, s)
	}
	return out, rows.Err()
}
