// Storage module - SQLite conversation and tool-result persistence

package storage

import (
	"database/sql"
	"fmt"
	"log"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// addColumnSafe adds a column to a table if it doesn't exist
// Returns true if column was added, false if it already exists or error
func addColumnSafe(db *sql.DB, table, column, definition string) bool {
	var count int
	err := db.QueryRow(fmt.Sprintf("SELECT COUNT(*) FROM pragma_table_info('%s') WHERE name = ?", table), column).Scan(&count)
	if err == nil && count > 0 {
		return false // column already exists
	}

	_, err = db.Exec(fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, definition))
	if err != nil {
		log.Printf("[WARN] Migration: add column %s.%s failed: %v (may be OK if already exists)", table, column, err)
		return false
	}
	return true
}

type Storage struct {
	db *sql.DB

	// Prepared statements for hot paths
	stmtAddMessage    *sql.Stmt
	stmtGetMessages   *sql.Stmt
	stmtClearMessages *sql.Stmt
	stmtAddToolResult *sql.Stmt
	stmtGetConfig     *sql.Stmt
	stmtSetConfig     *sql.Stmt
}

type Message struct {
	ID         int64     `json:"id"`
	SessionKey string    `json:"session_key"`
	Role       string    `json:"role"` // user, assistant, system, tool
	Content    string    `json:"content"`
	ToolCallID string    `json:"tool_call_id,omitempty"`
	ToolCalls  string    `json:"tool_calls,omitempty"` // JSON call list on assistant messages
	CreatedAt  time.Time `json:"created_at"`
}

// ToolResultRecord is one persisted tool execution outcome, correlated to
// its request by CallID.
type ToolResultRecord struct {
	ID         int64     `json:"id"`
	SessionKey string    `json:"session_key"`
	CallID     string    `json:"call_id"`
	Tool       string    `json:"tool"`
	Output     string    `json:"output"`
	Error      string    `json:"error,omitempty"`
	DurationMs int64     `json:"duration_ms"`
	CreatedAt  time.Time `json:"created_at"`
}

type Config struct {
	Section   string    `json:"section"`
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Options holds storage construction parameters.
type Options struct {
	DBPath       string
	WalMode      bool
	MaxOpenConns int
}

func DefaultOptions(dbPath string) Options {
	return Options{
		DBPath:       dbPath,
		WalMode:      true,
		MaxOpenConns: 4,
	}
}

func New(dbPath string) (*Storage, error) {
	return NewWithOptions(DefaultOptions(dbPath))
}

// NewWithOptions creates storage with injected configuration
func NewWithOptions(opt Options) (*Storage, error) {
	if opt.DBPath == "" {
		return nil, fmt.Errorf("db path required")
	}
	db, err := sql.Open("sqlite3", opt.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %v", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database connection failed: %v", err)
	}

	s := &Storage{db: db}

	if opt.WalMode {
		if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
			return nil, fmt.Errorf("failed to set WAL: %v", err)
		}
	}
	if _, err := db.Exec("PRAGMA synchronous=NORMAL;"); err != nil {
		return nil, fmt.Errorf("failed to set synchronous: %v", err)
	}
	if opt.MaxOpenConns > 0 {
		db.SetMaxOpenConns(opt.MaxOpenConns)
	}

	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %v", err)
	}
	if err := s.initPreparedStmts(); err != nil {
		log.Printf("[WARN] Failed to prepare statements: %v (continuing without prepared statements)", err)
	}

	log.Printf("[OK] Storage: database %s", opt.DBPath)
	return s, nil
}

func (s *Storage) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_key TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(`
		CREATE TABLE IF NOT EXISTS tool_results (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_key TEXT NOT NULL,
			call_id TEXT NOT NULL,
			tool TEXT NOT NULL,
			output TEXT,
			error TEXT,
			duration_ms INTEGER DEFAULT 0,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(`
		CREATE TABLE IF NOT EXISTS config (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			section TEXT NOT NULL,
			key TEXT NOT NULL,
			value TEXT,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(section, key)
		)
	`)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_key, created_at)`)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_tool_results_call ON tool_results(call_id)`)
	if err != nil {
		return err
	}

	// Migrations: tool_call_id and tool_calls on messages came after the
	// initial schema
	addColumnSafe(s.db, "messages", "tool_call_id", "TEXT DEFAULT ''")
	addColumnSafe(s.db, "messages", "tool_calls", "TEXT DEFAULT ''")

	return nil
}

func (s *Storage) initPreparedStmts() error {
	var err error

	if s.stmtAddMessage, err = s.db.Prepare("INSERT INTO messages (session_key, role, content, tool_call_id, tool_calls) VALUES (?, ?, ?, ?, ?)"); err != nil {
		return fmt.Errorf("AddMessage: %v", err)
	}
	if s.stmtGetMessages, err = s.db.Prepare("SELECT id, session_key, role, content, tool_call_id, tool_calls, created_at FROM messages WHERE session_key = ? ORDER BY id ASC LIMIT ?"); err != nil {
		return fmt.Errorf("GetMessages: %v", err)
	}
	if s.stmtClearMessages, err = s.db.Prepare("DELETE FROM messages WHERE session_key = ?"); err != nil {
		return fmt.Errorf("ClearMessages: %v", err)
	}
	if s.stmtAddToolResult, err = s.db.Prepare("INSERT INTO tool_results (session_key, call_id, tool, output, error, duration_ms) VALUES (?, ?, ?, ?, ?, ?)"); err != nil {
		return fmt.Errorf("AddToolResult: %v", err)
	}
	if s.stmtGetConfig, err = s.db.Prepare("SELECT value FROM config WHERE section = ? AND key = ?"); err != nil {
		return fmt.Errorf("GetConfig: %v", err)
	}
	if s.stmtSetConfig, err = s.db.Prepare("INSERT INTO config (section, key, value) VALUES (?, ?, ?) ON CONFLICT(section, key) DO UPDATE SET value=excluded.value, updated_at=CURRENT_TIMESTAMP"); err != nil {
		return fmt.Errorf("SetConfig: %v", err)
	}

	return nil
}

// AddMessage appends a message to a session
func (s *Storage) AddMessage(sessionKey, role, content string) (int64, error) {
	return s.insertMessage(sessionKey, role, content, "", "")
}

// AddToolMessage appends a message carrying a tool call correlation id
func (s *Storage) AddToolMessage(sessionKey, role, content, toolCallID string) (int64, error) {
	return s.insertMessage(sessionKey, role, content, toolCallID, "")
}

// AddAssistantToolCalls appends the assistant message that requested tool
// calls, with the call list serialized as JSON. Replayed history needs this
// record: providers reject tool responses with no requesting message.
func (s *Storage) AddAssistantToolCalls(sessionKey, content, toolCallsJSON string) (int64, error) {
	return s.insertMessage(sessionKey, "assistant", content, "", toolCallsJSON)
}

func (s *Storage) insertMessage(sessionKey, role, content, toolCallID, toolCalls string) (int64, error) {
	var res sql.Result
	var err error
	if s.stmtAddMessage != nil {
		res, err = s.stmtAddMessage.Exec(sessionKey, role, content, toolCallID, toolCalls)
	} else {
		res, err = s.db.Exec("INSERT INTO messages (session_key, role, content, tool_call_id, tool_calls) VALUES (?, ?, ?, ?, ?)", sessionKey, role, content, toolCallID, toolCalls)
	}
	if err != nil {
		return 0, fmt.Errorf("add message failed: %v", err)
	}
	return res.LastInsertId()
}

// GetMessages returns up to limit messages for a session, oldest first
func (s *Storage) GetMessages(sessionKey string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 200
	}
	var rows *sql.Rows
	var err error
	if s.stmtGetMessages != nil {
		rows, err = s.stmtGetMessages.Query(sessionKey, limit)
	} else {
		rows, err = s.db.Query("SELECT id, session_key, role, content, tool_call_id, tool_calls, created_at FROM messages WHERE session_key = ? ORDER BY id ASC LIMIT ?", sessionKey, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("get messages failed: %v", err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.SessionKey, &m.Role, &m.Content, &m.ToolCallID, &m.ToolCalls, &m.CreatedAt); err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// ClearMessages removes all messages for a session
func (s *Storage) ClearMessages(sessionKey string) error {
	var err error
	if s.stmtClearMessages != nil {
		_, err = s.stmtClearMessages.Exec(sessionKey)
	} else {
		_, err = s.db.Exec("DELETE FROM messages WHERE session_key = ?", sessionKey)
	}
	return err
}

// DeleteMessagesBefore removes messages with id <= beforeID (compaction)
func (s *Storage) DeleteMessagesBefore(sessionKey string, beforeID int64) error {
	_, err := s.db.Exec("DELETE FROM messages WHERE session_key = ? AND id <= ?", sessionKey, beforeID)
	return err
}

// AddToolResult persists one tool execution outcome
func (s *Storage) AddToolResult(r ToolResultRecord) error {
	var err error
	if s.stmtAddToolResult != nil {
		_, err = s.stmtAddToolResult.Exec(r.SessionKey, r.CallID, r.Tool, r.Output, r.Error, r.DurationMs)
	} else {
		_, err = s.db.Exec("INSERT INTO tool_results (session_key, call_id, tool, output, error, duration_ms) VALUES (?, ?, ?, ?, ?, ?)",
			r.SessionKey, r.CallID, r.Tool, r.Output, r.Error, r.DurationMs)
	}
	if err != nil {
		return fmt.Errorf("add tool result failed: %v", err)
	}
	return nil
}

// GetToolResult returns the persisted result for a call id
func (s *Storage) GetToolResult(callID string) (*ToolResultRecord, error) {
	row := s.db.QueryRow("SELECT id, session_key, call_id, tool, output, error, duration_ms, created_at FROM tool_results WHERE call_id = ? ORDER BY id DESC LIMIT 1", callID)
	var r ToolResultRecord
	if err := row.Scan(&r.ID, &r.SessionKey, &r.CallID, &r.Tool, &r.Output, &r.Error, &r.DurationMs, &r.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &r, nil
}

// GetToolResults returns all persisted results for a session, oldest first
func (s *Storage) GetToolResults(sessionKey string, limit int) ([]ToolResultRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query("SELECT id, session_key, call_id, tool, output, error, duration_ms, created_at FROM tool_results WHERE session_key = ? ORDER BY id ASC LIMIT ?", sessionKey, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []ToolResultRecord
	for rows.Next() {
		var r ToolResultRecord
		if err := rows.Scan(&r.ID, &r.SessionKey, &r.CallID, &r.Tool, &r.Output, &r.Error, &r.DurationMs, &r.CreatedAt); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// GetConfig reads one config value ("" if unset)
func (s *Storage) GetConfig(section, key string) (string, error) {
	var value string
	var err error
	if s.stmtGetConfig != nil {
		err = s.stmtGetConfig.QueryRow(section, key).Scan(&value)
	} else {
		err = s.db.QueryRow("SELECT value FROM config WHERE section = ? AND key = ?", section, key).Scan(&value)
	}
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

// SetConfig upserts one config value
func (s *Storage) SetConfig(section, key, value string) error {
	var err error
	if s.stmtSetConfig != nil {
		_, err = s.stmtSetConfig.Exec(section, key, value)
	} else {
		_, err = s.db.Exec("INSERT INTO config (section, key, value) VALUES (?, ?, ?) ON CONFLICT(section, key) DO UPDATE SET value=excluded.value, updated_at=CURRENT_TIMESTAMP", section, key, value)
	}
	return err
}

// Query runs a read-only SQL statement (db_query tool). Anything but a
// single SELECT is rejected.
func (s *Storage) Query(query string, limit int) ([]map[string]interface{}, error) {
	trimmed := strings.TrimSpace(strings.ToLower(query))
	if !strings.HasPrefix(trimmed, "select") {
		return nil, fmt.Errorf("only SELECT statements are allowed")
	}
	if strings.Contains(trimmed, ";") {
		return nil, fmt.Errorf("multiple statements are not allowed")
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	rows, err := s.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("query failed: %v", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var out []map[string]interface{}
	for rows.Next() && len(out) < limit {
		values := make([]interface{}, len(cols))
		ptrs := make([]interface{}, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(map[string]interface{}, len(cols))
		for i, col := range cols {
			if b, ok := values[i].([]byte); ok {
				row[col] = string(b)
			} else {
				row[col] = values[i]
			}
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// BackupTo writes a consistent snapshot of the database to destPath
// (used by the backup worker while writers are paused).
func (s *Storage) BackupTo(destPath string) error {
	if _, err := s.db.Exec("VACUUM INTO ?", destPath); err != nil {
		return fmt.Errorf("backup failed: %v", err)
	}
	log.Printf("[OK] Storage: backup written to %s", destPath)
	return nil
}

// Close closes the database
func (s *Storage) Close() error {
	for _, stmt := range []*sql.Stmt{
		s.stmtAddMessage, s.stmtGetMessages, s.stmtClearMessages,
		s.stmtAddToolResult, s.stmtGetConfig, s.stmtSetConfig,
	} {
		if stmt != nil {
			stmt.Close()
		}
	}
	return s.db.Close()
}
