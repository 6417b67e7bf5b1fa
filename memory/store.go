// Package memory provides long-term vector memory on SQLite with
// OpenAI or local embedding backends.
package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	openai "github.com/sashabaranov/go-openai"
)

// Entry is one stored memory
type Entry struct {
	ID         string
	Text       string
	Vector     []float32
	Importance float64
	Category   string
	CreatedAt  int64
	UpdatedAt  int64
}

// Result is a search hit with its similarity score
type Result struct {
	Entry Entry
	Score float32
}

// Categories accepted by Store; anything else is coerced to "other"
var Categories = []string{"preference", "decision", "fact", "entity", "other"}

// EmbeddingProvider turns text into a vector
type EmbeddingProvider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Name() string
}

// Config for the memory store
type Config struct {
	APIKey          string
	EmbeddingModel  string // OpenAI model, e.g. text-embedding-3-small
	EmbeddingServer string // Local embedding service URL (preferred when set)
}

// Store is a vector memory store backed by SQLite
type Store struct {
	db        *sql.DB
	embedding EmbeddingProvider
	mu        sync.RWMutex
}

// ==================== OpenAI Provider ====================

type OpenAIProvider struct {
	client *openai.Client
	model  string
}

func NewOpenAIProvider(apiKey, model string) (*OpenAIProvider, error) {
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("OpenAI API key required")
	}
	if model == "" {
		model = "text-embedding-3-small"
	}
	return &OpenAIProvider{client: openai.NewClient(apiKey), model: model}, nil
}

func (p *OpenAIProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()
	resp, err := p.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(p.model),
		Input: text,
	})
	if err != nil {
		return nil, fmt.Errorf("embedding failed: %v", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("no embedding returned")
	}
	result := make([]float32, len(resp.Data[0].Embedding))
	for i, v := range resp.Data[0].Embedding {
		result[i] = float32(v)
	}
	return result, nil
}

func (p *OpenAIProvider) Name() string { return "openai:" + p.model }

// ==================== Local Provider ====================

type LocalProvider struct {
	serverURL string
	client    *http.Client
}

func NewLocalProvider(serverURL string) *LocalProvider {
	if serverURL == "" {
		serverURL = "http://localhost:50000"
	}
	return &LocalProvider{
		serverURL: serverURL,
		client:    &http.Client{Timeout: 60 * time.Second},
	}
}

func (p *LocalProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	reqBody, _ := json.Marshal(map[string]interface{}{"text": text})
	ctx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.serverURL+"/embed", strings.NewReader(string(reqBody)))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("server returned %d", resp.StatusCode)
	}

	var result struct {
		Embedding []float32 `json:"embedding"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	return result.Embedding, nil
}

func (p *LocalProvider) Name() string { return "local:" + p.serverURL }

// ==================== Store ====================

// New opens (or creates) the memory store at dbPath. The embedding
// backend is chosen from cfg: a local server when configured, OpenAI
// otherwise. With neither configured the store still works for keyword
// search and direct reads.
func New(dbPath string, cfg Config) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open memory db: %w", err)
	}
	if err := initSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("init memory schema: %w", err)
	}

	s := &Store{db: db}

	if cfg.EmbeddingServer != "" {
		s.embedding = NewLocalProvider(cfg.EmbeddingServer)
	} else if cfg.EmbeddingModel != "" {
		provider, err := NewOpenAIProvider(cfg.APIKey, cfg.EmbeddingModel)
		if err != nil {
			log.Printf("[WARN] OpenAI embeddings unavailable: %v", err)
		} else {
			s.embedding = provider
		}
	}
	if s.embedding != nil {
		log.Printf("[OK] Memory store ready (embeddings: %s)", s.embedding.Name())
	} else {
		log.Printf("[WARN] Memory store ready without embeddings (keyword search only)")
	}
	return s, nil
}

// NewWithProvider opens the store with an explicit embedding provider
func NewWithProvider(dbPath string, provider EmbeddingProvider) (*Store, error) {
	s, err := New(dbPath, Config{})
	if err != nil {
		return nil, err
	}
	s.embedding = provider
	return s, nil
}

func initSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS vector_memories (
			id TEXT PRIMARY KEY,
			text TEXT NOT NULL,
			vector BLOB,
			importance REAL DEFAULT 0.5,
			category TEXT DEFAULT 'other',
			created_at INTEGER DEFAULT (strftime('%s','now')),
			updated_at INTEGER DEFAULT (strftime('%s','now'))
		)
	`)
	if err != nil {
		return err
	}
	db.Exec(`CREATE INDEX IF NOT EXISTS idx_vm_category ON vector_memories(category)`)
	db.Exec(`CREATE INDEX IF NOT EXISTS idx_vm_updated ON vector_memories(updated_at)`)
	return nil
}

// Store saves a memory and returns its id
func (s *Store) Store(ctx context.Context, text, category string, importance float64) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("empty memory text")
	}
	if !validCategory(category) {
		category = "other"
	}
	if importance <= 0 {
		importance = 0.5
	}

	var blob []byte
	if s.embedding != nil {
		vector, err := s.embedding.Embed(ctx, text)
		if err != nil {
			log.Printf("[WARN] embedding failed, storing without vector: %v", err)
		} else {
			blob = serializeVector(vector)
		}
	}

	id := uuid.NewString()
	now := time.Now().Unix()

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`
		INSERT INTO vector_memories (id, text, vector, importance, category, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, id, text, blob, importance, category, now, now)
	if err != nil {
		return "", err
	}
	return id, nil
}

// Search returns up to limit memories ranked by cosine similarity to the
// query. Falls back to keyword matching when no embedding backend is
// available.
func (s *Store) Search(ctx context.Context, query string, limit int, minScore float32) ([]Result, error) {
	if limit <= 0 {
		limit = 5
	}

	if s.embedding == nil {
		return s.keywordSearch(query, limit)
	}

	queryVec, err := s.embedding.Embed(ctx, query)
	if err != nil {
		log.Printf("[WARN] query embedding failed, keyword fallback: %v", err)
		return s.keywordSearch(query, limit)
	}
	return s.linearSearch(queryVec, limit, minScore)
}

func (s *Store) linearSearch(queryVec []float32, limit int, minScore float32) ([]Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	maxCandidates := limit * 4
	if maxCandidates > 2000 {
		maxCandidates = 2000
	}

	rows, err := s.db.Query(`
		SELECT id, text, vector, importance, category, created_at, updated_at
		FROM vector_memories
		ORDER BY updated_at DESC
		LIMIT ?
	`, maxCandidates)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var all []Result
	for rows.Next() {
		var r Result
		var blob []byte
		if err := rows.Scan(&r.Entry.ID, &r.Entry.Text, &blob, &r.Entry.Importance,
			&r.Entry.Category, &r.Entry.CreatedAt, &r.Entry.UpdatedAt); err != nil {
			return nil, err
		}
		r.Entry.Vector = deserializeVector(blob)
		if len(r.Entry.Vector) == len(queryVec) {
			r.Score = cosineSimilarity(queryVec, r.Entry.Vector)
		}
		all = append(all, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(all, func(i, j int) bool { return all[i].Score > all[j].Score })

	results := make([]Result, 0, limit)
	for _, r := range all {
		if r.Score >= minScore && len(results) < limit {
			results = append(results, r)
		}
	}
	return results, nil
}

// keywordSearch does case-insensitive substring matching
func (s *Store) keywordSearch(query string, limit int) ([]Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT id, text, importance, category, created_at, updated_at
		FROM vector_memories
		WHERE text LIKE ?
		ORDER BY importance DESC, updated_at DESC
		LIMIT ?
	`, "%"+query+"%", limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.Entry.ID, &r.Entry.Text, &r.Entry.Importance,
			&r.Entry.Category, &r.Entry.CreatedAt, &r.Entry.UpdatedAt); err != nil {
			return nil, err
		}
		r.Score = float32(r.Entry.Importance)
		results = append(results, r)
	}
	return results, rows.Err()
}

// Get returns one memory by id
func (s *Store) Get(id string) (Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var e Entry
	var blob []byte
	err := s.db.QueryRow(`
		SELECT id, text, vector, importance, category, created_at, updated_at
		FROM vector_memories WHERE id = ?
	`, id).Scan(&e.ID, &e.Text, &blob, &e.Importance, &e.Category, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return Entry{}, err
	}
	e.Vector = deserializeVector(blob)
	return e, nil
}

// Delete removes a memory, reporting whether it existed
func (s *Store) Delete(id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`DELETE FROM vector_memories WHERE id = ?`, id)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// Count returns the number of stored memories
func (s *Store) Count() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM vector_memories`).Scan(&n)
	return n, err
}

// Close closes the underlying database
func (s *Store) Close() error {
	return s.db.Close()
}

func validCategory(c string) bool {
	for _, v := range Categories {
		if v == c {
			return true
		}
	}
	return false
}

// ==================== Vector Utils ====================

func serializeVector(v []float32) []byte {
	result := make([]byte, len(v)*4)
	for i, f := range v {
		bits := math.Float32bits(f)
		result[i*4] = byte(bits)
		result[i*4+1] = byte(bits >> 8)
		result[i*4+2] = byte(bits >> 16)
		result[i*4+3] = byte(bits >> 24)
	}
	return result
}

func deserializeVector(b []byte) []float32 {
	if len(b) == 0 || len(b)%4 != 0 {
		return nil
	}
	result := make([]float32, len(b)/4)
	for i := 0; i < len(result); i++ {
		bits := uint32(b[i*4]) | uint32(b[i*4+1])<<8 |
			uint32(b[i*4+2])<<16 | uint32(b[i*4+3])<<24
		result[i] = math.Float32frombits(bits)
	}
	return result
}

func cosineSimilarity(a, b []float32) float32 {
	var dot, normA, normB float32
	for i := 0; i < len(a); i++ {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / float32(math.Sqrt(float64(normA*normB)))
}
