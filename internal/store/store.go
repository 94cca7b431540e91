// Package store persists completed research runs to SQLite so past
// answers and their sources can be replayed from the CLI or the HTTP API.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"prosearch/internal/agent"
)

// Run is one persisted research run.
type Run struct {
	ID        string         `json:"id"`
	Topic     string         `json:"topic"`
	Answer    string         `json:"answer"`
	LoopCount int            `json:"loop_count"`
	Queries   []string       `json:"queries"`
	Sources   []agent.Source `json:"sources"`
	CreatedAt time.Time      `json:"created_at"`
}

// Store is a mutex-guarded SQLite run-history store.
type Store struct {
	mu     sync.Mutex
	db     *sql.DB
	logger *zap.Logger
}

// Open opens (creating if needed) the run-history database at path and
// applies the schema.
func Open(path string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &Store{db: db, logger: logger}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id         TEXT PRIMARY KEY,
		topic      TEXT NOT NULL,
		answer     TEXT NOT NULL,
		loop_count INTEGER NOT NULL,
		queries    TEXT NOT NULL,
		sources    TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at DESC);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// SaveRun records a completed run and returns its assigned id.
func (s *Store) SaveRun(state *agent.State) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	queries, err := json.Marshal(state.SearchQueries)
	if err != nil {
		return "", fmt.Errorf("failed to encode queries: %w", err)
	}
	sources, err := json.Marshal(state.SourcesGathered)
	if err != nil {
		return "", fmt.Errorf("failed to encode sources: %w", err)
	}

	id := uuid.New().String()
	_, err = s.db.Exec(
		`INSERT INTO runs (id, topic, answer, loop_count, queries, sources, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id,
		agent.ResearchTopic(state.Messages),
		state.FinalAnswer(),
		state.ResearchLoopCount,
		string(queries),
		string(sources),
		time.Now().UTC(),
	)
	if err != nil {
		return "", fmt.Errorf("failed to insert run: %w", err)
	}

	s.logger.Debug("saved run", zap.String("id", id))
	return id, nil
}

// GetRun loads a single run by id.
func (s *Store) GetRun(id string) (*Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.db.QueryRow(
		`SELECT id, topic, answer, loop_count, queries, sources, created_at
		 FROM runs WHERE id = ?`, id)
	return scanRun(row)
}

// ListRuns returns the most recent runs, newest first.
func (s *Store) ListRuns(limit int) ([]*Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(
		`SELECT id, topic, answer, loop_count, queries, sources, created_at
		 FROM runs ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row rowScanner) (*Run, error) {
	var (
		run     Run
		queries string
		sources string
	)
	err := row.Scan(&run.ID, &run.Topic, &run.Answer, &run.LoopCount, &queries, &sources, &run.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("run not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan run: %w", err)
	}
	if err := json.Unmarshal([]byte(queries), &run.Queries); err != nil {
		return nil, fmt.Errorf("failed to decode queries: %w", err)
	}
	if err := json.Unmarshal([]byte(sources), &run.Sources); err != nil {
		return nil, fmt.Errorf("failed to decode sources: %w", err)
	}
	return &run, nil
}
