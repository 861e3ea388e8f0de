package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// State is what a client keeps between runs to rejoin the same shoot.
type State struct {
	ShootCode  string    `json:"shootCode"`
	ArcherName string    `json:"archerName"`
	RoundName  string    `json:"roundName"`
	JoinedAt   time.Time `json:"joinedAt"`
}

// Persistence stores at most one State. Load returns nil, nil when empty.
type Persistence interface {
	Load(ctx context.Context) (*State, error)
	Save(ctx context.Context, state State) error
	Clear(ctx context.Context) error
}

type MemoryPersistence struct {
	mu    sync.Mutex
	state *State
}

func NewMemoryPersistence() *MemoryPersistence {
	return &MemoryPersistence{}
}

func (m *MemoryPersistence) Load(ctx context.Context) (*State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == nil {
		return nil, nil
	}
	s := *m.state
	return &s, nil
}

func (m *MemoryPersistence) Save(ctx context.Context, state State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = &state
	return nil
}

func (m *MemoryPersistence) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = nil
	return nil
}

const sessionSchema = `
CREATE TABLE IF NOT EXISTS archer_session (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	shoot_code TEXT NOT NULL,
	archer_name TEXT NOT NULL,
	round_name TEXT NOT NULL,
	joined_at INTEGER NOT NULL
)`

// SQLitePersistence keeps the session in a single-row SQLite table.
type SQLitePersistence struct {
	sqlDB *sql.DB
}

func OpenSQLite(path string) (*SQLitePersistence, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("session path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := sqlDB.Exec(sessionSchema); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("create session table: %w", err)
	}
	return &SQLitePersistence{sqlDB: sqlDB}, nil
}

func (s *SQLitePersistence) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

func (s *SQLitePersistence) Load(ctx context.Context) (*State, error) {
	var (
		state    State
		joinedAt int64
	)
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT shoot_code, archer_name, round_name, joined_at FROM archer_session WHERE id = 1`,
	).Scan(&state.ShootCode, &state.ArcherName, &state.RoundName, &joinedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	state.JoinedAt = time.UnixMilli(joinedAt).UTC()
	return &state, nil
}

func (s *SQLitePersistence) Save(ctx context.Context, state State) error {
	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO archer_session (id, shoot_code, archer_name, round_name, joined_at)
VALUES (1, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	shoot_code = excluded.shoot_code,
	archer_name = excluded.archer_name,
	round_name = excluded.round_name,
	joined_at = excluded.joined_at`,
		state.ShootCode, state.ArcherName, state.RoundName, state.JoinedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (s *SQLitePersistence) Clear(ctx context.Context) error {
	if _, err := s.sqlDB.ExecContext(ctx, `DELETE FROM archer_session`); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	return nil
}
