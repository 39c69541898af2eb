package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/aquamarinepk/evbus/config"
	"github.com/aquamarinepk/evbus/log"
)

// PostgresStore is a Store backed by a `sessions` table, opened and
// migrated the same way db.Database opens its own connection (same
// driver, same ping-then-ensure-schema Start sequence).
type PostgresStore struct {
	db  *sql.DB
	cfg config.PersistenceConfig
	log log.Logger
}

// NewPostgresStore returns a store that will open its connection on Start.
func NewPostgresStore(cfg config.PersistenceConfig, logger log.Logger) *PostgresStore {
	if logger == nil {
		logger = log.NewNoopLogger()
	}
	return &PostgresStore{cfg: cfg, log: logger.With("component", "persistence", "driver", "postgres")}
}

func (s *PostgresStore) Start(ctx context.Context) error {
	db, err := sql.Open("pgx", s.cfg.ConnectionString())
	if err != nil {
		return fmt.Errorf("persistence: cannot open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("persistence: cannot ping postgres: %w", err)
	}

	const schema = `
		CREATE TABLE IF NOT EXISTS client_sessions (
			client_id  TEXT PRIMARY KEY,
			patterns   TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)
	`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return fmt.Errorf("persistence: cannot ensure client_sessions table: %w", err)
	}

	s.db = db
	s.log.Info("persistence connection established")
	return nil
}

func (s *PostgresStore) Stop(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	s.log.Info("closing persistence connection")
	return s.db.Close()
}

func (s *PostgresStore) Save(ctx context.Context, session Session) error {
	patterns, err := json.Marshal(session.Patterns)
	if err != nil {
		return fmt.Errorf("persistence: cannot marshal patterns: %w", err)
	}

	const query = `
		INSERT INTO client_sessions (client_id, patterns, created_at, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (client_id) DO UPDATE SET patterns = $2, updated_at = $4
	`
	_, err = s.db.ExecContext(ctx, query, session.ClientID, patterns, session.CreatedAt, session.UpdatedAt)
	if err != nil {
		return fmt.Errorf("persistence: save session: %w", err)
	}
	return nil
}

func (s *PostgresStore) Load(ctx context.Context, clientID string) (Session, error) {
	const query = `
		SELECT client_id, patterns, created_at, updated_at
		FROM client_sessions
		WHERE client_id = $1
	`
	var session Session
	var patterns []byte
	err := s.db.QueryRowContext(ctx, query, clientID).Scan(
		&session.ClientID, &patterns, &session.CreatedAt, &session.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return Session{}, ErrSessionNotFound
	}
	if err != nil {
		return Session{}, fmt.Errorf("persistence: load session: %w", err)
	}
	if err := json.Unmarshal(patterns, &session.Patterns); err != nil {
		return Session{}, fmt.Errorf("persistence: cannot unmarshal patterns: %w", err)
	}
	return session, nil
}

func (s *PostgresStore) Delete(ctx context.Context, clientID string) error {
	const query = `DELETE FROM client_sessions WHERE client_id = $1`
	_, err := s.db.ExecContext(ctx, query, clientID)
	if err != nil {
		return fmt.Errorf("persistence: delete session: %w", err)
	}
	return nil
}

var _ Store = (*PostgresStore)(nil)
