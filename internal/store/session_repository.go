package store

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/mindmux/mindmux/internal/domain"
)

// sessionColumns is the list of columns to select for session queries.
const sessionColumns = `id, agent_id, multiplexer_session, status, started_at, ended_at, process_id`

// SessionRepository persists agent sessions.
type SessionRepository struct {
	db *sql.DB
}

func newSessionRepository(db *sql.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// scanSession scans a row into a SessionModel.
func scanSession(scanner interface{ Scan(...any) error }) (*SessionModel, error) {
	var model SessionModel
	err := scanner.Scan(
		&model.ID, &model.AgentID, &model.MultiplexerSession, &model.Status,
		&model.StartedAt, &model.EndedAt, &model.ProcessID,
	)
	return &model, err
}

// Create inserts a new session row.
func (r *SessionRepository) Create(session *domain.Session) error {
	model := toSessionModel(session)
	_, err := r.db.Exec(
		`INSERT INTO sessions (id, agent_id, multiplexer_session, status, started_at, ended_at, process_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		model.ID, model.AgentID, model.MultiplexerSession, model.Status,
		model.StartedAt, model.EndedAt, model.ProcessID,
	)
	if err != nil {
		return fmt.Errorf("failed to insert session: %w", err)
	}
	return nil
}

// Update rewrites the mutable columns of an existing session.
func (r *SessionRepository) Update(session *domain.Session) error {
	model := toSessionModel(session)
	result, err := r.db.Exec(
		`UPDATE sessions SET status = ?, ended_at = ?, process_id = ? WHERE id = ?`,
		model.Status, model.EndedAt, model.ProcessID, model.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return &domain.NotFoundError{Kind: "session", ID: session.ID}
	}
	return nil
}

// FindByID retrieves a session by id.
func (r *SessionRepository) FindByID(id string) (*domain.Session, error) {
	row := r.db.QueryRow(`SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	model, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &domain.NotFoundError{Kind: "session", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find session by id: %w", err)
	}
	return model.toDomain(), nil
}

// List returns all sessions ordered by start time.
func (r *SessionRepository) List() ([]*domain.Session, error) {
	rows, err := r.db.Query(`SELECT ` + sessionColumns + ` FROM sessions ORDER BY started_at ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return collectSessions(rows)
}

// ListByAgent returns sessions bound to the given agent.
func (r *SessionRepository) ListByAgent(agentID string) ([]*domain.Session, error) {
	rows, err := r.db.Query(
		`SELECT `+sessionColumns+` FROM sessions WHERE agent_id = ? ORDER BY started_at ASC, id ASC`,
		agentID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions by agent: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return collectSessions(rows)
}

func collectSessions(rows *sql.Rows) ([]*domain.Session, error) {
	var sessions []*domain.Session
	for rows.Next() {
		model, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session row: %w", err)
		}
		sessions = append(sessions, model.toDomain())
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating session rows: %w", err)
	}
	return sessions, nil
}

// Delete removes a session row.
func (r *SessionRepository) Delete(id string) error {
	result, err := r.db.Exec(`DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return &domain.NotFoundError{Kind: "session", ID: id}
	}
	return nil
}
