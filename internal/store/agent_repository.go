package store

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/mindmux/mindmux/internal/domain"
)

// agentColumns is the list of columns to select for agent queries.
const agentColumns = `id, name, type, capabilities, config, status, dispatched, created_at, updated_at`

// AgentRepository persists agents.
type AgentRepository struct {
	db *sql.DB
}

func newAgentRepository(db *sql.DB) *AgentRepository {
	return &AgentRepository{db: db}
}

// scanAgent scans a row into an AgentModel.
func scanAgent(scanner interface{ Scan(...any) error }) (*AgentModel, error) {
	var model AgentModel
	err := scanner.Scan(
		&model.ID, &model.Name, &model.Type, &model.Capabilities, &model.Config,
		&model.Status, &model.Dispatched, &model.CreatedAt, &model.UpdatedAt,
	)
	return &model, err
}

// Create inserts a new agent row.
func (r *AgentRepository) Create(agent *domain.Agent) error {
	model := toAgentModel(agent)
	_, err := r.db.Exec(
		`INSERT INTO agents (id, name, type, capabilities, config, status, dispatched, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		model.ID, model.Name, model.Type, model.Capabilities, model.Config,
		model.Status, model.Dispatched, model.CreatedAt, model.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert agent: %w", err)
	}
	return nil
}

// Update rewrites the mutable columns of an existing agent.
func (r *AgentRepository) Update(agent *domain.Agent) error {
	model := toAgentModel(agent)
	result, err := r.db.Exec(
		`UPDATE agents SET name = ?, type = ?, capabilities = ?, config = ?, status = ?, dispatched = ?, updated_at = ?
		 WHERE id = ?`,
		model.Name, model.Type, model.Capabilities, model.Config, model.Status,
		model.Dispatched, model.UpdatedAt, model.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update agent: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return &domain.NotFoundError{Kind: "agent", ID: agent.ID}
	}
	return nil
}

// FindByID retrieves an agent by id.
func (r *AgentRepository) FindByID(id string) (*domain.Agent, error) {
	row := r.db.QueryRow(`SELECT `+agentColumns+` FROM agents WHERE id = ?`, id)
	model, err := scanAgent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &domain.NotFoundError{Kind: "agent", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find agent by id: %w", err)
	}
	return model.toDomain(), nil
}

// FindByName retrieves an agent by its unique name.
func (r *AgentRepository) FindByName(name string) (*domain.Agent, error) {
	row := r.db.QueryRow(`SELECT `+agentColumns+` FROM agents WHERE name = ?`, name)
	model, err := scanAgent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &domain.NotFoundError{Kind: "agent", ID: name}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find agent by name: %w", err)
	}
	return model.toDomain(), nil
}

// List returns all agents ordered by creation time.
func (r *AgentRepository) List() ([]*domain.Agent, error) {
	rows, err := r.db.Query(`SELECT ` + agentColumns + ` FROM agents ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list agents: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var agents []*domain.Agent
	for rows.Next() {
		model, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan agent row: %w", err)
		}
		agents = append(agents, model.toDomain())
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating agent rows: %w", err)
	}
	return agents, nil
}

// Delete removes an agent row.
func (r *AgentRepository) Delete(id string) error {
	result, err := r.db.Exec(`DELETE FROM agents WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete agent: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return &domain.NotFoundError{Kind: "agent", ID: id}
	}
	return nil
}
