package store

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/mindmux/mindmux/internal/domain"
)

// taskColumns is the list of columns to select for task queries.
const taskColumns = `id, prompt, required_capabilities, priority, status, assigned_agent_id, depends_on,
	created_at, started_at, completed_at, result, error_message, retry_count, max_retries, timeout_ms`

// TaskRepository persists tasks.
type TaskRepository struct {
	db *sql.DB
}

func newTaskRepository(db *sql.DB) *TaskRepository {
	return &TaskRepository{db: db}
}

// scanTask scans a row into a TaskModel.
func scanTask(scanner interface{ Scan(...any) error }) (*TaskModel, error) {
	var model TaskModel
	err := scanner.Scan(
		&model.ID, &model.Prompt, &model.RequiredCapabilities, &model.Priority, &model.Status,
		&model.AssignedAgentID, &model.DependsOn,
		&model.CreatedAt, &model.StartedAt, &model.CompletedAt,
		&model.Result, &model.ErrorMessage, &model.RetryCount, &model.MaxRetries, &model.TimeoutMs,
	)
	return &model, err
}

// Create inserts a new task row.
func (r *TaskRepository) Create(task *domain.Task) error {
	model := toTaskModel(task)
	_, err := r.db.Exec(
		`INSERT INTO tasks (
			id, prompt, required_capabilities, priority, status, assigned_agent_id, depends_on,
			created_at, started_at, completed_at, result, error_message, retry_count, max_retries, timeout_ms
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		model.ID, model.Prompt, model.RequiredCapabilities, model.Priority, model.Status,
		model.AssignedAgentID, model.DependsOn,
		model.CreatedAt, model.StartedAt, model.CompletedAt,
		model.Result, model.ErrorMessage, model.RetryCount, model.MaxRetries, model.TimeoutMs,
	)
	if err != nil {
		return fmt.Errorf("failed to insert task: %w", err)
	}
	return nil
}

// Update rewrites the mutable columns of an existing task.
func (r *TaskRepository) Update(task *domain.Task) error {
	model := toTaskModel(task)
	result, err := r.db.Exec(
		`UPDATE tasks SET
			prompt = ?, required_capabilities = ?, priority = ?, status = ?, assigned_agent_id = ?,
			depends_on = ?, started_at = ?, completed_at = ?, result = ?, error_message = ?,
			retry_count = ?, max_retries = ?, timeout_ms = ?
		WHERE id = ?`,
		model.Prompt, model.RequiredCapabilities, model.Priority, model.Status, model.AssignedAgentID,
		model.DependsOn, model.StartedAt, model.CompletedAt, model.Result, model.ErrorMessage,
		model.RetryCount, model.MaxRetries, model.TimeoutMs,
		model.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update task: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return &domain.NotFoundError{Kind: "task", ID: task.ID}
	}
	return nil
}

// FindByID retrieves a task by id.
func (r *TaskRepository) FindByID(id string) (*domain.Task, error) {
	row := r.db.QueryRow(`SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	model, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &domain.NotFoundError{Kind: "task", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find task by id: %w", err)
	}
	return model.toDomain(), nil
}

// List returns all tasks ordered by priority descending then creation
// time ascending, matching scheduling order.
func (r *TaskRepository) List() ([]*domain.Task, error) {
	rows, err := r.db.Query(`SELECT ` + taskColumns + ` FROM tasks ORDER BY priority DESC, created_at ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return collectTasks(rows)
}

// ListByStatus returns tasks with the given status in scheduling order.
func (r *TaskRepository) ListByStatus(status domain.TaskStatus) ([]*domain.Task, error) {
	rows, err := r.db.Query(
		`SELECT `+taskColumns+` FROM tasks WHERE status = ? ORDER BY priority DESC, created_at ASC, id ASC`,
		string(status),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks by status: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return collectTasks(rows)
}

func collectTasks(rows *sql.Rows) ([]*domain.Task, error) {
	var tasks []*domain.Task
	for rows.Next() {
		model, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task row: %w", err)
		}
		tasks = append(tasks, model.toDomain())
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating task rows: %w", err)
	}
	return tasks, nil
}

// Delete removes a task row.
func (r *TaskRepository) Delete(id string) error {
	result, err := r.db.Exec(`DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete task: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return &domain.NotFoundError{Kind: "task", ID: id}
	}
	return nil
}
