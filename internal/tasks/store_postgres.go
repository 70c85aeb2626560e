package tasks

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, strings.TrimSpace(databaseURL))
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := initTaskSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

func initTaskSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS tasks (
			id BIGSERIAL PRIMARY KEY,
			title TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			due_date TIMESTAMPTZ NULL,
			completed BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_due_open ON tasks (due_date) WHERE NOT completed;`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init task schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

const taskColumns = `id, title, description, due_date, completed`

func (s *PostgresStore) List(ctx context.Context) ([]Task, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+taskColumns+` FROM tasks ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	out := make([]Task, 0, 16)
	for rows.Next() {
		task, err := scanTaskRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task row: %w", err)
		}
		out = append(out, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate task rows: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) Get(ctx context.Context, remoteID string) (Task, error) {
	id, err := parseRowID(remoteID)
	if err != nil {
		return Task{}, err
	}
	row := s.pool.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=$1`, id)
	task, err := scanTaskRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Task{}, ErrStoreNotFound
		}
		return Task{}, fmt.Errorf("get task: %w", err)
	}
	return task, nil
}

func (s *PostgresStore) Create(ctx context.Context, task Task) (Task, error) {
	row := s.pool.QueryRow(ctx,
		`INSERT INTO tasks (title, description, due_date, completed)
		 VALUES ($1, $2, $3, $4)
		 RETURNING `+taskColumns,
		task.Title,
		task.Description,
		task.DueDate,
		task.Completed,
	)
	out, err := scanTaskRow(row)
	if err != nil {
		return Task{}, fmt.Errorf("insert task: %w", err)
	}
	return out, nil
}

// Update applies patch inside a transaction so concurrent patches to the
// same row serialise on the row lock.
func (s *PostgresStore) Update(ctx context.Context, remoteID string, patch Patch) (Task, error) {
	id, err := parseRowID(remoteID)
	if err != nil {
		return Task{}, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Task{}, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	current, err := scanTaskRow(tx.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=$1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Task{}, ErrStoreNotFound
		}
		return Task{}, fmt.Errorf("load task: %w", err)
	}
	patch.Apply(&current)

	_, err = tx.Exec(ctx,
		`UPDATE tasks SET title=$2, description=$3, due_date=$4, completed=$5, updated_at=$6 WHERE id=$1`,
		id,
		current.Title,
		current.Description,
		current.DueDate,
		current.Completed,
		time.Now().UTC(),
	)
	if err != nil {
		return Task{}, fmt.Errorf("update task: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return Task{}, fmt.Errorf("commit tx: %w", err)
	}
	return current, nil
}

func (s *PostgresStore) Complete(ctx context.Context, remoteID string) (Task, error) {
	done := true
	return s.Update(ctx, remoteID, Patch{Completed: &done})
}

func (s *PostgresStore) Delete(ctx context.Context, remoteID string) error {
	id, err := parseRowID(remoteID)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM tasks WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStoreNotFound
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func scanTaskRow(row pgx.Row) (Task, error) {
	var (
		task        Task
		id          int64
		dueNullable *time.Time
	)
	if err := row.Scan(
		&id,
		&task.Title,
		&task.Description,
		&dueNullable,
		&task.Completed,
	); err != nil {
		return Task{}, err
	}
	task.RemoteID = strconv.FormatInt(id, 10)
	task.DueDate = cloneTime(dueNullable)
	return task, nil
}

// Ids that are not integers cannot exist in this store.
func parseRowID(remoteID string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(remoteID), 10, 64)
	if err != nil {
		return 0, ErrStoreNotFound
	}
	return id, nil
}
