package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/iago/genbot-dispatch/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema is the subset of the bot database the worker reads and writes.
const Schema = `
CREATE TABLE IF NOT EXISTS users (
	id BIGINT PRIMARY KEY,
	energy NUMERIC(14,2) NOT NULL DEFAULT 0 CHECK (energy >= 0)
);

CREATE TABLE IF NOT EXISTS dialog_messages (
	id BIGSERIAL PRIMARY KEY,
	dialog_id BIGINT NOT NULL,
	role TEXT NOT NULL,
	text TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS dialog_messages_dialog_id_idx ON dialog_messages (dialog_id, id);

CREATE TABLE IF NOT EXISTS image_tasks (
	id BIGSERIAL PRIMARY KEY,
	user_id BIGINT NOT NULL,
	prompt TEXT NOT NULL,
	hash TEXT NOT NULL,
	first_hash TEXT NOT NULL,
	image_name TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// PostgresStore implements Ledger, DialogStore and ImageStore on one pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("create pg pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping pg: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Debit(ctx context.Context, userID int64, amount domain.Energy) (domain.Energy, error) {
	if amount < 0 {
		return 0, fmt.Errorf("debit %s: %w", amount, domain.ErrInvalidEnergy)
	}

	var balance string
	err := s.pool.QueryRow(ctx, `
		UPDATE users
		SET energy = energy - $2::numeric
		WHERE id = $1 AND energy >= $2::numeric
		RETURNING energy::text
	`, userID, amount.String()).Scan(&balance)
	if err == nil {
		return domain.ParseEnergy(balance)
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("debit energy: %w", err)
	}

	current, balanceErr := s.Balance(ctx, userID)
	if balanceErr != nil {
		return 0, balanceErr
	}
	return current, ErrInsufficientEnergy
}

func (s *PostgresStore) Credit(ctx context.Context, userID int64, amount domain.Energy) (domain.Energy, error) {
	if amount < 0 {
		return 0, fmt.Errorf("credit %s: %w", amount, domain.ErrInvalidEnergy)
	}

	var balance string
	err := s.pool.QueryRow(ctx, `
		UPDATE users
		SET energy = energy + $2::numeric
		WHERE id = $1
		RETURNING energy::text
	`, userID, amount.String()).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("credit energy: %w", err)
	}
	return domain.ParseEnergy(balance)
}

func (s *PostgresStore) Balance(ctx context.Context, userID int64) (domain.Energy, error) {
	var balance string
	err := s.pool.QueryRow(ctx, `SELECT energy::text FROM users WHERE id = $1`, userID).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("query balance: %w", err)
	}
	return domain.ParseEnergy(balance)
}

func (s *PostgresStore) Append(ctx context.Context, message domain.DialogMessage) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO dialog_messages (dialog_id, role, text)
		VALUES ($1, $2, $3)
	`, message.DialogID, string(message.Role), message.Text)
	if err != nil {
		return fmt.Errorf("insert dialog message: %w", err)
	}
	return nil
}

func (s *PostgresStore) Read(ctx context.Context, dialogID int64) ([]domain.DialogMessage, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT dialog_id, role, text, created_at
		FROM dialog_messages
		WHERE dialog_id = $1
		ORDER BY id ASC
	`, dialogID)
	if err != nil {
		return nil, fmt.Errorf("query dialog: %w", err)
	}
	defer rows.Close()

	history := make([]domain.DialogMessage, 0)
	for rows.Next() {
		var (
			message domain.DialogMessage
			role    string
		)
		if err := rows.Scan(&message.DialogID, &role, &message.Text, &message.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan dialog message: %w", err)
		}
		message.Role = domain.Role(role)
		history = append(history, message)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate dialog: %w", err)
	}
	return history, nil
}

func (s *PostgresStore) Create(ctx context.Context, task *domain.ImageTask) error {
	if task.FirstHash == "" {
		task.FirstHash = task.Hash
	}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO image_tasks (user_id, prompt, hash, first_hash, image_name)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at
	`, task.UserID, task.Prompt, task.Hash, task.FirstHash, task.ImageName).
		Scan(&task.ID, &task.CreatedAt, &task.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert image task: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id int64) (*domain.ImageTask, error) {
	var task domain.ImageTask
	err := s.pool.QueryRow(ctx, `
		SELECT id, user_id, prompt, hash, first_hash, image_name, created_at, updated_at
		FROM image_tasks
		WHERE id = $1
	`, id).Scan(
		&task.ID,
		&task.UserID,
		&task.Prompt,
		&task.Hash,
		&task.FirstHash,
		&task.ImageName,
		&task.CreatedAt,
		&task.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query image task: %w", err)
	}
	return &task, nil
}

func (s *PostgresStore) UpdateHash(ctx context.Context, id int64, hash string) error {
	command, err := s.pool.Exec(ctx, `
		UPDATE image_tasks
		SET hash = $2, updated_at = now()
		WHERE id = $1
	`, id, hash)
	if err != nil {
		return fmt.Errorf("update image hash: %w", err)
	}
	if command.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
