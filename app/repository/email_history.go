package repository

import (
	"context"
	"database/sql"
	"errors"
)

const Schema = `
CREATE TABLE IF NOT EXISTS email_history (
	message_id VARCHAR(191) NOT NULL PRIMARY KEY,
	recipient  VARCHAR(320) NOT NULL,
	subject    TEXT NOT NULL,
	status     SMALLINT NOT NULL,
	attempts   INT NOT NULL DEFAULT 1,
	updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP
)`

type EmailHistoryRepository struct {
	db *sql.DB
}

// NewEmailHistoryRepository constructs a repository backed by MySQL.
func NewEmailHistoryRepository(db *sql.DB) *EmailHistoryRepository {
	return &EmailHistoryRepository{db: db}
}

// EnsureSchema creates the history table when missing.
func (r *EmailHistoryRepository) EnsureSchema(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, Schema)
	return err
}

// Record inserts a row for the message id, or bumps the attempt counter of a
// redelivered one.
func (r *EmailHistoryRepository) Record(ctx context.Context, messageID string, recipient string, subject string, status int16) error {
	const query = `
		INSERT INTO email_history (message_id, recipient, subject, status, attempts)
		VALUES (?, ?, ?, ?, 1)
		ON DUPLICATE KEY UPDATE status = VALUES(status), attempts = attempts + 1
	`
	_, err := r.db.ExecContext(ctx, query, messageID, recipient, subject, status)
	return err
}

// UpdateStatus updates the status for a message id.
func (r *EmailHistoryRepository) UpdateStatus(ctx context.Context, messageID string, status int16) error {
	const query = `
		UPDATE email_history
		SET status = ?
		WHERE message_id = ?
	`
	_, err := r.db.ExecContext(ctx, query, status, messageID)
	return err
}

// FindStatus returns the stored status; found is false for unknown ids.
func (r *EmailHistoryRepository) FindStatus(ctx context.Context, messageID string) (status int16, found bool, err error) {
	const query = `
		SELECT status FROM email_history
		WHERE message_id = ?
	`
	err = r.db.QueryRowContext(ctx, query, messageID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return status, true, nil
}
