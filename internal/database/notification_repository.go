package database

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
)

// NotificationRepository persists dispatched notifications. Every outbound
// message gets a row before delivery is attempted, so delivery state and the
// in-app inbox survive restarts.
type NotificationRepository struct {
	BaseRepository
	logger *slog.Logger
}

// NewNotificationRepository creates a new notification repository
func NewNotificationRepository(db *sqlx.DB, logger *slog.Logger) *NotificationRepository {
	return &NotificationRepository{
		BaseRepository: BaseRepository{db: db},
		logger:         logger,
	}
}

// Create records a pending notification
func (r *NotificationRepository) Create(ctx context.Context, n *Notification) error {
	query := `
		INSERT INTO notifications (
			id, recipient_id, recipient_role, recipient, event_kind,
			complaint_id, complaint_number, channel, subject, body,
			status, retries, read, created_at
		) VALUES (
			:id, :recipient_id, :recipient_role, :recipient, :event_kind,
			:complaint_id, :complaint_number, :channel, :subject, :body,
			:status, :retries, :read, :created_at
		)`

	n.Status = NotificationPending
	n.CreatedAt = time.Now()

	_, err := r.db.NamedExecContext(ctx, query, n)
	if err != nil {
		r.logger.Error("Failed to create notification", "notification_id", n.ID, "error", err)
		return fmt.Errorf("failed to create notification: %w", err)
	}

	return nil
}

// MarkSent records a successful delivery
func (r *NotificationRepository) MarkSent(ctx context.Context, id string) error {
	query := `
		UPDATE notifications SET
			status = 'sent',
			error = NULL,
			sent_at = NOW()
		WHERE id = $1`

	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		r.logger.Error("Failed to mark notification sent", "notification_id", id, "error", err)
		return fmt.Errorf("failed to mark notification sent: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

// MarkFailed records a delivery failure and bumps the retry counter
func (r *NotificationRepository) MarkFailed(ctx context.Context, id, deliveryErr string) error {
	query := `
		UPDATE notifications SET
			status = 'failed',
			error = $2,
			retries = retries + 1
		WHERE id = $1`

	result, err := r.db.ExecContext(ctx, query, id, deliveryErr)
	if err != nil {
		r.logger.Error("Failed to mark notification failed", "notification_id", id, "error", err)
		return fmt.Errorf("failed to mark notification failed: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

// ListRetryable retrieves undelivered notifications still under the retry
// cap, oldest first: failed rows, plus pending rows old enough that they
// cannot still be sitting in a live delivery queue (dropped on overflow, or
// recorded just before a crash). The startup requeue re-enqueues these.
func (r *NotificationRepository) ListRetryable(ctx context.Context, maxRetries, limit int) ([]*Notification, error) {
	query := `
		SELECT * FROM notifications
		WHERE retries < $1
		  AND (status = 'failed'
		       OR (status = 'pending' AND created_at < NOW() - INTERVAL '1 minute'))
		ORDER BY created_at ASC
		LIMIT $2`

	var notifications []*Notification
	err := r.db.SelectContext(ctx, &notifications, query, maxRetries, limit)
	if err != nil {
		r.logger.Error("Failed to list retryable notifications", "error", err)
		return nil, fmt.Errorf("failed to list retryable notifications: %w", err)
	}

	return notifications, nil
}

// ListByRecipient retrieves a user's in-app inbox, newest first
func (r *NotificationRepository) ListByRecipient(ctx context.Context, recipientID string, unreadOnly bool, limit int) ([]*Notification, error) {
	query := `
		SELECT * FROM notifications
		WHERE recipient_id = $1 AND channel = 'in_app'`
	if unreadOnly {
		query += ` AND read = false`
	}
	query += `
		ORDER BY created_at DESC
		LIMIT $2`

	var notifications []*Notification
	err := r.db.SelectContext(ctx, &notifications, query, recipientID, limit)
	if err != nil {
		r.logger.Error("Failed to list notifications by recipient", "recipient_id", recipientID, "error", err)
		return nil, fmt.Errorf("failed to list notifications by recipient: %w", err)
	}

	return notifications, nil
}

// MarkRead marks one in-app notification read for its recipient
func (r *NotificationRepository) MarkRead(ctx context.Context, id, recipientID string) error {
	query := `
		UPDATE notifications SET
			read = true
		WHERE id = $1 AND recipient_id = $2 AND channel = 'in_app'`

	result, err := r.db.ExecContext(ctx, query, id, recipientID)
	if err != nil {
		r.logger.Error("Failed to mark notification read", "notification_id", id, "error", err)
		return fmt.Errorf("failed to mark notification read: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

// CountUnread counts a user's unread in-app notifications
func (r *NotificationRepository) CountUnread(ctx context.Context, recipientID string) (int, error) {
	query := `
		SELECT COUNT(*) FROM notifications
		WHERE recipient_id = $1 AND channel = 'in_app' AND read = false`

	var count int
	err := r.db.GetContext(ctx, &count, query, recipientID)
	if err != nil {
		r.logger.Error("Failed to count unread notifications", "recipient_id", recipientID, "error", err)
		return 0, fmt.Errorf("failed to count unread notifications: %w", err)
	}

	return count, nil
}
