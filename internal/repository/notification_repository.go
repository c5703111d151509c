package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/unclebandit/campaign-dispatch/internal/model"
)

type NotificationRepositoryInterface interface {
	Create(ctx context.Context, n *model.Notification) error
	ListByUser(ctx context.Context, userID string, limit int) ([]model.Notification, error)
}

type NotificationRepository struct {
	DB *sql.DB
}

func (r *NotificationRepository) Create(ctx context.Context, n *model.Notification) error {
	query := `
        INSERT INTO notifications (user_id, level, title, body, created_at)
        VALUES ($1, $2, $3, $4, NOW())
        RETURNING id, created_at`
	if err := r.DB.QueryRowContext(ctx, query, n.UserID, n.Level, n.Title, n.Body).Scan(&n.ID, &n.CreatedAt); err != nil {
		return fmt.Errorf("create notification: %w", err)
	}
	return nil
}

// ListByUser returns the newest notifications first
func (r *NotificationRepository) ListByUser(ctx context.Context, userID string, limit int) ([]model.Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.DB.QueryContext(ctx, `
        SELECT id, user_id, level, title, body, created_at
        FROM notifications
        WHERE user_id=$1
        ORDER BY created_at DESC, id DESC
        LIMIT $2`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	out := []model.Notification{}
	for rows.Next() {
		var n model.Notification
		if err := rows.Scan(&n.ID, &n.UserID, &n.Level, &n.Title, &n.Body, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

var _ NotificationRepositoryInterface = (*NotificationRepository)(nil)
