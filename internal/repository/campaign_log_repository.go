package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/unclebandit/campaign-dispatch/internal/model"
)

type CampaignLogRepositoryInterface interface {
	Record(ctx context.Context, log *model.CampaignLog) error
	ListByCampaign(ctx context.Context, campaignID int) ([]model.CampaignLog, error)
	Stats(ctx context.Context, campaignID int) (map[model.TaskOutcome]int, error)
}

type CampaignLogRepository struct {
	DB *sql.DB
}

// Record upserts the delivery row for (batch, subscriber). A redelivered task
// overwrites its earlier attempt instead of adding a second row.
func (r *CampaignLogRepository) Record(ctx context.Context, log *model.CampaignLog) error {
	now := time.Now()
	log.CreatedAt = now
	log.UpdatedAt = now

	query := `
        INSERT INTO campaign_logs
        (campaign_id, batch_id, subscriber_id, email, status, last_error, attempts, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
        ON CONFLICT (batch_id, subscriber_id) DO UPDATE
        SET status=EXCLUDED.status, last_error=EXCLUDED.last_error,
            attempts=EXCLUDED.attempts, updated_at=EXCLUDED.updated_at
        RETURNING id, created_at
    `
	err := r.DB.QueryRowContext(ctx, query,
		log.CampaignID,
		log.BatchID,
		log.SubscriberID,
		log.Email,
		log.Status,
		log.LastError,
		log.Attempts,
		log.CreatedAt,
		log.UpdatedAt,
	).Scan(&log.ID, &log.CreatedAt)
	if err != nil {
		return fmt.Errorf("record campaign log: %w", err)
	}
	return nil
}

// ListByCampaign returns the delivery rows of a campaign, oldest first
func (r *CampaignLogRepository) ListByCampaign(ctx context.Context, campaignID int) ([]model.CampaignLog, error) {
	query := `
        SELECT id, campaign_id, batch_id, subscriber_id, email, status, last_error, attempts, created_at, updated_at
        FROM campaign_logs
        WHERE campaign_id=$1
        ORDER BY id
    `
	rows, err := r.DB.QueryContext(ctx, query, campaignID)
	if err != nil {
		return nil, fmt.Errorf("list campaign logs: %w", err)
	}
	defer rows.Close()

	logs := []model.CampaignLog{}
	for rows.Next() {
		var l model.CampaignLog
		if err := rows.Scan(
			&l.ID,
			&l.CampaignID,
			&l.BatchID,
			&l.SubscriberID,
			&l.Email,
			&l.Status,
			&l.LastError,
			&l.Attempts,
			&l.CreatedAt,
			&l.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan campaign log: %w", err)
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

// Stats counts delivery rows per outcome
func (r *CampaignLogRepository) Stats(ctx context.Context, campaignID int) (map[model.TaskOutcome]int, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM campaign_logs WHERE campaign_id=$1 GROUP BY status`, campaignID)
	if err != nil {
		return nil, fmt.Errorf("campaign log stats: %w", err)
	}
	defer rows.Close()

	stats := map[model.TaskOutcome]int{}
	for rows.Next() {
		var (
			status model.TaskOutcome
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan campaign log stats: %w", err)
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

var _ CampaignLogRepositoryInterface = (*CampaignLogRepository)(nil)
