package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	appErrors "github.com/unclebandit/campaign-dispatch/internal/errors"
	"github.com/unclebandit/campaign-dispatch/internal/model"
)

type CampaignRepositoryInterface interface {
	ListCampaigns(ctx context.Context, offset, limit int, status string) ([]*model.Campaign, int, error)
	GetByID(ctx context.Context, id int) (*model.Campaign, error)
	// LoadForDispatch reads the campaign, its tags, and the subscribed
	// subscribers of its list with their tags as one consistent snapshot.
	LoadForDispatch(ctx context.Context, id int) (*model.Campaign, []model.Subscriber, error)
	Create(ctx context.Context, c *model.Campaign) error
	// Update writes the editable fields and tags. Both Update and
	// UpdateStatus compare c.Version and return ErrPersistenceConflict
	// when another writer got there first; on success c.Version is bumped.
	Update(ctx context.Context, c *model.Campaign) error
	UpdateStatus(ctx context.Context, c *model.Campaign) error
	Delete(ctx context.Context, c *model.Campaign) error
}

type CampaignRepository struct {
	DB *sql.DB
}

const campaignColumns = `
    c.id, c.name, c.subject, c.preheader, c.from_name, c.from_email, c.status, c.job_id,
    c.email_list_id, c.template_id, COALESCE(t.content, ''), c.campaign_content, c.version,
    c.created_at, c.updated_at,
    ARRAY(SELECT ct.tag_id FROM campaign_tags ct WHERE ct.campaign_id = c.id ORDER BY ct.tag_id)`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCampaign(row rowScanner) (*model.Campaign, error) {
	var (
		c     model.Campaign
		jobID sql.NullString
		tags  pq.Int64Array
	)
	err := row.Scan(
		&c.ID, &c.Name, &c.Subject, &c.Preheader, &c.FromName, &c.FromEmail, &c.Status, &jobID,
		&c.EmailListID, &c.TemplateID, &c.TemplateContent, &c.Content, &c.Version,
		&c.CreatedAt, &c.UpdatedAt, &tags,
	)
	if err != nil {
		return nil, err
	}
	if jobID.Valid {
		c.JobID = &jobID.String
	}
	c.TagIDs = toInts(tags)
	return &c, nil
}

// ====================== Reads ======================

func (r *CampaignRepository) GetByID(ctx context.Context, id int) (*model.Campaign, error) {
	query := `SELECT ` + campaignColumns + `
        FROM campaigns c LEFT JOIN templates t ON t.id = c.template_id
        WHERE c.id = $1`
	c, err := scanCampaign(r.DB.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.NewCampaignNotFound(id)
		}
		return nil, fmt.Errorf("get campaign: %w", err)
	}
	return c, nil
}

func (r *CampaignRepository) LoadForDispatch(ctx context.Context, id int) (*model.Campaign, []model.Subscriber, error) {
	tx, err := r.DB.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return nil, nil, fmt.Errorf("begin dispatch read: %w", err)
	}
	defer tx.Rollback()

	query := `SELECT ` + campaignColumns + `
        FROM campaigns c LEFT JOIN templates t ON t.id = c.template_id
        WHERE c.id = $1`
	c, err := scanCampaign(tx.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, appErrors.NewCampaignNotFound(id)
		}
		return nil, nil, fmt.Errorf("load campaign: %w", err)
	}

	subscribers, err := listSubscribers(ctx, tx, c.EmailListID, true)
	if err != nil {
		return nil, nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("commit dispatch read: %w", err)
	}
	return c, subscribers, nil
}

func (r *CampaignRepository) ListCampaigns(ctx context.Context, offset, limit int, status string) ([]*model.Campaign, int, error) {
	campaigns := []*model.Campaign{}
	query := `SELECT ` + campaignColumns + `
        FROM campaigns c LEFT JOIN templates t ON t.id = c.template_id
        WHERE 1=1`
	countQuery := `SELECT COUNT(*) FROM campaigns c WHERE 1=1`
	args := []interface{}{}
	argPos := 1

	if status != "" {
		filter := fmt.Sprintf(" AND c.status=$%d", argPos)
		query += filter
		countQuery += filter
		args = append(args, status)
		argPos++
	}

	var total int
	if err := r.DB.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count campaigns: %w", err)
	}

	query += fmt.Sprintf(" ORDER BY c.id DESC LIMIT $%d OFFSET $%d", argPos, argPos+1)
	rows, err := r.DB.QueryContext(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("list campaigns: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan campaign: %w", err)
		}
		campaigns = append(campaigns, c)
	}
	return campaigns, total, rows.Err()
}

// ====================== Writes ======================

func (r *CampaignRepository) Create(ctx context.Context, c *model.Campaign) error {
	if c.Status == "" {
		c.Status = model.StatusDraft
	}
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create campaign: %w", err)
	}
	defer tx.Rollback()

	query := `
        INSERT INTO campaigns
            (name, subject, preheader, from_name, from_email, status, email_list_id, template_id,
             campaign_content, version, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 1, NOW())
        RETURNING id, version, created_at`
	err = tx.QueryRowContext(ctx, query,
		c.Name, c.Subject, c.Preheader, c.FromName, c.FromEmail, c.Status,
		c.EmailListID, c.TemplateID, c.Content,
	).Scan(&c.ID, &c.Version, &c.CreatedAt)
	if err != nil {
		return fmt.Errorf("create campaign: %w", err)
	}

	if err := replaceTags(ctx, tx, c.ID, c.TagIDs); err != nil {
		return err
	}
	return tx.Commit()
}

func (r *CampaignRepository) Update(ctx context.Context, c *model.Campaign) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin update campaign: %w", err)
	}
	defer tx.Rollback()

	query := `
        UPDATE campaigns
        SET name=$1, subject=$2, preheader=$3, from_name=$4, from_email=$5,
            email_list_id=$6, template_id=$7, campaign_content=$8,
            version=version+1, updated_at=NOW()
        WHERE id=$9 AND version=$10 AND status='draft'
        RETURNING version, updated_at`
	err = tx.QueryRowContext(ctx, query,
		c.Name, c.Subject, c.Preheader, c.FromName, c.FromEmail,
		c.EmailListID, c.TemplateID, c.Content, c.ID, c.Version,
	).Scan(&c.Version, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.ErrPersistenceConflict
		}
		return fmt.Errorf("update campaign: %w", err)
	}

	if err := replaceTags(ctx, tx, c.ID, c.TagIDs); err != nil {
		return err
	}
	return tx.Commit()
}

// UpdateStatus persists status and job_id together in one statement.
func (r *CampaignRepository) UpdateStatus(ctx context.Context, c *model.Campaign) error {
	query := `
        UPDATE campaigns
        SET status=$1, job_id=$2, version=version+1, updated_at=NOW()
        WHERE id=$3 AND version=$4
        RETURNING version, updated_at`
	err := r.DB.QueryRowContext(ctx, query, c.Status, c.JobID, c.ID, c.Version).Scan(&c.Version, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.ErrPersistenceConflict
		}
		return fmt.Errorf("update campaign status: %w", err)
	}
	return nil
}

func (r *CampaignRepository) Delete(ctx context.Context, c *model.Campaign) error {
	res, err := r.DB.ExecContext(ctx,
		`DELETE FROM campaigns WHERE id=$1 AND version=$2 AND status='draft'`, c.ID, c.Version)
	if err != nil {
		return fmt.Errorf("delete campaign: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete campaign: %w", err)
	}
	if n == 0 {
		return appErrors.ErrPersistenceConflict
	}
	return nil
}

func replaceTags(ctx context.Context, tx *sql.Tx, campaignID int, tagIDs []int) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM campaign_tags WHERE campaign_id=$1`, campaignID); err != nil {
		return fmt.Errorf("clear campaign tags: %w", err)
	}
	if len(tagIDs) == 0 {
		return nil
	}
	_, err := tx.ExecContext(ctx, `
        INSERT INTO campaign_tags (campaign_id, tag_id)
        SELECT $1, unnest($2::int[])
        ON CONFLICT DO NOTHING`, campaignID, pq.Array(toInt64s(tagIDs)))
	if err != nil {
		return fmt.Errorf("set campaign tags: %w", err)
	}
	return nil
}

func toInts(in pq.Int64Array) []int {
	out := make([]int, len(in))
	for i, v := range in {
		out[i] = int(v)
	}
	return out
}

func toInt64s(in []int) []int64 {
	out := make([]int64, len(in))
	for i, v := range in {
		out[i] = int64(v)
	}
	return out
}

var _ CampaignRepositoryInterface = (*CampaignRepository)(nil)
