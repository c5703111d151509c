// internal/service/campaign_service.go
package service

import (
	"context"
	"fmt"
	"net/mail"
	"strings"
	"time"

	appErrors "github.com/unclebandit/campaign-dispatch/internal/errors"
	"github.com/unclebandit/campaign-dispatch/internal/model"
	"github.com/unclebandit/campaign-dispatch/internal/repository"
)

type CampaignService struct {
	CampaignRepo   repository.CampaignRepositoryInterface
	SubscriberRepo repository.SubscriberRepositoryInterface
	LogRepo        repository.CampaignLogRepositoryInterface
	Renderer       Renderer
}

// CampaignInput holds the editable fields of a campaign.
type CampaignInput struct {
	Name        string `json:"name"`
	Subject     string `json:"subject"`
	Preheader   string `json:"preheader"`
	FromName    string `json:"from_name"`
	FromEmail   string `json:"from_email"`
	EmailListID int    `json:"email_list_id"`
	TemplateID  int    `json:"template_id"`
	Content     string `json:"content"`
	TagIDs      []int  `json:"tag_ids"`
}

func (in CampaignInput) validate() error {
	switch {
	case strings.TrimSpace(in.Name) == "":
		return fmt.Errorf("%w: name is required", appErrors.ErrInvalidInput)
	case strings.TrimSpace(in.Subject) == "":
		return fmt.Errorf("%w: subject is required", appErrors.ErrInvalidInput)
	case strings.TrimSpace(in.FromName) == "":
		return fmt.Errorf("%w: from_name is required", appErrors.ErrInvalidInput)
	case in.EmailListID <= 0:
		return fmt.Errorf("%w: email_list_id is required", appErrors.ErrInvalidInput)
	case in.TemplateID <= 0:
		return fmt.Errorf("%w: template_id is required", appErrors.ErrInvalidInput)
	}
	if _, err := mail.ParseAddress(in.FromEmail); err != nil {
		return fmt.Errorf("%w: from_email: %v", appErrors.ErrInvalidInput, err)
	}
	return nil
}

func (in CampaignInput) apply(c *model.Campaign) {
	c.Name = strings.TrimSpace(in.Name)
	c.Subject = in.Subject
	c.Preheader = in.Preheader
	c.FromName = in.FromName
	c.FromEmail = in.FromEmail
	c.EmailListID = in.EmailListID
	c.TemplateID = in.TemplateID
	c.Content = in.Content
	c.TagIDs = append([]int(nil), in.TagIDs...)
}

type CampaignDetails struct {
	ID          int                  `json:"id"`
	Name        string               `json:"name"`
	Subject     string               `json:"subject"`
	Status      model.CampaignStatus `json:"status"`
	JobID       *string              `json:"job_id,omitempty"`
	EmailListID int                  `json:"email_list_id"`
	TemplateID  int                  `json:"template_id"`
	TagIDs      []int                `json:"tag_ids"`
	Version     int                  `json:"version"`
	CreatedAt   time.Time            `json:"created_at"`
	UpdatedAt   *time.Time           `json:"updated_at"`
	Stats       map[string]int       `json:"stats"`
}

func (s *CampaignService) CreateCampaign(ctx context.Context, in CampaignInput) (*model.Campaign, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	c := &model.Campaign{Status: model.StatusDraft}
	in.apply(c)

	if err := s.CampaignRepo.Create(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// UpdateCampaign changes a draft campaign.
func (s *CampaignService) UpdateCampaign(ctx context.Context, id int, in CampaignInput) (*model.Campaign, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	c, err := s.CampaignRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !Editable(c.Status) {
		return nil, appErrors.ErrNotEditable
	}
	in.apply(c)
	if err := s.CampaignRepo.Update(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// DeleteCampaign removes a draft campaign.
func (s *CampaignService) DeleteCampaign(ctx context.Context, id int) error {
	c, err := s.CampaignRepo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if !Editable(c.Status) {
		return appErrors.ErrNotEditable
	}
	return s.CampaignRepo.Delete(ctx, c)
}

// ReplicateCampaign copies any campaign into a new draft.
func (s *CampaignService) ReplicateCampaign(ctx context.Context, id int) (*model.Campaign, error) {
	c, err := s.CampaignRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	replica := c.Replica()
	if err := s.CampaignRepo.Create(ctx, replica); err != nil {
		return nil, err
	}
	return replica, nil
}

// ListCampaigns fetches campaigns with pagination
func (s *CampaignService) ListCampaigns(ctx context.Context, page, pageSize int, status string) ([]model.Campaign, map[string]int, error) {
	if status != "" && !model.CampaignStatus(status).IsValid() {
		return nil, nil, fmt.Errorf("%w: unknown status %q", appErrors.ErrInvalidInput, status)
	}
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	offset := (page - 1) * pageSize

	ptrs, total, err := s.CampaignRepo.ListCampaigns(ctx, offset, pageSize, status)
	if err != nil {
		return nil, nil, err
	}

	campaigns := make([]model.Campaign, len(ptrs))
	for i, c := range ptrs {
		campaigns[i] = *c
	}

	totalPages := (total + pageSize - 1) / pageSize
	pagination := map[string]int{
		"page":        page,
		"page_size":   pageSize,
		"total_count": total,
		"total_pages": totalPages,
	}

	return campaigns, pagination, nil
}

// GetCampaignDetails fetches a campaign by ID
func (s *CampaignService) GetCampaignDetails(ctx context.Context, id int) (*model.Campaign, error) {
	return s.CampaignRepo.GetByID(ctx, id)
}

func (s *CampaignService) GetCampaignDetailsWithStats(ctx context.Context, campaignID int) (*CampaignDetails, error) {
	campaign, err := s.CampaignRepo.GetByID(ctx, campaignID)
	if err != nil {
		return nil, err
	}

	counts, err := s.LogRepo.Stats(ctx, campaignID)
	if err != nil {
		return nil, err
	}

	stats := map[string]int{
		"total":  0,
		"sent":   counts[model.TaskSuccess],
		"failed": counts[model.TaskFailed],
	}
	for _, n := range counts {
		stats["total"] += n
	}

	return &CampaignDetails{
		ID:          campaign.ID,
		Name:        campaign.Name,
		Subject:     campaign.Subject,
		Status:      campaign.Status,
		JobID:       campaign.JobID,
		EmailListID: campaign.EmailListID,
		TemplateID:  campaign.TemplateID,
		TagIDs:      campaign.TagIDs,
		Version:     campaign.Version,
		CreatedAt:   campaign.CreatedAt,
		UpdatedAt:   campaign.UpdatedAt,
		Stats:       stats,
	}, nil
}

// RenderPreview renders the campaign for one subscriber. A non-empty
// override replaces the campaign content for this preview only.
func (s *CampaignService) RenderPreview(ctx context.Context, campaignID, subscriberID int, overrideContent *string) (*model.RenderedMessage, error) {
	campaign, err := s.CampaignRepo.GetByID(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	subscriber, err := s.SubscriberRepo.GetByID(ctx, subscriberID)
	if err != nil {
		return nil, err
	}

	if overrideContent != nil && strings.TrimSpace(*overrideContent) != "" {
		campaign.Content = *overrideContent
	}
	if strings.TrimSpace(campaign.Content) == "" {
		return nil, fmt.Errorf("%w: content cannot be empty", appErrors.ErrInvalidInput)
	}

	msg, err := s.Renderer.Render(campaign, subscriber)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", appErrors.ErrInvalidInput, err)
	}
	return &msg, nil
}

// CampaignLogs lists per-subscriber outcomes once a campaign has finished sending.
func (s *CampaignService) CampaignLogs(ctx context.Context, campaignID int) ([]model.CampaignLog, error) {
	campaign, err := s.CampaignRepo.GetByID(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	switch campaign.Status {
	case model.StatusSent, model.StatusSentWithFailure, model.StatusFailed:
	default:
		return nil, appErrors.ErrLogsUnavailable
	}
	return s.LogRepo.ListByCampaign(ctx, campaignID)
}
