// internal/controller/campaign_controller.go
package controller

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	appErrors "github.com/unclebandit/campaign-dispatch/internal/errors"
	"github.com/unclebandit/campaign-dispatch/internal/handler"
	"github.com/unclebandit/campaign-dispatch/internal/model"
	"github.com/unclebandit/campaign-dispatch/internal/service"
)

// CampaignDispatcher starts and cancels campaigns on behalf of a user.
type CampaignDispatcher interface {
	Start(ctx context.Context, campaignID int, actorID string) (*model.Campaign, error)
	Cancel(ctx context.Context, campaignID int, actorID string) (*model.Campaign, error)
}

type CampaignController struct {
	CampaignService *service.CampaignService
	Dispatcher      CampaignDispatcher
	Logger          *zap.Logger
}

func decode(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: invalid body: %v", appErrors.ErrInvalidInput, err)
	}
	return nil
}

func (c *CampaignController) PersonalizedPreview(w http.ResponseWriter, r *http.Request) {
	campaignID, ok := handler.CampaignID(w, r)
	if !ok {
		return
	}

	var body struct {
		SubscriberID    int     `json:"subscriber_id"`
		OverrideContent *string `json:"override_content"`
	}
	if err := decode(r, &body); err != nil {
		handler.WriteError(w, c.Logger, err)
		return
	}

	rendered, err := c.CampaignService.RenderPreview(r.Context(), campaignID, body.SubscriberID, body.OverrideContent)
	if err != nil {
		handler.WriteError(w, c.Logger, err)
		return
	}

	handler.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"rendered_message": rendered,
		"used_override":    body.OverrideContent != nil,
		"subscriber_id":    body.SubscriberID,
	})
}

func (c *CampaignController) CreateCampaign(w http.ResponseWriter, r *http.Request) {
	var body service.CampaignInput
	if err := decode(r, &body); err != nil {
		handler.WriteError(w, c.Logger, err)
		return
	}

	campaign, err := c.CampaignService.CreateCampaign(r.Context(), body)
	if err != nil {
		handler.WriteError(w, c.Logger, err)
		return
	}

	handler.WriteJSON(w, http.StatusCreated, campaign)
}

func (c *CampaignController) UpdateCampaign(w http.ResponseWriter, r *http.Request) {
	id, ok := handler.CampaignID(w, r)
	if !ok {
		return
	}
	var body service.CampaignInput
	if err := decode(r, &body); err != nil {
		handler.WriteError(w, c.Logger, err)
		return
	}

	campaign, err := c.CampaignService.UpdateCampaign(r.Context(), id, body)
	if err != nil {
		handler.WriteError(w, c.Logger, err)
		return
	}
	handler.WriteJSON(w, http.StatusOK, campaign)
}

func (c *CampaignController) DeleteCampaign(w http.ResponseWriter, r *http.Request) {
	id, ok := handler.CampaignID(w, r)
	if !ok {
		return
	}
	if err := c.CampaignService.DeleteCampaign(r.Context(), id); err != nil {
		handler.WriteError(w, c.Logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (c *CampaignController) ReplicateCampaign(w http.ResponseWriter, r *http.Request) {
	id, ok := handler.CampaignID(w, r)
	if !ok {
		return
	}
	replica, err := c.CampaignService.ReplicateCampaign(r.Context(), id)
	if err != nil {
		handler.WriteError(w, c.Logger, err)
		return
	}
	handler.WriteJSON(w, http.StatusCreated, replica)
}

func (c *CampaignController) ListCampaigns(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("page_size"))
	status := r.URL.Query().Get("status")

	campaigns, pagination, err := c.CampaignService.ListCampaigns(r.Context(), page, pageSize, status)
	if err != nil {
		handler.WriteError(w, c.Logger, err)
		return
	}

	handler.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"data":       campaigns,
		"pagination": pagination, // already contains total_count, total_pages, page, page_size
	})
}

// StartCampaign dispatches a draft campaign. The campaign is returned
// queued; delivery continues in the background.
func (c *CampaignController) StartCampaign(w http.ResponseWriter, r *http.Request) {
	id, ok := handler.CampaignID(w, r)
	if !ok {
		return
	}

	campaign, err := c.Dispatcher.Start(r.Context(), id, r.Header.Get(handler.ActorHeader))
	if err != nil {
		handler.WriteError(w, c.Logger, err)
		return
	}

	handler.WriteJSON(w, http.StatusAccepted, map[string]interface{}{
		"campaign_id": campaign.ID,
		"job_id":      campaign.JobID,
		"status":      campaign.Status,
	})
}

func (c *CampaignController) CancelCampaign(w http.ResponseWriter, r *http.Request) {
	id, ok := handler.CampaignID(w, r)
	if !ok {
		return
	}

	campaign, err := c.Dispatcher.Cancel(r.Context(), id, r.Header.Get(handler.ActorHeader))
	if err != nil {
		handler.WriteError(w, c.Logger, err)
		return
	}
	handler.WriteJSON(w, http.StatusOK, campaign)
}
