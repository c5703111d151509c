// internal/handler/campaign_handler.go
package handler

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	appErrors "github.com/unclebandit/campaign-dispatch/internal/errors"
	"github.com/unclebandit/campaign-dispatch/internal/model"
	"github.com/unclebandit/campaign-dispatch/internal/repository"
	"github.com/unclebandit/campaign-dispatch/internal/service"
)

// ActorHeader carries the id of the user acting on a campaign.
const ActorHeader = "X-User-ID"

// BatchStatusReader looks up the aggregate of a dispatch batch.
type BatchStatusReader interface {
	Status(ctx context.Context, batchID string) (model.BatchResult, error)
}

// CampaignHandler serves the read side of the API.
type CampaignHandler struct {
	Service       *service.CampaignService
	Batches       BatchStatusReader
	Notifications repository.NotificationRepositoryInterface
	Logger        *zap.Logger
}

// GetCampaignHandlerWithStats returns a campaign with its delivery counters.
func (h *CampaignHandler) GetCampaignHandlerWithStats(w http.ResponseWriter, r *http.Request) {
	id, ok := CampaignID(w, r)
	if !ok {
		return
	}

	details, err := h.Service.GetCampaignDetailsWithStats(r.Context(), id)
	if err != nil {
		WriteError(w, h.Logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, details)
}

// CampaignLogsHandler lists per-subscriber outcomes of a finished campaign.
func (h *CampaignHandler) CampaignLogsHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := CampaignID(w, r)
	if !ok {
		return
	}

	logs, err := h.Service.CampaignLogs(r.Context(), id)
	if err != nil {
		WriteError(w, h.Logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{"data": logs})
}

func (h *CampaignHandler) BatchStatusHandler(w http.ResponseWriter, r *http.Request) {
	result, err := h.Batches.Status(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		WriteError(w, h.Logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"batch":   result,
		"outcome": result.Outcome(),
		"pending": result.PendingJobs(),
	})
}

// NotificationsHandler returns the calling user's latest notifications.
func (h *CampaignHandler) NotificationsHandler(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get(ActorHeader)
	if userID == "" {
		WriteError(w, h.Logger, fmt.Errorf("%w: %s header is required", appErrors.ErrInvalidInput, ActorHeader))
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	notifications, err := h.Notifications.ListByUser(r.Context(), userID, limit)
	if err != nil {
		WriteError(w, h.Logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{"data": notifications})
}

// CampaignID parses the {id} URL parameter, answering 400 when it is not a
// positive integer.
func CampaignID(w http.ResponseWriter, r *http.Request) (int, bool) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil || id <= 0 {
		WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid campaign id"})
		return 0, false
	}
	return id, true
}
