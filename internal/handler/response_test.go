package handler_test

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	appErrors "github.com/unclebandit/campaign-dispatch/internal/errors"
	"github.com/unclebandit/campaign-dispatch/internal/handler"
)

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{appErrors.NewCampaignNotFound(1), http.StatusNotFound},
		{appErrors.NewSubscriberNotFound(1), http.StatusNotFound},
		{appErrors.ErrBatchNotFound, http.StatusNotFound},
		{fmt.Errorf("%w: start from sent", appErrors.ErrInvalidTransition), http.StatusConflict},
		{appErrors.ErrNotEditable, http.StatusConflict},
		{fmt.Errorf("queue campaign 1: %w", appErrors.ErrPersistenceConflict), http.StatusConflict},
		{appErrors.ErrLogsUnavailable, http.StatusConflict},
		{appErrors.ErrStartInProgress, http.StatusLocked},
		{appErrors.NewSetupError(1, "load", errors.New("db down")), http.StatusUnprocessableEntity},
		{appErrors.NewBatchError("b", "release", errors.New("closed")), http.StatusUnprocessableEntity},
		{fmt.Errorf("%w: name is required", appErrors.ErrInvalidInput), http.StatusBadRequest},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, handler.StatusFor(tt.err))
		})
	}
}

func TestWriteError_HidesInternalErrors(t *testing.T) {
	w := httptest.NewRecorder()
	handler.WriteError(w, zaptest.NewLogger(t), errors.New("pq: password authentication failed"))

	require.Equal(t, http.StatusInternalServerError, w.Code)
	var body map[string]string
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, "internal server error", body["error"])
}

func TestWriteError_ExposesClientErrors(t *testing.T) {
	w := httptest.NewRecorder()
	handler.WriteError(w, nil, appErrors.ErrNotEditable)

	require.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Body.String(), appErrors.ErrNotEditable.Error())
}
