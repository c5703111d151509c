package repository

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unclebandit/campaign-dispatch/internal/model"
)

func TestCampaignLogRepository_RecordUpserts(t *testing.T) {
	conn, mock := newMock(t)
	repo := &CampaignLogRepository{DB: conn}
	created := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("ON CONFLICT (batch_id, subscriber_id) DO UPDATE")).
		WithArgs(7, "b-1", 10, "a@example.com", model.TaskFailed, "smtp down", 3, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(44, created))

	log := &model.CampaignLog{
		CampaignID: 7, BatchID: "b-1", SubscriberID: 10, Email: "a@example.com",
		Status: model.TaskFailed, LastError: "smtp down", Attempts: 3,
	}
	require.NoError(t, repo.Record(context.Background(), log))
	assert.Equal(t, 44, log.ID)
	assert.Equal(t, created, log.CreatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCampaignLogRepository_RecordError(t *testing.T) {
	conn, mock := newMock(t)
	repo := &CampaignLogRepository{DB: conn}

	mock.ExpectQuery("INSERT INTO campaign_logs").WillReturnError(errors.New("conn reset"))

	err := repo.Record(context.Background(), &model.CampaignLog{CampaignID: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "conn reset")
}

func TestCampaignLogRepository_ListByCampaign(t *testing.T) {
	conn, mock := newMock(t)
	repo := &CampaignLogRepository{DB: conn}
	now := time.Now()

	mock.ExpectQuery("FROM campaign_logs").WithArgs(7).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "campaign_id", "batch_id", "subscriber_id", "email", "status", "last_error", "attempts", "created_at", "updated_at",
		}).
			AddRow(1, 7, "b-1", 10, "a@example.com", "success", "", 1, now, now).
			AddRow(2, 7, "b-1", 11, "b@example.com", "failure", "bounced", 3, now, now))

	logs, err := repo.ListByCampaign(context.Background(), 7)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, model.TaskSuccess, logs[0].Status)
	assert.Equal(t, "bounced", logs[1].LastError)
}

func TestCampaignLogRepository_Stats(t *testing.T) {
	conn, mock := newMock(t)
	repo := &CampaignLogRepository{DB: conn}

	mock.ExpectQuery("GROUP BY status").WithArgs(7).
		WillReturnRows(sqlmock.NewRows([]string{"status", "count"}).
			AddRow("success", 8).
			AddRow("failure", 2))

	stats, err := repo.Stats(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, 8, stats[model.TaskSuccess])
	assert.Equal(t, 2, stats[model.TaskFailed])
}

func TestNotificationRepository_CreateAndList(t *testing.T) {
	conn, mock := newMock(t)
	repo := &NotificationRepository{DB: conn}
	now := time.Now()

	mock.ExpectQuery("INSERT INTO notifications").
		WithArgs("u-1", model.LevelSuccess, "Campaign Started", "").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(3, now))
	mock.ExpectQuery("FROM notifications").WithArgs("u-1", 50).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "level", "title", "body", "created_at"}).
			AddRow(3, "u-1", "success", "Campaign Started", "", now))

	n := &model.Notification{UserID: "u-1", Level: model.LevelSuccess, Title: "Campaign Started"}
	require.NoError(t, repo.Create(context.Background(), n))
	assert.Equal(t, 3, n.ID)

	list, err := repo.ListByUser(context.Background(), "u-1", 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "Campaign Started", list[0].Title)
	assert.NoError(t, mock.ExpectationsWereMet())
}
