package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/unclebandit/campaign-dispatch/internal/errors"
	"github.com/unclebandit/campaign-dispatch/internal/model"
)

var campaignCols = []string{
	"id", "name", "subject", "preheader", "from_name", "from_email", "status", "job_id",
	"email_list_id", "template_id", "content", "campaign_content", "version",
	"created_at", "updated_at", "tags",
}

func newMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn, mock
}

func campaignRow(created time.Time) *sqlmock.Rows {
	return sqlmock.NewRows(campaignCols).AddRow(
		7, "Spring", "Hello", "", "Shop", "shop@example.com", "draft", nil,
		2, 1, "<p>{{ content }}</p>", "Hi {{ subscriber_first_name }}", 3,
		created, nil, "{1,3}",
	)
}

func TestCampaignRepository_GetByID(t *testing.T) {
	conn, mock := newMock(t)
	repo := &CampaignRepository{DB: conn}
	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("FROM campaigns c LEFT JOIN templates t")).
		WithArgs(7).
		WillReturnRows(campaignRow(created))

	c, err := repo.GetByID(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, 7, c.ID)
	assert.Equal(t, model.StatusDraft, c.Status)
	assert.Nil(t, c.JobID)
	assert.Nil(t, c.UpdatedAt)
	assert.Equal(t, []int{1, 3}, c.TagIDs)
	assert.Equal(t, 3, c.Version)
	assert.Equal(t, "<p>{{ content }}</p>", c.TemplateContent)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCampaignRepository_GetByIDNotFound(t *testing.T) {
	conn, mock := newMock(t)
	repo := &CampaignRepository{DB: conn}

	mock.ExpectQuery("FROM campaigns").WithArgs(99).WillReturnRows(sqlmock.NewRows(campaignCols))

	_, err := repo.GetByID(context.Background(), 99)
	require.Error(t, err)
	assert.True(t, appErrors.IsNotFound(err))
}

func TestCampaignRepository_LoadForDispatch(t *testing.T) {
	conn, mock := newMock(t)
	repo := &CampaignRepository{DB: conn}

	mock.ExpectBegin()
	mock.ExpectQuery("FROM campaigns c").WithArgs(7).WillReturnRows(campaignRow(time.Now()))
	mock.ExpectQuery(regexp.QuoteMeta("FROM subscribers s WHERE s.email_list_id = $1 AND s.status = 'subscribed'")).
		WithArgs(2).
		WillReturnRows(sqlmock.NewRows([]string{"id", "email_list_id", "email", "first_name", "last_name", "status", "tags"}).
			AddRow(10, 2, "a@example.com", "Ann", "Lee", "subscribed", "{1}").
			AddRow(11, 2, "b@example.com", "Bo", "Kim", "subscribed", "{}"))
	mock.ExpectCommit()

	c, subs, err := repo.LoadForDispatch(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, 7, c.ID)
	require.Len(t, subs, 2)
	assert.Equal(t, []int{1}, subs[0].TagIDs)
	assert.Empty(t, subs[1].TagIDs)
	assert.True(t, subs[1].IsSubscribed())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCampaignRepository_LoadForDispatchNotFoundRollsBack(t *testing.T) {
	conn, mock := newMock(t)
	repo := &CampaignRepository{DB: conn}

	mock.ExpectBegin()
	mock.ExpectQuery("FROM campaigns c").WithArgs(5).WillReturnRows(sqlmock.NewRows(campaignCols))
	mock.ExpectRollback()

	_, _, err := repo.LoadForDispatch(context.Background(), 5)
	assert.True(t, appErrors.IsNotFound(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCampaignRepository_UpdateStatus(t *testing.T) {
	conn, mock := newMock(t)
	repo := &CampaignRepository{DB: conn}
	jobID := "b-1"
	c := &model.Campaign{ID: 7, Status: model.StatusQueued, JobID: &jobID, Version: 3}
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta("WHERE id=$3 AND version=$4")).
		WithArgs(model.StatusQueued, &jobID, 7, 3).
		WillReturnRows(sqlmock.NewRows([]string{"version", "updated_at"}).AddRow(4, now))

	require.NoError(t, repo.UpdateStatus(context.Background(), c))
	assert.Equal(t, 4, c.Version)
	require.NotNil(t, c.UpdatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCampaignRepository_UpdateStatusConflict(t *testing.T) {
	conn, mock := newMock(t)
	repo := &CampaignRepository{DB: conn}
	c := &model.Campaign{ID: 7, Status: model.StatusSent, Version: 3}

	mock.ExpectQuery("UPDATE campaigns").WillReturnRows(sqlmock.NewRows([]string{"version", "updated_at"}))

	err := repo.UpdateStatus(context.Background(), c)
	assert.ErrorIs(t, err, appErrors.ErrPersistenceConflict)
	assert.Equal(t, 3, c.Version)
}

func TestCampaignRepository_CreateWithTags(t *testing.T) {
	conn, mock := newMock(t)
	repo := &CampaignRepository{DB: conn}
	c := &model.Campaign{Name: "Spring", Subject: "Hi", FromName: "Shop", FromEmail: "s@example.com",
		EmailListID: 2, TemplateID: 1, TagIDs: []int{4, 5}}

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO campaigns").
		WillReturnRows(sqlmock.NewRows([]string{"id", "version", "created_at"}).AddRow(12, 1, time.Now()))
	mock.ExpectExec("DELETE FROM campaign_tags").WithArgs(12).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO campaign_tags").WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	require.NoError(t, repo.Create(context.Background(), c))
	assert.Equal(t, 12, c.ID)
	assert.Equal(t, model.StatusDraft, c.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCampaignRepository_DeleteConflict(t *testing.T) {
	conn, mock := newMock(t)
	repo := &CampaignRepository{DB: conn}

	mock.ExpectExec("DELETE FROM campaigns").WithArgs(7, 2).WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Delete(context.Background(), &model.Campaign{ID: 7, Version: 2})
	assert.ErrorIs(t, err, appErrors.ErrPersistenceConflict)
}

func TestCampaignRepository_ListCampaignsWithStatus(t *testing.T) {
	conn, mock := newMock(t)
	repo := &CampaignRepository{DB: conn}

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM campaigns c WHERE 1=1 AND c.status=$1")).
		WithArgs("draft").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY c.id DESC LIMIT $2 OFFSET $3")).
		WithArgs("draft", 10, 0).
		WillReturnRows(campaignRow(time.Now()))

	list, total, err := repo.ListCampaigns(context.Background(), 0, 10, "draft")
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, list, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}
