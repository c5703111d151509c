package service_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/unclebandit/campaign-dispatch/internal/errors"
	"github.com/unclebandit/campaign-dispatch/internal/model"
	"github.com/unclebandit/campaign-dispatch/internal/service"
)

func newCampaignService() (*service.CampaignService, *memCampaignRepo, *memLogRepo) {
	repo := newMemCampaignRepo()
	logs := &memLogRepo{}
	subscribers := &memSubscriberRepo{subscribers: map[int]model.Subscriber{
		1: {ID: 1, Email: "ada@example.com", FirstName: "Ada", Status: model.Subscribed},
	}}
	return &service.CampaignService{
		CampaignRepo:   repo,
		SubscriberRepo: subscribers,
		LogRepo:        logs,
		Renderer:       service.NewLiquidRenderer(),
	}, repo, logs
}

func validInput() service.CampaignInput {
	return service.CampaignInput{
		Name:        "Spring",
		Subject:     "Sale",
		FromName:    "Shop",
		FromEmail:   "news@shop.test",
		EmailListID: 1,
		TemplateID:  1,
		Content:     "Hi {{ subscriber_first_name }}",
		TagIDs:      []int{1, 2},
	}
}

func TestListCampaigns_Pagination(t *testing.T) {
	svc, repo, _ := newCampaignService()
	for i := 1; i <= 25; i++ {
		repo.add(model.Campaign{Name: fmt.Sprintf("c%d", i)})
	}

	tests := []struct {
		name      string
		page      int
		pageSize  int
		wantLen   int
		wantPage  int
		wantSize  int
		wantPages int
		wantFirst int
	}{
		{"first page", 1, 10, 10, 1, 10, 3, 25},
		{"last partial page", 3, 10, 5, 3, 10, 3, 5},
		{"defaults", 0, 0, 20, 1, 20, 2, 25},
		{"page size capped", 1, 500, 25, 1, 100, 1, 25},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			campaigns, pagination, err := svc.ListCampaigns(context.Background(), tt.page, tt.pageSize, "")
			require.NoError(t, err)
			assert.Len(t, campaigns, tt.wantLen)
			assert.Equal(t, tt.wantFirst, campaigns[0].ID)
			assert.Equal(t, tt.wantPage, pagination["page"])
			assert.Equal(t, tt.wantSize, pagination["page_size"])
			assert.Equal(t, 25, pagination["total_count"])
			assert.Equal(t, tt.wantPages, pagination["total_pages"])
		})
	}
}

func TestListCampaigns_PageBeyondEnd(t *testing.T) {
	svc, repo, _ := newCampaignService()
	repo.add(model.Campaign{})

	campaigns, pagination, err := svc.ListCampaigns(context.Background(), 5, 10, "")
	require.NoError(t, err)
	assert.Empty(t, campaigns)
	assert.Equal(t, 1, pagination["total_count"])
}

func TestListCampaigns_StatusFilter(t *testing.T) {
	svc, repo, _ := newCampaignService()
	repo.add(model.Campaign{})
	repo.add(model.Campaign{Status: model.StatusSent})

	campaigns, _, err := svc.ListCampaigns(context.Background(), 1, 10, "sent")
	require.NoError(t, err)
	require.Len(t, campaigns, 1)
	assert.Equal(t, model.StatusSent, campaigns[0].Status)

	_, _, err = svc.ListCampaigns(context.Background(), 1, 10, "bogus")
	assert.ErrorIs(t, err, appErrors.ErrInvalidInput)
}

func TestCreateCampaign(t *testing.T) {
	svc, repo, _ := newCampaignService()

	c, err := svc.CreateCampaign(context.Background(), validInput())
	require.NoError(t, err)
	assert.NotZero(t, c.ID)
	assert.Equal(t, model.StatusDraft, c.Status)
	assert.Equal(t, []int{1, 2}, repo.get(c.ID).TagIDs)
}

func TestCreateCampaign_Validation(t *testing.T) {
	svc, _, _ := newCampaignService()
	cases := map[string]func(*service.CampaignInput){
		"name":       func(in *service.CampaignInput) { in.Name = " " },
		"subject":    func(in *service.CampaignInput) { in.Subject = "" },
		"from name":  func(in *service.CampaignInput) { in.FromName = "" },
		"from email": func(in *service.CampaignInput) { in.FromEmail = "not-an-address" },
		"list":       func(in *service.CampaignInput) { in.EmailListID = 0 },
		"template":   func(in *service.CampaignInput) { in.TemplateID = -1 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			in := validInput()
			mutate(&in)
			_, err := svc.CreateCampaign(context.Background(), in)
			assert.ErrorIs(t, err, appErrors.ErrInvalidInput)
		})
	}
}

func TestUpdateCampaign(t *testing.T) {
	svc, repo, _ := newCampaignService()
	draft := repo.add(model.Campaign{Name: "old"})

	in := validInput()
	in.Name = "new"
	c, err := svc.UpdateCampaign(context.Background(), draft.ID, in)
	require.NoError(t, err)
	assert.Equal(t, "new", c.Name)
	assert.Equal(t, 2, c.Version)
}

func TestUpdateCampaign_OnlyDraft(t *testing.T) {
	svc, repo, _ := newCampaignService()
	sent := repo.add(model.Campaign{Status: model.StatusSent})

	_, err := svc.UpdateCampaign(context.Background(), sent.ID, validInput())
	assert.ErrorIs(t, err, appErrors.ErrNotEditable)

	err = svc.DeleteCampaign(context.Background(), sent.ID)
	assert.ErrorIs(t, err, appErrors.ErrNotEditable)
}

func TestDeleteCampaign(t *testing.T) {
	svc, repo, _ := newCampaignService()
	draft := repo.add(model.Campaign{})

	require.NoError(t, svc.DeleteCampaign(context.Background(), draft.ID))
	_, err := svc.GetCampaignDetails(context.Background(), draft.ID)
	assert.True(t, appErrors.IsNotFound(err))
}

func TestReplicateCampaign(t *testing.T) {
	svc, repo, _ := newCampaignService()
	jobID := "job-1"
	src := repo.add(model.Campaign{Name: "src", Status: model.StatusSentWithFailure, JobID: &jobID, TagIDs: []int{3}})

	replica, err := svc.ReplicateCampaign(context.Background(), src.ID)
	require.NoError(t, err)
	assert.NotEqual(t, src.ID, replica.ID)
	assert.Equal(t, model.StatusDraft, replica.Status)
	assert.Nil(t, replica.JobID)
	assert.Equal(t, "src", replica.Name)
	assert.Equal(t, []int{3}, replica.TagIDs)
	assert.Equal(t, model.StatusSentWithFailure, repo.status(src.ID))
}

func TestGetCampaignDetailsWithStats(t *testing.T) {
	svc, repo, logs := newCampaignService()
	c := repo.add(model.Campaign{Status: model.StatusSentWithFailure})
	ctx := context.Background()
	require.NoError(t, logs.Record(ctx, &model.CampaignLog{CampaignID: c.ID, BatchID: "b", SubscriberID: 1, Status: model.TaskSuccess}))
	require.NoError(t, logs.Record(ctx, &model.CampaignLog{CampaignID: c.ID, BatchID: "b", SubscriberID: 2, Status: model.TaskSuccess}))
	require.NoError(t, logs.Record(ctx, &model.CampaignLog{CampaignID: c.ID, BatchID: "b", SubscriberID: 3, Status: model.TaskFailed}))

	details, err := svc.GetCampaignDetailsWithStats(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"total": 3, "sent": 2, "failed": 1}, details.Stats)
	assert.Equal(t, model.StatusSentWithFailure, details.Status)
}

func TestCampaignLogs(t *testing.T) {
	svc, repo, logs := newCampaignService()
	draft := repo.add(model.Campaign{})
	sent := repo.add(model.Campaign{Status: model.StatusSent})
	require.NoError(t, logs.Record(context.Background(), &model.CampaignLog{CampaignID: sent.ID, BatchID: "b", SubscriberID: 1, Status: model.TaskSuccess}))

	_, err := svc.CampaignLogs(context.Background(), draft.ID)
	assert.ErrorIs(t, err, appErrors.ErrLogsUnavailable)

	entries, err := svc.CampaignLogs(context.Background(), sent.ID)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestRenderPreview(t *testing.T) {
	svc, repo, _ := newCampaignService()
	c := repo.add(model.Campaign{Subject: "s", Content: "Hi {{ subscriber_first_name }}"})

	msg, err := svc.RenderPreview(context.Background(), c.ID, 1, nil)
	require.NoError(t, err)
	assert.Equal(t, "Hi Ada", msg.HTML)

	override := "Bye {{ subscriber_first_name }}"
	msg, err = svc.RenderPreview(context.Background(), c.ID, 1, &override)
	require.NoError(t, err)
	assert.Equal(t, "Bye Ada", msg.HTML)
	assert.Equal(t, "Hi {{ subscriber_first_name }}", repo.get(c.ID).Content)
}

func TestRenderPreview_Errors(t *testing.T) {
	svc, repo, _ := newCampaignService()
	empty := repo.add(model.Campaign{Subject: "s"})

	_, err := svc.RenderPreview(context.Background(), empty.ID, 1, nil)
	assert.ErrorIs(t, err, appErrors.ErrInvalidInput)

	_, err = svc.RenderPreview(context.Background(), empty.ID, 42, nil)
	assert.True(t, appErrors.IsNotFound(err))
}
