package service_test

import (
	"context"
	"sort"
	"sync"
	"time"

	appErrors "github.com/unclebandit/campaign-dispatch/internal/errors"
	"github.com/unclebandit/campaign-dispatch/internal/lock"
	"github.com/unclebandit/campaign-dispatch/internal/model"
	"github.com/unclebandit/campaign-dispatch/internal/repository"
)

// ====================== Campaign repository ======================

type memCampaignRepo struct {
	mu          sync.Mutex
	campaigns   map[int]model.Campaign
	subscribers map[int][]model.Subscriber // by email list
	history     map[int][]model.CampaignStatus
	nextID      int

	updateStatusErr error
	loadErr         error
}

func newMemCampaignRepo() *memCampaignRepo {
	return &memCampaignRepo{
		campaigns:   map[int]model.Campaign{},
		subscribers: map[int][]model.Subscriber{},
		history:     map[int][]model.CampaignStatus{},
		nextID:      1,
	}
}

func (r *memCampaignRepo) add(c model.Campaign) *model.Campaign {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c.ID == 0 {
		c.ID = r.nextID
	}
	if c.ID >= r.nextID {
		r.nextID = c.ID + 1
	}
	if c.Status == "" {
		c.Status = model.StatusDraft
	}
	if c.Version == 0 {
		c.Version = 1
	}
	r.campaigns[c.ID] = c
	return &c
}

func (r *memCampaignRepo) status(id int) model.CampaignStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.campaigns[id].Status
}

func (r *memCampaignRepo) statusHistory(id int) []model.CampaignStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.CampaignStatus(nil), r.history[id]...)
}

func (r *memCampaignRepo) get(id int) model.Campaign {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.campaigns[id]
}

func (r *memCampaignRepo) ListCampaigns(_ context.Context, offset, limit int, status string) ([]*model.Campaign, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	all := []*model.Campaign{}
	for _, c := range r.campaigns {
		if status != "" && string(c.Status) != status {
			continue
		}
		c := c
		all = append(all, &c)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID > all[j].ID })

	if offset >= len(all) {
		return []*model.Campaign{}, len(all), nil
	}
	end := min(offset+limit, len(all))
	return all[offset:end], len(all), nil
}

func (r *memCampaignRepo) GetByID(_ context.Context, id int) (*model.Campaign, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.campaigns[id]
	if !ok {
		return nil, appErrors.NewCampaignNotFound(id)
	}
	c.TagIDs = append([]int(nil), c.TagIDs...)
	return &c, nil
}

func (r *memCampaignRepo) LoadForDispatch(ctx context.Context, id int) (*model.Campaign, []model.Subscriber, error) {
	if r.loadErr != nil {
		return nil, nil, r.loadErr
	}
	c, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	subs := []model.Subscriber{}
	for _, s := range r.subscribers[c.EmailListID] {
		if s.IsSubscribed() {
			subs = append(subs, s)
		}
	}
	return c, subs, nil
}

func (r *memCampaignRepo) Create(_ context.Context, c *model.Campaign) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c.ID = r.nextID
	r.nextID++
	c.Version = 1
	c.CreatedAt = time.Now()
	r.campaigns[c.ID] = *c
	return nil
}

func (r *memCampaignRepo) Update(_ context.Context, c *model.Campaign) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.campaigns[c.ID]
	if !ok || cur.Version != c.Version || cur.Status != model.StatusDraft {
		return appErrors.ErrPersistenceConflict
	}
	c.Version++
	r.campaigns[c.ID] = *c
	return nil
}

func (r *memCampaignRepo) UpdateStatus(_ context.Context, c *model.Campaign) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.updateStatusErr != nil {
		return r.updateStatusErr
	}
	cur, ok := r.campaigns[c.ID]
	if !ok || cur.Version != c.Version {
		return appErrors.ErrPersistenceConflict
	}
	cur.Status = c.Status
	cur.JobID = c.JobID
	cur.Version++
	c.Version = cur.Version
	r.campaigns[c.ID] = cur
	r.history[c.ID] = append(r.history[c.ID], c.Status)
	return nil
}

func (r *memCampaignRepo) Delete(_ context.Context, c *model.Campaign) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.campaigns[c.ID]
	if !ok || cur.Version != c.Version || cur.Status != model.StatusDraft {
		return appErrors.ErrPersistenceConflict
	}
	delete(r.campaigns, c.ID)
	return nil
}

var _ repository.CampaignRepositoryInterface = (*memCampaignRepo)(nil)

// ====================== Subscriber and log repositories ======================

type memSubscriberRepo struct {
	subscribers map[int]model.Subscriber
}

func (r *memSubscriberRepo) GetByID(_ context.Context, id int) (*model.Subscriber, error) {
	s, ok := r.subscribers[id]
	if !ok {
		return nil, appErrors.NewSubscriberNotFound(id)
	}
	return &s, nil
}

func (r *memSubscriberRepo) ListByEmailList(_ context.Context, listID int) ([]model.Subscriber, error) {
	out := []model.Subscriber{}
	for _, s := range r.subscribers {
		if s.EmailListID == listID {
			out = append(out, s)
		}
	}
	return out, nil
}

type memLogRepo struct {
	mu   sync.Mutex
	logs []model.CampaignLog
}

func (r *memLogRepo) Record(_ context.Context, l *model.CampaignLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, existing := range r.logs {
		if existing.BatchID == l.BatchID && existing.SubscriberID == l.SubscriberID {
			l.ID = existing.ID
			r.logs[i] = *l
			return nil
		}
	}
	l.ID = len(r.logs) + 1
	r.logs = append(r.logs, *l)
	return nil
}

func (r *memLogRepo) ListByCampaign(_ context.Context, campaignID int) ([]model.CampaignLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []model.CampaignLog{}
	for _, l := range r.logs {
		if l.CampaignID == campaignID {
			out = append(out, l)
		}
	}
	return out, nil
}

func (r *memLogRepo) Stats(ctx context.Context, campaignID int) (map[model.TaskOutcome]int, error) {
	logs, _ := r.ListByCampaign(ctx, campaignID)
	stats := map[model.TaskOutcome]int{}
	for _, l := range logs {
		stats[l.Status]++
	}
	return stats, nil
}

// ====================== Locker and notifier ======================

type memLocker struct {
	mu   sync.Mutex
	held map[string]bool
}

func newMemLocker() *memLocker { return &memLocker{held: map[string]bool{}} }

func (l *memLocker) NewLock(key string) lock.Lock { return &memLock{locker: l, key: key} }

type memLock struct {
	locker *memLocker
	key    string
	owned  bool
}

func (m *memLock) Acquire(context.Context) (bool, error) {
	m.locker.mu.Lock()
	defer m.locker.mu.Unlock()
	if m.locker.held[m.key] {
		return false, nil
	}
	m.locker.held[m.key] = true
	m.owned = true
	return true, nil
}

func (m *memLock) Release(context.Context) error {
	m.locker.mu.Lock()
	defer m.locker.mu.Unlock()
	if m.owned {
		delete(m.locker.held, m.key)
		m.owned = false
	}
	return nil
}

type sentNotification struct {
	UserID string
	Level  model.NotificationLevel
	Title  string
	Body   string
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []sentNotification
}

func (n *recordingNotifier) Notify(_ context.Context, userID string, level model.NotificationLevel, title, body string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentNotification{userID, level, title, body})
}

func (n *recordingNotifier) all() []sentNotification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]sentNotification(nil), n.sent...)
}
