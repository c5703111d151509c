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

// SubscriberRepositoryInterface defines methods used by the send worker and preview
type SubscriberRepositoryInterface interface {
	GetByID(ctx context.Context, id int) (*model.Subscriber, error)
	ListByEmailList(ctx context.Context, listID int) ([]model.Subscriber, error)
}

// SubscriberRepository is the concrete implementation
type SubscriberRepository struct {
	DB *sql.DB
}

const subscriberColumns = `
    s.id, s.email_list_id, s.email, s.first_name, s.last_name, s.status,
    ARRAY(SELECT st.tag_id FROM subscriber_tags st WHERE st.subscriber_id = s.id ORDER BY st.tag_id)`

func scanSubscriber(row rowScanner) (model.Subscriber, error) {
	var (
		s    model.Subscriber
		tags pq.Int64Array
	)
	if err := row.Scan(&s.ID, &s.EmailListID, &s.Email, &s.FirstName, &s.LastName, &s.Status, &tags); err != nil {
		return s, err
	}
	s.TagIDs = toInts(tags)
	return s, nil
}

// GetByID fetches a subscriber with its tags
func (r *SubscriberRepository) GetByID(ctx context.Context, id int) (*model.Subscriber, error) {
	query := `SELECT ` + subscriberColumns + ` FROM subscribers s WHERE s.id = $1`
	s, err := scanSubscriber(r.DB.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.NewSubscriberNotFound(id)
		}
		return nil, fmt.Errorf("get subscriber: %w", err)
	}
	return &s, nil
}

// ListByEmailList fetches every subscriber of a list, subscribed or not
func (r *SubscriberRepository) ListByEmailList(ctx context.Context, listID int) ([]model.Subscriber, error) {
	return listSubscribers(ctx, r.DB, listID, false)
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func listSubscribers(ctx context.Context, q querier, listID int, subscribedOnly bool) ([]model.Subscriber, error) {
	query := `SELECT ` + subscriberColumns + ` FROM subscribers s WHERE s.email_list_id = $1`
	if subscribedOnly {
		query += ` AND s.status = 'subscribed'`
	}
	query += ` ORDER BY s.id`

	rows, err := q.QueryContext(ctx, query, listID)
	if err != nil {
		return nil, fmt.Errorf("list subscribers: %w", err)
	}
	defer rows.Close()

	subscribers := []model.Subscriber{}
	for rows.Next() {
		s, err := scanSubscriber(rows)
		if err != nil {
			return nil, fmt.Errorf("scan subscriber: %w", err)
		}
		subscribers = append(subscribers, s)
	}
	return subscribers, rows.Err()
}

var _ SubscriberRepositoryInterface = (*SubscriberRepository)(nil)
