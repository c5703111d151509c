// internal/model/subscriber.go
package model

// SubscriptionStatus says whether a subscriber still receives campaigns.
type SubscriptionStatus string

const (
	Subscribed   SubscriptionStatus = "subscribed"
	Unsubscribed SubscriptionStatus = "unsubscribed"
)

type Subscriber struct {
	ID          int                `db:"id" json:"id"`
	EmailListID int                `db:"email_list_id" json:"email_list_id"`
	Email       string             `db:"email" json:"email"`
	FirstName   string             `db:"first_name" json:"first_name,omitempty"`
	LastName    string             `db:"last_name" json:"last_name,omitempty"`
	Status      SubscriptionStatus `db:"status" json:"status"`
	TagIDs      []int              `db:"-" json:"tag_ids"`
}

func (s Subscriber) IsSubscribed() bool { return s.Status == Subscribed }
