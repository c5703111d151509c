// Package notify tells operators what happened to the campaigns they act on.
package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/unclebandit/campaign-dispatch/internal/model"
	"github.com/unclebandit/campaign-dispatch/internal/repository"
)

// Notifier delivers a message to one user. Delivery is best effort and
// never fails the caller's operation.
type Notifier interface {
	Notify(ctx context.Context, userID string, level model.NotificationLevel, title, body string)
}

// DatabaseNotifier stores notifications for the inbox endpoint.
type DatabaseNotifier struct {
	Repo   repository.NotificationRepositoryInterface
	Logger *zap.Logger
}

func (n *DatabaseNotifier) Notify(ctx context.Context, userID string, level model.NotificationLevel, title, body string) {
	err := n.Repo.Create(ctx, &model.Notification{UserID: userID, Level: level, Title: title, Body: body})
	if err != nil && n.Logger != nil {
		n.Logger.Warn("store notification", zap.String("user_id", userID), zap.String("title", title), zap.Error(err))
	}
}

// RedisNotifier publishes live toasts on the user's channel.
type RedisNotifier struct {
	Client *redis.Client
	Logger *zap.Logger
}

// Channel is the pub/sub channel a user's UI session subscribes to.
func Channel(userID string) string {
	return "notifications:" + userID
}

func (n *RedisNotifier) Notify(ctx context.Context, userID string, level model.NotificationLevel, title, body string) {
	payload, err := json.Marshal(model.Notification{
		UserID:    userID,
		Level:     level,
		Title:     title,
		Body:      body,
		CreatedAt: time.Now().UTC(),
	})
	if err == nil {
		err = n.Client.Publish(ctx, Channel(userID), payload).Err()
	}
	if err != nil && n.Logger != nil {
		n.Logger.Warn("publish notification", zap.String("user_id", userID), zap.String("title", title), zap.Error(err))
	}
}

// Multi fans a notification out to every notifier in order.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, userID string, level model.NotificationLevel, title, body string) {
	for _, n := range m {
		n.Notify(ctx, userID, level, title, body)
	}
}

var (
	_ Notifier = (*DatabaseNotifier)(nil)
	_ Notifier = (*RedisNotifier)(nil)
	_ Notifier = Multi(nil)
)
