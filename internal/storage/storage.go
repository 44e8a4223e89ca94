// Package storage defines the persistence interface and its implementations.
package storage

import (
	"context"
	"time"

	"train_bot/internal/model"
)

// Storage is the interface for all persistence operations. Subscriptions are
// soft-deleted (is_active=0) so dispatch history keeps its linkage.
type Storage interface {
	CreateSubscription(ctx context.Context, sub *model.Subscription) error
	GetSubscription(ctx context.Context, id int64) (*model.Subscription, error)
	ListSubscriptions(ctx context.Context, chatID int64) ([]model.Subscription, error)
	// ListActiveDue returns active subscriptions whose date window overlaps
	// [now, now+lookahead]. Weekday and cadence filtering happens in the
	// scheduler, which owns the occurrence math.
	ListActiveDue(ctx context.Context, now time.Time, lookahead time.Duration) ([]model.Subscription, error)
	SetActive(ctx context.Context, id int64, active bool) error
	SetPaused(ctx context.Context, id int64, paused bool) error
	// UpdateStatus persists the polling result for one subscription: the
	// fresh snapshot plus the check timestamp, in a single write.
	UpdateStatus(ctx context.Context, id int64, snapshot model.StatusSnapshot, checkedAt time.Time) error

	RecordDispatch(ctx context.Context, rec *model.DispatchRecord) error
	HasRecentDispatch(ctx context.Context, subscriptionID int64, kind model.NotificationKind, windowStart time.Time) (bool, error)
	ListDispatches(ctx context.Context, subscriptionID int64, limit int) ([]model.DispatchRecord, error)

	Close() error
}
