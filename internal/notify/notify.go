// Package notify delivers user-facing notifications: classification
// failures, meeting conflicts, and meeting reminders.
package notify

import (
	"context"
	"log"

	"github.com/nhle/email-assistant/internal/model"
	"github.com/nhle/email-assistant/internal/store"
)

// Notifier records a notification for the user.
type Notifier interface {
	Notify(ctx context.Context, n model.Notification) error
}

// StoreNotifier persists notifications through the store and echoes
// them to the log.
type StoreNotifier struct {
	store store.Store
}

// NewStoreNotifier creates a StoreNotifier.
func NewStoreNotifier(s store.Store) *StoreNotifier {
	return &StoreNotifier{store: s}
}

// Notify persists the notification and logs it.
func (n *StoreNotifier) Notify(
	ctx context.Context, notification model.Notification,
) error {
	if err := n.store.CreateNotification(ctx, notification); err != nil {
		return err
	}
	log.Printf("notify [%s]: %s", notification.Kind, notification.Message)
	return nil
}
