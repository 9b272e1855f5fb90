package wallet

import (
	"context"
	"errors"
	"time"

	"quickpe/pkg/money"

	"github.com/google/uuid"
)

// Event describes a committed balance change.
type Event struct {
	Kind          Kind
	TransactionID string
	// From is uuid.Nil for deposits
	From        uuid.UUID
	To          uuid.UUID
	Amount      money.Amount
	FromBalance money.Amount
	ToBalance   money.Amount
	Description string
	At          time.Time
}

// Accounts returns the parties of the event.
func (e Event) Accounts() []uuid.UUID {
	if e.From == uuid.Nil {
		return []uuid.UUID{e.To}
	}
	return []uuid.UUID{e.From, e.To}
}

// Notifier receives events after commit. Delivery is best effort.
type Notifier interface {
	Notify(ctx context.Context, event Event) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, event Event) error

// Notify calls f.
func (f NotifierFunc) Notify(ctx context.Context, event Event) error {
	return f(ctx, event)
}

// Notifiers delivers each event to every notifier in order and joins the
// errors.
type Notifiers []Notifier

// Notify implements Notifier.
func (ns Notifiers) Notify(ctx context.Context, event Event) error {
	var errs []error
	for _, n := range ns {
		if err := n.Notify(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, Event) error { return nil }
