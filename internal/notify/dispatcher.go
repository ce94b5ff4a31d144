package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"pricewatch_bot/internal/metrics"
	"pricewatch_bot/internal/model"
	"pricewatch_bot/internal/storage"
)

// Dispatcher consumes change events and produces notification records.
// Events for paused or deleted queries, and for users with the global pause
// set, are counted and dropped.
type Dispatcher struct {
	store   storage.Storage
	emitter Emitter
	log     *slog.Logger
}

// NewDispatcher creates a Dispatcher. The emitter defaults to Noop until
// SetEmitter is called.
func NewDispatcher(store storage.Storage, log *slog.Logger) *Dispatcher {
	return &Dispatcher{store: store, emitter: Noop{}, log: log}
}

// SetEmitter installs the delivery backend. Called once during wiring; the
// bot cannot exist before the dispatcher it is handed to.
func (d *Dispatcher) SetEmitter(e Emitter) {
	d.emitter = e
}

// Dispatch produces and delivers the notification for one change event.
// It returns (nil, nil) when the event is suppressed.
func (d *Dispatcher) Dispatch(ctx context.Context, ev model.ChangeEvent) (*model.NotificationRecord, error) {
	q, u, ok, err := d.recipient(ctx, ev.QueryID)
	if err != nil || !ok {
		return nil, err
	}

	rec := &model.NotificationRecord{
		UserID:    u.ID,
		ChatID:    u.ChatID,
		Language:  u.Language,
		QueryID:   q.ID,
		QueryName: q.Name,
		Item:      &ev.Item,
		OldPrice:  ev.OldPrice,
		NewPrice:  ev.NewPrice,
	}
	switch ev.Kind {
	case model.EventNewItem:
		rec.Kind = model.NotifyNewItem
		rec.NewPrice = ev.Item.Price
	case model.EventPriceChanged:
		rec.Kind = model.NotifyPriceChanged
		stats, err := d.store.GetPriceStats(ctx, q.ID, ev.Item.Code)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			d.log.Error("price stats lookup", "query_id", q.ID, "code", ev.Item.Code, "error", err)
		}
		rec.Stats = stats
	default:
		return nil, fmt.Errorf("unknown event kind %q", ev.Kind)
	}

	return rec, d.deliver(ctx, rec)
}

// DispatchInitial produces the one-line summary sent after a query's first
// successful poll, instead of one notification per seeded item.
func (d *Dispatcher) DispatchInitial(ctx context.Context, queryID int64, itemCount int) (*model.NotificationRecord, error) {
	q, u, ok, err := d.recipient(ctx, queryID)
	if err != nil || !ok {
		return nil, err
	}

	rec := &model.NotificationRecord{
		UserID:    u.ID,
		ChatID:    u.ChatID,
		Language:  u.Language,
		QueryID:   q.ID,
		QueryName: q.Name,
		Kind:      model.NotifyInitialSummary,
		ItemCount: itemCount,
	}
	return rec, d.deliver(ctx, rec)
}

// recipient resolves the query and owning user and applies the suppression
// rules. ok is false when the event must be dropped.
func (d *Dispatcher) recipient(ctx context.Context, queryID int64) (*model.Query, *model.User, bool, error) {
	q, err := d.store.GetQuery(ctx, queryID)
	if err != nil {
		return nil, nil, false, fmt.Errorf("get query: %w", err)
	}
	if q.State != model.QueryActive {
		metrics.NotificationsSuppressedTotal.Inc()
		d.log.Debug("notification suppressed", "query_id", queryID, "reason", "query "+string(q.State))
		return nil, nil, false, nil
	}

	u, err := d.store.GetUser(ctx, q.UserID)
	if err != nil {
		return nil, nil, false, fmt.Errorf("get user: %w", err)
	}
	if u.Paused {
		metrics.NotificationsSuppressedTotal.Inc()
		d.log.Debug("notification suppressed", "query_id", queryID, "reason", "user paused")
		return nil, nil, false, nil
	}
	return q, u, true, nil
}

func (d *Dispatcher) deliver(ctx context.Context, rec *model.NotificationRecord) error {
	if err := d.store.LogNotification(ctx, rec); err != nil {
		d.log.Error("log notification", "query_id", rec.QueryID, "error", err)
	}
	if err := d.emitter.Emit(ctx, rec); err != nil {
		return fmt.Errorf("emit notification: %w", err)
	}
	metrics.NotificationsSentTotal.Inc()
	return nil
}
