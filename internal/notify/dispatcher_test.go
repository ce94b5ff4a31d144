package notify

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"pricewatch_bot/internal/model"
	"pricewatch_bot/internal/storage"
)

type captureEmitter struct {
	mu   sync.Mutex
	recs []model.NotificationRecord
}

func (c *captureEmitter) Emit(_ context.Context, rec *model.NotificationRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recs = append(c.recs, *rec)
	return nil
}

func (c *captureEmitter) all() []model.NotificationRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]model.NotificationRecord(nil), c.recs...)
}

type fixture struct {
	store      storage.Storage
	dispatcher *Dispatcher
	emitter    *captureEmitter
	user       *model.User
	query      *model.Query
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	s, err := storage.NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("new sqlite: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	u := &model.User{ChatID: 100, Username: "alice", Language: "nl"}
	if err := s.CreateUser(ctx, u); err != nil {
		t.Fatalf("create user: %v", err)
	}
	q := &model.Query{
		UserID: u.ID, Name: "drills", SearchParams: "url",
		IntervalMinutes: 60, State: model.QueryActive,
	}
	if err := s.CreateQuery(ctx, q); err != nil {
		t.Fatalf("create query: %v", err)
	}

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	d := NewDispatcher(s, log)
	em := &captureEmitter{}
	d.SetEmitter(em)
	return &fixture{store: s, dispatcher: d, emitter: em, user: u, query: q}
}

func TestDispatchNewItem(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	ev := model.ChangeEvent{
		Kind:    model.EventNewItem,
		QueryID: f.query.ID,
		Item:    model.Item{Code: "1", Name: "boor", Price: decimal.RequireFromString("49.99"), Currency: "EUR"},
	}
	rec, err := f.dispatcher.Dispatch(ctx, ev)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if rec == nil {
		t.Fatal("event was suppressed")
	}
	if rec.Kind != model.NotifyNewItem {
		t.Errorf("kind = %q, want new_item", rec.Kind)
	}
	if rec.ChatID != f.user.ChatID {
		t.Errorf("chat id = %d, want %d", rec.ChatID, f.user.ChatID)
	}
	if !rec.NewPrice.Equal(ev.Item.Price) {
		t.Errorf("new price = %s, want %s", rec.NewPrice, ev.Item.Price)
	}
	if got := f.emitter.all(); len(got) != 1 {
		t.Errorf("emitted %d records, want 1", len(got))
	}
}

func TestDispatchPriceChangeCarriesStats(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	before := decimal.RequireFromString("59.99")
	after := decimal.RequireFromString("39.99")
	if err := f.store.RecordPriceChange(ctx, f.query.ID, "1", before, after); err != nil {
		t.Fatalf("record price change: %v", err)
	}

	ev := model.ChangeEvent{
		Kind:     model.EventPriceChanged,
		QueryID:  f.query.ID,
		Item:     model.Item{Code: "1", Name: "boor", Price: after, Currency: "EUR"},
		OldPrice: before,
		NewPrice: after,
	}
	rec, err := f.dispatcher.Dispatch(ctx, ev)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if rec == nil {
		t.Fatal("event was suppressed")
	}
	if rec.Stats == nil {
		t.Fatal("expected price stats on price change record")
	}
	if !rec.Stats.Lowest.Equal(after) || !rec.Stats.Highest.Equal(before) {
		t.Errorf("stats = %s..%s, want %s..%s", rec.Stats.Lowest, rec.Stats.Highest, after, before)
	}
}

func TestDispatchPriceChangeWithoutHistory(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	ev := model.ChangeEvent{
		Kind:     model.EventPriceChanged,
		QueryID:  f.query.ID,
		Item:     model.Item{Code: "1", Name: "boor", Price: decimal.RequireFromString("1.00"), Currency: "EUR"},
		OldPrice: decimal.RequireFromString("2.00"),
		NewPrice: decimal.RequireFromString("1.00"),
	}
	rec, err := f.dispatcher.Dispatch(ctx, ev)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if rec == nil {
		t.Fatal("event was suppressed")
	}
	if rec.Stats != nil {
		t.Errorf("expected nil stats without history, got %+v", rec.Stats)
	}
}

func TestDispatchSuppressedForPausedQuery(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	if err := f.store.SetQueryState(ctx, f.query.ID, model.QueryPaused); err != nil {
		t.Fatalf("pause query: %v", err)
	}

	ev := model.ChangeEvent{
		Kind:    model.EventNewItem,
		QueryID: f.query.ID,
		Item:    model.Item{Code: "1", Currency: "EUR"},
	}
	rec, err := f.dispatcher.Dispatch(ctx, ev)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if rec != nil {
		t.Errorf("expected suppression, got %+v", rec)
	}
	if got := f.emitter.all(); len(got) != 0 {
		t.Errorf("emitted %d records, want 0", len(got))
	}
}

func TestDispatchSuppressedForPausedUser(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	if err := f.store.SetUserPaused(ctx, f.user.ID, true); err != nil {
		t.Fatalf("pause user: %v", err)
	}

	ev := model.ChangeEvent{
		Kind:    model.EventNewItem,
		QueryID: f.query.ID,
		Item:    model.Item{Code: "1", Currency: "EUR"},
	}
	rec, err := f.dispatcher.Dispatch(ctx, ev)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if rec != nil {
		t.Errorf("expected suppression, got %+v", rec)
	}
}

func TestDispatchInitial(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	rec, err := f.dispatcher.DispatchInitial(ctx, f.query.ID, 48)
	if err != nil {
		t.Fatalf("dispatch initial: %v", err)
	}
	if rec == nil {
		t.Fatal("summary was suppressed")
	}
	if rec.Kind != model.NotifyInitialSummary {
		t.Errorf("kind = %q, want initial_summary", rec.Kind)
	}
	if rec.ItemCount != 48 {
		t.Errorf("item count = %d, want 48", rec.ItemCount)
	}
	if rec.Item != nil {
		t.Errorf("summary must not carry an item, got %+v", rec.Item)
	}
}
