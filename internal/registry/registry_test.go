package registry

import (
	"context"
	"errors"
	"testing"

	"pricewatch_bot/internal/model"
	"pricewatch_bot/internal/storage"
)

func newTestRegistry(t *testing.T, maxPerUser int) (*Registry, storage.Storage) {
	t.Helper()
	s, err := storage.NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("new sqlite: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return New(s, maxPerUser), s
}

func TestCreate(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRegistry(t, 3)

	q, err := r.Create(ctx, 1, "drills", "https://www.lidl.nl/q/search?q=boor", 30)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if q.ID == 0 {
		t.Fatal("created query has no ID")
	}
	if q.State != model.QueryActive {
		t.Errorf("state = %q, want active", q.State)
	}
	if q.IntervalMinutes != 30 {
		t.Errorf("interval = %d, want 30", q.IntervalMinutes)
	}
}

func TestCreateIntervalBounds(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRegistry(t, 10)

	tests := []struct {
		name  string
		given int
		want  int
	}{
		{name: "zero gets default", given: 0, want: DefaultIntervalMinutes},
		{name: "negative gets default", given: -5, want: DefaultIntervalMinutes},
		{name: "below minimum is clamped", given: 5, want: MinIntervalMinutes},
		{name: "valid passes through", given: 120, want: 120},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := r.Create(ctx, 1, tt.name, tt.name+string(rune('a'+i)), tt.given)
			if err != nil {
				t.Fatalf("create: %v", err)
			}
			if q.IntervalMinutes != tt.want {
				t.Errorf("interval = %d, want %d", q.IntervalMinutes, tt.want)
			}
		})
	}
}

func TestCreateDuplicate(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRegistry(t, 10)

	if _, err := r.Create(ctx, 1, "drills", "url-1", 60); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := r.Create(ctx, 1, "other name", "url-1", 60); !errors.Is(err, ErrDuplicateQuery) {
		t.Errorf("expected ErrDuplicateQuery, got %v", err)
	}
	// The same params for a different user are fine.
	if _, err := r.Create(ctx, 2, "drills", "url-1", 60); err != nil {
		t.Errorf("create for other user: %v", err)
	}
	// Deleting frees the params for re-creation.
	q, _ := r.Create(ctx, 1, "again", "url-2", 60)
	if err := r.Delete(ctx, q.ID, 1); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := r.Create(ctx, 1, "again", "url-2", 60); err != nil {
		t.Errorf("re-create after delete: %v", err)
	}
}

func TestCreateQuota(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRegistry(t, 2)

	for i := 0; i < 2; i++ {
		if _, err := r.Create(ctx, 1, "q", string(rune('a'+i)), 60); err != nil {
			t.Fatalf("create %d: %v", i, err)
		}
	}
	if _, err := r.Create(ctx, 1, "q", "c", 60); !errors.Is(err, ErrQuotaExceeded) {
		t.Errorf("expected ErrQuotaExceeded, got %v", err)
	}
	// A paused query still counts against the quota; a deleted one does not.
	list, err := r.List(ctx, 1)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if err := r.Pause(ctx, list[0].ID, 1); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if _, err := r.Create(ctx, 1, "q", "c", 60); !errors.Is(err, ErrQuotaExceeded) {
		t.Errorf("paused query should still count, got %v", err)
	}
	if err := r.Delete(ctx, list[0].ID, 1); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := r.Create(ctx, 1, "q", "c", 60); err != nil {
		t.Errorf("create after delete: %v", err)
	}
}

func TestOwnership(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRegistry(t, 10)

	q, err := r.Create(ctx, 1, "mine", "url", 60)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := r.Get(ctx, q.ID, 2); !errors.Is(err, ErrNotOwner) {
		t.Errorf("Get: expected ErrNotOwner, got %v", err)
	}
	if err := r.Pause(ctx, q.ID, 2); !errors.Is(err, ErrNotOwner) {
		t.Errorf("Pause: expected ErrNotOwner, got %v", err)
	}
	if err := r.Delete(ctx, q.ID, 2); !errors.Is(err, ErrNotOwner) {
		t.Errorf("Delete: expected ErrNotOwner, got %v", err)
	}
	if _, err := r.Get(ctx, 9999, 1); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get missing: expected ErrNotFound, got %v", err)
	}
}

func TestPauseResume(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRegistry(t, 10)

	q, err := r.Create(ctx, 1, "a", "url", 60)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := r.Pause(ctx, q.ID, 1); err != nil {
		t.Fatalf("pause: %v", err)
	}
	got, err := r.Get(ctx, q.ID, 1)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.State != model.QueryPaused {
		t.Errorf("state = %q, want paused", got.State)
	}
	// Pausing again is a no-op success.
	if err := r.Pause(ctx, q.ID, 1); err != nil {
		t.Errorf("second pause: %v", err)
	}

	if err := r.Resume(ctx, q.ID, 1); err != nil {
		t.Fatalf("resume: %v", err)
	}
	got, err = r.Get(ctx, q.ID, 1)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.State != model.QueryActive {
		t.Errorf("state = %q, want active", got.State)
	}
	if err := r.Resume(ctx, q.ID, 1); err != nil {
		t.Errorf("second resume: %v", err)
	}

	active, err := r.ListActive(ctx, 1)
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	if len(active) != 1 {
		t.Errorf("active = %d, want 1", len(active))
	}
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	r, s := newTestRegistry(t, 10)

	q, err := r.Create(ctx, 1, "a", "url", 60)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	items := []model.Item{{Code: "1", Name: "x", Currency: "EUR"}}
	if err := s.ReplaceSnapshot(ctx, q.ID, items); err != nil {
		t.Fatalf("replace snapshot: %v", err)
	}

	if err := r.Delete(ctx, q.ID, 1); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := r.Get(ctx, q.ID, 1); !errors.Is(err, ErrNotFound) {
		t.Errorf("deleted query still visible: %v", err)
	}
	// Deleting twice reports not found.
	if err := r.Delete(ctx, q.ID, 1); !errors.Is(err, ErrNotFound) {
		t.Errorf("second delete: expected ErrNotFound, got %v", err)
	}
	snap, err := s.GetSnapshot(ctx, q.ID)
	if err != nil {
		t.Fatalf("get snapshot: %v", err)
	}
	if len(snap) != 0 {
		t.Errorf("snapshot survived delete: %+v", snap)
	}
}

func TestSetInterval(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRegistry(t, 10)

	q, err := r.Create(ctx, 1, "a", "url", 60)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := r.SetInterval(ctx, q.ID, 1, 5); err == nil {
		t.Error("expected error for interval below minimum")
	}
	if err := r.SetInterval(ctx, q.ID, 1, 2000); err == nil {
		t.Error("expected error for interval above one day")
	}
	if err := r.SetInterval(ctx, q.ID, 1, 45); err != nil {
		t.Fatalf("set interval: %v", err)
	}
	got, err := r.Get(ctx, q.ID, 1)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.IntervalMinutes != 45 {
		t.Errorf("interval = %d, want 45", got.IntervalMinutes)
	}
}

func TestRegisterUser(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRegistry(t, 10)

	u, err := r.RegisterUser(ctx, 555, "bob", "de")
	if err != nil {
		t.Fatalf("register user: %v", err)
	}
	if u.ID == 0 {
		t.Fatal("registered user has no ID")
	}

	// Second contact returns the same user untouched.
	again, err := r.RegisterUser(ctx, 555, "changed", "en")
	if err != nil {
		t.Fatalf("register user again: %v", err)
	}
	if again.ID != u.ID {
		t.Errorf("got new user id %d, want %d", again.ID, u.ID)
	}
	if again.Username != "bob" || again.Language != "de" {
		t.Errorf("existing user was modified: %+v", again)
	}
}

func TestSetUserPause(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRegistry(t, 10)

	u, err := r.RegisterUser(ctx, 1, "a", "en")
	if err != nil {
		t.Fatalf("register user: %v", err)
	}

	if err := r.SetUserPause(ctx, u.ID, true); err != nil {
		t.Fatalf("pause all: %v", err)
	}
	got, err := r.User(ctx, u.ID)
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if !got.Paused {
		t.Error("user should be paused")
	}

	// The global pause leaves query states alone.
	q, err := r.Create(ctx, u.ID, "a", "url", 60)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if q.State != model.QueryActive {
		t.Errorf("query state = %q, want active", q.State)
	}

	if err := r.SetUserPause(ctx, u.ID, false); err != nil {
		t.Fatalf("resume all: %v", err)
	}
	got, err = r.User(ctx, u.ID)
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if got.Paused {
		t.Error("user should not be paused")
	}
}
