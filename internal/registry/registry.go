// Package registry owns the query and user lifecycle: creation with quota
// and uniqueness checks, pause/resume/delete with ownership checks, and the
// per-user global notification pause.
package registry

import (
	"context"
	"errors"
	"fmt"

	"pricewatch_bot/internal/model"
	"pricewatch_bot/internal/storage"
)

// Errors surfaced to the presentation layer. These are user-input errors and
// are never retried automatically.
var (
	ErrNotFound       = errors.New("query not found")
	ErrNotOwner       = errors.New("query belongs to another user")
	ErrDuplicateQuery = errors.New("an identical query already exists")
	ErrQuotaExceeded  = errors.New("query limit reached")
)

// Interval bounds for per-query checks, in minutes.
const (
	MinIntervalMinutes     = 15
	DefaultIntervalMinutes = 60
)

// Registry manages query entities and user pause state on top of Storage.
type Registry struct {
	store      storage.Storage
	maxPerUser int
}

// New creates a Registry enforcing the given per-user query quota.
func New(store storage.Storage, maxPerUser int) *Registry {
	return &Registry{store: store, maxPerUser: maxPerUser}
}

// Create registers a new active query for a user. It fails with
// ErrDuplicateQuery when the user already tracks the same search params and
// with ErrQuotaExceeded at the configured per-user maximum.
func (r *Registry) Create(ctx context.Context, userID int64, name, searchParams string, intervalMinutes int) (*model.Query, error) {
	if intervalMinutes <= 0 {
		intervalMinutes = DefaultIntervalMinutes
	}
	if intervalMinutes < MinIntervalMinutes {
		intervalMinutes = MinIntervalMinutes
	}

	if _, err := r.store.FindQueryByParams(ctx, userID, searchParams); err == nil {
		return nil, ErrDuplicateQuery
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("check duplicate: %w", err)
	}

	count, err := r.store.CountQueries(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("count queries: %w", err)
	}
	if count >= r.maxPerUser {
		return nil, ErrQuotaExceeded
	}

	q := &model.Query{
		UserID:          userID,
		Name:            name,
		SearchParams:    searchParams,
		IntervalMinutes: intervalMinutes,
		State:           model.QueryActive,
	}
	if err := r.store.CreateQuery(ctx, q); err != nil {
		return nil, fmt.Errorf("create query: %w", err)
	}
	return q, nil
}

// Get returns a query after verifying it exists, is not deleted, and belongs
// to the given user.
func (r *Registry) Get(ctx context.Context, queryID, userID int64) (*model.Query, error) {
	q, err := r.store.GetQuery(ctx, queryID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get query: %w", err)
	}
	if q.State == model.QueryDeleted {
		return nil, ErrNotFound
	}
	if q.UserID != userID {
		return nil, ErrNotOwner
	}
	return q, nil
}

// Pause stops a query from being polled. Pausing an already paused query is
// a no-op success.
func (r *Registry) Pause(ctx context.Context, queryID, userID int64) error {
	return r.setState(ctx, queryID, userID, model.QueryPaused)
}

// Resume re-activates a paused query. Resuming an active query is a no-op
// success.
func (r *Registry) Resume(ctx context.Context, queryID, userID int64) error {
	return r.setState(ctx, queryID, userID, model.QueryActive)
}

func (r *Registry) setState(ctx context.Context, queryID, userID int64, state model.QueryState) error {
	q, err := r.Get(ctx, queryID, userID)
	if err != nil {
		return err
	}
	if q.State == state {
		return nil
	}
	if err := r.store.SetQueryState(ctx, queryID, state); err != nil {
		return fmt.Errorf("set query state: %w", err)
	}
	return nil
}

// Delete marks a query deleted and removes its snapshot. The query is
// excluded from the next poll cycle; an in-flight cycle's snapshot write is
// dropped by the store.
func (r *Registry) Delete(ctx context.Context, queryID, userID int64) error {
	if _, err := r.Get(ctx, queryID, userID); err != nil {
		return err
	}
	if err := r.store.SetQueryState(ctx, queryID, model.QueryDeleted); err != nil {
		return fmt.Errorf("mark deleted: %w", err)
	}
	if err := r.store.DeleteSnapshot(ctx, queryID); err != nil {
		return fmt.Errorf("delete snapshot: %w", err)
	}
	return nil
}

// SetInterval changes a query's check interval.
func (r *Registry) SetInterval(ctx context.Context, queryID, userID int64, minutes int) error {
	if minutes < MinIntervalMinutes || minutes > 24*60 {
		return fmt.Errorf("interval must be between %d and 1440 minutes", MinIntervalMinutes)
	}
	if _, err := r.Get(ctx, queryID, userID); err != nil {
		return err
	}
	if err := r.store.SetQueryInterval(ctx, queryID, minutes); err != nil {
		return fmt.Errorf("set interval: %w", err)
	}
	return nil
}

// ListActive returns the user's active queries ordered by creation time.
func (r *Registry) ListActive(ctx context.Context, userID int64) ([]model.Query, error) {
	return r.store.ListActiveQueries(ctx, userID)
}

// List returns all of the user's non-deleted queries ordered by creation time.
func (r *Registry) List(ctx context.Context, userID int64) ([]model.Query, error) {
	return r.store.ListQueries(ctx, userID)
}

// RegisterUser returns the user for a chat, creating it on first contact.
func (r *Registry) RegisterUser(ctx context.Context, chatID int64, username, language string) (*model.User, error) {
	u, err := r.store.GetUserByChatID(ctx, chatID)
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("get user: %w", err)
	}

	u = &model.User{ChatID: chatID, Username: username, Language: language}
	if err := r.store.CreateUser(ctx, u); err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	return u, nil
}

// User returns a user by its internal ID.
func (r *Registry) User(ctx context.Context, userID int64) (*model.User, error) {
	u, err := r.store.GetUser(ctx, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrNotFound
	}
	return u, err
}

// SetUserPause toggles the global notification pause covering all of the
// user's queries. Individual query states are untouched.
func (r *Registry) SetUserPause(ctx context.Context, userID int64, paused bool) error {
	if err := r.store.SetUserPaused(ctx, userID, paused); err != nil {
		return fmt.Errorf("set user pause: %w", err)
	}
	return nil
}

// SetUserLanguage updates the user's language preference.
func (r *Registry) SetUserLanguage(ctx context.Context, userID int64, language string) error {
	if err := r.store.SetUserLanguage(ctx, userID, language); err != nil {
		return fmt.Errorf("set user language: %w", err)
	}
	return nil
}
