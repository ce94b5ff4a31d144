// Package storage defines the persistence interface and its implementations.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"pricewatch_bot/internal/model"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// Storage is the interface for all persistence operations.
type Storage interface {
	CreateQuery(ctx context.Context, q *model.Query) error
	GetQuery(ctx context.Context, id int64) (*model.Query, error)
	FindQueryByParams(ctx context.Context, userID int64, params string) (*model.Query, error)
	ListQueries(ctx context.Context, userID int64) ([]model.Query, error)
	ListActiveQueries(ctx context.Context, userID int64) ([]model.Query, error)
	ListDueQueries(ctx context.Context, now time.Time) ([]model.Query, error)
	CountQueries(ctx context.Context, userID int64) (int, error)
	SetQueryState(ctx context.Context, id int64, state model.QueryState) error
	SetQueryInterval(ctx context.Context, id int64, minutes int) error
	SetQueryLastRun(ctx context.Context, id int64, t time.Time) error

	CreateUser(ctx context.Context, u *model.User) error
	GetUser(ctx context.Context, id int64) (*model.User, error)
	GetUserByChatID(ctx context.Context, chatID int64) (*model.User, error)
	SetUserPaused(ctx context.Context, id int64, paused bool) error
	SetUserLanguage(ctx context.Context, id int64, language string) error

	// GetSnapshot returns the last observed item set for a query in fetch
	// order. A query with no prior items yields an empty slice; snapshot
	// reads never validate query existence.
	GetSnapshot(ctx context.Context, queryID int64) ([]model.Item, error)
	// ReplaceSnapshot atomically swaps the full item set of a query.
	// The write is silently dropped when the query has been deleted, so an
	// in-flight poll can never resurrect a deleted query's snapshot.
	ReplaceSnapshot(ctx context.Context, queryID int64, items []model.Item) error
	DeleteSnapshot(ctx context.Context, queryID int64) error

	RecordPriceChange(ctx context.Context, queryID int64, code string, oldPrice, newPrice decimal.Decimal) error
	GetPriceStats(ctx context.Context, queryID int64, code string) (*model.PriceStats, error)

	LogExecution(ctx context.Context, e *model.Execution) error
	LogNotification(ctx context.Context, rec *model.NotificationRecord) error

	Close() error
}
