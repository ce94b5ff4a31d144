// Package model defines the domain types used across the application.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// QueryState defines the lifecycle state of a tracked query.
type QueryState string

// Supported query states.
const (
	QueryActive  QueryState = "active"
	QueryPaused  QueryState = "paused"
	QueryDeleted QueryState = "deleted"
)

// Query represents a saved product search tracked for a user.
// SearchParams is the catalog search URL and is immutable after creation;
// changing filters means deleting the query and creating a new one.
type Query struct {
	ID              int64
	UserID          int64
	Name            string
	SearchParams    string
	IntervalMinutes int
	State           QueryState
	LastRunAt       *time.Time
	CreatedAt       time.Time
}

// Item is a single product as last observed for a query.
// Code is the source-assigned product id, unique within one query's snapshot.
type Item struct {
	Code       string
	Name       string
	Price      decimal.Decimal
	Currency   string
	ProductURL string
	ImageURL   string
	LastSeenAt time.Time
}

// EventKind identifies the type of a detected change.
type EventKind string

// Supported change event kinds.
const (
	EventNewItem      EventKind = "new_item"
	EventPriceChanged EventKind = "price_changed"
)

// ChangeEvent is a detected difference between two snapshots of a query.
// OldPrice and NewPrice are set only for EventPriceChanged.
type ChangeEvent struct {
	Kind     EventKind
	QueryID  int64
	Item     Item
	OldPrice decimal.Decimal
	NewPrice decimal.Decimal
}

// User represents a Telegram user owning tracked queries.
// Paused suppresses notifications for all of the user's queries without
// touching the individual query states. Language is carried for the
// presentation layer; the engine never renders text.
type User struct {
	ID        int64
	ChatID    int64
	Username  string
	Language  string
	Paused    bool
	CreatedAt time.Time
}

// PriceStats holds the observed price extremes for one item.
type PriceStats struct {
	Lowest    decimal.Decimal
	LowestAt  time.Time
	Highest   decimal.Decimal
	HighestAt time.Time
}

// NotificationKind identifies the type of an outbound notification.
type NotificationKind string

// Supported notification kinds.
const (
	NotifyNewItem        NotificationKind = "new_item"
	NotifyPriceChanged   NotificationKind = "price_changed"
	NotifyInitialSummary NotificationKind = "initial_summary"
)

// NotificationRecord is the dispatcher's output: one deliverable
// notification, addressed but not yet rendered.
type NotificationRecord struct {
	UserID    int64
	ChatID    int64
	Language  string
	QueryID   int64
	QueryName string
	Kind      NotificationKind
	Item      *Item
	OldPrice  decimal.Decimal
	NewPrice  decimal.Decimal
	ItemCount int
	Stats     *PriceStats
}

// Execution records the outcome of one poll attempt for one query.
type Execution struct {
	QueryID      int64
	Success      bool
	TotalItems   int
	NewItems     int
	PriceChanges int
	Error        string
	DurationMS   int64
}
