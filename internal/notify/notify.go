// Package notify turns change events into outbound notification records,
// honoring per-query state and the owning user's global pause.
package notify

import (
	"context"

	"pricewatch_bot/internal/model"
)

// Emitter delivers a notification record to the user. The dispatcher never
// renders text; rendering and transport belong to the presentation layer.
type Emitter interface {
	Emit(ctx context.Context, rec *model.NotificationRecord) error
}

// Noop is an Emitter that drops every record. Useful in tests and while
// wiring the real emitter.
type Noop struct{}

// Emit discards the record.
func (Noop) Emit(context.Context, *model.NotificationRecord) error { return nil }
