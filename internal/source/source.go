// Package source provides access to retail catalog search results. The
// engine consumes it as a black box returning structured item lists; all
// site-specific URL handling, pagination, and retry lives here.
package source

import (
	"context"
	"fmt"

	"pricewatch_bot/internal/model"
)

// Source returns the current result set for a query's search params.
type Source interface {
	Fetch(ctx context.Context, searchParams string) ([]model.Item, error)
}

// FetchError describes a failed fetch: the content source was unavailable,
// timed out, or returned an unusable response. The scheduler skips the
// affected query for the current cycle and retries on the next one.
type FetchError struct {
	Reason string
	Status int
	Err    error
}

func (e *FetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("fetch failed: %s (status %d)", e.Reason, e.Status)
	}
	return "fetch failed: " + e.Reason
}

func (e *FetchError) Unwrap() error { return e.Err }
