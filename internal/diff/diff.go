// Package diff computes change events between two item snapshots.
package diff

import "pricewatch_bot/internal/model"

// Diff compares the previous snapshot with a freshly fetched item set and
// returns the detected changes: items absent from old become EventNewItem,
// items present in both with a different price become EventPriceChanged.
// Items that disappeared from the fetch are not reported; delisting is
// silent.
//
// The result is deterministic for identical inputs: additions come first,
// then price changes, each in the order items appear in the new fetch.
func Diff(queryID int64, old, fetched []model.Item) []model.ChangeEvent {
	prev := make(map[string]model.Item, len(old))
	for _, it := range old {
		prev[it.Code] = it
	}

	var added, changed []model.ChangeEvent
	for _, it := range fetched {
		before, ok := prev[it.Code]
		if !ok {
			added = append(added, model.ChangeEvent{
				Kind:    model.EventNewItem,
				QueryID: queryID,
				Item:    it,
			})
			continue
		}
		if !before.Price.Equal(it.Price) {
			changed = append(changed, model.ChangeEvent{
				Kind:     model.EventPriceChanged,
				QueryID:  queryID,
				Item:     it,
				OldPrice: before.Price,
				NewPrice: it.Price,
			})
		}
	}

	return append(added, changed...)
}
