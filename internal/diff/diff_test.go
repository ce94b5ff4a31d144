package diff

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/shopspring/decimal"

	"pricewatch_bot/internal/model"
)

var decimalCmp = cmp.Comparer(func(a, b decimal.Decimal) bool { return a.Equal(b) })

func item(code, name, price string) model.Item {
	return model.Item{
		Code:     code,
		Name:     name,
		Price:    decimal.RequireFromString(price),
		Currency: "EUR",
	}
}

func TestDiff(t *testing.T) {
	tests := []struct {
		name    string
		old     []model.Item
		fetched []model.Item
		want    []model.ChangeEvent
	}{
		{
			name:    "identical snapshots produce nothing",
			old:     []model.Item{item("1", "apple", "1.00"), item("2", "banana", "0.50")},
			fetched: []model.Item{item("1", "apple", "1.00"), item("2", "banana", "0.50")},
			want:    nil,
		},
		{
			name:    "empty old snapshot reports everything as new",
			old:     nil,
			fetched: []model.Item{item("1", "apple", "1.00"), item("2", "banana", "0.50")},
			want: []model.ChangeEvent{
				{Kind: model.EventNewItem, QueryID: 7, Item: item("1", "apple", "1.00")},
				{Kind: model.EventNewItem, QueryID: 7, Item: item("2", "banana", "0.50")},
			},
		},
		{
			name:    "new item and price change, additions first",
			old:     []model.Item{item("1", "apple", "1.00")},
			fetched: []model.Item{item("1", "apple", "1.50"), item("2", "banana", "0.50")},
			want: []model.ChangeEvent{
				{Kind: model.EventNewItem, QueryID: 7, Item: item("2", "banana", "0.50")},
				{
					Kind:     model.EventPriceChanged,
					QueryID:  7,
					Item:     item("1", "apple", "1.50"),
					OldPrice: decimal.RequireFromString("1.00"),
					NewPrice: decimal.RequireFromString("1.50"),
				},
			},
		},
		{
			name:    "price drop is reported",
			old:     []model.Item{item("1", "apple", "2.00")},
			fetched: []model.Item{item("1", "apple", "1.49")},
			want: []model.ChangeEvent{
				{
					Kind:     model.EventPriceChanged,
					QueryID:  7,
					Item:     item("1", "apple", "1.49"),
					OldPrice: decimal.RequireFromString("2.00"),
					NewPrice: decimal.RequireFromString("1.49"),
				},
			},
		},
		{
			name:    "removed items are silent",
			old:     []model.Item{item("1", "apple", "1.00"), item("2", "banana", "0.50")},
			fetched: []model.Item{item("1", "apple", "1.00")},
			want:    nil,
		},
		{
			name:    "everything removed is still silent",
			old:     []model.Item{item("1", "apple", "1.00")},
			fetched: nil,
			want:    nil,
		},
		{
			name:    "equal price with different scale is not a change",
			old:     []model.Item{item("1", "apple", "1.5")},
			fetched: []model.Item{item("1", "apple", "1.50")},
			want:    nil,
		},
		{
			name: "name change alone is not a change",
			old:  []model.Item{item("1", "apple", "1.00")},
			fetched: []model.Item{
				{Code: "1", Name: "green apple", Price: decimal.RequireFromString("1.00"), Currency: "EUR"},
			},
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Diff(7, tt.old, tt.fetched)
			if diff := cmp.Diff(tt.want, got, decimalCmp); diff != "" {
				t.Errorf("Diff() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestDiffOrderFollowsFetch(t *testing.T) {
	old := []model.Item{item("b", "banana", "1.00")}
	fetched := []model.Item{
		item("c", "cherry", "3.00"),
		item("b", "banana", "1.10"),
		item("a", "apricot", "2.00"),
	}

	got := Diff(1, old, fetched)
	if len(got) != 3 {
		t.Fatalf("expected 3 events, got %d", len(got))
	}
	// Additions in fetch order, then the change.
	if got[0].Item.Code != "c" || got[1].Item.Code != "a" || got[2].Item.Code != "b" {
		t.Errorf("unexpected event order: %s, %s, %s",
			got[0].Item.Code, got[1].Item.Code, got[2].Item.Code)
	}
}
