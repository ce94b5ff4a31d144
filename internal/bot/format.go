package bot

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"pricewatch_bot/internal/model"
)

// FormatNotification renders a notification record as a Telegram message.
func FormatNotification(rec *model.NotificationRecord) string {
	switch rec.Kind {
	case model.NotifyInitialSummary:
		return fmt.Sprintf(
			"Search %q ran for the first time: %d products stored.\nYou will be notified about new products and price changes from now on.",
			rec.QueryName, rec.ItemCount)
	case model.NotifyNewItem:
		return fmt.Sprintf("Search: %s\n\nNew product found: %s\nPrice: %s",
			rec.QueryName, rec.Item.Name, formatPrice(rec.NewPrice, rec.Item.Currency))
	case model.NotifyPriceChanged:
		return formatPriceChange(rec)
	default:
		return fmt.Sprintf("Search: %s", rec.QueryName)
	}
}

func formatPriceChange(rec *model.NotificationRecord) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Search: %s\n\n", rec.QueryName)

	currency := rec.Item.Currency
	if rec.NewPrice.LessThan(rec.OldPrice) {
		fmt.Fprintf(&sb, "Price drop for %s\nFrom %s to %s\nYou save %s",
			rec.Item.Name,
			formatPrice(rec.OldPrice, currency),
			formatPrice(rec.NewPrice, currency),
			formatPrice(rec.OldPrice.Sub(rec.NewPrice), currency))
	} else {
		fmt.Fprintf(&sb, "Price increase for %s\nFrom %s to %s",
			rec.Item.Name,
			formatPrice(rec.OldPrice, currency),
			formatPrice(rec.NewPrice, currency))
	}

	if rec.Stats != nil {
		var history []string
		if rec.Stats.Lowest.LessThan(rec.NewPrice) {
			history = append(history, fmt.Sprintf("Lowest ever: %s on %s",
				formatPrice(rec.Stats.Lowest, currency), rec.Stats.LowestAt.Format("02-01-2006")))
		}
		if rec.Stats.Highest.GreaterThan(rec.NewPrice) {
			history = append(history, fmt.Sprintf("Highest ever: %s on %s",
				formatPrice(rec.Stats.Highest, currency), rec.Stats.HighestAt.Format("02-01-2006")))
		}
		if len(history) > 0 {
			sb.WriteString("\n\nPrice history:\n")
			sb.WriteString(strings.Join(history, "\n"))
		}
	}
	return sb.String()
}

// FormatQueryList renders a user's queries for /list.
func FormatQueryList(queries []model.Query, userPaused bool) string {
	if len(queries) == 0 {
		return "You have no queries yet. Use /add <name> <url> to track a search."
	}

	var sb strings.Builder
	sb.WriteString("Your queries:\n")
	for _, q := range queries {
		fmt.Fprintf(&sb, "#%d %s (%s, every %d min)\n", q.ID, q.Name, string(q.State), q.IntervalMinutes)
	}
	if userPaused {
		sb.WriteString("\nAll notifications are muted (/resumeall to unmute).")
	}
	return strings.TrimRight(sb.String(), "\n")
}

// FormatQueryInfo renders the details of one query for /info.
func FormatQueryInfo(q *model.Query) string {
	lastRun := "never"
	if q.LastRunAt != nil {
		lastRun = q.LastRunAt.Format("02-01-2006 15:04")
	}
	return fmt.Sprintf("#%d %s\nState: %s\nInterval: %d min\nLast check: %s\nURL: %s",
		q.ID, q.Name, string(q.State), q.IntervalMinutes, lastRun, q.SearchParams)
}

func formatPrice(p decimal.Decimal, currency string) string {
	if currency == "EUR" {
		return "€" + p.StringFixed(2)
	}
	return p.StringFixed(2) + " " + currency
}
