package bot

import (
	"context"
	"errors"
	"fmt"

	"pricewatch_bot/internal/model"
	"pricewatch_bot/internal/registry"
)

func (b *Bot) handleStart(chatID int64) {
	b.reply(chatID, `Welcome to PriceWatch Bot!

Track product searches on the Lidl catalog and get notified about new
products and price changes.

Quick start:
1. Open www.lidl.nl, search for something, copy the URL
2. /add <name> <url> - start tracking that search
3. Wait for notifications

Use /help for the full command reference.`)
}

func (b *Bot) handleHelp(chatID int64) {
	b.reply(chatID, `Query management:
/add <name> <url> - track a catalog search
/list - show all your queries
/info <id> - query details
/pause <id> - stop checking a query
/resume <id> - resume checking
/delete <id> - delete a query
/interval <id> <min> - set check interval (15-1440)
/check <id> - force a check now

Notifications:
/pauseall - mute notifications for all queries
/resumeall - unmute notifications
/language <code> - set language preference`)
}

func (b *Bot) handleAdd(ctx context.Context, user *model.User, args string) {
	name, rawURL, err := ParseAddArgs(args)
	if err != nil {
		b.reply(user.ChatID, "Usage: /add <name> <url>")
		return
	}

	q, err := b.registry.Create(ctx, user.ID, name, rawURL, registry.DefaultIntervalMinutes)
	switch {
	case errors.Is(err, registry.ErrDuplicateQuery):
		b.reply(user.ChatID, "You are already tracking that search.")
		return
	case errors.Is(err, registry.ErrQuotaExceeded):
		b.reply(user.ChatID, "You have reached your query limit. Delete one first.")
		return
	case err != nil:
		b.reply(user.ChatID, fmt.Sprintf("Failed to save query: %v", err))
		return
	}

	b.reply(user.ChatID, fmt.Sprintf(
		"Query added!\n#%d %s (every %d min)\nThe first check stores the current results without sending per-product notifications.",
		q.ID, q.Name, q.IntervalMinutes))
}

func (b *Bot) handleList(ctx context.Context, user *model.User) {
	queries, err := b.registry.List(ctx, user.ID)
	if err != nil {
		b.reply(user.ChatID, fmt.Sprintf("Error: %v", err))
		return
	}
	b.reply(user.ChatID, FormatQueryList(queries, user.Paused))
}

func (b *Bot) handleInfo(ctx context.Context, user *model.User, args string) {
	id, err := ParseIDArg(args)
	if err != nil {
		b.reply(user.ChatID, "Usage: /info <id>")
		return
	}
	q, err := b.registry.Get(ctx, id, user.ID)
	if err != nil {
		b.replyRegistryError(user.ChatID, id, err)
		return
	}
	b.reply(user.ChatID, FormatQueryInfo(q))
}

func (b *Bot) handlePause(ctx context.Context, user *model.User, args string) {
	id, err := ParseIDArg(args)
	if err != nil {
		b.reply(user.ChatID, "Usage: /pause <id>")
		return
	}
	if err := b.registry.Pause(ctx, id, user.ID); err != nil {
		b.replyRegistryError(user.ChatID, id, err)
		return
	}
	b.reply(user.ChatID, fmt.Sprintf("Query #%d paused. Use /resume %d to continue checking.", id, id))
}

func (b *Bot) handleResume(ctx context.Context, user *model.User, args string) {
	id, err := ParseIDArg(args)
	if err != nil {
		b.reply(user.ChatID, "Usage: /resume <id>")
		return
	}
	if err := b.registry.Resume(ctx, id, user.ID); err != nil {
		b.replyRegistryError(user.ChatID, id, err)
		return
	}
	b.reply(user.ChatID, fmt.Sprintf("Query #%d resumed.", id))
}

func (b *Bot) handleInterval(ctx context.Context, user *model.User, args string) {
	id, minutes, err := ParseIntervalArgs(args)
	if err != nil {
		b.reply(user.ChatID, err.Error())
		return
	}
	if err := b.registry.SetInterval(ctx, id, user.ID, minutes); err != nil {
		b.replyRegistryError(user.ChatID, id, err)
		return
	}
	b.reply(user.ChatID, fmt.Sprintf("Query #%d will now be checked every %d minutes.", id, minutes))
}

func (b *Bot) handleCheck(ctx context.Context, user *model.User, args string) {
	id, err := ParseIDArg(args)
	if err != nil {
		b.reply(user.ChatID, "Usage: /check <id>")
		return
	}
	if _, err := b.registry.Get(ctx, id, user.ID); err != nil {
		b.replyRegistryError(user.ChatID, id, err)
		return
	}
	if err := b.checker.RunQuery(ctx, id); err != nil {
		b.reply(user.ChatID, fmt.Sprintf("Check failed: %v", err))
		return
	}
	b.reply(user.ChatID, fmt.Sprintf("Query #%d checked.", id))
}

func (b *Bot) handleUserPause(ctx context.Context, user *model.User, paused bool) {
	if err := b.registry.SetUserPause(ctx, user.ID, paused); err != nil {
		b.reply(user.ChatID, fmt.Sprintf("Error: %v", err))
		return
	}
	if paused {
		b.reply(user.ChatID, "All notifications muted. Your queries keep running; use /resumeall to unmute.")
	} else {
		b.reply(user.ChatID, "Notifications unmuted.")
	}
}

func (b *Bot) handleLanguage(ctx context.Context, user *model.User, args string) {
	lang, err := ParseLanguageArg(args)
	if err != nil {
		b.reply(user.ChatID, "Usage: /language <code>, e.g. /language nl")
		return
	}
	if err := b.registry.SetUserLanguage(ctx, user.ID, lang); err != nil {
		b.reply(user.ChatID, fmt.Sprintf("Error: %v", err))
		return
	}
	b.reply(user.ChatID, fmt.Sprintf("Language preference set to %q.", lang))
}

func (b *Bot) replyRegistryError(chatID, queryID int64, err error) {
	switch {
	case errors.Is(err, registry.ErrNotFound), errors.Is(err, registry.ErrNotOwner):
		// Not revealing other users' query ids.
		b.reply(chatID, fmt.Sprintf("Query #%d not found.", queryID))
	default:
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
	}
}
