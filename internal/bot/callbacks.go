package bot

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"pricewatch_bot/internal/model"
)

const cmdCheck = "check"

// handleDelete asks for confirmation before deleting; the actual deletion
// happens in the callback handler.
func (b *Bot) handleDelete(ctx context.Context, user *model.User, args string) {
	id, err := ParseIDArg(args)
	if err != nil {
		b.reply(user.ChatID, "Usage: /delete <id>")
		return
	}
	q, err := b.registry.Get(ctx, id, user.ID)
	if err != nil {
		b.replyRegistryError(user.ChatID, id, err)
		return
	}

	msg := tgbotapi.NewMessage(user.ChatID, fmt.Sprintf("Delete #%d \"%s\"? This cannot be undone.", q.ID, q.Name))
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Yes, delete", fmt.Sprintf("delete:%d", q.ID)),
			tgbotapi.NewInlineKeyboardButtonData("Cancel", "noop:0"),
		),
	)
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send delete confirmation", "error", err)
	}
}

func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	data := cb.Data
	chatID := cb.Message.Chat.ID

	callback := tgbotapi.NewCallback(cb.ID, "")
	if _, err := b.api.Send(callback); err != nil {
		b.log.Error("send callback ack", "error", err)
	}

	parts := strings.SplitN(data, ":", 2)
	if len(parts) != 2 {
		return
	}

	action := parts[0]
	id, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return
	}

	b.log.Info("callback",
		"action", action,
		"id", id,
		"chat_id", chatID,
		"user_id", cb.From.ID,
		"username", cb.From.UserName,
	)

	switch action {
	case "delete":
		user, err := b.registry.RegisterUser(ctx, chatID, cb.From.UserName, cb.From.LanguageCode)
		if err != nil {
			b.log.Error("register user", "chat_id", chatID, "error", err)
			return
		}
		if err := b.registry.Delete(ctx, id, user.ID); err != nil {
			b.replyRegistryError(chatID, id, err)
			return
		}
		b.reply(chatID, fmt.Sprintf("Query #%d deleted.", id))
	case "noop":
		// Cancelled.
	}
}
