// Package bot is the Telegram presentation layer: it parses user commands,
// drives the query registry, and renders notification records as messages.
package bot

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"pricewatch_bot/internal/config"
	"pricewatch_bot/internal/model"
	"pricewatch_bot/internal/registry"
)

type telegramAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Checker triggers an immediate poll of one query, outside the regular
// cycle. Implemented by the scheduler.
type Checker interface {
	RunQuery(ctx context.Context, queryID int64) error
}

// Bot is the Telegram bot that handles user commands and delivers
// notifications.
type Bot struct {
	api      telegramAPI
	registry *registry.Registry
	checker  Checker
	cfg      *config.Config
	log      *slog.Logger
}

// New creates a Bot with the given Telegram token, registry, and checker.
func New(token string, reg *registry.Registry, checker Checker, cfg *config.Config, log *slog.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}

	return &Bot{
		api:      api,
		registry: reg,
		checker:  checker,
		cfg:      cfg,
		log:      log,
	}, nil
}

// Run starts the bot's long-polling loop, blocking until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return
		case update := <-updates:
			if update.CallbackQuery != nil {
				b.handleCallback(ctx, update.CallbackQuery)
				continue
			}
			if update.Message == nil || !update.Message.IsCommand() {
				continue
			}
			if !b.cfg.IsUserAllowed(update.Message.From.ID) {
				b.reply(update.Message.Chat.ID, "Access denied.")
				continue
			}
			b.handleCommand(ctx, update.Message)
		}
	}
}

// Emit renders a notification record and sends it to the owning chat.
// Records with a product image go out as a photo message with a product
// button; everything else as plain text.
func (b *Bot) Emit(ctx context.Context, rec *model.NotificationRecord) error {
	text := FormatNotification(rec)

	if rec.Item != nil && rec.Item.ImageURL != "" {
		photo := tgbotapi.NewPhoto(rec.ChatID, tgbotapi.FileURL(rec.Item.ImageURL))
		photo.Caption = text
		if rec.Item.ProductURL != "" {
			photo.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
				tgbotapi.NewInlineKeyboardRow(
					tgbotapi.NewInlineKeyboardButtonURL("View product", rec.Item.ProductURL),
				),
			)
		}
		if _, err := b.api.Send(photo); err == nil {
			return nil
		}
		// Photo delivery can fail on a stale image URL; fall back to text.
	}

	if rec.Item != nil && rec.Item.ProductURL != "" {
		text += "\n" + rec.Item.ProductURL
	}
	msg := tgbotapi.NewMessage(rec.ChatID, text)
	msg.DisableWebPagePreview = true
	if _, err := b.api.Send(msg); err != nil {
		return fmt.Errorf("send notification: %w", err)
	}
	return nil
}

func (b *Bot) reply(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.DisableWebPagePreview = true
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send message", "chat_id", chatID, "error", err)
	}
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	cmd := msg.Command()
	args := strings.TrimSpace(msg.CommandArguments())
	chatID := msg.Chat.ID

	b.log.Debug("command", "cmd", cmd, "args", args, "chat_id", chatID)

	user, err := b.registry.RegisterUser(ctx, chatID, msg.From.UserName, msg.From.LanguageCode)
	if err != nil {
		b.log.Error("register user", "chat_id", chatID, "error", err)
		b.reply(chatID, "Something went wrong, please try again.")
		return
	}

	switch cmd {
	case "start":
		b.handleStart(chatID)
	case "help":
		b.handleHelp(chatID)
	case "add":
		b.handleAdd(ctx, user, args)
	case "list":
		b.handleList(ctx, user)
	case "info":
		b.handleInfo(ctx, user, args)
	case "pause":
		b.handlePause(ctx, user, args)
	case "resume":
		b.handleResume(ctx, user, args)
	case "delete":
		b.handleDelete(ctx, user, args)
	case "interval":
		b.handleInterval(ctx, user, args)
	case cmdCheck:
		b.handleCheck(ctx, user, args)
	case "pauseall":
		b.handleUserPause(ctx, user, true)
	case "resumeall":
		b.handleUserPause(ctx, user, false)
	case "language":
		b.handleLanguage(ctx, user, args)
	default:
		b.reply(chatID, "Unknown command. Use /help for a list of commands.")
	}
}
