// Package bot exposes account management over a Telegram bot so admins can
// provision and inspect accounts from chat. Only configured admin IDs are
// served; everyone else gets a refusal.
package bot

import (
	"context"
	"log/slog"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/boxvps/boxvpsd/internal/application"
)

type Bot struct {
	api     *tgbotapi.BotAPI
	svc     *application.Service
	backups *application.Backups
	admins  map[int64]bool
	logger  *slog.Logger
}

type Options struct {
	Token    string
	AdminIDs []int64
	Logger   *slog.Logger
}

func New(svc *application.Service, backups *application.Backups, opts Options) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(opts.Token)
	if err != nil {
		return nil, err
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	admins := make(map[int64]bool, len(opts.AdminIDs))
	for _, id := range opts.AdminIDs {
		admins[id] = true
	}

	return &Bot{api: api, svc: svc, backups: backups, admins: admins, logger: opts.Logger}, nil
}

// Run consumes updates until the context is cancelled.
func (b *Bot) Run(ctx context.Context) error {
	cfg := tgbotapi.NewUpdate(0)
	cfg.Timeout = 30
	updates := b.api.GetUpdatesChan(cfg)
	b.logger.Info("bot started", "username", b.api.Self.UserName)

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return ctx.Err()
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if update.Message == nil || !update.Message.IsCommand() {
				continue
			}
			b.handleMessage(ctx, update.Message)
		}
	}
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if !b.admins[msg.From.ID] {
		b.reply(msg.Chat.ID, "You are not authorized to use this bot.")
		return
	}

	cctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	reply := b.dispatch(cctx, msg.Command(), msg.CommandArguments())
	b.reply(msg.Chat.ID, reply)
}

func (b *Bot) reply(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := b.api.Send(msg); err != nil {
		b.logger.Warn("send reply", "chat", chatID, "error", err)
	}
}

// NotifyAdmins pushes tracker events to every admin chat. Used by the
// serve loop's event consumer.
func (b *Bot) NotifyAdmins(events []application.Event) {
	if len(events) == 0 {
		return
	}
	text := formatEvents(events)
	for id := range b.admins {
		b.reply(id, text)
	}
}
