package cmd

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/boxvps/boxvpsd/internal/api"
	"github.com/boxvps/boxvpsd/internal/application"
	"github.com/boxvps/boxvpsd/internal/bot"
)

func newServeCmd(app *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the usage tracker, HTTP API, and Telegram bot",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), app)
		},
	}
}

func runServe(parent context.Context, app *app) error {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	app.service.SetLogger(logger)

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	queue := application.NewEventQueue()
	tracker := application.NewTracker(app.service, queue, application.TrackerOptions{
		Interval:     app.cfg.Tracker.Interval,
		LockOnBreach: true,
	})
	if err := tracker.Start(ctx); err != nil {
		return err
	}
	defer tracker.Stop()

	var tgBot *bot.Bot
	if app.cfg.Bot.Token != "" {
		var err error
		tgBot, err = bot.New(app.service, app.backups, bot.Options{
			Token:    app.cfg.Bot.Token,
			AdminIDs: app.cfg.Bot.AdminIDs,
			Logger:   logger,
		})
		if err != nil {
			return err
		}
		go func() {
			if err := tgBot.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("bot stopped", "error", err)
			}
		}()
	}

	go consumeEvents(ctx, queue, tgBot, logger)

	server := &http.Server{
		Addr:              app.cfg.API.Listen,
		Handler:           api.NewServer(app.service, app.backups, app.health, app.cfg.API.Token, logger).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api listening", "addr", server.Addr)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func consumeEvents(ctx context.Context, queue *application.EventQueue, tgBot *bot.Bot, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-queue.Wait():
		}

		events := queue.Drain()
		for _, ev := range events {
			logger.Warn("limit event",
				"kind", ev.Kind, "account", ev.AccountID, "protocol", ev.Protocol,
				"usage_bytes", ev.UsageBytes, "quota_bytes", ev.QuotaBytes)
		}
		if tgBot != nil {
			tgBot.NotifyAdmins(events)
		}
	}
}
