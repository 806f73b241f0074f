package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"pointage/internal/app"
	"pointage/internal/config"
	"pointage/internal/model"
)

// Worker consumes reconciliation jobs and runs them as the system actor.
func main() {
	cfg := config.Load()
	log := cfg.Logger(os.Stdout)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg, log)
	if err != nil {
		log.Error("worker init failed", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	messages, err := a.Queue.Consume(ctx)
	if err != nil {
		log.Error("queue consume init failed", "error", err)
		return
	}

	log.Info("worker started, waiting for jobs")
	for msg := range messages {
		rep, err := a.Orchestrator.HandleMessage(ctx, msg)
		switch {
		case errors.Is(err, model.ErrSourceUnavailable):
			// Nothing was written; the next sweep retries.
			log.Warn("punch source unavailable, job skipped", "type", msg.Type, "error", err)
		case err != nil:
			log.Error("job failed", "type", msg.Type, "error", err)
		case rep.Session.ID != "":
			log.Info("job done",
				"session", rep.Session.String(),
				"created", rep.Created,
				"already_existing", rep.AlreadyExisting,
				"failed", len(rep.Errors))
		}
	}
	log.Info("worker stopped")
}
