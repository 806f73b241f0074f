// Package app composes the stores, sources and orchestrator shared by the
// binaries.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"pointage/internal/attendance"
	"pointage/internal/config"
	"pointage/internal/handler"
	"pointage/internal/punchlog"
	"pointage/internal/qrcode"
	"pointage/internal/queue"
	"pointage/internal/reconcile"
	"pointage/internal/schedule"
	"pointage/internal/store"
)

// App is the wired service.
type App struct {
	Orchestrator *reconcile.Orchestrator
	Queue        queue.Queue
	Checks       map[string]handler.HealthCheck

	closers []func() error
}

// Build opens every backend named by cfg. With STORE_BACKEND=memory the
// attendance, QR and schedule stores live in process.
func Build(ctx context.Context, cfg config.App, log *slog.Logger) (*App, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	a := &App{Checks: map[string]handler.HealthCheck{}}

	var (
		dir     schedule.Directory
		records attendance.Store
		scans   qrcode.Store
	)
	switch cfg.StoreBackend {
	case "memory":
		dir = schedule.NewMemory()
		records = attendance.NewMemoryStore()
		scans = qrcode.NewMemoryStore()
		log.Warn("using in-process stores; data is lost on restart")
	default:
		db, err := store.NewDB(ctx, cfg.DatabaseURL)
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		a.closers = append(a.closers, db.Close)
		if err := db.Migrate(ctx); err != nil {
			_ = a.Close()
			return nil, err
		}
		dir = schedule.NewPostgresDirectory(db.Client, loc).WithDefaultTolerance(cfg.DefaultToleranceMinutes)
		records = attendance.NewRepository(db.Client)
		scans = qrcode.NewPostgresStore(db.Client)
		a.Checks["db"] = db.Healthy
	}

	switch cfg.QueueBackend {
	case "memory":
		a.Queue = queue.NewInMemory(64)
	default:
		rd := store.NewRedis(cfg.RedisAddr, cfg.RedisPassword)
		a.closers = append(a.closers, rd.Close)
		a.Queue = queue.NewRedisQueue(rd.Client, queue.DefaultKey, log)
		a.Checks["redis"] = rd.Healthy
	}

	catalog, err := punchlog.LoadCatalogFile(cfg.PunchSourcesFile)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	pool := punchlog.NewPool(catalog, punchlog.MySQLFactory(cfg.PunchQueryTimeout))
	a.closers = append(a.closers, pool.Close)
	log.Info("punch sources loaded", "cities", pool.Cities())

	qr := qrcode.NewManager(scans, cfg.QRTokenTTL, qrcode.WithEligibility(schedule.Eligibility{Dir: dir}))
	a.Orchestrator = reconcile.New(reconcile.Deps{
		Directory: dir,
		Store:     records,
		Punches: punchlog.NewAdapter(pool, punchlog.Options{
			Timeout: cfg.PunchQueryTimeout,
			Retries: cfg.PunchRetries,
			Logger:  log,
		}),
		QR:      qr,
		Workers: cfg.ReconcileWorkers,
		Logger:  log,
	})
	return a, nil
}

// Close releases the backends in reverse order of opening.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}
