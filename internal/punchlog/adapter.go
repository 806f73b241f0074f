// Package punchlog fetches biometric punch events from the external,
// independently administered access-control databases.
package punchlog

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"time"

	"pointage/internal/metrics"
	"pointage/internal/model"
)

// DeniedDevicePrefixes are terminal name prefixes that never count as
// attendance evidence: turnstiles and access-control doors.
var DeniedDevicePrefixes = []string{"TOURNIQUET", "TURNSTILE", "PORTIQUE", "PORTE", "DOOR", "BARRIER"}

// Window is a same-day [Start, End) query range.
type Window struct {
	Date  time.Time
	Start time.Time
	End   time.Time
}

func (w Window) validate() error {
	if w.Date.IsZero() {
		return model.Invalid("window.date", "required")
	}
	y, m, d := w.Date.Date()
	for name, t := range map[string]time.Time{"window.start": w.Start, "window.end": w.End} {
		ty, tm, td := t.In(w.Date.Location()).Date()
		if ty != y || tm != m || td != d {
			return model.Invalid(name, "not on %s", w.Date.Format(model.DateLayout))
		}
	}
	if !w.End.After(w.Start) {
		return model.Invalid("window.end", "not after start")
	}
	return nil
}

// Options tune the adapter's network behaviour.
type Options struct {
	// Timeout bounds each attempt.
	Timeout time.Duration
	// Retries is the number of extra attempts after a failure.
	Retries int
	Backoff time.Duration
	Logger  *slog.Logger
}

// Adapter fetches filtered punch windows.
type Adapter struct {
	resolver Resolver
	opts     Options
}

// NewAdapter builds an adapter; zero Timeout and Backoff become 5s and 200ms.
func NewAdapter(resolver Resolver, opts Options) *Adapter {
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.Retries < 0 {
		opts.Retries = 0
	}
	if opts.Backoff <= 0 {
		opts.Backoff = 200 * time.Millisecond
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Adapter{resolver: resolver, opts: opts}
}

// FetchWindow returns the city's punches in w, minus denied terminals, then
// restricted by allow. A nil allow means no restriction; an empty one rejects
// everything. Any failure to reach the source is an ErrSourceUnavailable;
// the result is either the complete window or an error, never a partial one.
func (a *Adapter) FetchWindow(ctx context.Context, city string, w Window, allow *model.DeviceAllowlist) ([]model.PunchEvent, error) {
	if err := w.validate(); err != nil {
		return nil, err
	}
	events, err := a.fetch(ctx, city, w)
	if err != nil {
		return nil, err
	}
	out := make([]model.PunchEvent, 0, len(events))
	for _, e := range events {
		if e.At.Before(w.Start) || !e.At.Before(w.End) {
			continue
		}
		if Denied(e.DeviceName) {
			continue
		}
		if !allow.Allows(e.DeviceID, e.DeviceName) {
			continue
		}
		out = append(out, e)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].At.Before(out[j].At) })
	return out, nil
}

func (a *Adapter) fetch(ctx context.Context, city string, w Window) ([]model.PunchEvent, error) {
	var lastErr error
	for attempt := 0; attempt <= a.opts.Retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, a.unavailable(city, w, ctx.Err())
			case <-time.After(a.opts.Backoff):
			}
		}
		events, err := a.attempt(ctx, city, w)
		if err == nil {
			return events, nil
		}
		if errors.Is(err, model.ErrValidation) {
			return nil, err
		}
		lastErr = err
		a.opts.Logger.Debug("punch query attempt failed", "city", city, "attempt", attempt+1, "error", err)
		if ctx.Err() != nil {
			break
		}
	}
	return nil, a.unavailable(city, w, lastErr)
}

func (a *Adapter) attempt(ctx context.Context, city string, w Window) ([]model.PunchEvent, error) {
	ctx, cancel := context.WithTimeout(ctx, a.opts.Timeout)
	defer cancel()

	src, err := a.resolver.Source(ctx, city)
	if err != nil {
		return nil, err
	}
	started := time.Now()
	events, err := src.Punches(ctx, w.Start, w.End)
	metrics.PunchQueryDuration.WithLabelValues(city).Observe(time.Since(started).Seconds())
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	return events, err
}

func (a *Adapter) unavailable(city string, w Window, err error) error {
	metrics.PunchSourceFailures.WithLabelValues(city).Inc()
	a.opts.Logger.Warn("punch source unavailable",
		"city", city,
		"date", w.Date.Format(model.DateLayout),
		"from", w.Start.Format(time.TimeOnly),
		"to", w.End.Format(time.TimeOnly),
		"error", err)
	var se *model.SourceError
	if errors.As(err, &se) {
		return se
	}
	return &model.SourceError{City: city, Err: err}
}

// Denied reports whether a terminal name is a non-attendance device.
func Denied(deviceName string) bool {
	name := strings.ToUpper(strings.TrimSpace(deviceName))
	for _, p := range DeniedDevicePrefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}
