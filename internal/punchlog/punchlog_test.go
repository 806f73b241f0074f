package punchlog

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pointage/internal/model"
)

var day = time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

func clock(h, m int) time.Time {
	return day.Add(time.Duration(h)*time.Hour + time.Duration(m)*time.Minute)
}

type fakeSource struct {
	events []model.PunchEvent
	errs   []error
	calls  atomic.Int32
	block  bool
}

func (f *fakeSource) Punches(ctx context.Context, from, to time.Time) ([]model.PunchEvent, error) {
	n := int(f.calls.Add(1)) - 1
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if n < len(f.errs) && f.errs[n] != nil {
		return nil, f.errs[n]
	}
	return f.events, nil
}

type staticResolver struct{ src Source }

func (r staticResolver) Source(context.Context, string) (Source, error) { return r.src, nil }

func window() Window {
	return Window{Date: day, Start: clock(8, 30), End: clock(11, 0)}
}

func newAdapter(src Source) *Adapter {
	return NewAdapter(staticResolver{src}, Options{Timeout: 50 * time.Millisecond, Retries: 1, Backoff: time.Millisecond})
}

func sampleEvents() []model.PunchEvent {
	return []model.PunchEvent{
		{Identifier: "100", At: clock(8, 50), DeviceID: "T1", DeviceName: "Amphi A"},
		{Identifier: "101", At: clock(8, 40), DeviceID: "T2", DeviceName: "Tourniquet Nord"},
		{Identifier: "102", At: clock(8, 45), DeviceID: "T3", DeviceName: "PORTE principale"},
		{Identifier: "103", At: clock(9, 5), DeviceID: "T4", DeviceName: "Salle 12"},
		{Identifier: "104", At: clock(8, 0), DeviceID: "T1", DeviceName: "Amphi A"},
		{Identifier: "105", At: clock(11, 0), DeviceID: "T1", DeviceName: "Amphi A"},
	}
}

func TestFetchWindow_NilAllowlistAcceptsAllButDenied(t *testing.T) {
	a := newAdapter(&fakeSource{events: sampleEvents()})
	got, err := a.FetchWindow(context.Background(), "rabat", window(), nil)
	require.NoError(t, err)
	ids := identifiers(got)
	assert.Equal(t, []string{"100", "103"}, ids)
}

func TestFetchWindow_EmptyAllowlistRejectsEverything(t *testing.T) {
	a := newAdapter(&fakeSource{events: sampleEvents()})
	got, err := a.FetchWindow(context.Background(), "rabat", window(), model.NewDeviceAllowlist(nil, nil))
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestFetchWindow_AllowlistByIDOrName(t *testing.T) {
	a := newAdapter(&fakeSource{events: sampleEvents()})

	got, err := a.FetchWindow(context.Background(), "rabat", window(), model.NewDeviceAllowlist([]string{"T4"}, nil))
	require.NoError(t, err)
	assert.Equal(t, []string{"103"}, identifiers(got))

	got, err = a.FetchWindow(context.Background(), "rabat", window(), model.NewDeviceAllowlist(nil, []string{"Amphi A"}))
	require.NoError(t, err)
	assert.Equal(t, []string{"100"}, identifiers(got))
}

func TestFetchWindow_DenylistBeatsAllowlist(t *testing.T) {
	a := newAdapter(&fakeSource{events: sampleEvents()})
	got, err := a.FetchWindow(context.Background(), "rabat", window(), model.NewDeviceAllowlist([]string{"T2"}, nil))
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestFetchWindow_RetriesOnce(t *testing.T) {
	src := &fakeSource{events: sampleEvents(), errs: []error{errors.New("connection reset")}}
	got, err := newAdapter(src).FetchWindow(context.Background(), "rabat", window(), nil)
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Equal(t, int32(2), src.calls.Load())
}

func TestFetchWindow_RepeatedFailureIsSourceUnavailable(t *testing.T) {
	cause := errors.New("access denied for user")
	src := &fakeSource{errs: []error{cause, cause, cause}}
	got, err := newAdapter(src).FetchWindow(context.Background(), "rabat", window(), nil)
	assert.Nil(t, got)
	assert.ErrorIs(t, err, model.ErrSourceUnavailable)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, int32(2), src.calls.Load())
}

func TestFetchWindow_TimeoutIsSourceUnavailable(t *testing.T) {
	src := &fakeSource{block: true}
	started := time.Now()
	_, err := newAdapter(src).FetchWindow(context.Background(), "rabat", window(), nil)
	assert.ErrorIs(t, err, model.ErrSourceUnavailable)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(started), 2*time.Second)
}

func TestFetchWindow_RejectsBadWindow(t *testing.T) {
	a := newAdapter(&fakeSource{})
	w := window()
	w.End = w.Start
	_, err := a.FetchWindow(context.Background(), "rabat", w, nil)
	assert.ErrorIs(t, err, model.ErrValidation)

	w = window()
	w.End = w.End.Add(24 * time.Hour)
	_, err = a.FetchWindow(context.Background(), "rabat", w, nil)
	assert.ErrorIs(t, err, model.ErrValidation)
}

func TestPool_UnknownCityIsValidation(t *testing.T) {
	p := NewPool(nil, func(SourceConfig) (Source, error) { return &fakeSource{}, nil })
	a := NewAdapter(p, Options{Timeout: 50 * time.Millisecond})
	_, err := a.FetchWindow(context.Background(), "atlantis", window(), nil)
	assert.ErrorIs(t, err, model.ErrValidation)
	assert.NotErrorIs(t, err, model.ErrSourceUnavailable)
}

func TestPool_FailedOpenIsRetriedAndNotCached(t *testing.T) {
	var opens int
	p := NewPool([]SourceConfig{{City: "Rabat", Host: "db", Database: "zk"}}, func(cfg SourceConfig) (Source, error) {
		opens++
		if opens == 1 {
			return nil, errors.New("dial tcp: connection refused")
		}
		return &fakeSource{events: sampleEvents()}, nil
	})
	a := NewAdapter(p, Options{Timeout: 50 * time.Millisecond, Retries: 1, Backoff: time.Millisecond})
	got, err := a.FetchWindow(context.Background(), "rabat", window(), nil)
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Equal(t, 2, opens)

	_, err = p.Source(context.Background(), " RABAT ")
	require.NoError(t, err)
	assert.Equal(t, 2, opens)
	assert.Equal(t, []string{"Rabat"}, p.Cities())
}

func TestPool_SlowCityDoesNotBlockOthers(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	var casaOpens atomic.Int32
	p := NewPool([]SourceConfig{
		{City: "Rabat", Host: "db1", Database: "zk"},
		{City: "Casablanca", Host: "db2", Database: "zk"},
	}, func(cfg SourceConfig) (Source, error) {
		if cfg.City == "Rabat" {
			close(entered)
			<-release
			return nil, errors.New("i/o timeout")
		}
		casaOpens.Add(1)
		return &fakeSource{}, nil
	})

	done := make(chan error, 1)
	go func() {
		_, err := p.Source(context.Background(), "rabat")
		done <- err
	}()
	<-entered

	got := make(chan error, 1)
	go func() {
		_, err := p.Source(context.Background(), "casablanca")
		got <- err
	}()
	select {
	case err := <-got:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("lookup for another city waited on a slow open")
	}

	close(release)
	assert.ErrorIs(t, <-done, model.ErrSourceUnavailable)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := p.Source(context.Background(), "Casablanca")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), casaOpens.Load())
}

func TestDenied(t *testing.T) {
	assert.True(t, Denied("tourniquet 3"))
	assert.True(t, Denied("  Door-West"))
	assert.False(t, Denied("Amphi A"))
	assert.False(t, Denied(""))
}

func TestParseCatalog(t *testing.T) {
	data := []byte(`
sources:
  - city: Rabat
    host: 10.0.0.5
    username: reader
    password: secret
    database: zkbiotime
    timezone: UTC
  - city: Casablanca
    host: 10.0.1.5
    port: 3307
    database: att
    table: checkinout
    timezone: UTC
    columns:
      identifier: userid
      time: checktime
      device_id: sn
      device_name: alias
`)
	got, err := ParseCatalog(data)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 3306, got[0].Port)
	assert.Equal(t, "iclock_transaction", got[0].Table)
	assert.Equal(t, "emp_code", got[0].Columns.Identifier)
	assert.Equal(t, "checktime", got[1].Columns.Time)
	assert.Contains(t, got[0].DSN(5*time.Second), "reader:secret@tcp(10.0.0.5:3306)/zkbiotime?")
	assert.Contains(t, got[0].DSN(5*time.Second), "parseTime=true")
}

func TestParseCatalog_Rejects(t *testing.T) {
	_, err := ParseCatalog([]byte("sources:\n  - city: X\n    host: h\n    database: d\n    table: \"t; DROP TABLE x\"\n"))
	assert.Error(t, err)
	_, err = ParseCatalog([]byte("sources:\n  - city: X\n    host: h\n    database: d\n  - city: x\n    host: h\n    database: d\n"))
	assert.Error(t, err)
	_, err = ParseCatalog([]byte("sources:\n  - host: h\n"))
	assert.Error(t, err)
}

func identifiers(events []model.PunchEvent) []string {
	out := make([]string, 0, len(events))
	for _, e := range events {
		out = append(out, e.Identifier)
	}
	return out
}
