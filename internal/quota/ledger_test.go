package quota

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arvscout/arvscout/internal/kvstore"
	"github.com/arvscout/arvscout/internal/metrics"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time { return c.t }

// failingStore errors on every read.
type failingStore struct{ *kvstore.Memory }

func (failingStore) Get(context.Context, string) ([]byte, error) {
	return nil, errors.New("store unavailable")
}

func newLedger(store kvstore.Store, clock *fakeClock) *Ledger {
	return New(store, Options{
		Limits: map[string]Limit{
			"bridge":   {Period: Daily, Max: 100},
			"rentcast": {Period: Monthly, Max: 50},
			"attom":    {Period: Monthly, Max: 200},
		},
		Now:     clock.Now,
		Metrics: metrics.New(),
	})
}

func TestKeys(t *testing.T) {
	ts := time.Date(2024, 3, 9, 23, 30, 0, 0, time.UTC)
	assert.Equal(t, "bridge_2024-03-09", Key("bridge", Daily, ts))
	assert.Equal(t, "rentcast_2024-03", Key("rentcast", Monthly, ts))
	assert.Equal(t, "rentcast_2024-03_failed", FailedKey("rentcast", Monthly, ts))

	// keys are computed in UTC
	est := time.FixedZone("EST", -5*3600)
	late := time.Date(2024, 3, 31, 22, 0, 0, 0, est)
	assert.Equal(t, "rentcast_2024-04", Key("rentcast", Monthly, late))
}

func TestThreshold(t *testing.T) {
	assert.Equal(t, int64(45), Threshold(50, 0.9))
	assert.Equal(t, int64(90), Threshold(100, 0.9))
	assert.Equal(t, int64(8), Threshold(9, 0.9))
	assert.Equal(t, int64(1), Threshold(1, 0.9))
	assert.Equal(t, int64(1), Threshold(2, 0.1))
	assert.Equal(t, int64(0), Threshold(0, 0.9))
}

func TestSingleCallAllowance(t *testing.T) {
	clock := &fakeClock{t: time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)}
	l := New(kvstore.NewMemory(), Options{
		Limits: map[string]Limit{"attom": {Period: Monthly, Max: 1}},
		Now:    clock.Now,
	})
	ctx := context.Background()

	assert.True(t, l.IsAvailable(ctx, "attom", Monthly))
	_, err := l.RecordUsage(ctx, "attom", Monthly)
	require.NoError(t, err)
	assert.False(t, l.IsAvailable(ctx, "attom", Monthly))
}

func TestIsAvailableBelowThreshold(t *testing.T) {
	clock := &fakeClock{t: time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)}
	store := kvstore.NewMemory()
	l := newLedger(store, clock)
	ctx := context.Background()

	assert.True(t, l.IsAvailable(ctx, "rentcast", Monthly))

	for i := 0; i < 44; i++ {
		_, err := l.RecordUsage(ctx, "rentcast", Monthly)
		require.NoError(t, err)
	}
	assert.True(t, l.IsAvailable(ctx, "rentcast", Monthly))

	n, err := l.RecordUsage(ctx, "rentcast", Monthly)
	require.NoError(t, err)
	assert.Equal(t, int64(45), n)
	assert.False(t, l.IsAvailable(ctx, "rentcast", Monthly))
}

func TestIsAvailableAtThresholdFromStore(t *testing.T) {
	clock := &fakeClock{t: time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)}
	store := kvstore.NewMemory()
	l := newLedger(store, clock)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "rentcast_2024-03", []byte("45")))
	assert.False(t, l.IsAvailable(ctx, "rentcast", Monthly))

	require.NoError(t, store.Set(ctx, "rentcast_2024-03", []byte("44")))
	assert.True(t, l.IsAvailable(ctx, "rentcast", Monthly))
}

func TestNewPeriodStartsFresh(t *testing.T) {
	clock := &fakeClock{t: time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)}
	store := kvstore.NewMemory()
	l := newLedger(store, clock)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "bridge_2024-03-15", []byte("95")))
	assert.False(t, l.IsAvailable(ctx, "bridge", Daily))

	clock.t = clock.t.Add(24 * time.Hour)
	assert.True(t, l.IsAvailable(ctx, "bridge", Daily))
}

func TestUntrackedAlwaysAvailable(t *testing.T) {
	clock := &fakeClock{t: time.Now().UTC()}
	l := newLedger(failingStore{kvstore.NewMemory()}, clock)
	assert.True(t, l.IsAvailable(context.Background(), "market", Monthly))
	assert.False(t, l.Tracked("market"))
	assert.True(t, l.Tracked("attom"))
}

func TestStoreErrorFailsClosed(t *testing.T) {
	clock := &fakeClock{t: time.Now().UTC()}
	l := newLedger(failingStore{kvstore.NewMemory()}, clock)
	assert.False(t, l.IsAvailable(context.Background(), "rentcast", Monthly))
}

func TestRecordFailureIsSeparate(t *testing.T) {
	clock := &fakeClock{t: time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)}
	store := kvstore.NewMemory()
	l := newLedger(store, clock)
	ctx := context.Background()

	for i := 0; i < 60; i++ {
		require.NoError(t, l.RecordFailure(ctx, "rentcast", Monthly))
	}
	assert.True(t, l.IsAvailable(ctx, "rentcast", Monthly), "failures never consume quota")

	n, err := kvstore.GetInt(ctx, store, "rentcast_2024-03_failed")
	require.NoError(t, err)
	assert.Equal(t, int64(60), n)
}

func TestReport(t *testing.T) {
	clock := &fakeClock{t: time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)}
	store := kvstore.NewMemory()
	l := newLedger(store, clock)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := l.RecordUsage(ctx, "rentcast", Monthly)
		require.NoError(t, err)
	}
	require.NoError(t, l.RecordFailure(ctx, "rentcast", Monthly))
	_, err := l.RecordUsage(ctx, "bridge", Daily)
	require.NoError(t, err)

	report := l.Report(ctx)
	require.Len(t, report, 3)

	rc := report["rentcast"]
	assert.Equal(t, int64(3), rc.Used)
	assert.Equal(t, int64(1), rc.Failed)
	assert.Equal(t, int64(50), rc.Limit)
	assert.Equal(t, int64(45), rc.Threshold)
	assert.Equal(t, int64(47), rc.Remaining)
	assert.Equal(t, "2024-03", rc.PeriodKey)
	assert.Equal(t, time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC), rc.ResetDate)
	assert.True(t, rc.Available)

	br := report["bridge"]
	assert.Equal(t, int64(1), br.Used)
	assert.Equal(t, "2024-03-15", br.PeriodKey)
	assert.Equal(t, time.Date(2024, 3, 16, 0, 0, 0, 0, time.UTC), br.ResetDate)

	assert.Equal(t, []string{"attom", "bridge", "rentcast"}, l.Providers())
}

func TestParsePeriod(t *testing.T) {
	p, err := ParsePeriod("day")
	require.NoError(t, err)
	assert.Equal(t, Daily, p)
	p, err = ParsePeriod("monthly")
	require.NoError(t, err)
	assert.Equal(t, Monthly, p)
	_, err = ParsePeriod("weekly")
	assert.Error(t, err)
}

func TestDefaultAlertFraction(t *testing.T) {
	l := New(kvstore.NewMemory(), Options{AlertFraction: 1.5})
	assert.Equal(t, DefaultAlertFraction, l.alert)
}
