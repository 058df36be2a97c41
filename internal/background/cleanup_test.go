package background

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BradenHooton/stepgate/internal/cache"
	"github.com/BradenHooton/stepgate/internal/metrics"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type failingSweeper struct{}

func (failingSweeper) DeleteExpired(ctx context.Context) (int64, error) {
	return 0, errors.New("sweep failed")
}

func TestCleanupManager_RunOnce(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	store := cache.NewMemoryStore(cache.WithMemoryClock(func() time.Time { return now }))

	require.NoError(t, store.Set(ctx, "short", []byte("a"), time.Minute))
	require.NoError(t, store.Set(ctx, "long", []byte("b"), time.Hour))

	m := metrics.New(prometheus.NewRegistry())
	cm := NewCleanupManager(store, m, discardLogger(), time.Minute)

	now = now.Add(2 * time.Minute)
	cm.RunOnce(ctx)

	assert.Equal(t, 1, store.Len())
	assert.Equal(t, float64(1), testutil.ToFloat64(m.CleanupRemoved))
}

func TestCleanupManager_SweepErrorIsLogged(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	cm := NewCleanupManager(failingSweeper{}, m, discardLogger(), time.Minute)

	assert.NotPanics(t, func() { cm.RunOnce(context.Background()) })
	assert.Equal(t, float64(0), testutil.ToFloat64(m.CleanupRemoved))
}

func TestCleanupManager_StopsOnContextCancel(t *testing.T) {
	cm := NewCleanupManager(cache.NewMemoryStore(), nil, discardLogger(), time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		cm.Start(ctx)
		close(done)
	}()

	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("cleanup manager did not stop")
	}
}

func TestCleanupManager_Stop(t *testing.T) {
	cm := NewCleanupManager(cache.NewMemoryStore(), nil, discardLogger(), time.Hour)

	done := make(chan struct{})
	go func() {
		cm.Start(context.Background())
		close(done)
	}()

	cm.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("cleanup manager did not stop")
	}
}
