package jobs

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"gitlab.com/hearthline/api/telephony-engine/internal/config"
	"gitlab.com/hearthline/api/telephony-engine/internal/tenant"
	"gitlab.com/hearthline/api/telephony-engine/pkg/logger"
)

func newTestDispatcher(t *testing.T) *Dispatcher {
	logger.Log = zaptest.NewLogger(t).Named("test")
	d, err := NewDispatcher(config.JobsPoolConfig{
		PoolSize:   2,
		QueueSize:  100,
		MaxBlock:   time.Second,
		ExpiryTime: time.Minute,
	}, logger.Log)
	require.NoError(t, err)
	t.Cleanup(d.Release)
	return d
}

func TestDispatcher_RunsSubmittedJobs(t *testing.T) {
	d := newTestDispatcher(t)

	var wg sync.WaitGroup
	var mu sync.Mutex
	ran := 0

	for i := 0; i < 5; i++ {
		wg.Add(1)
		err := d.Submit(context.Background(), "test_job", func(ctx context.Context) {
			defer wg.Done()
			mu.Lock()
			ran++
			mu.Unlock()
		})
		require.NoError(t, err)
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 5, ran)
}

func TestDispatcher_CarriesRequestID(t *testing.T) {
	d := newTestDispatcher(t)

	ctx := tenant.WithRequestID(context.Background(), "req-123")
	done := make(chan string, 1)

	err := d.Submit(ctx, "test_job", func(jobCtx context.Context) {
		requestID, _ := tenant.FromRequestIDContext(jobCtx)
		done <- requestID
	})
	require.NoError(t, err)

	select {
	case got := <-done:
		assert.Equal(t, "req-123", got)
	case <-time.After(2 * time.Second):
		t.Fatal("job did not run")
	}
}

func TestDispatcher_RecoversFromPanic(t *testing.T) {
	d := newTestDispatcher(t)

	err := d.Submit(context.Background(), "panicking_job", func(ctx context.Context) {
		panic("boom")
	})
	require.NoError(t, err)

	// The pool must stay usable after a panic.
	done := make(chan struct{}, 1)
	err = d.Submit(context.Background(), "follow_up", func(ctx context.Context) {
		done <- struct{}{}
	})
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("pool did not recover after panic")
	}
}
