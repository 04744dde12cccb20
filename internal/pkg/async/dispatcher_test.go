package async

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"log/slog"
	"os"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestDispatcherRunsTasks(t *testing.T) {
	d := NewDispatcher(testLogger(), 2, 16)

	var ran atomic.Int64
	for i := 0; i < 10; i++ {
		ok := d.Dispatch(Task{
			Name: "count",
			Execute: func() error {
				ran.Add(1)
				return nil
			},
		})
		require.True(t, ok)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, d.Shutdown(ctx))

	assert.EqualValues(t, 10, ran.Load())
}

func TestDispatcherShedsWhenFull(t *testing.T) {
	d := NewDispatcher(testLogger(), 1, 1)

	block := make(chan struct{})
	d.Dispatch(Task{Name: "block", Execute: func() error {
		<-block
		return nil
	}})

	// Fill the queue, then overflow it.
	for i := 0; i < 5; i++ {
		d.Dispatch(Task{Name: "fill", Execute: func() error { return nil }})
	}
	assert.Greater(t, d.Dropped(), uint64(0))

	close(block)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, d.Shutdown(ctx))
}

func TestDispatcherRejectsAfterShutdown(t *testing.T) {
	d := NewDispatcher(testLogger(), 1, 1)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, d.Shutdown(ctx))

	assert.False(t, d.Dispatch(Task{Name: "late", Execute: func() error { return nil }}))
}
