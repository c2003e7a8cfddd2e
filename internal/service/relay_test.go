package service_test

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"testing/synctest"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/grantgumina/kraken/internal/service"
)

func TestRelay(t *testing.T) {
	t.Parallel()

	t.Run("order and failures", func(t *testing.T) {
		sub := &submitter{memSink: memSink{fail: map[string]error{"two": errors.New("boom")}}}
		relay := service.NewRelay(sub, "job-a", 8)
		var wg sync.WaitGroup
		wg.Go(func() {
			require.NoError(t, relay.Run(t.Context()))
		})

		for _, l := range []string{"one", "two", "three", "exit"} {
			require.NoError(t, relay.Write(t.Context(), l))
		}
		require.NoError(t, relay.Close())
		wg.Wait()

		require.Equal(t, []string{"one", "three", "exit"}, sub.Lines())
		require.Equal(t, []string{"job-a", "job-a", "job-a", "job-a"}, sub.jobs)
		require.Equal(t, service.RelayStats{Sent: 3, Failed: 1}, relay.Stats())
	})

	t.Run("full queue drops", func(t *testing.T) {
		sub := &submitter{}
		relay := service.NewRelay(sub, "job-b", 2)
		require.NoError(t, relay.Write(t.Context(), "one"))
		require.NoError(t, relay.Write(t.Context(), "two"))
		require.ErrorIs(t, relay.Write(t.Context(), "three"), service.ErrRelayQueueFull)

		require.NoError(t, relay.Close())
		require.NoError(t, relay.Run(t.Context()))
		require.Equal(t, []string{"one", "two"}, sub.Lines())
		require.Equal(t, service.RelayStats{Sent: 2, Dropped: 1}, relay.Stats())
	})

	t.Run("closed", func(t *testing.T) {
		relay := service.NewRelay(&submitter{}, "job-c", 0)
		require.NoError(t, relay.Close())
		require.NoError(t, relay.Close())
		require.ErrorIs(t, relay.Write(t.Context(), "late"), service.ErrRelayClosed)
	})
}

func TestRelayWriteWait(t *testing.T) {
	t.Parallel()

	t.Run("waits for room", func(t *testing.T) {
		sub := &submitter{}
		relay := service.NewRelay(sub, "job-d", 1)
		require.NoError(t, relay.Write(t.Context(), "one"))
		require.ErrorIs(t, relay.Write(t.Context(), "two"), service.ErrRelayQueueFull)

		var wg sync.WaitGroup
		wg.Go(func() {
			require.NoError(t, relay.Run(t.Context()))
		})
		require.NoError(t, relay.WriteWait(t.Context(), service.MarkerExit))
		require.NoError(t, relay.Close())
		wg.Wait()

		require.Equal(t, []string{"one", "exit"}, sub.Lines())
		require.Equal(t, service.RelayStats{Sent: 2, Dropped: 1}, relay.Stats())
	})

	t.Run("deadline", func(t *testing.T) {
		synctest.Test(t, func(t *testing.T) {
			relay := service.NewRelay(&submitter{}, "job-e", 1)
			require.NoError(t, relay.Write(t.Context(), "one"))
			ctx, cancel := context.WithTimeout(t.Context(), time.Second)
			defer cancel()
			start := time.Now()
			err := relay.WriteWait(ctx, service.MarkerExit)
			require.ErrorIs(t, err, service.ErrRelayQueueFull)
			require.ErrorIs(t, err, context.DeadlineExceeded)
			require.Equal(t, time.Second, time.Since(start))
			require.Equal(t, int64(1), relay.Stats().Dropped)
			require.NoError(t, relay.Close())
		})
	})
}

func TestRelayCancelled(t *testing.T) {
	t.Parallel()
	synctest.Test(t, func(t *testing.T) {
		const (
			delay = 200 * time.Millisecond
			grace = time.Second
		)
		sub := &slowSubmitter{delay: delay}
		relay := service.NewRelay(sub, "job-f", 64).WithGrace(grace)
		for i := range 40 {
			require.NoError(t, relay.Write(t.Context(), strconv.Itoa(i)))
		}
		require.NoError(t, relay.Write(t.Context(), service.MarkerCancelled))
		require.NoError(t, relay.Close())

		ctx, cancel := context.WithCancel(t.Context())
		defer cancel()
		start := time.Now()
		done := make(chan struct{})
		go func() {
			defer close(done)
			require.NoError(t, relay.Run(ctx))
		}()

		time.Sleep(300 * time.Millisecond)
		cancel()
		<-done

		// draining stops one grace period after cancel, the marker gets its own
		require.LessOrEqual(t, time.Since(start), 300*time.Millisecond+2*grace)
		lines := sub.Lines()
		require.NotEmpty(t, lines)
		require.Equal(t, service.MarkerCancelled, lines[len(lines)-1])

		stats := relay.Stats()
		require.Positive(t, stats.Dropped)
		require.Equal(t, int64(41), stats.Sent+stats.Failed+stats.Dropped)
	})
}

func TestRelayGraceUnused(t *testing.T) {
	t.Parallel()
	synctest.Test(t, func(t *testing.T) {
		sub := &slowSubmitter{delay: 10 * time.Millisecond}
		relay := service.NewRelay(sub, "job-g", 8).WithGrace(time.Second)
		for _, l := range []string{"a", "b", service.MarkerExit} {
			require.NoError(t, relay.Write(t.Context(), l))
		}
		require.NoError(t, relay.Close())
		require.NoError(t, relay.Run(t.Context()))
		require.Equal(t, []string{"a", "b", "exit"}, sub.Lines())
		require.Equal(t, service.RelayStats{Sent: 3}, relay.Stats())
	})
}
