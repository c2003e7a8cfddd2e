package service_test

import (
	"errors"
	"sync"
	"testing"
	"testing/synctest"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/grantgumina/kraken/internal/service"
)

func TestHeader(t *testing.T) {
	t.Parallel()
	now := time.Date(2024, 3, 9, 17, 4, 5, 0, time.FixedZone("CET", 3600))
	var tests = []struct {
		cmd  string
		then string
	}{
		{"echo hello", "Kraken - Job - host-a - 2024-03-09T16:04:05Z - $> echo hello"},
		{"", "Kraken - Job - host-a - 2024-03-09T16:04:05Z - $> "},
		{"echo a\necho b\r", `Kraken - Job - host-a - 2024-03-09T16:04:05Z - $> echo a\necho b\r`},
	}
	for _, tt := range tests {
		t.Run(tt.cmd, func(t *testing.T) {
			require.Equal(t, tt.then, service.Header("host-a", now, tt.cmd))
		})
	}
}

func TestIsMarker(t *testing.T) {
	t.Parallel()
	require.True(t, service.IsMarker("exit"))
	require.True(t, service.IsMarker("cancelled"))
	require.False(t, service.IsMarker("exit "))
	require.False(t, service.IsMarker(""))
}

func TestWriter(t *testing.T) {
	t.Parallel()
	now := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	t.Run("both sinks", func(t *testing.T) {
		local, remote := &memSink{}, &memSink{}
		w := service.NewWriter("job", local, remote).WithClock(func() time.Time { return now })
		w.Header(t.Context(), "echo hello")
		w.Line(t.Context(), "hello")
		w.Finish(t.Context(), service.MarkerExit)

		want := []string{"Kraken - Job - job - 2024-01-02T03:04:05Z - $> echo hello", "hello", "exit"}
		require.Equal(t, want, local.Lines())
		require.Equal(t, want, remote.Lines())
	})

	t.Run("failures are isolated", func(t *testing.T) {
		boom := errors.New("boom")
		local := &memSink{fail: map[string]error{"b": boom}}
		remote := &memSink{fail: map[string]error{"a": boom}}
		w := service.NewWriter("job", local, remote)
		for _, l := range []string{"a", "b", "c"} {
			w.Line(t.Context(), l)
		}
		require.Equal(t, []string{"a", "c"}, local.Lines())
		require.Equal(t, []string{"b", "c"}, remote.Lines())
	})

	t.Run("local only", func(t *testing.T) {
		local := &memSink{}
		w := service.NewWriter("job", local, nil)
		w.Line(t.Context(), "a")
		w.Finish(t.Context(), service.MarkerCancelled)
		require.Equal(t, []string{"a", "cancelled"}, local.Lines())
	})

	t.Run("marker waits for the relay", func(t *testing.T) {
		local, sub := &memSink{}, &submitter{}
		relay := service.NewRelay(sub, "job", 1)
		w := service.NewWriter("job", local, relay)
		w.Line(t.Context(), "a")
		w.Line(t.Context(), "b")

		var wg sync.WaitGroup
		wg.Go(func() {
			require.NoError(t, relay.Run(t.Context()))
		})
		w.Finish(t.Context(), service.MarkerExit)
		require.NoError(t, relay.Close())
		wg.Wait()

		require.Equal(t, []string{"a", "b", "exit"}, local.Lines())
		require.Equal(t, []string{"a", "exit"}, sub.Lines())
	})

	t.Run("marker timeout", func(t *testing.T) {
		synctest.Test(t, func(t *testing.T) {
			local := &memSink{}
			relay := service.NewRelay(&submitter{}, "job", 1)
			w := service.NewWriter("job", local, relay).WithMarkerTimeout(time.Second)
			w.Line(t.Context(), "a")

			start := time.Now()
			w.Finish(t.Context(), service.MarkerExit)
			require.Equal(t, time.Second, time.Since(start))
			require.Equal(t, []string{"a", "exit"}, local.Lines())
			require.Equal(t, int64(1), relay.Stats().Dropped)
			require.NoError(t, relay.Close())
		})
	})
}
