package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/grantgumina/kraken/internal/model"
)

func TestRenderJobs(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	err := renderJobs(&buf, []model.Job{
		{Name: "host-a-calm-river-0001", Description: "nightly build", Status: "running"},
		{Name: "host-a-bold-moon-0002", Status: "done"},
	})
	require.NoError(t, err)
	out := buf.String()
	for _, s := range []string{"Job Name", "Description", "Status", "host-a-calm-river-0001", "nightly build", "running", "host-a-bold-moon-0002", "done"} {
		require.Contains(t, out, s)
	}
	require.Less(t, strings.Index(out, "Job Name"), strings.Index(out, "calm-river"))
	require.Less(t, strings.Index(out, "calm-river"), strings.Index(out, "bold-moon"))
}

func TestReadSecret(t *testing.T) {
	t.Parallel()
	var tests = []struct {
		given string
		then  string
		err   bool
	}{
		{"hunter2\n", "hunter2", false},
		{"hunter2\r\nignored\n", "hunter2", false},
		{"no newline", "no newline", false},
		{"\n", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.given, func(t *testing.T) {
			got, err := readSecret(strings.NewReader(tt.given))
			if tt.err {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.then, got)
		})
	}
}

func TestStoreDefaultConfig(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "nested", "kraken.yaml")
	require.False(t, exists(path))
	require.NoError(t, storeDefaultConfig(path, model.DefaultConfig()))
	require.True(t, exists(path))
	require.False(t, exists(filepath.Dir(path)))

	f, err := os.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = f.Close()
	})
	cfg, err := model.LoadConfig(f)
	require.NoError(t, err)
	require.Equal(t, model.DefaultConfig().Server.URL.String(), cfg.Server.URL.String())
	require.Equal(t, model.DefaultConfig().Job, cfg.Job)
}

func TestApplyEnv(t *testing.T) {
	t.Parallel()
	var tests = []struct {
		scenario string
		env      map[string]string
		err      error
	}{
		{"none", nil, nil},
		{"https url", map[string]string{"KRAKEN_SERVER_URL": "https://logs.example.com"}, nil},
		{"ftp url", map[string]string{"KRAKEN_SERVER_URL": "ftp://logs.example.com"}, model.ErrInvalidConfig},
		{"relative url", map[string]string{"KRAKEN_SERVER_URL": "logs"}, model.ErrInvalidConfig},
	}
	for _, tt := range tests {
		t.Run(tt.scenario, func(t *testing.T) {
			cfg := model.DefaultConfig()
			err := applyEnv(&cfg, func(k string) (string, bool) {
				v, ok := tt.env[k]
				return v, ok
			})
			if tt.err != nil {
				require.ErrorIs(t, err, tt.err)
				return
			}
			require.NoError(t, err)
		})
	}

	t.Run("bad bool", func(t *testing.T) {
		cfg := model.DefaultConfig()
		err := applyEnv(&cfg, func(k string) (string, bool) {
			return "maybe", k == "KRAKEN_VERBOSE"
		})
		require.Error(t, err)
	})
}

type fakeRemover struct {
	mx      sync.Mutex
	removed []string
	all     int
	fail    map[string]error
}

func (f *fakeRemover) RemoveJob(_ context.Context, name string) error {
	f.mx.Lock()
	defer f.mx.Unlock()
	if err := f.fail[name]; err != nil {
		return err
	}
	f.removed = append(f.removed, name)
	return nil
}

func (f *fakeRemover) RemoveAllJobs(context.Context) error {
	f.mx.Lock()
	defer f.mx.Unlock()
	f.all++
	return nil
}

func TestRemoveJobs(t *testing.T) {
	t.Parallel()

	t.Run("names", func(t *testing.T) {
		f := &fakeRemover{fail: map[string]error{"gone": errors.New("not found")}}
		var out bytes.Buffer
		err := removeJobs(t.Context(), &out, f, []string{"b", "a", "gone", "a"}, false)
		require.ErrorContains(t, err, "gone: not found")
		slices.Sort(f.removed)
		require.Equal(t, []string{"a", "b"}, f.removed)
		require.Zero(t, f.all)
		require.Contains(t, out.String(), "job a removed\n")
		require.Contains(t, out.String(), "job b removed\n")
	})

	t.Run("all ignores names", func(t *testing.T) {
		f := &fakeRemover{}
		var out bytes.Buffer
		require.NoError(t, removeJobs(t.Context(), &out, f, []string{"a", "b"}, true))
		require.Equal(t, 1, f.all)
		require.Empty(t, f.removed)
		require.Equal(t, "all jobs removed\n", out.String())
	})

	t.Run("short flag", func(t *testing.T) {
		flag := removeJobCmd.Flags().ShorthandLookup("a")
		require.NotNil(t, flag)
		require.Equal(t, "all", flag.Name)
	})
}
