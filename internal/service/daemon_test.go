package service_test

import (
	"bytes"
	"os"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/grantgumina/kraken/internal/api/apitest"
	"github.com/grantgumina/kraken/internal/jobname"
	"github.com/grantgumina/kraken/internal/service"
)

func TestReadSpec(t *testing.T) {
	t.Parallel()
	sh := requireSh(t)
	spec := newSpec(t, sh, "job-spec", "echo hi")
	spec.RunID = "run-1"
	raw, err := yaml.Marshal(spec)
	require.NoError(t, err)

	got, err := service.ReadSpec(bytes.NewReader(raw))
	require.NoError(t, err)
	require.Equal(t, spec.Name, got.Name)
	require.Equal(t, spec.Command, got.Command)
	require.Equal(t, spec.Paths, got.Paths)
	require.Equal(t, spec.Config.Job, got.Config.Job)
	require.Equal(t, spec.Config.Server.URL.String(), got.Config.Server.URL.String())

	var tests = []struct {
		scenario string
		given    string
		then     string
	}{
		{"empty", "", "decoding spec"},
		{"unknown field", "name: x\nfoo: bar\n", "field foo not found"},
		{"missing fields", "name: x\n", "command: is required"},
		{"bad name", "name: ../x\ncommand: true\npaths: {out: /tmp/x.out}\n", "invalid spec"},
	}
	for _, tt := range tests {
		t.Run(tt.scenario, func(t *testing.T) {
			_, err := service.ReadSpec(strings.NewReader(tt.given))
			require.ErrorContains(t, err, tt.then)
		})
	}
}

func TestRunDaemon(t *testing.T) {
	t.Parallel()
	sh := requireSh(t)
	srv := apitest.New(t)
	spec := newSpec(t, sh, "job-daemon", "")
	// the job runs inside its directory, so the pid file is reachable by name
	spec.Command = "cat kraken-job-job-daemon.pid"

	err := service.RunDaemon(t.Context(), spec, newClient(t, srv.URL))
	require.NoError(t, err)

	lines := readLines(t, spec.Paths.Out)
	require.Len(t, lines, 3)
	require.Equal(t, strconv.Itoa(os.Getpid()), lines[1])
	require.Equal(t, "exit", lines[2])
	require.Equal(t, lines, srv.Lines(spec.Name))
	require.NoFileExists(t, spec.Paths.PID)
}

func TestPIDFile(t *testing.T) {
	t.Parallel()
	paths := jobname.PathsFor(t.TempDir(), "pid")

	_, running := service.LocalStatus(paths)
	require.False(t, running)

	require.NoError(t, service.WritePIDFile(paths.PID, os.Getpid()))
	pid, running := service.LocalStatus(paths)
	require.True(t, running)
	require.Equal(t, os.Getpid(), pid)

	require.NoError(t, os.WriteFile(paths.PID, []byte("garbage\n"), 0o644))
	_, err := service.ReadPIDFile(paths.PID)
	require.Error(t, err)

	require.False(t, service.Alive(0))
	require.False(t, service.Alive(-1))
}
