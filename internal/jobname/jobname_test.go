package jobname_test

import (
	"math/rand/v2"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/grantgumina/kraken/internal/jobname"
	"github.com/stretchr/testify/require"
)

var haikuRx = regexp.MustCompile(`^[a-z]+-[a-z]+-\d{4}$`)

func TestGenerate(t *testing.T) {
	t.Parallel()
	r := rand.New(rand.NewPCG(1, 2))

	name := jobname.Generate("build box/01", r)
	require.Regexp(t, `^build_box_01-[a-z]+-[a-z]+-\d{4}$`, name)
	require.NoError(t, jobname.Validate(name))

	// same seed, same suffix
	again := jobname.Generate("build box/01", rand.New(rand.NewPCG(1, 2)))
	require.Equal(t, name[len(name)-4:], again[len(again)-4:])

	t.Run("global source", func(t *testing.T) {
		require.Regexp(t, haikuRx, jobname.Haiku(nil))
	})
	t.Run("empty host", func(t *testing.T) {
		require.Regexp(t, `^localhost-`, jobname.Generate("", r))
	})
}

func TestGenerateSpread(t *testing.T) {
	t.Parallel()
	r := rand.New(rand.NewPCG(7, 7))
	seen := make(map[string]struct{})
	for range 200 {
		seen[jobname.Generate("h", r)] = struct{}{}
	}
	require.Greater(t, len(seen), 195)
}

func TestValidate(t *testing.T) {
	t.Parallel()
	var testCases = []struct {
		scenario string
		given    string
		ok       bool
	}{
		{"plain", "nightly-backup", true},
		{"dots inside", "v1.2", true},
		{"empty", "", false},
		{"dot", ".", false},
		{"dotdot", "..", false},
		{"slash", "a/b", false},
		{"newline", "a\nb", false},
	}
	for _, tc := range testCases {
		t.Run(tc.scenario, func(t *testing.T) {
			err := jobname.Validate(tc.given)
			if tc.ok {
				require.NoError(t, err)
			} else {
				require.Error(t, err)
			}
		})
	}
}

func TestPathsFor(t *testing.T) {
	t.Parallel()
	p := jobname.PathsFor("/tmp", "alpha")
	require.Equal(t, jobname.Paths{
		Out: "/tmp/kraken-job-alpha.out",
		Err: "/tmp/kraken-job-alpha.err",
		PID: "/tmp/kraken-job-alpha.pid",
	}, p)

	p = jobname.PathsFor("", "beta")
	require.True(t, filepath.IsAbs(p.Out) || filepath.Dir(p.Out) != "")
	require.Equal(t, "kraken-job-beta.pid", filepath.Base(p.PID))
}

func TestHostname(t *testing.T) {
	t.Parallel()
	require.NotEmpty(t, jobname.Hostname())
}
