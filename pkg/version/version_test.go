package version

import (
	"runtime"
	"runtime/debug"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withBuildVars(t *testing.T, version, commit, built string) {
	t.Helper()
	oldVersion, oldCommit, oldBuilt := Version, GitCommit, BuildTime
	Version, GitCommit, BuildTime = version, commit, built
	t.Cleanup(func() {
		Version, GitCommit, BuildTime = oldVersion, oldCommit, oldBuilt
	})
}

func TestGetPrefersLinkerValues(t *testing.T) {
	withBuildVars(t, "v0.4.0", "1f2e3d4c5b6a", "2026-03-02T10:00:00Z")

	info := Get()
	assert.Equal(t, "v0.4.0", info.Version)
	assert.Equal(t, "1f2e3d4c5b6a", info.GitCommit)
	assert.Equal(t, "2026-03-02T10:00:00Z", info.BuildTime)
	assert.Equal(t, runtime.Version(), info.GoVersion)
	assert.Equal(t, runtime.GOOS+"/"+runtime.GOARCH, info.Platform)
	assert.Equal(t, "playbook/v0.4.0", UserAgent())
}

func TestFillFromBuildInfo(t *testing.T) {
	unset := Info{Version: "dev", GitCommit: "unknown", BuildTime: "unknown"}
	stamped := &debug.BuildInfo{
		Main: debug.Module{Path: "github.com/jingkaihe/playbook", Version: "v0.3.1"},
		Settings: []debug.BuildSetting{
			{Key: "vcs.revision", Value: "0123456789abcdef0123"},
			{Key: "vcs.time", Value: "2026-01-15T08:30:00Z"},
			{Key: "vcs.modified", Value: "true"},
		},
	}

	tests := []struct {
		name string
		in   Info
		bi   *debug.BuildInfo
		want Info
	}{
		{
			name: "go install stamps",
			in:   unset,
			bi:   stamped,
			want: Info{Version: "v0.3.1", GitCommit: "0123456789ab-dirty", BuildTime: "2026-01-15T08:30:00Z"},
		},
		{
			name: "linker values win",
			in:   Info{Version: "v1.0.0", GitCommit: "cafe", BuildTime: "yesterday"},
			bi:   stamped,
			want: Info{Version: "v1.0.0", GitCommit: "cafe", BuildTime: "yesterday"},
		},
		{
			name: "devel build without vcs",
			in:   unset,
			bi:   &debug.BuildInfo{Main: debug.Module{Version: "(devel)"}},
			want: unset,
		},
		{
			name: "clean short revision",
			in:   unset,
			bi: &debug.BuildInfo{Settings: []debug.BuildSetting{
				{Key: "vcs.revision", Value: "abc123"},
				{Key: "vcs.modified", Value: "false"},
			}},
			want: Info{Version: "dev", GitCommit: "abc123", BuildTime: "unknown"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, fillFromBuildInfo(tt.in, tt.bi))
		})
	}
}

func TestInfoOutput(t *testing.T) {
	info := Info{
		Version:   "v0.4.0",
		GitCommit: "1f2e3d4c5b6a",
		BuildTime: "2026-03-02T10:00:00Z",
		GoVersion: "go1.25.1",
		Platform:  "linux/amd64",
	}

	assert.Equal(t, "playbook v0.4.0 (commit 1f2e3d4c5b6a, built 2026-03-02T10:00:00Z, go1.25.1 linux/amd64)", info.String())

	out, err := info.JSON()
	require.NoError(t, err)
	assert.Equal(t, strings.Join([]string{
		`{`,
		`  "version": "v0.4.0",`,
		`  "gitCommit": "1f2e3d4c5b6a",`,
		`  "buildTime": "2026-03-02T10:00:00Z",`,
		`  "goVersion": "go1.25.1",`,
		`  "platform": "linux/amd64"`,
		`}`,
	}, "\n"), out)
}
