package version

import (
	"runtime/debug"
	"testing"
)

func TestFillFromBuildInfo(t *testing.T) {
	tests := []struct {
		name string
		in   Info
		bi   debug.BuildInfo
		want Info
	}{
		{
			name: "ldflags win",
			in:   Info{Version: "v1.0.0", GitCommit: "abc", BuildDate: "today"},
			bi: debug.BuildInfo{
				Main:     debug.Module{Version: "v0.9.0"},
				Settings: []debug.BuildSetting{{Key: "vcs.revision", Value: "def"}},
			},
			want: Info{Version: "v1.0.0", GitCommit: "abc", BuildDate: "today"},
		},
		{
			name: "filled from vcs",
			in:   Info{Version: "dev", GitCommit: "unknown", BuildDate: "unknown"},
			bi: debug.BuildInfo{
				Main: debug.Module{Version: "(devel)"},
				Settings: []debug.BuildSetting{
					{Key: "vcs.revision", Value: "0123456789abcdef"},
					{Key: "vcs.time", Value: "2026-01-02T03:04:05Z"},
					{Key: "vcs.modified", Value: "true"},
				},
			},
			want: Info{Version: "dev", GitCommit: "0123456789abcdef", BuildDate: "2026-01-02T03:04:05Z", Modified: true},
		},
		{
			name: "module version",
			in:   Info{Version: "dev", GitCommit: "unknown", BuildDate: "unknown"},
			bi:   debug.BuildInfo{Main: debug.Module{Version: "v0.3.1"}},
			want: Info{Version: "v0.3.1", GitCommit: "unknown", BuildDate: "unknown"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.in
			fillFromBuildInfo(&got, &tt.bi)
			if got != tt.want {
				t.Errorf("Expected %+v, got %+v", tt.want, got)
			}
		})
	}
}

func TestInfoString(t *testing.T) {
	i := Info{Version: "v1.2.0", GitCommit: "3f2a9c1d0e", Modified: true}
	if got := i.String(); got != "v1.2.0 (3f2a9c1-dirty)" {
		t.Errorf("Expected %q, got %q", "v1.2.0 (3f2a9c1-dirty)", got)
	}
	if Get().GoVersion == "" {
		t.Error("Expected Go version")
	}
}
