package version_test

import (
	"strings"
	"testing"

	"github.com/halcyonmedia/halcyon-playback-backend/internal/version"
)

func TestGetInfo(t *testing.T) {
	info := version.GetInfo()

	if info.Name != "Halcyon" {
		t.Errorf("Name = %q, want Halcyon", info.Name)
	}
	if info.Version == "" {
		t.Error("Version is empty")
	}
}

func TestInfoString(t *testing.T) {
	tests := []struct {
		name string
		info version.Info
		want string
	}{
		{
			name: "name and version only",
			info: version.Info{Name: "Halcyon", Version: "0.1.0"},
			want: "Halcyon v0.1.0",
		},
		{
			name: "commit is truncated to seven characters",
			info: version.Info{Name: "Halcyon", Version: "0.1.0", GitCommit: "abcdef0123456789"},
			want: "Halcyon v0.1.0 (abcdef0)",
		},
		{
			name: "short commit is kept whole",
			info: version.Info{Name: "Halcyon", Version: "0.1.0", GitCommit: "abc"},
			want: "Halcyon v0.1.0 (abc)",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.info.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}

	t.Run("build time is appended", func(t *testing.T) {
		info := version.Info{Name: "Halcyon", Version: "0.1.0", BuildTime: "2026-01-01"}
		if got := info.String(); !strings.HasSuffix(got, "built 2026-01-01") {
			t.Errorf("String() = %q, want build time suffix", got)
		}
	})
}
