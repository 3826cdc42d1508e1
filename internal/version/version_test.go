package version

import (
	"runtime/debug"
	"testing"
)

func TestResolveFallsBackToBuildInfo(t *testing.T) {
	bi := &debug.BuildInfo{
		Main: debug.Module{Version: "v0.3.1"},
		Settings: []debug.BuildSetting{
			{Key: "vcs.revision", Value: "0123456789abcdef0123"},
			{Key: "vcs.time", Value: "2026-01-02T03:04:05Z"},
			{Key: "vcs.modified", Value: "true"},
		},
	}
	got := resolve(Info{}, bi)
	if got.Version != "v0.3.1" || got.BuildTime != "2026-01-02T03:04:05Z" || !got.Modified {
		t.Fatalf("unexpected info: %+v", got)
	}
	if s := got.String(); s != "v0.3.1 (0123456789ab+dirty)" {
		t.Fatalf("unexpected string: %q", s)
	}
}

func TestResolvePrefersLdflags(t *testing.T) {
	bi := &debug.BuildInfo{
		Main:     debug.Module{Version: "(devel)"},
		Settings: []debug.BuildSetting{{Key: "vcs.revision", Value: "aaaa"}},
	}
	got := resolve(Info{Version: "1.0.0", Commit: "bbbb"}, bi)
	if got.Version != "1.0.0" || got.Commit != "bbbb" {
		t.Fatalf("ldflags should win: %+v", got)
	}
	if s := got.String(); s != "1.0.0 (bbbb)" {
		t.Fatalf("unexpected string: %q", s)
	}
}

func TestResolveWithoutAnything(t *testing.T) {
	got := resolve(Info{}, nil)
	if got.Version != devel || got.String() != devel {
		t.Fatalf("unexpected info: %+v", got)
	}
}
