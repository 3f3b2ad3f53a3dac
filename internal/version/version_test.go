package version

import (
	"runtime/debug"
	"strings"
	"testing"
)

func TestBuildInfoShortensCommit(t *testing.T) {
	orig := Commit
	t.Cleanup(func() { Commit = orig })
	Commit = "0123456789abcdef"

	info := BuildInfo()
	if !strings.Contains(info, "commit 0123456,") {
		t.Fatalf("expected short commit in %q", info)
	}
	if !strings.HasPrefix(info, "imagegw ") {
		t.Fatalf("unexpected prefix: %q", info)
	}
}

func TestFullKeepsCommit(t *testing.T) {
	orig := Commit
	t.Cleanup(func() { Commit = orig })
	Commit = "0123456789abcdef"

	if !strings.Contains(Full(), "Commit:    0123456789abcdef") {
		t.Fatalf("expected full commit in %q", Full())
	}
}

func TestFromSettings(t *testing.T) {
	info := fromSettings([]debug.BuildSetting{
		{Key: "vcs.revision", Value: "abcdef0123456789"},
		{Key: "vcs.time", Value: "2026-01-02T03:04:05Z"},
		{Key: "vcs.modified", Value: "true"},
		{Key: "GOOS", Value: "linux"},
	})
	if info.Commit != "abcdef0123456789" || info.Date != "2026-01-02T03:04:05Z" || !info.Modified {
		t.Fatalf("unexpected info: %+v", info)
	}
	if got := info.shortCommit(); got != "abcdef0-dirty" {
		t.Fatalf("unexpected short commit: %q", got)
	}
}

func TestUserAgent(t *testing.T) {
	orig := Version
	t.Cleanup(func() { Version = orig })
	Version = "1.2.3"

	if got := UserAgent(); got != "imagegw/1.2.3" {
		t.Fatalf("unexpected user agent: %q", got)
	}
}
