package build_test

import (
	"testing"

	"github.com/k11v/forge/internal/build"
)

func TestFingerprint(t *testing.T) {
	t.Run("doesn't depend on file order", func(t *testing.T) {
		a := build.Fingerprint([]build.InfraFile{
			{Path: "/Dockerfile", ContentHash: "sha256:aa"},
			{Path: "/src/main.go", ContentHash: "sha256:bb"},
		})
		b := build.Fingerprint([]build.InfraFile{
			{Path: "/src/main.go", ContentHash: "sha256:bb"},
			{Path: "/Dockerfile", ContentHash: "sha256:aa"},
		})
		if a != b {
			t.Fatalf("got %q and %q, want equal", a, b)
		}
	})

	t.Run("normalizes paths", func(t *testing.T) {
		a := build.Fingerprint([]build.InfraFile{{Path: "Dockerfile", ContentHash: "sha256:aa"}})
		b := build.Fingerprint([]build.InfraFile{{Path: "/./Dockerfile", ContentHash: "sha256:aa"}})
		if a != b {
			t.Fatalf("got %q and %q, want equal", a, b)
		}
	})

	t.Run("changes with content", func(t *testing.T) {
		a := build.Fingerprint([]build.InfraFile{{Path: "/Dockerfile", ContentHash: "sha256:aa"}})
		b := build.Fingerprint([]build.InfraFile{{Path: "/Dockerfile", ContentHash: "sha256:ab"}})
		if a == b {
			t.Fatalf("got equal %q, want different", a)
		}
	})

	t.Run("includes empty directories", func(t *testing.T) {
		a := build.Fingerprint([]build.InfraFile{{Path: "/Dockerfile", ContentHash: "sha256:aa"}})
		b := build.Fingerprint([]build.InfraFile{
			{Path: "/Dockerfile", ContentHash: "sha256:aa"},
			{Path: "/cache", IsDir: true},
		})
		if a == b {
			t.Fatalf("got equal %q, want different", a)
		}
	})

	t.Run("never matches when a file has no content hash", func(t *testing.T) {
		files := []build.InfraFile{{Path: "/Dockerfile"}}
		a := build.Fingerprint(files)
		b := build.Fingerprint(files)
		if a == b {
			t.Fatalf("got equal %q, want different", a)
		}
		if !build.Unhashable(a) {
			t.Fatalf("got %q, want unhashable", a)
		}
	})

	t.Run("is hashable for an empty set", func(t *testing.T) {
		if got := build.Fingerprint(nil); build.Unhashable(got) {
			t.Fatalf("got %q, want hashable", got)
		}
	})
}
