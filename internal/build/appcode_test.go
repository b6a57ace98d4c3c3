package build_test

import (
	"testing"

	"github.com/k11v/forge/internal/build"
)

func TestAppCodeKey(t *testing.T) {
	tests := []struct {
		name string
		a, b []build.AppCodeVersion
		want bool
	}{
		{
			name: "matches regardless of order",
			a:    []build.AppCodeVersion{{Repo: "org/api", Branch: "main", Commit: "c1"}, {Repo: "org/web", Branch: "main", Commit: "c2"}},
			b:    []build.AppCodeVersion{{Repo: "org/web", Branch: "main", Commit: "c2"}, {Repo: "org/api", Branch: "main", Commit: "c1"}},
			want: true,
		},
		{
			name: "matches repos case-insensitively",
			a:    []build.AppCodeVersion{{Repo: "Org/API", Branch: "main", Commit: "c1"}},
			b:    []build.AppCodeVersion{{Repo: "org/api", Branch: "main", Commit: "c1"}},
			want: true,
		},
		{
			name: "ignores branches",
			a:    []build.AppCodeVersion{{Repo: "org/api", Branch: "main", Commit: "c1"}},
			b:    []build.AppCodeVersion{{Repo: "org/api", Branch: "feature", Commit: "c1"}},
			want: true,
		},
		{
			name: "compares commits exactly",
			a:    []build.AppCodeVersion{{Repo: "org/api", Branch: "main", Commit: "abc"}},
			b:    []build.AppCodeVersion{{Repo: "org/api", Branch: "main", Commit: "ABC"}},
			want: false,
		},
		{
			name: "compares cardinality",
			a:    []build.AppCodeVersion{{Repo: "org/api", Branch: "main", Commit: "c1"}},
			b:    []build.AppCodeVersion{{Repo: "org/api", Branch: "main", Commit: "c1"}, {Repo: "org/api", Branch: "main", Commit: "c1"}},
			want: false,
		},
		{
			name: "matches empty lists",
			a:    nil,
			b:    []build.AppCodeVersion{},
			want: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := build.AppCodeKey(tt.a) == build.AppCodeKey(tt.b); got != tt.want {
				t.Fatalf("got %t, want %t", got, tt.want)
			}
		})
	}
}

func TestBranchKey(t *testing.T) {
	t.Run("distinguishes branches", func(t *testing.T) {
		a := build.BranchKey([]build.AppCodeVersion{{Repo: "org/api", Branch: "main", Commit: "c1"}})
		b := build.BranchKey([]build.AppCodeVersion{{Repo: "org/api", Branch: "feature", Commit: "c1"}})
		if a == b {
			t.Fatalf("got equal %q, want different", a)
		}
	})

	t.Run("matches branches case-insensitively", func(t *testing.T) {
		a := build.BranchKey([]build.AppCodeVersion{{Repo: "org/api", Branch: "Main", Commit: "c1"}})
		b := build.BranchKey([]build.AppCodeVersion{{Repo: "ORG/api", Branch: "main", Commit: "c1"}})
		if a != b {
			t.Fatalf("got %q and %q, want equal", a, b)
		}
	})
}
