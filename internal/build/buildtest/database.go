// Package buildtest checks build.Database implementations against the
// behavior build.Service relies on.
package buildtest

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"

	"github.com/k11v/forge/internal/build"
)

// TestDatabase runs the conformance tests against db.
// Tests use unique hashes and sets, so db may be shared and non-empty.
func TestDatabase(t *testing.T, db build.Database) {
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Microsecond)

	newSet := func(t *testing.T, owner string, files ...build.InfraFile) *build.InfraFileSet {
		t.Helper()
		if files == nil {
			files = []build.InfraFile{}
		}
		s, err := db.CreateInfraFileSet(ctx, &build.DatabaseCreateInfraFileSetParams{Owner: owner, Edited: true, Files: files})
		if err != nil {
			t.Fatalf("didn't want %q", err)
		}
		return s
	}

	newRecord := func(t *testing.T, setID uuid.UUID, acvs ...build.AppCodeVersion) *build.Record {
		t.Helper()
		if acvs == nil {
			acvs = []build.AppCodeVersion{}
		}
		r, err := db.CreateRecord(ctx, &build.DatabaseCreateRecordParams{Owner: "alice", InfraFileSetID: setID, AppCodeVersions: acvs})
		if err != nil {
			t.Fatalf("didn't want %q", err)
		}
		return r
	}

	// start claims a new build for a new record and hashes it.
	start := func(t *testing.T, setID uuid.UUID, hash string, startedAt time.Time, acvs ...build.AppCodeVersion) *build.Record {
		t.Helper()
		r := newRecord(t, setID, acvs...)
		_, err := db.StartBuild(ctx, &build.DatabaseStartBuildParams{RecordID: r.ID, BuildID: uuid.New(), StartedAt: startedAt})
		if err != nil {
			t.Fatalf("didn't want %q", err)
		}
		r, err = db.SetBuildHash(ctx, &build.DatabaseSetBuildHashParams{RecordID: r.ID, Hash: hash})
		if err != nil {
			t.Fatalf("didn't want %q", err)
		}
		return r
	}

	complete := func(t *testing.T, buildID uuid.UUID, completedAt time.Time) []*build.Record {
		t.Helper()
		records, err := db.CompleteBuild(ctx, &build.DatabaseCompleteBuildParams{BuildID: buildID, CompletedAt: completedAt, DockerImage: "img"})
		if err != nil {
			t.Fatalf("didn't want %q", err)
		}
		return records
	}

	findParams := func(hash string, r *build.Record) *build.DatabaseFindDuplicateParams {
		return &build.DatabaseFindDuplicateParams{
			ExcludeRecordID: r.ID,
			ExcludeBuildID:  r.Build.ID,
			Hash:            hash,
			AppCodeKey:      build.AppCodeKey(r.AppCodeVersions),
			FreshSince:      base.Add(-30 * time.Minute),
		}
	}

	t.Run("creates and gets records", func(t *testing.T) {
		set := newSet(t, "alice")
		advanced := true
		acvs := []build.AppCodeVersion{{Repo: "org/api", Branch: "main", Commit: "c1"}}
		created, err := db.CreateRecord(ctx, &build.DatabaseCreateRecordParams{
			Owner:           "alice",
			InfraFileSetID:  set.ID,
			AppCodeVersions: acvs,
			Advanced:        &advanced,
		})
		if err != nil {
			t.Fatalf("didn't want %q", err)
		}

		got, err := db.GetRecord(ctx, &build.DatabaseGetRecordParams{ID: created.ID})
		if err != nil {
			t.Fatalf("didn't want %q", err)
		}
		if diff := cmp.Diff(created, got); diff != "" {
			t.Fatalf("record mismatch (-want +got):\n%s", diff)
		}
		if got.Started() {
			t.Fatal("got started record, want created")
		}

		_, err = db.GetRecord(ctx, &build.DatabaseGetRecordParams{ID: uuid.New()})
		if !errors.Is(err, build.ErrNotFound) {
			t.Fatalf("got %v, want %v", err, build.ErrNotFound)
		}
	})

	t.Run("doesn't create records for missing sets", func(t *testing.T) {
		_, err := db.CreateRecord(ctx, &build.DatabaseCreateRecordParams{Owner: "alice", InfraFileSetID: uuid.New(), AppCodeVersions: []build.AppCodeVersion{}})
		if !errors.Is(err, build.ErrNotFound) {
			t.Fatalf("got %v, want %v", err, build.ErrNotFound)
		}
	})

	t.Run("starts a build once", func(t *testing.T) {
		r := newRecord(t, newSet(t, "alice").ID)
		params := &build.DatabaseStartBuildParams{RecordID: r.ID, BuildID: uuid.New(), StartedAt: base, TriggeredBy: "alice"}

		started, err := db.StartBuild(ctx, params)
		if err != nil {
			t.Fatalf("didn't want %q", err)
		}
		if got, want := started.Build.ID, params.BuildID; got != want {
			t.Fatalf("got %s, want %s", got, want)
		}
		if got := started.Build.StartedAt; got == nil || !got.Equal(base) {
			t.Fatalf("got %v, want %v", got, base)
		}
		if got := started.Build.RunStartedAt; got == nil || !got.Equal(base) {
			t.Fatalf("got run start %v, want %v", got, base)
		}

		_, err = db.StartBuild(ctx, &build.DatabaseStartBuildParams{RecordID: r.ID, BuildID: uuid.New(), StartedAt: base})
		if !errors.Is(err, build.ErrAlreadyStarted) {
			t.Fatalf("got %v, want %v", err, build.ErrAlreadyStarted)
		}

		_, err = db.StartBuild(ctx, &build.DatabaseStartBuildParams{RecordID: uuid.New(), BuildID: uuid.New(), StartedAt: base})
		if !errors.Is(err, build.ErrNotFound) {
			t.Fatalf("got %v, want %v", err, build.ErrNotFound)
		}
	})

	t.Run("replaces the infra file set it expects", func(t *testing.T) {
		from := newSet(t, "alice")
		to := newSet(t, "alice")
		r := newRecord(t, from.ID)

		_, err := db.ReplaceInfraFileSet(ctx, &build.DatabaseReplaceInfraFileSetParams{RecordID: r.ID, FromID: to.ID, ToID: from.ID})
		if !errors.Is(err, build.ErrConflict) {
			t.Fatalf("got %v, want %v", err, build.ErrConflict)
		}

		replaced, err := db.ReplaceInfraFileSet(ctx, &build.DatabaseReplaceInfraFileSetParams{RecordID: r.ID, FromID: from.ID, ToID: to.ID})
		if err != nil {
			t.Fatalf("didn't want %q", err)
		}
		if got, want := replaced.InfraFileSetID, to.ID; got != want {
			t.Fatalf("got %s, want %s", got, want)
		}
	})

	t.Run("finds the earliest fresh pending duplicate", func(t *testing.T) {
		set := newSet(t, "alice")
		hash := "sha256:" + uuid.NewString()
		stale := start(t, set.ID, hash, base.Add(-time.Hour))
		second := start(t, set.ID, hash, base.Add(2*time.Second))
		first := start(t, set.ID, hash, base.Add(time.Second))
		r := start(t, set.ID, hash, base.Add(3*time.Second))

		got, err := db.FindPendingDuplicate(ctx, findParams(hash, r))
		if err != nil {
			t.Fatalf("didn't want %q", err)
		}
		if got.ID != first.ID {
			t.Fatalf("got %s, want %s", got.ID, first.ID)
		}

		_, err = db.AttachContainer(ctx, &build.DatabaseAttachContainerParams{BuildID: stale.Build.ID, ContainerID: "c-" + stale.ID.String()})
		if err != nil {
			t.Fatalf("didn't want %q", err)
		}
		got, err = db.FindPendingDuplicate(ctx, findParams(hash, r))
		if err != nil {
			t.Fatalf("didn't want %q", err)
		}
		if got.ID != stale.ID {
			t.Fatalf("got %s, want %s", got.ID, stale.ID)
		}

		complete(t, stale.Build.ID, base)
		complete(t, first.Build.ID, base)
		got, err = db.FindPendingDuplicate(ctx, findParams(hash, r))
		if err != nil {
			t.Fatalf("didn't want %q", err)
		}
		if got.ID != second.ID {
			t.Fatalf("got %s, want %s", got.ID, second.ID)
		}
	})

	t.Run("finds the newest completed duplicate", func(t *testing.T) {
		set := newSet(t, "alice")
		hash := "sha256:" + uuid.NewString()
		older := start(t, set.ID, hash, base)
		newer := start(t, set.ID, hash, base.Add(time.Second))
		failed := start(t, set.ID, hash, base.Add(2*time.Second))
		r := start(t, set.ID, hash, base.Add(3*time.Second))

		complete(t, older.Build.ID, base)
		complete(t, newer.Build.ID, base)
		_, err := db.CompleteBuild(ctx, &build.DatabaseCompleteBuildParams{BuildID: failed.Build.ID, CompletedAt: base, Failed: true})
		if err != nil {
			t.Fatalf("didn't want %q", err)
		}

		got, err := db.FindCompletedDuplicate(ctx, findParams(hash, r))
		if err != nil {
			t.Fatalf("didn't want %q", err)
		}
		if got.ID != newer.ID {
			t.Fatalf("got %s, want %s", got.ID, newer.ID)
		}
		if got.Build.DockerImage != "img" {
			t.Fatalf("got %q, want %q", got.Build.DockerImage, "img")
		}
	})

	t.Run("filters by branch key", func(t *testing.T) {
		set := newSet(t, "alice")
		hash := "sha256:" + uuid.NewString()
		mainBranch := build.AppCodeVersion{Repo: "org/api", Branch: "main", Commit: "c1"}
		feature := build.AppCodeVersion{Repo: "org/api", Branch: "feature", Commit: "c1"}
		onFeature := start(t, set.ID, hash, base, feature)
		r := start(t, set.ID, hash, base.Add(time.Second), mainBranch)

		params := findParams(hash, r)
		got, err := db.FindPendingDuplicate(ctx, params)
		if err != nil {
			t.Fatalf("didn't want %q", err)
		}
		if got.ID != onFeature.ID {
			t.Fatalf("got %s, want %s", got.ID, onFeature.ID)
		}

		branchKey := build.BranchKey(r.AppCodeVersions)
		params.BranchKey = &branchKey
		_, err = db.FindPendingDuplicate(ctx, params)
		if !errors.Is(err, build.ErrNotFound) {
			t.Fatalf("got %v, want %v", err, build.ErrNotFound)
		}
	})

	t.Run("copies a build until completed", func(t *testing.T) {
		set := newSet(t, "alice")
		hash := "sha256:" + uuid.NewString()
		src := start(t, set.ID, hash, base)
		dst := start(t, set.ID, hash, base.Add(time.Second))
		advanced := false

		copied, err := db.CopyBuild(ctx, &build.DatabaseCopyBuildParams{RecordID: dst.ID, BuildID: src.Build.ID, Advanced: &advanced})
		if err != nil {
			t.Fatalf("didn't want %q", err)
		}
		if got, want := copied.Build.ID, src.Build.ID; got != want {
			t.Fatalf("got %s, want %s", got, want)
		}
		if copied.Completed() {
			t.Fatal("got completed copy, want pending")
		}
		if copied.Advanced == nil || *copied.Advanced {
			t.Fatalf("got advanced %v, want false", copied.Advanced)
		}

		completedAt := base.Add(time.Minute)
		copied, err = db.CopyBuild(ctx, &build.DatabaseCopyBuildParams{RecordID: dst.ID, BuildID: src.Build.ID, CompletedAt: &completedAt, DockerImage: "img"})
		if err != nil {
			t.Fatalf("didn't want %q", err)
		}
		if !copied.Succeeded() {
			t.Fatalf("got %s, want %s", copied.State(), build.StateSucceeded)
		}

		_, err = db.CopyBuild(ctx, &build.DatabaseCopyBuildParams{RecordID: dst.ID, BuildID: src.Build.ID, CompletedAt: &completedAt})
		if !errors.Is(err, build.ErrAlreadyCompleted) {
			t.Fatalf("got %v, want %v", err, build.ErrAlreadyCompleted)
		}
	})

	t.Run("judges freshness by the run start", func(t *testing.T) {
		set := newSet(t, "alice")
		hash := "sha256:" + uuid.NewString()
		src := start(t, set.ID, hash, base.Add(-time.Hour))
		joined := start(t, set.ID, hash, base)
		r := start(t, set.ID, hash, base.Add(time.Second))

		copied, err := db.CopyBuild(ctx, &build.DatabaseCopyBuildParams{
			RecordID:     joined.ID,
			BuildID:      src.Build.ID,
			RunStartedAt: src.Build.RunStartedAt,
		})
		if err != nil {
			t.Fatalf("didn't want %q", err)
		}
		if got := copied.Build.StartedAt; got == nil || !got.Equal(base) {
			t.Fatalf("got %v, want %v", got, base)
		}
		if got, want := copied.Build.RunStartedAt, base.Add(-time.Hour); got == nil || !got.Equal(want) {
			t.Fatalf("got run start %v, want %v", got, want)
		}

		_, err = db.FindPendingDuplicate(ctx, findParams(hash, r))
		if !errors.Is(err, build.ErrNotFound) {
			t.Fatalf("got %v, want %v", err, build.ErrNotFound)
		}

		ids, err := db.ListStalledBuilds(ctx, &build.DatabaseListStalledBuildsParams{StartedBefore: base.Add(-30 * time.Minute), Limit: 100})
		if err != nil {
			t.Fatalf("didn't want %q", err)
		}
		if !slices.Contains(ids, src.Build.ID) {
			t.Fatalf("got %v, want it to contain %s", ids, src.Build.ID)
		}
	})

	t.Run("filters by advanced when set", func(t *testing.T) {
		set := newSet(t, "alice")
		hash := "sha256:" + uuid.NewString()
		advanced, notAdvanced := true, false
		candidate, err := db.CreateRecord(ctx, &build.DatabaseCreateRecordParams{
			Owner:           "alice",
			InfraFileSetID:  set.ID,
			AppCodeVersions: []build.AppCodeVersion{},
			Advanced:        &notAdvanced,
		})
		if err != nil {
			t.Fatalf("didn't want %q", err)
		}
		_, err = db.StartBuild(ctx, &build.DatabaseStartBuildParams{RecordID: candidate.ID, BuildID: uuid.New(), StartedAt: base})
		if err != nil {
			t.Fatalf("didn't want %q", err)
		}
		if _, err = db.SetBuildHash(ctx, &build.DatabaseSetBuildHashParams{RecordID: candidate.ID, Hash: hash}); err != nil {
			t.Fatalf("didn't want %q", err)
		}
		r := start(t, set.ID, hash, base.Add(time.Second))

		for _, tt := range []struct {
			name     string
			advanced *bool
			wantErr  error
		}{
			{name: "unset", advanced: nil},
			{name: "equal", advanced: &notAdvanced},
			{name: "different", advanced: &advanced, wantErr: build.ErrNotFound},
		} {
			t.Run(tt.name, func(t *testing.T) {
				params := findParams(hash, r)
				params.Advanced = tt.advanced
				got, err := db.FindPendingDuplicate(ctx, params)
				if tt.wantErr != nil {
					if !errors.Is(err, tt.wantErr) {
						t.Fatalf("got %v, want %v", err, tt.wantErr)
					}
					return
				}
				if err != nil {
					t.Fatalf("didn't want %q", err)
				}
				if got.ID != candidate.ID {
					t.Fatalf("got %s, want %s", got.ID, candidate.ID)
				}
			})
		}
	})

	t.Run("fans out container and completion", func(t *testing.T) {
		set := newSet(t, "alice")
		hash := "sha256:" + uuid.NewString()
		a := start(t, set.ID, hash, base)
		b := start(t, set.ID, hash, base.Add(time.Second))
		_, err := db.CopyBuild(ctx, &build.DatabaseCopyBuildParams{RecordID: b.ID, BuildID: a.Build.ID})
		if err != nil {
			t.Fatalf("didn't want %q", err)
		}

		containerID := "c-" + a.ID.String()
		attached, err := db.AttachContainer(ctx, &build.DatabaseAttachContainerParams{BuildID: a.Build.ID, ContainerID: containerID})
		if err != nil {
			t.Fatalf("didn't want %q", err)
		}
		if got, want := len(attached), 2; got != want {
			t.Fatalf("got %d attached records, want %d", got, want)
		}

		buildID, err := db.GetBuildIDByContainer(ctx, &build.DatabaseGetBuildIDByContainerParams{ContainerID: containerID})
		if err != nil {
			t.Fatalf("didn't want %q", err)
		}
		if buildID != a.Build.ID {
			t.Fatalf("got %s, want %s", buildID, a.Build.ID)
		}

		if got, want := len(complete(t, buildID, base)), 2; got != want {
			t.Fatalf("got %d completed records, want %d", got, want)
		}
		if got := len(complete(t, buildID, base)); got != 0 {
			t.Fatalf("got %d completed records, want none", got)
		}

		_, err = db.AttachContainer(ctx, &build.DatabaseAttachContainerParams{BuildID: uuid.New(), ContainerID: "c"})
		if !errors.Is(err, build.ErrNotFound) {
			t.Fatalf("got %v, want %v", err, build.ErrNotFound)
		}
	})

	t.Run("lists stalled builds", func(t *testing.T) {
		set := newSet(t, "alice")
		hash := "sha256:" + uuid.NewString()
		stalled := start(t, set.ID, hash, base.Add(-3*time.Hour))
		recent := start(t, set.ID, hash, base)

		ids, err := db.ListStalledBuilds(ctx, &build.DatabaseListStalledBuildsParams{StartedBefore: base.Add(-2 * time.Hour), Limit: 100})
		if err != nil {
			t.Fatalf("didn't want %q", err)
		}
		if !slices.Contains(ids, stalled.Build.ID) {
			t.Fatalf("got %v, want it to contain %s", ids, stalled.Build.ID)
		}
		if slices.Contains(ids, recent.Build.ID) {
			t.Fatalf("got %v, want it not to contain %s", ids, recent.Build.ID)
		}
	})

	t.Run("lists unreconciled records", func(t *testing.T) {
		set := newSet(t, "alice")
		hash := "sha256:" + uuid.NewString()
		a := start(t, set.ID, hash, base)
		complete(t, a.Build.ID, base)
		b := start(t, set.ID, hash, base.Add(time.Second))
		_, err := db.CopyBuild(ctx, &build.DatabaseCopyBuildParams{RecordID: b.ID, BuildID: a.Build.ID})
		if err != nil {
			t.Fatalf("didn't want %q", err)
		}

		records, err := db.ListUnreconciledRecords(ctx, &build.DatabaseListUnreconciledRecordsParams{Limit: 100})
		if err != nil {
			t.Fatalf("didn't want %q", err)
		}
		if !slices.ContainsFunc(records, func(r *build.Record) bool { return r.ID == b.ID }) {
			t.Fatalf("got %d records, want them to contain %s", len(records), b.ID)
		}

		got, err := db.GetCompletedRecordByBuildID(ctx, &build.DatabaseGetCompletedRecordByBuildIDParams{BuildID: a.Build.ID})
		if err != nil {
			t.Fatalf("didn't want %q", err)
		}
		if got.ID != a.ID {
			t.Fatalf("got %s, want %s", got.ID, a.ID)
		}
	})

	t.Run("edits infra file sets", func(t *testing.T) {
		parent := newSet(t, "alice", build.InfraFile{Path: "/Dockerfile", ContentHash: "sha256:aa"})
		child, err := db.CreateInfraFileSet(ctx, &build.DatabaseCreateInfraFileSetParams{
			Owner:    "alice",
			ParentID: &parent.ID,
			Files:    parent.Files,
		})
		if err != nil {
			t.Fatalf("didn't want %q", err)
		}
		if child.Edited || child.ParentID == nil || *child.ParentID != parent.ID {
			t.Fatalf("got edited %t and parent %v, want unedited child of %s", child.Edited, child.ParentID, parent.ID)
		}

		child, err = db.PutInfraFile(ctx, &build.DatabasePutInfraFileParams{SetID: child.ID, File: build.InfraFile{Path: "/Dockerfile", ContentHash: "sha256:bb"}})
		if err != nil {
			t.Fatalf("didn't want %q", err)
		}
		if !child.Edited {
			t.Fatal("got unedited set, want edited")
		}
		want := []build.InfraFile{{Path: "/Dockerfile", ContentHash: "sha256:bb"}}
		if diff := cmp.Diff(want, child.Files); diff != "" {
			t.Fatalf("files mismatch (-want +got):\n%s", diff)
		}

		child, err = db.DeleteInfraFile(ctx, &build.DatabaseDeleteInfraFileParams{SetID: child.ID, Path: "/Dockerfile"})
		if err != nil {
			t.Fatalf("didn't want %q", err)
		}
		if got := len(child.Files); got != 0 {
			t.Fatalf("got %d files, want none", got)
		}

		_, err = db.DeleteInfraFile(ctx, &build.DatabaseDeleteInfraFileParams{SetID: child.ID, Path: "/Dockerfile"})
		if !errors.Is(err, build.ErrNotFound) {
			t.Fatalf("got %v, want %v", err, build.ErrNotFound)
		}
	})

	t.Run("deletes only unreferenced infra file sets", func(t *testing.T) {
		parent := newSet(t, "alice")
		child, err := db.CreateInfraFileSet(ctx, &build.DatabaseCreateInfraFileSetParams{Owner: "alice", ParentID: &parent.ID, Files: []build.InfraFile{}})
		if err != nil {
			t.Fatalf("didn't want %q", err)
		}
		referenced := newSet(t, "alice")
		newRecord(t, referenced.ID)

		for _, id := range []uuid.UUID{parent.ID, referenced.ID} {
			err = db.DeleteInfraFileSet(ctx, &build.DatabaseDeleteInfraFileSetParams{ID: id})
			if !errors.Is(err, build.ErrConflict) {
				t.Fatalf("got %v, want %v", err, build.ErrConflict)
			}
		}

		if err = db.DeleteInfraFileSet(ctx, &build.DatabaseDeleteInfraFileSetParams{ID: child.ID}); err != nil {
			t.Fatalf("didn't want %q", err)
		}
		_, err = db.GetInfraFileSet(ctx, &build.DatabaseGetInfraFileSetParams{ID: child.ID})
		if !errors.Is(err, build.ErrNotFound) {
			t.Fatalf("got %v, want %v", err, build.ErrNotFound)
		}
		err = db.DeleteInfraFileSet(ctx, &build.DatabaseDeleteInfraFileSetParams{ID: child.ID})
		if !errors.Is(err, build.ErrNotFound) {
			t.Fatalf("got %v, want %v", err, build.ErrNotFound)
		}
	})
}
