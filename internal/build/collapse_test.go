package build

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
)

// CountingDatabase serves infra file sets from memory and counts the writes collapse makes.
type CountingDatabase struct {
	Database

	Sets     map[uuid.UUID]*InfraFileSet
	Replaces int
	Deletes  int
}

func (db *CountingDatabase) GetInfraFileSet(ctx context.Context, params *DatabaseGetInfraFileSetParams) (*InfraFileSet, error) {
	s, ok := db.Sets[params.ID]
	if !ok {
		return nil, ErrNotFound
	}
	c := *s
	return &c, nil
}

func (db *CountingDatabase) ReplaceInfraFileSet(ctx context.Context, params *DatabaseReplaceInfraFileSetParams) (*Record, error) {
	db.Replaces++
	return &Record{ID: params.RecordID, Owner: "alice", InfraFileSetID: params.ToID}, nil
}

func (db *CountingDatabase) DeleteInfraFileSet(ctx context.Context, params *DatabaseDeleteInfraFileSetParams) error {
	db.Deletes++
	delete(db.Sets, params.ID)
	return nil
}

func TestCollapseInfra(t *testing.T) {
	ctx := context.Background()

	newDatabase := func(childEdited bool) (*CountingDatabase, *InfraFileSet, *InfraFileSet) {
		parent := &InfraFileSet{ID: uuid.New(), Owner: "alice", Edited: true}
		child := &InfraFileSet{ID: uuid.New(), Owner: "alice", ParentID: &parent.ID, Edited: childEdited}
		db := &CountingDatabase{Sets: map[uuid.UUID]*InfraFileSet{parent.ID: parent, child.ID: child}}
		return db, parent, child
	}

	t.Run("doesn't write again on a collapsed record", func(t *testing.T) {
		db, parent, child := newDatabase(false)
		s := &Service{Config: &Config{}, DB: db}
		r := &Record{ID: uuid.New(), Owner: "alice", InfraFileSetID: child.ID}

		collapsed, err := s.collapseInfra(ctx, r)
		if err != nil {
			t.Fatalf("didn't want %q", err)
		}
		if got, want := collapsed.InfraFileSetID, parent.ID; got != want {
			t.Fatalf("got %s, want %s", got, want)
		}
		if db.Replaces != 1 || db.Deletes != 1 {
			t.Fatalf("got %d replaces and %d deletes, want 1 and 1", db.Replaces, db.Deletes)
		}

		db.Replaces, db.Deletes = 0, 0
		again, err := s.collapseInfra(ctx, collapsed)
		if err != nil {
			t.Fatalf("didn't want %q", err)
		}
		if db.Replaces != 0 || db.Deletes != 0 {
			t.Fatalf("got %d replaces and %d deletes, want none", db.Replaces, db.Deletes)
		}
		if diff := cmp.Diff(collapsed, again); diff != "" {
			t.Fatalf("record mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("doesn't write on an edited record", func(t *testing.T) {
		db, _, child := newDatabase(true)
		s := &Service{Config: &Config{}, DB: db}
		r := &Record{ID: uuid.New(), Owner: "alice", InfraFileSetID: child.ID}
		want := *r

		for range 2 {
			got, err := s.collapseInfra(ctx, r)
			if err != nil {
				t.Fatalf("didn't want %q", err)
			}
			if diff := cmp.Diff(&want, got); diff != "" {
				t.Fatalf("record mismatch (-want +got):\n%s", diff)
			}
			r = got
		}
		if db.Replaces != 0 || db.Deletes != 0 {
			t.Fatalf("got %d replaces and %d deletes, want none", db.Replaces, db.Deletes)
		}
		if _, ok := db.Sets[child.ID]; !ok {
			t.Fatalf("got edited set %s deleted, want kept", child.ID)
		}
	})
}
