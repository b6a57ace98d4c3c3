// Package buildmem implements build.Database in memory.
// It backs tests and single-process development setups.
package buildmem

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/k11v/forge/internal/build"
)

var _ build.Database = (*Database)(nil)

type Database struct {
	mu      sync.Mutex
	records map[uuid.UUID]*build.Record
	sets    map[uuid.UUID]*build.InfraFileSet
	now     func() time.Time
}

func NewDatabase() *Database {
	return &Database{
		records: make(map[uuid.UUID]*build.Record),
		sets:    make(map[uuid.UUID]*build.InfraFileSet),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (db *Database) CreateRecord(ctx context.Context, params *build.DatabaseCreateRecordParams) (*build.Record, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if _, ok := db.sets[params.InfraFileSetID]; !ok {
		return nil, fmt.Errorf("infra file set: %w", build.ErrNotFound)
	}
	r := &build.Record{
		ID:              uuid.New(),
		Owner:           params.Owner,
		InfraFileSetID:  params.InfraFileSetID,
		AppCodeVersions: slices.Clone(params.AppCodeVersions),
		Advanced:        cloneBool(params.Advanced),
		CreatedAt:       db.now(),
	}
	db.records[r.ID] = r
	return cloneRecord(r), nil
}

func (db *Database) GetRecord(ctx context.Context, params *build.DatabaseGetRecordParams) (*build.Record, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	r, ok := db.records[params.ID]
	if !ok {
		return nil, build.ErrNotFound
	}
	return cloneRecord(r), nil
}

func (db *Database) ReplaceInfraFileSet(ctx context.Context, params *build.DatabaseReplaceInfraFileSetParams) (*build.Record, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	r, ok := db.records[params.RecordID]
	if !ok {
		return nil, build.ErrNotFound
	}
	if r.Started() {
		return nil, build.ErrAlreadyStarted
	}
	if r.InfraFileSetID != params.FromID {
		return nil, build.ErrConflict
	}
	if _, ok := db.sets[params.ToID]; !ok {
		return nil, fmt.Errorf("infra file set: %w", build.ErrNotFound)
	}
	r.InfraFileSetID = params.ToID
	return cloneRecord(r), nil
}

func (db *Database) StartBuild(ctx context.Context, params *build.DatabaseStartBuildParams) (*build.Record, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	r, ok := db.records[params.RecordID]
	if !ok {
		return nil, build.ErrNotFound
	}
	if r.Started() {
		return nil, build.ErrAlreadyStarted
	}
	startedAt := params.StartedAt
	r.Build.ID = params.BuildID
	r.Build.StartedAt = &startedAt
	r.Build.RunStartedAt = cloneTime(&startedAt)
	r.Build.TriggeredBy = params.TriggeredBy
	r.Build.Message = params.Message
	r.Build.DockerHost = params.DockerHost
	return cloneRecord(r), nil
}

func (db *Database) SetBuildHash(ctx context.Context, params *build.DatabaseSetBuildHashParams) (*build.Record, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	r, ok := db.records[params.RecordID]
	if !ok {
		return nil, build.ErrNotFound
	}
	r.Build.Hash = params.Hash
	return cloneRecord(r), nil
}

func (db *Database) FindPendingDuplicate(ctx context.Context, params *build.DatabaseFindDuplicateParams) (*build.Record, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	var found *build.Record
	for _, r := range db.records {
		if !matches(r, params) || !r.Started() || r.Completed() || r.Build.Failed {
			continue
		}
		if r.Build.ContainerID == "" && r.Build.RunStartedAt.Before(params.FreshSince) {
			continue
		}
		if found == nil || startedBefore(r, found) {
			found = r
		}
	}
	if found == nil {
		return nil, build.ErrNotFound
	}
	return cloneRecord(found), nil
}

func (db *Database) FindCompletedDuplicate(ctx context.Context, params *build.DatabaseFindDuplicateParams) (*build.Record, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	var found *build.Record
	for _, r := range db.records {
		if !matches(r, params) || !r.Succeeded() {
			continue
		}
		if found == nil || startedBefore(found, r) {
			found = r
		}
	}
	if found == nil {
		return nil, build.ErrNotFound
	}
	return cloneRecord(found), nil
}

func (db *Database) CopyBuild(ctx context.Context, params *build.DatabaseCopyBuildParams) (*build.Record, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	r, ok := db.records[params.RecordID]
	if !ok {
		return nil, build.ErrNotFound
	}
	if r.Completed() {
		return nil, build.ErrAlreadyCompleted
	}
	r.Build.ID = params.BuildID
	if params.RunStartedAt != nil {
		r.Build.RunStartedAt = cloneTime(params.RunStartedAt)
	}
	r.Build.CompletedAt = cloneTime(params.CompletedAt)
	r.Build.Failed = params.Failed
	r.Build.DockerImage = params.DockerImage
	r.Build.DockerTag = params.DockerTag
	r.Build.Error = cloneError(params.Error)
	r.Build.Log = params.Log
	r.Build.ContainerID = params.ContainerID
	r.Build.DockerHost = params.DockerHost
	r.Advanced = cloneBool(params.Advanced)
	return cloneRecord(r), nil
}

func (db *Database) AttachContainer(ctx context.Context, params *build.DatabaseAttachContainerParams) ([]*build.Record, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	var updated []*build.Record
	for _, r := range db.sortedRecords() {
		if r.Build.ID != params.BuildID || !r.Started() || r.Build.ContainerID != "" {
			continue
		}
		r.Build.ContainerID = params.ContainerID
		updated = append(updated, cloneRecord(r))
	}
	if len(updated) == 0 && !db.hasBuild(params.BuildID) {
		return nil, build.ErrNotFound
	}
	return updated, nil
}

func (db *Database) GetBuildIDByContainer(ctx context.Context, params *build.DatabaseGetBuildIDByContainerParams) (uuid.UUID, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	for _, r := range db.sortedRecords() {
		if r.Started() && r.Build.ContainerID == params.ContainerID {
			return r.Build.ID, nil
		}
	}
	return uuid.Nil, build.ErrNotFound
}

func (db *Database) CompleteBuild(ctx context.Context, params *build.DatabaseCompleteBuildParams) ([]*build.Record, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	var completed []*build.Record
	for _, r := range db.sortedRecords() {
		if r.Build.ID != params.BuildID || !r.Started() || r.Completed() {
			continue
		}
		completedAt := params.CompletedAt
		r.Build.CompletedAt = &completedAt
		r.Build.Failed = params.Failed
		r.Build.DockerImage = params.DockerImage
		r.Build.DockerTag = params.DockerTag
		r.Build.Error = cloneError(params.Error)
		r.Build.Log = params.Log
		completed = append(completed, cloneRecord(r))
	}
	return completed, nil
}

func (db *Database) ListStalledBuilds(ctx context.Context, params *build.DatabaseListStalledBuildsParams) ([]uuid.UUID, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	var ids []uuid.UUID
	for _, r := range db.sortedRecords() {
		if !r.Started() || r.Completed() || !r.Build.RunStartedAt.Before(params.StartedBefore) {
			continue
		}
		if slices.Contains(ids, r.Build.ID) {
			continue
		}
		ids = append(ids, r.Build.ID)
		if params.Limit > 0 && len(ids) == params.Limit {
			break
		}
	}
	return ids, nil
}

func (db *Database) ListUnreconciledRecords(ctx context.Context, params *build.DatabaseListUnreconciledRecordsParams) ([]*build.Record, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	completedBuilds := make(map[uuid.UUID]bool)
	for _, r := range db.records {
		if r.Completed() {
			completedBuilds[r.Build.ID] = true
		}
	}

	var unreconciled []*build.Record
	for _, r := range db.sortedRecords() {
		if !r.Started() || r.Completed() || !completedBuilds[r.Build.ID] {
			continue
		}
		unreconciled = append(unreconciled, cloneRecord(r))
		if params.Limit > 0 && len(unreconciled) == params.Limit {
			break
		}
	}
	return unreconciled, nil
}

func (db *Database) GetCompletedRecordByBuildID(ctx context.Context, params *build.DatabaseGetCompletedRecordByBuildIDParams) (*build.Record, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	for _, r := range db.sortedRecords() {
		if r.Build.ID == params.BuildID && r.Completed() {
			return cloneRecord(r), nil
		}
	}
	return nil, build.ErrNotFound
}

func (db *Database) CreateInfraFileSet(ctx context.Context, params *build.DatabaseCreateInfraFileSetParams) (*build.InfraFileSet, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if params.ParentID != nil {
		if _, ok := db.sets[*params.ParentID]; !ok {
			return nil, fmt.Errorf("parent infra file set: %w", build.ErrNotFound)
		}
	}
	s := &build.InfraFileSet{
		ID:        uuid.New(),
		Owner:     params.Owner,
		ParentID:  cloneUUID(params.ParentID),
		Edited:    params.Edited,
		Files:     slices.Clone(params.Files),
		CreatedAt: db.now(),
	}
	db.sets[s.ID] = s
	return cloneSet(s), nil
}

func (db *Database) GetInfraFileSet(ctx context.Context, params *build.DatabaseGetInfraFileSetParams) (*build.InfraFileSet, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	s, ok := db.sets[params.ID]
	if !ok {
		return nil, build.ErrNotFound
	}
	return cloneSet(s), nil
}

func (db *Database) DeleteInfraFileSet(ctx context.Context, params *build.DatabaseDeleteInfraFileSetParams) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if _, ok := db.sets[params.ID]; !ok {
		return build.ErrNotFound
	}
	for _, r := range db.records {
		if r.InfraFileSetID == params.ID {
			return fmt.Errorf("infra file set is referenced by record %s: %w", r.ID, build.ErrConflict)
		}
	}
	for _, s := range db.sets {
		if s.ParentID != nil && *s.ParentID == params.ID {
			return fmt.Errorf("infra file set is the parent of %s: %w", s.ID, build.ErrConflict)
		}
	}
	delete(db.sets, params.ID)
	return nil
}

func (db *Database) PutInfraFile(ctx context.Context, params *build.DatabasePutInfraFileParams) (*build.InfraFileSet, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	s, ok := db.sets[params.SetID]
	if !ok {
		return nil, build.ErrNotFound
	}
	i := slices.IndexFunc(s.Files, func(f build.InfraFile) bool { return f.Path == params.File.Path })
	if i >= 0 {
		s.Files[i] = params.File
	} else {
		s.Files = append(s.Files, params.File)
	}
	s.Edited = true
	return cloneSet(s), nil
}

func (db *Database) DeleteInfraFile(ctx context.Context, params *build.DatabaseDeleteInfraFileParams) (*build.InfraFileSet, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	s, ok := db.sets[params.SetID]
	if !ok {
		return nil, build.ErrNotFound
	}
	n := len(s.Files)
	s.Files = slices.DeleteFunc(s.Files, func(f build.InfraFile) bool { return f.Path == params.Path })
	if len(s.Files) == n {
		return nil, fmt.Errorf("infra file: %w", build.ErrNotFound)
	}
	s.Edited = true
	return cloneSet(s), nil
}

func (db *Database) hasBuild(id uuid.UUID) bool {
	for _, r := range db.records {
		if r.Started() && r.Build.ID == id {
			return true
		}
	}
	return false
}

// sortedRecords orders records by creation so results are deterministic.
func (db *Database) sortedRecords() []*build.Record {
	records := make([]*build.Record, 0, len(db.records))
	for _, r := range db.records {
		records = append(records, r)
	}
	slices.SortFunc(records, func(a, b *build.Record) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID.String(), b.ID.String())
	})
	return records
}

func matches(r *build.Record, params *build.DatabaseFindDuplicateParams) bool {
	if r.ID == params.ExcludeRecordID || r.Build.ID == params.ExcludeBuildID {
		return false
	}
	if r.Build.Hash != params.Hash || build.AppCodeKey(r.AppCodeVersions) != params.AppCodeKey {
		return false
	}
	if params.BranchKey != nil && build.BranchKey(r.AppCodeVersions) != *params.BranchKey {
		return false
	}
	if params.Advanced != nil && (r.Advanced == nil || *r.Advanced != *params.Advanced) {
		return false
	}
	return true
}

func startedBefore(a, b *build.Record) bool {
	if c := a.Build.StartedAt.Compare(*b.Build.StartedAt); c != 0 {
		return c < 0
	}
	return a.ID.String() < b.ID.String()
}

func cloneRecord(r *build.Record) *build.Record {
	c := *r
	c.AppCodeVersions = slices.Clone(r.AppCodeVersions)
	c.Advanced = cloneBool(r.Advanced)
	c.Build.StartedAt = cloneTime(r.Build.StartedAt)
	c.Build.RunStartedAt = cloneTime(r.Build.RunStartedAt)
	c.Build.CompletedAt = cloneTime(r.Build.CompletedAt)
	c.Build.Error = cloneError(r.Build.Error)
	return &c
}

func cloneSet(s *build.InfraFileSet) *build.InfraFileSet {
	c := *s
	c.ParentID = cloneUUID(s.ParentID)
	c.Files = slices.Clone(s.Files)
	return &c
}

func cloneBool(b *bool) *bool {
	if b == nil {
		return nil
	}
	v := *b
	return &v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneError(e *build.BuildError) *build.BuildError {
	if e == nil {
		return nil
	}
	v := *e
	return &v
}

func cloneUUID(id *uuid.UUID) *uuid.UUID {
	if id == nil {
		return nil
	}
	v := *id
	return &v
}
