package build_test

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/k11v/forge/internal/build"
	"github.com/k11v/forge/internal/build/buildmem"
)

type SpyExecutor struct {
	Err error

	mu   sync.Mutex
	jobs []*build.Job
}

func (e *SpyExecutor) SubmitBuild(ctx context.Context, job *build.Job) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.jobs = append(e.jobs, job)
	return e.Err
}

func (e *SpyExecutor) Jobs() []*build.Job {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*build.Job(nil), e.jobs...)
}

type SpyNotifier struct {
	mu     sync.Mutex
	events []*build.Event
}

func (n *SpyNotifier) Notify(ctx context.Context, event *build.Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	return nil
}

// RecordIDs returns IDs of records that got an event of typ, in emission order.
func (n *SpyNotifier) RecordIDs(typ build.EventType) []uuid.UUID {
	n.mu.Lock()
	defer n.mu.Unlock()
	var ids []uuid.UUID
	for _, e := range n.events {
		if e.Type == typ {
			ids = append(ids, e.Record.ID)
		}
	}
	return ids
}

// StubClock advances by a millisecond on every read so claims are strictly ordered.
type StubClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *StubClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Millisecond)
	return c.t
}

func (c *StubClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type testEnv struct {
	Service  *build.Service
	DB       *buildmem.Database
	Executor *SpyExecutor
	Notifier *SpyNotifier
	Clock    *StubClock
}

func newTestEnv(tb testing.TB) *testEnv {
	tb.Helper()

	env := &testEnv{
		DB:       buildmem.NewDatabase(),
		Executor: &SpyExecutor{},
		Notifier: &SpyNotifier{},
		Clock:    &StubClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)},
	}
	env.Service = &build.Service{
		Config:   &build.Config{},
		DB:       env.DB,
		Storage:  buildmem.NewStorage(),
		Executor: env.Executor,
		Notifier: env.Notifier,
		Now:      env.Clock.Now,
	}
	return env
}

// newInfraFileSet creates a set holding files keyed by path.
func (env *testEnv) newInfraFileSet(tb testing.TB, owner string, files map[string]string) *build.InfraFileSet {
	tb.Helper()
	ctx := context.Background()

	set, err := env.Service.CreateInfraFileSet(ctx, &build.CreateInfraFileSetParams{Owner: owner})
	if err != nil {
		tb.Fatalf("didn't want %q", err)
	}
	for p, content := range files {
		set, err = env.Service.PutInfraFile(ctx, &build.PutInfraFileParams{
			SetID:   set.ID,
			Path:    p,
			Content: strings.NewReader(content),
		})
		if err != nil {
			tb.Fatalf("didn't want %q", err)
		}
	}
	return set
}

func (env *testEnv) newRecord(tb testing.TB, owner string, setID uuid.UUID, acvs ...build.AppCodeVersion) *build.Record {
	tb.Helper()

	r, err := env.Service.CreateRecord(context.Background(), &build.CreateRecordParams{
		Owner:           owner,
		InfraFileSetID:  setID,
		AppCodeVersions: acvs,
	})
	if err != nil {
		tb.Fatalf("didn't want %q", err)
	}
	return r
}

func (env *testEnv) requestBuild(tb testing.TB, recordID uuid.UUID) *build.RequestBuildResult {
	tb.Helper()

	result, err := env.Service.RequestBuild(context.Background(), &build.RequestBuildParams{RecordID: recordID})
	if err != nil {
		tb.Fatalf("didn't want %q", err)
	}
	return result
}

// completeBuild attaches a container to r's build and reports it succeeded.
func (env *testEnv) completeBuild(tb testing.TB, r *build.Record) []*build.Record {
	tb.Helper()
	ctx := context.Background()

	containerID := "container-" + r.Build.ID.String()
	_, err := env.Service.AttachContainer(ctx, &build.AttachContainerParams{BuildID: r.Build.ID, ContainerID: containerID})
	if err != nil {
		tb.Fatalf("didn't want %q", err)
	}
	records, err := env.Service.ReportBuildCompleted(ctx, &build.ReportBuildCompletedParams{
		ContainerID: containerID,
		DockerImage: "registry.local/forge/" + r.Build.ID.String(),
		DockerTag:   "latest",
	})
	if err != nil {
		tb.Fatalf("didn't want %q", err)
	}
	return records
}

func (env *testEnv) getRecord(tb testing.TB, id uuid.UUID) *build.Record {
	tb.Helper()

	r, err := env.Service.GetRecord(context.Background(), &build.GetRecordParams{ID: id})
	if err != nil {
		tb.Fatalf("didn't want %q", err)
	}
	return r
}

// RacingDatabase runs BeforeCopy once before the first CopyBuild.
type RacingDatabase struct {
	*buildmem.Database
	BeforeCopy func()

	once sync.Once
}

func (d *RacingDatabase) CopyBuild(ctx context.Context, params *build.DatabaseCopyBuildParams) (*build.Record, error) {
	d.once.Do(d.BeforeCopy)
	return d.Database.CopyBuild(ctx, params)
}
