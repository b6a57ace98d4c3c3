package build

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Record is the unit of build deduplication.
// It pairs an infrastructure file set with application source pinned to commits
// and tracks the outcome of the physical build that serves it.
type Record struct {
	ID              uuid.UUID
	Owner           string
	InfraFileSetID  uuid.UUID
	AppCodeVersions []AppCodeVersion
	Advanced        *bool // nil means unset
	Build           BuildState
	CreatedAt       time.Time
}

// AppCodeVersion pins a repository to a commit on a branch.
// Repo and Branch compare case-insensitively, Commit compares exactly.
type AppCodeVersion struct {
	Repo   string
	Branch string
	Commit string
}

// BuildState is written only through Service and Database transition methods.
//
// StartedAt is when this record claimed and never changes afterwards.
// RunStartedAt is when the physical build started, so a record that joined
// an earlier build carries that build's start.
type BuildState struct {
	ID           uuid.UUID // physical build shared by deduplicated records, zero until started
	Hash         string
	StartedAt    *time.Time
	RunStartedAt *time.Time
	CompletedAt  *time.Time
	Failed       bool
	DockerImage  string
	DockerTag    string
	Error        *BuildError
	Log          string
	ContainerID  string
	DockerHost   string
	TriggeredBy  string
	Message      string
}

// BuildError is the failure payload reported by the executor.
type BuildError struct {
	Message string
	Stack   string
}

// Started reports whether the record has claimed or been assigned a build.
func (r *Record) Started() bool {
	return r.Build.StartedAt != nil
}

// Completed reports whether the record reached a terminal state.
func (r *Record) Completed() bool {
	return r.Build.CompletedAt != nil
}

// Succeeded reports whether the record completed without failure.
func (r *Record) Succeeded() bool {
	return r.Completed() && !r.Build.Failed
}

// State is a coarse view of the build state machine used in events and the API.
type State string

const (
	StateCreated   State = "created"
	StateStarted   State = "started"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
)

func (r *Record) State() State {
	switch {
	case r.Completed() && r.Build.Failed:
		return StateFailed
	case r.Completed():
		return StateSucceeded
	case r.Started():
		return StateStarted
	default:
		return StateCreated
	}
}

func (v AppCodeVersion) lowerRepo() string {
	return strings.ToLower(v.Repo)
}

func (v AppCodeVersion) lowerBranch() string {
	return strings.ToLower(v.Branch)
}

// advancedAfterCopy returns false if either side is explicitly false.
func advancedAfterCopy(dst, src *Record) *bool {
	v := !(isFalse(dst.Advanced) || isFalse(src.Advanced))
	return &v
}

func isFalse(b *bool) bool {
	return b != nil && !*b
}
