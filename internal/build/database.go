package build

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Database is the shared store behind Service.
//
// Methods that change Build are conditional: they return ErrConflict
// (usually wrapped as ErrAlreadyStarted or ErrAlreadyCompleted)
// when their precondition doesn't hold and ErrNotFound when the record doesn't exist.
// Implementations must make each of them a single atomic write.
type Database interface {
	CreateRecord(ctx context.Context, params *DatabaseCreateRecordParams) (*Record, error)
	GetRecord(ctx context.Context, params *DatabaseGetRecordParams) (*Record, error)

	// ReplaceInfraFileSet points a record that hasn't started at another infra file set.
	// It requires the record to still reference FromID.
	ReplaceInfraFileSet(ctx context.Context, params *DatabaseReplaceInfraFileSetParams) (*Record, error)

	// StartBuild claims the build. It requires StartedAt to be absent.
	StartBuild(ctx context.Context, params *DatabaseStartBuildParams) (*Record, error)

	// SetBuildHash is a plain write. Concurrent writers store the same value.
	SetBuildHash(ctx context.Context, params *DatabaseSetBuildHashParams) (*Record, error)

	// FindPendingDuplicate returns the started, incomplete match with the oldest StartedAt.
	// Freshness is judged by RunStartedAt.
	FindPendingDuplicate(ctx context.Context, params *DatabaseFindDuplicateParams) (*Record, error)

	// FindCompletedDuplicate returns the completed, not failed match with the newest StartedAt.
	FindCompletedDuplicate(ctx context.Context, params *DatabaseFindDuplicateParams) (*Record, error)

	// CopyBuild copies a duplicate's build result. It requires CompletedAt to be absent.
	// StartedAt is kept; RunStartedAt is replaced when the params carry one.
	CopyBuild(ctx context.Context, params *DatabaseCopyBuildParams) (*Record, error)

	// AttachContainer sets ContainerID on every record of the build that has none.
	AttachContainer(ctx context.Context, params *DatabaseAttachContainerParams) ([]*Record, error)

	GetBuildIDByContainer(ctx context.Context, params *DatabaseGetBuildIDByContainerParams) (uuid.UUID, error)

	// CompleteBuild completes every incomplete record of the build
	// and returns only the records it completed.
	CompleteBuild(ctx context.Context, params *DatabaseCompleteBuildParams) ([]*Record, error)

	// ListStalledBuilds returns IDs of incomplete builds whose run started before StartedBefore.
	ListStalledBuilds(ctx context.Context, params *DatabaseListStalledBuildsParams) ([]uuid.UUID, error)

	// ListUnreconciledRecords returns incomplete records whose build already has a completed record.
	ListUnreconciledRecords(ctx context.Context, params *DatabaseListUnreconciledRecordsParams) ([]*Record, error)
	GetCompletedRecordByBuildID(ctx context.Context, params *DatabaseGetCompletedRecordByBuildIDParams) (*Record, error)

	CreateInfraFileSet(ctx context.Context, params *DatabaseCreateInfraFileSetParams) (*InfraFileSet, error)
	GetInfraFileSet(ctx context.Context, params *DatabaseGetInfraFileSetParams) (*InfraFileSet, error)
	DeleteInfraFileSet(ctx context.Context, params *DatabaseDeleteInfraFileSetParams) error

	// PutInfraFile adds or replaces a file and marks the set as edited.
	PutInfraFile(ctx context.Context, params *DatabasePutInfraFileParams) (*InfraFileSet, error)

	// DeleteInfraFile removes a file and marks the set as edited.
	DeleteInfraFile(ctx context.Context, params *DatabaseDeleteInfraFileParams) (*InfraFileSet, error)
}

type DatabaseCreateRecordParams struct {
	Owner           string
	InfraFileSetID  uuid.UUID
	AppCodeVersions []AppCodeVersion
	Advanced        *bool
}

type DatabaseGetRecordParams struct {
	ID uuid.UUID
}

type DatabaseReplaceInfraFileSetParams struct {
	RecordID uuid.UUID
	FromID   uuid.UUID
	ToID     uuid.UUID
}

type DatabaseStartBuildParams struct {
	RecordID    uuid.UUID
	BuildID     uuid.UUID
	StartedAt   time.Time
	TriggeredBy string
	Message     string
	DockerHost  string
}

type DatabaseSetBuildHashParams struct {
	RecordID uuid.UUID
	Hash     string
}

type DatabaseFindDuplicateParams struct {
	ExcludeRecordID uuid.UUID
	ExcludeBuildID  uuid.UUID
	Hash            string
	AppCodeKey      string
	BranchKey       *string   // nil means branches aren't compared
	Advanced        *bool     // nil means advanced isn't compared
	FreshSince      time.Time // pending only: a candidate without a container must have a run started at or after it
}

type DatabaseCopyBuildParams struct {
	RecordID     uuid.UUID
	BuildID      uuid.UUID
	RunStartedAt *time.Time
	CompletedAt  *time.Time
	Failed       bool
	DockerImage  string
	DockerTag    string
	Error        *BuildError
	Log          string
	ContainerID  string
	DockerHost   string
	Advanced     *bool
}

type DatabaseAttachContainerParams struct {
	BuildID     uuid.UUID
	ContainerID string
}

type DatabaseGetBuildIDByContainerParams struct {
	ContainerID string
}

type DatabaseCompleteBuildParams struct {
	BuildID     uuid.UUID
	CompletedAt time.Time
	Failed      bool
	DockerImage string
	DockerTag   string
	Error       *BuildError
	Log         string
}

type DatabaseListStalledBuildsParams struct {
	StartedBefore time.Time
	Limit         int
}

type DatabaseListUnreconciledRecordsParams struct {
	Limit int
}

type DatabaseGetCompletedRecordByBuildIDParams struct {
	BuildID uuid.UUID
}

type DatabaseCreateInfraFileSetParams struct {
	Owner    string
	ParentID *uuid.UUID
	Edited   bool
	Files    []InfraFile
}

type DatabaseGetInfraFileSetParams struct {
	ID uuid.UUID
}

type DatabaseDeleteInfraFileSetParams struct {
	ID uuid.UUID
}

type DatabasePutInfraFileParams struct {
	SetID uuid.UUID
	File  InfraFile
}

type DatabaseDeleteInfraFileParams struct {
	SetID uuid.UUID
	Path  string
}
