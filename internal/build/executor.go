package build

import (
	"context"

	"github.com/google/uuid"
)

// Job asks the executor for one physical build.
// The executor later reports the container it created and the outcome
// through Service.AttachContainer, Service.ReportBuildCompleted and Service.ReportBuildFailed.
type Job struct {
	BuildID         uuid.UUID
	RecordID        uuid.UUID
	Owner           string
	InfraFileSetID  uuid.UUID
	Hash            string
	AppCodeVersions []AppCodeVersion
	NoCache         bool
}

type Executor interface {
	SubmitBuild(ctx context.Context, job *Job) error
}
