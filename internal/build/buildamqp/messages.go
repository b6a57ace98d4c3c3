// Package buildamqp connects the build service to RabbitMQ.
// Jobs go to the executor on QueueBuildRequested, the executor reports back
// on QueueBuildReported and record events are published on QueueBuildEvents.
package buildamqp

import (
	"time"

	"github.com/google/uuid"

	"github.com/k11v/forge/internal/amqputil"
	"github.com/k11v/forge/internal/build"
)

const (
	QueueBuildRequested = "build.requested"
	QueueBuildReported  = "build.reported"
	QueueBuildEvents    = "build.events"
)

// QueueParams returns the declaration shared by publishers and consumers of name.
func QueueParams(name string) *amqputil.QueueDeclareParams {
	return &amqputil.QueueDeclareParams{Name: name, Durable: true}
}

type appCodeVersionMessage struct {
	Repo   string `json:"repo"`
	Branch string `json:"branch"`
	Commit string `json:"commit"`
}

type jobMessage struct {
	BuildID         uuid.UUID               `json:"build_id"`
	RecordID        uuid.UUID               `json:"record_id"`
	Owner           string                  `json:"owner"`
	InfraFileSetID  uuid.UUID               `json:"infra_file_set_id"`
	Hash            string                  `json:"hash"`
	AppCodeVersions []appCodeVersionMessage `json:"app_code_versions"`
	NoCache         bool                    `json:"no_cache"`
}

func newJobMessage(job *build.Job) *jobMessage {
	acvs := make([]appCodeVersionMessage, 0, len(job.AppCodeVersions))
	for _, v := range job.AppCodeVersions {
		acvs = append(acvs, appCodeVersionMessage(v))
	}
	return &jobMessage{
		BuildID:         job.BuildID,
		RecordID:        job.RecordID,
		Owner:           job.Owner,
		InfraFileSetID:  job.InfraFileSetID,
		Hash:            job.Hash,
		AppCodeVersions: acvs,
		NoCache:         job.NoCache,
	}
}

type errorMessage struct {
	Message string `json:"message"`
	Stack   string `json:"stack,omitempty"`
}

type eventMessage struct {
	Type        string        `json:"type"`
	RecordID    uuid.UUID     `json:"record_id"`
	Owner       string        `json:"owner"`
	BuildID     uuid.UUID     `json:"build_id"`
	State       string        `json:"state"`
	StartedAt   *time.Time    `json:"started_at,omitempty"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
	DockerImage string        `json:"docker_image,omitempty"`
	DockerTag   string        `json:"docker_tag,omitempty"`
	Error       *errorMessage `json:"error,omitempty"`
}

func newEventMessage(event *build.Event) *eventMessage {
	r := event.Record
	m := &eventMessage{
		Type:        string(event.Type),
		RecordID:    r.ID,
		Owner:       r.Owner,
		BuildID:     r.Build.ID,
		State:       string(r.State()),
		StartedAt:   r.Build.StartedAt,
		CompletedAt: r.Build.CompletedAt,
		DockerImage: r.Build.DockerImage,
		DockerTag:   r.Build.DockerTag,
	}
	if r.Build.Error != nil {
		m.Error = &errorMessage{Message: r.Build.Error.Message, Stack: r.Build.Error.Stack}
	}
	return m
}

// Report types sent by the executor.
const (
	ReportContainerAttached = "container_attached"
	ReportCompleted         = "completed"
	ReportFailed            = "failed"
)

type reportMessage struct {
	Type        *string       `json:"type"`
	BuildID     *uuid.UUID    `json:"build_id"`
	ContainerID *string       `json:"container_id"`
	DockerImage string        `json:"docker_image"`
	DockerTag   string        `json:"docker_tag"`
	Log         string        `json:"log"`
	Error       *errorMessage `json:"error"`
}
