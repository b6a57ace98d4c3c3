package build

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

const sweepLimit = 100

type ReportBuildStartedParams struct {
	RecordID    uuid.UUID
	TriggeredBy string
	Message     string
	DockerHost  string
}

// ReportBuildStarted claims a build for the record under a new build ID.
// It returns ErrAlreadyStarted when the record was claimed before.
func (s *Service) ReportBuildStarted(ctx context.Context, params *ReportBuildStartedParams) (*Record, error) {
	r, err := s.DB.StartBuild(ctx, &DatabaseStartBuildParams{
		RecordID:    params.RecordID,
		BuildID:     uuid.New(),
		StartedAt:   s.now(),
		TriggeredBy: params.TriggeredBy,
		Message:     params.Message,
		DockerHost:  params.DockerHost,
	})
	if err != nil {
		return nil, fmt.Errorf("build.Service: %w", err)
	}

	s.notify(ctx, EventBuildStarted, r)
	return r, nil
}

type AttachContainerParams struct {
	BuildID     uuid.UUID
	ContainerID string
}

// AttachContainer records the executor's container on every record of the build.
func (s *Service) AttachContainer(ctx context.Context, params *AttachContainerParams) ([]*Record, error) {
	if params.ContainerID == "" {
		return nil, fmt.Errorf("build.Service: empty container id: %w", ErrInvalid)
	}
	records, err := s.DB.AttachContainer(ctx, &DatabaseAttachContainerParams{
		BuildID:     params.BuildID,
		ContainerID: params.ContainerID,
	})
	if err != nil {
		return nil, fmt.Errorf("build.Service: %w", err)
	}
	return records, nil
}

type ReportBuildCompletedParams struct {
	ContainerID string
	DockerImage string
	DockerTag   string
	Log         string
}

// ReportBuildCompleted marks every incomplete record of the container's build as succeeded.
func (s *Service) ReportBuildCompleted(ctx context.Context, params *ReportBuildCompletedParams) ([]*Record, error) {
	if params.DockerImage == "" {
		return nil, fmt.Errorf("build.Service: %w", ErrMissingImage)
	}

	buildID, err := s.DB.GetBuildIDByContainer(ctx, &DatabaseGetBuildIDByContainerParams{ContainerID: params.ContainerID})
	if err != nil {
		return nil, fmt.Errorf("build.Service: %w", err)
	}

	records, err := s.completeBuild(ctx, &DatabaseCompleteBuildParams{
		BuildID:     buildID,
		CompletedAt: s.now(),
		DockerImage: params.DockerImage,
		DockerTag:   params.DockerTag,
		Log:         params.Log,
	})
	if err != nil {
		return nil, fmt.Errorf("build.Service: %w", err)
	}
	return records, nil
}

type ReportBuildFailedParams struct {
	ContainerID string
	Error       BuildError
	Log         string
}

// ReportBuildFailed marks every incomplete record of the container's build as failed.
func (s *Service) ReportBuildFailed(ctx context.Context, params *ReportBuildFailedParams) ([]*Record, error) {
	buildID, err := s.DB.GetBuildIDByContainer(ctx, &DatabaseGetBuildIDByContainerParams{ContainerID: params.ContainerID})
	if err != nil {
		return nil, fmt.Errorf("build.Service: %w", err)
	}

	buildErr := params.Error
	if buildErr.Message == "" {
		buildErr.Message = "build failed"
	}
	records, err := s.completeBuild(ctx, &DatabaseCompleteBuildParams{
		BuildID:     buildID,
		CompletedAt: s.now(),
		Failed:      true,
		Error:       &buildErr,
		Log:         params.Log,
	})
	if err != nil {
		return nil, fmt.Errorf("build.Service: %w", err)
	}
	return records, nil
}

// ExpireStalled fails builds that stayed incomplete longer than the stall timeout.
// It returns the number of records failed.
func (s *Service) ExpireStalled(ctx context.Context) (int, error) {
	buildIDs, err := s.DB.ListStalledBuilds(ctx, &DatabaseListStalledBuildsParams{
		StartedBefore: s.now().Add(-s.config().stallTimeout()),
		Limit:         sweepLimit,
	})
	if err != nil {
		return 0, fmt.Errorf("build.Service: %w", err)
	}

	n := 0
	var errs []error
	for _, id := range buildIDs {
		records, err := s.completeBuild(ctx, &DatabaseCompleteBuildParams{
			BuildID:     id,
			CompletedAt: s.now(),
			Failed:      true,
			Error:       &BuildError{Message: "build timed out"},
		})
		if err != nil {
			errs = append(errs, err)
			continue
		}
		s.log().Warn("expired stalled build", "build_id", id, "records", len(records))
		n += len(records)
	}
	if err := errors.Join(errs...); err != nil {
		return n, fmt.Errorf("build.Service: %w", err)
	}
	return n, nil
}

// completeBuild emits one completion event per record it completed.
func (s *Service) completeBuild(ctx context.Context, params *DatabaseCompleteBuildParams) ([]*Record, error) {
	records, err := s.DB.CompleteBuild(ctx, params)
	if err != nil {
		return nil, err
	}
	for _, r := range records {
		s.notify(ctx, EventBuildCompleted, r)
	}
	return records, nil
}
