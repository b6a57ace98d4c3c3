package buildpg

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/k11v/forge/internal/build"
)

const recordColumns = `
	id, owner, infra_file_set_id, app_code_versions, advanced, created_at,
	build_id, build_hash, build_started_at, build_run_started_at, build_completed_at, build_failed,
	build_docker_image, build_docker_tag, build_error_message, build_error_stack,
	build_log, build_container_id, build_docker_host, build_triggered_by, build_message
`

type recordRow struct {
	ID                uuid.UUID           `db:"id"`
	Owner             string              `db:"owner"`
	InfraFileSetID    uuid.UUID           `db:"infra_file_set_id"`
	AppCodeVersions   []appCodeVersionRow `db:"app_code_versions"`
	Advanced          *bool               `db:"advanced"`
	CreatedAt         time.Time           `db:"created_at"`
	BuildID           *uuid.UUID          `db:"build_id"`
	BuildHash         *string             `db:"build_hash"`
	BuildStartedAt    *time.Time          `db:"build_started_at"`
	BuildRunStartedAt *time.Time          `db:"build_run_started_at"`
	BuildCompletedAt  *time.Time          `db:"build_completed_at"`
	BuildFailed       bool                `db:"build_failed"`
	BuildDockerImage  *string             `db:"build_docker_image"`
	BuildDockerTag    *string             `db:"build_docker_tag"`
	BuildErrorMessage *string             `db:"build_error_message"`
	BuildErrorStack   *string             `db:"build_error_stack"`
	BuildLog          *string             `db:"build_log"`
	BuildContainerID  *string             `db:"build_container_id"`
	BuildDockerHost   *string             `db:"build_docker_host"`
	BuildTriggeredBy  *string             `db:"build_triggered_by"`
	BuildMessage      *string             `db:"build_message"`
}

// appCodeVersionRow is the jsonb element of build_records.app_code_versions.
type appCodeVersionRow struct {
	Repo   string `json:"repo"`
	Branch string `json:"branch"`
	Commit string `json:"commit"`
}

func rowToRecord(collectableRow pgx.CollectableRow) (*build.Record, error) {
	collectedRow, err := pgx.RowToStructByName[recordRow](collectableRow)
	if err != nil {
		return nil, fmt.Errorf("row to record: %w", err)
	}

	acvs := make([]build.AppCodeVersion, 0, len(collectedRow.AppCodeVersions))
	for _, v := range collectedRow.AppCodeVersions {
		acvs = append(acvs, build.AppCodeVersion{Repo: v.Repo, Branch: v.Branch, Commit: v.Commit})
	}

	var buildID uuid.UUID
	if collectedRow.BuildID != nil {
		buildID = *collectedRow.BuildID
	}

	var buildErr *build.BuildError
	if collectedRow.BuildErrorMessage != nil {
		buildErr = &build.BuildError{
			Message: *collectedRow.BuildErrorMessage,
			Stack:   deref(collectedRow.BuildErrorStack),
		}
	}

	r := &build.Record{
		ID:              collectedRow.ID,
		Owner:           collectedRow.Owner,
		InfraFileSetID:  collectedRow.InfraFileSetID,
		AppCodeVersions: acvs,
		Advanced:        collectedRow.Advanced,
		CreatedAt:       collectedRow.CreatedAt.UTC(),
		Build: build.BuildState{
			ID:           buildID,
			Hash:         deref(collectedRow.BuildHash),
			StartedAt:    utc(collectedRow.BuildStartedAt),
			RunStartedAt: utc(collectedRow.BuildRunStartedAt),
			CompletedAt:  utc(collectedRow.BuildCompletedAt),
			Failed:       collectedRow.BuildFailed,
			DockerImage:  deref(collectedRow.BuildDockerImage),
			DockerTag:    deref(collectedRow.BuildDockerTag),
			Error:        buildErr,
			Log:          deref(collectedRow.BuildLog),
			ContainerID:  deref(collectedRow.BuildContainerID),
			DockerHost:   deref(collectedRow.BuildDockerHost),
			TriggeredBy:  deref(collectedRow.BuildTriggeredBy),
			Message:      deref(collectedRow.BuildMessage),
		},
	}
	return r, nil
}

type infraFileSetRow struct {
	ID        uuid.UUID  `db:"id"`
	Owner     string     `db:"owner"`
	ParentID  *uuid.UUID `db:"parent_id"`
	Edited    bool       `db:"edited"`
	CreatedAt time.Time  `db:"created_at"`
}

func rowToInfraFileSet(collectableRow pgx.CollectableRow) (*build.InfraFileSet, error) {
	collectedRow, err := pgx.RowToStructByName[infraFileSetRow](collectableRow)
	if err != nil {
		return nil, fmt.Errorf("row to infra file set: %w", err)
	}
	s := &build.InfraFileSet{
		ID:        collectedRow.ID,
		Owner:     collectedRow.Owner,
		ParentID:  collectedRow.ParentID,
		Edited:    collectedRow.Edited,
		Files:     []build.InfraFile{},
		CreatedAt: collectedRow.CreatedAt.UTC(),
	}
	return s, nil
}

type infraFileRow struct {
	Path        string `db:"path"`
	ContentHash string `db:"content_hash"`
	IsDir       bool   `db:"is_dir"`
}

func rowToInfraFile(collectableRow pgx.CollectableRow) (build.InfraFile, error) {
	collectedRow, err := pgx.RowToStructByName[infraFileRow](collectableRow)
	if err != nil {
		return build.InfraFile{}, fmt.Errorf("row to infra file: %w", err)
	}
	return build.InfraFile(collectedRow), nil
}

func rowToUUID(collectableRow pgx.CollectableRow) (uuid.UUID, error) {
	collectedRow, err := pgx.RowToStructByPos[struct{ X uuid.UUID }](collectableRow)
	if err != nil {
		return uuid.UUID{}, fmt.Errorf("row to uuid: %w", err)
	}
	return collectedRow.X, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// nullString stores empty strings as NULL.
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func utc(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
