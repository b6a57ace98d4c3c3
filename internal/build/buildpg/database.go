// Package buildpg implements build.Database on PostgreSQL.
package buildpg

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/k11v/forge/internal/build"
)

var _ build.Database = (*Database)(nil)

// Querier is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx.
type Querier interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Database struct {
	db Querier // required
}

func NewDatabase(db Querier) *Database {
	return &Database{db: db}
}

// CreateRecord implements build.Database.
func (d *Database) CreateRecord(ctx context.Context, params *build.DatabaseCreateRecordParams) (*build.Record, error) {
	query := `
		INSERT INTO build_records (owner, infra_file_set_id, app_code_versions, app_code_key, branch_key, advanced)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING ` + recordColumns
	args := []any{
		params.Owner,
		params.InfraFileSetID,
		appCodeVersionRows(params.AppCodeVersions),
		build.AppCodeKey(params.AppCodeVersions),
		build.BranchKey(params.AppCodeVersions),
		params.Advanced,
	}

	rows, _ := d.db.Query(ctx, query, args...)
	r, err := pgx.CollectExactlyOneRow(rows, rowToRecord)
	if err != nil {
		if pgErr := (*pgconn.PgError)(nil); errors.As(err, &pgErr) && pgErr.Code == pgerrcode.ForeignKeyViolation {
			return nil, fmt.Errorf("create record: infra file set: %w", build.ErrNotFound)
		}
		return nil, fmt.Errorf("create record: %w", err)
	}

	return r, nil
}

// GetRecord implements build.Database.
func (d *Database) GetRecord(ctx context.Context, params *build.DatabaseGetRecordParams) (*build.Record, error) {
	query := `SELECT ` + recordColumns + ` FROM build_records WHERE id = $1`
	args := []any{params.ID}

	rows, _ := d.db.Query(ctx, query, args...)
	r, err := pgx.CollectExactlyOneRow(rows, rowToRecord)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, build.ErrNotFound
	} else if err != nil {
		return nil, fmt.Errorf("get record: %w", err)
	}

	return r, nil
}

// ReplaceInfraFileSet implements build.Database.
func (d *Database) ReplaceInfraFileSet(ctx context.Context, params *build.DatabaseReplaceInfraFileSetParams) (*build.Record, error) {
	query := `
		UPDATE build_records
		SET infra_file_set_id = $3
		WHERE id = $1 AND infra_file_set_id = $2 AND build_started_at IS NULL
		RETURNING ` + recordColumns
	args := []any{params.RecordID, params.FromID, params.ToID}

	rows, _ := d.db.Query(ctx, query, args...)
	r, err := pgx.CollectExactlyOneRow(rows, rowToRecord)
	if errors.Is(err, pgx.ErrNoRows) {
		current, err := d.GetRecord(ctx, &build.DatabaseGetRecordParams{ID: params.RecordID})
		if err != nil {
			return nil, fmt.Errorf("replace infra file set: %w", err)
		}
		if current.Started() {
			return nil, fmt.Errorf("replace infra file set: %w", build.ErrAlreadyStarted)
		}
		return nil, fmt.Errorf("replace infra file set: %w", build.ErrConflict)
	} else if err != nil {
		return nil, fmt.Errorf("replace infra file set: %w", err)
	}

	return r, nil
}

// StartBuild implements build.Database.
func (d *Database) StartBuild(ctx context.Context, params *build.DatabaseStartBuildParams) (*build.Record, error) {
	query := `
		UPDATE build_records
		SET build_id = $2, build_started_at = $3, build_run_started_at = $3, build_triggered_by = $4, build_message = $5, build_docker_host = $6
		WHERE id = $1 AND build_started_at IS NULL
		RETURNING ` + recordColumns
	args := []any{
		params.RecordID,
		params.BuildID,
		params.StartedAt,
		nullString(params.TriggeredBy),
		nullString(params.Message),
		nullString(params.DockerHost),
	}

	rows, _ := d.db.Query(ctx, query, args...)
	r, err := pgx.CollectExactlyOneRow(rows, rowToRecord)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, d.conflictOrNotFound(ctx, params.RecordID, build.ErrAlreadyStarted)
	} else if err != nil {
		return nil, fmt.Errorf("start build: %w", err)
	}

	return r, nil
}

// SetBuildHash implements build.Database.
func (d *Database) SetBuildHash(ctx context.Context, params *build.DatabaseSetBuildHashParams) (*build.Record, error) {
	query := `
		UPDATE build_records
		SET build_hash = $2
		WHERE id = $1
		RETURNING ` + recordColumns
	args := []any{params.RecordID, params.Hash}

	rows, _ := d.db.Query(ctx, query, args...)
	r, err := pgx.CollectExactlyOneRow(rows, rowToRecord)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, build.ErrNotFound
	} else if err != nil {
		return nil, fmt.Errorf("set build hash: %w", err)
	}

	return r, nil
}

// FindPendingDuplicate implements build.Database.
func (d *Database) FindPendingDuplicate(ctx context.Context, params *build.DatabaseFindDuplicateParams) (*build.Record, error) {
	query := `
		SELECT ` + recordColumns + `
		FROM build_records
		WHERE build_hash = $1 AND app_code_key = $2 AND ($3::text IS NULL OR branch_key = $3)
			AND id <> $4 AND build_id <> $5 AND ($6::boolean IS NULL OR advanced = $6)
			AND build_started_at IS NOT NULL AND build_completed_at IS NULL AND NOT build_failed
			AND (build_container_id IS NOT NULL OR build_run_started_at >= $7)
		ORDER BY build_started_at, id
		LIMIT 1
	`
	args := []any{
		params.Hash,
		params.AppCodeKey,
		params.BranchKey,
		params.ExcludeRecordID,
		params.ExcludeBuildID,
		params.Advanced,
		params.FreshSince,
	}

	rows, _ := d.db.Query(ctx, query, args...)
	r, err := pgx.CollectExactlyOneRow(rows, rowToRecord)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, build.ErrNotFound
	} else if err != nil {
		return nil, fmt.Errorf("find pending duplicate: %w", err)
	}

	return r, nil
}

// FindCompletedDuplicate implements build.Database.
func (d *Database) FindCompletedDuplicate(ctx context.Context, params *build.DatabaseFindDuplicateParams) (*build.Record, error) {
	query := `
		SELECT ` + recordColumns + `
		FROM build_records
		WHERE build_hash = $1 AND app_code_key = $2 AND ($3::text IS NULL OR branch_key = $3)
			AND id <> $4 AND build_id <> $5 AND ($6::boolean IS NULL OR advanced = $6)
			AND build_completed_at IS NOT NULL AND NOT build_failed
		ORDER BY build_started_at DESC, id DESC
		LIMIT 1
	`
	args := []any{params.Hash, params.AppCodeKey, params.BranchKey, params.ExcludeRecordID, params.ExcludeBuildID, params.Advanced}

	rows, _ := d.db.Query(ctx, query, args...)
	r, err := pgx.CollectExactlyOneRow(rows, rowToRecord)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, build.ErrNotFound
	} else if err != nil {
		return nil, fmt.Errorf("find completed duplicate: %w", err)
	}

	return r, nil
}

// CopyBuild implements build.Database.
func (d *Database) CopyBuild(ctx context.Context, params *build.DatabaseCopyBuildParams) (*build.Record, error) {
	var errMessage, errStack *string
	if params.Error != nil {
		errMessage, errStack = &params.Error.Message, nullString(params.Error.Stack)
	}

	query := `
		UPDATE build_records
		SET build_id = $2, build_completed_at = $3, build_failed = $4,
			build_docker_image = $5, build_docker_tag = $6,
			build_error_message = $7, build_error_stack = $8, build_log = $9,
			build_container_id = $10, build_docker_host = $11, advanced = $12,
			build_run_started_at = COALESCE($13, build_run_started_at)
		WHERE id = $1 AND build_started_at IS NOT NULL AND build_completed_at IS NULL
		RETURNING ` + recordColumns
	args := []any{
		params.RecordID,
		params.BuildID,
		params.CompletedAt,
		params.Failed,
		nullString(params.DockerImage),
		nullString(params.DockerTag),
		errMessage,
		errStack,
		nullString(params.Log),
		nullString(params.ContainerID),
		nullString(params.DockerHost),
		params.Advanced,
		params.RunStartedAt,
	}

	rows, _ := d.db.Query(ctx, query, args...)
	r, err := pgx.CollectExactlyOneRow(rows, rowToRecord)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, d.conflictOrNotFound(ctx, params.RecordID, build.ErrAlreadyCompleted)
	} else if err != nil {
		return nil, fmt.Errorf("copy build: %w", err)
	}

	return r, nil
}

// AttachContainer implements build.Database.
func (d *Database) AttachContainer(ctx context.Context, params *build.DatabaseAttachContainerParams) ([]*build.Record, error) {
	query := `
		UPDATE build_records
		SET build_container_id = $2
		WHERE build_id = $1 AND build_container_id IS NULL
		RETURNING ` + recordColumns
	args := []any{params.BuildID, params.ContainerID}

	rows, _ := d.db.Query(ctx, query, args...)
	records, err := pgx.CollectRows(rows, rowToRecord)
	if err != nil {
		return nil, fmt.Errorf("attach container: %w", err)
	}
	if len(records) > 0 {
		return records, nil
	}

	var exists bool
	err = d.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM build_records WHERE build_id = $1)`, params.BuildID).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("attach container: %w", err)
	}
	if !exists {
		return nil, build.ErrNotFound
	}
	return records, nil
}

// GetBuildIDByContainer implements build.Database.
func (d *Database) GetBuildIDByContainer(ctx context.Context, params *build.DatabaseGetBuildIDByContainerParams) (uuid.UUID, error) {
	query := `
		SELECT build_id
		FROM build_records
		WHERE build_container_id = $1 AND build_id IS NOT NULL
		ORDER BY created_at
		LIMIT 1
	`
	args := []any{params.ContainerID}

	rows, _ := d.db.Query(ctx, query, args...)
	id, err := pgx.CollectExactlyOneRow(rows, rowToUUID)
	if errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, build.ErrNotFound
	} else if err != nil {
		return uuid.Nil, fmt.Errorf("get build id by container: %w", err)
	}

	return id, nil
}

// CompleteBuild implements build.Database.
func (d *Database) CompleteBuild(ctx context.Context, params *build.DatabaseCompleteBuildParams) ([]*build.Record, error) {
	var errMessage, errStack *string
	if params.Error != nil {
		errMessage, errStack = &params.Error.Message, nullString(params.Error.Stack)
	}

	query := `
		UPDATE build_records
		SET build_completed_at = $2, build_failed = $3,
			build_docker_image = $4, build_docker_tag = $5,
			build_error_message = $6, build_error_stack = $7, build_log = $8
		WHERE build_id = $1 AND build_started_at IS NOT NULL AND build_completed_at IS NULL
		RETURNING ` + recordColumns
	args := []any{
		params.BuildID,
		params.CompletedAt,
		params.Failed,
		nullString(params.DockerImage),
		nullString(params.DockerTag),
		errMessage,
		errStack,
		nullString(params.Log),
	}

	rows, _ := d.db.Query(ctx, query, args...)
	records, err := pgx.CollectRows(rows, rowToRecord)
	if err != nil {
		return nil, fmt.Errorf("complete build: %w", err)
	}

	return records, nil
}

// ListStalledBuilds implements build.Database.
func (d *Database) ListStalledBuilds(ctx context.Context, params *build.DatabaseListStalledBuildsParams) ([]uuid.UUID, error) {
	query := `
		SELECT build_id
		FROM build_records
		WHERE build_started_at IS NOT NULL AND build_completed_at IS NULL AND build_run_started_at < $1
		GROUP BY build_id
		ORDER BY min(build_run_started_at)
		LIMIT $2
	`
	args := []any{params.StartedBefore, params.Limit}

	rows, _ := d.db.Query(ctx, query, args...)
	ids, err := pgx.CollectRows(rows, rowToUUID)
	if err != nil {
		return nil, fmt.Errorf("list stalled builds: %w", err)
	}

	return ids, nil
}

// ListUnreconciledRecords implements build.Database.
func (d *Database) ListUnreconciledRecords(ctx context.Context, params *build.DatabaseListUnreconciledRecordsParams) ([]*build.Record, error) {
	query := `
		SELECT ` + recordColumns + `
		FROM build_records r
		WHERE r.build_started_at IS NOT NULL AND r.build_completed_at IS NULL
			AND EXISTS (
				SELECT 1 FROM build_records c
				WHERE c.build_id = r.build_id AND c.build_completed_at IS NOT NULL
			)
		ORDER BY r.created_at, r.id
		LIMIT $1
	`
	args := []any{params.Limit}

	rows, _ := d.db.Query(ctx, query, args...)
	records, err := pgx.CollectRows(rows, rowToRecord)
	if err != nil {
		return nil, fmt.Errorf("list unreconciled records: %w", err)
	}

	return records, nil
}

// GetCompletedRecordByBuildID implements build.Database.
func (d *Database) GetCompletedRecordByBuildID(ctx context.Context, params *build.DatabaseGetCompletedRecordByBuildIDParams) (*build.Record, error) {
	query := `
		SELECT ` + recordColumns + `
		FROM build_records
		WHERE build_id = $1 AND build_completed_at IS NOT NULL
		ORDER BY created_at, id
		LIMIT 1
	`
	args := []any{params.BuildID}

	rows, _ := d.db.Query(ctx, query, args...)
	r, err := pgx.CollectExactlyOneRow(rows, rowToRecord)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, build.ErrNotFound
	} else if err != nil {
		return nil, fmt.Errorf("get completed record by build id: %w", err)
	}

	return r, nil
}

// conflictOrNotFound explains why a conditional update matched no row.
func (d *Database) conflictOrNotFound(ctx context.Context, recordID uuid.UUID, conflictErr error) error {
	var exists bool
	err := d.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM build_records WHERE id = $1)`, recordID).Scan(&exists)
	if err != nil {
		return err
	}
	if !exists {
		return build.ErrNotFound
	}
	return conflictErr
}

func appCodeVersionRows(acvs []build.AppCodeVersion) []appCodeVersionRow {
	rows := make([]appCodeVersionRow, 0, len(acvs))
	for _, v := range acvs {
		rows = append(rows, appCodeVersionRow(v))
	}
	return rows
}
