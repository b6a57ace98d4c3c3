package build

import (
	"context"
	"errors"
	"fmt"
)

func copyBuildParams(dst, src *Record) *DatabaseCopyBuildParams {
	return &DatabaseCopyBuildParams{
		RecordID:     dst.ID,
		BuildID:      src.Build.ID,
		RunStartedAt: src.Build.RunStartedAt,
		CompletedAt:  src.Build.CompletedAt,
		Failed:       src.Build.Failed,
		DockerImage:  src.Build.DockerImage,
		DockerTag:    src.Build.DockerTag,
		Error:        src.Build.Error,
		Log:          src.Build.Log,
		ContainerID:  src.Build.ContainerID,
		DockerHost:   src.Build.DockerHost,
		Advanced:     advancedAfterCopy(dst, src),
	}
}

// copyAndReconcile copies dupe's build into r. When dupe was pending it is
// re-read once so a completion that raced the copy isn't missed.
func (s *Service) copyAndReconcile(ctx context.Context, r, dupe *Record) (*Record, error) {
	deduped, err := s.DB.CopyBuild(ctx, copyBuildParams(r, dupe))
	if errors.Is(err, ErrAlreadyCompleted) {
		return s.DB.GetRecord(ctx, &DatabaseGetRecordParams{ID: r.ID})
	}
	if err != nil {
		return nil, fmt.Errorf("copy build: %w", err)
	}
	if deduped.Completed() {
		s.notify(ctx, EventBuildCompleted, deduped)
		return deduped, nil
	}
	return s.reconcile(ctx, deduped, dupe), nil
}

// reconcile re-reads dupe and copies it again when it completed or gained a container.
// Failures are logged and left to ReconcileDeduped.
func (s *Service) reconcile(ctx context.Context, deduped, dupe *Record) *Record {
	log := s.log().With("record_id", deduped.ID, "duplicate_id", dupe.ID)

	current, err := s.DB.GetRecord(ctx, &DatabaseGetRecordParams{ID: dupe.ID})
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			log.Warn("didn't re-read duplicate", "error", err)
		}
		return deduped
	}
	if !current.Completed() && current.Build.ContainerID == deduped.Build.ContainerID {
		return deduped
	}

	updated, err := s.DB.CopyBuild(ctx, copyBuildParams(deduped, current))
	if errors.Is(err, ErrAlreadyCompleted) {
		// The completion fan-out got here first and already notified.
		reread, err := s.DB.GetRecord(ctx, &DatabaseGetRecordParams{ID: deduped.ID})
		if err != nil {
			return deduped
		}
		return reread
	}
	if err != nil {
		log.Warn("didn't reconcile deduplicated record", "error", err)
		return deduped
	}
	if updated.Completed() {
		log.Info("reconciled deduplicated record")
		s.notify(ctx, EventBuildCompleted, updated)
	}
	return updated
}

// ReconcileDeduped completes records that copied a pending build whose
// completion they missed. It returns the number of records completed.
func (s *Service) ReconcileDeduped(ctx context.Context) (int, error) {
	records, err := s.DB.ListUnreconciledRecords(ctx, &DatabaseListUnreconciledRecordsParams{Limit: sweepLimit})
	if err != nil {
		return 0, fmt.Errorf("build.Service: %w", err)
	}

	n := 0
	var errs []error
	for _, r := range records {
		src, err := s.DB.GetCompletedRecordByBuildID(ctx, &DatabaseGetCompletedRecordByBuildIDParams{BuildID: r.Build.ID})
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			errs = append(errs, err)
			continue
		}

		updated, err := s.DB.CopyBuild(ctx, copyBuildParams(r, src))
		if errors.Is(err, ErrConflict) || errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			errs = append(errs, err)
			continue
		}
		s.notify(ctx, EventBuildCompleted, updated)
		n++
	}
	if err := errors.Join(errs...); err != nil {
		return n, fmt.Errorf("build.Service: %w", err)
	}
	return n, nil
}
