package build

import (
	"context"
	"errors"
	"fmt"
)

// hash computes and stores the record's content hash.
// On failure the record is returned unchanged and treated as unique.
func (s *Service) hash(ctx context.Context, r *Record) *Record {
	set, err := s.DB.GetInfraFileSet(ctx, &DatabaseGetInfraFileSetParams{ID: r.InfraFileSetID})
	if err != nil {
		s.log().Warn("didn't hash infra file set", "record_id", r.ID, "error", err)
		return r
	}

	hashed, err := s.DB.SetBuildHash(ctx, &DatabaseSetBuildHashParams{
		RecordID: r.ID,
		Hash:     Fingerprint(set.Files),
	})
	if err != nil {
		s.log().Warn("didn't set build hash", "record_id", r.ID, "error", err)
		return r
	}
	return hashed
}

// match hashes a started record and looks for an equivalent build.
// Lookup failures degrade to no duplicate.
func (s *Service) match(ctx context.Context, r *Record) (*Record, *Record) {
	r = s.hash(ctx, r)
	if r.Build.Hash == "" || Unhashable(r.Build.Hash) {
		return r, nil
	}

	dupe, err := s.findDuplicate(ctx, r)
	if err != nil {
		s.log().Warn("didn't find duplicate", "record_id", r.ID, "error", err)
		return r, nil
	}
	return r, dupe
}

type findFunc func(ctx context.Context, r *Record, params *DatabaseFindDuplicateParams) (*Record, error)

func (s *Service) findDuplicate(ctx context.Context, r *Record) (*Record, error) {
	params := &DatabaseFindDuplicateParams{
		ExcludeRecordID: r.ID,
		ExcludeBuildID:  r.Build.ID,
		Hash:            r.Build.Hash,
		AppCodeKey:      AppCodeKey(r.AppCodeVersions),
		Advanced:        r.Advanced,
		FreshSince:      s.now().Add(-s.config().pendingTimeout()),
	}

	find := findFunc(s.findPendingDuplicate)
	dupe, err := find(ctx, r, params)
	if err != nil {
		return nil, err
	}
	if dupe == nil {
		find = s.findCompletedDuplicate
		dupe, err = find(ctx, r, params)
		if err != nil {
			return nil, err
		}
	}
	if dupe == nil || dupe.Owner != r.Owner {
		return nil, nil
	}
	if len(r.AppCodeVersions) == 0 {
		return dupe, nil
	}

	branchKey := BranchKey(r.AppCodeVersions)
	params.BranchKey = &branchKey
	exact, err := find(ctx, r, params)
	if err != nil {
		return nil, err
	}
	if exact == nil || exact.Owner != r.Owner {
		return nil, nil
	}
	return exact, nil
}

// findPendingDuplicate returns nil when the record itself claimed first.
func (s *Service) findPendingDuplicate(ctx context.Context, r *Record, params *DatabaseFindDuplicateParams) (*Record, error) {
	dupe, err := s.DB.FindPendingDuplicate(ctx, params)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find pending duplicate: %w", err)
	}
	if r.Build.StartedAt == nil || dupe.Build.StartedAt == nil {
		return nil, fmt.Errorf("find pending duplicate: %w", ErrIntegrity)
	}
	if claimedFirst(r, dupe) {
		return nil, nil
	}
	return dupe, nil
}

// claimedFirst orders claims by StartedAt and breaks ties by ID,
// the same order FindPendingDuplicate uses.
func claimedFirst(a, b *Record) bool {
	if c := a.Build.StartedAt.Compare(*b.Build.StartedAt); c != 0 {
		return c < 0
	}
	return a.ID.String() < b.ID.String()
}

func (s *Service) findCompletedDuplicate(ctx context.Context, _ *Record, params *DatabaseFindDuplicateParams) (*Record, error) {
	dupe, err := s.DB.FindCompletedDuplicate(ctx, params)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find completed duplicate: %w", err)
	}
	return dupe, nil
}
