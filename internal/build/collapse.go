package build

import (
	"context"
	"fmt"
)

const maxCollapseDepth = 32

// collapseInfra points the record at the nearest ancestor of its infra file set
// that isn't an unedited copy. Running it twice is a no-op.
func (s *Service) collapseInfra(ctx context.Context, r *Record) (*Record, error) {
	for range maxCollapseDepth {
		set, err := s.DB.GetInfraFileSet(ctx, &DatabaseGetInfraFileSetParams{ID: r.InfraFileSetID})
		if err != nil {
			return nil, fmt.Errorf("collapse infra: %w", err)
		}
		if !set.collapsible() {
			return r, nil
		}

		r, err = s.DB.ReplaceInfraFileSet(ctx, &DatabaseReplaceInfraFileSetParams{
			RecordID: r.ID,
			FromID:   set.ID,
			ToID:     *set.ParentID,
		})
		if err != nil {
			return nil, fmt.Errorf("collapse infra: %w", err)
		}

		// Other records may still reference the set, in which case deletion fails.
		err = s.DB.DeleteInfraFileSet(ctx, &DatabaseDeleteInfraFileSetParams{ID: set.ID})
		if err != nil {
			s.log().Warn("didn't delete collapsed infra file set", "infra_file_set_id", set.ID, "error", err)
		}
	}
	return r, nil
}
