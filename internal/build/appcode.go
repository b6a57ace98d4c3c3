package build

import (
	"fmt"
	"slices"
	"strings"
)

// AppCodeKey identifies the multiset of repo and commit pairs of acvs.
// Two records match on app code when their keys are equal, which implies
// the same pairs and the same cardinality. An empty list has the empty key.
func AppCodeKey(acvs []AppCodeVersion) string {
	parts := make([]string, 0, len(acvs))
	for _, v := range acvs {
		parts = append(parts, v.lowerRepo()+"\t"+v.Commit)
	}
	return joinSorted(parts)
}

// BranchKey is AppCodeKey with branches included.
// The same commit can be reachable from several branches, so a match on
// AppCodeKey alone doesn't make two records exact duplicates.
func BranchKey(acvs []AppCodeVersion) string {
	parts := make([]string, 0, len(acvs))
	for _, v := range acvs {
		parts = append(parts, v.lowerRepo()+"\t"+v.lowerBranch()+"\t"+v.Commit)
	}
	return joinSorted(parts)
}

func joinSorted(parts []string) string {
	slices.Sort(parts)
	return strings.Join(parts, "\n")
}

func validateAppCodeVersions(acvs []AppCodeVersion) error {
	for i, v := range acvs {
		if v.Repo == "" || v.Branch == "" || v.Commit == "" {
			return fmt.Errorf("app code version %d: repo, branch and commit are required: %w", i, ErrInvalid)
		}
		if strings.ContainsAny(v.Repo+v.Branch+v.Commit, "\t\n") {
			return fmt.Errorf("app code version %d: contains control character: %w", i, ErrInvalid)
		}
	}
	return nil
}
