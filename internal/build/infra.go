package build

import (
	"time"

	"github.com/google/uuid"
)

// InfraFileSet is a content-addressable bundle of non-application build files
// such as a Dockerfile and its build context.
//
// A set that was copied from a parent and never edited is redundant with the
// parent and gets collapsed into it before the record is matched.
type InfraFileSet struct {
	ID        uuid.UUID
	Owner     string
	ParentID  *uuid.UUID
	Edited    bool
	Files     []InfraFile
	CreatedAt time.Time
}

type InfraFile struct {
	Path        string
	ContentHash string
	IsDir       bool
}

// collapsible reports whether the set is an unedited copy of its parent.
func (s *InfraFileSet) collapsible() bool {
	return !s.Edited && s.ParentID != nil
}
