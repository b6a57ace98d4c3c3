package build

import (
	"context"
	"fmt"
	"io"
	"slices"

	"github.com/google/uuid"
)

type CreateInfraFileSetParams struct {
	Owner string
}

// CreateInfraFileSet creates an empty set. A set without a parent is never collapsed.
func (s *Service) CreateInfraFileSet(ctx context.Context, params *CreateInfraFileSetParams) (*InfraFileSet, error) {
	if params.Owner == "" {
		return nil, fmt.Errorf("build.Service: empty owner: %w", ErrInvalid)
	}
	set, err := s.DB.CreateInfraFileSet(ctx, &DatabaseCreateInfraFileSetParams{
		Owner:  params.Owner,
		Edited: true,
		Files:  []InfraFile{},
	})
	if err != nil {
		return nil, fmt.Errorf("build.Service: %w", err)
	}
	return set, nil
}

type GetInfraFileSetParams struct {
	ID uuid.UUID
}

func (s *Service) GetInfraFileSet(ctx context.Context, params *GetInfraFileSetParams) (*InfraFileSet, error) {
	set, err := s.DB.GetInfraFileSet(ctx, &DatabaseGetInfraFileSetParams{ID: params.ID})
	if err != nil {
		return nil, fmt.Errorf("build.Service: %w", err)
	}
	return set, nil
}

type CopyInfraFileSetParams struct {
	ID    uuid.UUID
	Owner string
}

// CopyInfraFileSet creates an unedited child of the set sharing its file contents.
func (s *Service) CopyInfraFileSet(ctx context.Context, params *CopyInfraFileSetParams) (*InfraFileSet, error) {
	parent, err := s.DB.GetInfraFileSet(ctx, &DatabaseGetInfraFileSetParams{ID: params.ID})
	if err != nil {
		return nil, fmt.Errorf("build.Service: %w", err)
	}
	if parent.Owner != params.Owner {
		return nil, fmt.Errorf("build.Service: %w", ErrAccessDenied)
	}

	set, err := s.DB.CreateInfraFileSet(ctx, &DatabaseCreateInfraFileSetParams{
		Owner:    parent.Owner,
		ParentID: &parent.ID,
		Edited:   false,
		Files:    slices.Clone(parent.Files),
	})
	if err != nil {
		return nil, fmt.Errorf("build.Service: %w", err)
	}
	return set, nil
}

type PutInfraFileParams struct {
	SetID   uuid.UUID
	Path    string
	Content io.Reader
}

func (s *Service) PutInfraFile(ctx context.Context, params *PutInfraFileParams) (*InfraFileSet, error) {
	p, err := validInfraPath(params.Path)
	if err != nil {
		return nil, fmt.Errorf("build.Service: %w", err)
	}

	contentHash, err := s.Storage.PutFile(ctx, &StoragePutFileParams{Content: params.Content})
	if err != nil {
		return nil, fmt.Errorf("build.Service: %w", err)
	}

	set, err := s.DB.PutInfraFile(ctx, &DatabasePutInfraFileParams{
		SetID: params.SetID,
		File:  InfraFile{Path: p, ContentHash: contentHash},
	})
	if err != nil {
		return nil, fmt.Errorf("build.Service: %w", err)
	}
	return set, nil
}

type PutInfraDirectoryParams struct {
	SetID uuid.UUID
	Path  string
}

func (s *Service) PutInfraDirectory(ctx context.Context, params *PutInfraDirectoryParams) (*InfraFileSet, error) {
	p, err := validInfraPath(params.Path)
	if err != nil {
		return nil, fmt.Errorf("build.Service: %w", err)
	}

	set, err := s.DB.PutInfraFile(ctx, &DatabasePutInfraFileParams{
		SetID: params.SetID,
		File:  InfraFile{Path: p, ContentHash: DirectoryContentHash, IsDir: true},
	})
	if err != nil {
		return nil, fmt.Errorf("build.Service: %w", err)
	}
	return set, nil
}

type DeleteInfraFileParams struct {
	SetID uuid.UUID
	Path  string
}

func (s *Service) DeleteInfraFile(ctx context.Context, params *DeleteInfraFileParams) (*InfraFileSet, error) {
	p, err := validInfraPath(params.Path)
	if err != nil {
		return nil, fmt.Errorf("build.Service: %w", err)
	}

	set, err := s.DB.DeleteInfraFile(ctx, &DatabaseDeleteInfraFileParams{SetID: params.SetID, Path: p})
	if err != nil {
		return nil, fmt.Errorf("build.Service: %w", err)
	}
	return set, nil
}

type OpenInfraFileParams struct {
	SetID uuid.UUID
	Path  string
}

func (s *Service) OpenInfraFile(ctx context.Context, params *OpenInfraFileParams) (io.ReadCloser, error) {
	p, err := validInfraPath(params.Path)
	if err != nil {
		return nil, fmt.Errorf("build.Service: %w", err)
	}

	set, err := s.DB.GetInfraFileSet(ctx, &DatabaseGetInfraFileSetParams{ID: params.SetID})
	if err != nil {
		return nil, fmt.Errorf("build.Service: %w", err)
	}
	i := slices.IndexFunc(set.Files, func(f InfraFile) bool { return f.Path == p })
	if i < 0 || set.Files[i].IsDir {
		return nil, fmt.Errorf("build.Service: %w", ErrNotFound)
	}

	rc, err := s.Storage.OpenFile(ctx, &StorageOpenFileParams{ContentHash: set.Files[i].ContentHash})
	if err != nil {
		return nil, fmt.Errorf("build.Service: %w", err)
	}
	return rc, nil
}

func validInfraPath(p string) (string, error) {
	n := normalizePath(p)
	if n == "/" {
		return "", fmt.Errorf("empty path: %w", ErrInvalid)
	}
	return n, nil
}
