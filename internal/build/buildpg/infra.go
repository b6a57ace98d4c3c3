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

// CreateInfraFileSet implements build.Database.
func (d *Database) CreateInfraFileSet(ctx context.Context, params *build.DatabaseCreateInfraFileSetParams) (*build.InfraFileSet, error) {
	var s *build.InfraFileSet
	err := pgx.BeginFunc(ctx, d.db, func(tx pgx.Tx) error {
		query := `
			INSERT INTO infra_file_sets (owner, parent_id, edited)
			VALUES ($1, $2, $3)
			RETURNING id, owner, parent_id, edited, created_at
		`
		args := []any{params.Owner, params.ParentID, params.Edited}

		rows, _ := tx.Query(ctx, query, args...)
		var err error
		s, err = pgx.CollectExactlyOneRow(rows, rowToInfraFileSet)
		if err != nil {
			return err
		}

		if len(params.Files) > 0 {
			batch := &pgx.Batch{}
			for _, f := range params.Files {
				batch.Queue(
					`INSERT INTO infra_files (set_id, path, content_hash, is_dir) VALUES ($1, $2, $3, $4)`,
					s.ID, f.Path, f.ContentHash, f.IsDir,
				)
			}
			if err = tx.SendBatch(ctx, batch).Close(); err != nil {
				return err
			}
		}

		s.Files, err = getInfraFiles(ctx, tx, s.ID)
		return err
	})
	if err != nil {
		if pgErr := (*pgconn.PgError)(nil); errors.As(err, &pgErr) && pgErr.Code == pgerrcode.ForeignKeyViolation {
			return nil, fmt.Errorf("create infra file set: parent: %w", build.ErrNotFound)
		}
		return nil, fmt.Errorf("create infra file set: %w", err)
	}

	return s, nil
}

// GetInfraFileSet implements build.Database.
func (d *Database) GetInfraFileSet(ctx context.Context, params *build.DatabaseGetInfraFileSetParams) (*build.InfraFileSet, error) {
	s, err := getInfraFileSet(ctx, d.db, params.ID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, build.ErrNotFound
	} else if err != nil {
		return nil, fmt.Errorf("get infra file set: %w", err)
	}
	return s, nil
}

// DeleteInfraFileSet implements build.Database.
// Sets referenced by a record or another set are kept and reported as ErrConflict.
func (d *Database) DeleteInfraFileSet(ctx context.Context, params *build.DatabaseDeleteInfraFileSetParams) error {
	tag, err := d.db.Exec(ctx, `DELETE FROM infra_file_sets WHERE id = $1`, params.ID)
	if err != nil {
		if pgErr := (*pgconn.PgError)(nil); errors.As(err, &pgErr) && pgerrcode.IsIntegrityConstraintViolation(pgErr.Code) {
			return fmt.Errorf("delete infra file set: %w", build.ErrConflict)
		}
		return fmt.Errorf("delete infra file set: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return build.ErrNotFound
	}
	return nil
}

// PutInfraFile implements build.Database.
func (d *Database) PutInfraFile(ctx context.Context, params *build.DatabasePutInfraFileParams) (*build.InfraFileSet, error) {
	s, err := d.editInfraFileSet(ctx, params.SetID, func(tx pgx.Tx) error {
		query := `
			INSERT INTO infra_files (set_id, path, content_hash, is_dir)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (set_id, path) DO UPDATE SET content_hash = excluded.content_hash, is_dir = excluded.is_dir
		`
		args := []any{params.SetID, params.File.Path, params.File.ContentHash, params.File.IsDir}
		_, err := tx.Exec(ctx, query, args...)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("put infra file: %w", err)
	}
	return s, nil
}

// DeleteInfraFile implements build.Database.
func (d *Database) DeleteInfraFile(ctx context.Context, params *build.DatabaseDeleteInfraFileParams) (*build.InfraFileSet, error) {
	s, err := d.editInfraFileSet(ctx, params.SetID, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `DELETE FROM infra_files WHERE set_id = $1 AND path = $2`, params.SetID, params.Path)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("infra file: %w", build.ErrNotFound)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("delete infra file: %w", err)
	}
	return s, nil
}

// editInfraFileSet locks the set, marks it as edited and runs f in the same transaction.
func (d *Database) editInfraFileSet(ctx context.Context, id uuid.UUID, f func(tx pgx.Tx) error) (*build.InfraFileSet, error) {
	var s *build.InfraFileSet
	err := pgx.BeginFunc(ctx, d.db, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `UPDATE infra_file_sets SET edited = true WHERE id = $1`, id)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return build.ErrNotFound
		}

		if err = f(tx); err != nil {
			return err
		}

		s, err = getInfraFileSet(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

type queryer interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func getInfraFileSet(ctx context.Context, db queryer, id uuid.UUID) (*build.InfraFileSet, error) {
	query := `SELECT id, owner, parent_id, edited, created_at FROM infra_file_sets WHERE id = $1`

	rows, _ := db.Query(ctx, query, id)
	s, err := pgx.CollectExactlyOneRow(rows, rowToInfraFileSet)
	if err != nil {
		return nil, err
	}

	s.Files, err = getInfraFiles(ctx, db, id)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func getInfraFiles(ctx context.Context, db queryer, setID uuid.UUID) ([]build.InfraFile, error) {
	query := `SELECT path, content_hash, is_dir FROM infra_files WHERE set_id = $1 ORDER BY path`

	rows, _ := db.Query(ctx, query, setID)
	return pgx.CollectRows(rows, rowToInfraFile)
}
