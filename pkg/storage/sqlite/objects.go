package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/samplecove/samplecove/pkg/model"
	"github.com/samplecove/samplecove/pkg/storage"
)

// objectColumns is the SELECT column list shared by object queries.
const objectColumns = `o.id, o.type, o.dhash, o.upload_time, o.file_name, o.file_size, o.sha256,
	o.config_family, o.config_type, o.config, o.blob_name, o.blob_type, o.content`

// PutObject inserts an object idempotently keyed on dhash, optionally linking
// a parent and propagating initial grants, in one transaction. Reports
// whether this call created the object. On a re-upload of a known dhash the
// existing row wins and the incoming metadata is discarded, but parent link
// and grants are still applied.
func (s *Store) PutObject(ctx context.Context, obj *model.Object, opts storage.PutOptions) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("beginning transaction: %w", err)
	}
	defer rollback(tx)

	created, err := s.getOrCreateObjectTx(ctx, tx, obj)
	if err != nil {
		return false, err
	}

	if opts.ParentDHash != "" {
		parentID, err := objectIDByDHash(ctx, tx, opts.ParentDHash)
		if err != nil {
			return false, err
		}
		if _, err := s.addParentTx(ctx, tx, obj.ID, parentID); err != nil {
			return false, err
		}
	}

	for _, groupID := range opts.GrantGroupIDs {
		err := s.propagateTx(ctx, tx, obj.ID, groupID, model.AccessAdded, obj.ID, opts.UploaderID)
		if err != nil {
			return false, err
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("committing transaction: %w", err)
	}
	return created, nil
}

// getOrCreateObjectTx resolves obj by dhash, inserting it when absent. The
// insert runs under a savepoint so a lost race to a concurrent uploader
// degrades to a re-fetch of the winner's row.
func (s *Store) getOrCreateObjectTx(ctx context.Context, tx *sql.Tx, obj *model.Object) (bool, error) {
	existing, err := getObjectTx(ctx, tx, obj.DHash)
	if err == nil {
		*obj = *existing
		return false, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return false, err
	}

	if _, err := tx.ExecContext(ctx, `SAVEPOINT put_object`); err != nil {
		return false, fmt.Errorf("creating savepoint: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO objects (
			type, dhash, file_name, file_size, sha256,
			config_family, config_type, config, blob_name, blob_type, content
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(obj.Type), obj.DHash, obj.FileName, obj.FileSize, obj.SHA256,
		obj.ConfigFamily, obj.ConfigType, obj.Config, obj.BlobName, obj.BlobType, obj.Content,
	)
	if err != nil {
		if !isUniqueViolation(err) {
			return false, fmt.Errorf("inserting object: %w", err)
		}
		if _, rbErr := tx.ExecContext(ctx, `ROLLBACK TO put_object`); rbErr != nil {
			return false, fmt.Errorf("rolling back to savepoint: %w", rbErr)
		}
		existing, err := getObjectTx(ctx, tx, obj.DHash)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return false, storage.ErrIntegrityConflict
			}
			return false, err
		}
		*obj = *existing
		return false, nil
	}

	if _, err := tx.ExecContext(ctx, `RELEASE put_object`); err != nil {
		return false, fmt.Errorf("releasing savepoint: %w", err)
	}

	obj.ID, err = res.LastInsertId()
	if err != nil {
		return false, fmt.Errorf("getting object id: %w", err)
	}
	err = tx.QueryRowContext(ctx,
		`SELECT upload_time FROM objects WHERE id = ?`, obj.ID,
	).Scan(&timeField{&obj.UploadTime})
	if err != nil {
		return false, fmt.Errorf("reading upload time: %w", err)
	}
	return true, nil
}

// GetObject retrieves an object by dhash without access checks.
func (s *Store) GetObject(ctx context.Context, dhash string) (*model.Object, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+objectColumns+` FROM objects o WHERE o.dhash = ?`, dhash)
	return scanObject(row)
}

func getObjectTx(ctx context.Context, tx *sql.Tx, dhash string) (*model.Object, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT `+objectColumns+` FROM objects o WHERE o.dhash = ?`, dhash)
	return scanObject(row)
}

// GetView retrieves an object joined with its relatives and tags. Parents
// the predicate rejects are elided so the view never reveals more of the
// graph than the requestor may see.
func (s *Store) GetView(ctx context.Context, dhash string, visible storage.Predicate) (*model.ObjectView, error) {
	obj, err := s.GetObject(ctx, dhash)
	if err != nil {
		return nil, err
	}
	view := &model.ObjectView{Object: *obj}

	parents, err := s.queryObjects(ctx, `
		SELECT `+objectColumns+` FROM objects o
		JOIN relations r ON r.parent_id = o.id
		WHERE r.child_id = ? AND `+visible.SQL+`
		ORDER BY r.creation_time DESC, o.id DESC`,
		append([]any{obj.ID}, visible.Args...)...,
	)
	if err != nil {
		return nil, err
	}
	for _, p := range parents {
		view.Parents = append(view.Parents, *p)
	}

	children, err := s.queryObjects(ctx, `
		SELECT `+objectColumns+` FROM objects o
		JOIN relations r ON r.child_id = o.id
		WHERE r.parent_id = ?
		ORDER BY r.creation_time DESC, o.id DESC`,
		obj.ID,
	)
	if err != nil {
		return nil, err
	}
	for _, c := range children {
		view.Children = append(view.Children, *c)
	}

	if view.Tags, err = s.ListTags(ctx, obj.ID); err != nil {
		return nil, err
	}
	return view, nil
}

// ListObjects returns objects of the given type (empty for all) matching the
// predicate, most recent first.
func (s *Store) ListObjects(
	ctx context.Context, typ model.ObjectType, pred storage.Predicate, limit int,
) ([]*model.Object, error) {
	query := `SELECT ` + objectColumns + ` FROM objects o WHERE ` + pred.SQL
	args := append([]any{}, pred.Args...)
	if typ != "" {
		query += ` AND o.type = ?`
		args = append(args, string(typ))
	}
	query += ` ORDER BY o.id DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	return s.queryObjects(ctx, query, args...)
}

// AddParent inserts a parent/child edge and replays every ACL row of the
// parent down the child subtree. Reports whether the edge was new.
func (s *Store) AddParent(ctx context.Context, childDHash, parentDHash string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("beginning transaction: %w", err)
	}
	defer rollback(tx)

	childID, err := objectIDByDHash(ctx, tx, childDHash)
	if err != nil {
		return false, err
	}
	parentID, err := objectIDByDHash(ctx, tx, parentDHash)
	if err != nil {
		return false, err
	}

	added, err := s.addParentTx(ctx, tx, childID, parentID)
	if err != nil {
		return false, err
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("committing transaction: %w", err)
	}
	return added, nil
}

// addParentTx links childID under parentID. Even when the edge already
// exists the parent's ACL rows are replayed, so repeated links converge to
// the same access state.
func (s *Store) addParentTx(ctx context.Context, tx *sql.Tx, childID, parentID int64) (bool, error) {
	res, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO relations (parent_id, child_id) VALUES (?, ?)`,
		parentID, childID,
	)
	if err != nil {
		return false, fmt.Errorf("inserting relation: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("checking rows affected: %w", err)
	}

	if err := s.replayParentTx(ctx, tx, childID, parentID); err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (s *Store) queryObjects(ctx context.Context, query string, args ...any) ([]*model.Object, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying objects: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var objs []*model.Object
	for rows.Next() {
		o, err := scanObject(rows)
		if err != nil {
			return nil, err
		}
		objs = append(objs, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating object rows: %w", err)
	}
	return objs, nil
}

func scanObject(sc scanner) (*model.Object, error) {
	var (
		o   model.Object
		typ string
	)
	err := sc.Scan(
		&o.ID, &typ, &o.DHash, &timeField{&o.UploadTime}, &o.FileName, &o.FileSize, &o.SHA256,
		&o.ConfigFamily, &o.ConfigType, &o.Config, &o.BlobName, &o.BlobType, &o.Content,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("scanning object row: %w", err)
	}
	o.Type = model.ObjectType(typ)
	return &o, nil
}
