package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/samplecove/samplecove/pkg/model"
	"github.com/samplecove/samplecove/pkg/storage"
)

// grantTx inserts an ACL row idempotently inside the caller's transaction.
// The insert runs under a savepoint so a unique-constraint conflict rolls
// back only the attempt; after rollback the existence re-check decides
// between "concurrent writer got there first" and a genuine integrity
// conflict. Returns true iff this call created the row.
//
// The idempotency is load-bearing: it is the termination condition of
// propagateTx.
func (s *Store) grantTx(
	ctx context.Context, tx *sql.Tx,
	objectID, groupID int64, reason model.AccessType, relatedObjectID, relatedUserID int64,
) (bool, error) {
	exists, err := permissionExists(ctx, tx, objectID, groupID)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}

	if _, err := tx.ExecContext(ctx, `SAVEPOINT grant_acl`); err != nil {
		return false, fmt.Errorf("creating savepoint: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO permissions (object_id, group_id, reason_type, related_object_id, related_user_id)
		VALUES (?, ?, ?, ?, ?)`,
		objectID, groupID, string(reason), idArg(relatedObjectID), idArg(relatedUserID),
	)
	if err != nil {
		if !isUniqueViolation(err) {
			return false, fmt.Errorf("inserting permission: %w", err)
		}
		if _, rbErr := tx.ExecContext(ctx, `ROLLBACK TO grant_acl`); rbErr != nil {
			return false, fmt.Errorf("rolling back to savepoint: %w", rbErr)
		}
		exists, err := permissionExists(ctx, tx, objectID, groupID)
		if err != nil {
			return false, err
		}
		if !exists {
			return false, storage.ErrIntegrityConflict
		}
		return false, nil
	}

	if _, err := tx.ExecContext(ctx, `RELEASE grant_acl`); err != nil {
		return false, fmt.Errorf("releasing savepoint: %w", err)
	}
	return true, nil
}

// propagateTx grants access to the subtree rooted at objectID with BFS along
// child edges. Children are enqueued only when the grant created a row, so
// already-shared subtrees (and cycles) are not re-explored; the in-memory
// visited set is an optimization on top of that correctness guarantee.
func (s *Store) propagateTx(
	ctx context.Context, tx *sql.Tx,
	objectID, groupID int64, reason model.AccessType, relatedObjectID, relatedUserID int64,
) error {
	visited := make(map[int64]bool)
	queue := []int64{objectID}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if visited[id] {
			continue
		}
		visited[id] = true

		created, err := s.grantTx(ctx, tx, id, groupID, reason, relatedObjectID, relatedUserID)
		if err != nil {
			return err
		}
		if !created {
			// Row existed already; whoever inserted it visits the subtree.
			continue
		}

		children, err := childIDs(ctx, tx, id)
		if err != nil {
			return err
		}
		queue = append(queue, children...)
	}
	return nil
}

// replayParentTx re-propagates every ACL row of the parent down the child
// subtree, preserving each row's original provenance. This is the sole
// mechanism by which late-added cross-links make previously private
// subtrees visible to new viewers.
func (s *Store) replayParentTx(ctx context.Context, tx *sql.Tx, childID, parentID int64) error {
	rows, err := tx.QueryContext(ctx, `
		SELECT group_id, reason_type, related_object_id, related_user_id
		FROM permissions WHERE object_id = ?`,
		parentID,
	)
	if err != nil {
		return fmt.Errorf("querying parent permissions: %w", err)
	}

	type perm struct {
		groupID         int64
		reason          string
		relatedObjectID sql.NullInt64
		relatedUserID   sql.NullInt64
	}
	var perms []perm
	for rows.Next() {
		var p perm
		if err := rows.Scan(&p.groupID, &p.reason, &p.relatedObjectID, &p.relatedUserID); err != nil {
			_ = rows.Close()
			return fmt.Errorf("scanning parent permission: %w", err)
		}
		perms = append(perms, p)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return fmt.Errorf("iterating parent permissions: %w", err)
	}
	// Release the connection before issuing the propagation writes.
	if err := rows.Close(); err != nil {
		return fmt.Errorf("closing parent permission rows: %w", err)
	}

	for _, p := range perms {
		err := s.propagateTx(ctx, tx, childID, p.groupID, model.AccessType(p.reason),
			nullID(p.relatedObjectID), nullID(p.relatedUserID))
		if err != nil {
			return err
		}
	}
	return nil
}

// Share grants a group access to the object subtree with recursive
// propagation, in one transaction.
func (s *Store) Share(
	ctx context.Context, dhash string, groupID int64, reason model.AccessType, relatedUserID int64,
) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("beginning transaction: %w", err)
	}
	defer rollback(tx)

	objectID, err := objectIDByDHash(ctx, tx, dhash)
	if err != nil {
		return false, err
	}

	created, err := s.grantTx(ctx, tx, objectID, groupID, reason, objectID, relatedUserID)
	if err != nil {
		return false, err
	}
	if created {
		children, err := childIDs(ctx, tx, objectID)
		if err != nil {
			return false, err
		}
		for _, child := range children {
			if err := s.propagateTx(ctx, tx, child, groupID, reason, objectID, relatedUserID); err != nil {
				return false, err
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("committing transaction: %w", err)
	}
	return created, nil
}

// ListShares returns the ACL rows of an object.
func (s *Store) ListShares(ctx context.Context, dhash string) ([]*model.ObjectPermission, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT p.object_id, p.group_id, p.access_time, p.reason_type,
		       p.related_object_id, p.related_user_id
		FROM permissions p
		JOIN objects o ON o.id = p.object_id
		WHERE o.dhash = ?
		ORDER BY p.access_time`,
		dhash,
	)
	if err != nil {
		return nil, fmt.Errorf("querying shares: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var perms []*model.ObjectPermission
	for rows.Next() {
		var (
			p               model.ObjectPermission
			accessTime      sql.NullString
			relatedObjectID sql.NullInt64
			relatedUserID   sql.NullInt64
			reason          string
		)
		if err := rows.Scan(&p.ObjectID, &p.GroupID, &accessTime, &reason,
			&relatedObjectID, &relatedUserID); err != nil {
			return nil, fmt.Errorf("scanning share row: %w", err)
		}
		if p.AccessTime, err = parseTime(accessTime); err != nil {
			return nil, err
		}
		p.ReasonType = model.AccessType(reason)
		p.RelatedObjectID = nullID(relatedObjectID)
		p.RelatedUserID = nullID(relatedUserID)
		perms = append(perms, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating share rows: %w", err)
	}
	return perms, nil
}

// ExplicitAccess reports whether an ACL row exists for any group the user
// is a member of.
func (s *Store) ExplicitAccess(ctx context.Context, userID, objectID int64) (bool, error) {
	var ok bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM permissions p
			JOIN members m ON m.group_id = p.group_id
			WHERE p.object_id = ? AND m.user_id = ?
		)`,
		objectID, userID,
	).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("checking explicit access: %w", err)
	}
	return ok, nil
}

// Visible returns the predicate restricting objects (alias "o") to those
// accessible by the user through group membership.
func (s *Store) Visible(userID int64) storage.Predicate {
	return storage.Predicate{
		SQL: `EXISTS (
			SELECT 1 FROM permissions p
			JOIN members m ON m.group_id = p.group_id
			WHERE p.object_id = o.id AND m.user_id = ?
		)`,
		Args: []any{userID},
	}
}

// VisibleAll returns the always-true predicate used for access_all_objects
// holders.
func (s *Store) VisibleAll() storage.Predicate {
	return storage.True()
}

// UploadedBy matches objects whose initial grant provenance names the user
// as uploader of the object itself.
func (s *Store) UploadedBy(userID int64) storage.Predicate {
	return storage.Predicate{
		SQL: `EXISTS (
			SELECT 1 FROM permissions p
			WHERE p.object_id = o.id
			  AND p.related_object_id = o.id
			  AND p.related_user_id = ?
		)`,
		Args: []any{userID},
	}
}

func permissionExists(ctx context.Context, tx *sql.Tx, objectID, groupID int64) (bool, error) {
	var exists bool
	err := tx.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM permissions WHERE object_id = ? AND group_id = ?)`,
		objectID, groupID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking permission existence: %w", err)
	}
	return exists, nil
}

func childIDs(ctx context.Context, tx *sql.Tx, parentID int64) ([]int64, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT child_id FROM relations WHERE parent_id = ? ORDER BY creation_time`,
		parentID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying children: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning child id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating child rows: %w", err)
	}
	return ids, nil
}

func objectIDByDHash(ctx context.Context, tx *sql.Tx, dhash string) (int64, error) {
	var id int64
	err := tx.QueryRowContext(ctx, `SELECT id FROM objects WHERE dhash = ?`, dhash).Scan(&id)
	if err != nil {
		if err == sql.ErrNoRows {
			return 0, storage.ErrNotFound
		}
		return 0, fmt.Errorf("resolving object by dhash: %w", err)
	}
	return id, nil
}
