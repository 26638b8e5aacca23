package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/samplecove/samplecove/pkg/model"
	"github.com/samplecove/samplecove/pkg/storage"
)

// DefineAttribute declares an attribute key.
func (s *Store) DefineAttribute(ctx context.Context, def *model.AttributeDefinition) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO attribute_definitions (key, label, description, url_template, hidden)
		VALUES (?, ?, ?, ?, ?)`,
		def.Key, def.Label, def.Description, def.URLTemplate, def.Hidden,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrAlreadyExists
		}
		return fmt.Errorf("inserting attribute definition: %w", err)
	}
	return nil
}

// GetAttributeDefinition retrieves an attribute definition.
func (s *Store) GetAttributeDefinition(ctx context.Context, key string) (*model.AttributeDefinition, error) {
	var def model.AttributeDefinition
	err := s.db.QueryRowContext(ctx, `
		SELECT key, label, description, url_template, hidden
		FROM attribute_definitions WHERE key = ?`, key,
	).Scan(&def.Key, &def.Label, &def.Description, &def.URLTemplate, &def.Hidden)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("scanning attribute definition: %w", err)
	}
	return &def, nil
}

// SetAttributePermission grants a group read/set rights on a key, replacing
// any previous grant for the pair.
func (s *Store) SetAttributePermission(ctx context.Context, perm *model.AttributePermission) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO attribute_permissions (key, group_id, can_read, can_set)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (key, group_id) DO UPDATE SET can_read = excluded.can_read, can_set = excluded.can_set`,
		perm.Key, perm.GroupID, perm.CanRead, perm.CanSet,
	)
	if err != nil {
		return fmt.Errorf("setting attribute permission: %w", err)
	}
	return nil
}

// CanSetAttribute reports whether the user may set the key through a group
// holding can_set.
func (s *Store) CanSetAttribute(ctx context.Context, userID int64, key string) (bool, error) {
	var ok bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM attribute_permissions ap
			JOIN members m ON m.group_id = ap.group_id
			WHERE ap.key = ? AND ap.can_set = 1 AND m.user_id = ?
		)`,
		key, userID,
	).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("checking attribute set permission: %w", err)
	}
	return ok, nil
}

// AddAttribute attaches a key/value pair to an object idempotently. Reports
// whether the pair was new. The key must be defined.
func (s *Store) AddAttribute(ctx context.Context, objectID int64, key, value string) (bool, error) {
	var defined bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM attribute_definitions WHERE key = ?)`, key,
	).Scan(&defined)
	if err != nil {
		return false, fmt.Errorf("checking attribute definition: %w", err)
	}
	if !defined {
		return false, storage.ErrNotFound
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO attributes (object_id, key, value) VALUES (?, ?, ?)`,
		objectID, key, value,
	)
	if err != nil {
		return false, fmt.Errorf("inserting attribute: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("checking rows affected: %w", err)
	}
	return affected > 0, nil
}

// ListAttributes returns an object's attributes. Unless bypassACL, only keys
// readable through one of the user's groups are returned; hidden definitions
// are elided unless showHidden.
func (s *Store) ListAttributes(
	ctx context.Context, objectID, userID int64, bypassACL, showHidden bool,
) ([]*model.Attribute, error) {
	query := `
		SELECT a.id, a.object_id, a.key, a.value FROM attributes a
		JOIN attribute_definitions d ON d.key = a.key
		WHERE a.object_id = ?`
	args := []any{objectID}
	if !bypassACL {
		query += `
		  AND EXISTS (
			SELECT 1 FROM attribute_permissions ap
			JOIN members m ON m.group_id = ap.group_id
			WHERE ap.key = a.key AND ap.can_read = 1 AND m.user_id = ?
		  )`
		args = append(args, userID)
	}
	if !showHidden {
		query += ` AND d.hidden = 0`
	}
	query += ` ORDER BY a.key, a.value`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying attributes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var attrs []*model.Attribute
	for rows.Next() {
		var a model.Attribute
		if err := rows.Scan(&a.ID, &a.ObjectID, &a.Key, &a.Value); err != nil {
			return nil, fmt.Errorf("scanning attribute row: %w", err)
		}
		attrs = append(attrs, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating attribute rows: %w", err)
	}
	return attrs, nil
}

// RemoveAttribute detaches all values of a key from an object.
func (s *Store) RemoveAttribute(ctx context.Context, objectID int64, key string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM attributes WHERE object_id = ? AND key = ?`, objectID, key)
	if err != nil {
		return fmt.Errorf("deleting attributes: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}
