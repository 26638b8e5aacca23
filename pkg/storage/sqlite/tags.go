package sqlite

import (
	"context"
	"fmt"
)

// AddTag tags an object, creating the dictionary entry when needed. Reports
// whether the object gained the tag.
func (s *Store) AddTag(ctx context.Context, objectID int64, tag string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("beginning transaction: %w", err)
	}
	defer rollback(tx)

	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO tags (tag) VALUES (?)`, tag,
	); err != nil {
		return false, fmt.Errorf("inserting tag dictionary entry: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO object_tags (object_id, tag_id)
		SELECT ?, id FROM tags WHERE tag = ?`,
		objectID, tag,
	)
	if err != nil {
		return false, fmt.Errorf("tagging object: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("checking rows affected: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("committing transaction: %w", err)
	}
	return affected > 0, nil
}

// RemoveTag untags an object. The dictionary entry stays so autocompletion
// keeps working. Reports whether the tag was present.
func (s *Store) RemoveTag(ctx context.Context, objectID int64, tag string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM object_tags
		WHERE object_id = ? AND tag_id = (SELECT id FROM tags WHERE tag = ?)`,
		objectID, tag,
	)
	if err != nil {
		return false, fmt.Errorf("untagging object: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("checking rows affected: %w", err)
	}
	return affected > 0, nil
}

// ListTags returns an object's tags.
func (s *Store) ListTags(ctx context.Context, objectID int64) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT t.tag FROM tags t
		JOIN object_tags ot ON ot.tag_id = t.id
		WHERE ot.object_id = ? ORDER BY t.tag`,
		objectID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying tags: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var tags []string
	for rows.Next() {
		var tag string
		if err := rows.Scan(&tag); err != nil {
			return nil, fmt.Errorf("scanning tag row: %w", err)
		}
		tags = append(tags, tag)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating tag rows: %w", err)
	}
	return tags, nil
}
