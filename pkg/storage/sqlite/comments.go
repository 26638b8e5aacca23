package sqlite

import (
	"context"
	"fmt"

	"github.com/samplecove/samplecove/pkg/model"
	"github.com/samplecove/samplecove/pkg/storage"
)

// AddComment attaches a comment to an object.
func (s *Store) AddComment(ctx context.Context, comment *model.Comment) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO comments (comment, object_id, user_id) VALUES (?, ?, ?)`,
		comment.Comment, comment.ObjectID, comment.UserID,
	)
	if err != nil {
		return fmt.Errorf("inserting comment: %w", err)
	}
	if comment.ID, err = res.LastInsertId(); err != nil {
		return fmt.Errorf("getting comment id: %w", err)
	}
	err = s.db.QueryRowContext(ctx,
		`SELECT timestamp FROM comments WHERE id = ?`, comment.ID,
	).Scan(&timeField{&comment.Timestamp})
	if err != nil {
		return fmt.Errorf("reading comment timestamp: %w", err)
	}
	return nil
}

// ListComments returns an object's comments with author logins, oldest first.
func (s *Store) ListComments(ctx context.Context, objectID int64) ([]*model.Comment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.comment, c.timestamp, c.object_id, c.user_id, u.login
		FROM comments c
		JOIN users u ON u.id = c.user_id
		WHERE c.object_id = ?
		ORDER BY c.id`,
		objectID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying comments: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var comments []*model.Comment
	for rows.Next() {
		var c model.Comment
		err := rows.Scan(&c.ID, &c.Comment, &timeField{&c.Timestamp},
			&c.ObjectID, &c.UserID, &c.Author)
		if err != nil {
			return nil, fmt.Errorf("scanning comment row: %w", err)
		}
		comments = append(comments, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating comment rows: %w", err)
	}
	return comments, nil
}

// DeleteComment removes a comment from an object. The object id guards
// against deleting a comment through the wrong object.
func (s *Store) DeleteComment(ctx context.Context, objectID, commentID int64) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM comments WHERE id = ? AND object_id = ?`, commentID, objectID)
	if err != nil {
		return fmt.Errorf("deleting comment: %w", err)
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
