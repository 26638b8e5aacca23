package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/samplecove/samplecove/pkg/model"
	"github.com/samplecove/samplecove/pkg/storage"
)

// CreateAPIKey stores a new API key.
func (s *Store) CreateAPIKey(ctx context.Context, key *model.APIKey) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO api_keys (id, user_id, issued_by) VALUES (?, ?, ?)`,
		key.ID, key.UserID, idArg(key.IssuedBy),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrAlreadyExists
		}
		return fmt.Errorf("inserting api key: %w", err)
	}

	err = s.db.QueryRowContext(ctx,
		`SELECT issued_on FROM api_keys WHERE id = ?`, key.ID,
	).Scan(&timeField{&key.IssuedOn})
	if err != nil {
		return fmt.Errorf("reading back api key: %w", err)
	}
	return nil
}

// GetAPIKey retrieves an API key by id.
func (s *Store) GetAPIKey(ctx context.Context, id string) (*model.APIKey, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, issued_on, issued_by FROM api_keys WHERE id = ?`, id)
	return scanAPIKey(row)
}

// ListAPIKeys returns all API keys issued to a user.
func (s *Store) ListAPIKeys(ctx context.Context, userID int64) ([]*model.APIKey, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, issued_on, issued_by FROM api_keys
		 WHERE user_id = ? ORDER BY issued_on`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying api keys: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var keys []*model.APIKey
	for rows.Next() {
		k, err := scanAPIKey(rows)
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating api key rows: %w", err)
	}
	return keys, nil
}

// DeleteAPIKey revokes an API key.
func (s *Store) DeleteAPIKey(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM api_keys WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting api key: %w", err)
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

func scanAPIKey(sc scanner) (*model.APIKey, error) {
	var (
		k        model.APIKey
		issuedOn sql.NullString
		issuedBy sql.NullInt64
	)
	if err := sc.Scan(&k.ID, &k.UserID, &issuedOn, &issuedBy); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("scanning api key row: %w", err)
	}
	var err error
	if k.IssuedOn, err = parseTime(issuedOn); err != nil {
		return nil, err
	}
	k.IssuedBy = nullID(issuedBy)
	return &k, nil
}
