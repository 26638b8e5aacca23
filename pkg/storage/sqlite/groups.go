package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/samplecove/samplecove/pkg/capabilities"
	"github.com/samplecove/samplecove/pkg/model"
	"github.com/samplecove/samplecove/pkg/storage"
)

// CreateGroup stores a new group, checking the name against both name spaces.
func (s *Store) CreateGroup(ctx context.Context, group *model.Group) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer rollback(tx)

	var clash bool
	err = tx.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM users WHERE login = ?)
		    OR EXISTS (SELECT 1 FROM groups WHERE name = ?)`,
		group.Name, group.Name,
	).Scan(&clash)
	if err != nil {
		return fmt.Errorf("checking name clash: %w", err)
	}
	if clash {
		return storage.ErrAlreadyExists
	}

	caps, err := encodeCapabilities(group.Capabilities)
	if err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx,
		`INSERT INTO groups (name, capabilities, private) VALUES (?, ?, ?)`,
		group.Name, caps, group.Private,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrAlreadyExists
		}
		return fmt.Errorf("inserting group: %w", err)
	}
	group.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("getting group id: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// GetGroupByName retrieves a group by name.
func (s *Store) GetGroupByName(ctx context.Context, name string) (*model.Group, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, capabilities, private FROM groups WHERE name = ?`, name)
	return scanGroup(row)
}

// ListGroups returns all groups.
func (s *Store) ListGroups(ctx context.Context) ([]*model.Group, error) {
	return s.queryGroups(ctx,
		`SELECT id, name, capabilities, private FROM groups ORDER BY name`)
}

// UpdateGroupCapabilities replaces the capability set of a group.
func (s *Store) UpdateGroupCapabilities(ctx context.Context, name string, caps []capabilities.Capability) error {
	encoded, err := encodeCapabilities(caps)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE groups SET capabilities = ? WHERE name = ?`, encoded, name)
	if err != nil {
		return fmt.Errorf("updating group capabilities: %w", err)
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

// AddMember adds a user to a group.
func (s *Store) AddMember(ctx context.Context, login, groupName string) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO members (user_id, group_id)
		SELECT u.id, g.id FROM users u, groups g WHERE u.login = ? AND g.name = ?`,
		login, groupName,
	)
	if err != nil {
		return fmt.Errorf("adding member: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if affected == 0 {
		// Either the pair is unknown or the membership already exists;
		// distinguish for the caller.
		var known bool
		err = s.db.QueryRowContext(ctx, `
			SELECT EXISTS (SELECT 1 FROM users WHERE login = ?)
			   AND EXISTS (SELECT 1 FROM groups WHERE name = ?)`,
			login, groupName,
		).Scan(&known)
		if err != nil {
			return fmt.Errorf("checking membership pair: %w", err)
		}
		if !known {
			return storage.ErrNotFound
		}
	}
	return nil
}

// RemoveMember removes a user from a group.
func (s *Store) RemoveMember(ctx context.Context, login, groupName string) error {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM members WHERE user_id = (SELECT id FROM users WHERE login = ?)
		  AND group_id = (SELECT id FROM groups WHERE name = ?)`,
		login, groupName,
	)
	if err != nil {
		return fmt.Errorf("removing member: %w", err)
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

// GroupMembers returns the logins of a group's members.
func (s *Store) GroupMembers(ctx context.Context, groupName string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT u.login FROM users u
		JOIN members m ON m.user_id = u.id
		JOIN groups g ON g.id = m.group_id
		WHERE g.name = ? ORDER BY u.login`,
		groupName,
	)
	if err != nil {
		return nil, fmt.Errorf("querying group members: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var logins []string
	for rows.Next() {
		var login string
		if err := rows.Scan(&login); err != nil {
			return nil, fmt.Errorf("scanning member row: %w", err)
		}
		logins = append(logins, login)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating member rows: %w", err)
	}
	return logins, nil
}

// UserGroups returns every group the user belongs to.
func (s *Store) UserGroups(ctx context.Context, userID int64) ([]*model.Group, error) {
	return s.queryGroups(ctx, `
		SELECT g.id, g.name, g.capabilities, g.private FROM groups g
		JOIN members m ON m.group_id = g.id
		WHERE m.user_id = ? ORDER BY g.name`,
		userID,
	)
}

// UserGroupsWithCapability returns the user's groups carrying the capability.
func (s *Store) UserGroupsWithCapability(
	ctx context.Context, userID int64, cap capabilities.Capability,
) ([]*model.Group, error) {
	return s.queryGroups(ctx, `
		SELECT g.id, g.name, g.capabilities, g.private FROM groups g
		JOIN members m ON m.group_id = g.id
		WHERE m.user_id = ?
		  AND EXISTS (SELECT 1 FROM json_each(g.capabilities) WHERE value = ?)
		ORDER BY g.name`,
		userID, string(cap),
	)
}

// GroupsWithCapability returns every group carrying the capability.
func (s *Store) GroupsWithCapability(
	ctx context.Context, cap capabilities.Capability,
) ([]*model.Group, error) {
	return s.queryGroups(ctx, `
		SELECT g.id, g.name, g.capabilities, g.private FROM groups g
		WHERE EXISTS (SELECT 1 FROM json_each(g.capabilities) WHERE value = ?)
		ORDER BY g.name`,
		string(cap),
	)
}

func (s *Store) queryGroups(ctx context.Context, query string, args ...any) ([]*model.Group, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying groups: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var groups []*model.Group
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating group rows: %w", err)
	}
	return groups, nil
}

func scanGroup(sc scanner) (*model.Group, error) {
	var (
		g    model.Group
		caps string
	)
	if err := sc.Scan(&g.ID, &g.Name, &caps, &g.Private); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("scanning group row: %w", err)
	}
	if err := json.Unmarshal([]byte(caps), &g.Capabilities); err != nil {
		return nil, fmt.Errorf("decoding capabilities: %w", err)
	}
	return &g, nil
}

func encodeCapabilities(caps []capabilities.Capability) (string, error) {
	if caps == nil {
		caps = []capabilities.Capability{}
	}
	data, err := json.Marshal(caps)
	if err != nil {
		return "", fmt.Errorf("encoding capabilities: %w", err)
	}
	return string(data), nil
}
