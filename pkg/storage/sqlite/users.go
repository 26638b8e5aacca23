package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/samplecove/samplecove/pkg/model"
	"github.com/samplecove/samplecove/pkg/storage"
)

// userColumns is the SELECT column list shared by user queries.
const userColumns = `u.id, u.login, u.email, u.password_hash, u.password_ver, u.identity_ver,
	u.version_uid, u.additional_info, u.disabled, u.pending, u.requested_on,
	u.registered_on, u.registered_by, u.logged_on, u.set_password_on, u.feed_quality`

// CreateUser stores a new user together with its private group and the
// public-group membership, atomically. The login is checked against both the
// user and group name spaces.
func (s *Store) CreateUser(ctx context.Context, user *model.User) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer rollback(tx)

	var clash bool
	err = tx.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM users WHERE login = ?)
		    OR EXISTS (SELECT 1 FROM groups WHERE name = ?)`,
		user.Login, user.Login,
	).Scan(&clash)
	if err != nil {
		return fmt.Errorf("checking name clash: %w", err)
	}
	if clash {
		return storage.ErrAlreadyExists
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO users (
			login, email, password_hash, password_ver, identity_ver, version_uid,
			additional_info, disabled, pending, requested_on, registered_on,
			registered_by, logged_on, set_password_on, feed_quality
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		user.Login, user.Email, user.PasswordHash, user.PasswordVer, user.IdentityVer,
		user.VersionUID, user.AdditionalInfo, user.Disabled, user.Pending,
		fmtTime(user.RequestedOn), fmtTime(user.RegisteredOn), idArg(user.RegisteredBy),
		fmtTime(user.LoggedOn), fmtTime(user.SetPasswordOn), user.FeedQuality,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrAlreadyExists
		}
		return fmt.Errorf("inserting user: %w", err)
	}
	userID, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("getting user id: %w", err)
	}

	res, err = tx.ExecContext(ctx,
		`INSERT INTO groups (name, capabilities, private) VALUES (?, '[]', 1)`,
		user.Login,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrAlreadyExists
		}
		return fmt.Errorf("inserting private group: %w", err)
	}
	privateGroupID, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("getting private group id: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO members (user_id, group_id) VALUES (?, ?)`,
		userID, privateGroupID,
	); err != nil {
		return fmt.Errorf("joining private group: %w", err)
	}

	// Every user joins the public group immediately, pending or not.
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO members (user_id, group_id)
		SELECT ?, id FROM groups WHERE name = ?`,
		userID, model.PublicGroupName,
	); err != nil {
		return fmt.Errorf("joining public group: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}

	user.ID = userID
	return nil
}

// GetUserByLogin retrieves a user by login.
func (s *Store) GetUserByLogin(ctx context.Context, login string) (*model.User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users u WHERE u.login = ?`, login)
	return scanUser(row)
}

// ListUsers returns users, optionally filtered by pending state.
func (s *Store) ListUsers(ctx context.Context, pending *bool) ([]*model.User, error) {
	query := `SELECT ` + userColumns + ` FROM users u`
	var args []any
	if pending != nil {
		query += ` WHERE u.pending = ?`
		args = append(args, *pending)
	}
	query += ` ORDER BY u.login`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying users: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var users []*model.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating user rows: %w", err)
	}
	return users, nil
}

// UpdateUser persists mutable user fields.
func (s *Store) UpdateUser(ctx context.Context, user *model.User) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET
			email = ?, password_hash = ?, password_ver = ?, identity_ver = ?,
			additional_info = ?, disabled = ?, pending = ?, registered_on = ?,
			registered_by = ?, logged_on = ?, set_password_on = ?, feed_quality = ?
		WHERE id = ?`,
		user.Email, user.PasswordHash, user.PasswordVer, user.IdentityVer,
		user.AdditionalInfo, user.Disabled, user.Pending, fmtTime(user.RegisteredOn),
		idArg(user.RegisteredBy), fmtTime(user.LoggedOn), fmtTime(user.SetPasswordOn),
		user.FeedQuality, user.ID,
	)
	if err != nil {
		return fmt.Errorf("updating user: %w", err)
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

// DeleteUser removes a user and its private group (rejection path).
// Membership rows cascade with both sides.
func (s *Store) DeleteUser(ctx context.Context, login string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer rollback(tx)

	res, err := tx.ExecContext(ctx, `DELETE FROM users WHERE login = ?`, login)
	if err != nil {
		return fmt.Errorf("deleting user: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM groups WHERE name = ? AND private = 1`, login,
	); err != nil {
		return fmt.Errorf("deleting private group: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func scanUser(sc scanner) (*model.User, error) {
	var (
		u             model.User
		requestedOn   sql.NullString
		registeredOn  sql.NullString
		registeredBy  sql.NullInt64
		loggedOn      sql.NullString
		setPasswordOn sql.NullString
	)
	err := sc.Scan(
		&u.ID, &u.Login, &u.Email, &u.PasswordHash, &u.PasswordVer, &u.IdentityVer,
		&u.VersionUID, &u.AdditionalInfo, &u.Disabled, &u.Pending, &requestedOn,
		&registeredOn, &registeredBy, &loggedOn, &setPasswordOn, &u.FeedQuality,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("scanning user row: %w", err)
	}

	u.RegisteredBy = nullID(registeredBy)
	if u.RequestedOn, err = parseTime(requestedOn); err != nil {
		return nil, err
	}
	if u.RegisteredOn, err = parseTime(registeredOn); err != nil {
		return nil, err
	}
	if u.LoggedOn, err = parseTime(loggedOn); err != nil {
		return nil, err
	}
	if u.SetPasswordOn, err = parseTime(setPasswordOn); err != nil {
		return nil, err
	}
	return &u, nil
}

// scanner is an interface satisfied by both *sql.Row and *sql.Rows.
type scanner interface{ Scan(dest ...any) error }
