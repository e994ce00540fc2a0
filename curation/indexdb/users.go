// Copyright (C) 2026 Seiscenter, Inc.
// See LICENSE for copying information.

package indexdb

import (
	"context"
	"crypto/subtle"
	"database/sql"
	"errors"
	"time"

	"github.com/zeebo/errs"

	"storj.io/common/uuid"

	"github.com/seiscenter/metad/curation/users"
)

// ensures that usersDB implements users.DB.
var _ users.DB = (*usersDB)(nil)

// usersDB is the sqlite user and session collection.
type usersDB DB

// Create adds a user with the given password.
func (db *usersDB) Create(ctx context.Context, user users.User, password string) (err error) {
	defer mon.Task()(&ctx)(&err)

	var protoCode, protoStart any
	if user.Prototype != nil {
		protoCode = user.Prototype.Code
		protoStart = encodeTime(user.Prototype.Start)
	}
	_, err = db.db.ExecContext(ctx,
		`INSERT INTO users (id, name, password, role, proto_code, proto_start) VALUES (?, ?, ?, ?, ?, ?)`,
		user.ID.String(), user.Name, password, int(user.Role), protoCode, protoStart)
	return users.Error.Wrap(err)
}

// Get returns the user with the id.
func (db *usersDB) Get(ctx context.Context, id uuid.UUID) (_ users.User, err error) {
	defer mon.Task()(&ctx)(&err)

	row := db.db.QueryRowContext(ctx,
		`SELECT id, name, role, proto_code, proto_start FROM users WHERE id = ?`, id.String())
	user, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return users.User{}, users.ErrNotFound.New("id %s", id)
	}
	return user, users.Error.Wrap(err)
}

// GetByName returns the user with the name.
func (db *usersDB) GetByName(ctx context.Context, name string) (_ users.User, err error) {
	defer mon.Task()(&ctx)(&err)

	row := db.db.QueryRowContext(ctx,
		`SELECT id, name, role, proto_code, proto_start FROM users WHERE name = ?`, name)
	user, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return users.User{}, users.ErrNotFound.New("name %s", name)
	}
	return user, users.Error.Wrap(err)
}

// Authenticate checks the password and returns the user.
func (db *usersDB) Authenticate(ctx context.Context, name, password string) (_ users.User, err error) {
	defer mon.Task()(&ctx)(&err)

	var stored string
	err = db.db.QueryRowContext(ctx,
		`SELECT password FROM users WHERE name = ?`, name).Scan(&stored)
	if errors.Is(err, sql.ErrNoRows) {
		return users.User{}, users.ErrBadCredentials.New("unknown user")
	}
	if err != nil {
		return users.User{}, users.Error.Wrap(err)
	}
	if subtle.ConstantTimeCompare([]byte(stored), []byte(password)) != 1 {
		return users.User{}, users.ErrBadCredentials.New("wrong password")
	}
	return db.GetByName(ctx, name)
}

// ListAdmins returns every user with the admin role.
func (db *usersDB) ListAdmins(ctx context.Context) (admins []users.User, err error) {
	defer mon.Task()(&ctx)(&err)

	rows, err := db.db.QueryContext(ctx,
		`SELECT id, name, role, proto_code, proto_start FROM users WHERE role = ? ORDER BY name ASC`,
		int(users.RoleAdmin))
	if err != nil {
		return nil, users.Error.Wrap(err)
	}
	defer func() { err = errs.Combine(err, rows.Err(), rows.Close()) }()

	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, users.Error.Wrap(err)
		}
		admins = append(admins, user)
	}
	return admins, nil
}

// CreateSession stores a new session.
func (db *usersDB) CreateSession(ctx context.Context, session users.Session) (err error) {
	defer mon.Task()(&ctx)(&err)

	_, err = db.db.ExecContext(ctx,
		`INSERT INTO sessions (token, user_id, expires) VALUES (?, ?, ?)`,
		session.Token, session.UserID.String(), encodeTime(session.Expires))
	return users.Error.Wrap(err)
}

// GetSession resolves a session token to its user.
func (db *usersDB) GetSession(ctx context.Context, token string, now time.Time) (_ users.User, err error) {
	defer mon.Task()(&ctx)(&err)

	var userID, expires string
	err = db.db.QueryRowContext(ctx,
		`SELECT user_id, expires FROM sessions WHERE token = ?`, token).Scan(&userID, &expires)
	if errors.Is(err, sql.ErrNoRows) {
		return users.User{}, users.ErrNotFound.New("no such session")
	}
	if err != nil {
		return users.User{}, users.Error.Wrap(err)
	}
	expiry, err := decodeTime(expires)
	if err != nil {
		return users.User{}, users.Error.Wrap(err)
	}
	if now.After(expiry) {
		return users.User{}, users.ErrSessionExpired.New("expired at %s", expiry.Format(time.RFC3339))
	}
	id, err := uuid.FromString(userID)
	if err != nil {
		return users.User{}, users.Error.Wrap(err)
	}
	return db.Get(ctx, id)
}

// DeleteSession removes a session.
func (db *usersDB) DeleteSession(ctx context.Context, token string) (err error) {
	defer mon.Task()(&ctx)(&err)

	_, err = db.db.ExecContext(ctx, `DELETE FROM sessions WHERE token = ?`, token)
	return users.Error.Wrap(err)
}

func scanUser(row scanner) (user users.User, err error) {
	var (
		id                    string
		role                  int
		protoCode, protoStart sql.NullString
	)
	err = row.Scan(&id, &user.Name, &role, &protoCode, &protoStart)
	if err != nil {
		return users.User{}, err
	}

	user.ID, err = uuid.FromString(id)
	if err != nil {
		return users.User{}, err
	}
	user.Role = users.Role(role)
	if protoCode.Valid && protoStart.Valid {
		start, err := decodeTime(protoStart.String)
		if err != nil {
			return users.User{}, err
		}
		user.Prototype = &users.Binding{Code: protoCode.String, Start: start}
	}
	return user, nil
}
