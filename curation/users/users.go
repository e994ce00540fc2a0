// Copyright (C) 2026 Seiscenter, Inc.
// See LICENSE for copying information.

// Package users holds the submitter accounts and their sessions.
// Operators are bound to a single network prototype; admins may act on
// any network.
package users

import (
	"context"
	"time"

	"github.com/zeebo/errs"

	"storj.io/common/uuid"
)

var (
	// Error is the default users error class.
	Error = errs.Class("users")
	// ErrNotFound is returned when no user or session matches.
	ErrNotFound = errs.Class("user not found")
	// ErrBadCredentials is returned on a failed authentication attempt.
	ErrBadCredentials = errs.Class("bad credentials")
	// ErrSessionExpired is returned for sessions past their expiry.
	ErrSessionExpired = errs.Class("session expired")
)

// Role determines what a user may submit and view.
type Role int

// Wire-stable role values.
const (
	RoleAdmin    Role = 1
	RoleOperator Role = 2
)

// Binding is the single (network code, start) an operator may submit
// metadata for.
type Binding struct {
	Code  string
	Start time.Time
}

// User is a submitter account.
type User struct {
	ID        uuid.UUID
	Name      string
	Role      Role
	Prototype *Binding
}

// IsAdmin reports whether the user has the admin role.
func (user User) IsAdmin() bool { return user.Role == RoleAdmin }

// Session is an authenticated browser session.
type Session struct {
	Token   string
	UserID  uuid.UUID
	Expires time.Time
}

// DB stores users and their sessions.
//
// architecture: Database
type DB interface {
	// Create adds a user with the given password.
	Create(ctx context.Context, user User, password string) error
	// Get returns the user with the id.
	Get(ctx context.Context, id uuid.UUID) (User, error)
	// GetByName returns the user with the name.
	GetByName(ctx context.Context, name string) (User, error)
	// Authenticate checks the password and returns the user.
	Authenticate(ctx context.Context, name, password string) (User, error)
	// ListAdmins returns every user with the admin role.
	ListAdmins(ctx context.Context) ([]User, error)

	// CreateSession stores a new session.
	CreateSession(ctx context.Context, session Session) error
	// GetSession resolves a session token to its user, rejecting
	// expired sessions.
	GetSession(ctx context.Context, token string, now time.Time) (User, error)
	// DeleteSession removes a session.
	DeleteSession(ctx context.Context, token string) error
}
