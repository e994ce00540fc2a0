// Copyright (C) 2026 Seiscenter, Inc.
// See LICENSE for copying information.

// Package prototypes keeps the authoritative network definitions that
// submissions are validated against.
package prototypes

import (
	"context"
	"time"

	"github.com/zeebo/errs"

	"github.com/seiscenter/metad/curation/index"
)

var (
	// Error is the default prototypes error class.
	Error = errs.Class("prototypes")
	// ErrNotFound is returned when no prototype matches a lookup.
	ErrNotFound = errs.Class("prototype not found")
)

// Prototype is the authoritative definition for a network. Only the
// newest prototype per (code, start) is active; older ones remain
// queryable for audit.
type Prototype struct {
	Network     index.Network
	Restricted  bool
	Description string
	Hash        string
	Created     time.Time
}

// DB stores network prototypes.
//
// architecture: Database
type DB interface {
	// Insert adds a prototype. Hashes are unique; inserting a known hash
	// fails.
	Insert(ctx context.Context, proto Prototype) error
	// GetByHash returns the prototype with the hash.
	GetByHash(ctx context.Context, hash string) (Prototype, error)
	// Active returns the newest prototype for the network identity.
	Active(ctx context.Context, code string, start time.Time) (Prototype, error)
	// List returns every stored prototype, newest first.
	List(ctx context.Context) ([]Prototype, error)
}
