// Copyright (C) 2026 Seiscenter, Inc.
// See LICENSE for copying information.

// Package index defines the metadata index: one durable record per
// submitted station document, and the conditional-transition contract
// that makes concurrent lifecycle daemons safe.
package index

import (
	"context"
	"time"

	"github.com/zeebo/errs"

	"storj.io/common/uuid"
)

var (
	// Error is the default index error class.
	Error = errs.Class("index")
	// ErrNotFound is returned when no record matches a lookup.
	ErrNotFound = errs.Class("record not found")
	// ErrDuplicateActive is returned by Insert when an equal-hash record
	// exists that has not been rejected or retired.
	ErrDuplicateActive = errs.Class("duplicate active record")
	// ErrConflict is returned by Transition when the record is no longer
	// in the expected state.
	ErrConflict = errs.Class("status conflict")
)

// Network identifies a seismic network by its FDSN code and the start
// of its validity window. End is nil for open-ended networks.
type Network struct {
	Code  string
	Start time.Time
	End   *time.Time
}

// SameIdentity reports whether two networks share (code, start).
func (net Network) SameIdentity(other Network) bool {
	return net.Code == other.Code && net.Start.Equal(other.Start)
}

// SameEnd reports whether both networks end at the same instant, or
// both are open ended.
func (net Network) SameEnd(other Network) bool {
	if net.End == nil || other.End == nil {
		return net.End == nil && other.End == nil
	}
	return net.End.Equal(*other.End)
}

// Record is one submission in the metadata index.
type Record struct {
	ID           uuid.UUID
	Network      Network
	Station      string
	Hash         string
	Path         string
	ChannelCount int
	Size         int64
	SubmitterID  uuid.UUID
	Status       Status
	Error        string
	Created      time.Time
	Modified     time.Time
	Available    *time.Time
}

// TransitionFields carries the optional columns a transition may set.
// Error always overwrites the stored value, so a forward transition
// clears a stale reason.
type TransitionFields struct {
	Error     string
	Available *time.Time
}

// Claim is a record held under a per-record advisory lock. The holder
// must call Release when done, whether or not the record was moved.
type Claim struct {
	Record  Record
	release func()
}

// NewClaim wraps a record with its lock release. Intended for DB
// implementations.
func NewClaim(record Record, release func()) *Claim {
	return &Claim{Record: record, release: release}
}

// Release returns the record to the claimable pool.
func (claim *Claim) Release() {
	if claim.release != nil {
		claim.release()
		claim.release = nil
	}
}

// DB is the durable metadata index.
//
// architecture: Database
type DB interface {
	// Insert adds a new record. It fails with ErrDuplicateActive when an
	// active record with the same hash exists.
	Insert(ctx context.Context, record Record) error
	// Get returns the record with the given id.
	Get(ctx context.Context, id uuid.UUID) (Record, error)
	// GetByHash returns the most recently created record with the hash.
	GetByHash(ctx context.Context, hash string) (Record, error)
	// FindLatest returns the most recently created record for the
	// station, regardless of status.
	FindLatest(ctx context.Context, network Network, station string) (Record, error)
	// ClaimNext returns one record whose status is among the given ones,
	// preferring the oldest modified, under a per-record advisory lock so
	// concurrent daemons cannot dispatch the same record. It returns
	// ErrNotFound when nothing is claimable.
	ClaimNext(ctx context.Context, statuses ...Status) (*Claim, error)
	// Transition conditionally moves a record from one status to another,
	// stamping Modified. It fails with ErrConflict when the current
	// status differs from the expected one.
	Transition(ctx context.Context, id uuid.UUID, from, to Status, fields TransitionFields) error
	// ListStation returns the full history for a station, newest first.
	ListStation(ctx context.Context, network Network, station string) ([]Record, error)
	// History returns the full history for a station addressed by bare
	// network code, newest first.
	History(ctx context.Context, networkCode, station string) ([]Record, error)
	// ListByStatus returns every record currently in the given status,
	// oldest modified first.
	ListByStatus(ctx context.Context, status Status) ([]Record, error)
	// LatestPerStation returns, for every station of the network code,
	// the most recently created record.
	LatestPerStation(ctx context.Context, networkCode string) ([]Record, error)
	// AcceptedSet returns, per station, the latest record whose status is
	// ACCEPTED or COMPLETED. It is the published inventory.
	AcceptedSet(ctx context.Context) ([]Record, error)
	// CountByHash returns how many records reference the hash.
	CountByHash(ctx context.Context, hash string) (int, error)
	// Delete removes a record row entirely. Only records already in
	// DELETED may be removed.
	Delete(ctx context.Context, id uuid.UUID) error
}
