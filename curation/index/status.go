// Copyright (C) 2026 Seiscenter, Inc.
// See LICENSE for copying information.

package index

// Status describes where a submitted document is in its lifecycle.
//
// The integer values are stable: they are stored in the database and
// served over the wire to the UI.
type Status int

// Lifecycle states. The forward path is
// PENDING -> VALIDATED -> CONVERTED -> ACCEPTED -> COMPLETED;
// REJECTED, SUPERSEDED and DELETED are terminal.
const (
	StatusSuperseded Status = -3
	StatusDeleted    Status = -2
	StatusRejected   Status = -1
	StatusUnchanged  Status = 0
	StatusPending    Status = 1
	StatusValidated  Status = 2
	StatusConverted  Status = 3
	StatusAccepted   Status = 4
	StatusCompleted  Status = 5
)

// String returns the lowercase name of the status.
func (status Status) String() string {
	switch status {
	case StatusSuperseded:
		return "superseded"
	case StatusDeleted:
		return "deleted"
	case StatusRejected:
		return "rejected"
	case StatusUnchanged:
		return "unchanged"
	case StatusPending:
		return "pending"
	case StatusValidated:
		return "validated"
	case StatusConverted:
		return "converted"
	case StatusAccepted:
		return "accepted"
	case StatusCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// Active reports whether a record in this status still holds its hash:
// inserting another record with the same hash is refused while an
// active one exists.
func (status Status) Active() bool {
	switch status {
	case StatusSuperseded, StatusDeleted, StatusRejected:
		return false
	}
	return true
}

// Retired reports whether the record has been taken out of the
// pipeline by the supersession resolver.
func (status Status) Retired() bool {
	return status == StatusSuperseded || status == StatusDeleted
}

// InFlight reports whether the record is on the forward path but not
// yet confirmed public.
func (status Status) InFlight() bool {
	switch status {
	case StatusPending, StatusValidated, StatusConverted, StatusAccepted:
		return true
	}
	return false
}
