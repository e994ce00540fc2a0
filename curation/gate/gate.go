// Copyright (C) 2026 Seiscenter, Inc.
// See LICENSE for copying information.

// Package gate authorizes submitted artifacts against the submitter's
// prototype binding and the active network prototype.
package gate

import (
	"context"

	"github.com/zeebo/errs"

	"github.com/seiscenter/metad/curation/prototypes"
	"github.com/seiscenter/metad/curation/stationxml"
	"github.com/seiscenter/metad/curation/users"
)

// Authorization failure kinds.
var (
	// ErrForbidden is returned when the submitter is not allowed to
	// submit for the artifact's network.
	ErrForbidden = errs.Class("Forbidden")
	// ErrPrototypeMissing is returned when the network has no active
	// prototype.
	ErrPrototypeMissing = errs.Class("PrototypeMissing")
	// ErrPrototypeConflictEnd is returned when the artifact's network end
	// contradicts the active prototype.
	ErrPrototypeConflictEnd = errs.Class("PrototypeConflictEnd")
	// ErrPrototypeConflictRestricted is returned when the artifact's
	// restricted flag contradicts the active prototype.
	ErrPrototypeConflictRestricted = errs.Class("PrototypeConflictRestricted")
)

// Gate checks submissions before they enter the pipeline.
type Gate struct {
	prototypes *prototypes.Service
}

// New creates a gate over the prototype registry.
func New(prototypes *prototypes.Service) *Gate {
	return &Gate{prototypes: prototypes}
}

// Authorize admits the artifact when the submitter is an admin or is
// bound to the artifact's network prototype, and the artifact's end
// and restricted attributes match the active prototype. It never
// touches the index.
func (gate *Gate) Authorize(ctx context.Context, user users.User, artifact stationxml.Artifact) error {
	if !user.IsAdmin() {
		binding := user.Prototype
		if binding == nil ||
			binding.Code != artifact.Network.Code ||
			!binding.Start.Equal(artifact.Network.Start) {
			return ErrForbidden.New("user %s may not submit for network %s", user.Name, artifact.Network.Code)
		}
	}

	proto, err := gate.prototypes.Active(ctx, artifact.Network.Code, artifact.Network.Start)
	if err != nil {
		if prototypes.ErrNotFound.Has(err) {
			return ErrPrototypeMissing.New("network %s", artifact.Network.Code)
		}
		return err
	}
	return CheckPrototype(proto, artifact)
}

// CheckPrototype verifies that the artifact's network attributes agree
// with the prototype. The lifecycle daemon re-runs this during
// validation, so a prototype change after intake is still caught.
func CheckPrototype(proto prototypes.Prototype, artifact stationxml.Artifact) error {
	if !proto.Network.SameEnd(artifact.Network) {
		return ErrPrototypeConflictEnd.New("network %s", artifact.Network.Code)
	}
	if proto.Restricted != artifact.Restricted {
		return ErrPrototypeConflictRestricted.New("network %s", artifact.Network.Code)
	}
	return nil
}
