// Copyright (C) 2026 Seiscenter, Inc.
// See LICENSE for copying information.

// Package supersede retires prior records of a station when a newer
// submission is accepted, preserving publication provenance.
package supersede

import (
	"context"

	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"github.com/seiscenter/metad/curation/index"
)

var (
	// Error is the default supersede error class.
	Error = errs.Class("supersede")

	mon = monkit.Package()
)

// Resolver decides, per record, whether retirement means DELETED or
// SUPERSEDED.
type Resolver struct {
	log   *zap.Logger
	files index.DB
}

// NewResolver creates a resolver over the index.
func NewResolver(log *zap.Logger, files index.DB) *Resolver {
	return &Resolver{log: log, files: files}
}

// Supersede retires every other record of the accepted record's
// station. Records that were never public are DELETED; COMPLETED
// records were public and become SUPERSEDED. Each step is an
// idempotent conditional transition, so partial progress is safe and
// conflicts mean another worker already moved the record.
func (resolver *Resolver) Supersede(ctx context.Context, accepted index.Record) (err error) {
	defer mon.Task()(&ctx)(&err)

	history, err := resolver.files.ListStation(ctx, accepted.Network, accepted.Station)
	if err != nil {
		return Error.Wrap(err)
	}

	var group errs.Group
	for _, record := range history {
		if record.ID == accepted.ID {
			continue
		}
		if err := resolver.Retire(ctx, record); err != nil {
			group.Add(err)
		}
	}
	return Error.Wrap(group.Err())
}

// Retire retires a single record using the supersession
// classification. Already retired records are left alone.
func (resolver *Resolver) Retire(ctx context.Context, record index.Record) (err error) {
	defer mon.Task()(&ctx)(&err)

	if record.Status.Retired() {
		return nil
	}

	target := index.StatusDeleted
	if record.Status == index.StatusCompleted {
		target = index.StatusSuperseded
	}

	err = resolver.files.Transition(ctx, record.ID, record.Status, target, index.TransitionFields{})
	if err != nil {
		if index.ErrConflict.Has(err) {
			resolver.log.Debug("record moved concurrently, skipping retirement",
				zap.Stringer("id", record.ID),
				zap.Stringer("status", record.Status))
			return nil
		}
		return Error.Wrap(err)
	}

	resolver.log.Info("record retired",
		zap.Stringer("id", record.ID),
		zap.String("network", record.Network.Code),
		zap.String("station", record.Station),
		zap.Stringer("from", record.Status),
		zap.Stringer("to", target))
	return nil
}
