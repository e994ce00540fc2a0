// Copyright (C) 2026 Seiscenter, Inc.
// See LICENSE for copying information.

// Package metad implements the lifecycle daemon: it claims staged
// records and moves each through validate, convert, merge and accept,
// and purges retired ones.
package metad

import (
	"context"
	"time"

	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"storj.io/common/sync2"

	"github.com/seiscenter/metad/curation/blobstore"
	"github.com/seiscenter/metad/curation/executor"
	"github.com/seiscenter/metad/curation/index"
	"github.com/seiscenter/metad/curation/prototypes"
	"github.com/seiscenter/metad/curation/supersede"
)

var (
	// Error is the default daemon error class.
	Error = errs.Class("metad")

	mon = monkit.Package()
)

// Config defines parameters for the lifecycle daemon.
type Config struct {
	PollInterval time.Duration `help:"how often the daemon looks for claimable records" default:"10s"`
	Purge        bool          `help:"remove DELETED records and unreferenced artifacts from disk" default:"false"`
	NodeID       string        `help:"data center node identifier, prefixes the merged inventory artifact" default:"metad"`
	Reconfigure  bool          `help:"trigger downstream reconfigure and query service restart after a full merge" default:"false"`
}

// Service is the lifecycle daemon.
//
// architecture: Chore
type Service struct {
	log      *zap.Logger
	files    index.DB
	blobs    *blobstore.Store
	protos   *prototypes.Service
	exec     *executor.Executor
	resolver *supersede.Resolver
	config   Config

	// fingerprint of the accepted set behind the last successful full
	// merge, to skip rebuilding an unchanged inventory.
	lastMerged string

	Loop *sync2.Cycle
}

// NewService creates a lifecycle daemon.
func NewService(log *zap.Logger, files index.DB, blobs *blobstore.Store, protos *prototypes.Service, exec *executor.Executor, resolver *supersede.Resolver, config Config) *Service {
	return &Service{
		log:      log,
		files:    files,
		blobs:    blobs,
		protos:   protos,
		exec:     exec,
		resolver: resolver,
		config:   config,
		Loop:     sync2.NewCycle(config.PollInterval),
	}
}

// Run runs the daemon until the context is canceled.
func (service *Service) Run(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)

	return service.Loop.Run(ctx, func(ctx context.Context) error {
		if err := service.Tick(ctx); err != nil {
			service.log.Error("daemon cycle failed", zap.Error(err))
		}
		return nil
	})
}

// Close stops the daemon.
func (service *Service) Close() error {
	service.Loop.Close()
	return nil
}

// Tick drains the claimable queue and, when the queue was already
// empty, rebuilds the merged inventory.
func (service *Service) Tick(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)

	statuses := []index.Status{index.StatusPending, index.StatusValidated, index.StatusConverted}
	if service.config.Purge {
		statuses = append(statuses, index.StatusDeleted)
	}

	// claims of transiently failed records are held until the tick
	// ends, so the drain loop cannot re-claim the same record
	// back-to-back and starve everything behind it.
	var parked []*index.Claim
	defer func() {
		for _, claim := range parked {
			claim.Release()
		}
	}()

	processed := 0
	for ctx.Err() == nil {
		claim, err := service.files.ClaimNext(ctx, statuses...)
		if err != nil {
			if index.ErrNotFound.Has(err) {
				break
			}
			return Error.Wrap(err)
		}
		if service.dispatch(ctx, claim.Record) {
			parked = append(parked, claim)
			continue
		}
		claim.Release()
		processed++
	}

	if processed == 0 {
		service.fullMerge(ctx)
	}
	return nil
}

// dispatch runs the stage handler for the record's status. It reports
// whether the record failed transiently and must wait for the next
// poll cycle.
func (service *Service) dispatch(ctx context.Context, record index.Record) bool {
	log := service.log.With(
		zap.Stringer("id", record.ID),
		zap.String("network", record.Network.Code),
		zap.String("station", record.Station),
		zap.Stringer("status", record.Status))

	var err error
	switch record.Status {
	case index.StatusPending:
		err = service.Validate(ctx, record)
	case index.StatusValidated:
		err = service.Convert(ctx, record)
	case index.StatusConverted:
		err = service.Merge(ctx, record)
	case index.StatusDeleted:
		err = service.Purge(ctx, record)
	default:
		log.Error("claimed record in unexpected status")
		return false
	}

	switch {
	case err == nil:
	case index.ErrConflict.Has(err):
		// another worker moved the record; it will be re-dispatched
		// from its new status.
		log.Debug("record moved concurrently", zap.Error(err))
	case executor.ErrTimeout.Has(err), executor.Error.Has(err):
		// transient: leave the record in place, the next poll cycle
		// revisits it.
		log.Warn("tool invocation failed, will retry", zap.Error(err))
		return true
	default:
		log.Error("record processing failed, will retry", zap.Error(err))
		return true
	}
	return false
}

// reject moves the record to REJECTED, saving the reason.
func (service *Service) reject(ctx context.Context, record index.Record, reason string) error {
	service.log.Info("record rejected",
		zap.Stringer("id", record.ID),
		zap.String("network", record.Network.Code),
		zap.String("station", record.Station),
		zap.String("reason", reason))
	return service.files.Transition(ctx, record.ID, record.Status, index.StatusRejected,
		index.TransitionFields{Error: reason})
}

func ref(record index.Record) blobstore.Ref {
	return blobstore.Ref{
		Network: record.Network.Code,
		Station: record.Station,
		Hash:    record.Hash,
	}
}
