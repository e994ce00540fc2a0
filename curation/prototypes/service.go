// Copyright (C) 2026 Seiscenter, Inc.
// See LICENSE for copying information.

package prototypes

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/spacemonkeygo/monkit/v3"
	"go.uber.org/zap"

	"github.com/seiscenter/metad/curation/blobstore"
	"github.com/seiscenter/metad/curation/index"
	"github.com/seiscenter/metad/curation/stationxml"
)

var mon = monkit.Package()

// Config holds prototype registry configuration.
type Config struct {
	Dir string `help:"directory holding the network prototype files" default:"$CONFDIR/prototypes"`
}

// reconcileNote is stored on records forced back to PENDING when a new
// prototype arrives.
const reconcileNote = "prototype updated; revalidation required"

// Service is the network prototype registry.
//
// architecture: Service
type Service struct {
	log    *zap.Logger
	db     DB
	files  index.DB
	blobs  *blobstore.Store
	config Config
}

// NewService creates a prototype registry.
func NewService(log *zap.Logger, db DB, files index.DB, blobs *blobstore.Store, config Config) *Service {
	return &Service{
		log:    log,
		db:     db,
		files:  files,
		blobs:  blobs,
		config: config,
	}
}

// Ingest parses, hashes and stores a prototype document. Re-ingesting
// a known hash is a no-op. A genuinely new prototype triggers
// reconciliation of the affected network.
func (service *Service) Ingest(ctx context.Context, data []byte) (_ Prototype, created bool, err error) {
	defer mon.Task()(&ctx)(&err)

	info, err := stationxml.ExtractNetwork(data)
	if err != nil {
		return Prototype{}, false, Error.Wrap(err)
	}

	existing, err := service.db.GetByHash(ctx, info.Hash)
	if err == nil {
		return existing, false, nil
	}
	if !ErrNotFound.Has(err) {
		return Prototype{}, false, err
	}

	if err := service.blobs.PutPrototype(ctx, info.Hash, data); err != nil {
		return Prototype{}, false, Error.Wrap(err)
	}

	proto := Prototype{
		Network:     info.Network,
		Restricted:  info.Restricted,
		Description: info.Description,
		Hash:        info.Hash,
		Created:     time.Now().UTC(),
	}
	if err := service.db.Insert(ctx, proto); err != nil {
		return Prototype{}, false, err
	}

	service.log.Info("prototype ingested",
		zap.String("network", proto.Network.Code),
		zap.Time("start", proto.Network.Start),
		zap.String("hash", proto.Hash))

	if err := service.Reconcile(ctx, proto.Network); err != nil {
		return Prototype{}, false, err
	}
	return proto, true, nil
}

// IngestDir ingests every prototype file found in the configured
// directory. It returns how many new prototypes were added.
func (service *Service) IngestDir(ctx context.Context) (added int, err error) {
	defer mon.Task()(&ctx)(&err)

	entries, err := os.ReadDir(service.config.Dir)
	if err != nil {
		return 0, Error.Wrap(err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		switch filepath.Ext(entry.Name()) {
		case ".xml", ".stationxml":
		default:
			continue
		}
		data, err := os.ReadFile(filepath.Join(service.config.Dir, entry.Name()))
		if err != nil {
			return added, Error.Wrap(err)
		}
		_, created, err := service.Ingest(ctx, data)
		if err != nil {
			service.log.Warn("skipping unreadable prototype file",
				zap.String("file", entry.Name()), zap.Error(err))
			continue
		}
		if created {
			added++
		}
	}
	return added, nil
}

// Active returns the newest prototype for the network identity.
func (service *Service) Active(ctx context.Context, code string, start time.Time) (Prototype, error) {
	return service.db.Active(ctx, code, start)
}

// List returns every stored prototype, newest first.
func (service *Service) List(ctx context.Context) ([]Prototype, error) {
	return service.db.List(ctx)
}

// Reconcile forces re-validation of every station of the network whose
// latest record is ACCEPTED or COMPLETED by moving it back to PENDING.
// Records in other states are left alone; the pipeline will judge them
// against the new prototype anyway.
func (service *Service) Reconcile(ctx context.Context, network index.Network) (err error) {
	defer mon.Task()(&ctx)(&err)

	latest, err := service.files.LatestPerStation(ctx, network.Code)
	if err != nil {
		return Error.Wrap(err)
	}
	for _, record := range latest {
		if !record.Network.SameIdentity(network) {
			continue
		}
		switch record.Status {
		case index.StatusAccepted, index.StatusCompleted:
		default:
			continue
		}
		err := service.files.Transition(ctx, record.ID, record.Status, index.StatusPending,
			index.TransitionFields{Error: reconcileNote})
		if err != nil {
			if index.ErrConflict.Has(err) {
				// moved by the daemon in the meantime; it will be
				// re-checked against the new prototype regardless.
				continue
			}
			return Error.Wrap(err)
		}
		service.log.Info("station queued for revalidation",
			zap.String("network", record.Network.Code),
			zap.String("station", record.Station))
	}
	return nil
}
