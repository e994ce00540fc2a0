// Copyright (C) 2026 Seiscenter, Inc.
// See LICENSE for copying information.

package metad

import (
	"context"
	"io"
	"strings"

	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"github.com/seiscenter/metad/curation/blobstore"
	"github.com/seiscenter/metad/curation/gate"
	"github.com/seiscenter/metad/curation/index"
	"github.com/seiscenter/metad/curation/prototypes"
	"github.com/seiscenter/metad/curation/stationxml"
)

// lostRaceReason is stored on a record whose ACCEPTED promotion was
// beaten by a concurrent submission for the same station.
const lostRaceReason = "lost race; newer submission present"

// Validate re-runs the splitter's business rules over the stored
// source document and checks it against the active prototype. Success
// moves PENDING to VALIDATED; any validation failure moves it to
// REJECTED with the reason.
func (service *Service) Validate(ctx context.Context, record index.Record) (err error) {
	defer mon.Task()(&ctx)(&err)

	source, err := service.blobs.Open(ctx, ref(record), blobstore.ExtSource)
	if err != nil {
		return Error.Wrap(err)
	}
	data, err := io.ReadAll(source)
	if err != nil {
		return Error.Wrap(errs.Combine(err, source.Close()))
	}
	if err := source.Close(); err != nil {
		return Error.Wrap(err)
	}

	artifacts, err := stationxml.Split(data)
	if err != nil {
		return service.reject(ctx, record, err.Error())
	}
	artifact, found := matchArtifact(artifacts, record.Station)
	if !found {
		return service.reject(ctx, record, "stored document does not describe station "+record.Station)
	}

	proto, err := service.protos.Active(ctx, record.Network.Code, record.Network.Start)
	if err != nil {
		if prototypes.ErrNotFound.Has(err) {
			return service.reject(ctx, record, gate.ErrPrototypeMissing.New("network %s", record.Network.Code).Error())
		}
		return Error.Wrap(err)
	}
	if err := gate.CheckPrototype(proto, artifact); err != nil {
		return service.reject(ctx, record, err.Error())
	}

	return service.files.Transition(ctx, record.ID, index.StatusPending, index.StatusValidated,
		index.TransitionFields{})
}

// Convert invokes the external tool to derive the binary form of the
// artifact. A non-zero exit rejects the record with the tool's stderr;
// no partial converted file is left behind.
func (service *Service) Convert(ctx context.Context, record index.Record) (err error) {
	defer mon.Task()(&ctx)(&err)

	source := service.blobs.FilePath(ref(record), blobstore.ExtSource)
	target := service.blobs.FilePath(ref(record), blobstore.ExtConverted)

	result, err := service.exec.Convert(ctx, source, target)
	if err != nil {
		return err
	}
	if !result.Ok() {
		if removeErr := service.blobs.RemoveExt(ctx, ref(record), blobstore.ExtConverted); removeErr != nil {
			service.log.Warn("could not remove partial converted artifact",
				zap.Stringer("id", record.ID), zap.Error(removeErr))
		}
		return service.reject(ctx, record, strings.TrimSpace(string(result.Stderr)))
	}

	return service.files.Transition(ctx, record.ID, index.StatusValidated, index.StatusConverted,
		index.TransitionFields{})
}

// Merge checks that the converted artifact merges cleanly with its
// network prototype. Success promotes the record to ACCEPTED and
// retires prior records of the station.
func (service *Service) Merge(ctx context.Context, record index.Record) (err error) {
	defer mon.Task()(&ctx)(&err)

	proto, err := service.protos.Active(ctx, record.Network.Code, record.Network.Start)
	if err != nil {
		if prototypes.ErrNotFound.Has(err) {
			return service.reject(ctx, record, gate.ErrPrototypeMissing.New("network %s", record.Network.Code).Error())
		}
		return Error.Wrap(err)
	}
	protoConverted, err := service.ensurePrototypeConverted(ctx, proto)
	if err != nil {
		return err
	}
	if protoConverted == "" {
		return service.reject(ctx, record, "Could not merge metadata: prototype conversion failed")
	}

	result, err := service.exec.MergeTo(ctx, io.Discard,
		service.blobs.FilePath(ref(record), blobstore.ExtConverted), protoConverted)
	if err != nil {
		return err
	}
	if !result.Ok() {
		return service.reject(ctx, record, "Could not merge metadata: "+strings.TrimSpace(string(result.Stderr)))
	}

	err = service.files.Transition(ctx, record.ID, index.StatusConverted, index.StatusAccepted,
		index.TransitionFields{})
	if err != nil {
		if index.ErrConflict.Has(err) {
			return service.handleLostRace(ctx, record)
		}
		return err
	}

	record.Status = index.StatusAccepted
	return service.resolver.Supersede(ctx, record)
}

// handleLostRace deals with a record whose promotion conflicted: a
// concurrent submission won the ACCEPTED slot and retired this one
// mid-merge. The loser is surfaced as REJECTED so the submitter sees
// why it never went live.
func (service *Service) handleLostRace(ctx context.Context, record index.Record) error {
	current, err := service.files.Get(ctx, record.ID)
	if err != nil {
		return err
	}
	if !current.Status.Retired() {
		// moved somewhere else entirely; let the next cycle sort it out.
		return index.ErrConflict.New("id %s now %v", record.ID, current.Status)
	}
	err = service.files.Transition(ctx, current.ID, current.Status, index.StatusRejected,
		index.TransitionFields{Error: lostRaceReason})
	if err != nil && !index.ErrConflict.Has(err) {
		return err
	}
	return nil
}

// Purge removes a DELETED record's row and, when no other record
// references the hash, its blobs.
func (service *Service) Purge(ctx context.Context, record index.Record) (err error) {
	defer mon.Task()(&ctx)(&err)

	if err := service.files.Delete(ctx, record.ID); err != nil {
		return err
	}
	remaining, err := service.files.CountByHash(ctx, record.Hash)
	if err != nil {
		return Error.Wrap(err)
	}
	if remaining > 0 {
		return nil
	}
	service.log.Info("purging unreferenced artifact",
		zap.String("network", record.Network.Code),
		zap.String("station", record.Station),
		zap.String("hash", record.Hash))
	return service.blobs.Remove(ctx, ref(record))
}

// ensurePrototypeConverted converts the prototype document on first
// use. It returns the converted path, or empty when the tool refused
// the prototype.
func (service *Service) ensurePrototypeConverted(ctx context.Context, proto prototypes.Prototype) (string, error) {
	converted := service.blobs.PrototypeConvertedPath(proto.Hash)

	exists, err := service.blobs.PrototypeConvertedExists(ctx, proto.Hash)
	if err != nil {
		return "", Error.Wrap(err)
	}
	if exists {
		return converted, nil
	}

	result, err := service.exec.Convert(ctx, service.blobs.PrototypePath(proto.Hash), converted)
	if err != nil {
		return "", err
	}
	if !result.Ok() {
		service.log.Error("prototype conversion failed",
			zap.String("network", proto.Network.Code),
			zap.String("hash", proto.Hash),
			zap.String("stderr", strings.TrimSpace(string(result.Stderr))))
		return "", nil
	}
	return converted, nil
}

func matchArtifact(artifacts []stationxml.Artifact, station string) (stationxml.Artifact, bool) {
	for _, artifact := range artifacts {
		if artifact.Station == station {
			return artifact, true
		}
	}
	return stationxml.Artifact{}, false
}
