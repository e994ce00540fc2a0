// Copyright (C) 2026 Seiscenter, Inc.
// See LICENSE for copying information.

package metad

import (
	"context"
	"io"
	"strings"

	"go.uber.org/zap"

	"github.com/seiscenter/metad/curation/blobstore"
	"github.com/seiscenter/metad/curation/index"
)

// InventoryName returns the well-known name of the merged inventory
// artifact for a node.
func InventoryName(nodeID string) string {
	return nodeID + "-full-inventory"
}

// InventoryFileName returns the inventory artifact name of this node.
func (service *Service) InventoryFileName() string {
	return InventoryName(service.config.NodeID)
}

// fullMerge rebuilds the merged public inventory from the accepted
// set. It runs only on idle cycles and skips when the accepted set has
// not changed since the last successful merge. Failures are logged;
// the next idle cycle retries.
func (service *Service) fullMerge(ctx context.Context) {
	set, err := service.files.AcceptedSet(ctx)
	if err != nil {
		service.log.Error("full merge: accepted set unavailable", zap.Error(err))
		return
	}
	if len(set) == 0 {
		return
	}

	fingerprint := acceptedFingerprint(set)
	if fingerprint == service.lastMerged {
		return
	}

	paths, err := service.mergeInputs(ctx, set)
	if err != nil {
		service.log.Error("full merge: inputs unavailable", zap.Error(err))
		return
	}

	name := InventoryName(service.config.NodeID)
	err = service.blobs.WriteInventory(ctx, name, func(sink io.Writer) error {
		result, err := service.exec.MergeTo(ctx, sink, paths...)
		if err != nil {
			return err
		}
		if !result.Ok() {
			return Error.New("merge exited %d: %s", result.ExitCode, strings.TrimSpace(string(result.Stderr)))
		}
		return nil
	})
	if err != nil {
		service.log.Error("full merge failed", zap.Error(err))
		return
	}
	service.lastMerged = fingerprint
	service.log.Info("full inventory merged",
		zap.String("artifact", name),
		zap.Int("stations", len(set)))

	if !service.config.Reconfigure {
		return
	}
	if result, err := service.exec.Reconfigure(ctx); err != nil || !result.Ok() {
		service.log.Error("reconfigure after merge failed",
			zap.Error(err), zap.String("stderr", strings.TrimSpace(string(result.Stderr))))
		return
	}
	if result, err := service.exec.RestartQueryService(ctx); err != nil || !result.Ok() {
		service.log.Error("query service restart after merge failed",
			zap.Error(err), zap.String("stderr", strings.TrimSpace(string(result.Stderr))))
	}
}

// MergeInventoryTo streams a freshly merged full inventory into sink.
// Used by the admin RPC surface.
func (service *Service) MergeInventoryTo(ctx context.Context, sink io.Writer) (err error) {
	defer mon.Task()(&ctx)(&err)

	set, err := service.files.AcceptedSet(ctx)
	if err != nil {
		return Error.Wrap(err)
	}
	if len(set) == 0 {
		return Error.New("nothing accepted yet")
	}
	paths, err := service.mergeInputs(ctx, set)
	if err != nil {
		return err
	}
	result, err := service.exec.MergeTo(ctx, sink, paths...)
	if err != nil {
		return err
	}
	if !result.Ok() {
		return Error.New("merge exited %d: %s", result.ExitCode, strings.TrimSpace(string(result.Stderr)))
	}
	return nil
}

// TriggerReconfigure re-issues the downstream reconfigure and restart.
func (service *Service) TriggerReconfigure(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)

	if result, err := service.exec.Reconfigure(ctx); err != nil {
		return err
	} else if !result.Ok() {
		return Error.New("reconfigure exited %d: %s", result.ExitCode, strings.TrimSpace(string(result.Stderr)))
	}
	if result, err := service.exec.RestartQueryService(ctx); err != nil {
		return err
	} else if !result.Ok() {
		return Error.New("restart exited %d: %s", result.ExitCode, strings.TrimSpace(string(result.Stderr)))
	}
	return nil
}

// mergeInputs collects the converted artifact of every accepted record
// plus the converted prototype of every involved network.
func (service *Service) mergeInputs(ctx context.Context, set []index.Record) ([]string, error) {
	var paths []string
	seenProto := map[string]bool{}

	for _, record := range set {
		converted := service.blobs.FilePath(ref(record), blobstore.ExtConverted)
		exists, err := service.blobs.Exists(ctx, ref(record), blobstore.ExtConverted)
		if err != nil {
			return nil, Error.Wrap(err)
		}
		if !exists {
			service.log.Warn("accepted record has no converted artifact, skipping",
				zap.Stringer("id", record.ID),
				zap.String("station", record.Station))
			continue
		}
		paths = append(paths, converted)

		key := record.Network.Code + "\x00" + record.Network.Start.String()
		if seenProto[key] {
			continue
		}
		seenProto[key] = true

		proto, err := service.protos.Active(ctx, record.Network.Code, record.Network.Start)
		if err != nil {
			service.log.Warn("no active prototype for accepted network",
				zap.String("network", record.Network.Code), zap.Error(err))
			continue
		}
		protoConverted, err := service.ensurePrototypeConverted(ctx, proto)
		if err != nil {
			return nil, err
		}
		if protoConverted != "" {
			paths = append(paths, protoConverted)
		}
	}
	if len(paths) == 0 {
		return nil, Error.New("no merge inputs available")
	}
	return paths, nil
}

func acceptedFingerprint(set []index.Record) string {
	var builder strings.Builder
	for _, record := range set {
		builder.WriteString(record.Hash)
		builder.WriteByte('\n')
	}
	return builder.String()
}
