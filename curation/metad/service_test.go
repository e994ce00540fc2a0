// Copyright (C) 2026 Seiscenter, Inc.
// See LICENSE for copying information.

package metad_test

import (
	"io"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"storj.io/common/testcontext"
	"storj.io/common/testrand"
	"storj.io/common/uuid"

	"github.com/seiscenter/metad/curation/blobstore"
	"github.com/seiscenter/metad/curation/executor"
	"github.com/seiscenter/metad/curation/index"
	"github.com/seiscenter/metad/curation/indexdb"
	"github.com/seiscenter/metad/curation/metad"
	"github.com/seiscenter/metad/curation/prototypes"
	"github.com/seiscenter/metad/curation/stationxml"
	"github.com/seiscenter/metad/curation/supersede"
)

const uploadDoc = `<?xml version="1.0" encoding="UTF-8"?>
<FDSNStationXML xmlns="http://www.fdsn.org/xml/station/1" schemaVersion="1.0">
 <Source>upload</Source>
 <Created>2024-05-01T12:00:00</Created>
 <Network code="NZ" startDate="1980-01-01T00:00:00" restrictedStatus="open">
  <Station code="WEL" startDate="2000-01-01T00:00:00">
   <Channel code="HHZ" locationCode="10" startDate="2000-01-01T00:00:00">
    <SampleRate>100</SampleRate>
    <Response>
     <InstrumentSensitivity><Value>600</Value></InstrumentSensitivity>
     <Stage number="1"><StageGain><Value>600</Value></StageGain></Stage>
    </Response>
   </Channel>
  </Station>
 </Network>
</FDSNStationXML>`

const badDoc = `<?xml version="1.0" encoding="UTF-8"?>
<FDSNStationXML xmlns="http://www.fdsn.org/xml/station/1" schemaVersion="1.0">
 <Source>upload</Source>
 <Created>2024-05-01T12:00:00</Created>
 <Network code="NZ" startDate="1980-01-01T00:00:00" restrictedStatus="open">
  <Station code="WEL" startDate="2000-01-01T00:00:00">
   <Channel code="HHZ" locationCode="10" startDate="2000-01-01T00:00:00">
    <SampleRate>0</SampleRate>
   </Channel>
  </Station>
 </Network>
</FDSNStationXML>`

const protoDoc = `<?xml version="1.0" encoding="UTF-8"?>
<FDSNStationXML xmlns="http://www.fdsn.org/xml/station/1" schemaVersion="1.0">
 <Source>registry</Source>
 <Created>2024-01-01T00:00:00</Created>
 <Network code="NZ" startDate="1980-01-01T00:00:00" restrictedStatus="open">
  <Description>New Zealand National Seismograph Network</Description>
 </Network>
</FDSNStationXML>`

// defaultTool behaves like a well-behaved converter: convert copies,
// merge concatenates, the admin commands succeed.
const defaultTool = `
cmd="$1"; shift
case "$cmd" in
convert) cp "$1" "$2" ;;
merge) cat "$@" ;;
reconfigure|restart-query) exit 0 ;;
*) echo "unknown command $cmd" >&2; exit 64 ;;
esac`

type pipeline struct {
	files   index.DB
	blobs   *blobstore.Store
	protos  *prototypes.Service
	service *metad.Service
}

func newPipeline(t *testing.T, ctx *testcontext.Context, toolScript string, config metad.Config) *pipeline {
	log := zaptest.NewLogger(t)

	db, err := indexdb.Open(ctx, log, ctx.File("index", "metad.db"))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, db.Close()) })

	blobs, err := blobstore.NewStore(log, ctx.Dir("blobs"))
	require.NoError(t, err)

	tool := ctx.File("bin", "metaconv")
	require.NoError(t, os.WriteFile(tool, []byte("#!/bin/sh\n"+toolScript+"\n"), 0o755))

	protos := prototypes.NewService(log, db.Prototypes(), db.Files(), blobs, prototypes.Config{})
	exec := executor.New(log, executor.Config{Binary: tool, Timeout: time.Minute})
	resolver := supersede.NewResolver(log, db.Files())

	return &pipeline{
		files:   db.Files(),
		blobs:   blobs,
		protos:  protos,
		service: metad.NewService(log, db.Files(), blobs, protos, exec, resolver, config),
	}
}

// stage splits the document, stores the first artifact's blob and
// inserts it as a PENDING record, the way the intake endpoint does.
func (p *pipeline) stage(t *testing.T, ctx *testcontext.Context, doc string) index.Record {
	artifacts, err := stationxml.Split([]byte(doc))
	require.NoError(t, err)
	artifact := artifacts[0]

	ref := blobstore.Ref{Network: artifact.Network.Code, Station: artifact.Station, Hash: artifact.Hash}
	require.NoError(t, p.blobs.Put(ctx, ref, blobstore.ExtSource, artifact.Canonical))

	id, err := uuid.New()
	require.NoError(t, err)
	now := time.Now().UTC()
	record := index.Record{
		ID:           id,
		Network:      artifact.Network,
		Station:      artifact.Station,
		Hash:         artifact.Hash,
		Path:         ref.Path(),
		ChannelCount: artifact.ChannelCount,
		Size:         int64(len(artifact.Canonical)),
		SubmitterID:  testrand.UUID(),
		Status:       index.StatusPending,
		Created:      now,
		Modified:     now,
	}
	require.NoError(t, p.files.Insert(ctx, record))
	return record
}

func TestTick_AcceptsValidSubmission(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	p := newPipeline(t, ctx, defaultTool, metad.Config{NodeID: "testnode"})
	_, _, err := p.protos.Ingest(ctx, []byte(protoDoc))
	require.NoError(t, err)

	record := p.stage(t, ctx, uploadDoc)

	// one drain pass moves the record through validate, convert and
	// merge.
	require.NoError(t, p.service.Tick(ctx))

	got, err := p.files.Get(ctx, record.ID)
	require.NoError(t, err)
	require.Equal(t, index.StatusAccepted, got.Status)
	require.Empty(t, got.Error)

	exists, err := p.blobs.Exists(ctx, blobstore.Ref{
		Network: record.Network.Code, Station: record.Station, Hash: record.Hash,
	}, blobstore.ExtConverted)
	require.NoError(t, err)
	require.True(t, exists, "the converted artifact is kept for merging")

	// the idle pass rebuilds the full inventory.
	require.NoError(t, p.service.Tick(ctx))

	inventory, err := p.blobs.OpenInventory(ctx, p.service.InventoryFileName())
	require.NoError(t, err)
	data, err := io.ReadAll(inventory)
	require.NoError(t, err)
	require.NoError(t, inventory.Close())
	require.NotEmpty(t, data)
}

func TestTick_SupersedesPriorRecords(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	p := newPipeline(t, ctx, defaultTool, metad.Config{})
	_, _, err := p.protos.Ingest(ctx, []byte(protoDoc))
	require.NoError(t, err)

	// a prior submission for the same station that already went public.
	prior := p.stage(t, ctx, uploadDoc)
	require.NoError(t, p.files.Transition(ctx, prior.ID, index.StatusPending, index.StatusCompleted,
		index.TransitionFields{}))

	// a newer document for the same station, hashing differently.
	altered := strings.Replace(uploadDoc, `code="HHZ"`, `code="HHN"`, 1)
	record := p.stage(t, ctx, altered)

	require.NoError(t, p.service.Tick(ctx))

	got, err := p.files.Get(ctx, record.ID)
	require.NoError(t, err)
	require.Equal(t, index.StatusAccepted, got.Status)

	old, err := p.files.Get(ctx, prior.ID)
	require.NoError(t, err)
	require.Equal(t, index.StatusSuperseded, old.Status)
}

func TestTick_RejectsInvalidDocument(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	p := newPipeline(t, ctx, defaultTool, metad.Config{})
	_, _, err := p.protos.Ingest(ctx, []byte(protoDoc))
	require.NoError(t, err)

	// the stored blob fails validation when the daemon re-checks it.
	artifacts, err := stationxml.Split([]byte(uploadDoc))
	require.NoError(t, err)
	artifact := artifacts[0]

	ref := blobstore.Ref{Network: "NZ", Station: "WEL", Hash: artifact.Hash}
	require.NoError(t, p.blobs.Put(ctx, ref, blobstore.ExtSource, []byte(badDoc)))

	id, err := uuid.New()
	require.NoError(t, err)
	now := time.Now().UTC()
	require.NoError(t, p.files.Insert(ctx, index.Record{
		ID: id, Network: artifact.Network, Station: "WEL", Hash: artifact.Hash,
		Path: ref.Path(), SubmitterID: testrand.UUID(),
		Status: index.StatusPending, Created: now, Modified: now,
	}))

	require.NoError(t, p.service.Tick(ctx))

	got, err := p.files.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, index.StatusRejected, got.Status)
	require.Contains(t, got.Error, "BadSampleRate")
}

func TestTick_RejectsWhenConverterFails(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	failingTool := `
cmd="$1"; shift
case "$cmd" in
convert) echo "stage 3: unknown filter type" >&2; exit 1 ;;
*) exit 0 ;;
esac`
	p := newPipeline(t, ctx, failingTool, metad.Config{})
	_, _, err := p.protos.Ingest(ctx, []byte(protoDoc))
	require.NoError(t, err)

	record := p.stage(t, ctx, uploadDoc)

	require.NoError(t, p.service.Tick(ctx))

	got, err := p.files.Get(ctx, record.ID)
	require.NoError(t, err)
	require.Equal(t, index.StatusRejected, got.Status)
	require.Contains(t, got.Error, "stage 3: unknown filter type")

	exists, err := p.blobs.Exists(ctx, blobstore.Ref{
		Network: record.Network.Code, Station: record.Station, Hash: record.Hash,
	}, blobstore.ExtConverted)
	require.NoError(t, err)
	require.False(t, exists, "no partial converted artifact may remain")
}

func TestTick_RejectsWhenMergeFails(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	mergeFailTool := `
cmd="$1"; shift
case "$cmd" in
convert) cp "$1" "$2" ;;
merge) echo "conflicting epochs for NZ.WEL" >&2; exit 2 ;;
*) exit 0 ;;
esac`
	p := newPipeline(t, ctx, mergeFailTool, metad.Config{})
	_, _, err := p.protos.Ingest(ctx, []byte(protoDoc))
	require.NoError(t, err)

	record := p.stage(t, ctx, uploadDoc)

	require.NoError(t, p.service.Tick(ctx))

	got, err := p.files.Get(ctx, record.ID)
	require.NoError(t, err)
	require.Equal(t, index.StatusRejected, got.Status)
	require.Contains(t, got.Error, "Could not merge metadata")
	require.Contains(t, got.Error, "conflicting epochs")
}

func TestTick_RejectsWithoutPrototype(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	p := newPipeline(t, ctx, defaultTool, metad.Config{})
	record := p.stage(t, ctx, uploadDoc)

	require.NoError(t, p.service.Tick(ctx))

	got, err := p.files.Get(ctx, record.ID)
	require.NoError(t, err)
	require.Equal(t, index.StatusRejected, got.Status)
	require.Contains(t, got.Error, "PrototypeMissing")
}

func TestTick_TransientFailureDoesNotStall(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	p := newPipeline(t, ctx, defaultTool, metad.Config{})
	_, _, err := p.protos.Ingest(ctx, []byte(protoDoc))
	require.NoError(t, err)

	// the oldest record's source blob is gone, so validation fails
	// with an I/O error rather than a rejection.
	stuck := p.stage(t, ctx, uploadDoc)
	require.NoError(t, p.blobs.RemoveExt(ctx, blobstore.Ref{
		Network: stuck.Network.Code, Station: stuck.Station, Hash: stuck.Hash,
	}, blobstore.ExtSource))

	healthy := p.stage(t, ctx, strings.Replace(uploadDoc, `code="WEL"`, `code="BFZ"`, 1))

	// the tick must terminate and process the younger record even
	// though the failing one stays oldest-modified.
	require.NoError(t, p.service.Tick(ctx))

	got, err := p.files.Get(ctx, healthy.ID)
	require.NoError(t, err)
	require.Equal(t, index.StatusAccepted, got.Status)

	got, err = p.files.Get(ctx, stuck.ID)
	require.NoError(t, err)
	require.Equal(t, index.StatusPending, got.Status, "a transient failure keeps the record claimable")
	require.Empty(t, got.Error)

	// the next cycle revisits it and fails the same way, again without
	// stalling.
	require.NoError(t, p.service.Tick(ctx))
	got, err = p.files.Get(ctx, stuck.ID)
	require.NoError(t, err)
	require.Equal(t, index.StatusPending, got.Status)
}

func TestTick_ToolSpawnFailureLeavesRecordClaimable(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	p := newPipeline(t, ctx, defaultTool, metad.Config{})
	_, _, err := p.protos.Ingest(ctx, []byte(protoDoc))
	require.NoError(t, err)

	record := p.stage(t, ctx, uploadDoc)
	require.NoError(t, os.Remove(ctx.File("bin", "metaconv")))

	// validation needs no tool; conversion fails to spawn and parks
	// the record for the next cycle.
	require.NoError(t, p.service.Tick(ctx))

	got, err := p.files.Get(ctx, record.ID)
	require.NoError(t, err)
	require.Equal(t, index.StatusValidated, got.Status)
	require.Empty(t, got.Error)
}

func TestTick_Purge(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	p := newPipeline(t, ctx, defaultTool, metad.Config{Purge: true})

	record := p.stage(t, ctx, uploadDoc)
	ref := blobstore.Ref{Network: record.Network.Code, Station: record.Station, Hash: record.Hash}
	require.NoError(t, p.files.Transition(ctx, record.ID, index.StatusPending, index.StatusDeleted,
		index.TransitionFields{}))

	require.NoError(t, p.service.Tick(ctx))

	_, err := p.files.Get(ctx, record.ID)
	require.True(t, index.ErrNotFound.Has(err))

	exists, err := p.blobs.Exists(ctx, ref, blobstore.ExtSource)
	require.NoError(t, err)
	require.False(t, exists, "an unreferenced artifact is removed from disk")
}

func TestTick_PurgeKeepsSharedBlobs(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	p := newPipeline(t, ctx, defaultTool, metad.Config{Purge: true})

	first := p.stage(t, ctx, uploadDoc)
	require.NoError(t, p.files.Transition(ctx, first.ID, index.StatusPending, index.StatusRejected,
		index.TransitionFields{Error: "whatever"}))

	// second record with the same hash (allowed, the first is retired).
	second := p.stage(t, ctx, uploadDoc)
	require.NoError(t, p.files.Transition(ctx, second.ID, index.StatusPending, index.StatusDeleted,
		index.TransitionFields{}))

	require.NoError(t, p.service.Tick(ctx))

	// the second row is gone, but the first still references the blob.
	_, err := p.files.Get(ctx, second.ID)
	require.True(t, index.ErrNotFound.Has(err))

	ref := blobstore.Ref{Network: first.Network.Code, Station: first.Station, Hash: first.Hash}
	exists, err := p.blobs.Exists(ctx, ref, blobstore.ExtSource)
	require.NoError(t, err)
	require.True(t, exists)
}
