// Copyright (C) 2026 Seiscenter, Inc.
// See LICENSE for copying information.

package availability_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"storj.io/common/testcontext"
	"storj.io/common/testrand"
	"storj.io/common/uuid"

	"github.com/seiscenter/metad/curation/availability"
	"github.com/seiscenter/metad/curation/index"
	"github.com/seiscenter/metad/curation/indexdb"
	"github.com/seiscenter/metad/curation/stationxml"
)

const servedDoc = `<?xml version="1.0" encoding="UTF-8"?>
<FDSNStationXML xmlns="http://www.fdsn.org/xml/station/1" schemaVersion="1.0">
 <Source>SeisComP</Source>
 <Created>2026-08-01T03:00:00</Created>
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

func acceptedRecord(t *testing.T, ctx *testcontext.Context, files index.DB, hash string) index.Record {
	id, err := uuid.New()
	require.NoError(t, err)
	now := time.Now().UTC()
	record := index.Record{
		ID:      id,
		Network: index.Network{Code: "NZ", Start: time.Date(1980, 1, 1, 0, 0, 0, 0, time.UTC)},
		Station: "WEL", Hash: hash, Path: "NZ/WEL/" + hash,
		SubmitterID: testrand.UUID(),
		Status:      index.StatusAccepted,
		Created:     now, Modified: now,
	}
	require.NoError(t, files.Insert(ctx, record))
	return record
}

func openFiles(t *testing.T, ctx *testcontext.Context) index.DB {
	db, err := indexdb.Open(ctx, zaptest.NewLogger(t), ctx.File("index", "metad.db"))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, db.Close()) })
	return db.Files()
}

func TestCheck_CompletesOnMatch(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	files := openFiles(t, ctx)

	// the record's hash is the canonical hash of the served document.
	artifacts, err := stationxml.Extract([]byte(servedDoc))
	require.NoError(t, err)
	record := acceptedRecord(t, ctx, files, artifacts[0].Hash)

	webservice := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "NZ", r.FormValue("network"))
		require.Equal(t, "WEL", r.FormValue("station"))
		require.Equal(t, "response", r.FormValue("level"))
		_, _ = w.Write([]byte(servedDoc))
	}))
	defer webservice.Close()

	checker := availability.NewChecker(zaptest.NewLogger(t), files, availability.Config{
		Interval: time.Minute,
		QueryURL: webservice.URL,
		Timeout:  time.Second,
	})
	defer func() { require.NoError(t, checker.Close()) }()

	require.NoError(t, checker.Check(ctx))

	got, err := files.Get(ctx, record.ID)
	require.NoError(t, err)
	require.Equal(t, index.StatusCompleted, got.Status)
	require.NotNil(t, got.Available)
}

func TestCheck_LeavesMismatch(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	files := openFiles(t, ctx)
	record := acceptedRecord(t, ctx, files, "0000000000000000000000000000000000000000000000000000000000000000")

	// the webservice still serves the previous version of the station.
	webservice := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(servedDoc))
	}))
	defer webservice.Close()

	checker := availability.NewChecker(zaptest.NewLogger(t), files, availability.Config{
		Interval: time.Minute,
		QueryURL: webservice.URL,
		Timeout:  time.Second,
	})
	defer func() { require.NoError(t, checker.Close()) }()

	require.NoError(t, checker.Check(ctx))

	got, err := files.Get(ctx, record.ID)
	require.NoError(t, err)
	require.Equal(t, index.StatusAccepted, got.Status)
	require.Nil(t, got.Available)
}

func TestCheck_SkipsOnBadResponse(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	files := openFiles(t, ctx)
	record := acceptedRecord(t, ctx, files, "00ff")

	webservice := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no data", http.StatusNotFound)
	}))
	defer webservice.Close()

	checker := availability.NewChecker(zaptest.NewLogger(t), files, availability.Config{
		Interval: time.Minute,
		QueryURL: webservice.URL,
		Timeout:  time.Second,
	})
	defer func() { require.NoError(t, checker.Close()) }()

	// a per-station failure is logged and skipped, not fatal.
	require.NoError(t, checker.Check(ctx))

	got, err := files.Get(ctx, record.ID)
	require.NoError(t, err)
	require.Equal(t, index.StatusAccepted, got.Status)
}

func TestCheck_AbortsOnOutage(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	files := openFiles(t, ctx)
	acceptedRecord(t, ctx, files, "00ff")

	webservice := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := webservice.URL
	webservice.Close()

	checker := availability.NewChecker(zaptest.NewLogger(t), files, availability.Config{
		Interval: time.Minute,
		QueryURL: url,
		Timeout:  time.Second,
	})
	defer func() { require.NoError(t, checker.Close()) }()

	err := checker.Check(ctx)
	require.True(t, availability.ErrWebservice.Has(err))
}
