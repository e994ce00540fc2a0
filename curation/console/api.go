// Copyright (C) 2026 Seiscenter, Inc.
// See LICENSE for copying information.

package console

import (
	"context"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"storj.io/common/uuid"

	"github.com/seiscenter/metad/curation/blobstore"
	"github.com/seiscenter/metad/curation/gate"
	"github.com/seiscenter/metad/curation/index"
	"github.com/seiscenter/metad/curation/prototypes"
	"github.com/seiscenter/metad/curation/stationxml"
	"github.com/seiscenter/metad/curation/users"
)

// Redirect tokens carried back to the submission form.
const (
	uploadSuccessLocation = "/home?S_METADATA_SUCCESS"
	uploadFailureLocation = "/home?S_METADATA_FAILED"
)

// historyEntry is the JSON projection of one index record.
type historyEntry struct {
	ID           uuid.UUID  `json:"id"`
	Status       int        `json:"status"`
	Created      time.Time  `json:"created"`
	Modified     time.Time  `json:"modified"`
	Available    *time.Time `json:"available,omitempty"`
	Error        string     `json:"error,omitempty"`
	Hash         string     `json:"hash"`
	ChannelCount int        `json:"channel_count"`
	Size         int64      `json:"size_bytes"`
}

func toHistoryEntry(record index.Record) historyEntry {
	return historyEntry{
		ID:           record.ID,
		Status:       int(record.Status),
		Created:      record.Created,
		Modified:     record.Modified,
		Available:    record.Available,
		Error:        record.Error,
		Hash:         record.Hash,
		ChannelCount: record.ChannelCount,
		Size:         record.Size,
	}
}

// upload is the metadata intake endpoint. It splits every uploaded
// document into per-station artifacts, authorizes each against the
// caller's prototype binding, and stages the new ones as PENDING.
func (server *Server) upload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var err error
	defer mon.Task()(&ctx)(&err)

	user, _ := userFromContext(ctx)
	limit := server.config.MaxPostSize.Int64()

	if r.ContentLength > limit {
		sendJSONError(w, http.StatusRequestEntityTooLarge, "upload too large")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err = r.ParseMultipartForm(limit); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			sendJSONError(w, http.StatusRequestEntityTooLarge, "upload too large")
			return
		}
		sendJSONError(w, http.StatusBadRequest, "malformed multipart body")
		return
	}

	type upload struct {
		artifact stationxml.Artifact
		size     int64
	}
	var uploads []upload

	for _, headers := range r.MultipartForm.File {
		for _, header := range headers {
			data, err := readPart(header)
			if err != nil {
				sendJSONError(w, http.StatusBadRequest, "unreadable upload part")
				return
			}
			if len(data) == 0 {
				continue
			}
			artifacts, err := stationxml.Split(data)
			if err != nil {
				server.log.Info("upload rejected",
					zap.String("user", user.Name),
					zap.String("file", header.Filename),
					zap.Error(err))
				http.Redirect(w, r, uploadFailureLocation, http.StatusSeeOther)
				return
			}
			for _, artifact := range artifacts {
				uploads = append(uploads, upload{artifact: artifact, size: int64(len(artifact.Canonical))})
			}
		}
	}
	if len(uploads) == 0 {
		http.Redirect(w, r, uploadFailureLocation, http.StatusSeeOther)
		return
	}

	// an unauthorized artifact aborts the whole submission before
	// anything is staged.
	for _, up := range uploads {
		if err := server.gate.Authorize(ctx, user, up.artifact); err != nil {
			if gate.ErrForbidden.Has(err) {
				server.log.Warn("upload forbidden",
					zap.String("user", user.Name),
					zap.String("network", up.artifact.Network.Code),
					zap.String("station", up.artifact.Station))
				sendJSONError(w, http.StatusInternalServerError, err.Error())
				return
			}
			server.log.Info("upload denied by prototype",
				zap.String("user", user.Name),
				zap.String("station", up.artifact.Station),
				zap.Error(err))
			http.Redirect(w, r, uploadFailureLocation, http.StatusSeeOther)
			return
		}
	}

	var stations []string
	for _, up := range uploads {
		staged, err := server.stage(ctx, user, up.artifact, up.size)
		if err != nil {
			server.log.Error("staging failed",
				zap.String("station", up.artifact.Station), zap.Error(err))
			sendJSONError(w, http.StatusInternalServerError, "internal error")
			return
		}
		if staged {
			stations = append(stations, up.artifact.Network.Code+"."+up.artifact.Station)
		}
	}

	if len(stations) > 0 {
		notifyCtx := context.WithoutCancel(ctx)
		go func() {
			if err := server.notes.SubmissionReceived(notifyCtx, user, stations); err != nil {
				server.log.Warn("admin notification failed", zap.Error(err))
			}
		}()
	}

	http.Redirect(w, r, uploadSuccessLocation, http.StatusSeeOther)
}

// stage writes the artifact blob and inserts the PENDING record. An
// active record with the same hash makes the artifact a silent no-op.
func (server *Server) stage(ctx context.Context, user users.User, artifact stationxml.Artifact, size int64) (staged bool, err error) {
	defer mon.Task()(&ctx)(&err)

	ref := blobstore.Ref{
		Network: artifact.Network.Code,
		Station: artifact.Station,
		Hash:    artifact.Hash,
	}
	if err := server.blobs.Put(ctx, ref, blobstore.ExtSource, artifact.Canonical); err != nil {
		return false, err
	}

	id, err := uuid.New()
	if err != nil {
		return false, Error.Wrap(err)
	}
	now := time.Now().UTC()
	err = server.files.Insert(ctx, index.Record{
		ID:           id,
		Network:      artifact.Network,
		Station:      artifact.Station,
		Hash:         artifact.Hash,
		Path:         ref.Path(),
		ChannelCount: artifact.ChannelCount,
		Size:         size,
		SubmitterID:  user.ID,
		Status:       index.StatusPending,
		Created:      now,
		Modified:     now,
	})
	if err != nil {
		if index.ErrDuplicateActive.Has(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// history serves either the station history as JSON, or, when id is
// given, streams the stored document of one record.
func (server *Server) history(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var err error
	defer mon.Task()(&ctx)(&err)

	user, _ := userFromContext(ctx)

	if hash := r.FormValue("id"); hash != "" {
		server.streamRecord(w, r, user, hash)
		return
	}

	networkCode := r.FormValue("network")
	station := r.FormValue("station")
	if networkCode == "" || station == "" {
		sendJSONError(w, http.StatusBadRequest, "network and station are required")
		return
	}
	if !server.canAccess(user, networkCode) {
		sendJSONError(w, http.StatusForbidden, "network not accessible")
		return
	}

	records, err := server.files.History(ctx, networkCode, station)
	if err != nil {
		server.log.Error("history query failed", zap.Error(err))
		sendJSONError(w, http.StatusInternalServerError, "internal error")
		return
	}
	entries := make([]historyEntry, 0, len(records))
	for _, record := range records {
		entries = append(entries, toHistoryEntry(record))
	}
	sendJSON(w, http.StatusOK, entries)
}

func (server *Server) streamRecord(w http.ResponseWriter, r *http.Request, user users.User, hash string) {
	ctx := r.Context()

	record, err := server.files.GetByHash(ctx, hash)
	if err != nil {
		if index.ErrNotFound.Has(err) {
			sendJSONError(w, http.StatusNotFound, "no such record")
			return
		}
		sendJSONError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !server.canAccess(user, record.Network.Code) {
		sendJSONError(w, http.StatusForbidden, "network not accessible")
		return
	}

	blob, err := server.blobs.Open(ctx, recordRef(record), blobstore.ExtSource)
	if err != nil {
		sendJSONError(w, http.StatusNotFound, "stored document unavailable")
		return
	}
	defer func() { _ = blob.Close() }()

	w.Header().Set("Content-Type", "application/xml")
	if _, err := io.Copy(w, blob); err != nil {
		server.log.Debug("record stream aborted", zap.Error(err))
	}
}

// retire handles operator-initiated retirement of a single record.
func (server *Server) retire(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var err error
	defer mon.Task()(&ctx)(&err)

	user, _ := userFromContext(ctx)
	hash := r.FormValue("id")
	if hash == "" {
		sendJSONError(w, http.StatusBadRequest, "id is required")
		return
	}

	record, err := server.files.GetByHash(ctx, hash)
	if err != nil {
		if index.ErrNotFound.Has(err) {
			sendJSONError(w, http.StatusNotFound, "no such record")
			return
		}
		sendJSONError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !server.canAccess(user, record.Network.Code) {
		sendJSONError(w, http.StatusForbidden, "network not accessible")
		return
	}

	if err := server.resolver.Retire(ctx, record); err != nil {
		server.log.Error("retirement failed",
			zap.Stringer("id", record.ID), zap.Error(err))
		sendJSONError(w, http.StatusInternalServerError, "internal error")
		return
	}
	sendJSON(w, http.StatusOK, map[string]string{"status": "retired"})
}

// stagedEntry is one row of the per-station latest-status projection.
type stagedEntry struct {
	Network  string     `json:"network"`
	Station  string     `json:"station"`
	Status   int        `json:"status"`
	Modified time.Time  `json:"modified"`
	Error    string     `json:"error,omitempty"`
	Hash     string     `json:"hash"`
}

// staged returns, per station of the caller's network, the latest
// record's status.
func (server *Server) staged(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var err error
	defer mon.Task()(&ctx)(&err)

	user, _ := userFromContext(ctx)
	networkCode, ok := server.resolveNetwork(user, r.FormValue("network"))
	if !ok {
		sendJSONError(w, http.StatusBadRequest, "network is required")
		return
	}
	if !server.canAccess(user, networkCode) {
		sendJSONError(w, http.StatusForbidden, "network not accessible")
		return
	}

	records, err := server.files.LatestPerStation(ctx, networkCode)
	if err != nil {
		server.log.Error("staged query failed", zap.Error(err))
		sendJSONError(w, http.StatusInternalServerError, "internal error")
		return
	}
	entries := make([]stagedEntry, 0, len(records))
	for _, record := range records {
		entries = append(entries, stagedEntry{
			Network:  record.Network.Code,
			Station:  record.Station,
			Status:   int(record.Status),
			Modified: record.Modified,
			Error:    record.Error,
			Hash:     record.Hash,
		})
	}
	sendJSON(w, http.StatusOK, entries)
}

// prototype streams the caller's active network prototype document.
func (server *Server) prototype(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var err error
	defer mon.Task()(&ctx)(&err)

	user, _ := userFromContext(ctx)

	var proto prototypes.Prototype
	if user.Prototype != nil {
		proto, err = server.protos.Active(ctx, user.Prototype.Code, user.Prototype.Start)
	} else {
		networkCode := r.FormValue("network")
		start, parseErr := stationxml.ParseTime(r.FormValue("start"))
		if networkCode == "" || parseErr != nil {
			sendJSONError(w, http.StatusBadRequest, "network and start are required")
			return
		}
		proto, err = server.protos.Active(ctx, networkCode, start)
	}
	if err != nil {
		if prototypes.ErrNotFound.Has(err) {
			sendJSONError(w, http.StatusNotFound, "no active prototype")
			return
		}
		sendJSONError(w, http.StatusInternalServerError, "internal error")
		return
	}

	blob, err := server.blobs.OpenPrototype(ctx, proto.Hash)
	if err != nil {
		sendJSONError(w, http.StatusNotFound, "prototype document unavailable")
		return
	}
	defer func() { _ = blob.Close() }()

	w.Header().Set("Content-Type", "application/xml")
	if _, err := io.Copy(w, blob); err != nil {
		server.log.Debug("prototype stream aborted", zap.Error(err))
	}
}

// listNotifications returns the caller's unread notifications.
func (server *Server) listNotifications(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var err error
	defer mon.Task()(&ctx)(&err)

	user, _ := userFromContext(ctx)
	list, err := server.notes.ListUnread(ctx, user.ID)
	if err != nil {
		sendJSONError(w, http.StatusInternalServerError, "internal error")
		return
	}
	sendJSON(w, http.StatusOK, list)
}

// readNotifications marks the caller's notifications as read.
func (server *Server) readNotifications(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var err error
	defer mon.Task()(&ctx)(&err)

	user, _ := userFromContext(ctx)
	if err = server.notes.MarkRead(ctx, user.ID); err != nil {
		sendJSONError(w, http.StatusInternalServerError, "internal error")
		return
	}
	sendJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ingestPrototypes re-ingests every prototype file from the configured
// directory.
func (server *Server) ingestPrototypes(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var err error
	defer mon.Task()(&ctx)(&err)

	added, err := server.protos.IngestDir(ctx)
	if err != nil {
		server.log.Error("prototype ingestion failed", zap.Error(err))
		sendJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	sendJSON(w, http.StatusOK, map[string]int{"added": added})
}

// inventory streams a freshly merged full inventory as an attachment.
func (server *Server) inventory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var err error
	defer mon.Task()(&ctx)(&err)

	name := server.daemon.InventoryFileName()
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)

	if err = server.daemon.MergeInventoryTo(ctx, w); err != nil {
		// headers are out; all we can do is log and cut the stream.
		server.log.Error("inventory merge failed", zap.Error(err))
	}
}

// reconfigure re-issues the downstream reconfigure and restart.
func (server *Server) reconfigure(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var err error
	defer mon.Task()(&ctx)(&err)

	if err = server.daemon.TriggerReconfigure(ctx); err != nil {
		server.log.Error("reconfigure failed", zap.Error(err))
		sendJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	sendJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// canAccess reports whether the user may act on the network code.
func (server *Server) canAccess(user users.User, networkCode string) bool {
	if user.IsAdmin() {
		return true
	}
	return user.Prototype != nil && user.Prototype.Code == networkCode
}

// resolveNetwork picks the network code a request acts on: explicit
// parameter first, the operator's binding otherwise.
func (server *Server) resolveNetwork(user users.User, param string) (string, bool) {
	if param != "" {
		return param, true
	}
	if user.Prototype != nil {
		return user.Prototype.Code, true
	}
	return "", false
}

func readPart(header *multipart.FileHeader) (_ []byte, err error) {
	part, err := header.Open()
	if err != nil {
		return nil, Error.Wrap(err)
	}
	defer func() { err = errs.Combine(err, part.Close()) }()
	return io.ReadAll(part)
}

func recordRef(record index.Record) blobstore.Ref {
	return blobstore.Ref{
		Network: record.Network.Code,
		Station: record.Station,
		Hash:    record.Hash,
	}
}
