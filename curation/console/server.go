// Copyright (C) 2026 Seiscenter, Inc.
// See LICENSE for copying information.

// Package console implements the submission HTTP API: metadata intake,
// history and staging queries, and the administrative RPC surface.
package console

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"storj.io/common/errs2"
	"storj.io/common/memory"

	"github.com/seiscenter/metad/curation/blobstore"
	"github.com/seiscenter/metad/curation/gate"
	"github.com/seiscenter/metad/curation/index"
	"github.com/seiscenter/metad/curation/metad"
	"github.com/seiscenter/metad/curation/notifications"
	"github.com/seiscenter/metad/curation/prototypes"
	"github.com/seiscenter/metad/curation/supersede"
	"github.com/seiscenter/metad/curation/users"
)

var (
	// Error is the default console error class.
	Error = errs.Class("console")

	mon = monkit.Package()
)

// Config defines configuration for the console server.
type Config struct {
	Address     string        `help:"console http listening address" default:":10100"`
	MaxPostSize memory.Size   `help:"maximum accepted upload body size" default:"100.00 MB"`
	SessionTTL  time.Duration `help:"session lifetime" default:"24h0m0s"`
}

// Server exposes the submission API.
//
// architecture: Endpoint
type Server struct {
	log *zap.Logger

	listener net.Listener
	server   http.Server

	files    index.DB
	blobs    *blobstore.Store
	protos   *prototypes.Service
	gate     *gate.Gate
	users    users.DB
	notes    *notifications.Service
	resolver *supersede.Resolver
	daemon   *metad.Service

	config Config
}

// NewServer creates a console server on the listener.
func NewServer(log *zap.Logger, listener net.Listener, files index.DB, blobs *blobstore.Store, protos *prototypes.Service, authGate *gate.Gate, userdb users.DB, notes *notifications.Service, resolver *supersede.Resolver, daemon *metad.Service, config Config) *Server {
	server := &Server{
		log:      log,
		listener: listener,
		files:    files,
		blobs:    blobs,
		protos:   protos,
		gate:     authGate,
		users:    userdb,
		notes:    notes,
		resolver: resolver,
		daemon:   daemon,
		config:   config,
	}

	router := mux.NewRouter()
	router.HandleFunc("/authenticate", server.authenticate).Methods(http.MethodPost)

	session := router.NewRoute().Subrouter()
	session.Use(server.withSession)
	session.HandleFunc("/upload", server.upload).Methods(http.MethodPost)
	session.HandleFunc("/api/history", server.history).Methods(http.MethodGet)
	session.HandleFunc("/api/history", server.retire).Methods(http.MethodDelete)
	session.HandleFunc("/api/staged", server.staged).Methods(http.MethodGet)
	session.HandleFunc("/api/prototype", server.prototype).Methods(http.MethodGet)
	session.HandleFunc("/api/notifications", server.listNotifications).Methods(http.MethodGet)
	session.HandleFunc("/api/notifications/read", server.readNotifications).Methods(http.MethodPost)

	admin := session.NewRoute().Subrouter()
	admin.Use(server.withAdmin)
	admin.HandleFunc("/rpc/prototypes", server.ingestPrototypes).Methods(http.MethodGet)
	admin.HandleFunc("/rpc/inventory", server.inventory).Methods(http.MethodGet)
	admin.HandleFunc("/rpc/reconfigure", server.reconfigure).Methods(http.MethodGet)

	server.server.Handler = router
	return server
}

// Run starts the server until the context is canceled.
func (server *Server) Run(ctx context.Context) error {
	if server.listener == nil {
		return nil
	}
	ctx, cancel := context.WithCancel(ctx)
	var group errgroup.Group
	group.Go(func() error {
		<-ctx.Done()
		return Error.Wrap(server.server.Shutdown(context.Background()))
	})
	group.Go(func() error {
		defer cancel()
		err := server.server.Serve(server.listener)
		if errs2.IsCanceled(err) || errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		return Error.Wrap(err)
	})
	return group.Wait()
}

// Close shuts the server down.
func (server *Server) Close() error {
	return Error.Wrap(server.server.Close())
}

// Addr returns the address the server listens on.
func (server *Server) Addr() string {
	if server.listener == nil {
		return ""
	}
	return server.listener.Addr().String()
}

func sendJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func sendJSONError(w http.ResponseWriter, status int, message string) {
	sendJSON(w, status, map[string]string{"error": message})
}
