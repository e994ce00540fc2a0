// Copyright (C) 2026 Seiscenter, Inc.
// See LICENSE for copying information.

// Package curation assembles the metadata curation node: blob store,
// index, prototype registry, lifecycle daemon, availability checker and
// the console HTTP API.
package curation

import (
	"context"
	"net"

	"github.com/zeebo/errs"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"storj.io/common/errs2"

	"github.com/seiscenter/metad/curation/availability"
	"github.com/seiscenter/metad/curation/blobstore"
	"github.com/seiscenter/metad/curation/console"
	"github.com/seiscenter/metad/curation/executor"
	"github.com/seiscenter/metad/curation/gate"
	"github.com/seiscenter/metad/curation/index"
	"github.com/seiscenter/metad/curation/metad"
	"github.com/seiscenter/metad/curation/notifications"
	"github.com/seiscenter/metad/curation/prototypes"
	"github.com/seiscenter/metad/curation/supersede"
	"github.com/seiscenter/metad/curation/users"
)

// Error is the default peer error class.
var Error = errs.Class("curation")

// DB is the set of databases the peer needs.
type DB interface {
	// Files returns the metadata index.
	Files() index.DB
	// Prototypes returns the prototype registry database.
	Prototypes() prototypes.DB
	// Users returns the user and session database.
	Users() users.DB
	// Notifications returns the notification database.
	Notifications() notifications.DB

	// Close closes the underlying store.
	Close() error
}

// Config is the complete configuration of a curation node.
type Config struct {
	MetadataDir string `help:"directory holding the metadata blob store" default:"$CONFDIR/metadata"`

	Prototypes   prototypes.Config
	Executor     executor.Config
	Daemon       metad.Config
	Availability availability.Config
	Console      console.Config
}

// Peer is the running curation node.
//
// architecture: Peer
type Peer struct {
	Log *zap.Logger
	DB  DB

	Blobs *blobstore.Store

	Prototypes    *prototypes.Service
	Gate          *gate.Gate
	Executor      *executor.Executor
	Resolver      *supersede.Resolver
	Notifications *notifications.Service

	Daemon       *metad.Service
	Availability *availability.Checker

	Console struct {
		Listener net.Listener
		Server   *console.Server
	}
}

// New assembles a curation node from its configuration.
func New(log *zap.Logger, db DB, config Config) (_ *Peer, err error) {
	peer := &Peer{
		Log: log,
		DB:  db,
	}

	peer.Blobs, err = blobstore.NewStore(log.Named("blobstore"), config.MetadataDir)
	if err != nil {
		return nil, Error.Wrap(err)
	}

	peer.Prototypes = prototypes.NewService(
		log.Named("prototypes"),
		db.Prototypes(),
		db.Files(),
		peer.Blobs,
		config.Prototypes,
	)
	peer.Gate = gate.New(peer.Prototypes)
	peer.Executor = executor.New(log.Named("executor"), config.Executor)
	peer.Resolver = supersede.NewResolver(log.Named("supersede"), db.Files())
	peer.Notifications = notifications.NewService(
		log.Named("notifications"),
		db.Notifications(),
		db.Users(),
	)

	peer.Daemon = metad.NewService(
		log.Named("metad"),
		db.Files(),
		peer.Blobs,
		peer.Prototypes,
		peer.Executor,
		peer.Resolver,
		config.Daemon,
	)
	peer.Availability = availability.NewChecker(
		log.Named("availability"),
		db.Files(),
		config.Availability,
	)

	peer.Console.Listener, err = net.Listen("tcp", config.Console.Address)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	peer.Console.Server = console.NewServer(
		log.Named("console"),
		peer.Console.Listener,
		db.Files(),
		peer.Blobs,
		peer.Prototypes,
		peer.Gate,
		db.Users(),
		peer.Notifications,
		peer.Resolver,
		peer.Daemon,
		config.Console,
	)

	return peer, nil
}

// Run starts every subsystem and blocks until the context is canceled
// or one of them fails.
func (peer *Peer) Run(ctx context.Context) error {
	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return errs2.IgnoreCanceled(peer.Daemon.Run(ctx))
	})
	group.Go(func() error {
		return errs2.IgnoreCanceled(peer.Availability.Run(ctx))
	})
	group.Go(func() error {
		return errs2.IgnoreCanceled(peer.Console.Server.Run(ctx))
	})

	return group.Wait()
}

// Close shuts every subsystem down. The database is owned by the
// caller and stays open.
func (peer *Peer) Close() error {
	var group errs.Group
	if peer.Console.Server != nil {
		group.Add(peer.Console.Server.Close())
	}
	if peer.Availability != nil {
		group.Add(peer.Availability.Close())
	}
	if peer.Daemon != nil {
		group.Add(peer.Daemon.Close())
	}
	return Error.Wrap(group.Err())
}
