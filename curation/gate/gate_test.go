// Copyright (C) 2026 Seiscenter, Inc.
// See LICENSE for copying information.

package gate_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"storj.io/common/testcontext"
	"storj.io/common/testrand"

	"github.com/seiscenter/metad/curation/blobstore"
	"github.com/seiscenter/metad/curation/gate"
	"github.com/seiscenter/metad/curation/index"
	"github.com/seiscenter/metad/curation/indexdb"
	"github.com/seiscenter/metad/curation/prototypes"
	"github.com/seiscenter/metad/curation/stationxml"
	"github.com/seiscenter/metad/curation/users"
)

var (
	networkStart = time.Date(1980, 1, 1, 0, 0, 0, 0, time.UTC)
	networkEnd   = time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
)

func newGate(t *testing.T, ctx *testcontext.Context) (*gate.Gate, prototypes.DB) {
	log := zaptest.NewLogger(t)
	db, err := indexdb.Open(ctx, log, ctx.File("index", "metad.db"))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, db.Close()) })

	blobs, err := blobstore.NewStore(log, ctx.Dir("blobs"))
	require.NoError(t, err)

	service := prototypes.NewService(log, db.Prototypes(), db.Files(), blobs, prototypes.Config{})
	return gate.New(service), db.Prototypes()
}

func addPrototype(t *testing.T, ctx *testcontext.Context, db prototypes.DB, network index.Network, restricted bool) {
	require.NoError(t, db.Insert(ctx, prototypes.Prototype{
		Network:    network,
		Restricted: restricted,
		Hash:       testrand.UUID().String(),
		Created:    time.Now().UTC(),
	}))
}

func artifact(network index.Network, restricted bool) stationxml.Artifact {
	return stationxml.Artifact{
		Network:    network,
		Station:    "WEL",
		Restricted: restricted,
	}
}

func operator(code string, start time.Time) users.User {
	return users.User{
		ID:        testrand.UUID(),
		Name:      "operator",
		Role:      users.RoleOperator,
		Prototype: &users.Binding{Code: code, Start: start},
	}
}

func TestAuthorize_OperatorBinding(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	authGate, db := newGate(t, ctx)
	network := index.Network{Code: "NZ", Start: networkStart}
	addPrototype(t, ctx, db, network, false)

	require.NoError(t, authGate.Authorize(ctx, operator("NZ", networkStart), artifact(network, false)))

	// wrong network code.
	err := authGate.Authorize(ctx, operator("AU", networkStart), artifact(network, false))
	require.True(t, gate.ErrForbidden.Has(err))

	// right code, wrong start.
	err = authGate.Authorize(ctx, operator("NZ", networkStart.AddDate(1, 0, 0)), artifact(network, false))
	require.True(t, gate.ErrForbidden.Has(err))

	// no binding at all.
	unbound := users.User{ID: testrand.UUID(), Name: "unbound", Role: users.RoleOperator}
	err = authGate.Authorize(ctx, unbound, artifact(network, false))
	require.True(t, gate.ErrForbidden.Has(err))
}

func TestAuthorize_AdminBypass(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	authGate, db := newGate(t, ctx)
	network := index.Network{Code: "NZ", Start: networkStart}
	addPrototype(t, ctx, db, network, false)

	admin := users.User{ID: testrand.UUID(), Name: "admin", Role: users.RoleAdmin}
	require.NoError(t, authGate.Authorize(ctx, admin, artifact(network, false)))

	// the admin bypasses the binding, not the prototype checks.
	err := authGate.Authorize(ctx, admin, artifact(network, true))
	require.True(t, gate.ErrPrototypeConflictRestricted.Has(err))
}

func TestAuthorize_PrototypeMissing(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	authGate, _ := newGate(t, ctx)
	network := index.Network{Code: "NZ", Start: networkStart}

	err := authGate.Authorize(ctx, operator("NZ", networkStart), artifact(network, false))
	require.True(t, gate.ErrPrototypeMissing.Has(err))
}

func TestCheckPrototype(t *testing.T) {
	open := index.Network{Code: "NZ", Start: networkStart}
	closed := index.Network{Code: "NZ", Start: networkStart, End: &networkEnd}

	proto := prototypes.Prototype{Network: open, Restricted: false}

	require.NoError(t, gate.CheckPrototype(proto, artifact(open, false)))

	// the artifact declares an end the prototype does not have.
	err := gate.CheckPrototype(proto, artifact(closed, false))
	require.True(t, gate.ErrPrototypeConflictEnd.Has(err))

	// and the other way around.
	err = gate.CheckPrototype(prototypes.Prototype{Network: closed}, artifact(open, false))
	require.True(t, gate.ErrPrototypeConflictEnd.Has(err))

	// equal ends agree.
	require.NoError(t, gate.CheckPrototype(prototypes.Prototype{Network: closed}, artifact(closed, false)))

	// restricted flag must match.
	err = gate.CheckPrototype(proto, artifact(open, true))
	require.True(t, gate.ErrPrototypeConflictRestricted.Has(err))
}
