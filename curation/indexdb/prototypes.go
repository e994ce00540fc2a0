// Copyright (C) 2026 Seiscenter, Inc.
// See LICENSE for copying information.

package indexdb

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/zeebo/errs"

	"github.com/seiscenter/metad/curation/prototypes"
)

// ensures that prototypesDB implements prototypes.DB.
var _ prototypes.DB = (*prototypesDB)(nil)

// prototypesDB is the sqlite prototype collection.
type prototypesDB DB

const prototypeColumns = `hash, network_code, network_start, network_end, restricted, description, created`

// Insert adds a prototype.
func (db *prototypesDB) Insert(ctx context.Context, proto prototypes.Prototype) (err error) {
	defer mon.Task()(&ctx)(&err)

	_, err = db.db.ExecContext(ctx,
		`INSERT INTO prototypes (`+prototypeColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		proto.Hash,
		proto.Network.Code,
		encodeTime(proto.Network.Start),
		encodeTimePtr(proto.Network.End),
		boolToInt(proto.Restricted),
		proto.Description,
		encodeTime(proto.Created),
	)
	return prototypes.Error.Wrap(err)
}

// GetByHash returns the prototype with the hash.
func (db *prototypesDB) GetByHash(ctx context.Context, hash string) (_ prototypes.Prototype, err error) {
	defer mon.Task()(&ctx)(&err)

	row := db.db.QueryRowContext(ctx,
		`SELECT `+prototypeColumns+` FROM prototypes WHERE hash = ?`, hash)
	proto, err := scanPrototype(row)
	if errors.Is(err, sql.ErrNoRows) {
		return prototypes.Prototype{}, prototypes.ErrNotFound.New("hash %s", hash)
	}
	return proto, prototypes.Error.Wrap(err)
}

// Active returns the newest prototype for the network identity.
func (db *prototypesDB) Active(ctx context.Context, code string, start time.Time) (_ prototypes.Prototype, err error) {
	defer mon.Task()(&ctx)(&err)

	row := db.db.QueryRowContext(ctx,
		`SELECT `+prototypeColumns+` FROM prototypes
		 WHERE network_code = ? AND network_start = ?
		 ORDER BY created DESC, rowid DESC LIMIT 1`,
		code, encodeTime(start))
	proto, err := scanPrototype(row)
	if errors.Is(err, sql.ErrNoRows) {
		return prototypes.Prototype{}, prototypes.ErrNotFound.New("network %s (%s)", code, start.Format(time.RFC3339))
	}
	return proto, prototypes.Error.Wrap(err)
}

// List returns every stored prototype, newest first.
func (db *prototypesDB) List(ctx context.Context) (protos []prototypes.Prototype, err error) {
	defer mon.Task()(&ctx)(&err)

	rows, err := db.db.QueryContext(ctx,
		`SELECT `+prototypeColumns+` FROM prototypes ORDER BY created DESC, rowid DESC`)
	if err != nil {
		return nil, prototypes.Error.Wrap(err)
	}
	defer func() { err = errs.Combine(err, rows.Err(), rows.Close()) }()

	for rows.Next() {
		proto, err := scanPrototype(rows)
		if err != nil {
			return nil, prototypes.Error.Wrap(err)
		}
		protos = append(protos, proto)
	}
	return protos, nil
}

func scanPrototype(row scanner) (proto prototypes.Prototype, err error) {
	var (
		start, created string
		end            sql.NullString
		restricted     int
	)
	err = row.Scan(&proto.Hash, &proto.Network.Code, &start, &end, &restricted, &proto.Description, &created)
	if err != nil {
		return prototypes.Prototype{}, err
	}
	if proto.Network.Start, err = decodeTime(start); err != nil {
		return prototypes.Prototype{}, err
	}
	if proto.Network.End, err = decodeTimePtr(end); err != nil {
		return prototypes.Prototype{}, err
	}
	if proto.Created, err = decodeTime(created); err != nil {
		return prototypes.Prototype{}, err
	}
	proto.Restricted = restricted != 0
	return proto, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
