// Copyright (C) 2026 Seiscenter, Inc.
// See LICENSE for copying information.

// Package indexdb implements the metadata index and its sibling
// collections on sqlite.
package indexdb

import (
	"context"
	"database/sql"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3" // registers the sqlite3 driver.
	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"storj.io/common/uuid"

	"github.com/seiscenter/metad/curation/index"
	"github.com/seiscenter/metad/curation/notifications"
	"github.com/seiscenter/metad/curation/prototypes"
	"github.com/seiscenter/metad/curation/users"
)

var (
	mon = monkit.Package()

	// ErrDatabase represents errors from the database.
	ErrDatabase = errs.Class("indexdb")
)

// DB gives access to the metadata collections: files, prototypes,
// users, sessions and notifications.
type DB struct {
	log *zap.Logger
	db  *sql.DB

	claims struct {
		sync.Mutex
		held map[uuid.UUID]struct{}
	}
}

// Open opens (creating when necessary) the database at the given path
// and ensures the schema.
func Open(ctx context.Context, log *zap.Logger, path string) (*DB, error) {
	raw, err := sql.Open("sqlite3", "file:"+path+"?_journal_mode=WAL&_busy_timeout=10000&_foreign_keys=on")
	if err != nil {
		return nil, ErrDatabase.Wrap(err)
	}
	// sqlite serializes writers; a single connection avoids busy errors
	// between the daemon and request handlers.
	raw.SetMaxOpenConns(1)

	db := &DB{log: log, db: raw}
	db.claims.held = make(map[uuid.UUID]struct{})

	if _, err := raw.ExecContext(ctx, schema); err != nil {
		return nil, ErrDatabase.Wrap(errs.Combine(err, raw.Close()))
	}
	return db, nil
}

// Close closes the database.
func (db *DB) Close() error {
	return ErrDatabase.Wrap(db.db.Close())
}

// Files returns the metadata index.
func (db *DB) Files() index.DB { return (*filesDB)(db) }

// Prototypes returns the prototype collection.
func (db *DB) Prototypes() prototypes.DB { return (*prototypesDB)(db) }

// Users returns the user and session collection.
func (db *DB) Users() users.DB { return (*usersDB)(db) }

// Notifications returns the notification collection.
func (db *DB) Notifications() notifications.DB { return (*notificationDB)(db) }

const schema = `
CREATE TABLE IF NOT EXISTS files (
	id            TEXT    NOT NULL PRIMARY KEY,
	network_code  TEXT    NOT NULL,
	network_start TEXT    NOT NULL,
	network_end   TEXT,
	station       TEXT    NOT NULL,
	hash          TEXT    NOT NULL,
	path          TEXT    NOT NULL,
	channel_count INTEGER NOT NULL,
	size_bytes    INTEGER NOT NULL,
	submitter_id  TEXT    NOT NULL,
	status        INTEGER NOT NULL,
	error         TEXT    NOT NULL DEFAULT '',
	created       TEXT    NOT NULL,
	modified      TEXT    NOT NULL,
	available     TEXT
);
CREATE INDEX IF NOT EXISTS files_status   ON files(status, modified);
CREATE INDEX IF NOT EXISTS files_station  ON files(network_code, station);
CREATE INDEX IF NOT EXISTS files_hash     ON files(hash);

CREATE TABLE IF NOT EXISTS prototypes (
	hash          TEXT    NOT NULL PRIMARY KEY,
	network_code  TEXT    NOT NULL,
	network_start TEXT    NOT NULL,
	network_end   TEXT,
	restricted    INTEGER NOT NULL,
	description   TEXT    NOT NULL DEFAULT '',
	created       TEXT    NOT NULL
);
CREATE INDEX IF NOT EXISTS prototypes_identity ON prototypes(network_code, network_start, created);

CREATE TABLE IF NOT EXISTS users (
	id          TEXT    NOT NULL PRIMARY KEY,
	name        TEXT    NOT NULL UNIQUE,
	password    TEXT    NOT NULL,
	role        INTEGER NOT NULL,
	proto_code  TEXT,
	proto_start TEXT
);

CREATE TABLE IF NOT EXISTS sessions (
	token   TEXT NOT NULL PRIMARY KEY,
	user_id TEXT NOT NULL REFERENCES users(id),
	expires TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS notifications (
	id      TEXT    NOT NULL PRIMARY KEY,
	user_id TEXT    NOT NULL REFERENCES users(id),
	message TEXT    NOT NULL,
	created TEXT    NOT NULL,
	read    INTEGER NOT NULL DEFAULT 0
);
`

// timeLayout is how timestamps are stored; lexicographic order equals
// chronological order.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func encodeTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func encodeTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return encodeTime(*t)
}

func decodeTime(value string) (time.Time, error) {
	t, err := time.Parse(timeLayout, value)
	return t.UTC(), err
}

func decodeTimePtr(value sql.NullString) (*time.Time, error) {
	if !value.Valid {
		return nil, nil
	}
	t, err := decodeTime(value.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
