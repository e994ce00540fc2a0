// Copyright (C) 2026 Seiscenter, Inc.
// See LICENSE for copying information.

package indexdb

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/zeebo/errs"

	"storj.io/common/uuid"

	"github.com/seiscenter/metad/curation/index"
)

// ensures that filesDB implements index.DB.
var _ index.DB = (*filesDB)(nil)

// filesDB is the sqlite metadata index.
type filesDB DB

const fileColumns = `id, network_code, network_start, network_end, station, hash, path,
	channel_count, size_bytes, submitter_id, status, error, created, modified, available`

// Insert adds a new record unless an active record with the same hash
// exists.
func (db *filesDB) Insert(ctx context.Context, record index.Record) (err error) {
	defer mon.Task()(&ctx)(&err)

	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return index.Error.Wrap(err)
	}
	defer func() {
		if err != nil {
			err = index.Error.Wrap(errs.Combine(err, tx.Rollback()))
		}
	}()

	var active int
	err = tx.QueryRowContext(ctx,
		`SELECT count(*) FROM files WHERE hash = ? AND status NOT IN (?, ?, ?)`,
		record.Hash, int(index.StatusSuperseded), int(index.StatusDeleted), int(index.StatusRejected),
	).Scan(&active)
	if err != nil {
		return err
	}
	if active > 0 {
		return index.ErrDuplicateActive.New("hash %s", record.Hash)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO files (`+fileColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.ID.String(),
		record.Network.Code,
		encodeTime(record.Network.Start),
		encodeTimePtr(record.Network.End),
		record.Station,
		record.Hash,
		record.Path,
		record.ChannelCount,
		record.Size,
		record.SubmitterID.String(),
		int(record.Status),
		record.Error,
		encodeTime(record.Created),
		encodeTime(record.Modified),
		encodeTimePtr(record.Available),
	)
	if err != nil {
		return err
	}
	return index.Error.Wrap(tx.Commit())
}

// Get returns the record with the given id.
func (db *filesDB) Get(ctx context.Context, id uuid.UUID) (_ index.Record, err error) {
	defer mon.Task()(&ctx)(&err)

	row := db.db.QueryRowContext(ctx,
		`SELECT `+fileColumns+` FROM files WHERE id = ?`, id.String())
	record, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return index.Record{}, index.ErrNotFound.New("id %s", id)
	}
	return record, index.Error.Wrap(err)
}

// GetByHash returns the most recently created record with the hash.
func (db *filesDB) GetByHash(ctx context.Context, hash string) (_ index.Record, err error) {
	defer mon.Task()(&ctx)(&err)

	row := db.db.QueryRowContext(ctx,
		`SELECT `+fileColumns+` FROM files WHERE hash = ?
		 ORDER BY created DESC, rowid DESC LIMIT 1`, hash)
	record, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return index.Record{}, index.ErrNotFound.New("hash %s", hash)
	}
	return record, index.Error.Wrap(err)
}

// FindLatest returns the most recently created record for the station.
func (db *filesDB) FindLatest(ctx context.Context, network index.Network, station string) (_ index.Record, err error) {
	defer mon.Task()(&ctx)(&err)

	row := db.db.QueryRowContext(ctx,
		`SELECT `+fileColumns+` FROM files
		 WHERE network_code = ? AND network_start = ? AND station = ?
		 ORDER BY created DESC, rowid DESC LIMIT 1`,
		network.Code, encodeTime(network.Start), station)
	record, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return index.Record{}, index.ErrNotFound.New("station %s.%s", network.Code, station)
	}
	return record, index.Error.Wrap(err)
}

// ClaimNext returns the oldest-modified record among the given
// statuses that is not already claimed by another worker.
func (db *filesDB) ClaimNext(ctx context.Context, statuses ...index.Status) (_ *index.Claim, err error) {
	defer mon.Task()(&ctx)(&err)

	if len(statuses) == 0 {
		return nil, index.ErrNotFound.New("no statuses requested")
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(statuses)), ", ")
	args := make([]any, 0, len(statuses))
	for _, status := range statuses {
		args = append(args, int(status))
	}

	// read the candidates fully before registering a hold, so a late
	// rows error cannot leak a hold that nobody releases.
	records, err := db.queryRecords(ctx,
		`SELECT `+fileColumns+` FROM files WHERE status IN (`+placeholders+`)
		 ORDER BY modified ASC, rowid ASC`, args...)
	if err != nil {
		return nil, err
	}

	db.claims.Lock()
	defer db.claims.Unlock()

	for _, record := range records {
		if _, held := db.claims.held[record.ID]; held {
			continue
		}
		db.claims.held[record.ID] = struct{}{}
		id := record.ID
		return index.NewClaim(record, func() {
			db.claims.Lock()
			defer db.claims.Unlock()
			delete(db.claims.held, id)
		}), nil
	}
	return nil, index.ErrNotFound.New("nothing claimable")
}

// Transition conditionally moves a record between statuses.
func (db *filesDB) Transition(ctx context.Context, id uuid.UUID, from, to index.Status, fields index.TransitionFields) (err error) {
	defer mon.Task()(&ctx)(&err)

	result, err := db.db.ExecContext(ctx,
		`UPDATE files SET status = ?, error = ?, available = COALESCE(?, available), modified = ?
		 WHERE id = ? AND status = ?`,
		int(to), fields.Error, encodeTimePtr(fields.Available), encodeTime(time.Now()),
		id.String(), int(from))
	if err != nil {
		return index.Error.Wrap(err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return index.Error.Wrap(err)
	}
	if affected == 0 {
		current, err := db.Get(ctx, id)
		if err != nil {
			return err
		}
		return index.ErrConflict.New("id %s: expected %v, found %v", id, from, current.Status)
	}
	return nil
}

// ListStation returns the full history for a station, newest first.
func (db *filesDB) ListStation(ctx context.Context, network index.Network, station string) (_ []index.Record, err error) {
	defer mon.Task()(&ctx)(&err)

	return db.queryRecords(ctx,
		`SELECT `+fileColumns+` FROM files
		 WHERE network_code = ? AND network_start = ? AND station = ?
		 ORDER BY created DESC, rowid DESC`,
		network.Code, encodeTime(network.Start), station)
}

// History returns the full history for a station addressed by bare
// network code, newest first.
func (db *filesDB) History(ctx context.Context, networkCode, station string) (_ []index.Record, err error) {
	defer mon.Task()(&ctx)(&err)

	return db.queryRecords(ctx,
		`SELECT `+fileColumns+` FROM files
		 WHERE network_code = ? AND station = ?
		 ORDER BY created DESC, rowid DESC`,
		networkCode, station)
}

// ListByStatus returns every record in the status, oldest modified
// first.
func (db *filesDB) ListByStatus(ctx context.Context, status index.Status) (_ []index.Record, err error) {
	defer mon.Task()(&ctx)(&err)

	return db.queryRecords(ctx,
		`SELECT `+fileColumns+` FROM files WHERE status = ?
		 ORDER BY modified ASC, rowid ASC`, int(status))
}

// LatestPerStation returns the most recently created record of every
// station under the network code.
func (db *filesDB) LatestPerStation(ctx context.Context, networkCode string) (_ []index.Record, err error) {
	defer mon.Task()(&ctx)(&err)

	return db.queryRecords(ctx,
		`SELECT `+fileColumns+` FROM files AS f
		 WHERE f.network_code = ?
		   AND f.rowid = (
			SELECT g.rowid FROM files AS g
			WHERE g.network_code = f.network_code AND g.station = f.station
			ORDER BY g.created DESC, g.rowid DESC LIMIT 1)
		 ORDER BY f.station ASC`, networkCode)
}

// AcceptedSet returns, per station, the latest ACCEPTED or COMPLETED
// record: the full published inventory.
func (db *filesDB) AcceptedSet(ctx context.Context) (_ []index.Record, err error) {
	defer mon.Task()(&ctx)(&err)

	return db.queryRecords(ctx,
		`SELECT `+fileColumns+` FROM files AS f
		 WHERE f.status IN (?, ?)
		   AND f.rowid = (
			SELECT g.rowid FROM files AS g
			WHERE g.network_code = f.network_code AND g.network_start = f.network_start
			  AND g.station = f.station AND g.status IN (?, ?)
			ORDER BY g.created DESC, g.rowid DESC LIMIT 1)
		 ORDER BY f.network_code ASC, f.station ASC`,
		int(index.StatusAccepted), int(index.StatusCompleted),
		int(index.StatusAccepted), int(index.StatusCompleted))
}

// CountByHash returns how many records reference the hash.
func (db *filesDB) CountByHash(ctx context.Context, hash string) (count int, err error) {
	defer mon.Task()(&ctx)(&err)

	err = db.db.QueryRowContext(ctx,
		`SELECT count(*) FROM files WHERE hash = ?`, hash).Scan(&count)
	return count, index.Error.Wrap(err)
}

// Delete removes a record row. Only records in DELETED may be removed.
func (db *filesDB) Delete(ctx context.Context, id uuid.UUID) (err error) {
	defer mon.Task()(&ctx)(&err)

	result, err := db.db.ExecContext(ctx,
		`DELETE FROM files WHERE id = ? AND status = ?`,
		id.String(), int(index.StatusDeleted))
	if err != nil {
		return index.Error.Wrap(err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return index.Error.Wrap(err)
	}
	if affected == 0 {
		return index.ErrNotFound.New("no deletable record with id %s", id)
	}
	return nil
}

func (db *filesDB) queryRecords(ctx context.Context, query string, args ...any) (records []index.Record, err error) {
	rows, err := db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, index.Error.Wrap(err)
	}
	defer func() { err = errs.Combine(err, rows.Err(), rows.Close()) }()

	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, index.Error.Wrap(err)
		}
		records = append(records, record)
	}
	return records, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (record index.Record, err error) {
	var (
		id, submitter, start string
		end, available       sql.NullString
		status               int
		created, modified    string
	)
	err = row.Scan(
		&id, &record.Network.Code, &start, &end, &record.Station,
		&record.Hash, &record.Path, &record.ChannelCount, &record.Size,
		&submitter, &status, &record.Error, &created, &modified, &available,
	)
	if err != nil {
		return index.Record{}, err
	}

	record.ID, err = uuid.FromString(id)
	if err != nil {
		return index.Record{}, err
	}
	record.SubmitterID, err = uuid.FromString(submitter)
	if err != nil {
		return index.Record{}, err
	}
	record.Status = index.Status(status)
	if record.Network.Start, err = decodeTime(start); err != nil {
		return index.Record{}, err
	}
	if record.Network.End, err = decodeTimePtr(end); err != nil {
		return index.Record{}, err
	}
	if record.Created, err = decodeTime(created); err != nil {
		return index.Record{}, err
	}
	if record.Modified, err = decodeTime(modified); err != nil {
		return index.Record{}, err
	}
	if record.Available, err = decodeTimePtr(available); err != nil {
		return index.Record{}, err
	}
	return record, nil
}
