// Copyright (C) 2026 Seiscenter, Inc.
// See LICENSE for copying information.

package indexdb

import (
	"context"

	"github.com/zeebo/errs"

	"storj.io/common/uuid"

	"github.com/seiscenter/metad/curation/notifications"
)

// ensures that notificationDB implements notifications.DB.
var _ notifications.DB = (*notificationDB)(nil)

// notificationDB is the sqlite notification collection.
type notificationDB DB

// Insert adds a notification.
func (db *notificationDB) Insert(ctx context.Context, notification notifications.Notification) (err error) {
	defer mon.Task()(&ctx)(&err)

	_, err = db.db.ExecContext(ctx,
		`INSERT INTO notifications (id, user_id, message, created, read) VALUES (?, ?, ?, ?, ?)`,
		notification.ID.String(),
		notification.UserID.String(),
		notification.Message,
		encodeTime(notification.Created),
		boolToInt(notification.Read),
	)
	return notifications.Error.Wrap(err)
}

// ListUnread returns a user's unread notifications, newest first.
func (db *notificationDB) ListUnread(ctx context.Context, userID uuid.UUID) (list []notifications.Notification, err error) {
	defer mon.Task()(&ctx)(&err)

	rows, err := db.db.QueryContext(ctx,
		`SELECT id, user_id, message, created, read FROM notifications
		 WHERE user_id = ? AND read = 0
		 ORDER BY created DESC, rowid DESC`, userID.String())
	if err != nil {
		return nil, notifications.Error.Wrap(err)
	}
	defer func() { err = errs.Combine(err, rows.Err(), rows.Close()) }()

	for rows.Next() {
		var (
			notification notifications.Notification
			id, user     string
			created      string
			read         int
		)
		err := rows.Scan(&id, &user, &notification.Message, &created, &read)
		if err != nil {
			return nil, notifications.Error.Wrap(err)
		}
		if notification.ID, err = uuid.FromString(id); err != nil {
			return nil, notifications.Error.Wrap(err)
		}
		if notification.UserID, err = uuid.FromString(user); err != nil {
			return nil, notifications.Error.Wrap(err)
		}
		if notification.Created, err = decodeTime(created); err != nil {
			return nil, notifications.Error.Wrap(err)
		}
		notification.Read = read != 0
		list = append(list, notification)
	}
	return list, nil
}

// MarkRead marks all of a user's notifications as read.
func (db *notificationDB) MarkRead(ctx context.Context, userID uuid.UUID) (err error) {
	defer mon.Task()(&ctx)(&err)

	_, err = db.db.ExecContext(ctx,
		`UPDATE notifications SET read = 1 WHERE user_id = ?`, userID.String())
	return notifications.Error.Wrap(err)
}
