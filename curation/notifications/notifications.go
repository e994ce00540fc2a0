// Copyright (C) 2026 Seiscenter, Inc.
// See LICENSE for copying information.

// Package notifications fans submission events out to administrators.
package notifications

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"storj.io/common/uuid"

	"github.com/seiscenter/metad/curation/users"
)

// Error is the default notifications error class.
var Error = errs.Class("notifications")

// Notification is one message in a user's inbox.
type Notification struct {
	ID      uuid.UUID
	UserID  uuid.UUID
	Message string
	Created time.Time
	Read    bool
}

// DB stores notifications.
//
// architecture: Database
type DB interface {
	// Insert adds a notification.
	Insert(ctx context.Context, notification Notification) error
	// ListUnread returns a user's unread notifications, newest first.
	ListUnread(ctx context.Context, userID uuid.UUID) ([]Notification, error)
	// MarkRead marks all of a user's notifications as read.
	MarkRead(ctx context.Context, userID uuid.UUID) error
}

// Service delivers notifications.
type Service struct {
	log   *zap.Logger
	db    DB
	users users.DB
}

// NewService creates a notification service.
func NewService(log *zap.Logger, db DB, users users.DB) *Service {
	return &Service{log: log, db: db, users: users}
}

// SubmissionReceived notifies every administrator that the submitter
// uploaded metadata for the listed station identifiers.
func (service *Service) SubmissionReceived(ctx context.Context, submitter users.User, stations []string) error {
	admins, err := service.users.ListAdmins(ctx)
	if err != nil {
		return Error.Wrap(err)
	}
	message := fmt.Sprintf("%s submitted metadata for %s", submitter.Name, strings.Join(stations, ", "))

	var group errs.Group
	for _, admin := range admins {
		id, err := uuid.New()
		if err != nil {
			group.Add(err)
			continue
		}
		group.Add(service.db.Insert(ctx, Notification{
			ID:      id,
			UserID:  admin.ID,
			Message: message,
			Created: time.Now().UTC(),
		}))
	}
	return Error.Wrap(group.Err())
}

// ListUnread returns the unread notifications of a user.
func (service *Service) ListUnread(ctx context.Context, userID uuid.UUID) ([]Notification, error) {
	list, err := service.db.ListUnread(ctx, userID)
	return list, Error.Wrap(err)
}

// MarkRead marks all of a user's notifications as read.
func (service *Service) MarkRead(ctx context.Context, userID uuid.UUID) error {
	return Error.Wrap(service.db.MarkRead(ctx, userID))
}
