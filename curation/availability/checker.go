// Copyright (C) 2026 Seiscenter, Inc.
// See LICENSE for copying information.

// Package availability confirms that accepted metadata is actually
// served by the public query webservice before marking it complete.
package availability

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"storj.io/common/sync2"

	"github.com/seiscenter/metad/curation/index"
	"github.com/seiscenter/metad/curation/stationxml"
)

var (
	// Error is the default availability error class.
	Error = errs.Class("availability")
	// ErrWebservice is returned when the query webservice cannot be
	// reached; records are revisited on the next cycle.
	ErrWebservice = errs.Class("AvailabilityWebserviceDown")

	mon = monkit.Package()
)

// Config defines parameters for the availability checker.
type Config struct {
	Interval time.Duration `help:"how often accepted records are checked against the query webservice" default:"10m0s"`
	QueryURL string        `help:"base URL of the public fdsnws-station query endpoint" default:""`
	Timeout  time.Duration `help:"per-request timeout for the query webservice" default:"30s"`
}

// Checker promotes ACCEPTED records to COMPLETED once the query
// webservice serves a hash-identical Network element.
//
// architecture: Chore
type Checker struct {
	log    *zap.Logger
	files  index.DB
	client *http.Client
	config Config

	Loop *sync2.Cycle
}

// NewChecker creates an availability checker.
func NewChecker(log *zap.Logger, files index.DB, config Config) *Checker {
	return &Checker{
		log:    log,
		files:  files,
		client: &http.Client{Timeout: config.Timeout},
		config: config,
		Loop:   sync2.NewCycle(config.Interval),
	}
}

// Run runs the checker until the context is canceled.
func (checker *Checker) Run(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)

	if checker.config.QueryURL == "" {
		checker.log.Info("no query webservice configured, availability checking disabled")
		return nil
	}
	return checker.Loop.Run(ctx, func(ctx context.Context) error {
		if err := checker.Check(ctx); err != nil {
			checker.log.Error("availability check failed", zap.Error(err))
		}
		return nil
	})
}

// Close stops the checker.
func (checker *Checker) Close() error {
	checker.Loop.Close()
	return nil
}

// Check inspects every ACCEPTED record once. A served document whose
// canonical hash equals the record's hash completes the record; a
// mismatch leaves it for the next cycle.
func (checker *Checker) Check(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)

	accepted, err := checker.files.ListByStatus(ctx, index.StatusAccepted)
	if err != nil {
		return Error.Wrap(err)
	}

	for _, record := range accepted {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		served, err := checker.servedHash(ctx, record)
		if err != nil {
			if ErrWebservice.Has(err) {
				// outage: no point hammering the remaining stations.
				return err
			}
			checker.log.Warn("could not determine served hash",
				zap.Stringer("id", record.ID),
				zap.String("station", record.Station),
				zap.Error(err))
			continue
		}
		if served != record.Hash {
			checker.log.Debug("served metadata differs, not yet complete",
				zap.String("network", record.Network.Code),
				zap.String("station", record.Station))
			continue
		}

		now := time.Now().UTC()
		err = checker.files.Transition(ctx, record.ID, index.StatusAccepted, index.StatusCompleted,
			index.TransitionFields{Available: &now})
		if err != nil {
			if index.ErrConflict.Has(err) {
				continue
			}
			return err
		}
		checker.log.Info("record completed",
			zap.String("network", record.Network.Code),
			zap.String("station", record.Station),
			zap.String("hash", record.Hash))
	}
	return nil
}

// servedHash fetches the station's metadata from the query webservice
// and returns the canonical hash of the served Network element.
func (checker *Checker) servedHash(ctx context.Context, record index.Record) (_ string, err error) {
	defer mon.Task()(&ctx)(&err)

	query := url.Values{}
	query.Set("network", record.Network.Code)
	query.Set("station", record.Station)
	query.Set("level", "response")

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, checker.config.QueryURL+"?"+query.Encode(), nil)
	if err != nil {
		return "", Error.Wrap(err)
	}
	response, err := checker.client.Do(request)
	if err != nil {
		return "", ErrWebservice.Wrap(err)
	}
	defer func() { err = errs.Combine(err, response.Body.Close()) }()

	if response.StatusCode != http.StatusOK {
		return "", Error.New("webservice returned %d for %s.%s",
			response.StatusCode, record.Network.Code, record.Station)
	}
	body, err := io.ReadAll(response.Body)
	if err != nil {
		return "", ErrWebservice.Wrap(err)
	}

	artifacts, err := stationxml.Extract(body)
	if err != nil {
		return "", Error.Wrap(err)
	}
	for _, artifact := range artifacts {
		if artifact.Station == record.Station && artifact.Network.Code == record.Network.Code {
			return artifact.Hash, nil
		}
	}
	return "", Error.New("station %s.%s not in served document", record.Network.Code, record.Station)
}
