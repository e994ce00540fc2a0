// Copyright (C) 2026 Seiscenter, Inc.
// See LICENSE for copying information.

// Package executor wraps the external converter/merger tool. Exit
// status and stderr are data for the caller to judge, never an
// exception: the wrapper only errors when the tool could not be run at
// all.
package executor

import (
	"bytes"
	"context"
	"errors"
	"io"
	"time"

	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"
	"golang.org/x/sys/execabs"

	"storj.io/common/uuid"
)

var (
	// Error is the default executor error class.
	Error = errs.Class("executor")
	// ErrTimeout is returned when an invocation exceeded its wall-clock
	// limit and the child was killed.
	ErrTimeout = errs.Class("tool timeout")

	mon = monkit.Package()
)

// Config holds executor configuration.
type Config struct {
	Binary  string        `help:"path to the converter/merger executable" default:"metaconv"`
	Timeout time.Duration `help:"wall-clock limit for one tool invocation" default:"10m0s"`
}

// Result is the outcome of one tool invocation.
type Result struct {
	ExitCode int
	Stderr   []byte
}

// Ok reports whether the tool exited zero.
func (result Result) Ok() bool { return result.ExitCode == 0 }

// Executor invokes the external tool.
//
// architecture: Service
type Executor struct {
	log    *zap.Logger
	config Config
}

// New creates an executor.
func New(log *zap.Logger, config Config) *Executor {
	return &Executor{log: log, config: config}
}

// Convert converts a StationXML source into the tool's internal form
// at the target path.
func (ex *Executor) Convert(ctx context.Context, source, target string) (Result, error) {
	return ex.run(ctx, nil, "convert", source, target)
}

// MergeTo merges the files into one inventory streamed to sink.
func (ex *Executor) MergeTo(ctx context.Context, sink io.Writer, files ...string) (Result, error) {
	return ex.run(ctx, sink, append([]string{"merge"}, files...)...)
}

// MergeFile merges the files into one inventory written to the target
// path.
func (ex *Executor) MergeFile(ctx context.Context, target string, files ...string) (Result, error) {
	return ex.run(ctx, nil, append([]string{"merge", "-o", target}, files...)...)
}

// Reconfigure requests the downstream webservice to re-read the
// inventory.
func (ex *Executor) Reconfigure(ctx context.Context) (Result, error) {
	return ex.run(ctx, nil, "reconfigure")
}

// RestartQueryService restarts the downstream query webservice.
func (ex *Executor) RestartQueryService(ctx context.Context) (Result, error) {
	return ex.run(ctx, nil, "restart-query")
}

// run spawns the tool and waits for it. A non-zero exit is reported in
// the Result; the error return is reserved for spawn failures and
// timeouts. On timeout the child is killed and the caller's record
// stays wherever it was.
func (ex *Executor) run(ctx context.Context, stdout io.Writer, args ...string) (_ Result, err error) {
	defer mon.Task()(&ctx)(&err)

	invocation, err := uuid.New()
	if err != nil {
		return Result{}, Error.Wrap(err)
	}
	log := ex.log.With(
		zap.Stringer("invocation", invocation),
		zap.String("binary", ex.config.Binary),
		zap.Strings("args", args))

	ctx, cancel := context.WithTimeout(ctx, ex.config.Timeout)
	defer cancel()

	var stderr bytes.Buffer
	cmd := execabs.CommandContext(ctx, ex.config.Binary, args...)
	cmd.Stderr = &stderr
	if stdout != nil {
		cmd.Stdout = stdout
	}

	log.Debug("starting tool")
	started := time.Now()

	if err := cmd.Run(); err != nil {
		switch {
		case errors.Is(ctx.Err(), context.DeadlineExceeded):
			log.Warn("tool killed after timeout", zap.Duration("after", time.Since(started)))
			return Result{}, ErrTimeout.New("%v after %s", args, time.Since(started))
		case ctx.Err() != nil:
			// shutdown, not a misbehaving tool.
			log.Debug("tool interrupted", zap.Error(ctx.Err()))
			return Result{}, Error.Wrap(ctx.Err())
		}
		var exitErr *execabs.ExitError
		if errors.As(err, &exitErr) {
			log.Info("tool exited non-zero",
				zap.Int("status", exitErr.ExitCode()),
				zap.String("stderr", stderr.String()))
			return Result{ExitCode: exitErr.ExitCode(), Stderr: stderr.Bytes()}, nil
		}
		log.Error("tool could not be run", zap.Error(err))
		return Result{}, Error.Wrap(err)
	}

	log.Debug("tool finished", zap.Duration("elapsed", time.Since(started)))
	return Result{ExitCode: 0, Stderr: stderr.Bytes()}, nil
}
