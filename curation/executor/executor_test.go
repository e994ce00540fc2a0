// Copyright (C) 2026 Seiscenter, Inc.
// See LICENSE for copying information.

package executor_test

import (
	"bytes"
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"storj.io/common/testcontext"

	"github.com/seiscenter/metad/curation/executor"
)

// fakeTool writes a shell script standing in for the converter binary.
func fakeTool(t *testing.T, ctx *testcontext.Context, name, body string) string {
	path := ctx.File("bin", name)
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return path
}

func newExecutor(t *testing.T, binary string, timeout time.Duration) *executor.Executor {
	return executor.New(zaptest.NewLogger(t), executor.Config{
		Binary:  binary,
		Timeout: timeout,
	})
}

func TestExecutor_Convert(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	tool := fakeTool(t, ctx, "metaconv", `
case "$1" in
convert) cp "$2" "$3" ;;
*) echo "unknown command $1" >&2; exit 64 ;;
esac`)
	exec := newExecutor(t, tool, time.Minute)

	source := ctx.File("blobs", "input.xml")
	target := ctx.File("blobs", "output.converted")
	require.NoError(t, os.WriteFile(source, []byte("<xml/>"), 0o644))

	result, err := exec.Convert(ctx, source, target)
	require.NoError(t, err)
	require.True(t, result.Ok())

	data, err := os.ReadFile(target)
	require.NoError(t, err)
	require.Equal(t, "<xml/>", string(data))
}

func TestExecutor_NonZeroExitIsData(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	tool := fakeTool(t, ctx, "metaconv", `echo "response stage 3 is inconsistent" >&2; exit 3`)
	exec := newExecutor(t, tool, time.Minute)

	result, err := exec.Convert(ctx, "in", "out")
	require.NoError(t, err, "a tool rejection is not an executor error")
	require.False(t, result.Ok())
	require.Equal(t, 3, result.ExitCode)
	require.Contains(t, string(result.Stderr), "response stage 3 is inconsistent")
}

func TestExecutor_MergeTo(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	tool := fakeTool(t, ctx, "metaconv", `
cmd="$1"; shift
case "$cmd" in
merge) cat "$@" ;;
*) exit 64 ;;
esac`)
	exec := newExecutor(t, tool, time.Minute)

	one := ctx.File("blobs", "one")
	two := ctx.File("blobs", "two")
	require.NoError(t, os.WriteFile(one, []byte("first "), 0o644))
	require.NoError(t, os.WriteFile(two, []byte("second"), 0o644))

	var sink bytes.Buffer
	result, err := exec.MergeTo(ctx, &sink, one, two)
	require.NoError(t, err)
	require.True(t, result.Ok())
	require.Equal(t, "first second", sink.String())
}

func TestExecutor_Timeout(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	tool := fakeTool(t, ctx, "metaconv", `sleep 10`)
	exec := newExecutor(t, tool, 100*time.Millisecond)

	start := time.Now()
	_, err := exec.Reconfigure(ctx)
	require.True(t, executor.ErrTimeout.Has(err))
	require.Less(t, time.Since(start), 5*time.Second, "the child must be killed, not awaited")
}

func TestExecutor_CanceledContext(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	tool := fakeTool(t, ctx, "metaconv", `sleep 10`)
	exec := newExecutor(t, tool, time.Minute)

	canceled, cancel := context.WithCancel(context.Background())
	cancel()

	// shutdown is not a tool timeout.
	_, err := exec.Reconfigure(canceled)
	require.Error(t, err)
	require.False(t, executor.ErrTimeout.Has(err))
	require.True(t, errors.Is(err, context.Canceled))
}

func TestExecutor_MissingBinary(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	exec := newExecutor(t, ctx.File("bin", "does-not-exist"), time.Minute)

	_, err := exec.Reconfigure(ctx)
	require.Error(t, err)
	require.True(t, executor.Error.Has(err))
	require.False(t, executor.ErrTimeout.Has(err))
}
