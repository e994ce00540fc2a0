// Copyright (C) 2026 Seiscenter, Inc.
// See LICENSE for copying information.

package index_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/seiscenter/metad/curation/index"
)

func TestStatus_WireValues(t *testing.T) {
	// stored in the database and served to the UI; must never change.
	require.EqualValues(t, -3, index.StatusSuperseded)
	require.EqualValues(t, -2, index.StatusDeleted)
	require.EqualValues(t, -1, index.StatusRejected)
	require.EqualValues(t, 0, index.StatusUnchanged)
	require.EqualValues(t, 1, index.StatusPending)
	require.EqualValues(t, 2, index.StatusValidated)
	require.EqualValues(t, 3, index.StatusConverted)
	require.EqualValues(t, 4, index.StatusAccepted)
	require.EqualValues(t, 5, index.StatusCompleted)
}

func TestStatus_Classification(t *testing.T) {
	for _, status := range []index.Status{
		index.StatusPending, index.StatusValidated, index.StatusConverted,
		index.StatusAccepted, index.StatusCompleted, index.StatusUnchanged,
	} {
		require.True(t, status.Active(), status)
		require.False(t, status.Retired(), status)
	}
	for _, status := range []index.Status{
		index.StatusSuperseded, index.StatusDeleted, index.StatusRejected,
	} {
		require.False(t, status.Active(), status)
	}
	require.True(t, index.StatusSuperseded.Retired())
	require.True(t, index.StatusDeleted.Retired())
	require.False(t, index.StatusRejected.Retired())

	require.True(t, index.StatusPending.InFlight())
	require.True(t, index.StatusAccepted.InFlight())
	require.False(t, index.StatusCompleted.InFlight())
	require.False(t, index.StatusRejected.InFlight())
}

func TestNetwork_Identity(t *testing.T) {
	start := time.Date(1980, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)

	open := index.Network{Code: "NZ", Start: start}
	closed := index.Network{Code: "NZ", Start: start, End: &end}

	require.True(t, open.SameIdentity(closed), "the end is not part of the identity")
	require.False(t, open.SameIdentity(index.Network{Code: "AU", Start: start}))
	require.False(t, open.SameIdentity(index.Network{Code: "NZ", Start: start.AddDate(1, 0, 0)}))

	require.True(t, open.SameEnd(index.Network{Code: "NZ", Start: start}))
	require.False(t, open.SameEnd(closed))

	sameEnd := end
	require.True(t, closed.SameEnd(index.Network{Code: "NZ", Start: start, End: &sameEnd}))

	otherEnd := end.AddDate(1, 0, 0)
	require.False(t, closed.SameEnd(index.Network{Code: "NZ", Start: start, End: &otherEnd}))
}
