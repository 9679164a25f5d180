package main

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegressCommandSignalsFailureWithoutExiting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapshots.yaml")
	doc := "baseline:\n  load_time: 2000\ncurrent:\n  load_time: 2600\n"
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	// A detected regression surfaces as the sentinel, not a process exit,
	// so main's teardown still runs before the nonzero status.
	err := regressCmd.RunE(regressCmd, []string{path})
	assert.True(t, errors.Is(err, errResultFailure))
}

func TestRegressCommandPassesOnCleanSnapshots(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapshots.yaml")
	doc := "baseline:\n  load_time: 2000\ncurrent:\n  load_time: 2010\n"
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	assert.NoError(t, regressCmd.RunE(regressCmd, []string{path}))
}
