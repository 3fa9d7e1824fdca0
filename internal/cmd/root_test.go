package cmd

import (
	"errors"
	"fmt"
	"testing"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetVersionInfo(t *testing.T) {
	origVersion := versionInfo.Version
	origCommit := versionInfo.Commit
	origBuildDate := versionInfo.BuildDate
	defer func() {
		versionInfo.Version = origVersion
		versionInfo.Commit = origCommit
		versionInfo.BuildDate = origBuildDate
	}()

	tests := []struct {
		name      string
		version   string
		commit    string
		buildDate string
	}{
		{name: "set all values", version: "1.0.0", commit: "abc123", buildDate: "2026-01-15"},
		{name: "set dev version", version: "dev", commit: "HEAD", buildDate: "unknown"},
		{name: "set empty values"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			SetVersionInfo(tt.version, tt.commit, tt.buildDate)

			assert.Equal(t, tt.version, versionInfo.Version)
			assert.Equal(t, tt.commit, versionInfo.Commit)
			assert.Equal(t, tt.buildDate, versionInfo.BuildDate)
		})
	}
}

func TestExitError(t *testing.T) {
	cause := errors.New("boom")
	err := exitError(foundry.ExitInvalidArgument, "Invalid configuration", cause)

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "Invalid configuration: boom")
	assert.Contains(t, err.Error(), fmt.Sprintf("(exit code %d)", foundry.ExitInvalidArgument))
	assert.Equal(t, int(foundry.ExitInvalidArgument), ExitCode(err))

	wrapped := fmt.Errorf("outer: %w", err)
	assert.Equal(t, int(foundry.ExitInvalidArgument), ExitCode(wrapped))
	assert.Equal(t, 1, ExitCode(cause))
}

func TestCommandsRegistered(t *testing.T) {
	want := []string{"serve", "reconcile", "store", "indexer", "jobs", "doctor", "version"}
	have := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		have[c.Name()] = true
	}
	for _, name := range want {
		require.True(t, have[name], "command %s should be registered", name)
	}
}
