package cmd

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrateCommand_RequiresDatabaseURL(t *testing.T) {
	t.Setenv("SESSION_SECRET", "cli-secret")
	t.Setenv("SESSION_BACKEND", "memory")
	t.Setenv("DATABASE_URL", "")

	for _, args := range [][]string{{"migrate", "up"}, {"migrate", "down"}, {"migrate", "version"}} {
		cmd := NewRootCommand()
		cmd.SetOut(new(bytes.Buffer))
		cmd.SetErr(new(bytes.Buffer))
		cmd.SetArgs(args)

		err := cmd.Execute()
		require.Error(t, err, args)
		assert.Contains(t, err.Error(), "DATABASE_URL is required", args)
	}
}

func TestMigrateDown_RejectsZeroSteps(t *testing.T) {
	cmd := NewRootCommand()
	cmd.SetOut(new(bytes.Buffer))
	cmd.SetErr(new(bytes.Buffer))
	cmd.SetArgs([]string{"migrate", "down", "--steps", "0"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--steps must be at least 1")
}
