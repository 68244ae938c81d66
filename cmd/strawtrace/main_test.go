package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsNoStoreCommand(t *testing.T) {
	assert.True(t, isNoStoreCommand(rootCmd))
	assert.True(t, isNoStoreCommand(initCmd))
	assert.True(t, isNoStoreCommand(configInitCmd))
	assert.True(t, isNoStoreCommand(configShowCmd))
	assert.True(t, isNoStoreCommand(versionCmd))

	assert.False(t, isNoStoreCommand(checkCmd))
	assert.False(t, isNoStoreCommand(batchCreateCmd))
	assert.False(t, isNoStoreCommand(leakRecordCmd))
}

func TestCommandsRegistered(t *testing.T) {
	want := []string{"resolve", "check", "status", "record", "adds", "batch", "leak", "consolidate", "watch", "export", "config", "init", "version"}
	have := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		have[c.Name()] = true
	}
	for _, name := range want {
		assert.True(t, have[name], "missing command %q", name)
	}
}
