package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/unclebandit/campaign-dispatch/internal/config"
)

func TestCheckMode(t *testing.T) {
	cfg := config.Default()
	assert.ErrorIs(t, checkMode(cfg), errInProcessMode)

	cfg.Dispatch.Mode = config.ModeAMQP
	assert.NoError(t, checkMode(cfg))
}

func TestRunRefusesMemoryMode(t *testing.T) {
	err := run(config.Default(), zaptest.NewLogger(t))
	require.Error(t, err)
	assert.ErrorIs(t, err, errInProcessMode)
}
