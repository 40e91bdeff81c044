package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetailedLoggingGatesDebug(t *testing.T) {
	t.Cleanup(func() { _ = InitWithConfig(LogConfig{Level: "INFO", Format: "text"}) })

	require.NoError(t, InitWithConfig(LogConfig{Level: "DEBUG", Format: "text", DetailedLogging: true}))
	assert.True(t, IsDebugEnabled())

	require.NoError(t, InitWithConfig(LogConfig{Level: "DEBUG", Format: "text"}))
	assert.False(t, IsDebugEnabled())
}
