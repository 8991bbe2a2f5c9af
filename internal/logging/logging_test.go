package logging

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNew_Levels(t *testing.T) {
	cases := map[string]zapcore.Level{
		"debug":  zapcore.DebugLevel,
		"INFO":   zapcore.InfoLevel,
		" warn ": zapcore.WarnLevel,
		"error":  zapcore.ErrorLevel,
	}
	for in, want := range cases {
		logger, err := New(in)
		require.NoError(t, err, in)
		require.True(t, logger.Core().Enabled(want), in)
		if want > zapcore.DebugLevel {
			require.False(t, logger.Core().Enabled(want-1), in)
		}
	}
}

func TestNew_InvalidLevel(t *testing.T) {
	_, err := New("verbose")
	require.Error(t, err)
	require.Contains(t, err.Error(), "verbose")
}
