package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    zapcore.Level
		wantErr bool
	}{
		{"", zapcore.InfoLevel, false},
		{"debug", zapcore.DebugLevel, false},
		{"WARN", zapcore.WarnLevel, false},
		{" error ", zapcore.ErrorLevel, false},
		{"trace", zapcore.InfoLevel, true},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestNew(t *testing.T) {
	for _, mode := range []string{"dev", "prod", "production", ""} {
		logger, err := New(mode, "warn")
		require.NoError(t, err, mode)
		assert.False(t, logger.Core().Enabled(zapcore.InfoLevel), mode)
		assert.True(t, logger.Core().Enabled(zapcore.WarnLevel), mode)
	}

	_, err := New("dev", "loud")
	assert.Error(t, err)
}
