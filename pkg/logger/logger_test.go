package logger

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestNewParsesLevel(t *testing.T) {
	New(Config{Level: "debug"})
	assert.Equal(t, zerolog.DebugLevel, zerolog.GlobalLevel())

	New(Config{Level: " WARN "})
	assert.Equal(t, zerolog.WarnLevel, zerolog.GlobalLevel())
}

func TestNewFallsBackToInfo(t *testing.T) {
	New(Config{Level: "verbose"})
	assert.Equal(t, zerolog.InfoLevel, zerolog.GlobalLevel())

	New(Config{})
	assert.Equal(t, zerolog.InfoLevel, zerolog.GlobalLevel())
}
