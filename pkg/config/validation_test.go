package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateValidConfig(t *testing.T) {
	cfg := GetDefaultConfig()
	require.NoError(t, Validate(cfg))
}

func TestValidateInvalidLogLevel(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Logging.Level = "VERBOSE"

	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Logging.Level")
}

func TestValidateInvalidLogFormat(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Logging.Format = "xml"

	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Logging.Format")
}

func TestValidateEmptyPortRange(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Controller.ConsolePortStart = 6000
	cfg.Controller.ConsolePortEnd = 6000

	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "console port range")
}

func TestValidateOverlappingPortRanges(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Controller.ConsolePortStart = 9000
	cfg.Controller.ConsolePortEnd = 12000

	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "overlaps")
}

func TestValidateSSLRequiresCertFiles(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.API.SSL = true

	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "certfile")
}

func TestValidateSampleRateBounds(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Telemetry.SampleRate = 1.5

	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SampleRate")
}
