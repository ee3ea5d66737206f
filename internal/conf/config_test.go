package conf

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/camerahal/internal/capture"
	"github.com/tphakala/camerahal/internal/channel"
	"github.com/tphakala/camerahal/internal/errors"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadWith_Defaults(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, "debug: false\n")
	settings, err := LoadWith(viper.New(), path)
	require.NoError(t, err)

	assert.Equal(t, capture.DefaultMaxInflight, settings.Pipeline.MaxInflight)
	assert.Equal(t, capture.DefaultMinInflight, settings.Pipeline.MinInflight)
	assert.Equal(t, capture.DefaultPartialResultCount, settings.Pipeline.PartialResultCount)
	assert.Equal(t, capture.DefaultSubmitTimeout, settings.Pipeline.SubmitTimeout)
	assert.Equal(t, 20*time.Millisecond, settings.Simulator.Latency)
	require.Len(t, settings.Pipeline.Streams, 2)
	assert.Equal(t, "preview", settings.Pipeline.Streams[0].ID)
	require.NotNil(t, settings.Logging.Console)
	assert.True(t, settings.Logging.Console.Enabled)
}

func TestLoadWith_FileOverrides(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
pipeline:
  max_inflight: 4
  min_inflight: 2
  submit_timeout: 250ms
  streams:
    - id: raw0
      kind: raw
      width: 4032
      height: 3024
    - id: stats
      kind: metadata
metrics:
  enabled: true
  listen: 127.0.0.1:9100
`)
	settings, err := LoadWith(viper.New(), path)
	require.NoError(t, err)

	assert.Equal(t, 4, settings.Pipeline.MaxInflight)
	assert.Equal(t, 2, settings.Pipeline.MinInflight)
	assert.Equal(t, 250*time.Millisecond, settings.Pipeline.SubmitTimeout)
	require.Len(t, settings.Pipeline.Streams, 2)
	assert.Equal(t, "metadata", settings.Pipeline.Streams[1].Kind)
	assert.True(t, settings.Metrics.Enabled)
	assert.Equal(t, "/metrics", settings.Metrics.Path)
}

func TestLoadWith_EnvironmentOverride(t *testing.T) {
	t.Setenv("CAMHAL_PIPELINE_MAX_INFLIGHT", "8")
	t.Setenv("CAMHAL_PIPELINE_FENCE_TIMEOUT", "750ms")

	path := writeConfig(t, "debug: true\n")
	settings, err := LoadWith(viper.New(), path)
	require.NoError(t, err)

	assert.True(t, settings.Debug)
	assert.Equal(t, 8, settings.Pipeline.MaxInflight)
	assert.Equal(t, 750*time.Millisecond, settings.Pipeline.FenceTimeout)
}

func TestLoadWith_MissingExplicitFile(t *testing.T) {
	t.Parallel()

	_, err := LoadWith(viper.New(), filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryFileIO))
}

func TestLoadWith_ValidationAggregates(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
pipeline:
  max_inflight: 2
  min_inflight: 3
  streams:
    - id: a
      kind: video
simulator:
  drop_rate: 1.5
`)
	_, err := LoadWith(viper.New(), path)
	require.Error(t, err)

	var ve ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Len(t, ve.Errors, 3)
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation))
}

func TestValidateSettings_TelemetryRequiresDSN(t *testing.T) {
	t.Parallel()

	settings := validSettings(t)
	settings.Telemetry = TelemetrySettings{Enabled: true, MinPriority: "urgent"}

	err := ValidateSettings(settings)
	require.Error(t, err)

	var ve ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Len(t, ve.Errors, 2)
}

func TestValidateSettings_MetricsListen(t *testing.T) {
	t.Parallel()

	settings := validSettings(t)
	settings.Metrics = MetricsSettings{Enabled: true, Listen: "nope", Path: "metrics"}

	var ve ValidationError
	require.True(t, errors.As(ValidateSettings(settings), &ve))
	assert.Len(t, ve.Errors, 2)
}

func TestPipelineSettings_DeviceConfig(t *testing.T) {
	t.Parallel()

	settings := validSettings(t)
	cfg, err := settings.Pipeline.DeviceConfig()
	require.NoError(t, err)

	assert.Equal(t, settings.Pipeline.MaxInflight, cfg.MaxInflight)
	require.Len(t, cfg.Streams, 2)
	assert.Equal(t, channel.KindRegular, cfg.Streams[0].Kind)
	assert.Equal(t, channel.KindPicture, cfg.Streams[1].Kind)

	settings.Pipeline.Streams[0].Kind = "hologram"
	_, err = settings.Pipeline.DeviceConfig()
	require.Error(t, err)
	assert.ErrorIs(t, err, channel.ErrUnknownKind)
}

func validSettings(t *testing.T) *Settings {
	t.Helper()
	settings, err := LoadWith(viper.New(), writeConfig(t, "debug: false\n"))
	require.NoError(t, err)
	return settings
}

func TestValidateSettings_SimulatorFrameRate(t *testing.T) {
	t.Parallel()

	settings := validSettings(t)
	assert.Zero(t, settings.Simulator.FrameRate)

	settings.Simulator.FrameRate = -1
	var ve ValidationError
	require.True(t, errors.As(ValidateSettings(settings), &ve))
	assert.Equal(t, []string{"simulator.frame_rate must not be negative"}, ve.Errors)
}
