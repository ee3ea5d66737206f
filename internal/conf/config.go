package conf

import (
	"fmt"
	"strings"
	"sync"

	"github.com/spf13/viper"

	"github.com/tphakala/camerahal/internal/capture"
	"github.com/tphakala/camerahal/internal/channel"
	"github.com/tphakala/camerahal/internal/errors"
	"github.com/tphakala/camerahal/internal/logger"
)

// EnvPrefix prefixes environment overrides, e.g. CAMHAL_PIPELINE_MAX_INFLIGHT
const EnvPrefix = "CAMHAL"

// settingsMutex serializes loads against the global viper instance
var settingsMutex sync.Mutex

// Load reads defaults, the config file and environment overrides into the
// global viper instance and returns the validated settings. An empty
// configFile searches the default config paths.
func Load(configFile string) (*Settings, error) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()

	return LoadWith(viper.GetViper(), configFile)
}

// LoadWith is Load against an explicit viper instance.
func LoadWith(v *viper.Viper, configFile string) (*Settings, error) {
	if err := initViper(v, configFile); err != nil {
		return nil, fmt.Errorf("error initializing viper: %w", err)
	}

	settings := &Settings{}
	if err := v.Unmarshal(settings); err != nil {
		return nil, errors.New(err).
			Category(errors.CategoryFileParsing).
			Context("operation", "unmarshal-config").
			Build()
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, fmt.Errorf("error validating settings: %w", err)
	}

	return settings, nil
}

// initViper sets defaults, environment binding and reads the config file.
// A missing config file is not an error; defaults and environment apply.
func initViper(v *viper.Viper, configFile string) error {
	setDefaultConfig(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")

		configPaths, err := GetDefaultConfigPaths()
		if err != nil {
			return fmt.Errorf("error getting default config paths: %w", err)
		}
		for _, path := range configPaths {
			v.AddConfigPath(path)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile == "" && errors.As(err, &notFound) {
			GetLogger().Debug("no config file found, using defaults")
			return nil
		}
		return errors.New(err).
			Category(errors.CategoryFileIO).
			Context("config_file", configFile).
			Build()
	}

	GetLogger().Debug("config file loaded", logger.String("path", v.ConfigFileUsed()))
	return nil
}

// DeviceConfig converts the pipeline settings into a capture.DeviceConfig
func (p *PipelineSettings) DeviceConfig() (capture.DeviceConfig, error) {
	cfg := capture.DeviceConfig{
		CameraID:           p.CameraID,
		MaxInflight:        p.MaxInflight,
		MinInflight:        p.MinInflight,
		PartialResultCount: p.PartialResultCount,
		SubmitTimeout:      p.SubmitTimeout,
		FenceTimeout:       p.FenceTimeout,
		FrameInterval:      p.FrameInterval,
		DropRecordTTL:      p.DropRecordTTL,
		Streams:            make([]capture.StreamConfig, 0, len(p.Streams)),
	}

	for _, s := range p.Streams {
		kind, err := channel.ParseStreamKind(s.Kind)
		if err != nil {
			return capture.DeviceConfig{}, fmt.Errorf("stream %q: %w", s.ID, err)
		}
		cfg.Streams = append(cfg.Streams, capture.StreamConfig{
			ID:     s.ID,
			Kind:   kind,
			Width:  s.Width,
			Height: s.Height,
			Format: s.Format,
		})
	}

	if err := cfg.Validate(); err != nil {
		return capture.DeviceConfig{}, err
	}
	return cfg, nil
}
