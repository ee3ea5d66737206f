package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tphakala/camerahal/cmd/replay"
	"github.com/tphakala/camerahal/cmd/simulate"
	"github.com/tphakala/camerahal/internal/conf"
	"github.com/tphakala/camerahal/internal/errors"
	"github.com/tphakala/camerahal/internal/logger"
)

const telemetryFlushTimeout = 2 * time.Second

// RootCommand creates and returns the root command
func RootCommand(settings *conf.Settings) *cobra.Command {
	var configFile string

	rootCmd := &cobra.Command{
		Use:          "camhal",
		Short:        "Camera HAL capture pipeline tools",
		SilenceUsage: true,
	}

	// Set up the global flags for the root command.
	if err := setupFlags(rootCmd, &configFile); err != nil {
		fmt.Printf("error setting up flags: %v\n", err)
		os.Exit(1)
	}

	rootCmd.AddCommand(
		simulate.Command(settings),
		replay.Command(settings),
	)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		loaded, err := conf.Load(configFile)
		if err != nil {
			return err
		}
		*settings = *loaded
		return initialize(settings)
	}

	rootCmd.PersistentPostRun = func(cmd *cobra.Command, args []string) {
		errors.FlushTelemetry(telemetryFlushTimeout)
		if err := logger.Global().Close(); err != nil {
			fmt.Printf("error closing logger: %v\n", err)
		}
	}

	return rootCmd
}

// initialize installs the global logger and optional error telemetry
func initialize(settings *conf.Settings) error {
	if settings.Debug {
		settings.Logging.DefaultLevel = string(logger.LogLevelDebug)
		if settings.Logging.Console != nil {
			settings.Logging.Console.Level = string(logger.LogLevelDebug)
		}
	}

	cl, err := logger.NewCentralLogger(&settings.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	logger.SetGlobal(cl)

	if settings.Telemetry.Enabled {
		if err := errors.InitSentry(settings.Telemetry.DSN, settings.Telemetry.Environment, settings.Telemetry.MinPriority); err != nil {
			cl.Module("main").Warn("error telemetry disabled", logger.Error(err))
		}
	}
	return nil
}

// setupFlags defines flags that are global to the command line interface
func setupFlags(rootCmd *cobra.Command, configFile *string) error {
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(configFile, "config", "c", "", "Path to config file (default searches ./, ~/.config/camhal, /etc/camhal)")
	flags.BoolP("debug", "d", false, "Enable debug output")
	flags.String("log-level", logger.DefaultLogLevel, "Default log level (trace, debug, info, warn, error)")

	bindings := map[string]string{
		"debug":                 "debug",
		"logging.default_level": "log-level",
	}
	for key, name := range bindings {
		if err := viper.BindPFlag(key, flags.Lookup(name)); err != nil {
			return fmt.Errorf("error binding flag %s: %w", name, err)
		}
	}
	return nil
}
