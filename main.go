package main

import (
	"os"

	"github.com/tphakala/camerahal/cmd"
	"github.com/tphakala/camerahal/internal/conf"
)

func main() {
	settings := &conf.Settings{}

	if err := cmd.RootCommand(settings).Execute(); err != nil {
		os.Exit(1)
	}
}
