package main

import (
	"os"

	"github.com/small-frappuccino/modbot/pkg/app"
	"github.com/small-frappuccino/modbot/pkg/log"
)

// version is set with -ldflags "-X main.version=...".
var version string

func main() {
	if version != "" {
		app.SetAppVersion(version)
	}
	if err := app.Run("modbot", app.EnvToken); err != nil {
		log.ErrorLoggerRaw().Error("Fatal", "err", err)
		os.Exit(1)
	}
}
