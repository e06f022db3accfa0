package engine

import (
	"github.com/spaghettifunk/radix/engine/core"
)

type ApplicationConfig struct {
	// The application name reported to the driver.
	Name string
	// Loaded configuration. The engine reads it, the application may
	// keep a reference.
	Config *core.Config
}
