package observability

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Logger returns the global logger tagged with a component name. It reads log.Logger on
// every call so it follows logging.Configure.
func Logger(component string) zerolog.Logger {
	return log.Logger.With().Str("component", component).Logger()
}
