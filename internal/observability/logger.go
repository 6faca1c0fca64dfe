package observability

import (
	"github.com/rs/zerolog"

	logs "github.com/danmuck/binlink/internal/logging"
)

// InitLogger configures the runtime logging profile and returns a logger tagged with app.
func InitLogger(app string) zerolog.Logger {
	logs.ConfigureRuntime()
	return logs.Logger().With().Str("app", app).Logger()
}
