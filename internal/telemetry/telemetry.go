// Package telemetry defines the monitoring capability used by the resilience
// and authentication layers. Components hold an injected Telemetry instance;
// when monitoring is disabled a Noop implementation is selected at startup so
// call sites never branch on availability.
package telemetry

import (
	"github.com/dkurbatov/freightgate/internal/logging"
)

// Telemetry records diagnostic breadcrumbs and captured errors.
type Telemetry interface {
	Breadcrumb(category, message string)
	CaptureException(err error)
}

// Noop discards all signals.
type Noop struct{}

func (Noop) Breadcrumb(category, message string) {}
func (Noop) CaptureException(err error)          {}

// logBacked forwards telemetry signals to the local structured logger.
type logBacked struct {
	logger logging.Logger
}

// New returns a log-backed Telemetry when enabled, Noop otherwise.
func New(enabled bool, logger logging.Logger) Telemetry {
	if !enabled {
		return Noop{}
	}
	return &logBacked{logger: logger}
}

func (t *logBacked) Breadcrumb(category, message string) {
	t.logger.Debug("breadcrumb",
		logging.String("category", category),
		logging.String("message", message),
	)
}

func (t *logBacked) CaptureException(err error) {
	t.logger.Error("captured exception", logging.Error(err))
}
