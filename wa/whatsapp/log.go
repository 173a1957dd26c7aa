package whatsapp

import (
	"fmt"

	"github.com/rs/zerolog/log"
	waLog "go.mau.fi/whatsmeow/util/log"
)

var _ waLog.Logger = (*waLogger)(nil)

// waLogger bridges whatsmeow's logging interface onto zerolog.
type waLogger struct {
	module string
}

func newWALogger(module string) waLog.Logger {
	return &waLogger{module: module}
}

func (l *waLogger) Errorf(msg string, args ...any) {
	log.Error().Str("module", l.module).Msg(fmt.Sprintf(msg, args...))
}

func (l *waLogger) Warnf(msg string, args ...any) {
	log.Warn().Str("module", l.module).Msg(fmt.Sprintf(msg, args...))
}

func (l *waLogger) Infof(msg string, args ...any) {
	log.Info().Str("module", l.module).Msg(fmt.Sprintf(msg, args...))
}

func (l *waLogger) Debugf(msg string, args ...any) {
	log.Debug().Str("module", l.module).Msg(fmt.Sprintf(msg, args...))
}

func (l *waLogger) Sub(module string) waLog.Logger {
	return &waLogger{module: l.module + "/" + module}
}
