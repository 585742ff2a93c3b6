package logger

import (
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// cronLogger adapts zap to cron.Logger. cron reports routine scheduling at
// info level, which is noise for a 10s sweep, so it is demoted to debug.
type cronLogger struct {
	s *zap.SugaredLogger
}

// Cron returns a cron.Logger writing to log.
func Cron(log *zap.Logger) cron.Logger {
	return cronLogger{s: log.Named("cron").Sugar()}
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.s.Debugw(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
