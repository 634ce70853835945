package util

import "github.com/pion/logging"

// PionLoggerFactory returns a logging.LoggerFactory that routes pion's
// internal logs into the pterm logger. Trace and debug output from pion is
// only visible when debug logging is enabled.
func PionLoggerFactory() logging.LoggerFactory {
	return pionFactory{}
}

type pionFactory struct{}

func (pionFactory) NewLogger(scope string) logging.LeveledLogger {
	return pionLogger{log: Scoped("pion/" + scope)}
}

// pionLogger adapts Logger to logging.LeveledLogger.
type pionLogger struct {
	log Logger
}

func (p pionLogger) Trace(msg string)                          { p.log.Debugf("%s", msg) }
func (p pionLogger) Tracef(format string, args ...interface{}) { p.log.Debugf(format, args...) }
func (p pionLogger) Debug(msg string)                          { p.log.Debugf("%s", msg) }
func (p pionLogger) Debugf(format string, args ...interface{}) { p.log.Debugf(format, args...) }
func (p pionLogger) Info(msg string)                           { p.log.Debugf("%s", msg) }
func (p pionLogger) Infof(format string, args ...interface{})  { p.log.Debugf(format, args...) }
func (p pionLogger) Warn(msg string)                           { p.log.Warnf("%s", msg) }
func (p pionLogger) Warnf(format string, args ...interface{})  { p.log.Warnf(format, args...) }
func (p pionLogger) Error(msg string)                          { p.log.Errorf("%s", msg) }
func (p pionLogger) Errorf(format string, args ...interface{}) { p.log.Errorf(format, args...) }
