package runtime

import "log/slog"

// logObject provides log.info/warn/error methods for the prelude script.
type logObject struct {
	logger *slog.Logger
	file   string
}

func (l *logObject) Info(msg string) {
	l.logger.Info(msg, "source", "prelude", "file", l.file)
}

func (l *logObject) Warn(msg string) {
	l.logger.Warn(msg, "source", "prelude", "file", l.file)
}

func (l *logObject) Error(msg string) {
	l.logger.Error(msg, "source", "prelude", "file", l.file)
}
