package logging

import "github.com/pressly/goose/v3"

// JournalLoggerGoose routes migration output of the transfer journal through
// the application logger.
type JournalLoggerGoose struct {
}

var _ goose.Logger = (*JournalLoggerGoose)(nil)

func (p JournalLoggerGoose) Fatalf(format string, v ...interface{}) {
	Fatalf(format, v...)
}

func (p JournalLoggerGoose) Printf(format string, v ...interface{}) {
	Debugf(format, v...)
}
