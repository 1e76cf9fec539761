package macho

import apexlog "github.com/apex/log"

// Logger is the structured logging facade the loader calls into. It is
// injected by the caller (via WithLogger) rather than reached for as
// package-level state, so a host embedding this loader can route
// records into its own sink; without one, log output is discarded.
type Logger interface {
	Debugf(format string, args ...interface{})
	Warnf(format string, args ...interface{})
}

// apexLogger adapts github.com/apex/log to the Logger interface, the
// same logging library the wider Mach-O tooling this loader was grown
// from depends on.
type apexLogger struct {
	entry *apexlog.Entry
}

// NewApexLogger wraps the given apex/log Interface (apexlog.Log or an
// *apexlog.Entry) as a Logger. Passing nil uses apexlog's package-level
// default handler.
func NewApexLogger(l apexlog.Interface) Logger {
	if l == nil {
		l = apexlog.Log
	}
	entry, ok := l.(*apexlog.Entry)
	if !ok {
		entry = apexlog.NewEntry(l.(*apexlog.Logger))
	}
	return &apexLogger{entry: entry.WithFields(apexlog.Fields{"component": "macho"})}
}

func (a *apexLogger) Debugf(format string, args ...interface{}) { a.entry.Debugf(format, args...) }
func (a *apexLogger) Warnf(format string, args ...interface{})  { a.entry.Warnf(format, args...) }

// nopLogger discards everything; it is the zero-value default so that
// constructing an Image never requires a logger to be supplied.
type nopLogger struct{}

func (nopLogger) Debugf(string, ...interface{}) {}
func (nopLogger) Warnf(string, ...interface{})  {}
