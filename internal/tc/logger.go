package tc

// Logger provides structured logging for the collection layer.
// The args follow slog conventions: alternating key/value pairs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// NopLogger is a Logger that discards all output. Use in tests.
type NopLogger struct{}

func NewNopLogger() *NopLogger { return &NopLogger{} }

func (*NopLogger) Debug(string, ...any) {}
func (*NopLogger) Info(string, ...any)  {}
func (*NopLogger) Warn(string, ...any)  {}
func (*NopLogger) Error(string, ...any) {}

// ErrorReporter receives unexpected per-book failures during reconciliation
// along with a captured stack trace. Implementations forward to whatever
// error-reporting sink the host configures.
type ErrorReporter interface {
	Report(err error, context string, stack []byte)
}

// NopErrorReporter discards reports. Use in tests.
type NopErrorReporter struct{}

func (NopErrorReporter) Report(error, string, []byte) {}
