package logger

// Log levels used across the application.
const (
	DebugLevel = "debug"
	InfoLevel  = "info"
	WarnLevel  = "warn"
	ErrorLevel = "error"
)

// Output formats.
const (
	ConsoleFormat = "console"
	JSONFormat    = "json"
)

// New returns a logger for the given level and format.
// Unknown levels fall back to debug, unknown formats to console.
func New(level, format string) *Logger {
	return newZapLogger(level, format)
}

// Nop returns a logger that discards everything. Useful in tests.
func Nop() *Logger {
	return newNopLogger()
}

// With returns a child logger carrying the given key/value pairs.
func (l *Logger) With(kv ...interface{}) *Logger {
	return &Logger{SugaredLogger: l.SugaredLogger.With(kv...)}
}
