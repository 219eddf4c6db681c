package kfmt

// Level describes the severity of a log message.
type Level uint8

// The supported log levels in increasing order of severity.
const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

var (
	// logLevel is the minimum severity that Logf will emit.
	logLevel = LevelInfo

	levelTags = [...][]byte{
		LevelDebug: []byte("debug: "),
		LevelInfo:  nil,
		LevelWarn:  []byte("warning: "),
		LevelError: []byte("error: "),
	}
)

// String implements fmt.Stringer for Level.
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return "unknown"
	}
}

// SetLogLevel sets the minimum severity for messages emitted via Logf.
func SetLogLevel(l Level) {
	logLevel = l
}

// LogLevel returns the active minimum log severity.
func LogLevel() Level {
	return logLevel
}

// Logf emits a message tagged with the originating module if its severity is
// at least equal to the active log level. The output has the form:
//
//	[module] severity: message
//
// where the severity tag is omitted for LevelInfo messages. Like Printf,
// Logf does not allocate memory and can be invoked while holding allocator
// locks.
func Logf(level Level, module, format string, args ...interface{}) {
	if level < logLevel {
		return
	}

	Fprintf(outputSink, "[%s] ", module)
	if int(level) < len(levelTags) && levelTags[level] != nil {
		doWrite(outputSink, levelTags[level])
	}
	Fprintf(outputSink, format, args...)
}
