package pipelib

// Logger handles structured logging for a Pipeline.
type Logger interface {
	Infof(format string, v ...any)
	Warnf(format string, v ...any)
	Errorf(format string, v ...any)
}

// NopLogger provides a default no-op logger.
type NopLogger struct{}

func (NopLogger) Infof(_ string, _ ...any)  {}
func (NopLogger) Warnf(_ string, _ ...any)  {}
func (NopLogger) Errorf(_ string, _ ...any) {}
