package logging

import (
	"go.uber.org/zap/zapcore"
)

// TraceLevel sits below Debug. Used for prompt and payload dumps that are
// almost always filtered in production.
const TraceLevel = zapcore.Level(-2)

// LevelFromString parses a level name, supporting "trace".
func LevelFromString(level string) (zapcore.Level, error) {
	if level == "trace" {
		return TraceLevel, nil
	}
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return zapcore.InfoLevel, err
	}
	return l, nil
}
