package logging

import (
	"fmt"

	"go.uber.org/zap"
)

// NewLogger builds the process logger. Development mode uses the console
// encoder; otherwise JSON output is produced at the given level.
func NewLogger(level string, development bool) (*zap.Logger, error) {
	logConfig := zap.NewProductionConfig()
	if development {
		logConfig = zap.NewDevelopmentConfig()
	}

	if level != "" {
		atomic, err := zap.ParseAtomicLevel(level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", level, err)
		}
		logConfig.Level = atomic
	}

	return logConfig.Build()
}
