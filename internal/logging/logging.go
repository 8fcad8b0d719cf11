package logging

import (
	"fmt"

	"github.com/KevinKickass/ArmLink/internal/config"
	"go.uber.org/zap"
)

// New builds the process logger: production JSON output by default,
// development console output with debug level when log.debug is set.
func New(cfg config.LogConfig) (*zap.Logger, error) {
	var (
		logger *zap.Logger
		err    error
	)
	if cfg.Debug {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return logger, nil
}
