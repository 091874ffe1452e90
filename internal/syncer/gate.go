package syncer

import (
	"context"

	"go.uber.org/zap"
)

// Gate decides whether mutating operations run or are only logged. It is
// fixed at construction and shared by value. The zero Gate is a dry run.
type Gate struct {
	apply  bool
	logger *zap.Logger
}

// NewGate returns a gate that performs writes only when apply is true.
func NewGate(apply bool, logger *zap.Logger) Gate {
	if logger == nil {
		logger = noOpLogger
	}
	return Gate{apply: apply, logger: logger}
}

// DryRun reports whether writes are suppressed.
func (g Gate) DryRun() bool {
	return !g.apply
}

// Do runs write unless the gate is in dry-run mode, in which case the intended
// action is logged and nil is returned.
func (g Gate) Do(ctx context.Context, action string, write func(context.Context) error, fields ...zap.Field) error {
	if !g.apply {
		logger := g.logger
		if logger == nil {
			logger = noOpLogger
		}
		logger.Info("dry run: "+action, append(fields, zap.Bool("dry_run", true))...)
		return nil
	}
	return write(ctx)
}
