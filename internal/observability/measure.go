package observability

import (
	"time"

	"go.uber.org/zap"
)

// Measure runs fn, logging its start, elapsed time and outcome under op.
func Measure[T any](logger *zap.Logger, op string, fn func() (T, error)) (T, error) {
	if logger == nil {
		return fn()
	}
	logger.Debug("operation started", zap.String("op", op))

	start := time.Now()
	result, err := fn()
	elapsed := time.Since(start)

	if err != nil {
		logger.Info("operation failed",
			zap.String("op", op),
			zap.Duration("elapsed", elapsed),
			zap.Error(err))
		return result, err
	}
	logger.Info("operation completed", zap.String("op", op), zap.Duration("elapsed", elapsed))
	return result, nil
}

// MeasureErr is Measure for functions without a result value.
func MeasureErr(logger *zap.Logger, op string, fn func() error) error {
	_, err := Measure(logger, op, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}
