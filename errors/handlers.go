package errors

import (
	"errors"

	"go.uber.org/zap"
)

// LogError logs an error with its context. Lectern errors are logged with
// their type and details so that persistence failures and transport failures
// can be told apart in the log stream.
func LogError(logger *zap.Logger, err error, requestID string) {
	if logger == nil {
		logger = DefaultLogger
	}
	var le *LecternError
	if errors.As(err, &le) {
		logger.Error("request error",
			zap.String("error_type", string(le.Type)),
			zap.String("message", le.Message),
			zap.Int("code", le.Code),
			zap.String("request_id", requestID),
			zap.Any("details", le.Details),
			zap.Error(le.Unwrap()),
		)
		return
	}
	logger.Error("unexpected error",
		zap.Error(err),
		zap.String("request_id", requestID),
	)
}
