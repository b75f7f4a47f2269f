package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"go.uber.org/zap"

	"github.com/teilomillet/lectern/errors"
)

// Recovery middleware recovers from panics and logs the error
func Recovery(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					if err == http.ErrAbortHandler {
						panic(err)
					}
					logger.Error("Panic recovered",
						zap.Any("error", err),
						zap.ByteString("stack", debug.Stack()),
					)
					errors.WriteError(w, errors.NewInternalError(
						GetRequestID(r.Context()),
						fmt.Errorf("internal server error: %v", err),
					))
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}
