package middleware

import (
	"fmt"
	"runtime/debug"

	"github.com/gin-gonic/gin"

	"analytica/internal/core/apperror"
	"analytica/pkg/logger"
)

// Recovery converts panics into 500 responses instead of dropping the
// connection.
func Recovery(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.WithContext(c.Request.Context()).Errorw("panic recovered",
					"panic", fmt.Sprintf("%v", r),
					"path", c.Request.URL.Path,
					"stack", string(debug.Stack()),
				)

				_ = c.Error(apperror.NewInternal(fmt.Errorf("panic: %v", r)))
				c.Abort()
			}
		}()

		c.Next()
	}
}
