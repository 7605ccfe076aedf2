package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"analytica/internal/core/apperror"
	appctx "analytica/internal/core/context"
	"analytica/pkg/logger"
)

// errorResponse is the JSON shape of every error body.
type errorResponse struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
}

// ErrorHandler renders the first error attached to the gin context as a
// structured JSON body. Handlers report failures via c.Error and abort;
// this middleware owns the response shape.
func ErrorHandler(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}

		err := c.Errors.Last().Err
		requestID := appctx.GetRequestID(c.Request.Context())

		appErr, ok := apperror.AsAppError(err)
		if !ok {
			appErr = apperror.NewInternal(err)
		}

		if appErr.HTTPStatus >= http.StatusInternalServerError {
			log.WithContext(c.Request.Context()).Errorw("request error",
				"code", appErr.Code,
				"error", err.Error(),
			)
		}

		c.JSON(appErr.HTTPStatus, errorResponse{
			Code:      appErr.Code,
			Message:   appErr.Message,
			Details:   appErr.Details,
			RequestID: requestID,
		})
	}
}
