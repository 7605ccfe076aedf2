// Package handlers implements the HTTP endpoints of the analytical runtime.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"analytica/internal/core/apperror"
)

// BaseHandler carries helpers shared by all handlers.
type BaseHandler struct{}

// BindJSON decodes the request body into obj, reporting failures as
// validation errors.
func (h *BaseHandler) BindJSON(c *gin.Context, obj any) bool {
	if err := c.ShouldBindJSON(obj); err != nil {
		h.Error(c, apperror.NewValidation("invalid request body").WithCause(err))
		return false
	}
	return true
}

// Error attaches err to the context and aborts; the error middleware renders
// the response.
func (h *BaseHandler) Error(c *gin.Context, err error) {
	_ = c.Error(err)
	c.Abort()
}

// OK writes a 200 response with a JSON body.
func (h *BaseHandler) OK(c *gin.Context, body any) {
	c.JSON(http.StatusOK, body)
}
