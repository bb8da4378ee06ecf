package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/erpcore/access/errors"
)

const ctxRequestID = "request_id"

// dataResponse is the success envelope.
type dataResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Message string      `json:"message,omitempty"`
}

func respond(c *gin.Context, status int, data interface{}) {
	c.JSON(status, dataResponse{Success: true, Data: data})
}

func respondMessage(c *gin.Context, message string) {
	c.JSON(http.StatusOK, dataResponse{Success: true, Message: message})
}

// abortWithError writes the error envelope for err and stops the chain.
// Errors outside the known taxonomy are logged with their detail.
func abortWithError(c *gin.Context, logger *logrus.Logger, err error) {
	status, resp := errors.NewResponse(err, time.Now())
	if errors.Internal(err) && logger != nil {
		logger.WithError(err).WithFields(logrus.Fields{
			"request_id": c.GetString(ctxRequestID),
			"method":     c.Request.Method,
			"path":       c.FullPath(),
		}).Error("request failed")
	}
	c.AbortWithStatusJSON(status, resp)
}

// abortInvalid reports a malformed request body or parameter.
func abortInvalid(c *gin.Context, logger *logrus.Logger, detail string) {
	abortWithError(c, logger, &errors.ViolationError{Err: errors.ErrInvalidRequest, Violations: []string{detail}})
}
