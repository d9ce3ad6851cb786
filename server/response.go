package server

import (
	"time"

	"github.com/gin-gonic/gin"
)

// Error codes returned in the envelope
const (
	CodeNoFile          = "NO_FILE"
	CodeFileTooLarge    = "FILE_TOO_LARGE"
	CodeInvalidFileType = "INVALID_FILE_TYPE"
	CodeDuplicateImage  = "DUPLICATE_IMAGE"
	CodeNotFound        = "NOT_FOUND"
	CodeInvalidRequest  = "INVALID_REQUEST"
	CodeInternal        = "INTERNAL_ERROR"
	CodeUnavailable     = "SERVICE_UNAVAILABLE"
)

// APIError is the error member of the envelope
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Envelope wraps every JSON response
type Envelope struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Error     *APIError   `json:"error,omitempty"`
	Timestamp string      `json:"timestamp"`
}

func timestamp() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

func success(c *gin.Context, status int, data interface{}) {
	c.JSON(status, Envelope{Success: true, Data: data, Timestamp: timestamp()})
}

func failure(c *gin.Context, status int, code, message string) {
	failureWithData(c, status, code, message, nil)
}

func failureWithData(c *gin.Context, status int, code, message string, data interface{}) {
	c.AbortWithStatusJSON(status, Envelope{
		Success:   false,
		Data:      data,
		Error:     &APIError{Code: code, Message: message},
		Timestamp: timestamp(),
	})
}
