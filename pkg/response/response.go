package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Failure is the error payload shared by every API endpoint
type Failure struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// Common error messages
const (
	MsgNotFound         = "Not found"
	MsgInvalidBody      = "Invalid request body"
	MsgRateLimited      = "Rate limit exceeded. Please try again later."
	MsgInternalError    = "An unexpected error occurred"
	MsgPriceUnavailable = "Price not available yet"
)

// Success sends a successful response carrying data under key.
// POST requests answer 201, everything else 200.
func Success(c *gin.Context, key string, data interface{}) {
	SuccessWithMessage(c, key, data, "")
}

// SuccessWithMessage is Success with a human readable message attached
func SuccessWithMessage(c *gin.Context, key string, data interface{}, message string) {
	status := http.StatusOK
	if c.Request.Method == http.MethodPost {
		status = http.StatusCreated
	}

	body := gin.H{"success": true}
	if key != "" {
		body[key] = data
	}
	if message != "" {
		body["message"] = message
	}
	c.JSON(status, body)
}

// BadRequest sends a 400 response
func BadRequest(c *gin.Context, message string) {
	fail(c, http.StatusBadRequest, message)
}

// NotFound sends a 404 response
func NotFound(c *gin.Context, message string) {
	fail(c, http.StatusNotFound, message)
}

// TooManyRequests sends a 429 response
func TooManyRequests(c *gin.Context, message string) {
	fail(c, http.StatusTooManyRequests, message)
}

// InternalError sends a 500 response
func InternalError(c *gin.Context, message string) {
	fail(c, http.StatusInternalServerError, message)
}

// ServiceUnavailable sends a 503 response
func ServiceUnavailable(c *gin.Context, message string) {
	fail(c, http.StatusServiceUnavailable, message)
}

func fail(c *gin.Context, status int, message string) {
	c.JSON(status, Failure{
		Success: false,
		Error:   message,
	})
}
