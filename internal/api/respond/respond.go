package respond

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Success represents a standard structure for successful responses.
type Success struct {
	Result interface{} `json:"result"`
}

// Error represents a standard structure for error responses.
type Error struct {
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// JSON sends a JSON response with the specified HTTP status code and data.
func JSON(c *gin.Context, status int, data interface{}) {
	c.JSON(status, data)
}

// OK sends a 200 OK JSON response, wrapping the given result in a Success struct.
func OK(c *gin.Context, result interface{}) {
	JSON(c, http.StatusOK, Success{Result: result})
}

// Created sends a 201 Created JSON response, wrapping the given result in a Success struct.
func Created(c *gin.Context, result interface{}) {
	JSON(c, http.StatusCreated, Success{Result: result})
}

// Accepted sends a 202 Accepted JSON response for work that completes asynchronously.
func Accepted(c *gin.Context, result interface{}) {
	JSON(c, http.StatusAccepted, Success{Result: result})
}

// Fail sends an error JSON response with the specified HTTP status code.
// The error message is wrapped in an Error struct.
func Fail(c *gin.Context, status int, err error) {
	JSON(c, status, Error{Message: err.Error()})
}

// Invalid sends a 400 response listing field-level problems.
func Invalid(c *gin.Context, err error, fields map[string]string) {
	JSON(c, http.StatusBadRequest, Error{Message: err.Error(), Fields: fields})
}
