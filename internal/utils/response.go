package utils

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"telecare-server/internal/errs"
)

// ResponseData represents the structure of a standard API response.
type ResponseData struct {
	Status  int         `json:"status"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Code    string      `json:"code,omitempty"`
}

// Success sends a standard success response.
func Success(c *gin.Context, message string, data interface{}) {
	c.JSON(http.StatusOK, ResponseData{
		Status:  http.StatusOK,
		Message: message,
		Data:    data,
	})
}

// Created sends a standard resource created response.
func Created(c *gin.Context, message string, data interface{}) {
	c.JSON(http.StatusCreated, ResponseData{
		Status:  http.StatusCreated,
		Message: message,
		Data:    data,
	})
}

// Error sends a standard error response.
func Error(c *gin.Context, statusCode int, errorMessage string) {
	c.JSON(statusCode, ResponseData{
		Status:  statusCode,
		Message: "An error occurred",
		Error:   errorMessage,
	})
}

// BadRequest sends a 400 Bad Request error response.
func BadRequest(c *gin.Context, errorMessage string) {
	Error(c, http.StatusBadRequest, errorMessage)
}

// Unauthorized sends a 401 Unauthorized error response.
func Unauthorized(c *gin.Context, errorMessage string) {
	Error(c, http.StatusUnauthorized, errorMessage)
}

// Forbidden sends a 403 Forbidden error response.
func Forbidden(c *gin.Context, errorMessage string) {
	Error(c, http.StatusForbidden, errorMessage)
}

// NotFound sends a 404 Not Found error response.
func NotFound(c *gin.Context, errorMessage string) {
	Error(c, http.StatusNotFound, errorMessage)
}

// InternalServerError sends a 500 Internal Server Error response.
func InternalServerError(c *gin.Context, errorMessage string) {
	Error(c, http.StatusInternalServerError, errorMessage)
}

// StatusFor maps a domain error kind to its HTTP status.
func StatusFor(kind errs.Kind) int {
	switch kind {
	case errs.KindValidation:
		return http.StatusBadRequest
	case errs.KindPaymentRequired:
		return http.StatusPaymentRequired
	case errs.KindUnauthorized:
		return http.StatusForbidden
	case errs.KindNotFound:
		return http.StatusNotFound
	case errs.KindInvalidTransition, errs.KindAlreadyPending, errs.KindAlreadyResolved, errs.KindConflict:
		return http.StatusConflict
	case errs.KindProposalExpired:
		return http.StatusGone
	default:
		return http.StatusInternalServerError
	}
}

// RespondError sends err in the standard envelope. Domain errors carry their kind as
// the code; anything else is reported as an internal error without details.
func RespondError(c *gin.Context, err error) {
	var domainErr *errs.Error
	if !errors.As(err, &domainErr) {
		_ = c.Error(err)
		InternalServerError(c, "Internal server error")
		return
	}

	status := StatusFor(domainErr.Kind)
	msg := domainErr.Msg
	if msg == "" || domainErr.Err != nil {
		msg = domainErr.Error()
	}
	c.JSON(status, ResponseData{
		Status:  status,
		Message: "An error occurred",
		Error:   msg,
		Code:    string(domainErr.Kind),
	})
}
