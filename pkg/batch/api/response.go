package api

import (
	"net/http"

	"github.com/cockroachdb/errors"
	"github.com/labstack/echo/v4"

	"github.com/tigerroll/importd/pkg/batch/core/application/usecase"
	"github.com/tigerroll/importd/pkg/batch/support/util/exception"
	"github.com/tigerroll/importd/pkg/batch/support/util/logger"
)

// Error codes of the response envelope.
const (
	CodeInvalidRequest    = "INVALID_REQUEST"
	CodeMappingError      = "MAPPING_ERROR"
	CodeParseError        = "PARSE_ERROR"
	CodeInvalidTransition = "INVALID_TRANSITION"
	CodeJobNotFound       = "JOB_NOT_FOUND"
	CodeArtifactNotFound  = "ARTIFACT_NOT_FOUND"
	CodeUploadError       = "UPLOAD_ERROR"
	CodeConflict          = "CONFLICT"
	CodeInternal          = "INTERNAL_ERROR"
)

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Pagination describes one page of a list response.
type Pagination struct {
	Total      int64 `json:"total"`
	Page       int   `json:"page"`
	Limit      int   `json:"limit"`
	TotalPages int64 `json:"totalPages"`
}

// Envelope is the body of every JSON response.
type Envelope struct {
	Success    bool        `json:"success"`
	Message    string      `json:"message,omitempty"`
	Data       any         `json:"data,omitempty"`
	Pagination *Pagination `json:"pagination,omitempty"`
	Error      *errorBody  `json:"error,omitempty"`
}

func ok(c echo.Context, status int, message string, data any) error {
	return c.JSON(status, Envelope{Success: true, Message: message, Data: data})
}

func fail(c echo.Context, status int, code, message string) error {
	return c.JSON(status, Envelope{Success: false, Message: message, Error: &errorBody{Code: code, Message: message}})
}

// classify maps a service error to its HTTP status and error code.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, usecase.ErrInvalidRequest):
		return http.StatusBadRequest, CodeInvalidRequest
	case exception.IsKind(err, exception.KindMapping):
		return http.StatusBadRequest, CodeMappingError
	case exception.IsKind(err, exception.KindParse):
		return http.StatusBadRequest, CodeParseError
	case errors.Is(err, exception.ErrInvalidTransition):
		return http.StatusBadRequest, CodeInvalidTransition
	case errors.Is(err, exception.ErrJobNotFound):
		return http.StatusNotFound, CodeJobNotFound
	case errors.Is(err, usecase.ErrArtifactNotFound):
		return http.StatusNotFound, CodeArtifactNotFound
	case exception.IsKind(err, exception.KindUpload):
		return http.StatusInternalServerError, CodeUploadError
	case errors.Is(err, exception.ErrOptimisticLockingFailure):
		return http.StatusConflict, CodeConflict
	default:
		return http.StatusInternalServerError, CodeInternal
	}
}

// failWith renders err. Internal errors are logged and their detail is not returned.
func failWith(c echo.Context, err error) error {
	status, code := classify(err)
	message := exception.ExtractErrorMessage(err)
	switch code {
	case CodeJobNotFound:
		message = "Job not found"
	case CodeInternal:
		logger.Errorf("%s %s failed: %+v", c.Request().Method, c.Path(), err)
		message = "Internal server error"
	case CodeUploadError:
		logger.Errorf("%s %s failed: %v", c.Request().Method, c.Path(), err)
	}
	return fail(c, status, code, message)
}
