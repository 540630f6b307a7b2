package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/cloo-solutions/closerbrain/internal/domain"
	"github.com/cloo-solutions/closerbrain/internal/generation"
)

// SuccessResponse wraps successful API responses
type SuccessResponse struct {
	Data interface{} `json:"data"`
}

// ErrorResponse represents an error API response
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// JSON writes a JSON response with the given status code
func JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// Success writes a successful JSON response
func Success(w http.ResponseWriter, status int, data interface{}) {
	JSON(w, status, SuccessResponse{Data: data})
}

// Error writes an error JSON response
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, ErrorResponse{Error: message})
}

// DomainErrorToHTTP maps domain errors to HTTP status codes
func DomainErrorToHTTP(err error) int {
	if err == nil {
		return http.StatusOK
	}
	var domainErr *domain.DomainError
	if !errors.As(err, &domainErr) {
		return http.StatusInternalServerError
	}

	switch domainErr.Code {
	case domain.ErrCodeValidation, domain.ErrCodeInvalidOperation:
		return http.StatusBadRequest
	case domain.ErrCodeNotFound:
		return http.StatusNotFound
	case domain.ErrCodeAlreadyExists, domain.ErrCodeConflict:
		return http.StatusConflict
	case domain.ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case domain.ErrCodePreconditionFailed:
		return http.StatusPreconditionFailed
	case domain.ErrCodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// GenerationErrorToHTTP maps generation failures to HTTP status codes. The second
// return value is false when err carries no generation failure.
func GenerationErrorToHTTP(err error) (int, bool) {
	var schemaErr *generation.SchemaError
	if errors.As(err, &schemaErr) {
		return http.StatusBadGateway, true
	}
	var genErr *generation.Error
	if !errors.As(err, &genErr) {
		return 0, false
	}
	if genErr.Kind == generation.KindFatal {
		return http.StatusBadGateway, true
	}
	return http.StatusServiceUnavailable, true
}

// HandleError writes an appropriate error response based on the error type.
// Internal failures are reported without their cause.
func HandleError(w http.ResponseWriter, err error) {
	var maxBytesErr *http.MaxBytesError
	if errors.As(err, &maxBytesErr) {
		Error(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}

	if status, ok := GenerationErrorToHTTP(err); ok {
		var genErr *generation.Error
		if errors.As(err, &genErr) && genErr.Kind != generation.KindFatal {
			JSON(w, status, ErrorResponse{Error: genErr.UserMessage(), Code: string(genErr.Kind)})
			return
		}
		JSON(w, status, ErrorResponse{Error: "the AI service returned an unusable response", Code: "bad_generation"})
		return
	}

	var domainErr *domain.DomainError
	if errors.As(err, &domainErr) {
		status := DomainErrorToHTTP(err)
		if status == http.StatusInternalServerError {
			JSON(w, status, ErrorResponse{Error: "internal server error", Code: domainErr.Code})
			return
		}
		message := domainErr.Message
		if domainErr.Code == domain.ErrCodeValidation && domainErr.Err != nil {
			message += ": " + domainErr.Err.Error()
		}
		JSON(w, status, ErrorResponse{Error: message, Code: domainErr.Code})
		return
	}

	Error(w, http.StatusInternalServerError, "internal server error")
}
