package domain

import "fmt"

// DomainError represents a domain-specific error
type DomainError struct {
	Code    string
	Message string
	Err     error
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is matches two domain errors by code and message so wrapped copies still
// compare equal to the sentinel they were created from.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Code == t.Code && e.Message == t.Message
}

// NewDomainError creates a new DomainError
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Err:     nil,
	}
}

// NewDomainErrorWithCause creates a new DomainError with an underlying cause
func NewDomainErrorWithCause(code, message string, err error) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Common domain error codes
const (
	ErrCodeValidation         = "VALIDATION_ERROR"
	ErrCodeNotFound           = "NOT_FOUND"
	ErrCodeAlreadyExists      = "ALREADY_EXISTS"
	ErrCodeUnauthorized       = "UNAUTHORIZED"
	ErrCodeConflict           = "CONFLICT"
	ErrCodePreconditionFailed = "PRECONDITION_FAILED"
	ErrCodeUnavailable        = "UNAVAILABLE"
	ErrCodeInternalError      = "INTERNAL_ERROR"
	ErrCodeInvalidOperation   = "INVALID_OPERATION"
)

// Validation errors
var (
	ErrInvalidCategory      = NewDomainError(ErrCodeValidation, "invalid knowledge category")
	ErrInvalidPersona       = NewDomainError(ErrCodeValidation, "invalid persona")
	ErrInvalidSourceKind    = NewDomainError(ErrCodeValidation, "invalid source kind")
	ErrUnsupportedDocument  = NewDomainError(ErrCodeValidation, "document type is not supported: upload a PDF, Word, PowerPoint, text or image file")
	ErrDocumentEmpty        = NewDomainError(ErrCodeValidation, "document contains no readable text")
	ErrInvalidOutcome       = NewDomainError(ErrCodeValidation, "invalid prospect outcome")
	ErrInvalidFeedback      = NewDomainError(ErrCodeValidation, "invalid suggestion feedback")
	ErrMissingRequiredField = NewDomainError(ErrCodeValidation, "missing required field")
)

// Not found errors. Lookups scoped to the wrong owner return these too.
var (
	ErrSourceNotFound     = NewDomainError(ErrCodeNotFound, "source not found")
	ErrProspectNotFound   = NewDomainError(ErrCodeNotFound, "prospect not found")
	ErrSuggestionNotFound = NewDomainError(ErrCodeNotFound, "suggestion not found")
	ErrWorkspaceNotFound  = NewDomainError(ErrCodeNotFound, "workspace not found")
)

// Ingestion errors
var (
	ErrInvalidTransition = NewDomainError(ErrCodeInvalidOperation, "invalid ingestion state transition")
	ErrSourceBusy        = NewDomainError(ErrCodeConflict, "source is already being processed")
	ErrRunSuperseded     = NewDomainError(ErrCodeConflict, "ingestion run was superseded by a newer run")
)

// Precondition errors
var (
	ErrKnowledgeBaseEmpty = NewDomainError(ErrCodePreconditionFailed,
		"your knowledge base is empty: add training content (documents or links) before generating suggestions")
)

// Storage errors
var (
	ErrStorageNotConfigured = NewDomainError(ErrCodeUnavailable, "object storage is not configured")
	ErrStorageOperationFail = NewDomainError(ErrCodeInternalError, "storage operation failed")
)
