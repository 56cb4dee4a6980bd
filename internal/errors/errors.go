package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents stable error codes for all failure modes
type ErrorCode string

const (
	// EvidenceMissing indicates a claim was registered without evidence
	EvidenceMissing ErrorCode = "EVIDENCE_MISSING"
	// StorageFault indicates a read or write against the ledger database failed
	StorageFault ErrorCode = "STORAGE_FAULT"
	// ClaimNotFound indicates no claim exists for the identifier
	ClaimNotFound ErrorCode = "CLAIM_NOT_FOUND"
	// InvalidOutcome indicates an unknown outcome type or verification method
	InvalidOutcome ErrorCode = "INVALID_OUTCOME"
	// InvalidClaim indicates a claim registration without text or type
	InvalidClaim ErrorCode = "INVALID_CLAIM"
	// RawConfidence indicates a bare numeric confidence reached the response boundary
	RawConfidence ErrorCode = "RAW_CONFIDENCE"
	// ConfigInvalid indicates the configuration failed validation
	ConfigInvalid ErrorCode = "CONFIG_INVALID"
	// ShuttingDown indicates the component no longer accepts work
	ShuttingDown ErrorCode = "SHUTTING_DOWN"
	// InternalError indicates unexpected error
	InternalError ErrorCode = "INTERNAL_ERROR"
)

// FixActionType represents the type of fix action
type FixActionType string

const (
	// RunCommand suggests running a command
	RunCommand FixActionType = "run-command"
	// OpenDocs suggests opening documentation
	OpenDocs FixActionType = "open-docs"
)

// FixAction represents a suggested fix for an error
type FixAction struct {
	Type        FixActionType `json:"type"`
	Command     string        `json:"command,omitempty"`
	Safe        bool          `json:"safe,omitempty"`
	Description string        `json:"description,omitempty"`
	URL         string        `json:"url,omitempty"`
}

// LibrarianError carries a stable code, a message and an optional cause.
type LibrarianError struct {
	Code           ErrorCode   `json:"code"`
	Message        string      `json:"message"`
	Details        interface{} `json:"details,omitempty"`
	SuggestedFixes []FixAction `json:"suggestedFixes,omitempty"`
	cause          error
}

// New creates a LibrarianError with the default suggested fixes for its code.
func New(code ErrorCode, message string, cause error) *LibrarianError {
	return &LibrarianError{
		Code:           code,
		Message:        message,
		cause:          cause,
		SuggestedFixes: GetSuggestedFixes(code),
	}
}

// Newf is New with a formatted message and no cause.
func Newf(code ErrorCode, format string, args ...interface{}) *LibrarianError {
	return New(code, fmt.Sprintf(format, args...), nil)
}

// Error implements the error interface
func (e *LibrarianError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *LibrarianError) Unwrap() error {
	return e.cause
}

// WithDetails adds details to the error
func (e *LibrarianError) WithDetails(details interface{}) *LibrarianError {
	e.Details = details
	return e
}

// CodeOf returns the code of the first LibrarianError in err's chain,
// or the empty code if there is none.
func CodeOf(err error) ErrorCode {
	var le *LibrarianError
	if errors.As(err, &le) {
		return le.Code
	}
	return ""
}

// HasCode reports whether err's chain carries the given code.
func HasCode(err error, code ErrorCode) bool {
	return err != nil && CodeOf(err) == code
}

// ErrorActions maps error codes to suggested fix actions
var ErrorActions = map[ErrorCode][]FixAction{
	EvidenceMissing: {
		{
			Type:        OpenDocs,
			Description: "Append the supporting evidence first and pass the returned event ids",
		},
	},
	StorageFault: {
		{
			Type:        RunCommand,
			Command:     "librarian doctor",
			Safe:        true,
			Description: "Check that the ledger database is writable",
		},
	},
	ClaimNotFound: {
		{
			Type:        RunCommand,
			Command:     "librarian claim show ${claim_id}",
			Safe:        true,
			Description: "Verify the claim identifier",
		},
	},
	ConfigInvalid: {
		{
			Type:        RunCommand,
			Command:     "librarian config show",
			Safe:        true,
			Description: "Inspect the effective configuration",
		},
	},
}

// GetSuggestedFixes returns suggested fixes for an error code
func GetSuggestedFixes(code ErrorCode) []FixAction {
	if fixes, ok := ErrorActions[code]; ok {
		return fixes
	}
	return nil
}
