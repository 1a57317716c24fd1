package status

import (
	"errors"
	"fmt"
)

const (
	// InvalidInput indicates that the uploaded file is not a valid package (bad magic bytes, missing manifest, corrupt or empty archive)
	InvalidInput Type = 1

	// SecurityRejection indicates that the input was rejected by a security check (decompression bomb, path traversal, symlink)
	SecurityRejection Type = 2

	// NotFound indicates that the requested artifact doesn't exist or has already expired
	NotFound Type = 3

	// SigningFailure indicates that the external signing tool failed or timed out
	SigningFailure Type = 4

	// StorageFailure indicates a disk I/O error while copying or deleting an artifact
	StorageFailure Type = 5

	// Unauthenticated indicates that the caller presented no or invalid credentials
	Unauthenticated Type = 6

	// Internal indicates some generic internal error
	Internal Type = 7
)

// Type is a type of the Error
type Type int32

// Error is an internal error
type Error struct {
	ErrorType Type
	Message   string
}

// Type returns the Type of the error
func (e *Error) Type() Type {
	return e.ErrorType
}

// Error is an error string
func (e *Error) Error() string {
	return e.Message
}

// Errorf returns Error(ErrorType, fmt.Sprintf(format, a...)).
func Errorf(errorType Type, format string, a ...interface{}) error {
	return &Error{
		ErrorType: errorType,
		Message:   fmt.Sprintf(format, a...),
	}
}

// FromError returns Error, true if the provided error is of type of Error. nil, false otherwise
func FromError(err error) (s *Error, ok bool) {
	if err == nil {
		return nil, true
	}
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// NewArtifactNotFoundError creates a new Error with NotFound type for a missing
// artifact. Expired and never-existing artifacts produce the same error on purpose.
func NewArtifactNotFoundError() error {
	return Errorf(NotFound, "artifact not found")
}

// NewInvalidPackageError creates a new Error with InvalidInput type carrying a detail string
func NewInvalidPackageError(detail string) error {
	return Errorf(InvalidInput, "invalid package: %s", detail)
}

// NewSigningFailedError creates a new Error with SigningFailure type. The detail
// is kept out of the message so it can never reach a client response.
func NewSigningFailedError() error {
	return Errorf(SigningFailure, "signing failed")
}
