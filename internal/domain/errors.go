package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies pipeline failures
type ErrorKind string

const (
	KindConfig        ErrorKind = "config"
	KindAcquisition   ErrorKind = "acquisition"
	KindConversion    ErrorKind = "conversion"
	KindRasterization ErrorKind = "rasterization"
	KindOCR           ErrorKind = "ocr"
	KindExtraction    ErrorKind = "extraction"
	KindSchema        ErrorKind = "schema"
)

// Error is a pipeline error with a kind and optional cause
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates a new pipeline error
func NewError(kind ErrorKind, message string, err error) *Error {
	return &Error{
		Kind:    kind,
		Message: message,
		Err:     err,
	}
}

// Common error constructors
func ConfigError(message string, err error) *Error {
	return NewError(KindConfig, message, err)
}

func AcquisitionError(message string, err error) *Error {
	return NewError(KindAcquisition, message, err)
}

func ConversionError(message string, err error) *Error {
	return NewError(KindConversion, message, err)
}

func RasterizationError(message string, err error) *Error {
	return NewError(KindRasterization, message, err)
}

func OCRError(message string, err error) *Error {
	return NewError(KindOCR, message, err)
}

func ExtractionError(message string, err error) *Error {
	return NewError(KindExtraction, message, err)
}

func SchemaError(message string, err error) *Error {
	return NewError(KindSchema, message, err)
}

// IsKind reports whether err or any error in its chain is a pipeline
// error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind == kind
	}
	return false
}
