package manifest

import (
	"errors"
	"fmt"
)

// ErrSchema matches every *SchemaError via errors.Is.
var ErrSchema = errors.New("manifest schema error")

// Code identifies why a manifest or fee was rejected at decode time.
type Code string

const (
	CodeMalformed              Code = "MalformedManifest"
	CodeUnknownBlockType       Code = "UnknownBlockType"
	CodeInvalidPublisher       Code = "InvalidPublisher"
	CodeInvalidVersion         Code = "InvalidVersion"
	CodeInvalidLicense         Code = "InvalidLicense"
	CodeMultipleFeesNotAllowed Code = "MultipleFeesNotAllowed"
	CodeUnknownFeeType         Code = "UnknownFeeType"
	CodeInvalidAmount          Code = "InvalidAmount"
	CodeInvalidInterval        Code = "InvalidInterval"
	CodeInvalidCurrency        Code = "InvalidCurrency"
	CodeInvalidJurisdiction    Code = "InvalidJurisdiction"
)

// SchemaError is returned for any malformed or invalid manifest or fee.
// It is not recoverable by retrying the same payload.
type SchemaError struct {
	Code    Code   `json:"code"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

func (e *SchemaError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s (field: %s)", e.Code, e.Message, e.Field)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *SchemaError) Is(target error) bool {
	return target == ErrSchema
}

func schemaErr(code Code, field, format string, args ...any) *SchemaError {
	return &SchemaError{Code: code, Field: field, Message: fmt.Sprintf(format, args...)}
}

// CodeOf returns the code carried by err, or "" when err is not a *SchemaError.
func CodeOf(err error) Code {
	var se *SchemaError
	if errors.As(err, &se) {
		return se.Code
	}
	return ""
}
