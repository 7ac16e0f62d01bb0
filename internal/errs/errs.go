// Package errs provides the kernel's unified error taxonomy.
//
// Every error that can reach an ActionResult carries a Code, a Category, a
// human-readable Message, structured Details and a Retriable flag, per
// spec §7. This mirrors the teacher's infrastructure/errors.ServiceError
// shape, re-keyed to the kernel's own codes instead of HTTP statuses.
package errs

import (
	"errors"
	"fmt"
)

// Code is a specific, wire-stable error code.
type Code string

const (
	CodeNotFound         Code = "NOT_FOUND"
	CodeNotAuthorized    Code = "NOT_AUTHORIZED"
	CodeInsufficientFunds Code = "INSUFFICIENT_FUNDS"
	CodeQuotaExceeded    Code = "QUOTA_EXCEEDED"
	CodeInvalidArgument  Code = "INVALID_ARGUMENT"
	CodeInvalidType      Code = "INVALID_TYPE"
	CodeSyntaxError      Code = "SYNTAX_ERROR"
	CodeRuntimeError     Code = "RUNTIME_ERROR"
	CodeTimeout          Code = "TIMEOUT"
	CodeDeleted          Code = "DELETED"
	CodeRateLimited      Code = "RATE_LIMITED"
)

// Category is the coarse grouping used by callers to decide broad strategy.
type Category string

const (
	CategoryPermission Category = "PERMISSION"
	CategoryResource   Category = "RESOURCE"
	CategoryValidation Category = "VALIDATION"
	CategoryExecution  Category = "EXECUTION"
)

// retriableByCode is the fixed retriable flag per code, per spec §7.
var retriableByCode = map[Code]bool{
	CodeNotFound:          false,
	CodeNotAuthorized:     false,
	CodeInsufficientFunds: true,
	CodeQuotaExceeded:     true,
	CodeInvalidArgument:   false,
	CodeInvalidType:       false,
	CodeSyntaxError:       false,
	CodeRuntimeError:      false,
	CodeTimeout:           true,
	CodeDeleted:           false,
	CodeRateLimited:       true,
}

var categoryByCode = map[Code]Category{
	CodeNotFound:          CategoryResource,
	CodeNotAuthorized:     CategoryPermission,
	CodeInsufficientFunds: CategoryResource,
	CodeQuotaExceeded:     CategoryResource,
	CodeInvalidArgument:   CategoryValidation,
	CodeInvalidType:       CategoryValidation,
	CodeSyntaxError:       CategoryValidation,
	CodeRuntimeError:      CategoryExecution,
	CodeTimeout:           CategoryExecution,
	CodeDeleted:           CategoryResource,
	CodeRateLimited:       CategoryResource,
}

// KernelError is the structured error type carried through the narrow waist.
type KernelError struct {
	Code     Code
	Category Category
	Message  string
	Details  map[string]any
	Err      error
}

func (e *KernelError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *KernelError) Unwrap() error {
	return e.Err
}

// Retriable reports whether a second attempt could succeed, per spec §7.
func (e *KernelError) Retriable() bool {
	return retriableByCode[e.Code]
}

// WithDetail attaches a structured detail and returns the error for chaining.
func (e *KernelError) WithDetail(key string, value any) *KernelError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// New constructs a KernelError for the given code.
func New(code Code, message string) *KernelError {
	return &KernelError{Code: code, Category: categoryByCode[code], Message: message}
}

// Wrap constructs a KernelError that carries an underlying cause.
func Wrap(code Code, message string, err error) *KernelError {
	return &KernelError{Code: code, Category: categoryByCode[code], Message: message, Err: err}
}

// Convenience constructors, mirroring the teacher's per-code helper functions.

func NotFound(kind, id string) *KernelError {
	return New(CodeNotFound, "not found").WithDetail("kind", kind).WithDetail("id", id)
}

func NotAuthorized(reason string) *KernelError {
	return New(CodeNotAuthorized, reason)
}

func InsufficientFunds(required, available string) *KernelError {
	return New(CodeInsufficientFunds, "insufficient funds").
		WithDetail("required", required).
		WithDetail("available", available)
}

func QuotaExceeded(resource string, required, available string) *KernelError {
	return New(CodeQuotaExceeded, "quota exceeded").
		WithDetail("resource", resource).
		WithDetail("required", required).
		WithDetail("available", available)
}

func InvalidArgument(reason string) *KernelError {
	return New(CodeInvalidArgument, reason)
}

func InvalidType(field, expected string) *KernelError {
	return New(CodeInvalidType, "invalid type").WithDetail("field", field).WithDetail("expected", expected)
}

func SyntaxError(err error) *KernelError {
	return Wrap(CodeSyntaxError, "syntax error", err)
}

func RuntimeError(err error) *KernelError {
	return Wrap(CodeRuntimeError, "runtime error", err)
}

func Timeout(operation string) *KernelError {
	return New(CodeTimeout, "operation timed out").WithDetail("operation", operation)
}

func Deleted(id string) *KernelError {
	return New(CodeDeleted, "artifact has been deleted").WithDetail("id", id)
}

func RateLimited(resource string) *KernelError {
	return New(CodeRateLimited, "rate limit exceeded").WithDetail("resource", resource)
}

// As extracts a *KernelError from an error chain, mirroring errors.As.
func As(err error) (*KernelError, bool) {
	var ke *KernelError
	if errors.As(err, &ke) {
		return ke, true
	}
	return nil, false
}
