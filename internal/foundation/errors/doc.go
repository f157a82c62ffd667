// Package errors provides foundational, type-safe error primitives used across ContextHub.
//
// This package contains classified error types and helpers for robust error handling,
// including a fluent builder API for constructing ClassifiedError values with context.
//
// Key features:
//   - ErrorCategory: Broad error classification (validation, not_found, conflict, timeout, etc.)
//   - ErrorSeverity: Impact level (error, warning, info)
//   - RetryStrategy: Retry behavior (should-retry, no-retry, backoff)
//   - ClassifiedError: Structured error with category, severity, and context
//   - ErrorBuilder: Fluent API for creating classified errors
//   - HTTP adapter for error presentation
//
// Example usage:
//
//	err := errors.NotFoundError("context not found").
//		WithContext("level", level).
//		WithContext("context_id", id).
//		Build()
package errors
