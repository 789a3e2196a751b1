// Package errors defines the structured application error used across the
// service, the central handler that reports it, and small resilience helpers
// (bounded retry, circuit breaker) for calls to external resources.
package errors

import (
	"errors"
	"fmt"

	"github.com/w3bx/dutchswap/internal/auction"
)

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

type AppError struct {
	Code        string
	Message     string
	UserMessage string
	Severity    Severity
	Retryable   bool
	cause       error
}

func (e *AppError) Error() string {
	if e == nil {
		return ""
	}

	return e.Message
}

func (e *AppError) Unwrap() error {
	if e == nil {
		return nil
	}

	return e.cause
}

func (e *AppError) Cause() error {
	return e.Unwrap()
}

func NewValidationError(msg string) *AppError {
	return &AppError{
		Code:        "E100",
		Message:     msg,
		UserMessage: fmt.Sprintf("Invalid request. %s", msg),
		Severity:    SeverityLow,
		Retryable:   false,
		cause:       nil,
	}
}

func NewDatabaseError(cause error) *AppError {
	var underlyingMsg string
	if cause != nil {
		underlyingMsg = cause.Error()
	}

	return &AppError{
		Code:        "E200",
		Message:     fmt.Sprintf("Database error: %s", underlyingMsg),
		UserMessage: "Temporary problem, please retry later",
		Severity:    SeverityHigh,
		Retryable:   true,
		cause:       cause,
	}
}

// NewAuctionError wraps an engine sentinel error with the stable code and
// user-facing message the API exposes.
func NewAuctionError(cause error) *AppError {
	return &AppError{
		Code:        auctionCodeFor(cause),
		Message:     cause.Error(),
		UserMessage: auctionMessageFor(cause),
		Severity:    SeverityLow,
		Retryable:   false,
		cause:       cause,
	}
}

func NewRateLimitError(retryAfter int) *AppError {
	return &AppError{
		Code:        "E500",
		Message:     fmt.Sprintf("Rate limit exceeded: retry after %d seconds", retryAfter),
		UserMessage: fmt.Sprintf("Too many requests. Try again in %d seconds", retryAfter),
		Severity:    SeverityLow,
		Retryable:   false,
		cause:       nil,
	}
}

func auctionCodeFor(err error) string {
	switch {
	case errors.Is(err, auction.ErrUnauthorized):
		return "E401"
	case errors.Is(err, auction.ErrAlreadyStarted):
		return "E402"
	case errors.Is(err, auction.ErrAuctionInactive):
		return "E403"
	case errors.Is(err, auction.ErrInsufficientPayment):
		return "E404"
	case errors.Is(err, auction.ErrInvalidParameters):
		return "E405"
	case errors.Is(err, auction.ErrEscrowTransfer):
		return "E406"
	case errors.Is(err, auction.ErrSettlementTransfer):
		return "E407"
	default:
		return "E400"
	}
}

func auctionMessageFor(err error) string {
	switch {
	case errors.Is(err, auction.ErrUnauthorized):
		return "Only the seller may perform this operation"
	case errors.Is(err, auction.ErrAlreadyStarted):
		return "This auction has already been started"
	case errors.Is(err, auction.ErrAuctionInactive):
		return "This auction is not open for purchase"
	case errors.Is(err, auction.ErrInsufficientPayment):
		return "The payment is below the current price"
	case errors.Is(err, auction.ErrInvalidParameters):
		return "Amount, start price and duration must be positive"
	case errors.Is(err, auction.ErrEscrowTransfer), errors.Is(err, auction.ErrSettlementTransfer):
		return "A transfer was rejected; the auction state is unchanged"
	default:
		return "The operation could not be completed"
	}
}
