package ledger

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
)

type ErrorKind string

const (
	Transient ErrorKind = "transient"
	Permanent ErrorKind = "permanent"
)

// Error codes returned by the custodial ledger.
const (
	CodeInsufficientBalance = "balance.insufficient"
	CodeAccountNotFound     = "account.not.found"
	CodeBlockageNotFound    = "blockage.not.found"
)

// LedgerError is returned by every Client operation.
type LedgerError struct {
	Op         string
	Kind       ErrorKind
	StatusCode int
	Code       string
	Message    string
	// NotSent marks calls the ledger refused or never received, so repeating
	// them cannot move funds twice.
	NotSent bool
	Err     error
}

func (e *LedgerError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "ledger %s: %s", e.Op, e.Kind)
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (status %d)", e.StatusCode)
	}
	if e.Code != "" {
		fmt.Fprintf(&b, " %s", e.Code)
	}
	if e.Message != "" {
		fmt.Fprintf(&b, ": %s", e.Message)
	} else if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *LedgerError) Unwrap() error {
	return e.Err
}

func (e *LedgerError) Transient() bool {
	return e.Kind == Transient
}

func asLedgerError(err error) (*LedgerError, bool) {
	var le *LedgerError
	ok := errors.As(err, &le)
	return le, ok
}

func IsTransient(err error) bool {
	le, ok := asLedgerError(err)
	return ok && le.Transient()
}

// IsRetryable reports whether err may be retried immediately without risking
// a duplicate transfer.
func IsRetryable(err error) bool {
	le, ok := asLedgerError(err)
	return ok && le.Transient() && le.NotSent
}

func IsNotFound(err error) bool {
	le, ok := asLedgerError(err)
	if !ok {
		return false
	}
	return le.StatusCode == http.StatusNotFound || strings.HasSuffix(le.Code, "not.found")
}

func IsInsufficientBalance(err error) bool {
	le, ok := asLedgerError(err)
	return ok && le.Code == CodeInsufficientBalance
}

func classifyStatus(op string, status int, body apiError) *LedgerError {
	le := &LedgerError{
		Op:         op,
		Kind:       Permanent,
		StatusCode: status,
		Code:       body.ErrorCode,
		Message:    body.Message,
	}

	switch {
	case status == http.StatusTooManyRequests, status == http.StatusServiceUnavailable:
		le.Kind = Transient
		le.NotSent = true
	case status == http.StatusRequestTimeout, status >= 500:
		le.Kind = Transient
	}
	return le
}

func classifyTransport(op string, err error) *LedgerError {
	le := &LedgerError{Op: op, Kind: Transient, Err: err}

	var opErr *net.OpError
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &netErr) && netErr.Timeout():
		le.Code = "timeout"
	case errors.As(err, &opErr) && opErr.Op == "dial":
		le.NotSent = true
	}
	return le
}
