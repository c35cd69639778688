package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Error types for the bank-slip subsystem. Callers branch on them with errors.As.

// ErrCertificateNotFound means no configured source yielded the mTLS client
// certificate. The gateway cannot work without it.
type ErrCertificateNotFound struct {
	Thumbprint string
	Tried      int
}

func (e *ErrCertificateNotFound) Error() string {
	return fmt.Sprintf("client certificate not found (thumbprint=%q, candidates tried=%d)", e.Thumbprint, e.Tried)
}

// ErrAuthenticationFailed indicates the client-credentials grant was rejected
// or its response could not be parsed.
type ErrAuthenticationFailed struct {
	Status int
	Reason string
	Err    error
}

func (e *ErrAuthenticationFailed) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("authentication failed (status=%d): %s: %v", e.Status, e.Reason, e.Err)
	}
	return fmt.Sprintf("authentication failed (status=%d): %s", e.Status, e.Reason)
}

func (e *ErrAuthenticationFailed) Unwrap() error {
	return e.Err
}

// ErrProtocol is a transport-level or malformed-response failure: the bank
// endpoint or the network path is broken. It is never a business rejection.
type ErrProtocol struct {
	Operation string
	Status    int
	Bank      *BankError
	Err       error
}

func (e *ErrProtocol) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "protocol error [%s]", e.Operation)
	if e.Status != 0 {
		fmt.Fprintf(&b, " status=%d", e.Status)
	}
	if e.Bank != nil {
		fmt.Fprintf(&b, ": %s", e.Bank)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *ErrProtocol) Unwrap() error {
	return e.Err
}

// ErrRegistration carries the bank's own rejection of a registration payload.
type ErrRegistration struct {
	Reference string
	Status    int
	Bank      BankError
}

func (e *ErrRegistration) Error() string {
	return fmt.Sprintf("registration rejected for %s (status=%d): %s", e.Reference, e.Status, e.Bank.String())
}

// ErrNotFound indicates a resource was not found.
type ErrNotFound struct {
	Resource string
	ID       string
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// ErrArgument is raised before any network call when the caller passed an
// unrecognised query kind or a malformed identifier or payload.
type ErrArgument struct {
	Field   string
	Message string
}

func (e *ErrArgument) Error() string {
	return fmt.Sprintf("invalid argument '%s': %s", e.Field, e.Message)
}

// ErrDuplicate indicates a uniqueness violation, e.g. an already used
// (reference, reference date) pair.
type ErrDuplicate struct {
	Key string
}

func (e *ErrDuplicate) Error() string {
	return fmt.Sprintf("duplicate: %s", e.Key)
}

// ErrInvalidTransition rejects a lifecycle change the state machine forbids.
type ErrInvalidTransition struct {
	From BoletoStatus
	To   BoletoStatus
}

func (e *ErrInvalidTransition) Error() string {
	return fmt.Sprintf("invalid status transition %s -> %s", e.From, e.To)
}

// ErrUnauthorized indicates invalid credentials or token on the inbound API.
type ErrUnauthorized struct {
	Message string
}

func (e *ErrUnauthorized) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return "unauthorized"
}

// RegistrationRefused reports whether a failed Register call proves the bank
// did not record the document. Transport failures, timeouts and 5xx answers
// return false: the bank may hold a live slip the caller never heard about.
func RegistrationRefused(err error) bool {
	var (
		rejected *ErrRegistration
		argument *ErrArgument
		auth     *ErrAuthenticationFailed
		cert     *ErrCertificateNotFound
	)
	return errors.As(err, &rejected) ||
		errors.As(err, &argument) ||
		errors.As(err, &auth) ||
		errors.As(err, &cert)
}
