package domain

import "time"

// ============================================================
// Boleto lifecycle
// ============================================================

// BoletoStatus is the internal lifecycle state of a billing document.
type BoletoStatus string

const (
	StatusPending          BoletoStatus = "PENDING"
	StatusRegistered       BoletoStatus = "REGISTERED"
	StatusPastDue          BoletoStatus = "PAST_DUE" // label of Registered, reported by the bank
	StatusPartiallySettled BoletoStatus = "PARTIALLY_SETTLED"
	StatusSettled          BoletoStatus = "SETTLED"
	StatusWrittenOff       BoletoStatus = "WRITTEN_OFF"
	StatusCancelled        BoletoStatus = "CANCELLED"
	StatusFailed           BoletoStatus = "FAILED"
)

var transitions = map[BoletoStatus][]BoletoStatus{
	// Pending has an unknown bank-side outcome, so it cannot be cancelled locally.
	StatusPending:          {StatusRegistered, StatusFailed},
	StatusRegistered:       {StatusPastDue, StatusPartiallySettled, StatusSettled, StatusWrittenOff, StatusCancelled},
	StatusPastDue:          {StatusRegistered, StatusPartiallySettled, StatusSettled, StatusWrittenOff, StatusCancelled},
	StatusPartiallySettled: {StatusSettled, StatusWrittenOff},
}

// IsTerminal reports whether no further write may target a boleto in s.
func (s BoletoStatus) IsTerminal() bool {
	switch s {
	case StatusSettled, StatusWrittenOff, StatusCancelled, StatusFailed:
		return true
	}
	return false
}

// IsOpen reports whether the bank may still change the document's state.
func (s BoletoStatus) IsOpen() bool {
	switch s {
	case StatusRegistered, StatusPastDue, StatusPartiallySettled:
		return true
	}
	return false
}

// CanTransitionTo reports whether s -> to is a legal forward move.
// Staying in the same state is always allowed.
func (s BoletoStatus) CanTransitionTo(to BoletoStatus) bool {
	if s == to {
		return true
	}
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Valid reports whether s is one of the known states.
func (s BoletoStatus) Valid() bool {
	switch s {
	case StatusPending, StatusRegistered, StatusPastDue, StatusPartiallySettled,
		StatusSettled, StatusWrittenOff, StatusCancelled, StatusFailed:
		return true
	}
	return false
}

// ============================================================
// Bank status vocabulary (closed set)
// ============================================================

// BankStatus is the normalised form of the bank's status strings.
type BankStatus string

const (
	BankStatusActive           BankStatus = "Active"
	BankStatusWrittenOff       BankStatus = "WrittenOff"
	BankStatusSettled          BankStatus = "Settled"
	BankStatusPartiallySettled BankStatus = "PartiallySettled"
	BankStatusCancelled        BankStatus = "Cancelled"
	BankStatusRegistered       BankStatus = "Registered"
	BankStatusUnknown          BankStatus = "Unknown"
)

// Lifecycle maps a bank status onto the internal lifecycle. An active
// document whose due date has passed is labelled PastDue. Unknown maps to
// ok=false and the caller keeps the current state.
func (b BankStatus) Lifecycle(dueDate, now time.Time) (BoletoStatus, bool) {
	switch b {
	case BankStatusActive, BankStatusRegistered:
		if !dueDate.IsZero() && truncateDay(now).After(truncateDay(dueDate)) {
			return StatusPastDue, true
		}
		return StatusRegistered, true
	case BankStatusSettled:
		return StatusSettled, true
	case BankStatusPartiallySettled:
		return StatusPartiallySettled, true
	case BankStatusWrittenOff:
		return StatusWrittenOff, true
	case BankStatusCancelled:
		return StatusCancelled, true
	}
	return "", false
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
