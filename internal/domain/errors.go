package domain

import (
	"errors"
	"time"
)

// RetriableError defines an interface for errors that can be retried
type RetriableError interface {
	error
	IsRetriable() bool
}

// IsRetriable checks if an error is retriable
func IsRetriable(err error) bool {
	var re RetriableError
	if errors.As(err, &re) {
		return re.IsRetriable()
	}
	return false
}

// ValidationError reports an unmet precondition on the call's inputs or the caller's ledger.
type ValidationError struct {
	Op  string
	Err error
}

func (e *ValidationError) Error() string {
	return e.Op + ": validation failed: " + e.Err.Error()
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// AuthorizationError reports a caller invoking an operation it is not allowed to.
type AuthorizationError struct {
	Op     string
	Caller Identity
	Err    error
}

func (e *AuthorizationError) Error() string {
	return e.Op + ": caller " + string(e.Caller) + " not authorized: " + e.Err.Error()
}

func (e *AuthorizationError) Unwrap() error {
	return e.Err
}

// TimingError reports an operation attempted outside its valid time window.
type TimingError struct {
	Op       string
	Now      time.Time
	Deadline time.Time
	Err      error
}

func (e *TimingError) Error() string {
	return e.Op + ": " + e.Err.Error() + " (now " + e.Now.UTC().Format(time.RFC3339) +
		", deadline " + e.Deadline.UTC().Format(time.RFC3339) + ")"
}

func (e *TimingError) Unwrap() error {
	return e.Err
}

// TransferError reports a failed value transfer. The whole call is aborted.
type TransferError struct {
	To     Identity
	Amount int64
	Err    error
}

func (e *TransferError) Error() string {
	return "transfer to " + string(e.To) + " failed: " + e.Err.Error()
}

// IsRetriable is true: the caller decides whether to retry once the recipient accepts value.
func (e *TransferError) IsRetriable() bool {
	return true
}

func (e *TransferError) Unwrap() error {
	return e.Err
}

// ConfigError represents a configuration error (never retriable)
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return "config error [" + e.Field + "]: " + e.Err.Error()
}

func (e *ConfigError) IsRetriable() bool {
	return false
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

var (
	// ErrNoOffers is returned by queries against an auction with no accepted offers.
	ErrNoOffers = errors.New("no offers")

	ErrInvalidIdentity      = errors.New("invalid caller identity")
	ErrInvalidAmount        = errors.New("invalid amount")
	ErrAmountOverflow       = errors.New("amount overflow")
	ErrBidBelowMinimum      = errors.New("bid must exceed the minimum price")
	ErrBidIncrementTooSmall = errors.New("bid must be at least 5% above the best offer")
	ErrUnsolicitedValue     = errors.New("value may only be attached to a bid")
	ErrNoDeposit            = errors.New("no deposit held for caller")
	ErrNotEnoughOffers      = errors.New("caller must have placed more than one offer")
	ErrNothingToWithdraw    = errors.New("nothing to withdraw")
	ErrEmptyHeld            = errors.New("contract holds no value")

	ErrNotOwner        = errors.New("caller is not the owner")
	ErrFeatureDisabled = errors.New("operation disabled for this auction")

	ErrAuctionEnded      = errors.New("auction has ended")
	ErrAuctionNotEnded   = errors.New("auction has not ended")
	ErrAlreadyFinalized  = errors.New("auction already finalized")
	ErrNotFinalized      = errors.New("auction not finalized")
	ErrRecipientRejected = errors.New("recipient rejected the transfer")
	ErrInsufficientFunds = errors.New("insufficient contract funds")

	// ErrConfigNotFound is returned when configuration file is missing
	ErrConfigNotFound = errors.New("configuration not found")
)

// ErrorKind classifies an error into the call error taxonomy.
type ErrorKind string

const (
	KindNone          ErrorKind = ""
	KindValidation    ErrorKind = "validation"
	KindAuthorization ErrorKind = "authorization"
	KindTiming        ErrorKind = "timing"
	KindNoOffers      ErrorKind = "no_offers"
	KindTransfer      ErrorKind = "transfer"
	KindInternal      ErrorKind = "internal"
)

// KindOf returns the taxonomy kind of err.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindNone
	}
	var (
		ve *ValidationError
		ae *AuthorizationError
		te *TimingError
		xe *TransferError
	)
	switch {
	case errors.Is(err, ErrNoOffers):
		return KindNoOffers
	case errors.As(err, &ve):
		return KindValidation
	case errors.As(err, &ae):
		return KindAuthorization
	case errors.As(err, &te):
		return KindTiming
	case errors.As(err, &xe):
		return KindTransfer
	default:
		return KindInternal
	}
}
