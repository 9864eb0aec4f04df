package model

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrTransientFetch marks fetch failures worth retrying (network, 5xx, rate limit).
	ErrTransientFetch = errors.New("transient fetch failure")
	// ErrPermanentFetch marks fetch failures that will not go away on retry.
	ErrPermanentFetch = errors.New("permanent fetch failure")
	// ErrStorage marks failures of the series store.
	ErrStorage = errors.New("storage failure")
	// ErrInsufficientData is returned when a series is too short to fit.
	ErrInsufficientData = errors.New("insufficient data")
	// ErrInvalidHorizon is returned for negative prediction horizons.
	ErrInvalidHorizon = errors.New("invalid horizon")
)

// FetchError describes a failed provider call.
type FetchError struct {
	Provider   string
	Symbol     string
	StatusCode int
	Permanent  bool
	Err        error
}

func (e *FetchError) Error() string {
	kind := "transient"
	if e.Permanent {
		kind = "permanent"
	}
	msg := fmt.Sprintf("%s fetch %s (%s)", e.Provider, e.Symbol, kind)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" status %d", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *FetchError) Unwrap() []error {
	kind := ErrTransientFetch
	if e.Permanent {
		kind = ErrPermanentFetch
	}
	if e.Err == nil {
		return []error{kind}
	}
	return []error{kind, e.Err}
}

// ValidationError rejects a single malformed bar.
type ValidationError struct {
	Symbol string
	Time   time.Time
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid bar %s@%s: %s", e.Symbol, e.Time.UTC().Format(time.RFC3339), e.Reason)
}

// StorageError wraps a store failure with the operation it broke.
type StorageError struct {
	Op     string
	Symbol string
	Err    error
}

func (e *StorageError) Error() string {
	if e.Symbol == "" {
		return fmt.Sprintf("store %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("store %s %s: %v", e.Op, e.Symbol, e.Err)
}

func (e *StorageError) Unwrap() []error { return []error{ErrStorage, e.Err} }

// InsufficientDataError reports how short the series was.
type InsufficientDataError struct {
	Symbol string
	Have   int
	Need   int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("insufficient data for %s: have %d points, need %d", e.Symbol, e.Have, e.Need)
}

func (e *InsufficientDataError) Unwrap() error { return ErrInsufficientData }
