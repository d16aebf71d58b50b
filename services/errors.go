package services

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidInput indicates a missing account, non-positive amount, or blank code.
	ErrInvalidInput = errors.New("loyalty: invalid input")
	// ErrInsufficientBalance indicates a redemption exceeding the current balance.
	ErrInsufficientBalance = errors.New("loyalty: insufficient balance")
	// ErrNotFound indicates no matching referrer or no claimable referral log row.
	ErrNotFound = errors.New("loyalty: not found")
	// ErrPersistence wraps an underlying store error.
	ErrPersistence = errors.New("loyalty: persistence failure")
)

// persistence converts a raw store error into an ErrPersistence result,
// leaving already-classified errors untouched.
func persistence(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrInvalidInput) || errors.Is(err, ErrInsufficientBalance) ||
		errors.Is(err, ErrNotFound) || errors.Is(err, ErrPersistence) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrPersistence, err)
}
