package wip

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	// ErrAmountMismatch indicates a caller total that disagrees with the data.
	ErrAmountMismatch = errors.New("wip: reported amount mismatch")
	// ErrConcurrentUpdate indicates the transaction lost a serialization race.
	ErrConcurrentUpdate = errors.New("wip: concurrent valuation update, retry")
)

// AmountMismatchError carries the disagreeing totals.
type AmountMismatchError struct {
	Field    string
	Reported decimal.Decimal
	Computed decimal.Decimal
}

func (e *AmountMismatchError) Error() string {
	return fmt.Sprintf("wip: reported %s %s differs from computed %s", e.Field, e.Reported.StringFixed(2), e.Computed.StringFixed(2))
}

func (e *AmountMismatchError) Unwrap() error {
	return ErrAmountMismatch
}
