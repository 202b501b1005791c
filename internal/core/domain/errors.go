package domain

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrNotFound          = errors.New("not found")
	ErrAlreadyExists     = errors.New("already exists")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrTransactionFailed = errors.New("transaction failed")

	// ErrLockTimeout marks a row lock that could not be acquired in time
	// (or a deadlock victim). Transactions failing with it may be re-submitted.
	ErrLockTimeout = errors.New("lock wait timeout")
)

// Entity names the record a NotFoundError refers to.
type Entity string

const (
	EntitySale      Entity = "sale"
	EntityInventory Entity = "inventory"
	EntitySaleItem  Entity = "sale_item"
)

type InvalidArgumentError struct {
	Field  string
	Reason string
}

func (e *InvalidArgumentError) Error() string {
	return fmt.Sprintf("invalid argument: %s %s", e.Field, e.Reason)
}

func (e *InvalidArgumentError) Is(target error) bool {
	return target == ErrInvalidArgument
}

type NotFoundError struct {
	Entity Entity
	ID     int64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %d not found", e.Entity, e.ID)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

type InsufficientStockError struct {
	ProductID int64
	Available int
	Requested int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %d: available %d, requested %d",
		e.ProductID, e.Available, e.Requested)
}

func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

// TransactionError wraps any storage, lock or timeout failure that aborted a
// unit of work and has no more specific kind.
type TransactionError struct {
	Op  string
	Err error
}

func (e *TransactionError) Error() string {
	return fmt.Sprintf("transaction failed: %s: %v", e.Op, e.Err)
}

func (e *TransactionError) Is(target error) bool {
	return target == ErrTransactionFailed
}

func (e *TransactionError) Unwrap() error {
	return e.Err
}

// Retryable reports whether the caller may re-submit the same request.
func (e *TransactionError) Retryable() bool {
	return errors.Is(e.Err, ErrLockTimeout) || errors.Is(e.Err, context.DeadlineExceeded)
}

// WrapTxError classifies err as a TransactionError unless it already carries
// one of the typed kinds.
func WrapTxError(op string, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, ErrInvalidArgument),
		errors.Is(err, ErrNotFound),
		errors.Is(err, ErrAlreadyExists),
		errors.Is(err, ErrInsufficientStock),
		errors.Is(err, ErrTransactionFailed):
		return err
	}
	return &TransactionError{Op: op, Err: err}
}

// IsRetryable reports whether err is a TransactionError worth re-submitting.
func IsRetryable(err error) bool {
	var txErr *TransactionError
	return errors.As(err, &txErr) && txErr.Retryable()
}

// ValidateID checks that id is a positive identifier.
func ValidateID(field string, id int64) error {
	if id <= 0 {
		return &InvalidArgumentError{Field: field, Reason: "must be a positive integer"}
	}
	return nil
}
