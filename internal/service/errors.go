package service

import (
	"errors"

	"github.com/iliyamo/festival-ticketing/internal/repository"
)

// Domain errors. Callers branch on them with errors.Is; wrapped causes add
// detail for logs.
var (
	ErrNotFound  = repository.ErrNotFound
	ErrForbidden = repository.ErrForbidden

	// ErrInsufficientInventory means no block or ticket type can satisfy the
	// requested quantity right now.
	ErrInsufficientInventory = errors.New("insufficient inventory")
	// ErrInvalidState means the operation is not allowed in the row's
	// current state, e.g. finalizing a cancelled order.
	ErrInvalidState = errors.New("invalid state")
	// ErrExpiredToken means a transfer token is past its expiry.
	ErrExpiredToken = errors.New("token expired")
	// ErrHoldExpired means a hold lapsed before it could be converted.
	ErrHoldExpired = errors.New("hold expired")
	// ErrSignatureInvalid means a signed QR failed verification or carries a
	// superseded version.
	ErrSignatureInvalid = errors.New("signature invalid")
	// ErrContention means another commit holds the ticket; retry.
	ErrContention = errors.New("contention")
	// ErrReconciliationRequired means payment was taken but the order could
	// not be honoured. The order is flagged for manual follow-up.
	ErrReconciliationRequired = errors.New("reconciliation required")
	// ErrFeatureDisabled means the event configuration switches the
	// operation off.
	ErrFeatureDisabled = errors.New("feature disabled")
)
