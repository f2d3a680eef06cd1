package workflow

import (
	"errors"

	"github.com/mmdatafocus/packing_backend/utils"
)

var (
	ErrInvalidQuantity            = errors.New("invalid quantity")
	ErrInvalidDestination         = errors.New("invalid destination class")
	ErrInsufficientStock          = errors.New("insufficient on-hand stock")
	ErrUnknownMaterial            = errors.New("unknown or inactive material")
	ErrUnknownProduct             = errors.New("product is not part of the issue record")
	ErrDuplicateLine              = errors.New("duplicate line")
	ErrOverReceipt                = errors.New("received units exceed pending quantity")
	ErrNonPositiveReceipt         = errors.New("total received units must be positive")
	ErrOverDamage                 = errors.New("damaged quantity exceeds remaining returnable quantity")
	ErrIssueCancelled             = errors.New("issue record is cancelled")
	ErrIssueHasReceipts           = errors.New("issue record has active receipts")
	ErrReceiptCancelled           = errors.New("receipt record is already cancelled")
	ErrReceiptHasApprovedDamage   = errors.New("receipt has approved damaged stock")
	ErrDamageNotPending           = errors.New("damaged stock entry is not pending")
	ErrDamageNotApproved          = errors.New("damaged stock entry is not approved")
	ErrDamageAlreadyWrittenOff    = errors.New("damaged stock entry is already written off")
	ErrWriteOffExceedsOutstanding = errors.New("write-off exceeds outstanding WIP")
	ErrUsageExceedsWriteOff       = errors.New("material usage would exceed quantity not written off")
	ErrReasonRequired             = errors.New("reason is required")
	ErrInvalidDateRange           = errors.New("invalid date range")
	ErrInvalidEvent               = errors.New("invalid stock event")
	ErrEventConflict              = errors.New("stock event conflicts with a previously applied event")
	ErrInvalidMaterial            = errors.New("invalid material")
)

// ErrWIPUnderflow means a WIP bucket would go negative. It signals corrupted
// state rather than bad input, so it is not a validation error.
var ErrWIPUnderflow = errors.New("WIP bucket would become negative")

var validationErrors = []error{
	ErrInvalidQuantity, ErrInvalidDestination, ErrInsufficientStock, ErrUnknownMaterial,
	ErrUnknownProduct, ErrDuplicateLine, ErrOverReceipt, ErrNonPositiveReceipt, ErrOverDamage,
	ErrIssueCancelled, ErrIssueHasReceipts, ErrReceiptCancelled, ErrReceiptHasApprovedDamage,
	ErrDamageNotPending, ErrDamageNotApproved, ErrDamageAlreadyWrittenOff,
	ErrWriteOffExceedsOutstanding, ErrUsageExceedsWriteOff, ErrReasonRequired,
	ErrInvalidDateRange, ErrInvalidEvent, ErrEventConflict, ErrInvalidMaterial,
}

// IsValidationError reports whether err was caused by input that can never succeed as sent.
func IsValidationError(err error) bool {
	for _, target := range validationErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func IsNotFound(err error) bool {
	return errors.Is(err, utils.ErrorRecordNotFound)
}
