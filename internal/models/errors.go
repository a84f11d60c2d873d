package models

import "errors"

// Validation errors: rejected synchronously, the order never enters a book.
var (
	ErrInvalidAmount      = errors.New("amount must be positive")
	ErrAmountAboveCeiling = errors.New("amount exceeds per-order ceiling")
	ErrWindowClosed       = errors.New("trading window closed")
	ErrUnknownZone        = errors.New("unknown zone")
	ErrInvalidPrice       = errors.New("limit price must be positive")
	ErrInvalidSide        = errors.New("side must be buy or sell")
	ErrInvalidKind        = errors.New("unknown order kind")
	ErrInvalidSnapshot    = errors.New("malformed grid snapshot")
	ErrInvalidOverride    = errors.New("malformed authority override")
)

// Constraint errors: the candidate match is skipped and retried next tick.
var (
	ErrConservationViolation = errors.New("energy conservation violated")
	ErrCapacityExceeded      = errors.New("zone transmission capacity exceeded")
	ErrZoneHalted            = errors.New("zone halted")
)

// Authorization errors.
var (
	ErrUnauthorized        = errors.New("requester does not own order")
	ErrUnverifiedAuthority = errors.New("authority signature not verified")
)

// State errors.
var (
	ErrOrderNotFound   = errors.New("order not found")
	ErrAlreadyTerminal = errors.New("order already in terminal state")
)

// Internal invariant errors: the affected book halts until reset.
var (
	ErrInvariantViolation = errors.New("internal invariant violated")
	ErrBookFaulted        = errors.New("order book halted after invariant violation")
	ErrDuplicateTrade     = errors.New("duplicate trade id")
	ErrUnbackedTrade      = errors.New("trade not backed by order fills")
)

// External dependency errors.
var (
	ErrStaleSnapshot = errors.New("grid snapshot missing or stale")
	ErrPersistence   = errors.New("persistence sink failure")
)

var reasons = []struct {
	err  error
	code string
}{
	{ErrInvalidAmount, "INVALID_AMOUNT"},
	{ErrAmountAboveCeiling, "AMOUNT_ABOVE_CEILING"},
	{ErrWindowClosed, "WINDOW_CLOSED"},
	{ErrUnknownZone, "UNKNOWN_ZONE"},
	{ErrInvalidPrice, "INVALID_PRICE"},
	{ErrInvalidSide, "INVALID_SIDE"},
	{ErrInvalidKind, "INVALID_KIND"},
	{ErrInvalidSnapshot, "INVALID_SNAPSHOT"},
	{ErrInvalidOverride, "INVALID_OVERRIDE"},
	{ErrConservationViolation, "CONSERVATION_VIOLATION"},
	{ErrCapacityExceeded, "CAPACITY_EXCEEDED"},
	{ErrZoneHalted, "ZONE_HALTED"},
	{ErrUnauthorized, "UNAUTHORIZED"},
	{ErrUnverifiedAuthority, "UNVERIFIED_AUTHORITY"},
	{ErrOrderNotFound, "NOT_FOUND"},
	{ErrAlreadyTerminal, "ALREADY_TERMINAL"},
	{ErrBookFaulted, "BOOK_FAULTED"},
	{ErrDuplicateTrade, "DUPLICATE_TRADE"},
	{ErrUnbackedTrade, "UNBACKED_TRADE"},
	{ErrInvariantViolation, "INVARIANT_VIOLATION"},
	{ErrStaleSnapshot, "STALE_SNAPSHOT"},
	{ErrPersistence, "PERSISTENCE_FAILURE"},
}

// ReasonCode maps an error to the stable code reported to callers
func ReasonCode(err error) string {
	if err == nil {
		return ""
	}
	for _, r := range reasons {
		if errors.Is(err, r.err) {
			return r.code
		}
	}
	return "INTERNAL"
}

// IsValidation reports whether err rejects an order before it reaches a book
func IsValidation(err error) bool {
	for _, e := range []error{ErrInvalidAmount, ErrAmountAboveCeiling, ErrWindowClosed,
		ErrUnknownZone, ErrInvalidPrice, ErrInvalidSide, ErrInvalidKind, ErrInvalidSnapshot, ErrInvalidOverride} {
		if errors.Is(err, e) {
			return true
		}
	}
	return false
}

// IsConstraint reports whether err is a grid constraint rejection
func IsConstraint(err error) bool {
	return errors.Is(err, ErrConservationViolation) ||
		errors.Is(err, ErrCapacityExceeded) ||
		errors.Is(err, ErrZoneHalted)
}

// IsInternal reports whether err must halt the affected book
func IsInternal(err error) bool {
	return errors.Is(err, ErrInvariantViolation) ||
		errors.Is(err, ErrDuplicateTrade) ||
		errors.Is(err, ErrUnbackedTrade)
}
