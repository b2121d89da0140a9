// Package errors defines the settlement error taxonomy shared by every
// component. Each error carries a Kind describing where in the lifecycle it
// was raised; external-call failures always wrap the original cause so the
// raw failure reason survives up the stack unchanged.
package errors

import (
	stderrors "errors"
)

// Kind classifies a settlement error.
type Kind uint8

const (
	KindUnknown Kind = iota
	// KindValidation covers malformed input rejected before any state change:
	// zero addresses, malformed orders, out-of-bounds fee rates.
	KindValidation
	// KindAuthorization covers callers that are not permitted to perform the
	// operation: non-whitelisted takers, non-owner admin calls, non-maker cancels.
	KindAuthorization
	// KindStateConflict covers operations that are valid in form but illegal in
	// the current fill or delegation state: exhausted orders, cooldowns, expiry.
	KindStateConflict
	// KindExternalCall covers failures of untrusted sub-calls: signature
	// validation against a contract account, the taker callback, token moves.
	KindExternalCall
	// KindInvariant covers post-pull checks that must hold before funds settle:
	// zero computed fill or fee, insufficient resulting balance.
	KindInvariant
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuthorization:
		return "authorization"
	case KindStateConflict:
		return "state_conflict"
	case KindExternalCall:
		return "external_call"
	case KindInvariant:
		return "invariant"
	default:
		return "unknown"
	}
}

// Error is a kinded settlement error. Op, when set, names the operation that
// raised it; Err is the underlying cause and is never rewritten.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op != "" {
		return e.Op + ": " + e.Err.Error()
	}
	return e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// New creates a sentinel settlement error of the given kind.
func New(kind Kind, text string) *Error {
	return &Error{Kind: kind, Err: stderrors.New(text)}
}

// Wrap annotates err with an operation name and kind. The original error
// remains reachable through errors.Is/errors.As and its message is preserved
// verbatim inside the wrapped message.
func Wrap(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf reports the kind of the outermost settlement error in err's chain,
// or KindUnknown if there is none.
func KindOf(err error) Kind {
	var se *Error
	if stderrors.As(err, &se) {
		return se.Kind
	}
	return KindUnknown
}

// Settlement sentinels. These are the observable rejection reasons of the
// limit and DCA state machines.
var (
	ErrAlreadyFilled             = New(KindStateConflict, "order already filled")
	ErrOrderExpired              = New(KindStateConflict, "order expired")
	ErrTradesExhausted           = New(KindStateConflict, "dca trades exhausted")
	ErrCycleNotElapsed           = New(KindStateConflict, "dca cycle not elapsed")
	ErrZeroFillRejected          = New(KindInvariant, "fill amount, maker portion or fee rounds to zero")
	ErrSlippageExceeded          = New(KindInvariant, "actual fill below minimum acceptable amount")
	ErrFillBelowMinimum          = New(KindInvariant, "declared output below per-cycle minimum")
	ErrInsufficientTakerBalance  = New(KindInvariant, "taker balance below fill amount after callback")
	ErrInsufficientMakerBalance  = New(KindValidation, "maker balance below per-cycle input amount")
	ErrCallerNotWhitelisted      = New(KindAuthorization, "caller is not a whitelisted taker")
	ErrNotOwner                  = New(KindAuthorization, "caller is not the owner")
	ErrNotMaker                  = New(KindAuthorization, "caller is not the order maker")
	ErrInvalidSignature          = New(KindValidation, "invalid signature")
	ErrSignatureValidationFailed = New(KindExternalCall, "contract signature validation failed")
	ErrReentrantCall             = New(KindStateConflict, "reentrant settlement call")
	ErrZeroAddress               = New(KindValidation, "zero address")
	ErrFeeRateOutOfBounds        = New(KindValidation, "fee rate out of bounds")
	ErrZeroGasCeiling            = New(KindValidation, "validation gas ceiling must be positive")
	ErrCallbackDataTooShort      = New(KindValidation, "taker callback payload too short")
)

// Delegation sentinels.
var (
	ErrNotAuthorizedCaller = New(KindAuthorization, "caller is not an authorized delegate")
	ErrNoPendingDelegate   = New(KindStateConflict, "no pending delegate")
	ErrTimelockNotElapsed  = New(KindStateConflict, "timelock not elapsed")
)

// Is delegates to the standard library so callers can match sentinels through
// wrapped chains.
func Is(err, target error) bool { return stderrors.Is(err, target) }

// As delegates to the standard library.
func As(err error, target any) bool { return stderrors.As(err, target) }
