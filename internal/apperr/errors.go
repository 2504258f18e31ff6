package apperr

import (
	"errors"
	"fmt"
)

// Kinds. Every error returned by the ledger unwraps to exactly one of these.
var (
	ErrInvalidAmount      = errors.New("invalid amount")
	ErrNotFound           = errors.New("not found")
	ErrInsufficientFunds  = errors.New("insufficient funds")
	ErrInsufficientEscrow = errors.New("insufficient escrow balance")
	ErrIllegalState       = errors.New("illegal state")
	ErrLimitExceeded      = errors.New("limit exceeded")
	ErrDuplicate          = errors.New("duplicate")
	ErrVersionConflict    = errors.New("version conflict")
	ErrTimeout            = errors.New("timeout")
	ErrPinRequired        = errors.New("pin required")
	ErrInvalidInput       = errors.New("invalid input")
	ErrForbidden          = errors.New("forbidden")
)

// Error is a classified failure with a bilingual user message.
type Error struct {
	Kind      error
	Message   string
	MessageAr string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Kind.Error()
	}
	return e.Kind.Error() + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.Kind }

func New(kind error, message, messageAr string) *Error {
	return &Error{Kind: kind, Message: message, MessageAr: messageAr}
}

func InvalidAmount() *Error {
	return New(ErrInvalidAmount, "amount must be greater than zero", "يجب أن يكون المبلغ أكبر من صفر")
}

func AmountPrecision(places int32) *Error {
	return New(ErrInvalidAmount,
		fmt.Sprintf("amount must have at most %d decimal places", places),
		fmt.Sprintf("يجب ألا يتجاوز المبلغ %d منازل عشرية", places))
}

func NotFound(entity, id string) *Error {
	return New(ErrNotFound,
		fmt.Sprintf("%s %s not found", entity, id),
		fmt.Sprintf("لم يتم العثور على %s", entity))
}

func InsufficientFunds() *Error {
	return New(ErrInsufficientFunds, "insufficient balance", "الرصيد غير كافٍ")
}

func InsufficientEscrow() *Error {
	return New(ErrInsufficientEscrow, "insufficient escrow balance", "رصيد الضمان غير كافٍ")
}

func IllegalState(message, messageAr string) *Error {
	return New(ErrIllegalState, message, messageAr)
}

func LimitExceeded(message, messageAr string) *Error {
	return New(ErrLimitExceeded, message, messageAr)
}

func Duplicate(message, messageAr string) *Error {
	return New(ErrDuplicate, message, messageAr)
}

func VersionConflict() *Error {
	return New(ErrVersionConflict, "wallet was modified concurrently, retry", "تم تعديل المحفظة في نفس الوقت، أعد المحاولة")
}

func Timeout() *Error {
	return New(ErrTimeout, "operation timed out, retry", "انتهت مهلة العملية، أعد المحاولة")
}

func PinRequired() *Error {
	return New(ErrPinRequired, "a valid PIN is required for this amount", "رمز PIN صحيح مطلوب لهذا المبلغ")
}

func InvalidInput(message, messageAr string) *Error {
	return New(ErrInvalidInput, message, messageAr)
}

func Forbidden() *Error {
	return New(ErrForbidden, "you are not allowed to access this wallet", "غير مسموح لك بالوصول إلى هذه المحفظة")
}

// IsRetryable reports whether the caller may retry with the same idempotency key.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrVersionConflict) || errors.Is(err, ErrTimeout)
}

// Messages returns the bilingual user message of a classified error.
func Messages(err error) (string, string, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Message, e.MessageAr, true
	}
	return "", "", false
}
