package coupon

import "errors"

// Kind группирует доменные ошибки по тому, как на них реагировать.
type Kind int

const (
	KindInternal Kind = iota
	KindNotFound
	KindConflict
	KindScopeViolation
	KindExpired
	KindUnavailable
	KindInvalid
	KindTransient
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindScopeViolation:
		return "scope_violation"
	case KindExpired:
		return "expired"
	case KindUnavailable:
		return "unavailable"
	case KindInvalid:
		return "invalid"
	case KindTransient:
		return "transient"
	default:
		return "internal"
	}
}

type Error struct {
	Kind    Kind
	Code    string
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

var (
	ErrCouponNotFound  = &Error{Kind: KindNotFound, Code: "COUPON_NOT_FOUND", Message: "coupon not found"}
	ErrCodeNotFound    = &Error{Kind: KindNotFound, Code: "CODE_NOT_FOUND", Message: "redemption code does not exist"}
	ErrVoucherNotFound = &Error{Kind: KindNotFound, Code: "VOUCHER_NOT_FOUND", Message: "voucher not found"}
	ErrStoreNotFound   = &Error{Kind: KindNotFound, Code: "STORE_NOT_FOUND", Message: "store not found"}

	ErrAlreadyIssued = &Error{Kind: KindConflict, Code: "ALREADY_ISSUED", Message: "you already have this coupon"}
	ErrOutOfStock    = &Error{Kind: KindConflict, Code: "OUT_OF_STOCK", Message: "this coupon is sold out"}
	ErrAlreadyUsed   = &Error{Kind: KindConflict, Code: "ALREADY_USED", Message: "voucher has already been redeemed"}

	ErrStoreMismatch = &Error{Kind: KindScopeViolation, Code: "STORE_MISMATCH", Message: "voucher belongs to a different store"}
	ErrNotStoreOwner = &Error{Kind: KindScopeViolation, Code: "NOT_STORE_OWNER", Message: "only the store owner can manage its coupons"}

	ErrExpired = &Error{Kind: KindExpired, Code: "EXPIRED", Message: "voucher has expired"}

	ErrCouponNotIssuable = &Error{Kind: KindUnavailable, Code: "COUPON_NOT_ISSUABLE", Message: "this coupon isn't available right now"}

	ErrInvalidCoupon = &Error{Kind: KindInvalid, Code: "INVALID_COUPON", Message: "invalid coupon"}

	ErrCodeGenerationExhausted = &Error{Kind: KindTransient, Code: "CODE_GENERATION_EXHAUSTED", Message: "could not allocate a unique redemption code, try again"}
	ErrLockTimeout             = &Error{Kind: KindTransient, Code: "LOCK_TIMEOUT", Message: "coupon is busy, try again"}
	ErrConcurrentUpdate        = &Error{Kind: KindTransient, Code: "CONCURRENT_UPDATE", Message: "request collided with another one, try again"}
)

// KindOf возвращает вид первой доменной ошибки в цепочке err.
// Ошибки без доменного смысла считаются KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// AsError достаёт доменную ошибку из цепочки err, если она есть.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

func IsRetryable(err error) bool {
	return KindOf(err) == KindTransient
}
