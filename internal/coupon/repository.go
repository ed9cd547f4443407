package coupon

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository операции хранилища купонов без блокировок.
type Repository interface {
	WithinTx(ctx context.Context, fn func(tx TxRepository) error) error

	GetStore(ctx context.Context, storeID int64) (*Store, error)
	CreateCoupon(ctx context.Context, c *Coupon) error
	GetCoupon(ctx context.Context, couponUUID uuid.UUID) (*Coupon, error)
	ListStoreCoupons(ctx context.Context, storeID int64) ([]*Coupon, error)
	HasVoucher(ctx context.Context, userID int64, couponUUID uuid.UUID) (bool, error)
	ListVouchers(ctx context.Context, userID int64) ([]VoucherView, error)
	GetVoucher(ctx context.Context, userID, voucherID int64) (*VoucherView, error)
}

// TxRepository операции, которые выполняются внутри одной транзакции.
// Методы Lock* берут эксклюзивную блокировку строки до конца транзакции.
type TxRepository interface {
	LockCoupon(ctx context.Context, couponUUID uuid.UUID) (*Coupon, error)
	HasIssued(ctx context.Context, userID, couponID int64) (bool, error)
	// DecrementQuantity возвращает ok=false, если остатка нет.
	DecrementQuantity(ctx context.Context, couponID int64) (remaining int, ok bool, err error)
	// InsertVoucher возвращает false без ошибки, если код уже занят.
	InsertVoucher(ctx context.Context, v *IssuedVoucher) (bool, error)

	LockVoucherByCode(ctx context.Context, code string) (*IssuedVoucher, *Coupon, error)
	MarkUsed(ctx context.Context, voucherID int64, at time.Time) (bool, error)
}
