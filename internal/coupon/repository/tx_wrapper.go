package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"dessertmap/internal/coupon"
)

// TxCouponRepository выполняет запросы внутри открытой транзакции.
// Блокировки строк снимаются на commit или rollback.
type TxCouponRepository struct {
	tx *sqlx.Tx
}

func (r *TxCouponRepository) LockCoupon(ctx context.Context, couponUUID uuid.UUID) (*coupon.Coupon, error) {
	c := &coupon.Coupon{}
	query := `SELECT ` + couponColumns + `
		FROM coupons c JOIN stores s ON s.id = c.store_id
		WHERE c.uuid = $1
		FOR UPDATE OF c`

	err := r.tx.GetContext(ctx, c, query, couponUUID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, coupon.ErrCouponNotFound
	}
	if err != nil {
		return nil, translate(err, "lock coupon")
	}
	return c, nil
}

func (r *TxCouponRepository) HasIssued(ctx context.Context, userID, couponID int64) (bool, error) {
	var exists bool
	query := `SELECT EXISTS(SELECT 1 FROM issued_vouchers WHERE user_id = $1 AND coupon_id = $2)`
	if err := r.tx.QueryRowContext(ctx, query, userID, couponID).Scan(&exists); err != nil {
		return false, translate(err, "check issued")
	}
	return exists, nil
}

// DecrementQuantity единственное место записи coupons.quantity. При нулевом
// остатке WHERE не находит строку и ничего не меняется.
func (r *TxCouponRepository) DecrementQuantity(ctx context.Context, couponID int64) (int, bool, error) {
	var remaining int
	query := `UPDATE coupons SET quantity = quantity - 1 WHERE id = $1 AND quantity > 0 RETURNING quantity`

	err := r.tx.QueryRowContext(ctx, query, couponID).Scan(&remaining)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, translate(err, "decrement quantity")
	}
	return remaining, true, nil
}

// InsertVoucher возвращает false, если код уже занят. Коллизия кода не должна
// обрывать транзакцию, поэтому ON CONFLICT, а не перехват 23505.
func (r *TxCouponRepository) InsertVoucher(ctx context.Context, v *coupon.IssuedVoucher) (bool, error) {
	query := `
		INSERT INTO issued_vouchers (user_id, coupon_id, code, state, issued_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (code) DO NOTHING
		RETURNING id`

	err := r.tx.QueryRowContext(ctx, query, v.UserID, v.CouponID, v.Code, coupon.StateIssued, v.IssuedAt).Scan(&v.ID)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, translate(err, "insert voucher")
	}
	v.State = coupon.StateIssued
	return true, nil
}

func (r *TxCouponRepository) LockVoucherByCode(ctx context.Context, code string) (*coupon.IssuedVoucher, *coupon.Coupon, error) {
	query := `
		SELECT v.id, v.user_id, v.coupon_id, v.code, v.state, v.issued_at, v.used_at,
		       c.uuid, c.store_id, s.name, c.name, c.description, c.benefit, c.redeem_condition,
		       c.exposure_start, c.exposure_end, c.expires_at, c.quantity, c.created_at
		FROM issued_vouchers v
		JOIN coupons c ON c.id = v.coupon_id
		JOIN stores s ON s.id = c.store_id
		WHERE v.code = $1
		FOR UPDATE OF v`

	v := &coupon.IssuedVoucher{}
	c := &coupon.Coupon{}
	err := r.tx.QueryRowxContext(ctx, query, code).Scan(
		&v.ID, &v.UserID, &v.CouponID, &v.Code, &v.State, &v.IssuedAt, &v.UsedAt,
		&c.UUID, &c.StoreID, &c.StoreName, &c.Name, &c.Description, &c.Benefit, &c.Condition,
		&c.ExposureStart, &c.ExposureEnd, &c.ExpiresAt, &c.Quantity, &c.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, coupon.ErrCodeNotFound
	}
	if err != nil {
		return nil, nil, translate(err, "lock voucher")
	}
	c.ID = v.CouponID
	return v, c, nil
}

// MarkUsed переводит ISSUED в USED. Возвращает false, если ваучер уже не ISSUED.
func (r *TxCouponRepository) MarkUsed(ctx context.Context, voucherID int64, at time.Time) (bool, error) {
	query := `UPDATE issued_vouchers SET state = $3, used_at = $2 WHERE id = $1 AND state = $4`

	res, err := r.tx.ExecContext(ctx, query, voucherID, at, coupon.StateUsed, coupon.StateIssued)
	if err != nil {
		return false, translate(err, "mark used")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, translate(err, "mark used")
	}
	return n == 1, nil
}
