package repository

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"

	"dessertmap/internal/coupon"
)

//go:embed schema.sql
var Schema string

const (
	uniqueViolation      = "23505"
	lockNotAvailable     = "55P03"
	serializationFailure = "40001"
	deadlockDetected     = "40P01"

	userCouponConstraint = "issued_vouchers_user_coupon_key"
)

const couponColumns = `
	c.id, c.uuid, c.store_id, s.name AS store_name, c.name, c.description, c.benefit,
	c.redeem_condition, c.exposure_start, c.exposure_end, c.expires_at, c.quantity, c.created_at`

const voucherViewColumns = `
	v.id AS voucher_id, c.uuid AS coupon_uuid, c.name AS coupon_name, s.name AS store_name,
	v.code, v.state, c.expires_at, v.issued_at, v.used_at`

type PostgresCouponRepository struct {
	db          *sqlx.DB
	lockTimeout time.Duration
}

func NewPostgresCouponRepository(db *sqlx.DB, lockTimeout time.Duration) *PostgresCouponRepository {
	return &PostgresCouponRepository{db: db, lockTimeout: lockTimeout}
}

// WithinTx выполняет fn в одной транзакции. Любая ошибка fn откатывает
// всё, что fn успела записать.
func (r *PostgresCouponRepository) WithinTx(ctx context.Context, fn func(tx coupon.TxRepository) error) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return translate(err, "begin transaction")
	}

	if r.lockTimeout > 0 {
		if _, err := tx.ExecContext(ctx, lockTimeoutStmt(r.lockTimeout)); err != nil {
			rollback(tx)
			return translate(err, "set lock timeout")
		}
	}

	if err := fn(&TxCouponRepository{tx: tx}); err != nil {
		rollback(tx)
		return err
	}

	if err := tx.Commit(); err != nil {
		return translate(err, "commit")
	}
	return nil
}

// lockTimeoutStmt округляет d вверх до целых миллисекунд, 0ms отключил бы
// таймаут. SET не принимает bind параметры.
func lockTimeoutStmt(d time.Duration) string {
	ms := (d + time.Millisecond - 1) / time.Millisecond
	if ms < 1 {
		ms = 1
	}
	return fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", int64(ms))
}

func (r *PostgresCouponRepository) GetStore(ctx context.Context, storeID int64) (*coupon.Store, error) {
	s := &coupon.Store{}
	err := r.db.GetContext(ctx, s, `SELECT id, name, owner_id FROM stores WHERE id = $1`, storeID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, coupon.ErrStoreNotFound
	}
	if err != nil {
		return nil, translate(err, "get store")
	}
	return s, nil
}

func (r *PostgresCouponRepository) CreateCoupon(ctx context.Context, c *coupon.Coupon) error {
	query := `
		INSERT INTO coupons (uuid, store_id, name, description, benefit, redeem_condition,
		                     exposure_start, exposure_end, expires_at, quantity, created_at)
		VALUES (:uuid, :store_id, :name, :description, :benefit, :redeem_condition,
		        :exposure_start, :exposure_end, :expires_at, :quantity, :created_at)
		RETURNING id`

	rows, err := sqlx.NamedQueryContext(ctx, r.db, query, c)
	if err != nil {
		return translate(err, "insert coupon")
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return translate(err, "insert coupon")
		}
		return errors.New("insert coupon: no id returned")
	}
	if err := rows.Scan(&c.ID); err != nil {
		return translate(err, "scan coupon id")
	}
	return nil
}

func (r *PostgresCouponRepository) GetCoupon(ctx context.Context, couponUUID uuid.UUID) (*coupon.Coupon, error) {
	c := &coupon.Coupon{}
	query := `SELECT ` + couponColumns + `
		FROM coupons c JOIN stores s ON s.id = c.store_id
		WHERE c.uuid = $1`

	err := r.db.GetContext(ctx, c, query, couponUUID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, coupon.ErrCouponNotFound
	}
	if err != nil {
		return nil, translate(err, "get coupon")
	}
	return c, nil
}

func (r *PostgresCouponRepository) ListStoreCoupons(ctx context.Context, storeID int64) ([]*coupon.Coupon, error) {
	query := `SELECT ` + couponColumns + `
		FROM coupons c JOIN stores s ON s.id = c.store_id
		WHERE c.store_id = $1
		ORDER BY c.created_at DESC, c.id DESC`

	var coupons []*coupon.Coupon
	if err := r.db.SelectContext(ctx, &coupons, query, storeID); err != nil {
		return nil, translate(err, "list store coupons")
	}
	return coupons, nil
}

func (r *PostgresCouponRepository) HasVoucher(ctx context.Context, userID int64, couponUUID uuid.UUID) (bool, error) {
	var exists bool
	query := `
		SELECT EXISTS(
			SELECT 1 FROM issued_vouchers v JOIN coupons c ON c.id = v.coupon_id
			WHERE v.user_id = $1 AND c.uuid = $2)`
	if err := r.db.GetContext(ctx, &exists, query, userID, couponUUID); err != nil {
		return false, translate(err, "check voucher")
	}
	return exists, nil
}

func (r *PostgresCouponRepository) ListVouchers(ctx context.Context, userID int64) ([]coupon.VoucherView, error) {
	query := `SELECT ` + voucherViewColumns + `
		FROM issued_vouchers v
		JOIN coupons c ON c.id = v.coupon_id
		JOIN stores s ON s.id = c.store_id
		WHERE v.user_id = $1
		ORDER BY v.issued_at DESC, v.id DESC`

	var views []coupon.VoucherView
	if err := r.db.SelectContext(ctx, &views, query, userID); err != nil {
		return nil, translate(err, "list vouchers")
	}
	return views, nil
}

func (r *PostgresCouponRepository) GetVoucher(ctx context.Context, userID, voucherID int64) (*coupon.VoucherView, error) {
	query := `SELECT ` + voucherViewColumns + `
		FROM issued_vouchers v
		JOIN coupons c ON c.id = v.coupon_id
		JOIN stores s ON s.id = c.store_id
		WHERE v.id = $1 AND v.user_id = $2`

	view := &coupon.VoucherView{}
	err := r.db.GetContext(ctx, view, query, voucherID, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, coupon.ErrVoucherNotFound
	}
	if err != nil {
		return nil, translate(err, "get voucher")
	}
	return view, nil
}

func rollback(tx *sqlx.Tx) {
	if tx != nil {
		_ = tx.Rollback()
	}
}

// translate переводит ошибки драйвера с доменным смыслом в ошибки coupon,
// остальные оборачивает с op.
func translate(err error, op string) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return errors.Wrap(err, op)
	}

	switch pqErr.Code {
	case uniqueViolation:
		if pqErr.Constraint == userCouponConstraint {
			return errors.Wrap(coupon.ErrAlreadyIssued, op)
		}
	case lockNotAvailable:
		return errors.Wrap(coupon.ErrLockTimeout, op)
	case serializationFailure, deadlockDetected:
		return errors.Wrap(coupon.ErrConcurrentUpdate, op)
	}
	return errors.Wrapf(err, "%s (sqlstate %s)", op, pqErr.Code)
}
