package coupon

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Store struct {
	ID      int64  `json:"id" db:"id"`
	Name    string `json:"name" db:"name"`
	OwnerID int64  `json:"owner_id" db:"owner_id"`
}

type Coupon struct {
	ID            int64          `json:"-" db:"id"`
	UUID          uuid.UUID      `json:"id" db:"uuid"`
	StoreID       int64          `json:"store_id" db:"store_id"`
	StoreName     string         `json:"store_name" db:"store_name"`
	Name          string         `json:"name" db:"name"`
	Description   string         `json:"description" db:"description"`
	Benefit       BenefitValue   `json:"benefit" db:"benefit"`
	Condition     ConditionValue `json:"condition" db:"redeem_condition"`
	ExposureStart *time.Time     `json:"exposure_start" db:"exposure_start"`
	ExposureEnd   *time.Time     `json:"exposure_end" db:"exposure_end"`
	ExpiresAt     *time.Time     `json:"expires_at" db:"expires_at"`
	Quantity      *int           `json:"quantity" db:"quantity"` // nil = без ограничения
	CreatedAt     time.Time      `json:"created_at" db:"created_at"`
}

func (c *Coupon) Expired(now time.Time) bool {
	return c.ExpiresAt != nil && now.After(*c.ExpiresAt)
}

func (c *Coupon) InExposureWindow(now time.Time) bool {
	if c.ExposureStart != nil && now.Before(*c.ExposureStart) {
		return false
	}
	if c.ExposureEnd != nil && now.After(*c.ExposureEnd) {
		return false
	}
	return true
}

// Issuable проверяет, можно ли выдать ваучер в момент now. Остаток не учитывается.
func (c *Coupon) Issuable(now time.Time) error {
	if !c.InExposureWindow(now) || c.Expired(now) {
		return ErrCouponNotIssuable
	}
	return nil
}

func (c *Coupon) Bounded() bool {
	return c.Quantity != nil
}

func (c *Coupon) SoldOut() bool {
	return c.Quantity != nil && *c.Quantity <= 0
}

// CouponDraft: то, что владелец магазина присылает при создании купона.
type CouponDraft struct {
	Name          string
	Description   string
	Benefit       Benefit
	Condition     Condition
	ExposureStart *time.Time
	ExposureEnd   *time.Time
	ExpiresAt     *time.Time
	Quantity      *int
}

func (d CouponDraft) Validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidCoupon)
	}
	if d.Benefit == nil {
		return fmt.Errorf("%w: benefit is required", ErrInvalidCoupon)
	}
	if err := d.Benefit.Validate(); err != nil {
		return err
	}
	if d.Condition != nil {
		if err := d.Condition.Validate(); err != nil {
			return err
		}
	}
	if d.ExposureStart != nil && d.ExposureEnd != nil && d.ExposureEnd.Before(*d.ExposureStart) {
		return fmt.Errorf("%w: exposure end is before exposure start", ErrInvalidCoupon)
	}
	if d.ExpiresAt != nil && d.ExposureStart != nil && !d.ExpiresAt.After(*d.ExposureStart) {
		return fmt.Errorf("%w: expiry must be after exposure start", ErrInvalidCoupon)
	}
	if d.Quantity != nil && *d.Quantity < 0 {
		return fmt.Errorf("%w: quantity must not be negative", ErrInvalidCoupon)
	}
	return nil
}

// ValidateAt дополнительно отклоняет купон, который уже истёк на момент now.
func (d CouponDraft) ValidateAt(now time.Time) error {
	if err := d.Validate(); err != nil {
		return err
	}
	if d.ExpiresAt != nil && !d.ExpiresAt.After(now) {
		return fmt.Errorf("%w: expiry is in the past", ErrInvalidCoupon)
	}
	return nil
}

// Coupon собирает запись каталога для storeID. Сохраняет вызывающий.
func (d CouponDraft) Coupon(storeID int64, now time.Time) *Coupon {
	return &Coupon{
		UUID:          uuid.New(),
		StoreID:       storeID,
		Name:          strings.TrimSpace(d.Name),
		Description:   d.Description,
		Benefit:       BenefitValue{Benefit: d.Benefit},
		Condition:     ConditionValue{Condition: d.Condition},
		ExposureStart: d.ExposureStart,
		ExposureEnd:   d.ExposureEnd,
		ExpiresAt:     d.ExpiresAt,
		Quantity:      d.Quantity,
		CreatedAt:     now,
	}
}

// State хранимое состояние ваучера. EXPIRED не сохраняется, см. Status.
type State string

const (
	StateIssued State = "ISSUED"
	StateUsed   State = "USED"
)

type Status string

const (
	StatusUnused  Status = "UNUSED"
	StatusUsed    Status = "USED"
	StatusExpired Status = "EXPIRED"
)

type IssuedVoucher struct {
	ID       int64      `json:"id" db:"id"`
	UserID   int64      `json:"user_id" db:"user_id"`
	CouponID int64      `json:"coupon_id" db:"coupon_id"`
	Code     string     `json:"code" db:"code"`
	State    State      `json:"state" db:"state"`
	IssuedAt time.Time  `json:"issued_at" db:"issued_at"`
	UsedAt   *time.Time `json:"used_at" db:"used_at"`
}

// Status накладывает вычисляемый EXPIRED на хранимое состояние.
// Использованный ваучер остаётся USED и после истечения купона.
func (v *IssuedVoucher) Status(expiresAt *time.Time, now time.Time) Status {
	if v.State == StateUsed {
		return StatusUsed
	}
	if expiresAt != nil && now.After(*expiresAt) {
		return StatusExpired
	}
	return StatusUnused
}

type IssueResult struct {
	VoucherID int64      `json:"voucher_id"`
	Code      string     `json:"code"`
	QRPayload string     `json:"qr_payload"`
	Expiry    *time.Time `json:"expiry"`
	StoreName string     `json:"store_name"`
	IssuedAt  time.Time  `json:"issued_at"`
	// Remaining: остаток после этой выдачи, nil для безлимитных.
	Remaining *int `json:"-"`
}

type RedeemResult struct {
	VoucherID  int64          `json:"voucher_id"`
	CouponName string         `json:"coupon_name"`
	Used       bool           `json:"used"`
	RedeemedAt time.Time      `json:"redeemed_at"`
	Benefit    BenefitValue   `json:"benefit"`
	Condition  ConditionValue `json:"condition"`
	// ConditionText: условие текстом для кассира, пусто если условия нет.
	ConditionText string `json:"condition_text,omitempty"`

	UserID     int64     `json:"-"`
	CouponUUID uuid.UUID `json:"-"`
}

// VoucherView ваучер вместе с полями купона для отображения.
type VoucherView struct {
	VoucherID  int64      `json:"voucher_id" db:"voucher_id"`
	CouponUUID uuid.UUID  `json:"coupon_id" db:"coupon_uuid"`
	CouponName string     `json:"coupon_name" db:"coupon_name"`
	StoreName  string     `json:"store_name" db:"store_name"`
	Code       string     `json:"code" db:"code"`
	State      State      `json:"-" db:"state"`
	Status     Status     `json:"state" db:"-"`
	Expiry     *time.Time `json:"expiry" db:"expires_at"`
	IssuedAt   time.Time  `json:"issued_at" db:"issued_at"`
	UsedAt     *time.Time `json:"used_at" db:"used_at"`
}

// Classify заполняет Status по хранимому состоянию и сроку.
func (v *VoucherView) Classify(now time.Time) {
	iv := IssuedVoucher{State: v.State}
	v.Status = iv.Status(v.Expiry, now)
}

type UsageStats struct {
	UsedCount    int `json:"used_count"`
	UnusedCount  int `json:"unused_count"`
	ExpiredCount int `json:"expired_count"`
}

// Tally считает уже классифицированные ваучеры.
func Tally(views []VoucherView) UsageStats {
	var s UsageStats
	for _, v := range views {
		switch v.Status {
		case StatusUsed:
			s.UsedCount++
		case StatusExpired:
			s.ExpiredCount++
		default:
			s.UnusedCount++
		}
	}
	return s
}
