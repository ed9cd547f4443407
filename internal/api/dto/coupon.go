package dto

import (
	"time"

	"github.com/go-playground/validator/v10"

	"dessertmap/internal/coupon"
)

type CreateCouponRequest struct {
	Name          string                `json:"name" validate:"required,max=100"`
	Description   string                `json:"description" validate:"max=1000"`
	Benefit       coupon.BenefitValue   `json:"benefit"`
	Condition     coupon.ConditionValue `json:"condition"`
	ExposureStart *time.Time            `json:"exposure_start"`
	ExposureEnd   *time.Time            `json:"exposure_end"`
	ExpiresAt     *time.Time            `json:"expires_at"`
	Quantity      *int                  `json:"quantity" validate:"omitempty,min=0,max=1000000"` // null = без ограничения
}

func (r CreateCouponRequest) Draft() coupon.CouponDraft {
	return coupon.CouponDraft{
		Name:          r.Name,
		Description:   r.Description,
		Benefit:       r.Benefit.Benefit,
		Condition:     r.Condition.Condition,
		ExposureStart: r.ExposureStart,
		ExposureEnd:   r.ExposureEnd,
		ExpiresAt:     r.ExpiresAt,
		Quantity:      r.Quantity,
	}
}

// RedeemRequest приходит с POS терминала; код можно вводить с дефисами и пробелами
type RedeemRequest struct {
	Code string `json:"code" validate:"required,max=32"`
}

var Validate = validator.New()
