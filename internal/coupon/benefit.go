package coupon

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

type BenefitType string

const (
	BenefitDiscount BenefitType = "DISCOUNT"
	BenefitGift     BenefitType = "GIFT"
)

type DiscountKind string

const (
	DiscountFixed DiscountKind = "FIXED"
	DiscountRate  DiscountKind = "RATE"
)

var hundred = decimal.NewFromInt(100)

// Benefit это то, что получает держатель: скидка или подарок. Набор
// реализаций закрыт, см. DiscountBenefit и GiftBenefit.
type Benefit interface {
	Type() BenefitType
	Validate() error
	isBenefit()
}

type DiscountBenefit struct {
	Kind DiscountKind
	// Amount: сумма для FIXED, процент для RATE.
	Amount decimal.Decimal
}

func (DiscountBenefit) Type() BenefitType { return BenefitDiscount }
func (DiscountBenefit) isBenefit()        {}

func (b DiscountBenefit) Validate() error {
	switch b.Kind {
	case DiscountFixed:
		if !b.Amount.IsPositive() {
			return fmt.Errorf("%w: fixed discount must be positive", ErrInvalidCoupon)
		}
	case DiscountRate:
		if !b.Amount.IsPositive() || b.Amount.GreaterThan(hundred) {
			return fmt.Errorf("%w: rate discount must be within (0, 100]", ErrInvalidCoupon)
		}
	default:
		return fmt.Errorf("%w: unknown discount kind %q", ErrInvalidCoupon, b.Kind)
	}
	return nil
}

type GiftBenefit struct {
	MenuItemName string
}

func (GiftBenefit) Type() BenefitType { return BenefitGift }
func (GiftBenefit) isBenefit()        {}

func (b GiftBenefit) Validate() error {
	if b.MenuItemName == "" {
		return fmt.Errorf("%w: gift needs a menu item name", ErrInvalidCoupon)
	}
	return nil
}

type benefitWire struct {
	Type         BenefitType      `json:"type"`
	DiscountKind DiscountKind     `json:"discount_kind,omitempty"`
	Amount       *decimal.Decimal `json:"amount,omitempty"`
	MenuItemName string           `json:"menu_item_name,omitempty"`
}

// BenefitValue переносит Benefit через encoding/json и database/sql.
type BenefitValue struct {
	Benefit Benefit
}

func (v BenefitValue) MarshalJSON() ([]byte, error) {
	if v.Benefit == nil {
		return []byte("null"), nil
	}
	var w benefitWire
	switch b := v.Benefit.(type) {
	case DiscountBenefit:
		amount := b.Amount
		w = benefitWire{Type: BenefitDiscount, DiscountKind: b.Kind, Amount: &amount}
	case GiftBenefit:
		w = benefitWire{Type: BenefitGift, MenuItemName: b.MenuItemName}
	default:
		return nil, fmt.Errorf("unsupported benefit %T", v.Benefit)
	}
	return json.Marshal(w)
}

func (v *BenefitValue) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		v.Benefit = nil
		return nil
	}
	var w benefitWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	switch w.Type {
	case BenefitDiscount:
		b := DiscountBenefit{Kind: w.DiscountKind}
		if w.Amount != nil {
			b.Amount = *w.Amount
		}
		v.Benefit = b
	case BenefitGift:
		v.Benefit = GiftBenefit{MenuItemName: w.MenuItemName}
	default:
		return fmt.Errorf("%w: unknown benefit type %q", ErrInvalidCoupon, w.Type)
	}
	return nil
}

func (v BenefitValue) Value() (driver.Value, error) {
	if v.Benefit == nil {
		return nil, nil
	}
	// lib/pq шлёт []byte как bytea, jsonb такое не принимает.
	b, err := v.MarshalJSON()
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (v *BenefitValue) Scan(src any) error {
	switch s := src.(type) {
	case nil:
		v.Benefit = nil
		return nil
	case []byte:
		return v.UnmarshalJSON(s)
	case string:
		return v.UnmarshalJSON([]byte(s))
	default:
		return fmt.Errorf("cannot scan %T into BenefitValue", src)
	}
}
