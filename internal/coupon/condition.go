package coupon

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type ConditionType string

const (
	ConditionAmount    ConditionType = "AMOUNT"
	ConditionTimeDay   ConditionType = "TIME_DAY"
	ConditionExclusive ConditionType = "EXCLUSIVE"
	ConditionCustom    ConditionType = "CUSTOM"
)

const clockLayout = "15:04"

// Condition описывает, когда ваучер можно погасить. Хранится как метаданные
// и показывается кассиру, при погашении не проверяется.
type Condition interface {
	Type() ConditionType
	Validate() error
	Describe() string
	isCondition()
}

type AmountCondition struct {
	MinPurchase decimal.Decimal
}

func (AmountCondition) Type() ConditionType { return ConditionAmount }
func (AmountCondition) isCondition()        {}

func (c AmountCondition) Validate() error {
	if !c.MinPurchase.IsPositive() {
		return fmt.Errorf("%w: minimum purchase must be positive", ErrInvalidCoupon)
	}
	return nil
}

func (c AmountCondition) Describe() string {
	return "minimum purchase " + c.MinPurchase.String()
}

type TimeDayCondition struct {
	StartTime string
	EndTime   string
	Days      []time.Weekday
}

func (TimeDayCondition) Type() ConditionType { return ConditionTimeDay }
func (TimeDayCondition) isCondition()        {}

func (c TimeDayCondition) Validate() error {
	start, err := time.Parse(clockLayout, c.StartTime)
	if err != nil {
		return fmt.Errorf("%w: start time must be HH:MM", ErrInvalidCoupon)
	}
	end, err := time.Parse(clockLayout, c.EndTime)
	if err != nil {
		return fmt.Errorf("%w: end time must be HH:MM", ErrInvalidCoupon)
	}
	if !end.After(start) {
		return fmt.Errorf("%w: end time must be after start time", ErrInvalidCoupon)
	}
	if len(c.Days) == 0 {
		return fmt.Errorf("%w: at least one day is required", ErrInvalidCoupon)
	}
	return nil
}

func (c TimeDayCondition) Describe() string {
	return fmt.Sprintf("%s-%s on %s", c.StartTime, c.EndTime, strings.Join(weekdayNames(c.Days), ", "))
}

type ExclusiveCondition struct{}

func (ExclusiveCondition) Type() ConditionType { return ConditionExclusive }
func (ExclusiveCondition) isCondition()        {}
func (ExclusiveCondition) Validate() error     { return nil }
func (ExclusiveCondition) Describe() string    { return "cannot be combined with other offers" }

type CustomCondition struct {
	Text string
}

func (CustomCondition) Type() ConditionType { return ConditionCustom }
func (CustomCondition) isCondition()        {}

func (c CustomCondition) Validate() error {
	if strings.TrimSpace(c.Text) == "" {
		return fmt.Errorf("%w: custom condition needs text", ErrInvalidCoupon)
	}
	return nil
}

func (c CustomCondition) Describe() string { return c.Text }

type conditionWire struct {
	Type        ConditionType    `json:"type"`
	MinPurchase *decimal.Decimal `json:"min_purchase,omitempty"`
	StartTime   string           `json:"start_time,omitempty"`
	EndTime     string           `json:"end_time,omitempty"`
	Days        []string         `json:"days,omitempty"`
	Text        string           `json:"text,omitempty"`
}

// ConditionValue переносит необязательный Condition через encoding/json и
// database/sql. nil кодируется как JSON null и SQL NULL.
type ConditionValue struct {
	Condition Condition
}

func (v ConditionValue) MarshalJSON() ([]byte, error) {
	if v.Condition == nil {
		return []byte("null"), nil
	}
	var w conditionWire
	switch c := v.Condition.(type) {
	case AmountCondition:
		min := c.MinPurchase
		w = conditionWire{Type: ConditionAmount, MinPurchase: &min}
	case TimeDayCondition:
		w = conditionWire{Type: ConditionTimeDay, StartTime: c.StartTime, EndTime: c.EndTime, Days: weekdayNames(c.Days)}
	case ExclusiveCondition:
		w = conditionWire{Type: ConditionExclusive}
	case CustomCondition:
		w = conditionWire{Type: ConditionCustom, Text: c.Text}
	default:
		return nil, fmt.Errorf("unsupported condition %T", v.Condition)
	}
	return json.Marshal(w)
}

func (v *ConditionValue) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		v.Condition = nil
		return nil
	}
	var w conditionWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	switch w.Type {
	case ConditionAmount:
		c := AmountCondition{}
		if w.MinPurchase != nil {
			c.MinPurchase = *w.MinPurchase
		}
		v.Condition = c
	case ConditionTimeDay:
		days, err := parseWeekdays(w.Days)
		if err != nil {
			return err
		}
		v.Condition = TimeDayCondition{StartTime: w.StartTime, EndTime: w.EndTime, Days: days}
	case ConditionExclusive:
		v.Condition = ExclusiveCondition{}
	case ConditionCustom:
		v.Condition = CustomCondition{Text: w.Text}
	default:
		return fmt.Errorf("%w: unknown condition type %q", ErrInvalidCoupon, w.Type)
	}
	return nil
}

func (v ConditionValue) Value() (driver.Value, error) {
	if v.Condition == nil {
		return nil, nil
	}
	// lib/pq шлёт []byte как bytea, jsonb такое не принимает.
	b, err := v.MarshalJSON()
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (v *ConditionValue) Scan(src any) error {
	switch s := src.(type) {
	case nil:
		v.Condition = nil
		return nil
	case []byte:
		return v.UnmarshalJSON(s)
	case string:
		return v.UnmarshalJSON([]byte(s))
	default:
		return fmt.Errorf("cannot scan %T into ConditionValue", src)
	}
}

func weekdayNames(days []time.Weekday) []string {
	names := make([]string, 0, len(days))
	for _, d := range days {
		names = append(names, strings.ToUpper(d.String()))
	}
	return names
}

func parseWeekdays(names []string) ([]time.Weekday, error) {
	days := make([]time.Weekday, 0, len(names))
	for _, name := range names {
		found := false
		for d := time.Sunday; d <= time.Saturday; d++ {
			if strings.EqualFold(d.String(), name) {
				days = append(days, d)
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("%w: unknown day %q", ErrInvalidCoupon, name)
		}
	}
	return days, nil
}
