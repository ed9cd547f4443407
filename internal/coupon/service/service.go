package service

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"dessertmap/internal/coupon"
	"dessertmap/internal/coupon/cache"
	"dessertmap/internal/events"
	"dessertmap/internal/metrics"
	"dessertmap/pkg/redeemcode"
)

const (
	DefaultMaxCodeAttempts = 5
	publishTimeout         = 2 * time.Second
)

type SoldOutGate interface {
	IsSoldOut(ctx context.Context, couponUUID uuid.UUID) bool
	MarkSoldOut(ctx context.Context, couponUUID uuid.UUID) error
}

// QREncoder превращает код в QR payload и достаёт код из отсканированного payload.
type QREncoder interface {
	Payload(code string) string
	Code(scanned string) string
	PNG(payload string) ([]byte, error)
}

type Service struct {
	Repo      coupon.Repository
	Codes     redeemcode.Generator
	QR        QREncoder
	Publisher events.Publisher
	SoldOut   SoldOutGate

	tracer          trace.Tracer
	now             func() time.Time
	maxCodeAttempts int
}

type Option func(*Service)

func WithPublisher(p events.Publisher) Option { return func(s *Service) { s.Publisher = p } }
func WithSoldOutGate(g SoldOutGate) Option    { return func(s *Service) { s.SoldOut = g } }
func WithTracer(t trace.Tracer) Option        { return func(s *Service) { s.tracer = t } }
func WithClock(now func() time.Time) Option   { return func(s *Service) { s.now = now } }

func WithMaxCodeAttempts(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxCodeAttempts = n
		}
	}
}

func NewService(repo coupon.Repository, codes redeemcode.Generator, qr QREncoder, opts ...Option) *Service {
	s := &Service{
		Repo:            repo,
		Codes:           codes,
		QR:              qr,
		Publisher:       events.NopPublisher{},
		SoldOut:         cache.NopGate{},
		tracer:          otel.Tracer("dessertmap/coupon"),
		now:             time.Now,
		maxCodeAttempts: DefaultMaxCodeAttempts,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Issue выдаёт userID один ваучер купона. Блокировка, проверка дубля,
// списание остатка и вставка ваучера идут в одной транзакции. Событие и
// маркер распродажи пишутся только после коммита.
func (s *Service) Issue(ctx context.Context, userID int64, couponUUID uuid.UUID) (*coupon.IssueResult, error) {
	ctx, span := s.tracer.Start(ctx, "coupon.Issue", trace.WithAttributes(
		attribute.Int64("user.id", userID),
		attribute.String("coupon.id", couponUUID.String()),
	))
	defer span.End()
	defer observe("issue", time.Now())

	res, c, err := s.issue(ctx, userID, couponUUID)
	metrics.CouponIssuanceTotal.WithLabelValues(resultLabel(err)).Inc()
	if err != nil {
		s.fail(ctx, span, "issue", err)
		return nil, err
	}

	log := zerolog.Ctx(ctx)
	if res.Remaining != nil && *res.Remaining == 0 {
		if err := s.SoldOut.MarkSoldOut(ctx, couponUUID); err != nil {
			log.Warn().Err(err).Str("coupon_id", couponUUID.String()).Msg("failed to mark coupon sold out")
		}
	}

	e := events.NewEvent(events.VoucherIssued, res.IssuedAt)
	e.UserID = userID
	e.VoucherID = res.VoucherID
	e.CouponID = couponUUID.String()
	e.StoreID = c.StoreID
	e.Remaining = res.Remaining
	s.publish(ctx, e)

	span.SetAttributes(attribute.Int64("voucher.id", res.VoucherID))
	log.Info().
		Int64("user_id", userID).
		Str("coupon_id", couponUUID.String()).
		Int64("voucher_id", res.VoucherID).
		Msg("voucher issued")
	return res, nil
}

func (s *Service) issue(ctx context.Context, userID int64, couponUUID uuid.UUID) (*coupon.IssueResult, *coupon.Coupon, error) {
	if s.SoldOut.IsSoldOut(ctx, couponUUID) {
		// повторная попытка держателя должна получить AlreadyIssued
		held, err := s.Repo.HasVoucher(ctx, userID, couponUUID)
		if err != nil {
			return nil, nil, err
		}
		if held {
			return nil, nil, coupon.ErrAlreadyIssued
		}
		return nil, nil, coupon.ErrOutOfStock
	}

	now := s.now()
	var (
		res    *coupon.IssueResult
		locked *coupon.Coupon
	)
	err := s.Repo.WithinTx(ctx, func(tx coupon.TxRepository) error {
		c, err := tx.LockCoupon(ctx, couponUUID)
		if err != nil {
			return err
		}

		// держатель после закрытия окна тоже получает AlreadyIssued
		issued, err := tx.HasIssued(ctx, userID, c.ID)
		if err != nil {
			return err
		}
		if issued {
			return coupon.ErrAlreadyIssued
		}
		if err := c.Issuable(now); err != nil {
			return err
		}

		var remaining *int
		if c.Bounded() {
			left, ok, err := tx.DecrementQuantity(ctx, c.ID)
			if err != nil {
				return err
			}
			if !ok {
				return coupon.ErrOutOfStock
			}
			remaining = &left
		}

		v, err := s.insertWithFreshCode(ctx, tx, userID, c.ID, now)
		if err != nil {
			return err
		}

		locked = c
		res = &coupon.IssueResult{
			VoucherID: v.ID,
			Code:      v.Code,
			QRPayload: s.QR.Payload(v.Code),
			Expiry:    c.ExpiresAt,
			StoreName: c.StoreName,
			IssuedAt:  v.IssuedAt,
			Remaining: remaining,
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return res, locked, nil
}

func (s *Service) insertWithFreshCode(ctx context.Context, tx coupon.TxRepository, userID, couponID int64, now time.Time) (*coupon.IssuedVoucher, error) {
	for attempt := 1; attempt <= s.maxCodeAttempts; attempt++ {
		code, err := s.Codes.Generate()
		if err != nil {
			return nil, err
		}

		v := &coupon.IssuedVoucher{
			UserID:   userID,
			CouponID: couponID,
			Code:     code,
			State:    coupon.StateIssued,
			IssuedAt: now,
		}
		ok, err := tx.InsertVoucher(ctx, v)
		if err != nil {
			return nil, err
		}
		if ok {
			return v, nil
		}

		metrics.CouponCodeCollisionsTotal.Inc()
		zerolog.Ctx(ctx).Warn().Int("attempt", attempt).Msg("redeem code collision, regenerating")
	}
	return nil, coupon.ErrCodeGenerationExhausted
}

// Redeem гасит ваучер с кодом code в магазине storeID. Проверки идут в
// фиксированном порядке под блокировкой строки ваучера: неизвестный код,
// чужой магазин, уже использован, истёк. При отказе ничего не пишется.
// code может быть введён кассиром или быть сырым текстом из QR.
func (s *Service) Redeem(ctx context.Context, code string, storeID int64) (*coupon.RedeemResult, error) {
	ctx, span := s.tracer.Start(ctx, "coupon.Redeem", trace.WithAttributes(
		attribute.Int64("store.id", storeID),
	))
	defer span.End()
	defer observe("redeem", time.Now())

	res, err := s.redeem(ctx, redeemcode.Normalize(s.QR.Code(code)), storeID)
	metrics.CouponRedemptionTotal.WithLabelValues(resultLabel(err)).Inc()
	if err != nil {
		s.fail(ctx, span, "redeem", err)
		return nil, err
	}

	e := events.NewEvent(events.VoucherRedeemed, res.RedeemedAt)
	e.UserID = res.UserID
	e.VoucherID = res.VoucherID
	e.CouponID = res.CouponUUID.String()
	e.StoreID = storeID
	s.publish(ctx, e)

	span.SetAttributes(attribute.Int64("voucher.id", res.VoucherID))
	zerolog.Ctx(ctx).Info().
		Int64("store_id", storeID).
		Int64("voucher_id", res.VoucherID).
		Msg("voucher redeemed")
	return res, nil
}

func (s *Service) redeem(ctx context.Context, code string, storeID int64) (*coupon.RedeemResult, error) {
	if !redeemcode.Valid(code) {
		return nil, coupon.ErrCodeNotFound
	}

	now := s.now()
	var res *coupon.RedeemResult
	err := s.Repo.WithinTx(ctx, func(tx coupon.TxRepository) error {
		v, c, err := tx.LockVoucherByCode(ctx, code)
		if err != nil {
			return err
		}
		if c.StoreID != storeID {
			return coupon.ErrStoreMismatch
		}
		if v.State == coupon.StateUsed {
			return coupon.ErrAlreadyUsed
		}
		if c.Expired(now) {
			return coupon.ErrExpired
		}

		ok, err := tx.MarkUsed(ctx, v.ID, now)
		if err != nil {
			return err
		}
		if !ok {
			return coupon.ErrAlreadyUsed
		}

		res = &coupon.RedeemResult{
			VoucherID:  v.ID,
			CouponName: c.Name,
			Used:       true,
			RedeemedAt: now,
			Benefit:    c.Benefit,
			Condition:  c.Condition,
			UserID:     v.UserID,
			CouponUUID: c.UUID,
		}
		if c.Condition.Condition != nil {
			res.ConditionText = c.Condition.Condition.Describe()
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// ListIssued возвращает ваучеры пользователя от новых к старым, статус
// UNUSED/USED/EXPIRED считается на момент вызова.
func (s *Service) ListIssued(ctx context.Context, userID int64) ([]coupon.VoucherView, error) {
	ctx, span := s.tracer.Start(ctx, "coupon.ListIssued", trace.WithAttributes(attribute.Int64("user.id", userID)))
	defer span.End()

	views, err := s.Repo.ListVouchers(ctx, userID)
	if err != nil {
		s.fail(ctx, span, "list issued", err)
		return nil, err
	}

	now := s.now()
	for i := range views {
		views[i].Classify(now)
	}
	return views, nil
}

func (s *Service) UsageStats(ctx context.Context, userID int64) (*coupon.UsageStats, error) {
	views, err := s.ListIssued(ctx, userID)
	if err != nil {
		return nil, err
	}
	stats := coupon.Tally(views)
	return &stats, nil
}

// CreateCoupon добавляет купон в магазин владельца.
func (s *Service) CreateCoupon(ctx context.Context, ownerID, storeID int64, draft coupon.CouponDraft) (*coupon.Coupon, error) {
	ctx, span := s.tracer.Start(ctx, "coupon.Create", trace.WithAttributes(
		attribute.Int64("user.id", ownerID),
		attribute.Int64("store.id", storeID),
	))
	defer span.End()

	store, err := s.Repo.GetStore(ctx, storeID)
	if err != nil {
		s.fail(ctx, span, "create coupon", err)
		return nil, err
	}
	if store.OwnerID != ownerID {
		s.fail(ctx, span, "create coupon", coupon.ErrNotStoreOwner)
		return nil, coupon.ErrNotStoreOwner
	}
	if err := draft.ValidateAt(s.now()); err != nil {
		s.fail(ctx, span, "create coupon", err)
		return nil, err
	}

	c := draft.Coupon(storeID, s.now())
	c.StoreName = store.Name
	if err := s.Repo.CreateCoupon(ctx, c); err != nil {
		s.fail(ctx, span, "create coupon", err)
		return nil, err
	}

	zerolog.Ctx(ctx).Info().
		Int64("store_id", storeID).
		Str("coupon_id", c.UUID.String()).
		Msg("coupon created")
	return c, nil
}

func (s *Service) GetCoupon(ctx context.Context, couponUUID uuid.UUID) (*coupon.Coupon, error) {
	return s.Repo.GetCoupon(ctx, couponUUID)
}

// ListStoreCoupons возвращает купоны магазина, доступные к выдаче сейчас.
// Распроданные тоже попадают в список, страница магазина показывает их отдельно.
func (s *Service) ListStoreCoupons(ctx context.Context, storeID int64) ([]*coupon.Coupon, error) {
	if _, err := s.Repo.GetStore(ctx, storeID); err != nil {
		return nil, err
	}
	all, err := s.Repo.ListStoreCoupons(ctx, storeID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	visible := make([]*coupon.Coupon, 0, len(all))
	for _, c := range all {
		if c.Issuable(now) == nil {
			visible = append(visible, c)
		}
	}
	return visible, nil
}

// VoucherQR рисует QR для собственного ваучера пользователя.
func (s *Service) VoucherQR(ctx context.Context, userID, voucherID int64) ([]byte, error) {
	ctx, span := s.tracer.Start(ctx, "coupon.VoucherQR", trace.WithAttributes(
		attribute.Int64("user.id", userID),
		attribute.Int64("voucher.id", voucherID),
	))
	defer span.End()

	v, err := s.Repo.GetVoucher(ctx, userID, voucherID)
	if err != nil {
		s.fail(ctx, span, "voucher qr", err)
		return nil, err
	}
	png, err := s.QR.PNG(s.QR.Payload(v.Code))
	if err != nil {
		s.fail(ctx, span, "voucher qr", err)
		return nil, err
	}
	return png, nil
}

func (s *Service) publish(ctx context.Context, e events.Event) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	if err := s.Publisher.Publish(ctx, e); err != nil {
		metrics.CouponEventsPublishFailuresTotal.Inc()
		zerolog.Ctx(ctx).Error().Err(err).Str("event", string(e.Type)).Msg("failed to publish voucher event")
	}
}

// fail пишет err в спан и в лог. Бизнес отказы логируются тихо, спан
// помечается ошибкой только для ошибок без доменного вида.
func (s *Service) fail(ctx context.Context, span trace.Span, op string, err error) {
	span.RecordError(err)
	log := zerolog.Ctx(ctx)

	switch coupon.KindOf(err) {
	case coupon.KindInternal:
		span.SetStatus(codes.Error, err.Error())
		log.Error().Err(err).Str("op", op).Msg("coupon operation failed")
	case coupon.KindTransient:
		log.Warn().Err(err).Str("op", op).Msg("coupon operation hit a transient error")
	default:
		log.Info().Err(err).Str("op", op).Msg("coupon operation rejected")
	}
}

func resultLabel(err error) string {
	if err == nil {
		return "ok"
	}
	if e, ok := coupon.AsError(err); ok {
		return strings.ToLower(e.Code)
	}
	return "error"
}

func observe(op string, start time.Time) {
	metrics.CouponOperationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}
