package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"dessertmap/internal/coupon"
	"dessertmap/internal/events"
	"dessertmap/pkg/redeemcode"
)

// fakeRepo is an in-memory coupon.Repository. One mutex serializes every
// transaction, which is at least as strict as the row locks of the real
// store; a failed transaction restores the state it started from.
type fakeRepo struct {
	mu sync.Mutex

	stores   map[int64]*coupon.Store
	coupons  map[int64]*coupon.Coupon
	vouchers map[int64]*coupon.IssuedVoucher

	nextCouponID  int64
	nextVoucherID int64
	txCount       int
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		stores:   make(map[int64]*coupon.Store),
		coupons:  make(map[int64]*coupon.Coupon),
		vouchers: make(map[int64]*coupon.IssuedVoucher),
	}
}

type snapshot struct {
	coupons       map[int64]*coupon.Coupon
	vouchers      map[int64]*coupon.IssuedVoucher
	nextVoucherID int64
}

func (r *fakeRepo) snapshot() snapshot {
	s := snapshot{
		coupons:       make(map[int64]*coupon.Coupon, len(r.coupons)),
		vouchers:      make(map[int64]*coupon.IssuedVoucher, len(r.vouchers)),
		nextVoucherID: r.nextVoucherID,
	}
	for id, c := range r.coupons {
		s.coupons[id] = cloneCoupon(c)
	}
	for id, v := range r.vouchers {
		cp := *v
		s.vouchers[id] = &cp
	}
	return s
}

func cloneCoupon(c *coupon.Coupon) *coupon.Coupon {
	cp := *c
	if c.Quantity != nil {
		q := *c.Quantity
		cp.Quantity = &q
	}
	return &cp
}

func (r *fakeRepo) WithinTx(_ context.Context, fn func(tx coupon.TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.txCount++
	before := r.snapshot()
	if err := fn(&fakeTx{r: r}); err != nil {
		r.coupons = before.coupons
		r.vouchers = before.vouchers
		r.nextVoucherID = before.nextVoucherID
		return err
	}
	return nil
}

func (r *fakeRepo) GetStore(_ context.Context, storeID int64) (*coupon.Store, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.stores[storeID]
	if !ok {
		return nil, coupon.ErrStoreNotFound
	}
	cp := *s
	return &cp, nil
}

func (r *fakeRepo) CreateCoupon(_ context.Context, c *coupon.Coupon) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextCouponID++
	c.ID = r.nextCouponID
	r.coupons[c.ID] = cloneCoupon(c)
	return nil
}

func (r *fakeRepo) GetCoupon(_ context.Context, couponUUID uuid.UUID) (*coupon.Coupon, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := r.couponByUUID(couponUUID)
	if c == nil {
		return nil, coupon.ErrCouponNotFound
	}
	return cloneCoupon(c), nil
}

func (r *fakeRepo) ListStoreCoupons(_ context.Context, storeID int64) ([]*coupon.Coupon, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*coupon.Coupon
	for id := int64(1); id <= r.nextCouponID; id++ {
		if c, ok := r.coupons[id]; ok && c.StoreID == storeID {
			out = append(out, cloneCoupon(c))
		}
	}
	return out, nil
}

func (r *fakeRepo) HasVoucher(_ context.Context, userID int64, couponUUID uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := r.couponByUUID(couponUUID)
	if c == nil {
		return false, nil
	}
	return r.hasIssued(userID, c.ID), nil
}

func (r *fakeRepo) ListVouchers(_ context.Context, userID int64) ([]coupon.VoucherView, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []coupon.VoucherView
	for id := r.nextVoucherID; id >= 1; id-- {
		if v, ok := r.vouchers[id]; ok && v.UserID == userID {
			out = append(out, r.view(v))
		}
	}
	return out, nil
}

func (r *fakeRepo) GetVoucher(_ context.Context, userID, voucherID int64) (*coupon.VoucherView, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.vouchers[voucherID]
	if !ok || v.UserID != userID {
		return nil, coupon.ErrVoucherNotFound
	}
	view := r.view(v)
	return &view, nil
}

func (r *fakeRepo) view(v *coupon.IssuedVoucher) coupon.VoucherView {
	c := r.coupons[v.CouponID]
	return coupon.VoucherView{
		VoucherID:  v.ID,
		CouponUUID: c.UUID,
		CouponName: c.Name,
		StoreName:  c.StoreName,
		Code:       v.Code,
		State:      v.State,
		Expiry:     c.ExpiresAt,
		IssuedAt:   v.IssuedAt,
		UsedAt:     v.UsedAt,
	}
}

func (r *fakeRepo) couponByUUID(id uuid.UUID) *coupon.Coupon {
	for _, c := range r.coupons {
		if c.UUID == id {
			return c
		}
	}
	return nil
}

func (r *fakeRepo) hasIssued(userID, couponID int64) bool {
	for _, v := range r.vouchers {
		if v.UserID == userID && v.CouponID == couponID {
			return true
		}
	}
	return false
}

// test inspection helpers; they take the lock themselves

func (r *fakeRepo) quantity(couponID int64) *int {
	r.mu.Lock()
	defer r.mu.Unlock()
	q := r.coupons[couponID].Quantity
	if q == nil {
		return nil
	}
	v := *q
	return &v
}

func (r *fakeRepo) voucherByCode(code string) *coupon.IssuedVoucher {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, v := range r.vouchers {
		if v.Code == code {
			cp := *v
			return &cp
		}
	}
	return nil
}

func (r *fakeRepo) voucherCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.vouchers)
}

func (r *fakeRepo) transactions() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.txCount
}

type fakeTx struct {
	r *fakeRepo
}

func (t *fakeTx) LockCoupon(_ context.Context, couponUUID uuid.UUID) (*coupon.Coupon, error) {
	c := t.r.couponByUUID(couponUUID)
	if c == nil {
		return nil, coupon.ErrCouponNotFound
	}
	return cloneCoupon(c), nil
}

func (t *fakeTx) HasIssued(_ context.Context, userID, couponID int64) (bool, error) {
	return t.r.hasIssued(userID, couponID), nil
}

func (t *fakeTx) DecrementQuantity(_ context.Context, couponID int64) (int, bool, error) {
	c := t.r.coupons[couponID]
	if c.Quantity == nil || *c.Quantity <= 0 {
		return 0, false, nil
	}
	*c.Quantity--
	return *c.Quantity, true, nil
}

func (t *fakeTx) InsertVoucher(_ context.Context, v *coupon.IssuedVoucher) (bool, error) {
	for _, existing := range t.r.vouchers {
		if existing.Code == v.Code {
			return false, nil
		}
	}
	if t.r.hasIssued(v.UserID, v.CouponID) {
		return false, fmt.Errorf("insert voucher: %w", coupon.ErrAlreadyIssued)
	}
	t.r.nextVoucherID++
	v.ID = t.r.nextVoucherID
	v.State = coupon.StateIssued
	cp := *v
	t.r.vouchers[v.ID] = &cp
	return true, nil
}

func (t *fakeTx) LockVoucherByCode(_ context.Context, code string) (*coupon.IssuedVoucher, *coupon.Coupon, error) {
	for _, v := range t.r.vouchers {
		if v.Code == code {
			cp := *v
			return &cp, cloneCoupon(t.r.coupons[v.CouponID]), nil
		}
	}
	return nil, nil, coupon.ErrCodeNotFound
}

func (t *fakeTx) MarkUsed(_ context.Context, voucherID int64, at time.Time) (bool, error) {
	v, ok := t.r.vouchers[voucherID]
	if !ok || v.State != coupon.StateIssued {
		return false, nil
	}
	v.State = coupon.StateUsed
	usedAt := at
	v.UsedAt = &usedAt
	return true, nil
}

// scriptedCodes hands out the given codes in order, then numbered ones.
type scriptedCodes struct {
	mu    sync.Mutex
	codes []string
	n     int
}

func (g *scriptedCodes) Generate() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.codes) > 0 {
		code := g.codes[0]
		g.codes = g.codes[1:]
		return code, nil
	}
	g.n++
	b := []byte("GEN22222")
	for i, n := len(b)-1, g.n; n > 0 && i >= 3; i, n = i-1, n/len(redeemcode.Alphabet) {
		b[i] = redeemcode.Alphabet[n%len(redeemcode.Alphabet)]
	}
	return string(b), nil
}

type fakeQR struct{}

const fakeQRPrefix = "dessertmap://voucher/"

func (fakeQR) Payload(code string) string { return fakeQRPrefix + code }
func (fakeQR) Code(scanned string) string { return strings.TrimPrefix(scanned, fakeQRPrefix) }

func (fakeQR) PNG(payload string) ([]byte, error) {
	return []byte("png:" + payload), nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, e events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) published() []events.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]events.Event(nil), p.events...)
}

type memoryGate struct {
	mu      sync.Mutex
	soldOut map[uuid.UUID]bool
}

func (g *memoryGate) IsSoldOut(_ context.Context, id uuid.UUID) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.soldOut[id]
}

func (g *memoryGate) MarkSoldOut(_ context.Context, id uuid.UUID) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.soldOut == nil {
		g.soldOut = make(map[uuid.UUID]bool)
	}
	g.soldOut[id] = true
	return nil
}
