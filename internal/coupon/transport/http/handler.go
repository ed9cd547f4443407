package http

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"dessertmap/internal/api/dto"
	"dessertmap/internal/coupon"
	"dessertmap/pkg/middleware"
)

type CouponService interface {
	Issue(ctx context.Context, userID int64, couponUUID uuid.UUID) (*coupon.IssueResult, error)
	Redeem(ctx context.Context, code string, storeID int64) (*coupon.RedeemResult, error)
	ListIssued(ctx context.Context, userID int64) ([]coupon.VoucherView, error)
	UsageStats(ctx context.Context, userID int64) (*coupon.UsageStats, error)
	CreateCoupon(ctx context.Context, ownerID, storeID int64, draft coupon.CouponDraft) (*coupon.Coupon, error)
	GetCoupon(ctx context.Context, couponUUID uuid.UUID) (*coupon.Coupon, error)
	ListStoreCoupons(ctx context.Context, storeID int64) ([]*coupon.Coupon, error)
	VoucherQR(ctx context.Context, userID, voucherID int64) ([]byte, error)
}

type Handler struct {
	Service CouponService
}

func NewHandler(service CouponService) *Handler {
	return &Handler{Service: service}
}

// Routes монтирует API купонов. auth проверяет bearer токен, redeemLimit
// ограничивает частоту погашений.
func (h *Handler) Routes(r chi.Router, auth, redeemLimit func(http.Handler) http.Handler) {
	r.Get("/api/coupons/{couponID}", h.GetCoupon)
	r.Get("/api/stores/{storeID}/coupons", h.ListStoreCoupons)

	r.Group(func(pr chi.Router) {
		pr.Use(auth)
		pr.Use(middleware.ValidateRequest)

		pr.Post("/api/coupons/{couponID}/issue", h.Issue)
		pr.Post("/api/stores/{storeID}/coupons", h.CreateCoupon)

		pr.Get("/api/me/vouchers", h.ListVouchers)
		pr.Get("/api/me/vouchers/stats", h.UsageStats)
		pr.Get("/api/me/vouchers/{voucherID}/qr", h.VoucherQR)

		pr.With(middleware.RequireStore, redeemLimit).Post("/api/redemptions", h.Redeem)
	})
}

// Выдача купона пользователю
func (h *Handler) Issue(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		writeUnauthorized(w)
		return
	}
	couponID, err := uuid.Parse(chi.URLParam(r, "couponID"))
	if err != nil {
		writeError(w, r, coupon.ErrCouponNotFound)
		return
	}

	res, err := h.Service.Issue(r.Context(), userID, couponID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// Погашение кода на кассе. store_id берётся только из POS токена.
func (h *Handler) Redeem(w http.ResponseWriter, r *http.Request) {
	storeID, ok := middleware.StoreID(r.Context())
	if !ok {
		writeUnauthorized(w)
		return
	}

	var req dto.RedeemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "некорректный JSON")
		return
	}
	if err := dto.Validate.Struct(req); err != nil {
		middleware.HandleValidationError(w, r, err)
		return
	}

	res, err := h.Service.Redeem(r.Context(), req.Code, storeID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) ListVouchers(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		writeUnauthorized(w)
		return
	}

	views, err := h.Service.ListIssued(r.Context(), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if views == nil {
		views = []coupon.VoucherView{}
	}
	writeJSON(w, http.StatusOK, views)
}

func (h *Handler) UsageStats(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		writeUnauthorized(w)
		return
	}

	stats, err := h.Service.UsageStats(r.Context(), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *Handler) VoucherQR(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		writeUnauthorized(w)
		return
	}
	voucherID, err := strconv.ParseInt(chi.URLParam(r, "voucherID"), 10, 64)
	if err != nil {
		writeError(w, r, coupon.ErrVoucherNotFound)
		return
	}

	png, err := h.Service.VoucherQR(r.Context(), userID, voucherID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "private, max-age=300")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(png)
}

// Создание купона (только владелец магазина)
func (h *Handler) CreateCoupon(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		writeUnauthorized(w)
		return
	}
	storeID, err := strconv.ParseInt(chi.URLParam(r, "storeID"), 10, 64)
	if err != nil {
		writeError(w, r, coupon.ErrStoreNotFound)
		return
	}

	var req dto.CreateCouponRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if coupon.KindOf(err) == coupon.KindInvalid {
			writeError(w, r, err)
			return
		}
		writeBadRequest(w, "некорректный JSON")
		return
	}
	if err := dto.Validate.Struct(req); err != nil {
		middleware.HandleValidationError(w, r, err)
		return
	}

	c, err := h.Service.CreateCoupon(r.Context(), userID, storeID, req.Draft())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (h *Handler) GetCoupon(w http.ResponseWriter, r *http.Request) {
	couponID, err := uuid.Parse(chi.URLParam(r, "couponID"))
	if err != nil {
		writeError(w, r, coupon.ErrCouponNotFound)
		return
	}

	c, err := h.Service.GetCoupon(r.Context(), couponID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *Handler) ListStoreCoupons(w http.ResponseWriter, r *http.Request) {
	storeID, err := strconv.ParseInt(chi.URLParam(r, "storeID"), 10, 64)
	if err != nil {
		writeError(w, r, coupon.ErrStoreNotFound)
		return
	}

	coupons, err := h.Service.ListStoreCoupons(r.Context(), storeID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if coupons == nil {
		coupons = []*coupon.Coupon{}
	}
	writeJSON(w, http.StatusOK, coupons)
}
