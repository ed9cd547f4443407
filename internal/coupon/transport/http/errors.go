package http

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"

	"dessertmap/internal/coupon"
	"dessertmap/pkg/middleware"
)

const retryAfterSeconds = "1"

func statusFor(kind coupon.Kind) int {
	switch kind {
	case coupon.KindNotFound:
		return http.StatusNotFound
	case coupon.KindConflict:
		return http.StatusConflict
	case coupon.KindScopeViolation:
		return http.StatusForbidden
	case coupon.KindExpired:
		return http.StatusGone
	case coupon.KindUnavailable:
		return http.StatusUnprocessableEntity
	case coupon.KindInvalid:
		return http.StatusBadRequest
	case coupon.KindTransient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError отдаёт доменную ошибку. Для ошибок без доменного вида тело
// общее, подробности остаются в логе.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	e, ok := coupon.AsError(err)
	if !ok {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("unhandled error")
		writeJSON(w, http.StatusInternalServerError, middleware.ErrorResponse{
			Error: "internal error",
			Code:  "INTERNAL",
		})
		return
	}

	msg := e.Message
	if e.Kind == coupon.KindInvalid {
		// детали валидации можно показать клиенту
		msg = err.Error()
	}
	if e.Kind == coupon.KindTransient {
		w.Header().Set("Retry-After", retryAfterSeconds)
	}
	writeJSON(w, statusFor(e.Kind), middleware.ErrorResponse{Error: msg, Code: e.Code})
}

func writeBadRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, middleware.ErrorResponse{Error: msg, Code: "INVALID_REQUEST"})
}

func writeUnauthorized(w http.ResponseWriter) {
	writeJSON(w, http.StatusUnauthorized, middleware.ErrorResponse{Error: "unauthorized", Code: "UNAUTHORIZED"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
