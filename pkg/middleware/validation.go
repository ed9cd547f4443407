// pkg/middleware/validation.go

package middleware

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
)

// ErrorResponse стандартный формат ошибок API
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
	Field string `json:"field,omitempty"`
}

const maxBodySize = 1 << 20 // 1 MB

// ValidateRequest проверяет корректность запроса перед передачей его обработчику
func ValidateRequest(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Проверка Content-Type для POST/PUT запросов
		if r.Method == http.MethodPost || r.Method == http.MethodPut {
			contentType := r.Header.Get("Content-Type")
			if contentType != "" && !strings.Contains(contentType, "application/json") {
				writeError(w, http.StatusUnsupportedMediaType, "UNSUPPORTED_MEDIA_TYPE", "expected application/json")
				return
			}
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
		next.ServeHTTP(w, r)
	})
}

// HandleValidationError отвечает 400 с первым полем, не прошедшим проверку
func HandleValidationError(w http.ResponseWriter, r *http.Request, err error) {
	zerolog.Ctx(r.Context()).Info().Err(err).Msg("validation error")

	resp := ErrorResponse{Error: err.Error(), Code: "INVALID_REQUEST"}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		resp.Field = verrs[0].Field()
		resp.Error = "field " + verrs[0].Field() + " failed on " + verrs[0].Tag()
	}
	writeJSON(w, http.StatusBadRequest, resp)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg, Code: code})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
