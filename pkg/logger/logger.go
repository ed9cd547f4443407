// Package logger настраивает zerolog и кладёт логгер запроса в контекст.
package logger

import (
	"io"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/trace"
)

const RequestIDHeader = "X-Request-ID"

// Setup ставит глобальный логгер. Неизвестный уровень означает info.
func Setup(service, level string, pretty bool) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	zerolog.TimeFieldFormat = time.RFC3339Nano

	var out io.Writer = os.Stdout
	if pretty {
		out = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.Kitchen}
	}
	l := zerolog.New(out).With().Timestamp().Str("service", service).Logger()
	log.Logger = l
	zerolog.DefaultContextLogger = &log.Logger
	return l
}

// Middleware кладёт в контекст дочерний логгер с request id, методом, путём
// и trace id, и пишет одну строку на запрос.
func Middleware(base zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqID := r.Header.Get(RequestIDHeader)
			if reqID == "" {
				reqID = uuid.NewString()
			}
			w.Header().Set(RequestIDHeader, reqID)

			lc := base.With().
				Str("request_id", reqID).
				Str("method", r.Method).
				Str("path", r.URL.Path)
			if sc := trace.SpanContextFromContext(r.Context()); sc.HasTraceID() {
				lc = lc.Str("trace_id", sc.TraceID().String())
			}
			l := lc.Logger()

			rec := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			start := time.Now()
			next.ServeHTTP(rec, r.WithContext(l.WithContext(r.Context())))

			ev := l.Info()
			if rec.status >= http.StatusInternalServerError {
				ev = l.Error()
			}
			ev.Int("status", rec.status).Dur("duration", time.Since(start)).Msg("request")
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
