package httpapi

import (
	"context"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/safar/storefront/internal/logging"
	"go.uber.org/zap"
	"golang.org/x/text/language"
)

const (
	SessionHeader  = "X-Session-ID"
	SessionCookie  = "sid"
	CustomerHeader = "X-User-ID"
)

var (
	sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{8,64}$`)

	supportedLocales = []language.Tag{language.English, language.French, language.Arabic}
	localeMatcher    = language.NewMatcher(supportedLocales)
)

type requestSession struct {
	ID         string
	CustomerID *string
	Locale     string
}

type sessionCtxKey struct{}

func sessionFromContext(ctx context.Context) requestSession {
	rs, _ := ctx.Value(sessionCtxKey{}).(requestSession)
	return rs
}

// requestLogger attaches a request-scoped logger to the context and logs one
// line per completed request.
func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			log := logger.With(
				zap.String("request_id", middleware.GetReqID(r.Context())),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
			)

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(logging.WithLogger(r.Context(), log)))

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			fields := []zap.Field{
				zap.Int("status", status),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
				zap.String("remote_ip", r.RemoteAddr),
			}
			if status >= http.StatusInternalServerError {
				log.Error("request completed", fields...)
				return
			}
			log.Info("request completed", fields...)
		})
	}
}

// sessions resolves the session id, customer id and locale of a request. A
// missing or malformed session id is replaced by a new one, which is echoed in
// the response header and cookie.
func sessions(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(SessionHeader))
		if id == "" {
			if c, err := r.Cookie(SessionCookie); err == nil {
				id = c.Value
			}
		}
		if !sessionIDPattern.MatchString(id) {
			id = uuid.NewString()
		}

		w.Header().Set(SessionHeader, id)
		http.SetCookie(w, &http.Cookie{
			Name:     SessionCookie,
			Value:    id,
			Path:     "/",
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
		})

		rs := requestSession{ID: id, Locale: requestLocale(r)}
		if customer := strings.TrimSpace(r.Header.Get(CustomerHeader)); customer != "" {
			rs.CustomerID = &customer
		}

		ctx := context.WithValue(r.Context(), sessionCtxKey{}, rs)
		ctx = logging.WithLogger(ctx, logging.FromContext(ctx).With(zap.String("session_id", id)))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requestLocale prefers the lang query parameter over Accept-Language.
// Anything unsupported resolves to English.
func requestLocale(r *http.Request) string {
	tag, _ := language.MatchStrings(localeMatcher, r.URL.Query().Get("lang"), r.Header.Get("Accept-Language"))
	base, _ := tag.Base()
	return base.String()
}
