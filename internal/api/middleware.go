package api

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"

	"github.com/xtrntr/gridledger/internal/logger"
	"github.com/xtrntr/gridledger/internal/models"
)

type ctxKey int

const participantKey ctxKey = iota

func participantFrom(ctx context.Context) (models.ParticipantID, bool) {
	id, ok := ctx.Value(participantKey).(models.ParticipantID)
	return id, ok
}

func bearer(r *http.Request) string {
	return strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
}

// JWTAuthMiddleware verifies participant tokens
func (h *Handler) JWTAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearer(r)
		if token == "" {
			writeMessage(w, http.StatusUnauthorized, "Authorization header required")
			return
		}

		participant, err := h.AuthService.ParticipantFromToken(token)
		if err != nil {
			writeMessage(w, http.StatusUnauthorized, "Invalid or expired token")
			return
		}

		ctx := context.WithValue(r.Context(), participantKey, participant)
		ctx = logger.WithParticipant(ctx, int64(participant))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// FeedAuthMiddleware admits requests carrying the grid feed key
func (h *Handler) FeedAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := bearer(r)
		if h.FeedKey == "" || subtle.ConstantTimeCompare([]byte(key), []byte(h.FeedKey)) != 1 {
			writeMessage(w, http.StatusUnauthorized, "Invalid feed key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequestLogger tags the request context with chi's request id
func RequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := middleware.GetReqID(r.Context()); id != "" {
			r = r.WithContext(logger.WithRequestID(r.Context(), id))
		}
		next.ServeHTTP(w, r)
	})
}

// RateLimiter bounds how fast each participant may call the routes it wraps
type RateLimiter struct {
	limit rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[models.ParticipantID]*rate.Limiter
}

// NewRateLimiter allows perSecond requests per participant with the given
// burst. A non-positive rate disables limiting.
func NewRateLimiter(perSecond float64, burst int) *RateLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		limit:    rate.Limit(perSecond),
		burst:    burst,
		limiters: make(map[models.ParticipantID]*rate.Limiter),
	}
}

func (l *RateLimiter) limiter(id models.ParticipantID) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.limiters[id]
	if !ok {
		lim = rate.NewLimiter(l.limit, l.burst)
		l.limiters[id] = lim
	}
	return lim
}

// Middleware must run after JWTAuthMiddleware
func (l *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := participantFrom(r.Context())
		if ok && l.limit > 0 && !l.limiter(id).Allow() {
			writeMessage(w, http.StatusTooManyRequests, "Rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}
