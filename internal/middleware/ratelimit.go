package middleware

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimit is a per-client request budget of Requests per Window.
// A zero Requests or Window disables the limit.
type RateLimit struct {
	Requests int
	Window   time.Duration
	// SkipSuccessful spends the budget only on responses with status >= 400
	SkipSuccessful bool
	Message        string
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter keeps one token bucket per client IP
type RateLimiter struct {
	cfg RateLimit
	now func() time.Time

	mu        sync.Mutex
	visitors  map[string]*visitor
	lastSweep time.Time
}

func NewRateLimiter(cfg RateLimit) *RateLimiter {
	if cfg.Message == "" {
		cfg.Message = "Too many requests, please try again later"
	}
	return &RateLimiter{
		cfg:      cfg,
		now:      time.Now,
		visitors: make(map[string]*visitor),
	}
}

func (l *RateLimiter) enabled() bool {
	return l.cfg.Requests > 0 && l.cfg.Window > 0
}

// interval is the time it takes to earn back one request
func (l *RateLimiter) interval() time.Duration {
	return l.cfg.Window / time.Duration(l.cfg.Requests)
}

func (l *RateLimiter) limiter(key string, now time.Time) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	// A bucket idle for a whole window is full again and can be forgotten
	if now.Sub(l.lastSweep) > l.cfg.Window {
		for k, v := range l.visitors {
			if now.Sub(v.lastSeen) > l.cfg.Window {
				delete(l.visitors, k)
			}
		}
		l.lastSweep = now
	}

	v, ok := l.visitors[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(rate.Every(l.interval()), l.cfg.Requests)}
		l.visitors[key] = v
	}
	v.lastSeen = now
	return v.limiter
}

// Middleware answers 429 once the client has spent its budget
func (l *RateLimiter) Middleware(next http.Handler) http.Handler {
	if !l.enabled() {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		now := l.now()
		lim := l.limiter(clientIP(r), now)
		w.Header().Set("RateLimit-Limit", strconv.Itoa(l.cfg.Requests))

		if !l.cfg.SkipSuccessful {
			if !lim.AllowN(now, 1) {
				l.reject(w)
				return
			}
			next.ServeHTTP(w, r)
			return
		}

		if lim.TokensAt(now) < 1 {
			l.reject(w)
			return
		}
		wrapped := &responseWriterWrapper{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		if wrapped.statusCode >= http.StatusBadRequest {
			lim.AllowN(l.now(), 1)
		}
	})
}

func (l *RateLimiter) reject(w http.ResponseWriter) {
	retry := int(math.Ceil(l.interval().Seconds()))
	w.Header().Set("Retry-After", strconv.Itoa(retry))
	jsonError(w, http.StatusTooManyRequests, l.cfg.Message)
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
