package httpapi

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// CSRF tokens are an HMAC of the hour bucket, so any instance sharing the
// secret accepts them for up to two hours without server-side state.
func (a *API) csrfTokenFor(bucket time.Time) string {
	mac := hmac.New(sha256.New, a.csrfSecret)
	mac.Write([]byte(strconv.FormatInt(bucket.Unix(), 10)))
	return hex.EncodeToString(mac.Sum(nil))
}

func (a *API) issueCSRFToken() string {
	return a.csrfTokenFor(time.Now().UTC().Truncate(time.Hour))
}

func (a *API) validCSRFToken(token string) bool {
	if token == "" {
		return false
	}
	current := time.Now().UTC().Truncate(time.Hour)
	for _, bucket := range []time.Time{current, current.Add(-time.Hour)} {
		if hmac.Equal([]byte(token), []byte(a.csrfTokenFor(bucket))) {
			return true
		}
	}
	return false
}

var csrfExemptPaths = map[string]bool{
	"/api/v1/auth/login": true,
}

// checkCSRF writes a 403 and returns false when a state-changing request
// carries no valid X-CSRF-Token header.
func (a *API) checkCSRF(w http.ResponseWriter, r *http.Request) bool {
	switch r.Method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
	default:
		return true
	}
	if csrfExemptPaths[r.URL.Path] {
		return true
	}
	if !a.validCSRFToken(strings.TrimSpace(r.Header.Get("X-CSRF-Token"))) {
		writeError(w, http.StatusForbidden, errors.New("missing or invalid CSRF token"))
		return false
	}
	return true
}

// attemptLimiter is a sliding-window counter for credential checks.
type attemptLimiter struct {
	mu      sync.Mutex
	max     int
	window  time.Duration
	entries map[string][]time.Time
}

func newAttemptLimiter(max int, window time.Duration) *attemptLimiter {
	if max < 1 {
		max = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &attemptLimiter{max: max, window: window, entries: make(map[string][]time.Time)}
}

func (l *attemptLimiter) Allow(key string) bool {
	now := time.Now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	kept := l.entries[key][:0]
	for _, ts := range l.entries[key] {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= l.max {
		l.entries[key] = kept
		return false
	}
	l.entries[key] = append(kept, now)
	return true
}

// uploadLimiter throttles evidence uploads with a token bucket per client.
type uploadLimiter struct {
	mu       sync.Mutex
	every    rate.Limit
	burst    int
	limiters map[string]*rate.Limiter
}

func newUploadLimiter(perMinute int, burst int) *uploadLimiter {
	if perMinute < 1 {
		perMinute = 1
	}
	if burst < 1 {
		burst = 1
	}
	return &uploadLimiter{
		every:    rate.Every(time.Minute / time.Duration(perMinute)),
		burst:    burst,
		limiters: make(map[string]*rate.Limiter),
	}
}

func (u *uploadLimiter) Allow(key string) bool {
	u.mu.Lock()
	limiter, ok := u.limiters[key]
	if !ok {
		limiter = rate.NewLimiter(u.every, u.burst)
		u.limiters[key] = limiter
	}
	u.mu.Unlock()
	return limiter.Allow()
}

func clientKey(r *http.Request) string {
	host := strings.TrimSpace(r.RemoteAddr)
	if host == "" {
		return "unknown"
	}
	if addr, err := netip.ParseAddrPort(host); err == nil {
		return addr.Addr().String()
	}
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		return host[:idx]
	}
	return host
}
