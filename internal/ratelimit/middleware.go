package ratelimit

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"parley/internal/telemetry"
)

// Middleware guards next with an admission gate. Non-excluded responses carry
// informational rate-limit headers; rejections get 429 with a Retry-After.
func Middleware(next http.Handler, adm Admitter, ids *IdentityResolver, log *slog.Logger) http.Handler {
	if log == nil {
		log = slog.Default()
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity := ids.Identify(r)
		dec := adm.Admit(r.Context(), identity, r.URL.Path)

		if dec.Exempt {
			next.ServeHTTP(w, r)
			return
		}

		// Remaining is zero on denial, so all three headers apply either way.
		windowSecs := int64(dec.Window.Seconds())
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(dec.Ceiling))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(dec.Remaining))
		w.Header().Set("X-RateLimit-Window", strconv.FormatInt(windowSecs, 10))

		if !dec.Allowed {
			telemetry.RequestsRejected.Inc()

			retrySecs := retryAfterSeconds(dec)
			w.Header().Set("Retry-After", strconv.FormatInt(retrySecs, 10))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			fmt.Fprintf(w, `{"error":"rate_limited","retry_after_seconds":%d}`+"\n", retrySecs)
			return
		}

		telemetry.RequestsAdmitted.Inc()
		next.ServeHTTP(w, r)
	})
}

// retryAfterSeconds rounds the retry hint up to whole seconds; a denied
// request always gets at least one second of backoff.
func retryAfterSeconds(dec Decision) int64 {
	secs := int64((dec.RetryAfter + 999_999_999) / 1_000_000_000)
	if secs < 1 {
		secs = 1
	}
	return secs
}
