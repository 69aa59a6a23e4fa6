package middleware

import (
	"bytes"
	"io"
	"net/http"
	"strconv"

	goShield "github.com/MrEthical07/goShield"
)

// PrincipalFunc derives the authenticated principal from a request, or ""
// for anonymous callers.
type PrincipalFunc func(r *http.Request) string

// Option tunes the Protect middleware.
type Option func(*options)

type options struct {
	principal PrincipalFunc
}

// WithPrincipal supplies the principal extractor. Without one, every caller
// is anonymous and accounted by IP.
func WithPrincipal(fn PrincipalFunc) Option {
	return func(o *options) {
		o.principal = fn
	}
}

const requestIDHeader = "X-Request-ID"

// Protect wraps a handler with the full admission sequence. Rejections carry
// minimal bodies; admitted requests reach next with the request ID and the
// resolved identity on the context.
func Protect(gate *goShield.Gate, opts ...Option) func(http.Handler) http.Handler {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if gate == nil {
				http.Error(w, "service unavailable", http.StatusServiceUnavailable)
				return
			}

			cfg := gate.Config()
			info := buildRequestInfo(r, cfg, o.principal)

			decision := gate.Inspect(r.Context(), info)
			w.Header().Set(requestIDHeader, decision.RequestID)

			if !decision.Allow {
				if decision.Reason == goShield.ReasonRateLimited && decision.RetryAfter > 0 {
					seconds := int(decision.RetryAfter.Seconds())
					if seconds < 1 {
						seconds = 1
					}
					w.Header().Set("Retry-After", strconv.Itoa(seconds))
				}
				http.Error(w, rejectionBody(decision.Reason), decision.Status)
				return
			}

			mirrorCSRFCookie(w, r, gate, cfg, decision.Identity)

			ctx := goShield.WithRequestID(r.Context(), decision.RequestID)
			ctx = goShield.WithIdentity(ctx, decision.Identity)

			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r.WithContext(ctx))

			// Failures-only tiers count after the business outcome is known.
			if rec.status >= http.StatusBadRequest {
				gate.RecordFailure(ctx, r.URL.Path, decision.Identity, decision.ClientIP)
			}
		})
	}
}

func buildRequestInfo(r *http.Request, cfg goShield.Config, principal PrincipalFunc) goShield.RequestInfo {
	info := goShield.RequestInfo{
		Method:       r.Method,
		Path:         r.URL.Path,
		RawQuery:     r.URL.RawQuery,
		Header:       r.Header,
		ContentType:  r.Header.Get("Content-Type"),
		RemoteAddr:   r.RemoteAddr,
		ForwardedFor: r.Header.Get(cfg.Identity.ForwardingHeader),
		RequestID:    r.Header.Get(requestIDHeader),
	}

	if principal != nil {
		info.Principal = principal(r)
	}

	if cfg.Scanner.Enabled && r.Body != nil && r.ContentLength != 0 {
		info.Body = sampleBody(r, cfg.Scanner.MaxScanBytes)
	}

	if cfg.CSRF.Enabled {
		info.CSRFToken = csrfCarrier(r, cfg.CSRF)
		if cookie, err := r.Cookie(cfg.CSRF.CookieName); err == nil {
			info.CSRFCookie = cookie.Value
		}
	}

	return info
}

// sampleBody reads at most limit bytes for scanning and splices them back so
// downstream handlers see the full stream.
func sampleBody(r *http.Request, limit int) []byte {
	buf := make([]byte, limit)
	n, _ := io.ReadFull(r.Body, buf)
	sample := buf[:n]
	r.Body = struct {
		io.Reader
		io.Closer
	}{io.MultiReader(bytes.NewReader(sample), r.Body), r.Body}
	return sample
}

func csrfCarrier(r *http.Request, cfg goShield.CSRFConfig) string {
	if cfg.HeaderName != "" {
		if token := r.Header.Get(cfg.HeaderName); token != "" {
			return token
		}
	}
	if cfg.FormField != "" {
		if token := r.PostFormValue(cfg.FormField); token != "" {
			return token
		}
	}
	if cfg.QueryParam != "" {
		if token := r.URL.Query().Get(cfg.QueryParam); token != "" {
			return token
		}
	}
	return ""
}

// mirrorCSRFCookie lazily issues the identity's token and keeps the
// script-readable double-submit cookie in sync with it.
func mirrorCSRFCookie(w http.ResponseWriter, r *http.Request, gate *goShield.Gate, cfg goShield.Config, identity goShield.Identity) {
	if !cfg.CSRF.Enabled {
		return
	}

	token, err := gate.CSRFToken(r.Context(), identity)
	if err != nil || token == "" {
		return
	}

	if cookie, err := r.Cookie(cfg.CSRF.CookieName); err == nil && cookie.Value == token {
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     cfg.CSRF.CookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(cfg.CSRF.TokenTTL.Seconds()),
		SameSite: http.SameSiteLaxMode,
		// Deliberately script-readable: the double-submit pattern needs
		// the client to echo the cookie value back in a header or field.
		HttpOnly: false,
	})
}

func rejectionBody(reason goShield.Reason) string {
	switch reason {
	case goShield.ReasonMalicious:
		return "bad request"
	case goShield.ReasonRateLimited:
		return "too many requests"
	default:
		return "forbidden"
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
