package httpapi

import (
	"errors"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mindmux/mindmux/internal/adapter"
	"github.com/mindmux/mindmux/internal/auth"
	"github.com/mindmux/mindmux/internal/domain"
	"github.com/mindmux/mindmux/internal/log"
)

// wrap applies the cross-cutting concerns around the route mux: CORS,
// panic recovery, request counting, query sanitisation, bearer token
// extraction, rate limiting, and JSON 404s.
func (h *Handler) wrap(mux *http.ServeMux) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		defer func() {
			if rec := recover(); rec != nil {
				log.Error(log.CatHTTP, "handler panic", "path", r.URL.Path, "panic", rec)
				h.writeError(w, http.StatusInternalServerError, "Internal server error")
			}
		}()

		if h.metrics != nil {
			h.metrics.APIRequest()
		}

		sanitizeQuery(r)

		if token := bearerToken(r); token != "" {
			r = r.WithContext(auth.WithToken(r.Context(), token))
		}

		if h.limiter != nil && r.URL.Path != "/events" {
			client := clientID(r)
			allowed, _, resetAt := h.limiter.CheckLimit(client)
			if !allowed {
				w.Header().Set("Retry-After", strconv.Itoa(int(time.Until(resetAt).Seconds())+1))
				h.writeDomainError(w, &auth.RateLimitError{ClientID: client, ResetAt: resetAt})
				return
			}
		}

		if _, pattern := mux.Handler(r); pattern == "" {
			h.writeError(w, http.StatusNotFound, "not found")
			return
		}
		mux.ServeHTTP(w, r)
	})
}

// bearerToken extracts the token from the Authorization header.
func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(header, "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return ""
}

// clientID keys the rate limiter: the bearer token when present,
// otherwise the remote host.
func clientID(r *http.Request) string {
	if token := bearerToken(r); token != "" {
		return token
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// sanitizeQuery strips NUL bytes and ANSI escape sequences from every
// query parameter in place.
func sanitizeQuery(r *http.Request) {
	if r.URL.RawQuery == "" {
		return
	}
	query := r.URL.Query()
	clean := make(url.Values, len(query))
	for key, values := range query {
		for _, value := range values {
			clean.Add(sanitizeParam(key), sanitizeParam(value))
		}
	}
	r.URL.RawQuery = clean.Encode()
}

func sanitizeParam(s string) string {
	return strings.ReplaceAll(adapter.StripANSI(s), "\x00", "")
}

// writeDomainError maps typed errors onto the HTTP taxonomy. Anything
// unrecognized is an internal error: logged, never leaked.
func (h *Handler) writeDomainError(w http.ResponseWriter, err error) {
	var (
		validation *domain.ValidationError
		notFound   *domain.NotFoundError
		conflict   *domain.ConflictError
		authn      *auth.AuthenticationError
		authz      *auth.AuthorizationError
		rateLimit  *auth.RateLimitError
	)

	switch {
	case errors.As(err, &validation):
		h.writeError(w, http.StatusBadRequest, validation.Error())
	case errors.As(err, &authn):
		h.writeError(w, http.StatusUnauthorized, authn.Error())
	case errors.As(err, &authz):
		h.writeError(w, http.StatusForbidden, authz.Error())
	case errors.As(err, &notFound):
		h.writeError(w, http.StatusNotFound, notFound.Error())
	case errors.As(err, &conflict):
		h.writeError(w, http.StatusConflict, conflict.Error())
	case errors.As(err, &rateLimit):
		h.writeJSON(w, http.StatusTooManyRequests, ErrorResponse{
			Error:   "rate limit exceeded",
			ResetAt: rateLimit.ResetAt.UTC().Format(time.RFC3339),
		})
	default:
		log.ErrorErr(log.CatHTTP, "internal error", err)
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}
