package stravalink

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/kinnect/stravalink/providers"
	"github.com/kinnect/stravalink/security"
)

// Handler exposes the credential core over HTTP. Paths and methods match the
// original surface consumed by the dashboard frontend.
type Handler struct {
	service *Service
	api     providers.APIClient
	logger  *slog.Logger
	limiter *security.RateLimiter
	auditor *security.Auditor

	frontendOrigin string
}

// NewHandler creates the HTTP handler for the credential core.
func NewHandler(service *Service, api providers.APIClient) *Handler {
	h := &Handler{
		service:        service,
		api:            api,
		logger:         service.logger,
		auditor:        service.auditor,
		frontendOrigin: service.cfg.FrontendOrigin,
	}

	if service.cfg.RateLimit.Rate > 0 {
		h.limiter = security.NewRateLimiter(
			service.cfg.RateLimit.Rate,
			service.cfg.RateLimit.Burst,
			service.logger,
		)
	}

	return h
}

// Routes returns the handler's mux with rate limiting applied. The limiter
// runs before every endpoint so the core can assume it has already passed.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/auth", h.HandleAuth)
	mux.HandleFunc("/callback", h.HandleCallback)
	mux.HandleFunc("/refresh", h.HandleRefresh)
	mux.HandleFunc("/disconnect", h.HandleDisconnect)
	mux.HandleFunc("/status", h.HandleStatus)
	mux.HandleFunc("/athlete", h.HandleAthlete)
	mux.HandleFunc("/activities", h.HandleActivities)
	return h.withRateLimit(mux)
}

// Stop releases handler resources (the rate limiter's cleanup goroutine).
func (h *Handler) Stop() {
	if h.limiter != nil {
		h.limiter.Stop()
	}
}

// withRateLimit applies per-IP rate limiting when configured.
func (h *Handler) withRateLimit(next http.Handler) http.Handler {
	if h.limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		if !h.limiter.Allow(ip) {
			h.auditor.LogRateLimitExceeded(ip)
			h.writeErrorResponse(w, ErrorCodeInvalidRequest,
				"Rate limit exceeded. Please try again later.",
				http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// HandleAuth starts an authorization flow.
// GET /auth?username=U
func (h *Handler) HandleAuth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.writeErrorResponse(w, ErrorCodeInvalidRequest, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	resp, err := h.service.BeginAuthorization(r.Context(), r.URL.Query().Get("username"))
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, resp)
}

// HandleCallback completes an authorization flow and redirects back to the
// frontend with either strava_success or strava_error set.
// GET /callback?code&state&error
func (h *Handler) HandleCallback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.writeErrorResponse(w, ErrorCodeInvalidRequest, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	q := r.URL.Query()
	if q.Get("error") != "" {
		// The user denied the authorization at Strava.
		h.redirectWithError(w, r, "Strava authorization was denied")
		return
	}

	username, err := h.service.CompleteAuthorization(r.Context(), q.Get("code"), q.Get("state"))
	if err != nil {
		var typed *Error
		if errors.As(err, &typed) {
			h.redirectWithError(w, r, typed.Description)
		} else {
			h.redirectWithError(w, r, "Strava connection failed")
		}
		return
	}

	redirect := h.frontendOrigin + "/?strava_success=true&username=" + url.QueryEscape(username)
	http.Redirect(w, r, redirect, http.StatusFound)
}

// HandleRefresh forces a token resolution for a username.
// POST /refresh {"username": "U"}
func (h *Handler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeErrorResponse(w, ErrorCodeInvalidRequest, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req RefreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeErrorResponse(w, ErrorCodeInvalidRequest, "Invalid JSON body", http.StatusBadRequest)
		return
	}

	if _, err := h.service.ResolveAccessToken(r.Context(), req.Username); err != nil {
		// The surface contract reports refresh failures as 400 with the
		// failure message, regardless of kind.
		var typed *Error
		if errors.As(err, &typed) {
			h.writeErrorResponse(w, typed.Code, typed.Description, http.StatusBadRequest)
		} else {
			h.writeErrorResponse(w, ErrorCodeUpstreamUnavailable, "Token refresh failed", http.StatusBadRequest)
		}
		return
	}

	h.writeJSON(w, http.StatusOK, MessageResponse{Message: "Token refreshed"})
}

// HandleDisconnect removes a username's connection.
// GET /disconnect?username=U
func (h *Handler) HandleDisconnect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.writeErrorResponse(w, ErrorCodeInvalidRequest, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := h.service.Disconnect(r.Context(), r.URL.Query().Get("username")); err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, MessageResponse{Message: "Strava disconnected"})
}

// HandleStatus reports the connection state for a username.
// GET /status?username=U
func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.writeErrorResponse(w, ErrorCodeInvalidRequest, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	status, err := h.service.Status(r.Context(), r.URL.Query().Get("username"))
	if err != nil {
		h.writeError(w, err)
		return
	}

	if !status.Connected {
		h.writeJSON(w, http.StatusOK, struct {
			Connected bool `json:"connected"`
		}{Connected: false})
		return
	}

	h.writeJSON(w, http.StatusOK, status)
}

// HandleAthlete proxies the athlete profile from the upstream API.
// GET /athlete?username=U
func (h *Handler) HandleAthlete(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.writeErrorResponse(w, ErrorCodeInvalidRequest, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	h.proxyUpstream(w, r, func(token string) ([]byte, error) {
		return h.api.Call(r.Context(), http.MethodGet, "/athlete", token, nil, nil)
	})
}

// HandleActivities proxies the athlete's activity list from the upstream API.
// GET /activities?username=U&per_page&page
func (h *Handler) HandleActivities(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.writeErrorResponse(w, ErrorCodeInvalidRequest, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	q := r.URL.Query()
	query := url.Values{}
	if v := q.Get("per_page"); v != "" {
		if _, err := strconv.Atoi(v); err != nil {
			h.writeErrorResponse(w, ErrorCodeInvalidRequest, "per_page must be an integer", http.StatusBadRequest)
			return
		}
		query.Set("per_page", v)
	}
	if v := q.Get("page"); v != "" {
		if _, err := strconv.Atoi(v); err != nil {
			h.writeErrorResponse(w, ErrorCodeInvalidRequest, "page must be an integer", http.StatusBadRequest)
			return
		}
		query.Set("page", v)
	}

	h.proxyUpstream(w, r, func(token string) ([]byte, error) {
		return h.api.Call(r.Context(), http.MethodGet, "/athlete/activities", token, query, nil)
	})
}

// proxyUpstream resolves an access token for the request's username, invokes
// the upstream call, and writes the upstream JSON verbatim. An upstream 401
// maps to 401; other upstream failures map to 500 with a generic message.
func (h *Handler) proxyUpstream(w http.ResponseWriter, r *http.Request, call func(token string) ([]byte, error)) {
	token, err := h.service.ResolveAccessToken(r.Context(), r.URL.Query().Get("username"))
	if err != nil {
		h.writeError(w, err)
		return
	}

	start := time.Now()
	data, err := call(token)
	if m := h.service.metrics; m != nil {
		m.UpstreamCalls.Add(r.Context(), 1)
		m.UpstreamCallDuration.Record(r.Context(), float64(time.Since(start).Milliseconds()))
	}
	if err != nil {
		if errors.Is(err, providers.ErrUnauthorized) {
			h.writeError(w, ErrUnauthorized("Strava rejected the access token"))
			return
		}
		h.logger.Error("Upstream API call failed", "path", r.URL.Path, "error", err)
		h.writeError(w, ErrUpstreamUnavailable("Strava request failed"))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// redirectWithError sends the browser back to the frontend with a
// human-readable error message. One generic message per failure class; the
// specific rejected check is never revealed.
func (h *Handler) redirectWithError(w http.ResponseWriter, r *http.Request, message string) {
	redirect := h.frontendOrigin + "/?strava_error=" + url.QueryEscape(message)
	http.Redirect(w, r, redirect, http.StatusFound)
}

// writeError maps a service error onto the HTTP response.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var typed *Error
	if errors.As(err, &typed) {
		h.writeErrorResponse(w, typed.Code, typed.Description, typed.Status)
		return
	}
	h.logger.Error("Unclassified handler error", "error", err)
	h.writeErrorResponse(w, ErrorCodeUpstreamUnavailable, "Internal error", http.StatusInternalServerError)
}

// writeErrorResponse writes a JSON error body
func (h *Handler) writeErrorResponse(w http.ResponseWriter, code, description string, status int) {
	h.writeJSON(w, status, ErrorResponse{
		Error:            code,
		ErrorDescription: description,
	})
}

// writeJSON writes a JSON response body
func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("Failed to encode response", "error", err)
	}
}

// clientIP extracts the remote IP for rate limiting. Proxy headers are not
// trusted; the limiter keys on the direct peer.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
