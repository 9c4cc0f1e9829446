package handlers

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/osda-portal/apiserver/internal/auth"
	"github.com/osda-portal/apiserver/internal/metrics"
	"github.com/osda-portal/apiserver/types"
)

var errInvalidState = &auth.Error{
	Code:    "invalid_state",
	Message: "sign-in request expired or was tampered with, please sign in again",
	Status:  http.StatusBadRequest,
}

// FederatedHandler drives sign-in through external identity providers and
// the profile completion handshake that may follow.
type FederatedHandler struct {
	bridge      *auth.Bridge
	redirects   auth.RedirectPolicy
	profilePath string
	cookies     CookieSettings
	metrics     *metrics.Metrics
	logger      *slog.Logger
	now         func() time.Time
}

// NewFederatedHandler constructs a FederatedHandler. profilePath is the
// frontend route that renders the completion form.
func NewFederatedHandler(bridge *auth.Bridge, redirects auth.RedirectPolicy, profilePath string, cookies CookieSettings, m *metrics.Metrics, logger *slog.Logger) *FederatedHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &FederatedHandler{
		bridge:      bridge,
		redirects:   redirects,
		profilePath: profilePath,
		cookies:     cookies,
		metrics:     m,
		logger:      logger,
		now:         time.Now,
	}
}

// FederatedRouter registers federated sign-in routes on the given router.
func FederatedRouter(r chi.Router, handler *FederatedHandler) {
	r.Get("/providers", handler.Providers)
	r.Get("/pending", handler.Pending)
	r.Post("/complete", handler.Complete)
	r.Get("/{provider}/start", handler.Start)
	r.Get("/{provider}/callback", handler.Callback)
}

// Providers lists the configured provider names.
func (h *FederatedHandler) Providers(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, ProvidersResponse{Providers: h.bridge.Providers()})
}

// Start redirects the browser to the provider.
func (h *FederatedHandler) Start(w http.ResponseWriter, r *http.Request) {
	begin, err := h.bridge.Begin(r.Context(), chi.URLParam(r, "provider"), r.URL.Query().Get("redirect"))
	if err != nil {
		writeAuthError(w, err)
		return
	}

	expires := h.now().Add(flowCookieTTL)
	h.cookies.set(w, stateCookie, begin.State, federatedCookiePath, expires)
	h.cookies.set(w, verifierCookie, begin.CodeVerifier, federatedCookiePath, expires)
	h.cookies.set(w, redirectCookie, begin.Redirect, federatedCookiePath, expires)
	http.Redirect(w, r, begin.AuthURL, http.StatusFound)
}

// Callback completes the provider round trip. A known account is signed
// in; otherwise the browser is sent to the profile completion form.
func (h *FederatedHandler) Callback(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	state := cookieValue(r, stateCookie)
	verifier := cookieValue(r, verifierCookie)
	redirect := cookieValue(r, redirectCookie)

	h.cookies.clear(w, stateCookie, federatedCookiePath)
	h.cookies.clear(w, verifierCookie, federatedCookiePath)

	if state == "" || subtle.ConstantTimeCompare([]byte(state), []byte(query.Get("state"))) != 1 {
		h.metrics.ObserveLogin("federated", errInvalidState.Code)
		writeAuthError(w, errInvalidState)
		return
	}
	if providerErr := query.Get("error"); providerErr != "" {
		h.metrics.ObserveLogin("federated", auth.CodeProviderExchange)
		writeAuthError(w, auth.ErrProviderExchange.WithMessage("identity provider denied the request"))
		return
	}

	outcome := h.bridge.Callback(r.Context(), chi.URLParam(r, "provider"), query.Get("code"), verifier, redirect)
	switch o := outcome.(type) {
	case auth.Authenticated:
		h.metrics.ObserveLogin("federated", "ok")
		h.cookies.clear(w, redirectCookie, federatedCookiePath)
		h.cookies.set(w, sessionCookie, o.Token.Value, "/", o.Token.ExpiresAt)
		http.Redirect(w, r, o.Redirect, http.StatusFound)
	case auth.NeedsProfile:
		h.metrics.ObserveLogin("federated", "needs_profile")
		h.cookies.set(w, pendingCookie, o.Pending.ID, federatedCookiePath, o.Pending.ExpiresAt)
		h.cookies.set(w, redirectCookie, o.Redirect, federatedCookiePath, o.Pending.ExpiresAt)
		http.Redirect(w, r, h.profilePath, http.StatusFound)
	case auth.Failed:
		h.cookies.clear(w, redirectCookie, federatedCookiePath)
		typed := auth.AsError(o.Err)
		h.metrics.ObserveLogin("federated", typed.Code)
		if typed.Status >= http.StatusInternalServerError {
			h.logger.ErrorContext(r.Context(), "federated callback failed", slog.Any("error", o.Err))
		}
		writeAuthError(w, o.Err)
	}
}

// Pending returns what the provider told us, to prefill the completion form.
func (h *FederatedHandler) Pending(w http.ResponseWriter, r *http.Request) {
	pending, err := h.bridge.Pending(r.Context(), cookieValue(r, pendingCookie))
	if err != nil {
		writeAuthError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, PendingResponse{
		Email:     pending.Email,
		FirstName: pending.FirstName,
		LastName:  pending.LastName,
		Provider:  pending.Provider,
		ExpiresAt: pending.ExpiresAt,
	})
}

// Complete provisions the account for the pending identity and signs the
// user in.
func (h *FederatedHandler) Complete(w http.ResponseWriter, r *http.Request) {
	var req types.ProfileInput
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	redirect, err := h.redirects.Resolve(cookieValue(r, redirectCookie))
	if err != nil {
		h.metrics.ObserveCompletion(auth.AsError(err).Code)
		writeAuthError(w, err)
		return
	}

	account, token, err := h.bridge.CompleteProfile(r.Context(), cookieValue(r, pendingCookie), req)
	if err != nil {
		typed := auth.AsError(err)
		h.metrics.ObserveCompletion(typed.Code)
		if typed.Status >= http.StatusInternalServerError {
			h.logger.ErrorContext(r.Context(), "complete profile", slog.Any("error", err))
		}
		writeAuthError(w, err)
		return
	}
	h.metrics.ObserveCompletion("ok")

	h.cookies.clear(w, pendingCookie, federatedCookiePath)
	h.cookies.clear(w, redirectCookie, federatedCookiePath)
	h.cookies.set(w, sessionCookie, token.Value, "/", token.ExpiresAt)
	writeJSON(w, http.StatusCreated, CompleteResponse{
		Account:   account,
		Token:     token.Value,
		ExpiresAt: token.ExpiresAt,
		Redirect:  redirect,
	})
}

type ProvidersResponse struct {
	Providers []string `json:"providers"`
}

type PendingResponse struct {
	Email     string    `json:"email"`
	FirstName string    `json:"firstName,omitempty"`
	LastName  string    `json:"lastName,omitempty"`
	Provider  string    `json:"provider"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type CompleteResponse struct {
	Account   types.Account `json:"account"`
	Token     string        `json:"token"`
	ExpiresAt time.Time     `json:"expiresAt"`
	Redirect  string        `json:"redirect"`
}
