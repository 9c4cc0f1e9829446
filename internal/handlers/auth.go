package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/osda-portal/apiserver/internal/auth"
	"github.com/osda-portal/apiserver/internal/metrics"
	"github.com/osda-portal/apiserver/internal/services"
	"github.com/osda-portal/apiserver/types"
)

// AuthHandler provides password sign-in, registration and session endpoints.
type AuthHandler struct {
	credentials    *auth.CredentialVerifier
	issuer         *auth.TokenIssuer
	permissions    *auth.Permissions
	accountService *services.AccountService
	cookies        CookieSettings
	metrics        *metrics.Metrics
	logger         *slog.Logger
}

// NewAuthHandler constructs an AuthHandler with the provided dependencies.
func NewAuthHandler(credentials *auth.CredentialVerifier, issuer *auth.TokenIssuer, permissions *auth.Permissions, accountService *services.AccountService, cookies CookieSettings, m *metrics.Metrics, logger *slog.Logger) *AuthHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthHandler{
		credentials:    credentials,
		issuer:         issuer,
		permissions:    permissions,
		accountService: accountService,
		cookies:        cookies,
		metrics:        m,
		logger:         logger,
	}
}

// AuthRouter registers auth routes on the given router.
func AuthRouter(r chi.Router, handler *AuthHandler, authMiddleware func(http.Handler) http.Handler, limiter *RateLimiter) {
	r.With(limiter.Middleware).Post("/login", handler.Login)
	r.With(limiter.Middleware).Post("/register", handler.Register)
	r.Post("/logout", handler.Logout)
	r.With(authMiddleware).Get("/me", handler.Me)
}

// Login verifies an email and password and returns a bearer token.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	account, err := h.credentials.Verify(r.Context(), req.Email, req.Password)
	if err != nil {
		h.metrics.ObserveLogin("password", auth.AsError(err).Code)
		h.logInternal(r, "password login failed", err)
		writeAuthError(w, err)
		return
	}

	token, err := h.issuer.Issue(account)
	if err != nil {
		h.metrics.ObserveLogin("password", auth.CodeInternal)
		h.logInternal(r, "issue token", err)
		writeAuthError(w, err)
		return
	}
	h.metrics.ObserveLogin("password", "ok")

	writeJSON(w, http.StatusOK, AuthResponse{
		Token:     token.Value,
		ExpiresAt: token.ExpiresAt,
		Principal: h.permissions.PrincipalFor(account),
	})
}

// Register creates a password account. Accounts that need approval get
// 202 and no token.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req types.ProfileInput
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.accountService.Register(r.Context(), req)
	if err != nil {
		h.logInternal(r, "register account", err)
		writeAuthError(w, err)
		return
	}

	if result.Token == nil {
		writeJSON(w, http.StatusAccepted, PendingApprovalResponse{
			Account: result.Account,
			Message: "account created and awaiting approval",
		})
		return
	}
	writeJSON(w, http.StatusCreated, AuthResponse{
		Token:     result.Token.Value,
		ExpiresAt: result.Token.ExpiresAt,
		Principal: h.permissions.PrincipalFor(result.Account),
	})
}

// Me returns the principal of the current request.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeAuthError(w, auth.ErrMissingToken)
		return
	}
	writeJSON(w, http.StatusOK, principal)
}

// Logout clears the session cookie. Bearer tokens stay valid until they
// expire.
func (h *AuthHandler) Logout(w http.ResponseWriter, _ *http.Request) {
	h.cookies.clear(w, sessionCookie, "/")
	w.WriteHeader(http.StatusNoContent)
}

func (h *AuthHandler) logInternal(r *http.Request, msg string, err error) {
	if auth.AsError(err).Status < http.StatusInternalServerError {
		return
	}
	h.logger.ErrorContext(r.Context(), msg, slog.Any("error", err))
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type AuthResponse struct {
	Token     string          `json:"token"`
	ExpiresAt time.Time       `json:"expiresAt"`
	Principal types.Principal `json:"principal"`
}

type PendingApprovalResponse struct {
	Account types.Account `json:"account"`
	Message string        `json:"message"`
}
