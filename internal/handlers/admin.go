package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/osda-portal/apiserver/internal/auth"
	"github.com/osda-portal/apiserver/internal/services"
	"github.com/osda-portal/apiserver/types"
)

// AdminHandler exposes account administration and the active permission
// table.
type AdminHandler struct {
	accountService *services.AccountService
	permissions    *auth.Permissions
}

func NewAdminHandler(accountService *services.AccountService, permissions *auth.Permissions) *AdminHandler {
	return &AdminHandler{accountService: accountService, permissions: permissions}
}

// AdminRouter registers admin routes on the given router. Every route
// requires authentication and its own permission.
func AdminRouter(r chi.Router, handler *AdminHandler, authMiddleware func(http.Handler) http.Handler) {
	r.Use(authMiddleware)
	r.With(RequirePermission(auth.PermAccountsManage)).Get("/accounts/{accountID}", handler.GetAccount)
	r.With(RequirePermission(auth.PermAccountsManage)).Patch("/accounts/{accountID}/status", handler.UpdateStatus)
	r.With(RequirePermission(auth.PermPermissionsRead)).Get("/permissions", handler.Permissions)
}

func (h *AdminHandler) GetAccount(w http.ResponseWriter, r *http.Request) {
	account, err := h.accountService.Get(r.Context(), chi.URLParam(r, "accountID"))
	if err != nil {
		writeAuthError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, account)
}

// UpdateStatus approves, suspends or reactivates an account.
func (h *AdminHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req StatusRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	actor, _ := auth.PrincipalFromContext(r.Context())
	account, err := h.accountService.ChangeStatus(r.Context(), actor, chi.URLParam(r, "accountID"), req.Status)
	if err != nil {
		writeAuthError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, account)
}

func (h *AdminHandler) Permissions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.permissions.Table())
}

type StatusRequest struct {
	Status types.AccountStatus `json:"status"`
}
