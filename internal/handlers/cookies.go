package handlers

import (
	"net/http"
	"time"
)

const (
	sessionCookie  = "osda_session"
	stateCookie    = "osda_oauth_state"
	verifierCookie = "osda_oauth_verifier"
	redirectCookie = "osda_oauth_redirect"
	pendingCookie  = "osda_pending"

	federatedCookiePath = "/auth/federated"
	flowCookieTTL       = 10 * time.Minute
)

// CookieSettings controls the attributes of cookies set by the handlers.
type CookieSettings struct {
	Secure bool
}

func (c CookieSettings) set(w http.ResponseWriter, name, value, path string, expires time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     path,
		Expires:  expires,
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (c CookieSettings) clear(w http.ResponseWriter, name, path string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     path,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func cookieValue(r *http.Request, name string) string {
	cookie, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return cookie.Value
}
