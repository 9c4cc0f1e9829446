package auth

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// RedirectPolicy decides where a user may be sent after sign-in. Targets
// must be relative paths on this site or absolute URLs on BaseOrigin.
type RedirectPolicy struct {
	base    *url.URL
	landing string
}

func NewRedirectPolicy(baseOrigin, landing string) (RedirectPolicy, error) {
	base, err := url.Parse(strings.TrimSpace(baseOrigin))
	if err != nil {
		return RedirectPolicy{}, fmt.Errorf("parse base origin: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return RedirectPolicy{}, fmt.Errorf("base origin %q must include scheme and host", baseOrigin)
	}
	if !isLocalPath(landing) {
		return RedirectPolicy{}, fmt.Errorf("landing path %q must be a local path", landing)
	}
	return RedirectPolicy{base: base, landing: landing}, nil
}

// Landing is the default post-login route.
func (p RedirectPolicy) Landing() string {
	return p.landing
}

// Resolve returns the safe target for raw, or ErrUnsafeRedirectTarget.
// An empty target resolves to the landing route.
func (p RedirectPolicy) Resolve(raw string) (string, error) {
	target := strings.TrimSpace(raw)
	if target == "" {
		return p.landing, nil
	}
	if strings.ContainsAny(target, "\\\r\n\t") {
		return "", ErrUnsafeRedirectTarget
	}

	u, err := url.Parse(target)
	if err != nil {
		return "", ErrUnsafeRedirectTarget.Wrap(err)
	}
	if u.Scheme == "" && u.Host == "" {
		if !isLocalPath(target) {
			return "", ErrUnsafeRedirectTarget
		}
		return target, nil
	}

	if u.User != nil || u.Opaque != "" {
		return "", ErrUnsafeRedirectTarget
	}
	if !strings.EqualFold(u.Scheme, p.base.Scheme) || !strings.EqualFold(u.Host, p.base.Host) {
		return "", ErrUnsafeRedirectTarget.Wrap(errors.New("foreign origin " + u.Scheme + "://" + u.Host))
	}
	return u.String(), nil
}

func isLocalPath(path string) bool {
	return strings.HasPrefix(path, "/") && !strings.HasPrefix(path, "//")
}
