package tokenauth

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/qofy/quoteflow/internal/apperr"
)

// ErrTokenInvalid is returned by Validate for any malformed, tampered,
// expired, or issuer/audience-mismatched token.
var ErrTokenInvalid = errors.New("tokenauth: invalid token")

// Mode selects one of the two interchangeable token formats.
type Mode string

const (
	ModeHMAC   Mode = "hmac"
	ModePaseto Mode = "paseto"
)

const (
	AccessCookieName  = "access_token"
	RefreshCookieName = "refresh_token"
	refreshTTL        = 7 * 24 * time.Hour
)

// Config configures the Service.
type Config struct {
	Mode            Mode
	Issuer          string
	Audience        string
	TokenTTLSeconds int64

	// Format A.
	HMACLocalKeyHex   string
	StaticAccessToken string

	// Format B.
	PasetoKeyHex string

	// Cookies.
	CookieSecure bool
	CookieDomain string

	Logger *slog.Logger
}

// Service is the Token Service (C6): a single capability set over two
// selectable formats, plus the cookie contract.
type Service struct {
	cfg Config
	fmt format
}

func New(cfg Config) (*Service, error) {
	var f format
	var err error

	switch cfg.Mode {
	case ModePaseto:
		f, err = newPasetoFormat(cfg.Issuer, cfg.Audience, cfg.PasetoKeyHex)
	default:
		f, err = newHMACFormat(cfg.Issuer, cfg.Audience, cfg.HMACLocalKeyHex, cfg.StaticAccessToken, cfg.Logger)
	}
	if err != nil {
		return nil, err
	}
	return &Service{cfg: cfg, fmt: f}, nil
}

// IssueAccess issues an access token with exp = now + TokenTTLSeconds.
func (s *Service) IssueAccess(subject, email string, roles []string) (string, error) {
	now := time.Now()
	return s.fmt.issue(Claims{
		Subject:  subject,
		Email:    email,
		Roles:    roles,
		Issuer:   s.cfg.Issuer,
		Audience: s.cfg.Audience,
		IssuedAt: now.Unix(),
		Expiry:   now.Add(time.Duration(s.cfg.TokenTTLSeconds) * time.Second).Unix(),
	})
}

// IssueRefresh issues a refresh token with exp = now + 7 days.
func (s *Service) IssueRefresh(subject, email string, roles []string) (string, error) {
	now := time.Now()
	return s.fmt.issue(Claims{
		Subject:  subject,
		Email:    email,
		Roles:    roles,
		Issuer:   s.cfg.Issuer,
		Audience: s.cfg.Audience,
		IssuedAt: now.Unix(),
		Expiry:   now.Add(refreshTTL).Unix(),
	})
}

// Validate enforces exp/iss/aud.
func (s *Service) Validate(token string) (Claims, error) {
	claims, err := s.fmt.validate(token, false)
	if err != nil {
		return Claims{}, err
	}
	if claims.Expiry < time.Now().Unix() {
		return Claims{}, ErrTokenInvalid
	}
	return claims, nil
}

// ValidateIgnoringExpiry decodes without enforcing exp, for Reconfirm.
func (s *Service) ValidateIgnoringExpiry(token string) (Claims, error) {
	return s.fmt.validate(token, true)
}

// Refresh validates a non-expired refresh token and rotates: issues and
// returns a fresh access and refresh token pair. Refuses if the refresh
// token is expired or invalid.
func (s *Service) Refresh(refreshToken string) (access, refresh string, err error) {
	claims, err := s.Validate(refreshToken)
	if err != nil {
		return "", "", apperr.ErrUnauthenticated.WithCause(err)
	}
	access, err = s.IssueAccess(claims.Subject, claims.Email, claims.Roles)
	if err != nil {
		return "", "", err
	}
	refresh, err = s.IssueRefresh(claims.Subject, claims.Email, claims.Roles)
	if err != nil {
		return "", "", err
	}
	return access, refresh, nil
}

// SetAuthCookies emits both cookies per the cookie contract: HttpOnly,
// SameSite=Strict, Path=/, Secure and Domain from configuration.
func (s *Service) SetAuthCookies(w http.ResponseWriter, access, refresh string) {
	s.setCookie(w, AccessCookieName, access, time.Duration(s.cfg.TokenTTLSeconds)*time.Second)
	s.setCookie(w, RefreshCookieName, refresh, refreshTTL)
}

// ClearAuthCookies clears both cookies on logout (empty value, Max-Age=0).
func (s *Service) ClearAuthCookies(w http.ResponseWriter) {
	s.setCookie(w, AccessCookieName, "", -1*time.Second)
	s.setCookie(w, RefreshCookieName, "", -1*time.Second)
}

func (s *Service) setCookie(w http.ResponseWriter, name, value string, ttl time.Duration) {
	maxAge := int(ttl.Seconds())
	if value == "" {
		maxAge = -1 // net/http emits this as Max-Age=0
	}
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Domain:   s.cfg.CookieDomain,
		HttpOnly: true,
		Secure:   s.cfg.CookieSecure,
		SameSite: http.SameSiteStrictMode,
		MaxAge:   maxAge,
	})
}

// ExtractAccessToken implements the discovery order for the access-token
// slot: named cookie, then Authorization: Bearer header, then (for legacy
// endpoints only) the ?access_token= query parameter.
func ExtractAccessToken(r *http.Request, allowLegacyQueryParam bool) (string, bool) {
	if c, err := r.Cookie(AccessCookieName); err == nil && c.Value != "" {
		return c.Value, true
	}
	if auth := r.Header.Get("Authorization"); len(auth) > 7 && auth[:7] == "Bearer " {
		return auth[7:], true
	}
	if allowLegacyQueryParam {
		if tok := r.URL.Query().Get("access_token"); tok != "" {
			return tok, true
		}
	}
	return "", false
}

// ExtractRefreshToken implements the discovery order for the refresh-token
// slot: only the named cookie (no header or query-param fallback).
func ExtractRefreshToken(r *http.Request) (string, bool) {
	if c, err := r.Cookie(RefreshCookieName); err == nil && c.Value != "" {
		return c.Value, true
	}
	return "", false
}
