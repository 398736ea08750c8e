package tokenauth

import (
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// defaultInsecureKey is the built-in fallback signing key. Using it is
// logged as insecure at startup; operators should always configure either
// an explicit local key or a static access token.
var defaultInsecureKey = []byte("quoteflow-default-insecure-signing-key")

// jwtClaims adapts Claims to jwt.Claims via jwt.RegisteredClaims.
type jwtClaims struct {
	Email string   `json:"email"`
	Roles []string `json:"roles"`
	jwt.RegisteredClaims
}

// hmacFormat implements Format A: a three-segment HS256 compact token.
type hmacFormat struct {
	key               []byte
	issuer            string
	audience          string
	staticAccessToken string
}

func newHMACFormat(issuer, audience, localKeyHex, staticAccessToken string, logger *slog.Logger) (*hmacFormat, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var key []byte
	switch {
	case localKeyHex != "":
		decoded, err := hex.DecodeString(localKeyHex)
		if err != nil {
			return nil, fmt.Errorf("tokenauth: invalid hmac key hex: %w", err)
		}
		key = decoded
	case staticAccessToken != "":
		key = []byte(staticAccessToken)
	default:
		logger.Warn("tokenauth: no HMAC signing key configured, using built-in default key (INSECURE)")
		key = defaultInsecureKey
	}

	return &hmacFormat{
		key:               key,
		issuer:            issuer,
		audience:          audience,
		staticAccessToken: staticAccessToken,
	}, nil
}

func (f *hmacFormat) issue(c Claims) (string, error) {
	claims := jwtClaims{
		Email: c.Email,
		Roles: c.Roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   c.Subject,
			Issuer:    c.Issuer,
			Audience:  jwt.ClaimStrings{c.Audience},
			IssuedAt:  jwt.NewNumericDate(time.Unix(c.IssuedAt, 0)),
			ExpiresAt: jwt.NewNumericDate(time.Unix(c.Expiry, 0)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(f.key)
}

func (f *hmacFormat) validate(tokenString string, ignoreExpiry bool) (Claims, error) {
	parserOpts := []jwt.ParserOption{}
	if ignoreExpiry {
		parserOpts = append(parserOpts, jwt.WithoutClaimsValidation())
	}

	parsed, err := jwt.ParseWithClaims(tokenString, &jwtClaims{}, func(t *jwt.Token) (interface{}, error) {
		return f.key, nil
	}, parserOpts...)

	if err == nil && parsed.Valid {
		claims := parsed.Claims.(*jwtClaims)
		out := Claims{
			Subject:  claims.Subject,
			Email:    claims.Email,
			Roles:    claims.Roles,
			Issuer:   claims.Issuer,
			IssuedAt: claims.IssuedAt.Unix(),
			Expiry:   claims.ExpiresAt.Unix(),
		}
		if len(claims.Audience) > 0 {
			out.Audience = claims.Audience[0]
		}
		if out.Issuer != f.issuer || out.Audience != f.audience {
			return Claims{}, ErrTokenInvalid
		}
		return out, nil
	}

	// Fallback: a non-empty configured static access token that matches the
	// presented bearer grants a synthetic admin claim.
	if f.staticAccessToken != "" && subtle.ConstantTimeCompare([]byte(tokenString), []byte(f.staticAccessToken)) == 1 {
		now := time.Now()
		return Claims{
			Subject:  "access",
			Roles:    []string{"admin"},
			Issuer:   f.issuer,
			Audience: f.audience,
			IssuedAt: now.Unix(),
			Expiry:   now.Add(24 * time.Hour).Unix(),
		}, nil
	}

	return Claims{}, ErrTokenInvalid
}
