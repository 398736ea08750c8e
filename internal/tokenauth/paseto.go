package tokenauth

import (
	"encoding/hex"
	"fmt"
	"time"

	"github.com/aidantwoods/go-paseto"
)

// pasetoFormat implements Format B: PASETO v4.local with a symmetric key
// derived from the configured 64-hex string.
type pasetoFormat struct {
	key      paseto.V4SymmetricKey
	issuer   string
	audience string
}

func newPasetoFormat(issuer, audience, keyHex string) (*pasetoFormat, error) {
	raw, err := hex.DecodeString(keyHex)
	if err != nil {
		return nil, fmt.Errorf("tokenauth: invalid paseto key hex: %w", err)
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("tokenauth: paseto key must decode to 32 bytes, got %d", len(raw))
	}
	key, err := paseto.V4SymmetricKeyFromBytes(raw)
	if err != nil {
		return nil, fmt.Errorf("tokenauth: build paseto key: %w", err)
	}
	return &pasetoFormat{key: key, issuer: issuer, audience: audience}, nil
}

func (f *pasetoFormat) issue(c Claims) (string, error) {
	token := paseto.NewToken()
	token.SetIssuer(c.Issuer)
	token.SetAudience(c.Audience)
	token.SetSubject(c.Subject)
	token.SetIssuedAt(time.Unix(c.IssuedAt, 0))
	token.SetExpiration(time.Unix(c.Expiry, 0))
	if err := token.Set("email", c.Email); err != nil {
		return "", fmt.Errorf("tokenauth: set paseto email claim: %w", err)
	}
	if err := token.Set("roles", c.Roles); err != nil {
		return "", fmt.Errorf("tokenauth: set paseto roles claim: %w", err)
	}

	return token.V4Encrypt(f.key, nil), nil
}

func (f *pasetoFormat) validate(tokenString string, ignoreExpiry bool) (Claims, error) {
	parser := paseto.NewParser()
	if ignoreExpiry {
		parser = paseto.NewParserWithoutExpiryCheck()
	}

	parsed, err := parser.ParseV4Local(f.key, tokenString, nil)
	if err != nil {
		return Claims{}, ErrTokenInvalid
	}

	var out Claims
	if sub, err := parsed.GetSubject(); err == nil {
		out.Subject = sub
	}
	if iss, err := parsed.GetIssuer(); err == nil {
		out.Issuer = iss
	}
	if aud, err := parsed.GetAudience(); err == nil {
		out.Audience = aud
	}
	if iat, err := parsed.GetIssuedAt(); err == nil {
		out.IssuedAt = iat.Unix()
	}
	if exp, err := parsed.GetExpiration(); err == nil {
		out.Expiry = exp.Unix()
	}
	var email string
	if err := parsed.Get("email", &email); err == nil {
		out.Email = email
	}
	var roles []string
	if err := parsed.Get("roles", &roles); err == nil {
		out.Roles = roles
	}

	if out.Issuer != f.issuer || out.Audience != f.audience {
		return Claims{}, ErrTokenInvalid
	}
	return out, nil
}
