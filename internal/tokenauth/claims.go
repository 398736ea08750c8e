// Package tokenauth issues and validates the two interchangeable stateless
// bearer-token formats over a common claim shape, and manages the
// companion cookie contract.
package tokenauth

// Claims is the shape shared by both token formats.
type Claims struct {
	Subject  string   `json:"sub"`
	Email    string   `json:"email"`
	Roles    []string `json:"roles"`
	Issuer   string   `json:"iss"`
	Audience string   `json:"aud"`
	IssuedAt int64    `json:"iat"` // epoch seconds
	Expiry   int64    `json:"exp"` // epoch seconds
}

// HasRole reports whether roles contains role.
func (c Claims) HasRole(role string) bool {
	for _, r := range c.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// format is implemented by each of the two token formats.
type format interface {
	issue(c Claims) (string, error)
	validate(token string, ignoreExpiry bool) (Claims, error)
}
