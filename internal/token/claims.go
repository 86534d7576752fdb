// Package token reads claims out of bearer tokens WITHOUT verifying their signature.
//
// The result is a ClaimsHint: good enough to namespace storage keys and to show the
// remaining session time, never good enough to authorize anything. Authorization is
// done by the server that issued the token.
package token

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

var ErrMalformedToken = errors.New("malformed token")

// identifierClaims are checked in order; the first one present wins.
var identifierClaims = []string{"id", "user_id", "sub", "email"}

// ClaimsHint is the unverified payload of a bearer token.
type ClaimsHint struct {
	claims jwtlib.MapClaims
}

var parser = jwtlib.NewParser(jwtlib.WithPaddingAllowed())

// Decode splits the token and parses its payload segment as JSON. The header
// and signature segments are not inspected.
func Decode(raw string) (*ClaimsHint, error) {
	raw = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(raw), "Bearer "))
	if raw == "" {
		return nil, fmt.Errorf("%w: empty", ErrMalformedToken)
	}
	parts := strings.Split(raw, ".")
	if len(parts) != 3 {
		return nil, fmt.Errorf("%w: expected 3 segments", ErrMalformedToken)
	}

	payload, err := parser.DecodeSegment(parts[1])
	if err != nil {
		return nil, errors.Join(ErrMalformedToken, err)
	}

	claims := jwtlib.MapClaims{}
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	if err := dec.Decode(&claims); err != nil {
		return nil, errors.Join(ErrMalformedToken, err)
	}
	return &ClaimsHint{claims: claims}, nil
}

// UserIdentifier returns the first of id, user_id, sub, email that carries a value.
func (c *ClaimsHint) UserIdentifier() (string, bool) {
	if c == nil {
		return "", false
	}
	for _, name := range identifierClaims {
		if v, ok := claimString(c.claims[name]); ok {
			return v, true
		}
	}
	return "", false
}

// ExpiresAt returns the exp claim, if present and numeric.
func (c *ClaimsHint) ExpiresAt() (time.Time, bool) {
	if c == nil {
		return time.Time{}, false
	}
	exp, err := c.claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}

// IssuedAt returns the iat claim, if present and numeric.
func (c *ClaimsHint) IssuedAt() (time.Time, bool) {
	if c == nil {
		return time.Time{}, false
	}
	iat, err := c.claims.GetIssuedAt()
	if err != nil || iat == nil {
		return time.Time{}, false
	}
	return iat.Time, true
}

// Expired reports whether exp lies at or before now. A missing exp counts as expired.
func (c *ClaimsHint) Expired(now time.Time) bool {
	exp, ok := c.ExpiresAt()
	if !ok {
		return true
	}
	return !now.Before(exp)
}

// UserIdentifier decodes raw and returns its owner hint.
func UserIdentifier(raw string) (string, bool) {
	hint, err := Decode(raw)
	if err != nil {
		return "", false
	}
	return hint.UserIdentifier()
}

// IsExpired decodes raw and checks exp against now. Malformed tokens are expired.
func IsExpired(raw string, now time.Time) bool {
	hint, err := Decode(raw)
	if err != nil {
		return true
	}
	return hint.Expired(now)
}

func claimString(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		if t == "" {
			return "", false
		}
		return t, true
	case json.Number:
		return t.String(), t.String() != ""
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case int64:
		return strconv.FormatInt(t, 10), true
	default:
		return "", false
	}
}
