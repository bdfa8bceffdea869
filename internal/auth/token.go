// Package auth issues and verifies the short-lived session credentials a
// client presents during websocket connection negotiation.
package auth

import (
	"errors"
	"strings"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
)

// ProtocolPrefix is the subprotocol namespace carrying the session credential,
// as in "access_token.<jwt>".
const ProtocolPrefix = "access_token."

// ErrUnauthorized is returned for every validation failure: missing header,
// missing credential, bad signature, expired token. Callers must not be able
// to tell which check failed.
var ErrUnauthorized = errors.New("unauthorized")

// IssueToken creates a signed session credential valid for ttl from now.
// The credential carries no identity claims; it only proves recent
// authorization by the holder of the signing secret.
func IssueToken(secret string, ttl time.Duration, now time.Time) (string, error) {
	sig, err := jose.NewSigner(jose.SigningKey{Algorithm: jose.HS256, Key: []byte(secret)},
		(&jose.SignerOptions{}).WithType("JWT"))
	if err != nil {
		return "", err
	}

	cl := jwt.Claims{
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		Expiry:    jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.Signed(sig).Claims(cl).Serialize()
}

// ValidateProtocolHeader scans the raw Sec-WebSocket-Protocol header value for
// the first "access_token.<jwt>" entry and verifies the credential against
// secret at the given time. On success it returns the full matched protocol
// token so the caller can echo it back in the upgrade response. Only the first
// matching entry is considered; any failure yields ErrUnauthorized.
func ValidateProtocolHeader(header, secret string, now time.Time) (string, error) {
	if header == "" {
		return "", ErrUnauthorized
	}

	for _, proto := range strings.Split(header, ",") {
		proto = strings.TrimSpace(proto)
		if !strings.HasPrefix(proto, ProtocolPrefix) {
			continue
		}
		if err := verifyToken(strings.TrimPrefix(proto, ProtocolPrefix), secret, now); err != nil {
			return "", ErrUnauthorized
		}
		return proto, nil
	}

	return "", ErrUnauthorized
}

func verifyToken(raw, secret string, now time.Time) error {
	tok, err := jwt.ParseSigned(raw, []jose.SignatureAlgorithm{jose.HS256})
	if err != nil {
		return err
	}

	cl := jwt.Claims{}
	if err := tok.Claims([]byte(secret), &cl); err != nil {
		return err
	}

	return cl.Validate(jwt.Expected{Time: now})
}
