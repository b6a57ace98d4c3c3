package server

import (
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

const headerAuthorization = "Authorization"

func parseVerificationKey(s string) (ed25519.PublicKey, error) {
	if s == "" {
		return nil, errors.New("empty jwt verification key")
	}
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("jwt verification key: %w", err)
	}
	if len(b) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("jwt verification key: got %d bytes, want %d", len(b), ed25519.PublicKeySize)
	}
	return ed25519.PublicKey(b), nil
}

// ownerFromRequest returns the sub claim of the request's bearer token.
func ownerFromRequest(r *http.Request, verificationKey ed25519.PublicKey) (string, error) {
	if err := checkHeaderCountIsOne(r.Header, headerAuthorization); err != nil {
		return "", err
	}

	scheme, token, _ := strings.Cut(r.Header.Get(headerAuthorization), " ")
	if scheme == "" {
		return "", fmt.Errorf("invalid %s request header: no scheme", headerAuthorization)
	}
	if got, want := scheme, "Bearer"; !strings.EqualFold(got, want) {
		return "", fmt.Errorf("invalid %s request header: got unsupported scheme %q, want %q", headerAuthorization, got, want)
	}

	jwtToken, err := jwt.ParseWithClaims(
		token,
		&jwt.RegisteredClaims{},
		func(t *jwt.Token) (any, error) {
			return verificationKey, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodEdDSA.Alg()}),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return "", fmt.Errorf("invalid token: %w", err)
	}
	claims := jwtToken.Claims.(*jwt.RegisteredClaims)

	if claims.Subject == "" {
		return "", errors.New("empty sub token claim")
	}
	return claims.Subject, nil
}

func checkHeaderCountIsOne(header http.Header, key string) error {
	if got, want := len(header.Values(key)), 1; got != want {
		if got == 0 {
			return fmt.Errorf("missing %s request header", key)
		}
		return fmt.Errorf("multiple %s request headers", key)
	}
	return nil
}
