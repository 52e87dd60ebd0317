// Package auth checks the credential a client presents on the upgrade request.
package auth

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
)

var (
	ErrUnauthorized   = errors.New("auth: unauthorized")
	ErrMissingBearer  = errors.New("auth: missing bearer token")
	ErrMalformedToken = errors.New("auth: malformed authorization header")
)

const bearerPrefix = "Bearer "

// Validator validates an authentication token.
type Validator interface {
	Validate(token string) error
}

// StaticToken accepts exactly one shared token.
type StaticToken struct {
	Token string
}

func (s StaticToken) Validate(token string) error {
	if s.Token == "" {
		return ErrUnauthorized
	}
	if subtle.ConstantTimeCompare([]byte(s.Token), []byte(token)) != 1 {
		return ErrUnauthorized
	}
	return nil
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", ErrMissingBearer
	}
	if len(header) < len(bearerPrefix) || !strings.EqualFold(header[:len(bearerPrefix)], bearerPrefix) {
		return "", ErrMalformedToken
	}
	token := strings.TrimSpace(header[len(bearerPrefix):])
	if token == "" {
		return "", ErrMalformedToken
	}
	return token, nil
}

// SetBearer writes the Authorization header for token; empty tokens are skipped.
func SetBearer(h http.Header, token string) {
	if strings.TrimSpace(token) == "" {
		return
	}
	h.Set("Authorization", bearerPrefix+token)
}

// CheckRequest validates the bearer token carried by r. A nil validator admits all.
func CheckRequest(v Validator, r *http.Request) error {
	if v == nil {
		return nil
	}
	token, err := BearerToken(r.Header.Get("Authorization"))
	if err != nil {
		return errors.Join(ErrUnauthorized, err)
	}
	return v.Validate(token)
}
