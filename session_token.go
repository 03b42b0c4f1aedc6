// session_token.go: signed bearer tokens for session resolution
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package appkit

import (
	stderrors "errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// sessionClaims is the JWT payload issued for a session: the registered
// claim set plus enough user identity to act on the token without a
// session lookup.
type sessionClaims struct {
	jwt.RegisteredClaims
	UserID   string   `json:"uid,omitempty"`
	Username string   `json:"username,omitempty"`
	Roles    []string `json:"roles,omitempty"`
	Locale   string   `json:"locale,omitempty"`
}

var errMissingSubject = stderrors.New("token has no subject claim")

// IssueToken signs a bearer token (HMAC-SHA256) for the session. The
// token's subject is the session ID; validity is bounded by TokenTTL
// independently of the session's own TTL.
func (sm *SessionManager) IssueToken(session *Session) (string, error) {
	if sm.closed.Load() {
		return "", NewSessionClosedError()
	}
	if sm.config.TokenSecret == "" {
		return "", NewConfigInvalidError("token_secret", "token secret is required to issue tokens")
	}
	if session == nil {
		return "", NewMissingUserError()
	}

	now := time.Now()
	user := session.User()
	claims := sessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    sm.config.TokenIssuer,
			Subject:   session.ID(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(sm.config.TokenTTL)),
		},
		UserID:   user.ID,
		Username: user.Username,
		Roles:    user.Roles,
		Locale:   user.Locale,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(sm.config.TokenSecret))
	if err != nil {
		return "", NewTokenInvalidError(err)
	}
	return signed, nil
}

// ResolveToken verifies a bearer token and returns the live session it
// refers to.
//
// Verification pins the signing method to HMAC and the issuer to the
// configured one. Expired tokens report ErrCodeTokenExpired; any other
// verification failure reports ErrCodeTokenInvalid. A valid token whose
// session has expired or been destroyed reports ErrCodeSessionNotFound.
func (sm *SessionManager) ResolveToken(tokenString string) (*Session, error) {
	if sm.closed.Load() {
		return nil, NewSessionClosedError()
	}
	if sm.config.TokenSecret == "" {
		return nil, NewConfigInvalidError("token_secret", "token secret is required to resolve tokens")
	}

	claims := &sessionClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims,
		func(t *jwt.Token) (interface{}, error) {
			return []byte(sm.config.TokenSecret), nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(sm.config.TokenIssuer),
	)
	if err != nil {
		if stderrors.Is(err, jwt.ErrTokenExpired) {
			return nil, NewTokenExpiredError()
		}
		return nil, NewTokenInvalidError(err)
	}

	if claims.Subject == "" {
		return nil, NewTokenInvalidError(errMissingSubject)
	}
	return sm.Get(claims.Subject)
}
