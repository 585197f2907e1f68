// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package posync

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/fyliacare/warehousepos/internal/auth"
	"github.com/golang-jwt/jwt/v5"
)

// TerminalAuthenticator extracts the terminal identity from an HTTP request
type TerminalAuthenticator interface {
	Identify(r *http.Request) (TerminalIdentity, error)
}

// JWTAuth issues and checks HS256 terminal tokens
type JWTAuth struct {
	secret []byte
	issuer string
}

// NewJWTAuth creates a new JWT authenticator
func NewJWTAuth(secret string) *JWTAuth {
	return &JWTAuth{secret: []byte(secret), issuer: "warehousepos"}
}

// JWTClaims are the claims of a terminal token. The tenant is the standard 'sub' claim.
type JWTClaims struct {
	StoreID  string `json:"sid"`
	DeviceID string `json:"did"`
	jwt.RegisteredClaims
}

// identity checks that every part of the terminal identity is present
func (c *JWTClaims) identity() (TerminalIdentity, error) {
	switch {
	case c.Subject == "":
		return TerminalIdentity{}, errors.New("missing sub (tenant ID) in token")
	case c.StoreID == "":
		return TerminalIdentity{}, errors.New("missing sid (store ID) in token")
	case c.DeviceID == "":
		return TerminalIdentity{}, errors.New("missing did (device ID) in token")
	}
	return TerminalIdentity{TenantID: c.Subject, StoreID: c.StoreID, DeviceID: c.DeviceID}, nil
}

// GenerateToken signs a token for one terminal
func (j *JWTAuth) GenerateToken(tenantID, storeID, deviceID string, expiration time.Duration) (string, error) {
	now := time.Now()
	claims := &JWTClaims{
		StoreID:  storeID,
		DeviceID: deviceID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   tenantID,
			Issuer:    j.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(expiration)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(j.secret)
}

// ValidateToken parses and verifies a token, requiring tenant, store and device claims
func (j *JWTAuth) ValidateToken(tokenString string) (*JWTClaims, error) {
	claims := &JWTClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
		return j.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	if _, err := claims.identity(); err != nil {
		return nil, err
	}
	return claims, nil
}

// bearerToken returns the token of an "Authorization: Bearer <token>" header
func bearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", errors.New("authorization header required")
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || scheme != "Bearer" || token == "" {
		return "", errors.New("bearer token required")
	}
	return token, nil
}

// Identify returns the identity set by Middleware, or validates the bearer token itself
func (j *JWTAuth) Identify(r *http.Request) (TerminalIdentity, error) {
	if tenant, store, device, ok := auth.Terminal(r.Context()); ok {
		return TerminalIdentity{TenantID: tenant, StoreID: store, DeviceID: device}, nil
	}
	token, err := bearerToken(r)
	if err != nil {
		return TerminalIdentity{}, err
	}
	claims, err := j.ValidateToken(token)
	if err != nil {
		return TerminalIdentity{}, fmt.Errorf("invalid token: %w", err)
	}
	return claims.identity()
}

// Middleware rejects requests without a valid terminal token and stores the identity in
// the request context
func (j *JWTAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := bearerToken(r)
		if err != nil {
			writeUnauthorized(w, err.Error())
			return
		}
		claims, err := j.ValidateToken(token)
		if err != nil {
			prefix := token
			if len(prefix) > 20 {
				prefix = prefix[:20]
			}
			slog.Warn("JWT validation failed", "error", err, "token_prefix", prefix, "path", r.URL.Path)
			writeUnauthorized(w, "invalid token")
			return
		}
		ctx := auth.SetTerminal(r.Context(), claims.Subject, claims.StoreID, claims.DeviceID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func writeUnauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(ErrorResponse{Error: "authentication_failed", Message: message})
}
