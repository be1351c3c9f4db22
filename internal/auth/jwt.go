// Classfeedback - Live Classroom Presentation Sync
// Copyright 2026 twistedtree83
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/twistedtree83/classfeedback

// Package auth issues and verifies the bearer tokens handed to teachers
// and students when they create or join a session.
package auth

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/hkdf"

	"github.com/twistedtree83/classfeedback/internal/config"
	"github.com/twistedtree83/classfeedback/internal/models"
)

// Roles carried in tokens. Requests without a token act as RoleAnonymous.
const (
	RoleTeacher   = "teacher"
	RoleStudent   = "student"
	RoleAnonymous = "anonymous"
)

const issuer = "classfeed"

// ErrInvalidToken is returned for any token that fails parsing or
// verification.
var ErrInvalidToken = errors.New("invalid token")

// Claims identify the bearer within one session.
type Claims struct {
	Role          string `json:"role"`
	SessionCode   string `json:"session_code"`
	ParticipantID string `json:"participant_id,omitempty"`
	Name          string `json:"name"`
	jwt.RegisteredClaims
}

// TokenManager issues and verifies HS256 tokens. Each role signs with its
// own key derived from the configured secret, so a student key can never
// produce a teacher token.
type TokenManager struct {
	keys map[string][]byte
	ttl  time.Duration
	now  func() time.Time
}

// NewTokenManager derives the per-role keys from cfg.JWTSecret.
func NewTokenManager(cfg *config.SecurityConfig) (*TokenManager, error) {
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required but was empty")
	}
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	m := &TokenManager{
		keys: make(map[string][]byte, 2),
		ttl:  ttl,
		now:  time.Now,
	}
	for _, role := range []string{RoleTeacher, RoleStudent} {
		key, err := deriveKey([]byte(cfg.JWTSecret), []byte("classfeed/jwt/"+role), 32)
		if err != nil {
			return nil, fmt.Errorf("derive %s key: %w", role, err)
		}
		m.keys[role] = key
	}
	return m, nil
}

func deriveKey(secret, info []byte, n int) ([]byte, error) {
	r := hkdf.New(sha256.New, secret, nil, info)
	key := make([]byte, n)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, err
	}
	return key, nil
}

// IssueTeacher returns a token for the teacher who created s.
func (m *TokenManager) IssueTeacher(s models.Session) (string, error) {
	return m.issue(&Claims{
		Role:        RoleTeacher,
		SessionCode: s.Code,
		Name:        s.TeacherName,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject: s.ID,
		},
	})
}

// IssueStudent returns a token for participant p. The token is valid
// before approval; handlers check the participant status where it
// matters.
func (m *TokenManager) IssueStudent(p models.Participant) (string, error) {
	return m.issue(&Claims{
		Role:          RoleStudent,
		SessionCode:   p.SessionCode,
		ParticipantID: p.ID,
		Name:          p.StudentName,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject: p.ID,
		},
	})
}

func (m *TokenManager) issue(c *Claims) (string, error) {
	key, ok := m.keys[c.Role]
	if !ok {
		return "", fmt.Errorf("no signing key for role %q", c.Role)
	}
	now := m.now()
	c.Issuer = issuer
	c.IssuedAt = jwt.NewNumericDate(now)
	c.NotBefore = jwt.NewNumericDate(now)
	c.ExpiresAt = jwt.NewNumericDate(now.Add(m.ttl))

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(key)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Validate verifies tokenString and returns its claims. The role claim
// selects the verification key.
func (m *TokenManager) Validate(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		c, ok := t.Claims.(*Claims)
		if !ok {
			return nil, fmt.Errorf("unexpected claims type %T", t.Claims)
		}
		key, ok := m.keys[c.Role]
		if !ok {
			return nil, fmt.Errorf("unknown role %q", c.Role)
		}
		return key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
