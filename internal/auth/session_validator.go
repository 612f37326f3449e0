package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	defaultSessionIssuer = "tauth"
	bearerPrefix         = "bearer "
)

var (
	ErrMissingSessionSigningKey = errors.New("session validator: signing key required")
	ErrMissingSessionCookieName = errors.New("session validator: cookie name required")
	ErrMissingSessionToken      = errors.New("session validator: token required")
	ErrInvalidSessionToken      = errors.New("session validator: invalid token")
	ErrExpiredSessionToken      = errors.New("session validator: token expired")
	ErrMissingSessionSubject    = errors.New("session validator: subject required")
)

// SessionClaims is the identity a TeamSync client presents on every REST call
// and websocket handshake. Subject and UserID must both be set; the profile
// fields seed the user's directory entry on first sight.
type SessionClaims struct {
	UserID          string   `json:"user_id"`
	UserEmail       string   `json:"user_email"`
	UserDisplayName string   `json:"user_display_name"`
	UserAvatarURL   string   `json:"user_avatar_url"`
	UserRoles       []string `json:"user_roles"`
	jwt.RegisteredClaims
}

// SessionValidatorConfig configures a SessionValidator. Issuer defaults to
// "tauth" and Clock to time.Now.
type SessionValidatorConfig struct {
	SigningSecret []byte
	Issuer        string
	CookieName    string
	Clock         func() time.Time
}

// SessionValidator authenticates members by their HS256 session token, sent
// either as a bearer header or in the session cookie.
type SessionValidator struct {
	signingSecret []byte
	issuer        string
	cookieName    string
	clock         func() time.Time
}

// NewSessionValidator requires a signing secret and a cookie name.
func NewSessionValidator(cfg SessionValidatorConfig) (*SessionValidator, error) {
	if len(cfg.SigningSecret) == 0 {
		return nil, ErrMissingSessionSigningKey
	}
	cookieName := strings.TrimSpace(cfg.CookieName)
	if cookieName == "" {
		return nil, ErrMissingSessionCookieName
	}
	validator := &SessionValidator{
		signingSecret: append([]byte(nil), cfg.SigningSecret...),
		issuer:        strings.TrimSpace(cfg.Issuer),
		cookieName:    cookieName,
		clock:         cfg.Clock,
	}
	if validator.issuer == "" {
		validator.issuer = defaultSessionIssuer
	}
	if validator.clock == nil {
		validator.clock = time.Now
	}
	return validator, nil
}

// ValidateRequest authenticates r. An Authorization header wins over the
// cookie, and a header that is not a bearer token is rejected outright.
func (v *SessionValidator) ValidateRequest(r *http.Request) (SessionClaims, error) {
	token, err := v.sessionToken(r)
	if err != nil {
		return SessionClaims{}, err
	}
	return v.ValidateToken(token)
}

func (v *SessionValidator) ValidateToken(tokenString string) (SessionClaims, error) {
	token := strings.TrimSpace(tokenString)
	if token == "" {
		return SessionClaims{}, ErrMissingSessionToken
	}
	claims := &SessionClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, v.signingKey,
		jwt.WithTimeFunc(v.clock),
		jwt.WithIssuer(v.issuer),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return SessionClaims{}, ErrExpiredSessionToken
	case err != nil:
		return SessionClaims{}, fmt.Errorf("%w: %v", ErrInvalidSessionToken, err)
	case parsed == nil || !parsed.Valid:
		return SessionClaims{}, ErrInvalidSessionToken
	}
	if strings.TrimSpace(claims.Subject) == "" || strings.TrimSpace(claims.UserID) == "" {
		return SessionClaims{}, ErrMissingSessionSubject
	}
	return *claims, nil
}

func (v *SessionValidator) signingKey(token *jwt.Token) (interface{}, error) {
	if token.Method.Alg() != jwt.SigningMethodHS256.Alg() {
		return nil, fmt.Errorf("%w: unexpected signing algorithm %s", ErrInvalidSessionToken, token.Method.Alg())
	}
	return v.signingSecret, nil
}

func (v *SessionValidator) sessionToken(r *http.Request) (string, error) {
	if r == nil {
		return "", ErrMissingSessionToken
	}
	if header := strings.TrimSpace(r.Header.Get("Authorization")); header != "" {
		if len(header) <= len(bearerPrefix) || !strings.EqualFold(header[:len(bearerPrefix)], bearerPrefix) {
			return "", ErrInvalidSessionToken
		}
		return header[len(bearerPrefix):], nil
	}
	cookie, err := r.Cookie(v.cookieName)
	if err != nil {
		return "", ErrMissingSessionToken
	}
	return cookie.Value, nil
}
