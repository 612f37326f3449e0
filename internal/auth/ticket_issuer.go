package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	defaultTicketTTL      = time.Minute
	defaultTicketIssuer   = "teamsync-api"
	defaultTicketAudience = "teamsync-realtime"
)

var (
	errMissingSigningSecret = errors.New("signing secret must be provided")
	errMissingSubjectClaim  = errors.New("subject claim must be provided")

	// ErrInvalidTicket is returned for tickets that are malformed, expired or signed by someone else.
	ErrInvalidTicket = errors.New("ticket issuer: invalid ticket")
)

// TicketIssuerConfig configures the realtime ticket issuer.
type TicketIssuerConfig struct {
	SigningSecret []byte
	Issuer        string
	Audience      string
	TicketTTL     time.Duration
	Clock         func() time.Time
}

// TicketIssuer mints short-lived JWTs that authenticate a websocket handshake
// for clients that cannot attach the session cookie.
type TicketIssuer struct {
	config TicketIssuerConfig
	clock  func() time.Time
}

// NewTicketIssuer constructs a TicketIssuer with sane defaults.
func NewTicketIssuer(cfg TicketIssuerConfig) (*TicketIssuer, error) {
	if len(cfg.SigningSecret) == 0 {
		return nil, errMissingSigningSecret
	}
	ttl := cfg.TicketTTL
	if ttl <= 0 {
		ttl = defaultTicketTTL
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	issuer := strings.TrimSpace(cfg.Issuer)
	if issuer == "" {
		issuer = defaultTicketIssuer
	}
	audience := strings.TrimSpace(cfg.Audience)
	if audience == "" {
		audience = defaultTicketAudience
	}
	return &TicketIssuer{
		config: TicketIssuerConfig{
			SigningSecret: append([]byte(nil), cfg.SigningSecret...),
			Issuer:        issuer,
			Audience:      audience,
			TicketTTL:     ttl,
			Clock:         clock,
		},
		clock: clock,
	}, nil
}

// Issue produces a signed ticket for userID and its expiry (seconds).
func (i *TicketIssuer) Issue(_ context.Context, userID string) (string, int64, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", 0, errMissingSubjectClaim
	}

	now := i.clock().UTC()
	expiresAt := now.Add(i.config.TicketTTL).UTC()

	registered := jwt.RegisteredClaims{
		Subject:   userID,
		Issuer:    i.config.Issuer,
		Audience:  []string{i.config.Audience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, registered)
	signed, err := token.SignedString(i.config.SigningSecret)
	if err != nil {
		return "", 0, err
	}

	return signed, int64(expiresAt.Sub(now).Seconds()), nil
}

// Validate checks the ticket and returns the user id it was issued for.
func (i *TicketIssuer) Validate(ticket string) (string, error) {
	ticket = strings.TrimSpace(ticket)
	if ticket == "" {
		return "", ErrInvalidTicket
	}
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(
		ticket,
		claims,
		func(token *jwt.Token) (interface{}, error) {
			if token.Method.Alg() != jwt.SigningMethodHS256.Alg() {
				return nil, fmt.Errorf("unexpected signing algorithm: %s", token.Method.Alg())
			}
			return i.config.SigningSecret, nil
		},
		jwt.WithAudience(i.config.Audience),
		jwt.WithIssuer(i.config.Issuer),
		jwt.WithTimeFunc(i.clock),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidTicket, err)
	}
	if claims.Subject == "" {
		return "", errMissingSubjectClaim
	}
	return claims.Subject, nil
}
