// Package auth issues and validates the HS256 bearer tokens collaborator
// services use against the trust API.
package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	defaultTokenTTL = 30 * time.Minute
)

var (
	errMissingSigningSecret   = errors.New("signing secret must be provided")
	errMissingProvisioningKey = errors.New("provisioning key must be provided")
	errMissingServiceName     = errors.New("service name must be provided")
	// ErrInvalidProvisioningKey indicates the collaborator presented the wrong key.
	ErrInvalidProvisioningKey = errors.New("invalid provisioning key")
)

// ServiceTokenConfig configures the collaborator token manager.
type ServiceTokenConfig struct {
	SigningSecret   []byte
	ProvisioningKey string
	Issuer          string
	Audience        string
	TokenTTL        time.Duration
	Clock           func() time.Time
}

// ServiceTokenManager exchanges a shared provisioning key for short-lived
// service JWTs and validates them on every protected request.
type ServiceTokenManager struct {
	config ServiceTokenConfig
	clock  func() time.Time
}

// NewServiceTokenManager constructs a ServiceTokenManager with sane defaults.
func NewServiceTokenManager(cfg ServiceTokenConfig) *ServiceTokenManager {
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &ServiceTokenManager{
		config: ServiceTokenConfig{
			SigningSecret:   cfg.SigningSecret,
			ProvisioningKey: cfg.ProvisioningKey,
			Issuer:          cfg.Issuer,
			Audience:        cfg.Audience,
			TokenTTL:        ttl,
			Clock:           clock,
		},
		clock: clock,
	}
}

// IssueServiceToken verifies the provisioning key and produces a signed JWT
// plus its expiry (seconds) for the named collaborator service.
func (m *ServiceTokenManager) IssueServiceToken(_ context.Context, serviceName, provisioningKey string) (string, int64, error) {
	if len(m.config.SigningSecret) == 0 {
		return "", 0, errMissingSigningSecret
	}
	if m.config.ProvisioningKey == "" {
		return "", 0, errMissingProvisioningKey
	}
	if strings.TrimSpace(serviceName) == "" {
		return "", 0, errMissingServiceName
	}
	if subtle.ConstantTimeCompare([]byte(provisioningKey), []byte(m.config.ProvisioningKey)) != 1 {
		return "", 0, ErrInvalidProvisioningKey
	}

	now := m.clock().UTC()
	expiresAt := now.Add(m.config.TokenTTL).UTC()

	registered := jwt.RegisteredClaims{
		Subject:   strings.TrimSpace(serviceName),
		Issuer:    m.config.Issuer,
		Audience:  []string{m.config.Audience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, registered)
	signed, err := token.SignedString(m.config.SigningSecret)
	if err != nil {
		return "", 0, err
	}

	return signed, int64(expiresAt.Sub(now).Seconds()), nil
}

// ValidateToken ensures the service JWT is well formed and returns the
// collaborator service name.
func (m *ServiceTokenManager) ValidateToken(tokenString string) (string, error) {
	if len(m.config.SigningSecret) == 0 {
		return "", errMissingSigningSecret
	}

	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(
		tokenString,
		claims,
		func(token *jwt.Token) (interface{}, error) {
			if token.Method.Alg() != jwt.SigningMethodHS256.Alg() {
				return nil, fmt.Errorf("unexpected signing algorithm: %s", token.Method.Alg())
			}
			return m.config.SigningSecret, nil
		},
		jwt.WithAudience(m.config.Audience),
		jwt.WithIssuer(m.config.Issuer),
		jwt.WithTimeFunc(m.clock),
	)
	if err != nil {
		return "", err
	}
	if claims.Subject == "" {
		return "", errMissingServiceName
	}
	return claims.Subject, nil
}
