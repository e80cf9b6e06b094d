package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/makkenzo/redeem-key-service/internal/config"
	"github.com/makkenzo/redeem-key-service/internal/ierr"
	"go.uber.org/zap"
)

const RoleAdmin = "admin"

// AdminClaims are carried by tokens that guard the management routes.
type AdminClaims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

type AuthService struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
	logger *zap.Logger
}

func NewAuthService(cfg *config.AuthConfig, logger *zap.Logger) (*AuthService, error) {
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("auth.jwtSecret is required")
	}
	return &AuthService{
		secret: []byte(cfg.JWTSecret),
		issuer: cfg.JWTIssuer,
		ttl:    cfg.TokenTTL,
		now:    time.Now,
		logger: logger.Named("AuthService"),
	}, nil
}

// IssueToken signs an admin token for subject. A non-positive ttl falls back
// to the configured token lifetime.
func (s *AuthService) IssueToken(subject string, ttl time.Duration) (string, error) {
	if subject == "" {
		return "", fmt.Errorf("%w: subject is required", ierr.ErrInvalidArgument)
	}
	if ttl <= 0 {
		ttl = s.ttl
	}

	now := s.now()
	claims := AdminClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    s.issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Role: RoleAdmin,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}

	s.logger.Info("Admin token issued", zap.String("subject", subject), zap.String("jti", claims.ID), zap.Duration("ttl", ttl))
	return signed, nil
}

func (s *AuthService) ValidateToken(ctx context.Context, rawToken string) (*AdminClaims, error) {
	s.logger.Debug("Attempting to validate admin token")

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}

	var claims AdminClaims
	_, err := jwt.ParseWithClaims(rawToken, &claims, func(t *jwt.Token) (any, error) {
		return s.secret, nil
	}, opts...)
	if err != nil {
		s.logger.Warn("Failed to verify admin token", zap.Error(err))
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: token expired", ierr.ErrInvalidToken)
		}
		return nil, fmt.Errorf("%w: %v", ierr.ErrInvalidToken, err)
	}

	if claims.Role != RoleAdmin {
		s.logger.Warn("Token lacks admin role", zap.String("subject", claims.Subject), zap.String("role", claims.Role))
		return nil, ierr.ErrForbidden
	}

	s.logger.Debug("Admin token validated", zap.String("subject", claims.Subject))
	return &claims, nil
}
