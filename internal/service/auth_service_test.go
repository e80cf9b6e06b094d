package service

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/makkenzo/redeem-key-service/internal/config"
	"github.com/makkenzo/redeem-key-service/internal/ierr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestAuthService(t *testing.T) *AuthService {
	t.Helper()
	svc, err := NewAuthService(&config.AuthConfig{
		JWTSecret: "test-secret",
		JWTIssuer: "redeem-key-service",
		TokenTTL:  time.Hour,
	}, zap.NewNop())
	require.NoError(t, err)
	return svc
}

func TestAuthService_IssueAndValidate(t *testing.T) {
	svc := newTestAuthService(t)

	token, err := svc.IssueToken("ops", 0)
	require.NoError(t, err)

	claims, err := svc.ValidateToken(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "ops", claims.Subject)
	assert.Equal(t, RoleAdmin, claims.Role)
	assert.NotEmpty(t, claims.ID)
}

func TestAuthService_RequiresSecret(t *testing.T) {
	_, err := NewAuthService(&config.AuthConfig{}, zap.NewNop())
	assert.Error(t, err)
}

func TestAuthService_ExpiredToken(t *testing.T) {
	svc := newTestAuthService(t)

	issuedAt := time.Now()
	svc.now = func() time.Time { return issuedAt }
	token, err := svc.IssueToken("ops", time.Minute)
	require.NoError(t, err)

	svc.now = func() time.Time { return issuedAt.Add(2 * time.Minute) }
	_, err = svc.ValidateToken(context.Background(), token)
	assert.ErrorIs(t, err, ierr.ErrInvalidToken)
}

func TestAuthService_RejectsForeignTokens(t *testing.T) {
	svc := newTestAuthService(t)
	exp := jwt.NewNumericDate(time.Now().Add(time.Hour))

	tests := []struct {
		name    string
		token   func() string
		wantErr error
	}{
		{
			name: "wrong secret",
			token: func() string {
				s, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, AdminClaims{
					RegisteredClaims: jwt.RegisteredClaims{Issuer: "redeem-key-service", ExpiresAt: exp},
					Role:             RoleAdmin,
				}).SignedString([]byte("other"))
				return s
			},
			wantErr: ierr.ErrInvalidToken,
		},
		{
			name: "wrong issuer",
			token: func() string {
				s, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, AdminClaims{
					RegisteredClaims: jwt.RegisteredClaims{Issuer: "someone-else", ExpiresAt: exp},
					Role:             RoleAdmin,
				}).SignedString([]byte("test-secret"))
				return s
			},
			wantErr: ierr.ErrInvalidToken,
		},
		{
			name: "wrong algorithm",
			token: func() string {
				s, _ := jwt.NewWithClaims(jwt.SigningMethodHS512, AdminClaims{
					RegisteredClaims: jwt.RegisteredClaims{Issuer: "redeem-key-service", ExpiresAt: exp},
					Role:             RoleAdmin,
				}).SignedString([]byte("test-secret"))
				return s
			},
			wantErr: ierr.ErrInvalidToken,
		},
		{
			name: "missing expiry",
			token: func() string {
				s, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, AdminClaims{
					RegisteredClaims: jwt.RegisteredClaims{Issuer: "redeem-key-service"},
					Role:             RoleAdmin,
				}).SignedString([]byte("test-secret"))
				return s
			},
			wantErr: ierr.ErrInvalidToken,
		},
		{
			name: "not an admin",
			token: func() string {
				s, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, AdminClaims{
					RegisteredClaims: jwt.RegisteredClaims{Issuer: "redeem-key-service", ExpiresAt: exp},
					Role:             "viewer",
				}).SignedString([]byte("test-secret"))
				return s
			},
			wantErr: ierr.ErrForbidden,
		},
		{
			name:    "garbage",
			token:   func() string { return "not-a-jwt" },
			wantErr: ierr.ErrInvalidToken,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.ValidateToken(context.Background(), tt.token())
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}
