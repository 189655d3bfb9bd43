package service

import (
	"fmt"
	"time"

	"github.com/evetabi/managedwealth/internal/domain"
	"github.com/golang-jwt/jwt/v5"
)

// Token types carried in the "type" claim.
const (
	TokenTypeWallet = "wallet"
	TokenTypeAdmin  = "admin"
)

// ──────────────────────────────────────────────────────────────────────────────
// JWT claims
// ──────────────────────────────────────────────────────────────────────────────

// AppClaims extends jwt.RegisteredClaims with application-specific fields.
// For wallet tokens the subject is the wallet address; for admin tokens it is
// the operator id.
type AppClaims struct {
	jwt.RegisteredClaims
	Role      domain.AdminRole `json:"role,omitempty"`
	TokenType string           `json:"type"`
}

// ──────────────────────────────────────────────────────────────────────────────
// AuthService
// ──────────────────────────────────────────────────────────────────────────────

// AuthService verifies identity tokens. Wallet tokens are issued by the
// wallet-signature layer and admin tokens by the operator console; both are
// HS256 with separate secrets.
type AuthService struct {
	walletSecret []byte
	adminSecret  []byte
}

// NewAuthService creates an AuthService. An empty adminSecret disables admin
// tokens.
func NewAuthService(walletSecret, adminSecret string) *AuthService {
	return &AuthService{walletSecret: []byte(walletSecret), adminSecret: []byte(adminSecret)}
}

// ParseWalletToken verifies a wallet token and returns the normalized wallet
// address.
func (s *AuthService) ParseWalletToken(tokenString string) (string, error) {
	claims, err := parse(tokenString, s.walletSecret)
	if err != nil {
		return "", err
	}
	if claims.TokenType != TokenTypeWallet {
		return "", fmt.Errorf("auth_service.ParseWalletToken: type %q: %w", claims.TokenType, domain.ErrTokenInvalid)
	}
	wallet := domain.NormalizeWallet(claims.Subject)
	if wallet == "" {
		return "", fmt.Errorf("auth_service.ParseWalletToken: empty subject: %w", domain.ErrTokenInvalid)
	}
	return wallet, nil
}

// ParseAdminToken verifies a back-office token and its role.
func (s *AuthService) ParseAdminToken(tokenString string) (*AppClaims, error) {
	if len(s.adminSecret) == 0 {
		return nil, fmt.Errorf("auth_service.ParseAdminToken: admin tokens disabled: %w", domain.ErrTokenInvalid)
	}
	claims, err := parse(tokenString, s.adminSecret)
	if err != nil {
		return nil, err
	}
	if claims.TokenType != TokenTypeAdmin || !claims.Role.Valid() {
		return nil, fmt.Errorf("auth_service.ParseAdminToken: type %q role %q: %w",
			claims.TokenType, claims.Role, domain.ErrTokenInvalid)
	}
	return claims, nil
}

// IssueWalletToken signs a wallet token. Used by tests and local tooling.
func (s *AuthService) IssueWalletToken(wallet string, ttl time.Duration) (string, error) {
	return issue(s.walletSecret, AppClaims{
		RegisteredClaims: registered(domain.NormalizeWallet(wallet), ttl),
		TokenType:        TokenTypeWallet,
	})
}

// IssueAdminToken signs a back-office token. Used by tests and local tooling.
func (s *AuthService) IssueAdminToken(subject string, role domain.AdminRole, ttl time.Duration) (string, error) {
	return issue(s.adminSecret, AppClaims{
		RegisteredClaims: registered(subject, ttl),
		Role:             role,
		TokenType:        TokenTypeAdmin,
	})
}

func registered(subject string, ttl time.Duration) jwt.RegisteredClaims {
	now := time.Now().UTC()
	return jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
}

func issue(secret []byte, claims AppClaims) (string, error) {
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("auth_service.issue: %w", err)
	}
	return signed, nil
}

func parse(tokenString string, secret []byte) (*AppClaims, error) {
	tok, err := jwt.ParseWithClaims(tokenString, &AppClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("auth_service.parse: %v: %w", err, domain.ErrTokenInvalid)
	}
	claims, ok := tok.Claims.(*AppClaims)
	if !ok || !tok.Valid {
		return nil, fmt.Errorf("auth_service.parse: %w", domain.ErrTokenInvalid)
	}
	return claims, nil
}
