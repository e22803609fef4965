package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// DefaultUserTokenTTL is how long a shopper session token stays valid.
	DefaultUserTokenTTL = 7 * 24 * time.Hour
	// DefaultAdminTokenTTL is how long a staff session token stays valid.
	DefaultAdminTokenTTL = 24 * time.Hour
)

var (
	// ErrTokenExpired signals that the presented token is past its expiry.
	ErrTokenExpired = errors.New("auth: token expired")
	// ErrTokenInvalid signals that the presented token failed validation.
	ErrTokenInvalid = errors.New("auth: token invalid")
)

// Claims is the JWT payload carried by API session tokens.
type Claims struct {
	Role  string `json:"role"`
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// TokenIssuer mints signed session tokens for authenticated principals.
type TokenIssuer struct {
	secret   []byte
	issuer   string
	userTTL  time.Duration
	adminTTL time.Duration
	clock    func() time.Time
}

// TokenIssuerConfig configures a TokenIssuer.
type TokenIssuerConfig struct {
	Secret   string
	Issuer   string
	UserTTL  time.Duration
	AdminTTL time.Duration
	Clock    func() time.Time
}

// NewTokenIssuer constructs a TokenIssuer signing with HMAC-SHA256.
func NewTokenIssuer(cfg TokenIssuerConfig) (*TokenIssuer, error) {
	secret := strings.TrimSpace(cfg.Secret)
	if secret == "" {
		return nil, errors.New("auth: signing secret is required")
	}

	userTTL := cfg.UserTTL
	if userTTL <= 0 {
		userTTL = DefaultUserTokenTTL
	}
	adminTTL := cfg.AdminTTL
	if adminTTL <= 0 {
		adminTTL = DefaultAdminTokenTTL
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	return &TokenIssuer{
		secret:   []byte(secret),
		issuer:   strings.TrimSpace(cfg.Issuer),
		userTTL:  userTTL,
		adminTTL: adminTTL,
		clock:    clock,
	}, nil
}

// Issue mints a signed token for the given subject/role. Admin roles receive
// the shorter staff TTL.
func (t *TokenIssuer) Issue(subject, email, role string) (string, time.Time, error) {
	if t == nil {
		return "", time.Time{}, errors.New("auth: token issuer is nil")
	}
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return "", time.Time{}, errors.New("auth: token subject is required")
	}
	role = strings.ToLower(strings.TrimSpace(role))
	if role == "" {
		role = RoleUser
	}

	ttl := t.userTTL
	if role == RoleAdmin || role == RoleSuperAdmin {
		ttl = t.adminTTL
	}

	now := t.clock().UTC()
	expiresAt := now.Add(ttl)
	claims := Claims{
		Role:  role,
		Email: strings.TrimSpace(email),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    t.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// Verify parses and validates a signed token, returning the identity it carries.
func (t *TokenIssuer) Verify(tokenStr string) (*Identity, error) {
	if t == nil {
		return nil, ErrTokenInvalid
	}

	claims := &Claims{}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(t.clock),
	)
	_, err := parser.ParseWithClaims(tokenStr, claims, func(*jwt.Token) (interface{}, error) {
		return t.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}

	subject := strings.TrimSpace(claims.Subject)
	if subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrTokenInvalid)
	}

	role := strings.ToLower(strings.TrimSpace(claims.Role))
	roles := []string{RoleUser}
	if role != "" {
		roles = []string{role}
	}

	return &Identity{
		UserID: subject,
		Email:  claims.Email,
		Roles:  roles,
	}, nil
}
