package auth

import (
	"context"
	"strings"
	"time"

	"github.com/dgrijalva/jwt-go"

	"lifeline/pkg/interfaces"
	"lifeline/pkg/types"
)

// Claims represents the authorization claims transmitted via a JWT.
// Subject carries the principal ID; Role is informational - the verifier
// always re-resolves the principal against the directory so a stale role
// claim can never widen access
type Claims struct {
	jwt.StandardClaims
	Role string `json:"role,omitempty"`
}

// Service issues and verifies bearer credentials against the user directory
type Service struct {
	secret    []byte
	tokenTTL  time.Duration
	directory interfaces.Directory
}

// NewService creates a credential service
func NewService(secret []byte, tokenTTL time.Duration, directory interfaces.Directory) *Service {
	return &Service{
		secret:    secret,
		tokenTTL:  tokenTTL,
		directory: directory,
	}
}

// GenerateToken generates a signed JWT representing the principal.
func (s *Service) GenerateToken(principal *types.Principal) (string, error) {
	now := time.Now()
	claims := &Claims{
		StandardClaims: jwt.StandardClaims{
			Issuer:    "lifeline",
			Subject:   principal.ID,
			IssuedAt:  now.Unix(),
			ExpiresAt: now.Add(s.tokenTTL).Unix(),
		},
		Role: principal.Role,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	ss, err := token.SignedString(s.secret)
	if err != nil {
		return "", ErrTokenSigning
	}
	return ss, nil
}

// VerifyToken validates signature and expiry, then resolves the principal.
// FUNCTIONAL DISCOVERY: Directory lookup after signature check means a
// deleted account is refused even while its token is still within TTL
func (s *Service) VerifyToken(ctx context.Context, tokenString string) (*types.Principal, error) {
	if tokenString == "" {
		return nil, ErrUnauthenticated
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		// TECHNICAL DISCOVERY: Reject tokens signed with an unexpected method -
		// accepting "none" or RS256 here would bypass the shared secret entirely
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidCredential
		}
		return s.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, ErrInvalidCredential
	}

	principal, err := s.directory.GetUser(ctx, claims.Subject)
	if err != nil {
		if err == interfaces.ErrUserNotFound {
			return nil, ErrUnknownPrincipal
		}
		return nil, err
	}
	return principal, nil
}

// ExtractBearerToken pulls the credential from an Authorization header value.
func ExtractBearerToken(header string) string {
	const prefix = "Bearer "
	if strings.HasPrefix(header, prefix) {
		return strings.TrimPrefix(header, prefix)
	}
	return ""
}
