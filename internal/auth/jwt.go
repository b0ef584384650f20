// Package auth - jwt.go handles session token creation, signing, and verification
// using a shared secret. The token carries the user's application role and
// organizational claims so handlers can scope queries without a user lookup.
package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/ldc-construction/ldc-tools/internal/db/models"
)

const issuer = "ldc-tools"

// DefaultSessionTTL is used when no TTL is configured.
const DefaultSessionTTL = 24 * time.Hour

var (
	jwtSecret     string
	jwtSecretOnce sync.Once
	jwtSecretErr  error
)

// Claims represents the session token claims
type Claims struct {
	UserID              string `json:"user_id"`
	Email               string `json:"email"`
	Name                string `json:"name,omitempty"`
	Role                string `json:"role"`
	RegionID            string `json:"region_id,omitempty"`
	ZoneID              string `json:"zone_id,omitempty"`
	ConstructionGroupID string `json:"construction_group_id,omitempty"`
	jwt.RegisteredClaims
}

// IsSuperAdmin reports whether the claims carry the SUPER_ADMIN role.
func (c *Claims) IsSuperAdmin() bool { return c.Role == models.RoleSuperAdmin }

// CGScope returns the construction group filter for queries made on behalf of
// these claims. SUPER_ADMIN gets nil (every group); a user without a group gets
// the nil UUID, which matches no rows.
func (c *Claims) CGScope() *string {
	if c.IsSuperAdmin() {
		return nil
	}
	cg := c.ConstructionGroupID
	if cg == "" {
		cg = noGroup
	}
	return &cg
}

const noGroup = "00000000-0000-0000-0000-000000000000"

func generateRandomSecret() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("dev-fallback-%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b)
}

// InitJWTSecret sets the signing secret once. An empty secret is only accepted in
// dev mode, where a random one is generated and sessions do not survive restarts.
func InitJWTSecret(secret string, devMode bool) error {
	jwtSecretOnce.Do(func() {
		if secret == "" {
			if devMode {
				jwtSecret = generateRandomSecret()
				slog.Warn("security.jwt_secret not set; using an auto-generated secret for development")
				return
			}
			jwtSecretErr = errors.New("security.jwt_secret (LDC_SECURITY_JWT_SECRET) is required outside dev mode; " +
				"generate one with: openssl rand -hex 32")
			return
		}
		if len(secret) < 32 {
			slog.Warn("security.jwt_secret is shorter than the recommended 32 characters")
		}
		jwtSecret = secret
	})
	return jwtSecretErr
}

// GetJWTSecret returns the configured secret, falling back to the environment
// when InitJWTSecret was never called.
func GetJWTSecret() string {
	if jwtSecret == "" {
		if err := InitJWTSecret(os.Getenv("LDC_SECURITY_JWT_SECRET"), os.Getenv("LDC_APP_DEV_MODE") == "true"); err != nil {
			panic(err)
		}
	}
	return jwtSecret
}

// ClaimsForUser builds the claims issued at login.
func ClaimsForUser(u *models.User) *Claims {
	c := &Claims{
		UserID: u.ID,
		Email:  u.Email,
		Role:   u.Role,
	}
	if u.Name != nil {
		c.Name = *u.Name
	}
	if u.RegionID != nil {
		c.RegionID = *u.RegionID
	}
	if u.ZoneID != nil {
		c.ZoneID = *u.ZoneID
	}
	if u.ConstructionGroupID != nil {
		c.ConstructionGroupID = *u.ConstructionGroupID
	}
	return c
}

// GenerateJWT signs a session token for the user
func GenerateJWT(u *models.User, expiresIn time.Duration) (string, error) {
	if expiresIn == 0 {
		expiresIn = DefaultSessionTTL
	}
	now := time.Now()
	claims := ClaimsForUser(u)
	claims.RegisteredClaims = jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(now.Add(expiresIn)),
		IssuedAt:  jwt.NewNumericDate(now),
		Issuer:    issuer,
		Subject:   u.ID,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(GetJWTSecret()))
}

// ValidateJWT parses and validates a session token
func ValidateJWT(tokenString string) (*Claims, error) {
	secret := GetJWTSecret()

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(secret), nil
	}, jwt.WithIssuer(issuer))
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}

	claims, ok := token.Claims.(*Claims)
	if !ok {
		return nil, errors.New("invalid claims type")
	}
	if claims.UserID == "" || claims.Role == "" {
		return nil, errors.New("token is missing required claims")
	}
	return claims, nil
}
