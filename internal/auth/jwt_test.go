package auth

import (
	"os"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/ldc-construction/ldc-tools/internal/db/models"
)

const testSecret = "test-jwt-secret-that-is-32-chars-!"

// resetJWTSecret resets the package-level sync.Once so tests can set a fresh secret.
func resetJWTSecret() {
	jwtSecret = ""
	jwtSecretOnce = sync.Once{}
	jwtSecretErr = nil
}

func TestMain(m *testing.M) {
	os.Setenv("LDC_SECURITY_JWT_SECRET", testSecret)
	os.Exit(m.Run())
}

func strPtr(s string) *string { return &s }

func sampleUser() *models.User {
	return &models.User{
		ID:                  "user-123",
		Email:               "ann@example.com",
		Name:                strPtr("Ann Lee"),
		Role:                models.RoleAdmin,
		RegionID:            strPtr("region-1"),
		ZoneID:              strPtr("zone-1"),
		ConstructionGroupID: strPtr("cg-1"),
	}
}

func TestInitJWTSecret(t *testing.T) {
	t.Run("configured secret", func(t *testing.T) {
		resetJWTSecret()
		if err := InitJWTSecret(testSecret, false); err != nil {
			t.Errorf("InitJWTSecret() unexpected error: %v", err)
		}
		if GetJWTSecret() != testSecret {
			t.Error("GetJWTSecret() did not return the configured secret")
		}
	})

	t.Run("production requires secret", func(t *testing.T) {
		resetJWTSecret()
		if err := InitJWTSecret("", false); err == nil {
			t.Error("expected error without a secret outside dev mode")
		}
	})

	t.Run("dev mode generates random secret", func(t *testing.T) {
		resetJWTSecret()
		if err := InitJWTSecret("", true); err != nil {
			t.Errorf("unexpected error in dev mode: %v", err)
		}
		if GetJWTSecret() == "" {
			t.Error("GetJWTSecret() returned empty string after dev mode init")
		}
	})

	t.Run("only the first call wins", func(t *testing.T) {
		resetJWTSecret()
		_ = InitJWTSecret(testSecret, false)
		_ = InitJWTSecret("another-secret-value-0123456789abcdef", false)
		if GetJWTSecret() != testSecret {
			t.Error("secret changed after first initialization")
		}
	})
}

func TestGenerateAndValidateJWT(t *testing.T) {
	resetJWTSecret()
	if err := InitJWTSecret(testSecret, false); err != nil {
		t.Fatal(err)
	}

	t.Run("round trip carries organizational claims", func(t *testing.T) {
		token, err := GenerateJWT(sampleUser(), time.Hour)
		if err != nil {
			t.Fatalf("GenerateJWT() error: %v", err)
		}
		claims, err := ValidateJWT(token)
		if err != nil {
			t.Fatalf("ValidateJWT() error: %v", err)
		}
		if claims.UserID != "user-123" || claims.Role != models.RoleAdmin {
			t.Errorf("claims = %+v", claims)
		}
		if claims.Name != "Ann Lee" || claims.ConstructionGroupID != "cg-1" || claims.ZoneID != "zone-1" {
			t.Errorf("organizational claims = %+v", claims)
		}
	})

	t.Run("default ttl", func(t *testing.T) {
		token, err := GenerateJWT(sampleUser(), 0)
		if err != nil {
			t.Fatalf("GenerateJWT() error: %v", err)
		}
		claims, err := ValidateJWT(token)
		if err != nil {
			t.Fatalf("ValidateJWT() error: %v", err)
		}
		ttl := time.Until(claims.ExpiresAt.Time)
		if ttl < 23*time.Hour || ttl > DefaultSessionTTL {
			t.Errorf("ttl = %v, want about 24h", ttl)
		}
	})

	t.Run("expired token", func(t *testing.T) {
		token, err := GenerateJWT(sampleUser(), -time.Minute)
		if err != nil {
			t.Fatalf("GenerateJWT() error: %v", err)
		}
		if _, err := ValidateJWT(token); err == nil {
			t.Error("expected error for expired token")
		}
	})

	t.Run("tampered token", func(t *testing.T) {
		token, _ := GenerateJWT(sampleUser(), time.Hour)
		if _, err := ValidateJWT(token + "x"); err == nil {
			t.Error("expected error for tampered token")
		}
	})

	t.Run("wrong signing method", func(t *testing.T) {
		tok := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{UserID: "u", Role: "USER"})
		s, _ := tok.SignedString(jwt.UnsafeAllowNoneSignatureType)
		if _, err := ValidateJWT(s); err == nil {
			t.Error("expected error for unsigned token")
		}
	})

	t.Run("foreign issuer", func(t *testing.T) {
		tok := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
			UserID: "u", Role: "USER",
			RegisteredClaims: jwt.RegisteredClaims{
				Issuer:    "someone-else",
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			},
		})
		s, _ := tok.SignedString([]byte(testSecret))
		if _, err := ValidateJWT(s); err == nil {
			t.Error("expected error for foreign issuer")
		}
	})
}

func TestClaimsCGScope(t *testing.T) {
	super := &Claims{Role: models.RoleSuperAdmin, ConstructionGroupID: "cg-1"}
	if super.CGScope() != nil {
		t.Error("SUPER_ADMIN should see every group")
	}

	admin := &Claims{Role: models.RoleAdmin, ConstructionGroupID: "cg-1"}
	if got := admin.CGScope(); got == nil || *got != "cg-1" {
		t.Errorf("CGScope = %v, want cg-1", got)
	}

	orphan := &Claims{Role: models.RoleUser}
	if got := orphan.CGScope(); got == nil || *got != noGroup {
		t.Errorf("CGScope = %v, want the nil UUID", got)
	}
}
