package utils

import (
	"testing"
	"time"

	"github.com/Baaaki/teamchat/internal/models"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-key-for-jwt-testing"

func testUser(role models.Role) *models.User {
	return &models.User{
		ID:          uuid.New(),
		Email:       "layla@example.com",
		DisplayName: "Layla",
		Role:        role,
		Locale:      models.LocaleArabic,
	}
}

func TestToken_RoundTrip(t *testing.T) {
	for _, role := range []models.Role{models.RoleEmployee, models.RoleSupervisor, models.RoleAdmin} {
		t.Run(string(role), func(t *testing.T) {
			user := testUser(role)
			token, err := GenerateToken(user, testSecret, time.Hour)
			require.NoError(t, err)

			claims, err := ValidateToken(token, testSecret)
			require.NoError(t, err)
			assert.Equal(t, user.ID, claims.UserID)
			assert.Equal(t, user.Email, claims.Email)
			assert.Equal(t, "Layla", claims.Name)
			assert.Equal(t, role, claims.Role)
			assert.Equal(t, models.LocaleArabic, claims.Locale)
		})
	}
}

func TestGenerateToken_EmptySecret(t *testing.T) {
	_, err := GenerateToken(testUser(models.RoleEmployee), "", time.Hour)
	assert.Error(t, err)
}

func TestValidateToken_Rejects(t *testing.T) {
	user := testUser(models.RoleEmployee)
	valid, err := GenerateToken(user, testSecret, time.Hour)
	require.NoError(t, err)
	expired, err := GenerateToken(user, testSecret, -time.Hour)
	require.NoError(t, err)

	foreign := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
		UserID:           user.ID,
		RegisteredClaims: jwt.RegisteredClaims{Issuer: "someone-else"},
	})
	foreignToken, err := foreign.SignedString([]byte(testSecret))
	require.NoError(t, err)

	tests := []struct {
		name   string
		token  string
		secret string
		want   error
	}{
		{"expired", expired, testSecret, ErrExpiredToken},
		{"wrong secret", valid, "another-secret", ErrInvalidToken},
		{"empty secret", valid, "", ErrInvalidToken},
		{"garbage", "not.a.token", testSecret, ErrInvalidToken},
		{"tampered", valid[:len(valid)-2] + "xx", testSecret, ErrInvalidToken},
		{"foreign issuer", foreignToken, testSecret, ErrInvalidToken},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims, err := ValidateToken(tt.token, tt.secret)
			assert.Nil(t, claims)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}
