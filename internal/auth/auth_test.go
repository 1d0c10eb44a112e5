package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/andresmejia3/facegate/internal/types"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("s3cret", bcrypt.MinCost)
	require.NoError(t, err)
	assert.NotEqual(t, "s3cret", hash)

	assert.NoError(t, CheckPassword(hash, "s3cret"))
	assert.ErrorIs(t, CheckPassword(hash, "wrong"), ErrInvalidCredentials)
	assert.Error(t, CheckPassword("not-a-hash", "s3cret"))
}

func TestJWTManager(t *testing.T) {
	m, err := NewJWTManager("test-secret", time.Hour)
	require.NoError(t, err)

	user := types.User{ID: 42, Username: "alice", Type: types.Individual}
	token, err := m.GenerateToken(user)
	require.NoError(t, err)

	claims, err := m.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, 42, claims.UserID)
	assert.Equal(t, "alice", claims.Username)
	assert.Equal(t, types.Individual, claims.Type)

	other, _ := NewJWTManager("other-secret", time.Hour)
	_, err = other.ValidateToken(token)
	assert.Error(t, err, "token signed with a different secret must be rejected")
}

func TestJWTManager_Expired(t *testing.T) {
	m, err := NewJWTManager("test-secret", time.Minute)
	require.NoError(t, err)

	issued := time.Now().Add(-time.Hour)
	m.now = func() time.Time { return issued }
	token, err := m.GenerateToken(types.User{ID: 1})
	require.NoError(t, err)

	m.now = time.Now
	_, err = m.ValidateToken(token)
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)
}

func TestJWTManager_RejectsOtherAlgorithms(t *testing.T) {
	m, err := NewJWTManager("test-secret", time.Hour)
	require.NoError(t, err)

	token := jwt.NewWithClaims(jwt.SigningMethodHS512, &Claims{UserID: 1})
	signed, err := token.SignedString([]byte("test-secret"))
	require.NoError(t, err)

	_, err = m.ValidateToken(signed)
	assert.Error(t, err)
}

func TestNewJWTManager_Validation(t *testing.T) {
	_, err := NewJWTManager("", time.Hour)
	assert.Error(t, err)
	_, err = NewJWTManager("secret", 0)
	assert.Error(t, err)
}

func TestMiddleware(t *testing.T) {
	m, err := NewJWTManager("test-secret", time.Hour)
	require.NoError(t, err)
	token, err := m.GenerateToken(types.User{ID: 7, Username: "bob", Type: types.Organization})
	require.NoError(t, err)

	var seen *Claims
	handler := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = ClaimsFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic abc", http.StatusUnauthorized},
		{"garbage token", "Bearer abc.def.ghi", http.StatusForbidden},
		{"valid token", "Bearer " + token, http.StatusNoContent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = nil
			req := httptest.NewRequest(http.MethodGet, "/api/messages/inbox", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()

			handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.want, rec.Code)
			if tt.want == http.StatusNoContent {
				require.NotNil(t, seen)
				assert.Equal(t, 7, seen.UserID)
			} else {
				assert.Nil(t, seen)
				assert.Contains(t, rec.Body.String(), `"error"`)
			}
		})
	}
}
