package api_test

import (
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/garnizeh/techsync/api"
	"github.com/garnizeh/techsync/pkg/models"
	"github.com/garnizeh/techsync/pkg/repository/mock"
)

const authSecret = "testsecret"

func withOperator(email, password string) func(*mock.Mocks) {
	return func(m *mock.Mocks) {
		hash, _ := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
		m.OperatorRepo.Stored = &models.Operator{ID: 2, Name: "Bob", Email: email, PasswordHash: string(hash)}
	}
}

// tokenClaims parses the token in an auth response and returns its claims.
func tokenClaims(t *testing.T, body []byte) jwt.MapClaims {
	t.Helper()
	var ar struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(body, &ar))
	require.NotEmpty(t, ar.Token)
	tok, err := jwt.Parse(ar.Token, func(*jwt.Token) (any, error) { return []byte(authSecret), nil })
	require.NoError(t, err)
	claims, ok := tok.Claims.(jwt.MapClaims)
	require.True(t, ok)
	exp, ok := claims["exp"].(float64)
	require.True(t, ok)
	assert.Greater(t, int64(exp), time.Now().Unix())
	return claims
}

func TestAuthHandlers(t *testing.T) {
	tests := []struct {
		name       string
		path       string
		body       any
		prepare    func(m *mock.Mocks)
		wantStatus int
		check      func(t *testing.T, m *mock.Mocks, body []byte)
	}{
		{name: "signup invalid json", path: "/signup", body: "not a json", wantStatus: http.StatusBadRequest},
		{name: "signup missing name", path: "/signup", body: map[string]string{"email": "alice@example.com", "password": "s3cret"}, wantStatus: http.StatusBadRequest},
		{name: "signup blank name", path: "/signup", body: map[string]string{"name": "  ", "email": "alice@example.com", "password": "s3cret"}, wantStatus: http.StatusBadRequest},
		{name: "signup missing password", path: "/signup", body: map[string]string{"name": "Alice", "email": "alice@example.com"}, wantStatus: http.StatusBadRequest},
		{name: "signup invalid email", path: "/signup", body: map[string]string{"name": "Alice", "email": "not-an-email", "password": "s3cret"}, wantStatus: http.StatusBadRequest},
		{
			name:       "signup normalizes email and hashes password",
			path:       "/signup",
			body:       map[string]string{"name": " Alice ", "email": " Alice@Example.COM ", "password": "s3cret"},
			wantStatus: http.StatusOK,
			check: func(t *testing.T, m *mock.Mocks, body []byte) {
				stored := m.OperatorRepo.Stored
				require.NotNil(t, stored)
				assert.Equal(t, "Alice", stored.Name)
				assert.Equal(t, "alice@example.com", stored.Email)
				assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(stored.PasswordHash), []byte("s3cret")))

				claims := tokenClaims(t, body)
				assert.Equal(t, "alice@example.com", claims["email"])
				assert.EqualValues(t, 1, claims["operator_id"])
			},
		},
		{
			name:       "signup store failure",
			path:       "/signup",
			body:       map[string]string{"name": "Dup", "email": "dup@example.com", "password": "pw"},
			prepare:    func(m *mock.Mocks) { m.OperatorRepo.CreateErr = errors.New("unique constraint") },
			wantStatus: http.StatusInternalServerError,
			check: func(t *testing.T, _ *mock.Mocks, body []byte) {
				assert.NotContains(t, string(body), "unique constraint", "store errors stay in the log")
			},
		},
		{name: "signin invalid json", path: "/signin", body: "not a json", wantStatus: http.StatusBadRequest},
		{name: "signin missing email", path: "/signin", body: map[string]string{"password": "nop"}, wantStatus: http.StatusBadRequest},
		{name: "signin missing password", path: "/signin", body: map[string]string{"email": "missing@example.com"}, wantStatus: http.StatusBadRequest},
		{name: "signin unknown operator", path: "/signin", body: map[string]string{"email": "missing@example.com", "password": "nop"}, wantStatus: http.StatusUnauthorized},
		{
			name:       "signin wrong password",
			path:       "/signin",
			body:       map[string]string{"email": "bob@example.com", "password": "wrongpw"},
			prepare:    withOperator("bob@example.com", "rightpw"),
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "signin success",
			path:       "/signin",
			body:       map[string]string{"email": "bob@example.com", "password": "hunter2"},
			prepare:    withOperator("bob@example.com", "hunter2"),
			wantStatus: http.StatusOK,
			check: func(t *testing.T, _ *mock.Mocks, body []byte) {
				claims := tokenClaims(t, body)
				assert.EqualValues(t, 2, claims["operator_id"])
				assert.Equal(t, "bob@example.com", claims["email"])
			},
		},
		{
			name:       "signout",
			path:       "/signout",
			wantStatus: http.StatusOK,
			check: func(t *testing.T, _ *mock.Mocks, body []byte) {
				assert.JSONEq(t, `{"message":"signed out"}`, string(body))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := mock.NewMocks()
			if tt.prepare != nil {
				tt.prepare(m)
			}
			h := api.NewAuthHandler(m.OperatorRepo, authSecret, time.Hour)

			var handler http.HandlerFunc
			switch tt.path {
			case "/signup":
				handler = h.Signup
			case "/signin":
				handler = h.Signin
			default:
				handler = h.Signout
			}

			w := do(t, handler, http.MethodPost, tt.path, tt.body)
			require.Equal(t, tt.wantStatus, w.Code, w.Body.String())
			if tt.check != nil {
				tt.check(t, m, w.Body.Bytes())
			}
		})
	}
}
