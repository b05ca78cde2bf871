package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/racewise/backend/internal/config"
)

var hmacKey = []byte("test-signing-key")

func newProtectedApp(a *Auth) *fiber.App {
	app := fiber.New()
	app.Post("/protected", a.Protected(), func(c *fiber.Ctx) error {
		caller, _ := Caller(c)
		return c.SendString(caller)
	})
	return app
}

func signed(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(hmacKey)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return token
}

func TestProtected(t *testing.T) {
	auth := &Auth{
		Secret: "job-secret",
		Keyfunc: func(token *jwt.Token) (interface{}, error) {
			return hmacKey, nil
		},
	}
	app := newProtectedApp(auth)

	valid := signed(t, jwt.MapClaims{"sub": "user_1", "exp": time.Now().Add(time.Hour).Unix()})
	expired := signed(t, jwt.MapClaims{"sub": "user_1", "exp": time.Now().Add(-time.Hour).Unix()})
	noSubject := signed(t, jwt.MapClaims{"exp": time.Now().Add(time.Hour).Unix()})

	tests := []struct {
		name    string
		headers map[string]string
		status  int
	}{
		{"job secret", map[string]string{SecretHeader: "job-secret"}, http.StatusOK},
		{"wrong secret", map[string]string{SecretHeader: "nope"}, http.StatusUnauthorized},
		{"bearer token", map[string]string{"Authorization": "Bearer " + valid}, http.StatusOK},
		{"expired token", map[string]string{"Authorization": "Bearer " + expired}, http.StatusUnauthorized},
		{"token without subject", map[string]string{"Authorization": "Bearer " + noSubject}, http.StatusUnauthorized},
		{"not bearer", map[string]string{"Authorization": valid}, http.StatusUnauthorized},
		{"no credentials", nil, http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/protected", nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			resp, err := app.Test(req)
			if err != nil {
				t.Fatalf("request: %v", err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != tt.status {
				t.Fatalf("expected %d, got %d", tt.status, resp.StatusCode)
			}
		})
	}
}

func TestNewAuthAnonymousOnlyOutsideProduction(t *testing.T) {
	for env, open := range map[string]bool{"development": true, "test": true, "production": false} {
		cfg := &config.Config{Server: config.ServerConfig{Env: env}}
		a, err := NewAuth(cfg)
		if err != nil {
			t.Fatalf("%s: %v", env, err)
		}
		resp, err := newProtectedApp(a).Test(httptest.NewRequest(http.MethodPost, "/protected", nil))
		if err != nil {
			t.Fatalf("%s: request: %v", env, err)
		}
		resp.Body.Close()
		if got := resp.StatusCode == http.StatusOK; got != open {
			t.Fatalf("%s: expected open=%t, got status %d", env, open, resp.StatusCode)
		}
	}
}
