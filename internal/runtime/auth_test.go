package runtime

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/mohammad-safakhou/reportflow/config"
)

func TestLoadJWTSecret(t *testing.T) {
	if _, err := LoadJWTSecret(&config.Config{}); err != ErrNoSecret {
		t.Fatalf("expected ErrNoSecret, got %v", err)
	}
	got, err := LoadJWTSecret(&config.Config{Server: config.ServerConfig{JWTSecret: " s3cret "}})
	if err != nil || string(got) != "s3cret" {
		t.Fatalf("unexpected secret %q err %v", got, err)
	}
}

func TestEchoAuthMiddleware(t *testing.T) {
	secret := []byte("test-secret")
	e := echo.New()
	var seen string
	h := EchoAuthMiddleware(secret)(func(c echo.Context) error {
		seen, _ = SubjectFromContext(c.Request().Context())
		return c.NoContent(http.StatusOK)
	})

	run := func(header string) error {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		return h(e.NewContext(req, httptest.NewRecorder()))
	}

	if err := run(""); err == nil {
		t.Fatalf("expected missing token error")
	}
	if err := run("Bearer garbage"); err == nil {
		t.Fatalf("expected invalid token error")
	}
	other, _ := SignJWT("ops", []byte("other"), time.Minute)
	if err := run("Bearer " + other); err == nil {
		t.Fatalf("expected signature mismatch to fail")
	}
	expired, _ := SignJWT("ops", secret, -time.Minute)
	if err := run("Bearer " + expired); err == nil {
		t.Fatalf("expected expired token to fail")
	}
	tok, err := SignJWT("ops", secret, time.Minute)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if err := run("Bearer " + tok); err != nil {
		t.Fatalf("valid token rejected: %v", err)
	}
	if seen != "ops" {
		t.Fatalf("expected subject ops, got %q", seen)
	}
}
