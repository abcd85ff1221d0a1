package auth

import (
	"net/http/httptest"
	"testing"
)

func TestTokenFrom_Header(t *testing.T) {
	r := httptest.NewRequest("GET", "/ws", nil)
	r.Header.Set("Authorization", "secret")

	token, ok := TokenFrom(r)
	if !ok || token != "secret" {
		t.Fatalf("token=%q ok=%v, want secret/true", token, ok)
	}
}

func TestTokenFrom_BearerHeader(t *testing.T) {
	r := httptest.NewRequest("GET", "/ws", nil)
	r.Header.Set("Authorization", "Bearer secret")

	token, ok := TokenFrom(r)
	if !ok || token != "secret" {
		t.Fatalf("token=%q ok=%v, want secret/true", token, ok)
	}
}

func TestTokenFrom_QueryParam(t *testing.T) {
	r := httptest.NewRequest("GET", "/ws?token=secret", nil)

	token, ok := TokenFrom(r)
	if !ok || token != "secret" {
		t.Fatalf("token=%q ok=%v, want secret/true", token, ok)
	}
}

func TestTokenFrom_Missing(t *testing.T) {
	r := httptest.NewRequest("GET", "/ws", nil)

	if _, ok := TokenFrom(r); ok {
		t.Fatalf("expected no token")
	}
}

func TestVerify(t *testing.T) {
	if !Verify("secret", "secret") {
		t.Fatalf("matching token rejected")
	}
	if Verify("wrong", "secret") {
		t.Fatalf("wrong token accepted")
	}
	if Verify("", "") {
		t.Fatalf("empty expected token must never verify")
	}
}
