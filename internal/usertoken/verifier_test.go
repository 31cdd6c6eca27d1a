package usertoken

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

const (
	testIssuer   = "issuer-a"
	testAudience = "aud-a"
)

func TestNewVerifierRequiresJWKSURL(t *testing.T) {
	if _, err := NewVerifier(context.Background(), Config{}); err == nil {
		t.Fatal("expected missing jwks url to fail")
	}
}

func TestVerifyReturnsProfileClaims(t *testing.T) {
	key := mustKey(t)
	srv := jwksServer(t, func() map[string]*rsa.PrivateKey { return map[string]*rsa.PrivateKey{"kid-1": key} }, nil)
	v := mustVerifier(t, srv.URL)

	signed := sign(t, key, "kid-1", Claims{
		RegisteredClaims: validRegistered("student-7"),
		Name:             "Sam Student",
		Email:            "sam@campus.edu",
	})
	claims, err := v.Verify(context.Background(), signed)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.Subject != "student-7" || claims.Name != "Sam Student" || claims.Email != "sam@campus.edu" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestVerifyRefetchesKeysOnUnknownKid(t *testing.T) {
	key1, key2 := mustKey(t), mustKey(t)
	var rotated atomic.Bool
	var fetches int32
	srv := jwksServer(t, func() map[string]*rsa.PrivateKey {
		if rotated.Load() {
			return map[string]*rsa.PrivateKey{"kid-2": key2}
		}
		return map[string]*rsa.PrivateKey{"kid-1": key1}
	}, &fetches)
	v := mustVerifier(t, srv.URL)

	sub, err := v.VerifySubject(context.Background(), sign(t, key1, "kid-1", Claims{RegisteredClaims: validRegistered("user-a")}))
	if err != nil || sub != "user-a" {
		t.Fatalf("verify kid-1: sub=%q err=%v", sub, err)
	}

	rotated.Store(true)
	sub, err = v.VerifySubject(context.Background(), sign(t, key2, "kid-2", Claims{RegisteredClaims: validRegistered("user-b")}))
	if err != nil || sub != "user-b" {
		t.Fatalf("verify kid-2 after rotation: sub=%q err=%v", sub, err)
	}
	if got := atomic.LoadInt32(&fetches); got != 2 {
		t.Fatalf("expected 2 jwks fetches, got %d", got)
	}
}

func TestVerifyRejectsBadTokens(t *testing.T) {
	key, stranger := mustKey(t), mustKey(t)
	srv := jwksServer(t, func() map[string]*rsa.PrivateKey { return map[string]*rsa.PrivateKey{"kid-1": key} }, nil)
	v := mustVerifier(t, srv.URL)

	futureIAT := validRegistered("u")
	futureIAT.IssuedAt = jwt.NewNumericDate(time.Now().Add(2 * time.Minute))
	expired := validRegistered("u")
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Hour))
	noExp := validRegistered("u")
	noExp.ExpiresAt = nil
	wrongAud := validRegistered("u")
	wrongAud.Audience = jwt.ClaimStrings{"someone-else"}
	noSubject := validRegistered("")

	tests := []struct {
		name  string
		token string
	}{
		{"future issued-at", sign(t, key, "kid-1", Claims{RegisteredClaims: futureIAT})},
		{"expired", sign(t, key, "kid-1", Claims{RegisteredClaims: expired})},
		{"missing exp", sign(t, key, "kid-1", Claims{RegisteredClaims: noExp})},
		{"wrong audience", sign(t, key, "kid-1", Claims{RegisteredClaims: wrongAud})},
		{"foreign signer", sign(t, stranger, "kid-1", Claims{RegisteredClaims: validRegistered("u")})},
		{"missing subject", sign(t, key, "kid-1", Claims{RegisteredClaims: noSubject})},
		{"garbage", "not-a-jwt"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := v.VerifySubject(context.Background(), tc.token); err == nil {
				t.Fatal("expected verification failure")
			}
		})
	}
}

func TestMaxAge(t *testing.T) {
	tests := map[string]time.Duration{
		"":                        0,
		"public, max-age=300":     5 * time.Minute,
		"MAX-AGE=1":               time.Second,
		"no-store, max-age=bogus": 0,
	}
	for header, want := range tests {
		if got := maxAge(header); got != want {
			t.Fatalf("maxAge(%q) = %v, want %v", header, got, want)
		}
	}
}

func mustKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return key
}

func mustVerifier(t *testing.T, url string) *Verifier {
	t.Helper()
	v, err := NewVerifier(context.Background(), Config{
		JWKSURL:  url,
		Issuer:   testIssuer,
		Audience: testAudience,
		Leeway:   5 * time.Second,
	})
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}
	return v
}

func jwksServer(t *testing.T, keys func() map[string]*rsa.PrivateKey, fetches *int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if fetches != nil {
			atomic.AddInt32(fetches, 1)
		}
		out := []map[string]string{}
		for kid, key := range keys() {
			out = append(out, map[string]string{
				"kty": "RSA",
				"kid": kid,
				"use": "sig",
				"n":   base64.RawURLEncoding.EncodeToString(key.PublicKey.N.Bytes()),
				"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.PublicKey.E)).Bytes()),
			})
		}
		w.Header().Set("Cache-Control", "public, max-age=300")
		_ = json.NewEncoder(w).Encode(map[string]any{"keys": out})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func validRegistered(subject string) jwt.RegisteredClaims {
	now := time.Now()
	return jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    testIssuer,
		Audience:  jwt.ClaimStrings{testAudience},
		ExpiresAt: jwt.NewNumericDate(now.Add(time.Minute)),
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now.Add(-time.Second)),
	}
}

func sign(t *testing.T, key *rsa.PrivateKey, kid string, claims Claims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = kid
	signed, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}
