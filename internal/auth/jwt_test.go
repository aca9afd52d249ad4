package auth

import (
	"errors"
	"testing"
	"time"
)

func TestVerifyRoundTrip(t *testing.T) {
	v := NewVerifier("s3cret", "color")
	tok, err := v.Sign(42, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	c, err := v.Verify("Bearer " + tok)
	if err != nil {
		t.Fatal(err)
	}
	if c.UserID != 42 {
		t.Fatalf("user id %d", c.UserID)
	}
}

func TestVerifyRejects(t *testing.T) {
	v := NewVerifier("s3cret", "color")
	other := NewVerifier("other", "color")
	foreign, _ := other.Sign(42, time.Minute)
	expired, _ := v.Sign(42, -time.Minute)
	wrongIssuer, _ := NewVerifier("s3cret", "someone").Sign(42, time.Minute)

	cases := []struct {
		name   string
		header string
		want   error
	}{
		{"missing", "", ErrMissingToken},
		{"no bearer", "Token abc", ErrInvalidTokenFormat},
		{"bad signature", "Bearer " + foreign, ErrInvalidToken},
		{"expired", "Bearer " + expired, ErrTokenExpired},
		{"wrong issuer", "Bearer " + wrongIssuer, ErrInvalidToken},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := v.Verify(tc.header); !errors.Is(err, tc.want) {
				t.Fatalf("got %v want %v", err, tc.want)
			}
		})
	}
}

func TestVerifyWithoutSecret(t *testing.T) {
	if _, err := NewVerifier("", "").Verify("Bearer x"); !errors.Is(err, ErrSecretNotConfigured) {
		t.Fatalf("got %v", err)
	}
}

func TestParseDemoUser(t *testing.T) {
	if id, err := ParseDemoUser(" 7 "); err != nil || id != 7 {
		t.Fatalf("id=%d err=%v", id, err)
	}
	for _, h := range []string{"", "abc", "0", "-3"} {
		if _, err := ParseDemoUser(h); !errors.Is(err, ErrInvalidDemoUser) {
			t.Fatalf("%q: %v", h, err)
		}
	}
}
