package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"dispatch/internal/apperr"
)

func TestAuthorize(t *testing.T) {
	manager := Principal{ID: "m1", Role: RoleManager}
	partner := Principal{ID: "p1", Role: RolePartner}

	cases := []struct {
		name  string
		p     Principal
		roles []Role
		want  apperr.Kind
	}{
		{"anonymous", Principal{}, nil, apperr.Unauthenticated},
		{"unknown role", Principal{ID: "x", Role: "admin"}, nil, apperr.Unauthenticated},
		{"any authenticated", partner, nil, ""},
		{"manager allowed", manager, []Role{RoleManager}, ""},
		{"partner denied", partner, []Role{RoleManager}, apperr.Forbidden},
		{"either role", partner, []Role{RoleManager, RolePartner}, ""},
	}
	for _, tc := range cases {
		err := Authorize(tc.p, tc.roles...)
		if tc.want == "" {
			if err != nil {
				t.Errorf("%s: unexpected error %v", tc.name, err)
			}
			continue
		}
		if apperr.KindOf(err) != tc.want {
			t.Errorf("%s: got %v, want kind %s", tc.name, err, tc.want)
		}
	}
}

func TestJWTRoundTrip(t *testing.T) {
	j, err := NewJWT("test-secret", time.Hour)
	if err != nil {
		t.Fatalf("new jwt: %v", err)
	}
	tok, err := j.Issue(Principal{ID: "u1", Name: "Asha", Role: RolePartner})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	p, err := j.Verify(context.Background(), tok)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if p.ID != "u1" || p.Role != RolePartner || p.Name != "Asha" {
		t.Fatalf("unexpected principal %+v", p)
	}
}

func TestJWTRejectsExpired(t *testing.T) {
	j, _ := NewJWT("test-secret", time.Minute)
	issued := time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC)
	j.now = func() time.Time { return issued }
	tok, err := j.Issue(Principal{ID: "u1", Role: RoleManager})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	j.now = func() time.Time { return issued.Add(2 * time.Minute) }
	if _, err := j.Verify(context.Background(), tok); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected unauthenticated, got %v", err)
	}
}

func TestJWTRejectsForeignSecretAndAlg(t *testing.T) {
	j, _ := NewJWT("test-secret", time.Hour)
	other, _ := NewJWT("other-secret", time.Hour)
	tok, _ := other.Issue(Principal{ID: "u1", Role: RoleManager})
	if _, err := j.Verify(context.Background(), tok); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected unauthenticated for foreign secret, got %v", err)
	}

	none := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"sub": "u1", "role": "manager", "exp": time.Now().Add(time.Hour).Unix()})
	s, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none: %v", err)
	}
	if _, err := j.Verify(context.Background(), s); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected unauthenticated for alg=none, got %v", err)
	}
}

func TestJWTMissingToken(t *testing.T) {
	j, _ := NewJWT("test-secret", time.Hour)
	if _, err := j.Verify(context.Background(), ""); apperr.KindOf(err) != apperr.Unauthenticated {
		t.Fatalf("expected unauthenticated, got %v", err)
	}
}

func TestNewJWTRequiresSecret(t *testing.T) {
	if _, err := NewJWT("", time.Hour); err == nil {
		t.Fatal("expected error for empty secret")
	}
}
