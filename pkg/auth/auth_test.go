package auth

import (
	"errors"
	"testing"
	"time"
)

var secret = []byte("test-secret")

func TestIssueAndVerify(t *testing.T) {
	tok, err := Issue(secret, "picker1", RoleOperator, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	c, err := FromHeader(secret, "Bearer "+tok)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if c.Username != "picker1" || c.Role != RoleOperator {
		t.Fatalf("unexpected claims %+v", c)
	}
}

func TestFromHeaderRejects(t *testing.T) {
	expired, _ := Issue(secret, "a", RoleOperator, -time.Minute)
	viewer, _ := Issue(secret, "a", "viewer", time.Hour)
	other, _ := Issue([]byte("other"), "a", RoleOperator, time.Hour)

	cases := map[string]struct {
		header string
		want   error
	}{
		"empty":        {"", ErrMissingToken},
		"no bearer":    {"Token abc", ErrMissingToken},
		"garbage":      {"Bearer abc.def.ghi", ErrInvalidToken},
		"expired":      {"Bearer " + expired, ErrInvalidToken},
		"wrong secret": {"Bearer " + other, ErrInvalidToken},
		"wrong role":   {"Bearer " + viewer, ErrForbidden},
	}
	for name, c := range cases {
		if _, err := FromHeader(secret, c.header); !errors.Is(err, c.want) {
			t.Fatalf("%s: got %v want %v", name, err, c.want)
		}
	}
}

func TestIssueRequiresUsername(t *testing.T) {
	if _, err := Issue(secret, "  ", RoleOperator, time.Hour); err == nil {
		t.Fatalf("expected error")
	}
}
