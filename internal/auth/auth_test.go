package auth

import (
	"testing"
	"time"

	errordefs "github.com/animeverse/catalog-go/internal/errors"
	"github.com/animeverse/catalog-go/internal/model"
	"github.com/golang-jwt/jwt/v5"
)

func testAccount() model.Account {
	return model.Account{ID: 42, Username: "otaku", Email: "o@example.com", Role: model.RoleAdmin}
}

func TestIssueAndVerify(t *testing.T) {
	tokens := NewTokens("secret", "catalog", "catalog-web", time.Hour)

	raw, err := tokens.Issue(testAccount())
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	claims, err := tokens.Verify(raw)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	id, _ := claims.AccountID()
	if id != 42 {
		t.Errorf("AccountID() = %d, want 42", id)
	}
	if claims.Role != model.RoleAdmin || claims.Username != "otaku" {
		t.Errorf("claims = %+v", claims)
	}
}

func TestVerifyRejects(t *testing.T) {
	tokens := NewTokens("secret", "catalog", "catalog-web", time.Hour)
	raw, err := tokens.Issue(testAccount())
	if err != nil {
		t.Fatal(err)
	}

	expired := NewTokens("secret", "catalog", "catalog-web", time.Hour)
	expired.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	old, err := expired.Issue(testAccount())
	if err != nil {
		t.Fatal(err)
	}

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{
		"sub": "42", "iss": "catalog", "aud": "catalog-web", "exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name     string
		verifier *Tokens
		raw      string
		code     errordefs.ErrorCode
	}{
		{"wrong secret", NewTokens("other", "catalog", "catalog-web", time.Hour), raw, errordefs.CAT_TOKEN_INVALID},
		{"wrong issuer", NewTokens("secret", "elsewhere", "catalog-web", time.Hour), raw, errordefs.CAT_TOKEN_INVALID},
		{"wrong audience", NewTokens("secret", "catalog", "mobile", time.Hour), raw, errordefs.CAT_TOKEN_INVALID},
		{"expired", tokens, old, errordefs.CAT_TOKEN_EXPIRED},
		{"garbage", tokens, "not.a.token", errordefs.CAT_TOKEN_INVALID},
		{"alg none", tokens, none, errordefs.CAT_TOKEN_INVALID},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.verifier.Verify(tt.raw)
			if !errordefs.IsCode(err, tt.code) {
				t.Errorf("Verify() error = %v, want code %s", err, tt.code)
			}
		})
	}
}

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("hunter22")
	if err != nil {
		t.Fatalf("HashPassword() error = %v", err)
	}
	if hash == "hunter22" {
		t.Fatal("hash equals plaintext")
	}
	if ok, err := CheckPassword(hash, "hunter22"); err != nil || !ok {
		t.Errorf("CheckPassword(correct) = %v, %v", ok, err)
	}
	if ok, err := CheckPassword(hash, "hunter23"); err != nil || ok {
		t.Errorf("CheckPassword(wrong) = %v, %v", ok, err)
	}
	if _, err := CheckPassword("not-a-hash", "x"); err == nil {
		t.Error("CheckPassword(malformed) expected error")
	}
}
