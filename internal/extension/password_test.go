package extension

import (
	"strings"
	"testing"

	"github.com/nerrad567/litecore/internal/sqlval"
)

func TestHashPassword_RoundTrip(t *testing.T) {
	password := "correct-horse-battery-staple"

	hash, err := HashPassword(password)
	if err != nil {
		t.Fatalf("HashPassword() error = %v", err)
	}

	// Verify the hash is in PHC format
	if !strings.HasPrefix(hash, "$argon2id$") {
		t.Errorf("hash should start with $argon2id$, got %q", hash)
	}

	ok, err := VerifyPassword(password, hash)
	if err != nil {
		t.Fatalf("VerifyPassword() error = %v", err)
	}
	if !ok {
		t.Error("VerifyPassword() should return true for correct password")
	}

	ok, err = VerifyPassword("wrong-password", hash)
	if err != nil {
		t.Fatalf("VerifyPassword() error = %v", err)
	}
	if ok {
		t.Error("VerifyPassword() should return false for wrong password")
	}
}

func TestHashPassword_UniqueSalts(t *testing.T) {
	hash1, err := HashPassword("same-password")
	if err != nil {
		t.Fatalf("HashPassword() error = %v", err)
	}
	hash2, err := HashPassword("same-password")
	if err != nil {
		t.Fatalf("HashPassword() error = %v", err)
	}
	if hash1 == hash2 {
		t.Error("two hashes of the same password should have different salts")
	}
}

func TestVerifyPassword_InvalidFormat(t *testing.T) {
	tests := []struct {
		name string
		hash string
	}{
		{"empty", ""},
		{"not PHC", "plaintext"},
		{"wrong algorithm", "$bcrypt$v=19$m=65536,t=3,p=1$salt$hash"},
		{"too few parts", "$argon2id$v=19$m=65536,t=3,p=1"},
		{"wrong version", "$argon2id$v=16$m=65536,t=3,p=1$c2FsdA$aGFzaA"},
		{"bad salt", "$argon2id$v=19$m=65536,t=3,p=1$!!!$aGFzaA"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := VerifyPassword("password", tt.hash); err == nil {
				t.Error("VerifyPassword() should return error for invalid hash format")
			}
		})
	}
}

func TestPasswordFunctions(t *testing.T) {
	hashed, err := passwordHash([]sqlval.Value{sqlval.Text("s3cret")})
	if err != nil {
		t.Fatalf("password_hash error = %v", err)
	}
	if hashed.Kind() != sqlval.KindText {
		t.Fatalf("password_hash returned %s, want text", hashed.Kind())
	}

	got, err := passwordVerify([]sqlval.Value{hashed, sqlval.Text("s3cret")})
	if err != nil || !got.Equal(sqlval.Integer(1)) {
		t.Errorf("password_verify(correct) = %v, %v; want 1", got, err)
	}
	got, err = passwordVerify([]sqlval.Value{hashed, sqlval.Text("guess")})
	if err != nil || !got.Equal(sqlval.Integer(0)) {
		t.Errorf("password_verify(wrong) = %v, %v; want 0", got, err)
	}
	if got, _ := passwordVerify([]sqlval.Value{sqlval.Null(), sqlval.Text("x")}); !got.IsNull() {
		t.Errorf("password_verify(NULL, x) = %v, want NULL", got)
	}
}
