package main

import (
	"strings"
	"testing"

	"github.com/nicolatrozzi/spiro/internal/auth"
)

func TestReadLine(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"secret\n", "secret"},
		{"secret\r\n", "secret"},
		{"secret", "secret"},
		{"two words\nignored\n", "two words"},
		{"", ""},
	}
	for _, tt := range tests {
		got, err := readLine(strings.NewReader(tt.in))
		if err != nil {
			t.Fatalf("readLine(%q) error = %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("readLine(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestHashPassword(t *testing.T) {
	hash, err := hashPassword("correct horse")
	if err != nil {
		t.Fatalf("hashPassword() error = %v", err)
	}
	if !strings.HasPrefix(hash, "$argon2id$") {
		t.Errorf("hash = %q, want argon2id PHC string", hash)
	}
	ok, err := auth.VerifyPassword("correct horse", hash)
	if err != nil || !ok {
		t.Errorf("VerifyPassword() = %v, %v; want true, nil", ok, err)
	}
}

func TestHashPassword_Empty(t *testing.T) {
	if _, err := hashPassword(""); err == nil {
		t.Error("hashPassword(\"\") should fail")
	}
}
