package storage

import (
	"bytes"
	"testing"

	"github.com/jmcleod/showcase/internal/util"
)

func TestSealedEnvelope(t *testing.T) {
	key, _ := util.RandomBytes(util.AESKeySize)
	plain := []byte("top secret")
	aad := []byte("context")

	env, err := SealRecord(key, plain, aad)
	if err != nil {
		t.Fatalf("SealRecord failed: %v", err)
	}
	if env.Ver != 1 || env.Scheme != SchemeAESGCM {
		t.Errorf("unexpected envelope header: ver=%d scheme=%s", env.Ver, env.Scheme)
	}

	decrypted, err := OpenRecord(key, env, aad)
	if err != nil {
		t.Fatalf("OpenRecord failed: %v", err)
	}
	if !bytes.Equal(plain, decrypted) {
		t.Errorf("expected %s, got %s", plain, decrypted)
	}

	t.Run("WrongAAD", func(t *testing.T) {
		if _, err := OpenRecord(key, env, []byte("wrong context")); err == nil {
			t.Error("expected error with wrong AAD, got nil")
		}
	})

	t.Run("WrongKey", func(t *testing.T) {
		other, _ := util.RandomBytes(util.AESKeySize)
		if _, err := OpenRecord(other, env, aad); err == nil {
			t.Error("expected error with wrong key, got nil")
		}
	})

	t.Run("PlainSchemeRejected", func(t *testing.T) {
		plainEnv, _ := MarshalRecord(map[string]string{"a": "b"}, 0)
		if _, err := OpenRecord(key, plainEnv, aad); err == nil {
			t.Error("expected error opening a plain-json record")
		}
	})
}

func TestPlainRecord(t *testing.T) {
	type row struct {
		Email string `json:"email"`
	}
	env, err := MarshalRecord(row{Email: "a@example.com"}, 3)
	if err != nil {
		t.Fatalf("MarshalRecord failed: %v", err)
	}
	if env.Version != 3 {
		t.Errorf("expected version 3, got %d", env.Version)
	}

	var got row
	if err := UnmarshalRecord(env, &got); err != nil {
		t.Fatalf("UnmarshalRecord failed: %v", err)
	}
	if got.Email != "a@example.com" {
		t.Errorf("unexpected email %q", got.Email)
	}

	clone := env.Clone()
	clone.Payload[0] = 'X'
	if env.Payload[0] == 'X' {
		t.Error("Clone should not share payload memory")
	}
}
