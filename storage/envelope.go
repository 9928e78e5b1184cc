package storage

import (
	"encoding/json"
	"fmt"

	"github.com/jmcleod/showcase/internal/util"
)

const (
	// SchemePlainJSON marks a record whose payload is clear JSON.
	SchemePlainJSON = "plain-json"
	// SchemeAESGCM marks a record sealed with AES-256-GCM.
	SchemeAESGCM = "aes256gcm"
)

// Envelope is a stored record: either a clear JSON row or a sealed payload.
type Envelope struct {
	Ver     int    `json:"ver"`
	Scheme  string `json:"scheme"`
	Nonce   []byte `json:"nonce,omitempty"`
	Payload []byte `json:"payload"`
	Version uint64 `json:"version,omitempty"`
}

// Clone returns a deep copy of env.
func (env *Envelope) Clone() *Envelope {
	if env == nil {
		return nil
	}
	return &Envelope{
		Ver:     env.Ver,
		Scheme:  env.Scheme,
		Nonce:   append([]byte(nil), env.Nonce...),
		Payload: append([]byte(nil), env.Payload...),
		Version: env.Version,
	}
}

// MarshalRecord encodes v as a plain JSON envelope.
func MarshalRecord(v any, version uint64) (*Envelope, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding record: %w", err)
	}
	return &Envelope{Ver: 1, Scheme: SchemePlainJSON, Payload: data, Version: version}, nil
}

// UnmarshalRecord decodes a plain JSON envelope into v.
func UnmarshalRecord(env *Envelope, v any) error {
	if env.Scheme != SchemePlainJSON {
		return fmt.Errorf("unsupported envelope scheme: %s", env.Scheme)
	}
	if err := json.Unmarshal(env.Payload, v); err != nil {
		return fmt.Errorf("decoding record: %w", err)
	}
	return nil
}

// SealRecord encrypts plaintext into an Envelope using key and aad.
func SealRecord(key, plaintext, aad []byte) (*Envelope, error) {
	nonce, ciphertext, err := util.SealAESGCM(key, plaintext, aad)
	if err != nil {
		return nil, err
	}
	return &Envelope{Ver: 1, Scheme: SchemeAESGCM, Nonce: nonce, Payload: ciphertext}, nil
}

// OpenRecord decrypts an Envelope produced by SealRecord.
func OpenRecord(key []byte, envelope *Envelope, aad []byte) ([]byte, error) {
	if envelope.Ver != 1 {
		return nil, fmt.Errorf("unsupported envelope version: %d", envelope.Ver)
	}
	if envelope.Scheme != SchemeAESGCM {
		return nil, fmt.Errorf("unsupported envelope scheme: %s", envelope.Scheme)
	}
	return util.OpenAESGCM(key, envelope.Nonce, envelope.Payload, aad)
}
