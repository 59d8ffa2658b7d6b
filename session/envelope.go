package session

import (
	"encoding/json"
	"errors"
	"fmt"
)

// EnvelopeVersion is the current wire version of EncryptedEnvelope payloads.
const EnvelopeVersion = 1

// EncryptedEnvelope is the unit exchanged between peers. IsPreKey reflects
// whether the underlying cipher step produced an initial (prekey) or
// continuation message; callers never set it manually.
type EncryptedEnvelope struct {
	Version  int    `json:"version"`
	IsPreKey bool   `json:"isPreKey"`
	Payload  []byte `json:"payload"`
}

// HandshakeHeader carries the initiator's key material inside prekey
// messages so the responder can derive the same session.
type HandshakeHeader struct {
	IdentityKey     [32]byte `json:"identityKey"`
	EphemeralKey    [32]byte `json:"ephemeralKey"`
	SignedPreKeyID  uint32   `json:"signedPreKeyId"`
	OneTimePreKeyID uint32   `json:"oneTimePreKeyId,omitempty"`
}

// payloadV1 is the version 1 payload layout. Handshake is present only on
// prekey messages.
type payloadV1 struct {
	Handshake  *HandshakeHeader `json:"handshake,omitempty"`
	Counter    uint32           `json:"counter"`
	Ciphertext []byte           `json:"ciphertext"`
}

// Marshal serializes the envelope for transmission.
func (e *EncryptedEnvelope) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// UnmarshalEnvelope parses a serialized envelope, rejecting versions newer
// than this implementation understands.
func UnmarshalEnvelope(data []byte) (*EncryptedEnvelope, error) {
	var e EncryptedEnvelope
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("malformed envelope: %w", err)
	}
	if e.Version == 0 {
		return nil, errors.New("envelope missing version field")
	}
	if e.Version > EnvelopeVersion {
		return nil, fmt.Errorf("unsupported envelope version %d", e.Version)
	}
	return &e, nil
}

func encodePayload(p *payloadV1) ([]byte, error) {
	return json.Marshal(p)
}

func decodePayload(data []byte) (*payloadV1, error) {
	var p payloadV1
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("malformed envelope payload: %w", err)
	}
	return &p, nil
}
