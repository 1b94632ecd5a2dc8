// Package signer makes ticket credentials tamper-evident. QR payloads are
// signed with HMAC-SHA256 over a canonical JSON encoding; transfer tokens are
// random strings of which only a SHA-256 digest is ever stored.
package signer

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base32"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"slices"

	"golang.org/x/crypto/hkdf"
)

// MinSecretLen is the shortest QR signing secret New accepts.
const MinSecretLen = 16

const keyInfo = "ticket-qr"

var (
	// ErrWeakSecret is returned by New for secrets shorter than MinSecretLen.
	ErrWeakSecret = errors.New("signer: secret too short")
	// ErrInvalid is returned by Verify for malformed or tampered tokens.
	ErrInvalid = errors.New("signer: invalid signature")
)

// Payload is what a ticket QR carries. Fields are declared in lexical order
// of their JSON names so encoding/json emits the canonical form directly.
type Payload struct {
	IssuedAt   int64    `json:"issued_at"`
	Kind       string   `json:"kind"`
	Nonce      string   `json:"nonce"`
	TicketCode string   `json:"ticket_code"`
	ValidDays  []string `json:"valid_days"`
	Version    int      `json:"version"`
}

type envelope struct {
	Payload   json.RawMessage `json:"payload"`
	Signature string          `json:"signature"`
}

// Signer signs and verifies QR payloads. It is safe for concurrent use.
type Signer struct {
	key []byte
}

// New derives the HMAC key from secret with HKDF-SHA256.
func New(secret string) (*Signer, error) {
	if len(secret) < MinSecretLen {
		return nil, ErrWeakSecret
	}
	key := make([]byte, sha256.Size)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, []byte(keyInfo)), key); err != nil {
		return nil, fmt.Errorf("signer: derive key: %w", err)
	}
	return &Signer{key: key}, nil
}

func canonical(p Payload) ([]byte, error) {
	if p.ValidDays == nil {
		p.ValidDays = []string{}
	} else {
		p.ValidDays = slices.Clone(p.ValidDays)
		slices.Sort(p.ValidDays)
	}
	return json.Marshal(p)
}

func (s *Signer) mac(msg []byte) []byte {
	h := hmac.New(sha256.New, s.key)
	h.Write(msg)
	return h.Sum(nil)
}

// Sign returns the QR token for p. A zero Nonce is filled with a fresh one.
func (s *Signer) Sign(p Payload) (string, error) {
	if p.Nonce == "" {
		n, err := NewNonce()
		if err != nil {
			return "", err
		}
		p.Nonce = n
	}
	body, err := canonical(p)
	if err != nil {
		return "", fmt.Errorf("signer: encode payload: %w", err)
	}
	out, err := json.Marshal(envelope{Payload: body, Signature: hex.EncodeToString(s.mac(body))})
	if err != nil {
		return "", fmt.Errorf("signer: encode envelope: %w", err)
	}
	return string(out), nil
}

// Verify checks token and returns its payload. The payload is re-encoded
// canonically before the MAC is computed, so any change to a field value,
// including reordering or reformatting that alters a value, fails.
func (s *Signer) Verify(token string) (Payload, error) {
	var env envelope
	if err := json.Unmarshal([]byte(token), &env); err != nil || len(env.Payload) == 0 {
		return Payload{}, ErrInvalid
	}
	got, err := hex.DecodeString(env.Signature)
	if err != nil || len(got) != sha256.Size {
		return Payload{}, ErrInvalid
	}
	var p Payload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return Payload{}, ErrInvalid
	}
	body, err := canonical(p)
	if err != nil {
		return Payload{}, ErrInvalid
	}
	if !hmac.Equal(got, s.mac(body)) {
		return Payload{}, ErrInvalid
	}
	return p, nil
}

func randomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("signer: read random: %w", err)
	}
	return b, nil
}

// NewNonce returns 12 random bytes, hex encoded.
func NewNonce() (string, error) {
	b, err := randomBytes(12)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// NewTicketCode returns a 24 character upper-case base32 code carrying
// 120 bits of randomness.
func NewTicketCode() (string, error) {
	b, err := randomBytes(15)
	if err != nil {
		return "", err
	}
	return base32.StdEncoding.EncodeToString(b), nil
}

// NewTransferToken returns the raw token handed to the sender once and the
// hash to persist.
func NewTransferToken() (raw, hash string, err error) {
	b, err := randomBytes(32)
	if err != nil {
		return "", "", err
	}
	raw = base64.RawURLEncoding.EncodeToString(b)
	return raw, HashToken(raw), nil
}

// HashToken is the hex SHA-256 digest of a raw transfer token.
func HashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
