package signer

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef-festival"

func newSigner(t *testing.T) *Signer {
	t.Helper()
	s, err := New(testSecret)
	require.NoError(t, err)
	return s
}

func samplePayload() Payload {
	return Payload{
		IssuedAt:   1781827200,
		Kind:       "DAY",
		TicketCode: "ABCDEFGHIJKLMNOPQRSTUVWX",
		ValidDays:  []string{"2026-06-20", "2026-06-19"},
		Version:    1,
	}
}

func TestNewRejectsShortSecret(t *testing.T) {
	_, err := New("short")
	assert.ErrorIs(t, err, ErrWeakSecret)
}

func TestSignVerifyRoundTrip(t *testing.T) {
	s := newSigner(t)
	tok, err := s.Sign(samplePayload())
	require.NoError(t, err)

	p, err := s.Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, "ABCDEFGHIJKLMNOPQRSTUVWX", p.TicketCode)
	assert.Equal(t, 1, p.Version)
	assert.Len(t, p.Nonce, 24)
	assert.Equal(t, []string{"2026-06-19", "2026-06-20"}, p.ValidDays)
}

func TestSignUsesFreshNonce(t *testing.T) {
	s := newSigner(t)
	a, err := s.Sign(samplePayload())
	require.NoError(t, err)
	b, err := s.Sign(samplePayload())
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestVerifyDetectsTampering(t *testing.T) {
	s := newSigner(t)
	tok, err := s.Sign(samplePayload())
	require.NoError(t, err)

	var env map[string]json.RawMessage
	require.NoError(t, json.Unmarshal([]byte(tok), &env))
	var fields map[string]any
	require.NoError(t, json.Unmarshal(env["payload"], &fields))

	mutate := map[string]any{
		"issued_at":   1781827201,
		"kind":        "VIP",
		"nonce":       "000000000000000000000000",
		"ticket_code": "ABCDEFGHIJKLMNOPQRSTUVWY",
		"valid_days":  []string{"2026-06-21"},
		"version":     2,
	}
	for name, v := range mutate {
		t.Run(name, func(t *testing.T) {
			cp := make(map[string]any, len(fields))
			for k, fv := range fields {
				cp[k] = fv
			}
			cp[name] = v
			body, err := json.Marshal(cp)
			require.NoError(t, err)
			forged, err := json.Marshal(map[string]json.RawMessage{"payload": body, "signature": env["signature"]})
			require.NoError(t, err)

			_, err = s.Verify(string(forged))
			assert.ErrorIs(t, err, ErrInvalid)
		})
	}

	t.Run("signature", func(t *testing.T) {
		var sig string
		require.NoError(t, json.Unmarshal(env["signature"], &sig))
		flipped := []byte(sig)
		if flipped[0] == 'a' {
			flipped[0] = 'b'
		} else {
			flipped[0] = 'a'
		}
		forged := strings.Replace(tok, sig, string(flipped), 1)
		_, err := s.Verify(forged)
		assert.ErrorIs(t, err, ErrInvalid)
	})
}

func TestVerifyRejectsOtherKey(t *testing.T) {
	tok, err := newSigner(t).Sign(samplePayload())
	require.NoError(t, err)
	other, err := New("another-secret-of-enough-length")
	require.NoError(t, err)
	_, err = other.Verify(tok)
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestVerifyRejectsGarbage(t *testing.T) {
	s := newSigner(t)
	for _, in := range []string{"", "ABCDEF", `{"payload":{},"signature":"zz"}`, `{"signature":"00"}`} {
		_, err := s.Verify(in)
		assert.ErrorIs(t, err, ErrInvalid, in)
	}
}

func TestTicketCode(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		code, err := NewTicketCode()
		require.NoError(t, err)
		assert.Len(t, code, 24)
		assert.Equal(t, strings.ToUpper(code), code)
		assert.False(t, seen[code])
		seen[code] = true
	}
}

func TestTransferToken(t *testing.T) {
	raw, hash, err := NewTransferToken()
	require.NoError(t, err)
	assert.Len(t, raw, 43)
	assert.Len(t, hash, 64)
	assert.Equal(t, hash, HashToken(raw))
	assert.NotEqual(t, hash, HashToken(raw+"x"))
	assert.NotContains(t, hash, raw)
}
