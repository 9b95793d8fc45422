package vault

import (
	"bytes"
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/tonies-go/internal/apperr"
)

func newTestVault(t *testing.T) *Vault {
	t.Helper()

	v, err := New(bytes.Repeat([]byte{0x42}, KeySize))
	require.NoError(t, err)

	return v
}

func TestNew_RejectsWrongKeySize(t *testing.T) {
	_, err := New([]byte("short"))
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)
}

func TestProtect_RoundTrip(t *testing.T) {
	v := newTestVault(t)

	inputs := []string{
		"x",
		"hunter2",
		"pässwörd mit Ümlauten",
		"パスワード🔐",
		strings.Repeat("long-secret-", 10_000),
	}

	for _, in := range inputs {
		ct, err := v.Protect(in)
		require.NoError(t, err)

		out, err := v.Unprotect(ct)
		require.NoError(t, err)
		assert.Equal(t, in, out)
	}
}

func TestProtect_FreshNoncePerCall(t *testing.T) {
	v := newTestVault(t)

	a, err := v.Protect("same")
	require.NoError(t, err)

	b, err := v.Protect("same")
	require.NoError(t, err)

	assert.NotEqual(t, a, b)

	for _, ct := range []string{a, b} {
		out, err := v.Unprotect(ct)
		require.NoError(t, err)
		assert.Equal(t, "same", out)
	}
}

func TestProtect_EmptyInput(t *testing.T) {
	v := newTestVault(t)

	_, err := v.Protect("")
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)
}

func TestUnprotect_EmptyInput(t *testing.T) {
	v := newTestVault(t)

	_, err := v.Unprotect("")
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)
}

func TestUnprotect_MalformedBase64(t *testing.T) {
	v := newTestVault(t)

	for _, in := range []string{"not base64!!", "%%%%", "abc"} {
		_, err := v.Unprotect(in)
		require.Error(t, err, in)
		assert.ErrorIs(t, err, apperr.ErrCorruptCiphertext, in)
	}
}

func TestUnprotect_Truncated(t *testing.T) {
	v := newTestVault(t)

	ct, err := v.Protect("secret")
	require.NoError(t, err)

	raw, err := base64.StdEncoding.DecodeString(ct)
	require.NoError(t, err)

	for n := 0; n < len(raw); n++ {
		if n == 0 {
			continue
		}

		_, err := v.Unprotect(base64.StdEncoding.EncodeToString(raw[:n]))
		require.Error(t, err, "length %d", n)
		assert.ErrorIs(t, err, apperr.ErrCorruptCiphertext)
	}
}

func TestUnprotect_EveryFlippedByteDetected(t *testing.T) {
	v := newTestVault(t)

	ct, err := v.Protect("do not tamper")
	require.NoError(t, err)

	raw, err := base64.StdEncoding.DecodeString(ct)
	require.NoError(t, err)

	for i := range raw {
		tampered := bytes.Clone(raw)
		tampered[i] ^= 0x01

		_, err := v.Unprotect(base64.StdEncoding.EncodeToString(tampered))
		require.Error(t, err, "byte %d", i)
		assert.ErrorIs(t, err, apperr.ErrCorruptCiphertext)
	}
}

func TestUnprotect_EveryFlippedCharacterDetected(t *testing.T) {
	v := newTestVault(t)

	ct, err := v.Protect("encoded form too")
	require.NoError(t, err)

	for i := range len(ct) {
		b := []byte(ct)
		b[i] ^= 0x01

		out, err := v.Unprotect(string(b))
		require.Error(t, err, "char %d (output %q)", i, out)
		assert.ErrorIs(t, err, apperr.ErrCorruptCiphertext)
	}
}

func TestUnprotect_LineBreakRejected(t *testing.T) {
	v := newTestVault(t)

	ct, err := v.Protect("secret")
	require.NoError(t, err)

	_, err = v.Unprotect(ct[:4] + "\n" + ct[4:])
	assert.ErrorIs(t, err, apperr.ErrCorruptCiphertext)
}

func TestUnprotect_WrongKey(t *testing.T) {
	v := newTestVault(t)

	ct, err := v.Protect("secret")
	require.NoError(t, err)

	other, err := New(bytes.Repeat([]byte{0x07}, KeySize))
	require.NoError(t, err)

	_, err = other.Unprotect(ct)
	assert.ErrorIs(t, err, apperr.ErrCorruptCiphertext)
}

func TestDeriveKey(t *testing.T) {
	salt := bytes.Repeat([]byte{1}, SaltSize)

	k1, err := DeriveKey("correct horse", salt)
	require.NoError(t, err)
	assert.Len(t, k1, KeySize)

	k2, err := DeriveKey("correct horse", salt)
	require.NoError(t, err)
	assert.Equal(t, k1, k2)

	k3, err := DeriveKey("correct horse", bytes.Repeat([]byte{2}, SaltSize))
	require.NoError(t, err)
	assert.NotEqual(t, k1, k3)
}

func TestDeriveKey_RawBase64Key(t *testing.T) {
	raw := bytes.Repeat([]byte{9}, KeySize)

	k, err := DeriveKey(base64.StdEncoding.EncodeToString(raw), nil)
	require.NoError(t, err)
	assert.Equal(t, raw, k)
}

func TestDeriveKey_Invalid(t *testing.T) {
	_, err := DeriveKey("", bytes.Repeat([]byte{1}, SaltSize))
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)

	_, err = DeriveKey("pass", []byte("short"))
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)
}
