package enc

import (
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Name    string   `json:"name"`
	Version int      `json:"version"`
	Tags    []string `json:"tags"`
	Enabled bool     `json:"enabled"`
}

func TestEncryptDecrypt_RoundTrip(t *testing.T) {
	values := map[string]any{
		"struct": sample{Name: "ep1", Version: 3, Tags: []string{"a", "b"}, Enabled: true},
		"string": "0123456789abcdef",
		"empty":  sample{},
	}

	for name, value := range values {
		t.Run(name, func(t *testing.T) {
			msg, err := Encrypt(value, "p@ssw0rd")
			require.NoError(t, err)

			switch v := value.(type) {
			case sample:
				var out sample
				require.NoError(t, Decrypt(msg, "p@ssw0rd", &out))
				assert.Equal(t, v, out)
			case string:
				var out string
				require.NoError(t, Decrypt(msg, "p@ssw0rd", &out))
				assert.Equal(t, v, out)
			}
		})
	}
}

// Sealed by the vCD UI extension's crypto-js code path: PBKDF2-SHA1 with 100
// iterations, AES-256-CBC, PKCS7, salt 00..0f and iv f0..00.
const knownMessage = "000102030405060708090a0b0c0d0e0f" +
	"f0e0d0c0b0a090807060504030201000" +
	"Q0Lgjp540CaYIXfp8XW5ajpoYnjbPnnuFCJaplAjpt4="

func TestDecrypt_KnownAnswer(t *testing.T) {
	salt, err := hex.DecodeString("000102030405060708090a0b0c0d0e0f")
	require.NoError(t, err)
	assert.Equal(t, "ca9b4ea6d2547042c1f7d7c02fbb8f0c12799b22613997954f118c6c5a451abd",
		hex.EncodeToString(deriveKey("cohesityvCD", salt)))

	plaintext, err := Open(knownMessage, "cohesityvCD")
	require.NoError(t, err)
	assert.Equal(t, `{"name":"ep1","ip":"10.0.0.1"}`, string(plaintext))

	var got map[string]string
	require.NoError(t, Decrypt(knownMessage, "cohesityvCD", &got))
	assert.Equal(t, map[string]string{"name": "ep1", "ip": "10.0.0.1"}, got)

	assert.ErrorIs(t, Decrypt(knownMessage, "cohesityvcd", &got), ErrDecryptionFailed)
}

func TestEncrypt_Layout(t *testing.T) {
	msg, err := Encrypt(map[string]string{"k": "v"}, "pw")
	require.NoError(t, err)

	require.Greater(t, len(msg), headerLen)
	_, err = hex.DecodeString(msg[:32])
	require.NoError(t, err, "salt must be 32 hex chars")
	_, err = hex.DecodeString(msg[32:64])
	require.NoError(t, err, "iv must be 32 hex chars")
}

func TestEncrypt_FreshSaltAndIV(t *testing.T) {
	a, err := Encrypt("same", "pw")
	require.NoError(t, err)
	b, err := Encrypt("same", "pw")
	require.NoError(t, err)

	assert.NotEqual(t, a[:headerLen], b[:headerLen])
	assert.NotEqual(t, a, b)
}

func TestDecrypt_WrongPassword(t *testing.T) {
	value := sample{Name: "ep1", Tags: []string{"x"}}
	msg, err := Encrypt(value, "right")
	require.NoError(t, err)

	var out sample
	err = Decrypt(msg, "wrong", &out)
	require.ErrorIs(t, err, ErrDecryptionFailed)
	assert.Equal(t, sample{}, out)
}

func TestDecrypt_Corrupted(t *testing.T) {
	msg, err := Encrypt(sample{Name: "ep1"}, "pw")
	require.NoError(t, err)

	cases := map[string]string{
		"empty":          "",
		"header only":    msg[:headerLen],
		"bad salt":       "zz" + msg[2:],
		"bad iv":         msg[:40] + "zz" + msg[42:],
		"bad base64":     msg[:headerLen] + "!!!!",
		"truncated body": msg[:headerLen] + base64Chunk(msg[headerLen:]),
	}

	for name, bad := range cases {
		t.Run(name, func(t *testing.T) {
			var out sample
			require.ErrorIs(t, Decrypt(bad, "pw", &out), ErrDecryptionFailed)
		})
	}
}

func TestDecrypt_NotJSON(t *testing.T) {
	msg, err := Seal([]byte("not json at all"), "pw")
	require.NoError(t, err)

	raw, err := Open(msg, "pw")
	require.NoError(t, err)
	assert.Equal(t, "not json at all", string(raw))

	var out sample
	require.ErrorIs(t, Decrypt(msg, "pw", &out), ErrDecryptionFailed)
}

func TestRandomKey(t *testing.T) {
	a, err := RandomKey()
	require.NoError(t, err)
	b, err := RandomKey()
	require.NoError(t, err)

	assert.Len(t, a, KeySize*2)
	assert.NotEqual(t, a, b)
	_, err = hex.DecodeString(a)
	require.NoError(t, err)

	// A generated key is usable as a password for nested encryption.
	msg, err := Encrypt(sample{Name: "tenant"}, a)
	require.NoError(t, err)
	var out sample
	require.NoError(t, Decrypt(msg, a, &out))
	assert.Equal(t, "tenant", out.Name)
}

func TestPKCS7(t *testing.T) {
	for n := 0; n < 40; n++ {
		data := []byte(strings.Repeat("a", n))
		padded := pkcs7Pad(data, 16)
		require.Zero(t, len(padded)%16)
		out, err := pkcs7Unpad(padded, 16)
		require.NoError(t, err)
		require.Equal(t, data, out)
	}

	_, err := pkcs7Unpad(append([]byte(strings.Repeat("a", 15)), 0), 16)
	require.Error(t, err)
	_, err = pkcs7Unpad(append([]byte(strings.Repeat("a", 14)), 2, 3), 16)
	require.Error(t, err)
}

// base64Chunk drops the last block worth of base64 so the ciphertext length
// is no longer a multiple of the block size.
func base64Chunk(s string) string {
	if len(s) <= 8 {
		return "AAAA"
	}
	return s[:len(s)-8] + "AAAA"
}
