/*
	Symmetric encryption of structured values under a password.

	Messages are laid out as hex(salt) || hex(iv) || base64(ciphertext), which
	is the layout the vCD UI extension reads and writes. The key is derived with
	PBKDF2 over a fresh salt for every message. The iteration count is low and
	kept only for compatibility with records already stored on the platform.
*/

package enc

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha1"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

const (
	KeySize    = 32
	SaltSize   = 16
	IVSize     = 16
	Iterations = 100

	// Hex encoded salt and iv are fixed width.
	saltHexLen = SaltSize * 2
	ivHexLen   = IVSize * 2
	headerLen  = saltHexLen + ivHexLen
)

var ErrDecryptionFailed = errors.New("decryption failed")

func deriveKey(password string, salt []byte) []byte {
	return pbkdf2.Key([]byte(password), salt, Iterations, KeySize, sha1.New)
}

// Seal encrypts raw plaintext bytes under password.
func Seal(plaintext []byte, password string) (string, error) {
	salt := make([]byte, SaltSize)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}
	iv := make([]byte, IVSize)
	if _, err := rand.Read(iv); err != nil {
		return "", fmt.Errorf("failed to generate iv: %w", err)
	}

	block, err := aes.NewCipher(deriveKey(password, salt))
	if err != nil {
		return "", err
	}

	padded := pkcs7Pad(plaintext, block.BlockSize())
	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)

	return hex.EncodeToString(salt) + hex.EncodeToString(iv) + base64.StdEncoding.EncodeToString(ciphertext), nil
}

// Open reverses Seal. Every failure, including a wrong password, is reported
// as ErrDecryptionFailed.
func Open(message string, password string) ([]byte, error) {
	if len(message) <= headerLen {
		return nil, fmt.Errorf("%w: message too short", ErrDecryptionFailed)
	}

	salt, err := hex.DecodeString(message[:saltHexLen])
	if err != nil {
		return nil, fmt.Errorf("%w: malformed salt", ErrDecryptionFailed)
	}
	iv, err := hex.DecodeString(message[saltHexLen:headerLen])
	if err != nil {
		return nil, fmt.Errorf("%w: malformed iv", ErrDecryptionFailed)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(message[headerLen:])
	if err != nil {
		return nil, fmt.Errorf("%w: malformed ciphertext", ErrDecryptionFailed)
	}

	block, err := aes.NewCipher(deriveKey(password, salt))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	if len(ciphertext) == 0 || len(ciphertext)%block.BlockSize() != 0 {
		return nil, fmt.Errorf("%w: ciphertext is not a multiple of the block size", ErrDecryptionFailed)
	}

	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plaintext, ciphertext)

	plaintext, err = pkcs7Unpad(plaintext, block.BlockSize())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	return plaintext, nil
}

// Encrypt serializes value as JSON and seals it under password.
func Encrypt(value any, password string) (string, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return "", fmt.Errorf("failed to serialize value: %w", err)
	}
	return Seal(data, password)
}

// Decrypt opens message and parses the plaintext into target. Parse failures
// are folded into ErrDecryptionFailed.
func Decrypt(message string, password string, target any) error {
	plaintext, err := Open(message, password)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(plaintext, target); err != nil {
		return fmt.Errorf("%w: plaintext is not a valid value", ErrDecryptionFailed)
	}
	return nil
}

// RandomKey returns 32 random bytes, hex encoded. The result is used directly
// as an organization's data encryption key.
func RandomKey() (string, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return "", fmt.Errorf("failed to generate key: %w", err)
	}
	return hex.EncodeToString(key), nil
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	n := blockSize - len(data)%blockSize
	return append(bytes.Clone(data), bytes.Repeat([]byte{byte(n)}, n)...)
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, errors.New("invalid padded length")
	}
	n := int(data[len(data)-1])
	if n == 0 || n > blockSize {
		return nil, errors.New("invalid padding")
	}
	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return nil, errors.New("invalid padding")
		}
	}
	return data[:len(data)-n], nil
}
