// Package crypto provides password-based at-rest encryption (Argon2id +
// AES-256-GCM). Its caller is the provider ProviderConfigStore, which
// encrypts provider API keys with it.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"
)

const (
	// Argon2id parameters (OWASP-compliant)
	Argon2Time    = 4          // iterations
	Argon2Memory  = 256 * 1024 // 256 MiB in KiB
	Argon2Threads = 4          // threads
	Argon2KeyLen  = 32         // 256-bit key for AES-256
	Argon2SaltLen = 16         // 128-bit salt
	AESNonceLen   = 12         // 96-bit nonce for GCM
)

// EncryptedBlob holds key material encrypted with Argon2id-derived AES-256-GCM.
type EncryptedBlob struct {
	Salt          []byte
	Nonce         []byte
	Ciphertext    []byte // includes 16-byte authentication tag
	Argon2Time    uint32
	Argon2Memory  uint32
	Argon2Threads uint8
	Version       uint8
}

// EncryptKeyMaterial encrypts opaque escrow key material (e.g. a serialized
// signer, an xprv, a raw private key) using Argon2id + AES-256-GCM.
func EncryptKeyMaterial(keyMaterial []byte, passphrase string) (*EncryptedBlob, error) {
	salt := make([]byte, Argon2SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}

	key := argon2.IDKey([]byte(passphrase), salt, Argon2Time, Argon2Memory, Argon2Threads, Argon2KeyLen)
	defer ClearBytes(key)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	nonce := make([]byte, AESNonceLen)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nil, nonce, keyMaterial, nil)

	return &EncryptedBlob{
		Salt:          salt,
		Nonce:         nonce,
		Ciphertext:    ciphertext,
		Argon2Time:    Argon2Time,
		Argon2Memory:  Argon2Memory,
		Argon2Threads: Argon2Threads,
		Version:       1,
	}, nil
}

// DecryptKeyMaterial reverses EncryptKeyMaterial.
func DecryptKeyMaterial(encrypted *EncryptedBlob, passphrase string) ([]byte, error) {
	if encrypted == nil {
		return nil, errors.New("encrypted blob is nil")
	}
	if len(encrypted.Salt) != Argon2SaltLen {
		return nil, fmt.Errorf("invalid salt length: got %d, want %d", len(encrypted.Salt), Argon2SaltLen)
	}
	if len(encrypted.Nonce) != AESNonceLen {
		return nil, fmt.Errorf("invalid nonce length: got %d, want %d", len(encrypted.Nonce), AESNonceLen)
	}

	key := argon2.IDKey(
		[]byte(passphrase),
		encrypted.Salt,
		encrypted.Argon2Time,
		encrypted.Argon2Memory,
		encrypted.Argon2Threads,
		Argon2KeyLen,
	)
	defer ClearBytes(key)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	plaintext, err := gcm.Open(nil, encrypted.Nonce, encrypted.Ciphertext, nil)
	if err != nil {
		return nil, errors.New("authentication failed: wrong passphrase or corrupted data")
	}

	return plaintext, nil
}

// Serialize encodes an EncryptedBlob to binary format:
// [version:1][time:4][memory:4][threads:1][salt:16][nonce:12][ciphertext:variable]
func Serialize(encrypted *EncryptedBlob) []byte {
	size := 1 + 4 + 4 + 1 + len(encrypted.Salt) + len(encrypted.Nonce) + len(encrypted.Ciphertext)
	result := make([]byte, size)

	offset := 0
	result[offset] = encrypted.Version
	offset++

	binary.BigEndian.PutUint32(result[offset:], encrypted.Argon2Time)
	offset += 4

	binary.BigEndian.PutUint32(result[offset:], encrypted.Argon2Memory)
	offset += 4

	result[offset] = encrypted.Argon2Threads
	offset++

	copy(result[offset:], encrypted.Salt)
	offset += len(encrypted.Salt)

	copy(result[offset:], encrypted.Nonce)
	offset += len(encrypted.Nonce)

	copy(result[offset:], encrypted.Ciphertext)

	return result
}

// Deserialize reverses Serialize.
func Deserialize(data []byte) (*EncryptedBlob, error) {
	minSize := 1 + 4 + 4 + 1 + Argon2SaltLen + AESNonceLen
	if len(data) < minSize {
		return nil, fmt.Errorf("invalid encrypted data: size %d < minimum %d", len(data), minSize)
	}

	offset := 0
	version := data[offset]
	offset++

	argon2Time := binary.BigEndian.Uint32(data[offset:])
	offset += 4

	argon2Memory := binary.BigEndian.Uint32(data[offset:])
	offset += 4

	argon2Threads := data[offset]
	offset++

	salt := make([]byte, Argon2SaltLen)
	copy(salt, data[offset:offset+Argon2SaltLen])
	offset += Argon2SaltLen

	nonce := make([]byte, AESNonceLen)
	copy(nonce, data[offset:offset+AESNonceLen])
	offset += AESNonceLen

	ciphertext := make([]byte, len(data)-offset)
	copy(ciphertext, data[offset:])

	return &EncryptedBlob{
		Salt:          salt,
		Nonce:         nonce,
		Ciphertext:    ciphertext,
		Argon2Time:    argon2Time,
		Argon2Memory:  argon2Memory,
		Argon2Threads: argon2Threads,
		Version:       version,
	}, nil
}

// Encrypt encrypts arbitrary bytes and returns the serialized blob.
func Encrypt(data []byte, passphrase string) ([]byte, error) {
	encrypted, err := EncryptKeyMaterial(data, passphrase)
	if err != nil {
		return nil, err
	}
	return Serialize(encrypted), nil
}

// Decrypt reverses Encrypt.
func Decrypt(encryptedData []byte, passphrase string) ([]byte, error) {
	encrypted, err := Deserialize(encryptedData)
	if err != nil {
		return nil, err
	}
	return DecryptKeyMaterial(encrypted, passphrase)
}
