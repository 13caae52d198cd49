// internal/custody/custody.go
package custody

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"github.com/safarypto/safarypto/internal/logging"
)

const keySize = 32 // AES-256

// ErrIntegrity means the blob failed authentication: tampered ciphertext or
// the wrong custody key. Decryption fails closed.
var ErrIntegrity = errors.New("custody: integrity check failed")

// Keeper encrypts wallet signing material at rest with AES-256-GCM. The
// plaintext key exists only transiently inside a transfer's signing scope
// and is never logged.
type Keeper struct {
	key []byte
}

func NewKeeper(encryptionKey string) (*Keeper, error) {
	if len(encryptionKey) < keySize {
		return nil, fmt.Errorf("custody: encryption key must be at least %d bytes long", keySize)
	}
	return &Keeper{key: []byte(encryptionKey)[:keySize]}, nil
}

// Encrypt seals the private key under a fresh random nonce. The nonce is
// prefixed to the ciphertext and the whole blob is hex encoded.
func (k *Keeper) Encrypt(privateKey string) (string, error) {
	if privateKey == "" {
		return "", errors.New("custody: private key cannot be empty")
	}

	block, err := aes.NewCipher(k.key)
	if err != nil {
		logging.Error("error creating AES cipher for encryption")
		return "", fmt.Errorf("custody: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		logging.Error("error creating GCM for encryption")
		return "", fmt.Errorf("custody: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		logging.Error("error reading random nonce for encryption")
		return "", fmt.Errorf("custody: %w", err)
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(privateKey), nil)
	return hex.EncodeToString(ciphertext), nil
}

// Decrypt opens a blob produced by Encrypt. Any authentication failure is
// reported as ErrIntegrity without detail.
func (k *Keeper) Decrypt(blob string) (string, error) {
	if blob == "" {
		return "", errors.New("custody: encrypted private key cannot be empty")
	}

	ciphertext, err := hex.DecodeString(blob)
	if err != nil {
		logging.Error("error decoding encrypted private key")
		return "", ErrIntegrity
	}

	block, err := aes.NewCipher(k.key)
	if err != nil {
		return "", fmt.Errorf("custody: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("custody: %w", err)
	}

	if len(ciphertext) < gcm.NonceSize() {
		logging.Error("decryption failed: ciphertext too short")
		return "", ErrIntegrity
	}

	nonce, ciphertext := ciphertext[:gcm.NonceSize()], ciphertext[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		logging.Error("decryption failed: blob did not authenticate")
		return "", ErrIntegrity
	}

	return string(plaintext), nil
}
