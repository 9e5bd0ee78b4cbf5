package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	keySize    = 32 // AES-256
	saltSize   = 32
	pbkdf2Iter = 100000

	// encryptedPrefix marks a settings value produced by EncryptPassword.
	encryptedPrefix = "enc:"
)

// PasswordEncryptor keeps the server password encrypted in the settings file.
// The key is derived from a per-install salt and the machine identity, so
// the file is useless when copied elsewhere.
type PasswordEncryptor struct {
	keyPath string
}

// NewPasswordEncryptor creates an encryptor storing its salt under dataDir
func NewPasswordEncryptor(dataDir string) *PasswordEncryptor {
	return &PasswordEncryptor{
		keyPath: filepath.Join(dataDir, ".key"),
	}
}

// IsEncrypted reports whether value was produced by EncryptPassword.
func IsEncrypted(value string) bool {
	return strings.HasPrefix(value, encryptedPrefix)
}

// EncryptPassword encrypts a password for storage
func (pe *PasswordEncryptor) EncryptPassword(password string) (string, error) {
	if password == "" {
		return "", fmt.Errorf("password cannot be empty")
	}

	key, err := pe.getOrCreateKey()
	if err != nil {
		return "", fmt.Errorf("failed to get encryption key: %w", err)
	}

	gcm, err := newGCM(key)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(password), nil)
	return encryptedPrefix + base64.StdEncoding.EncodeToString(ciphertext), nil
}

// DecryptPassword returns the clear-text password. Values without the
// encrypted marker are returned unchanged so hand-edited settings keep working.
func (pe *PasswordEncryptor) DecryptPassword(stored string) (string, error) {
	if !IsEncrypted(stored) {
		return stored, nil
	}

	key, err := pe.loadKey()
	if err != nil {
		return "", fmt.Errorf("failed to load encryption key: %w", err)
	}

	ciphertext, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(stored, encryptedPrefix))
	if err != nil {
		return "", fmt.Errorf("failed to decode password: %w", err)
	}

	gcm, err := newGCM(key)
	if err != nil {
		return "", err
	}

	nonceSize := gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return "", fmt.Errorf("ciphertext too short")
	}

	nonce, ciphertext := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt password: %w", err)
	}

	return string(plaintext), nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}

func (pe *PasswordEncryptor) getOrCreateKey() ([]byte, error) {
	key, err := pe.loadKey()
	if err == nil {
		return key, nil
	}
	return pe.generateAndSaveKey()
}

func (pe *PasswordEncryptor) loadKey() ([]byte, error) {
	data, err := os.ReadFile(pe.keyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}

	salt, err := base64.StdEncoding.DecodeString(string(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode key: %w", err)
	}

	if len(salt) < saltSize {
		return nil, fmt.Errorf("invalid key file format")
	}

	return pbkdf2.Key([]byte(machineID()), salt[:saltSize], pbkdf2Iter, keySize, sha256.New), nil
}

func (pe *PasswordEncryptor) generateAndSaveKey() ([]byte, error) {
	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(pe.keyPath), 0700); err != nil {
		return nil, fmt.Errorf("failed to create key directory: %w", err)
	}

	if err := os.WriteFile(pe.keyPath, []byte(base64.StdEncoding.EncodeToString(salt)), 0600); err != nil {
		return nil, fmt.Errorf("failed to write key file: %w", err)
	}

	return pbkdf2.Key([]byte(machineID()), salt, pbkdf2Iter, keySize, sha256.New), nil
}

// machineID returns a machine-specific identifier
func machineID() string {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "default-machine"
	}

	username := os.Getenv("USER")
	if username == "" {
		username = os.Getenv("USERNAME")
	}
	if username == "" {
		username = "default-user"
	}

	return hostname + ":" + username
}

// DeleteKey removes the encryption key file
func (pe *PasswordEncryptor) DeleteKey() error {
	if err := os.Remove(pe.keyPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete key file: %w", err)
	}
	return nil
}
