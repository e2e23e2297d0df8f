package credential

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

const (
	AlgorithmBcrypt = "bcrypt"
	AlgorithmArgon2 = "argon2"
)

var ErrEmptyPIN = errors.New("PIN must not be empty")

// HashPIN hashes a preparer PIN with the configured algorithm.
func HashPIN(pin string, cfg Config) (string, error) {
	if pin == "" {
		return "", ErrEmptyPIN
	}
	if cfg.HashAlgorithm == AlgorithmArgon2 {
		return hashArgon2(pin, cfg)
	}
	cost := cfg.BcryptCost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(pin), cost)
	if err != nil {
		return "", fmt.Errorf("bcrypt hash failed: %w", err)
	}
	return string(hash), nil
}

// VerifyPIN checks pin against a stored hash; the algorithm is detected from
// the hash prefix.
func VerifyPIN(pin, storedHash string) bool {
	switch {
	case strings.HasPrefix(storedHash, "$2"):
		return bcrypt.CompareHashAndPassword([]byte(storedHash), []byte(pin)) == nil
	case strings.HasPrefix(storedHash, "$argon2id$"):
		return verifyArgon2(pin, storedHash)
	default:
		return false
	}
}

func hashArgon2(pin string, cfg Config) (string, error) {
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}
	hash := argon2.IDKey([]byte(pin), salt, cfg.Argon2Time, cfg.Argon2Memory, cfg.Argon2Threads, 32)
	return fmt.Sprintf("$argon2id$v=19$m=%d,t=%d,p=%d$%s$%s",
		cfg.Argon2Memory, cfg.Argon2Time, cfg.Argon2Threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash)), nil
}

func verifyArgon2(pin, encoded string) bool {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 {
		return false
	}
	var memory, iterations uint32
	var threads uint8
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &iterations, &threads); err != nil {
		return false
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false
	}
	expected, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return false
	}
	computed := argon2.IDKey([]byte(pin), salt, iterations, memory, threads, uint32(len(expected)))
	return subtle.ConstantTimeCompare(computed, expected) == 1
}
