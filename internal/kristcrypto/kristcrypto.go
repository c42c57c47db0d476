// Package kristcrypto implements the v2 address derivation scheme and
// password hashing used to authenticate Kromer wallets.
package kristcrypto

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"

	"golang.org/x/crypto/argon2"
)

// -----------------------------------------------------------------------------
// Errors - typed errors for programmatic handling
// -----------------------------------------------------------------------------

var (
	ErrEmptyPrivateKey  = errors.New("kristcrypto: private key must not be empty")
	ErrEmptyPrefix      = errors.New("kristcrypto: address prefix must not be empty")
	ErrDerivationFailed = errors.New("kristcrypto: address derivation exceeded maximum iterations")
)

// AddressSuffixLen is the number of characters the v2 scheme derives from
// the private key; the address itself is the prefix plus this many chars.
const AddressSuffixLen = 9

// WalletVersion is the v2 address derivation scheme's version number,
// reported in the gateway's hello envelope.
const WalletVersion = 2

// extractionRounds is the number of slots the initial hash chain fills
// before the pair-emission phase begins — every slot is filled up front, so
// the emission phase's retry loop only ever rehashes past slots already
// drained by an earlier emission, not ones that were never filled.
const extractionRounds = 9

// maxPairIterations bounds the emission retry loop. The loop re-hashes and
// retries whenever it lands on a still-empty slot; real keys resolve this
// in a handful of iterations, but a bound is required to fail closed
// instead of spinning forever (spec'd edge case).
const maxPairIterations = 10000

// DeriveV2Address computes the Kromer v2 address for privateKey under the
// given single-character address prefix (the live network uses "k").
func DeriveV2Address(privateKey, prefix string) (string, error) {
	if privateKey == "" {
		return "", ErrEmptyPrivateKey
	}
	if prefix == "" {
		return "", ErrEmptyPrefix
	}

	h := doubleSHA256(privateKey)

	// Extraction phase: fill all 9 slots with the leading hex pair of each
	// successive double-hash of h.
	var slots [9]string
	for round := 0; round < extractionRounds; round++ {
		slots[round] = h[:2]
		h = doubleSHA256(h)
	}

	// Emission phase: walk i from 0..8, picking a slot index from the
	// current hash and emitting its content once that slot is non-empty.
	out := make([]byte, 0, AddressSuffixLen)
	i := 0
	iterations := 0
	for i < AddressSuffixLen {
		iterations++
		if iterations > maxPairIterations {
			return "", fmt.Errorf("%w: derived only %d of %d characters", ErrDerivationFailed, len(out), AddressSuffixLen)
		}

		pair := h[2*i : 2*i+2]
		n, err := strconv.ParseUint(pair, 16, 16)
		if err != nil {
			return "", fmt.Errorf("kristcrypto: malformed hash chain: %w", err)
		}
		j := int(n) % 9

		if slots[j] != "" {
			slotVal, err := strconv.ParseUint(slots[j], 16, 8)
			if err != nil {
				return "", fmt.Errorf("kristcrypto: malformed slot value: %w", err)
			}
			out = append(out, hexToBase36(byte(slotVal)))
			slots[j] = ""
			i++
			continue
		}

		h = hexSHA256(h)
	}

	return prefix + string(out), nil
}

// hexToBase36 maps a byte (0-255) onto a single lowercase alphanumeric
// character, per the v2 scheme's published mapping.
func hexToBase36(b byte) byte {
	t := 48 + int(b)/7
	if t+39 > 112 {
		return 'e'
	}
	if t > 57 {
		return byte(t + 39)
	}
	return byte(t)
}

// hexSHA256 returns the hex-encoded SHA-256 digest of s.
func hexSHA256(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// doubleSHA256 returns the hex-encoded SHA-256 digest of the SHA-256 digest
// of s.
func doubleSHA256(s string) string {
	return hexSHA256(hexSHA256(s))
}

// -----------------------------------------------------------------------------
// Password hashing (argon2id), for wallets authenticated by a password
// rather than a bare private key.
// -----------------------------------------------------------------------------

const (
	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
	argonKeyLen  = 32
	saltLen      = 16
)

// HashPassword derives a salted argon2id hash suitable for storage,
// formatted as "salt:hash" (both hex-encoded).
func HashPassword(password string, salt []byte) string {
	hash := argon2.IDKey([]byte(password), salt, argonTime, argonMemory, argonThreads, argonKeyLen)
	return hex.EncodeToString(salt) + ":" + hex.EncodeToString(hash)
}

// VerifyPassword checks plain against a hash produced by HashPassword,
// using a constant-time comparison to avoid timing side channels.
func VerifyPassword(plain, stored string) (bool, error) {
	saltHex, hashHex, ok := splitStored(stored)
	if !ok {
		return false, errors.New("kristcrypto: malformed stored password hash")
	}

	salt, err := hex.DecodeString(saltHex)
	if err != nil {
		return false, fmt.Errorf("kristcrypto: decode salt: %w", err)
	}
	want, err := hex.DecodeString(hashHex)
	if err != nil {
		return false, fmt.Errorf("kristcrypto: decode hash: %w", err)
	}

	got := argon2.IDKey([]byte(plain), salt, argonTime, argonMemory, argonThreads, uint32(len(want)))
	return subtle.ConstantTimeCompare(got, want) == 1, nil
}

func splitStored(stored string) (salt, hash string, ok bool) {
	for i := 0; i < len(stored); i++ {
		if stored[i] == ':' {
			return stored[:i], stored[i+1:], true
		}
	}
	return "", "", false
}

// NewSalt generates a random salt for HashPassword.
func NewSalt() ([]byte, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("kristcrypto: generate salt: %w", err)
	}
	return salt, nil
}
