package utils

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/mr-tron/base58"
)

// GenerateID generates a random hex ID
func GenerateID() (string, error) {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}

// IsValidPubkey checks if a string is a valid base58 Solana public key
func IsValidPubkey(address string) bool {
	decoded, err := base58.Decode(address)
	if err != nil {
		return false
	}
	return len(decoded) == 32
}

// IsValidSignature checks if a string is a valid base58 transaction signature
func IsValidSignature(signature string) bool {
	decoded, err := base58.Decode(signature)
	if err != nil {
		return false
	}
	return len(decoded) == 64
}

// CreateEventID creates a unique ID for an event from its transaction
// signature and log index
func CreateEventID(signature string, logIndex uint) string {
	data := fmt.Sprintf("%s:%d", signature, logIndex)
	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}

// ShortSignature shortens a signature for log output
func ShortSignature(signature string) string {
	if len(signature) <= 16 {
		return signature
	}
	return signature[:8] + ".." + signature[len(signature)-8:]
}

// FormatLamports formats a lamport amount as a SOL string for display
func FormatLamports(lamports uint64) string {
	return fmt.Sprintf("%d.%09d SOL", lamports/1_000_000_000, lamports%1_000_000_000)
}
