package idgen

import (
	"crypto/rand"
	"fmt"
	"math/big"

	"github.com/google/uuid"
)

const digitSpace = 10_000_000 // 7-digit suffix

// randomDigits draws a uniformly random 7-digit suffix from crypto/rand.
// Callers that need uniqueness must check against storage and retry; the
// suffix space is small enough that collisions are possible.
func randomDigits() string {
	n, err := rand.Int(rand.Reader, big.NewInt(digitSpace))
	if err != nil {
		// crypto/rand only fails when the OS entropy source is broken;
		// fall back to uuid-derived entropy rather than panicking.
		id := uuid.New().ID() % digitSpace
		return fmt.Sprintf("%07d", id)
	}
	return fmt.Sprintf("%07d", n.Int64())
}

// NewReferenceNumber returns a candidate reference number shared by the two
// legs of one economic transaction, format REF-#######.
func NewReferenceNumber() string {
	return "REF-" + randomDigits()
}

// NewTransactionID returns a candidate per-leg transaction id, format
// T-#######.
func NewTransactionID() string {
	return "T-" + randomDigits()
}

// NewSessionID returns an opaque id for auth session bookkeeping.
func NewSessionID() string {
	return uuid.NewString()
}
