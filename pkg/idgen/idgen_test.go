package idgen

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewReferenceNumber(t *testing.T) {
	pattern := regexp.MustCompile(`^REF-\d{7}$`)
	for i := 0; i < 100; i++ {
		assert.Regexp(t, pattern, NewReferenceNumber())
	}
}

func TestNewTransactionID(t *testing.T) {
	pattern := regexp.MustCompile(`^T-\d{7}$`)
	for i := 0; i < 100; i++ {
		assert.Regexp(t, pattern, NewTransactionID())
	}
}

func TestNewSessionIDUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := NewSessionID()
		assert.False(t, seen[id])
		seen[id] = true
	}
}
