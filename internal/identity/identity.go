// Package identity generates participant and call identifiers.
package identity

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/dkeye/peercall/internal/domain"
)

// Size is the number of random bytes behind each identifier (64 bits).
const Size = 8

// Reader is the entropy source; tests may replace it.
var Reader io.Reader = rand.Reader

// Generate returns a lowercase hex identifier of 2*Size characters.
func Generate() (domain.SessionID, error) {
	id, err := NewCallID()
	return domain.SessionID(id), err
}

func MustGenerate() domain.SessionID {
	id, err := Generate()
	if err != nil {
		panic(err)
	}
	return id
}

func NewCallID() (string, error) {
	buf := make([]byte, Size)
	if _, err := io.ReadFull(Reader, buf); err != nil {
		return "", fmt.Errorf("identity: read entropy: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
