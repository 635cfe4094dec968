// Package ids generates the opaque identifiers DuckTracker hands out:
// share-link tokens, random private tags and subscriber IDs.
package ids

import (
	"crypto/rand"
	"encoding/base32"
	"encoding/base64"
	"strings"

	"github.com/google/uuid"
)

const (
	linkTokenBytes = 12
	randomTagBytes = 10 // 16 base32 characters
)

// NewLinkToken returns a URL-safe random share-link token.
func NewLinkToken() string {
	return base64.RawURLEncoding.EncodeToString(randomBytes(linkTokenBytes))
}

// NewStreamToken returns an opaque bearer token for stream authorization.
func NewStreamToken() string {
	return base64.RawURLEncoding.EncodeToString(randomBytes(16))
}

// NewRandomTag returns a lowercase base32 tag of at least 16 characters, used
// when a create request carries no preferred link id.
func NewRandomTag() string {
	enc := base32.StdEncoding.WithPadding(base32.NoPadding)
	return strings.ToLower(enc.EncodeToString(randomBytes(randomTagBytes)))
}

// NewSubscriberID returns a unique ID for one subscriber stream.
func NewSubscriberID() string {
	return uuid.New().String()
}

func randomBytes(n int) []byte {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand failure means the platform RNG is broken; there is
		// no sensible recovery for token minting.
		panic(err)
	}
	return b
}
