// Package secret provides reversible obfuscation of short credentials
// before they land in the persisted slot store.
//
// This is not at-rest encryption of a remote database - the store lives on
// the user's own machine. The codec only keeps client secrets, authorization
// codes, and access tokens from sitting in the database file as plaintext.
package secret

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/nacl/secretbox"
)

// KeySize is the required length of the decoded symmetric key, in bytes.
const KeySize = 32

const nonceSize = 24

// ErrDecode is returned by Reveal when a token was not produced by Obscure
// under the current key: the key was rotated, or the stored value is corrupt.
// Callers treat the whole session as invalid when they see this.
var ErrDecode = errors.New("secret: cannot decode token")

// ErrKeySize is returned by NewCodec for keys that are not 32 bytes.
var ErrKeySize = errors.New("secret: key must be 32 bytes")

// Codec obscures and reveals short secrets under a process-wide
// symmetric key loaded once at startup.
//
// Tokens are base64url(nonce || secretbox(plaintext)). The nonce is random
// per call, so Obscure is not output-deterministic; only Reveal(Obscure(s))
// == s is guaranteed.
type Codec struct {
	key [KeySize]byte
}

// NewCodec builds a Codec from a base64-encoded 32-byte key.
func NewCodec(encodedKey string) (*Codec, error) {
	raw, err := base64.StdEncoding.DecodeString(encodedKey)
	if err != nil {
		return nil, fmt.Errorf("secret: decode key: %w", err)
	}
	if len(raw) != KeySize {
		return nil, ErrKeySize
	}
	c := &Codec{}
	copy(c.key[:], raw)
	return c, nil
}

// NewRandomKey returns a freshly generated key in the encoding NewCodec
// accepts. Intended for first-time setup.
func NewRandomKey() string {
	var k [KeySize]byte
	if _, err := rand.Read(k[:]); err != nil {
		panic(err) // crypto/rand never fails on supported platforms
	}
	return base64.StdEncoding.EncodeToString(k[:])
}

// Obscure encodes plaintext into an opaque token.
func (c *Codec) Obscure(plaintext string) string {
	var nonce [nonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		panic(err)
	}
	sealed := secretbox.Seal(nonce[:], []byte(plaintext), &nonce, &c.key)
	return base64.RawURLEncoding.EncodeToString(sealed)
}

// Reveal decodes a token produced by Obscure under the same key.
// Returns ErrDecode for foreign or corrupted tokens.
func (c *Codec) Reveal(token string) (string, error) {
	sealed, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if len(sealed) < nonceSize {
		return "", ErrDecode
	}
	var nonce [nonceSize]byte
	copy(nonce[:], sealed[:nonceSize])
	plain, ok := secretbox.Open(nil, sealed[nonceSize:], &nonce, &c.key)
	if !ok {
		return "", ErrDecode
	}
	return string(plain), nil
}
