// Package encryption implements per-conversation message sealing.
//
// Every conversation gets its own AES-256-GCM key derived from the
// conversation ID and a server-wide secret. Plaintext exists only in flight;
// the database stores the sealed envelope.
package encryption

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
)

const gcmTagSize = 16

// ErrMalformedEnvelope is returned when a stored ciphertext does not parse
// as a nonce:tag:ciphertext triple.
var ErrMalformedEnvelope = errors.New("encryption: malformed envelope")

// ErrDecryptFailed is returned when authentication fails, usually because
// the envelope was sealed under a different conversation's key.
var ErrDecryptFailed = errors.New("encryption: decryption failed")

// Cipher derives conversation keys and seals and opens message envelopes.
// It is safe for concurrent use.
type Cipher struct {
	secret []byte
}

// NewCipher creates a Cipher from the server-wide message secret.
func NewCipher(secret string) (*Cipher, error) {
	if secret == "" {
		return nil, errors.New("encryption: empty secret")
	}
	return &Cipher{secret: []byte(secret)}, nil
}

// conversationKey derives the 32-byte AES key for a conversation.
func (c *Cipher) conversationKey(conversationID uint) []byte {
	h := sha256.New()
	fmt.Fprintf(h, "%d", conversationID)
	h.Write(c.secret)
	return h.Sum(nil)
}

func (c *Cipher) gcm(conversationID uint) (cipher.AEAD, error) {
	block, err := aes.NewCipher(c.conversationKey(conversationID))
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// Encrypt seals plaintext under the conversation's key and returns the
// envelope "base64(nonce):base64(tag):base64(ciphertext)". Empty plaintext
// is sealed like any other; the envelope is never empty.
func (c *Cipher) Encrypt(conversationID uint, plaintext string) (string, error) {
	gcm, err := c.gcm(conversationID)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}

	sealed := gcm.Seal(nil, nonce, []byte(plaintext), nil)
	// Seal appends the auth tag after the ciphertext.
	ct := sealed[:len(sealed)-gcmTagSize]
	tag := sealed[len(sealed)-gcmTagSize:]

	enc := base64.StdEncoding
	return enc.EncodeToString(nonce) + ":" + enc.EncodeToString(tag) + ":" + enc.EncodeToString(ct), nil
}

// Decrypt opens an envelope sealed by Encrypt for the same conversation.
// A tampered envelope, or one sealed under another conversation's key,
// fails with ErrDecryptFailed.
func (c *Cipher) Decrypt(conversationID uint, envelope string) (string, error) {
	parts := strings.Split(envelope, ":")
	if len(parts) != 3 {
		return "", ErrMalformedEnvelope
	}

	enc := base64.StdEncoding
	nonce, err := enc.DecodeString(parts[0])
	if err != nil {
		return "", ErrMalformedEnvelope
	}
	tag, err := enc.DecodeString(parts[1])
	if err != nil {
		return "", ErrMalformedEnvelope
	}
	ct, err := enc.DecodeString(parts[2])
	if err != nil {
		return "", ErrMalformedEnvelope
	}

	gcm, err := c.gcm(conversationID)
	if err != nil {
		return "", err
	}
	if len(nonce) != gcm.NonceSize() || len(tag) != gcmTagSize {
		return "", ErrMalformedEnvelope
	}

	plain, err := gcm.Open(nil, nonce, append(ct, tag...), nil)
	if err != nil {
		return "", ErrDecryptFailed
	}
	return string(plain), nil
}
