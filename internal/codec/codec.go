// Package codec implements the symmetric payload codec used on the
// instant-tournament channel. The wire format is compatible with CryptoJS
// passphrase encryption: OpenSSL EVP key derivation (MD5) over a random
// 8-byte salt, AES-256-CBC with PKCS#7 padding, a "Salted__" header,
// base64 encoding and URL escaping.
package codec

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/md5"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
)

const (
	saltHeader = "Salted__"
	saltLen    = 8
	keyLen     = 32
	ivLen      = aes.BlockSize
)

var (
	// ErrNoKey is returned when no encryption key is configured. Callers
	// must treat this as a no-op, not a fault.
	ErrNoKey = errors.New("codec: no encryption key configured")

	// ErrEmptyPayload is returned for a nil payload or empty ciphertext,
	// distinguishing "nothing to encode" from a successfully encoded
	// empty value.
	ErrEmptyPayload = errors.New("codec: empty payload")

	// ErrMalformedPayload is returned when ciphertext does not decrypt to
	// valid JSON under the configured key.
	ErrMalformedPayload = errors.New("codec: malformed payload")
)

// Codec encrypts and decrypts JSON payloads with a passphrase provisioned
// out of band. A Codec is pure transform state and safe for concurrent use.
type Codec struct {
	key string
}

// New returns a codec bound to the given passphrase. An empty passphrase is
// allowed; Encrypt and Decrypt then fail with ErrNoKey.
func New(key string) *Codec {
	return &Codec{key: key}
}

// Encrypt serializes v to JSON and encrypts it for the wire. The context is
// honored so callers can treat encryption as a suspension point regardless
// of the underlying provider.
func (c *Codec) Encrypt(ctx context.Context, v any) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if c.key == "" {
		return "", ErrNoKey
	}
	if v == nil {
		return "", ErrEmptyPayload
	}

	plain, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	key, iv := deriveKeyIV(c.key, salt)
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("init cipher: %w", err)
	}

	padded := pkcs7Pad(plain)
	out := make([]byte, 0, len(saltHeader)+saltLen+len(padded))
	out = append(out, saltHeader...)
	out = append(out, salt...)

	ct := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ct, padded)
	out = append(out, ct...)

	return url.QueryEscape(base64.StdEncoding.EncodeToString(out)), nil
}

// Decrypt reverses Encrypt into out. Every failure path returns a tagged
// error; ciphertext that does not decode to valid JSON under the key is
// reported as ErrMalformedPayload, never raised as a panic.
func (c *Codec) Decrypt(ctx context.Context, cipherText string, out any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.key == "" {
		return ErrNoKey
	}
	if cipherText == "" {
		return ErrEmptyPayload
	}

	unescaped, err := url.QueryUnescape(cipherText)
	if err != nil {
		return malformed("unescape ciphertext", err)
	}
	raw, err := base64.StdEncoding.DecodeString(unescaped)
	if err != nil {
		return malformed("decode ciphertext", err)
	}
	if len(raw) < len(saltHeader)+saltLen || string(raw[:len(saltHeader)]) != saltHeader {
		return malformed("missing salt header", nil)
	}

	salt := raw[len(saltHeader) : len(saltHeader)+saltLen]
	ct := raw[len(saltHeader)+saltLen:]
	if len(ct) == 0 || len(ct)%aes.BlockSize != 0 {
		return malformed("ciphertext not block aligned", nil)
	}

	key, iv := deriveKeyIV(c.key, salt)
	block, err := aes.NewCipher(key)
	if err != nil {
		return fmt.Errorf("init cipher: %w", err)
	}

	plain := make([]byte, len(ct))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plain, ct)

	plain, err = pkcs7Unpad(plain)
	if err != nil {
		return malformed("unpad plaintext", err)
	}
	if err := json.Unmarshal(plain, out); err != nil {
		return malformed("decode plaintext", err)
	}
	return nil
}

func malformed(stage string, err error) error {
	if err == nil {
		return fmt.Errorf("%w: %s", ErrMalformedPayload, stage)
	}
	return fmt.Errorf("%w: %s: %v", ErrMalformedPayload, stage, err)
}

// deriveKeyIV implements OpenSSL EVP_BytesToKey with MD5 and one iteration,
// the derivation CryptoJS applies for passphrase-based encryption.
func deriveKeyIV(pass string, salt []byte) (key, iv []byte) {
	var derived []byte
	var prev []byte
	for len(derived) < keyLen+ivLen {
		h := md5.New()
		h.Write(prev)
		h.Write([]byte(pass))
		h.Write(salt)
		prev = h.Sum(nil)
		derived = append(derived, prev...)
	}
	return derived[:keyLen], derived[keyLen : keyLen+ivLen]
}

func pkcs7Pad(b []byte) []byte {
	n := aes.BlockSize - len(b)%aes.BlockSize
	return append(b, bytes.Repeat([]byte{byte(n)}, n)...)
}

func pkcs7Unpad(b []byte) ([]byte, error) {
	if len(b) == 0 {
		return nil, errors.New("empty plaintext")
	}
	n := int(b[len(b)-1])
	if n == 0 || n > aes.BlockSize || n > len(b) {
		return nil, errors.New("invalid padding length")
	}
	for _, p := range b[len(b)-n:] {
		if int(p) != n {
			return nil, errors.New("invalid padding byte")
		}
	}
	return b[:len(b)-n], nil
}
