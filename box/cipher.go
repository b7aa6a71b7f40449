package box

import (
	"crypto/aes"
	"crypto/cipher"

	"golang.org/x/crypto/chacha20poly1305"

	"gopiv/errs"
)

// CipherSpec describes an AEAD registered under the wire cipher_name
// string.
type CipherSpec struct {
	Name    string
	KeyLen  int
	IVLen   int
	BlockSz int
	TagLen  int
	New     func(key []byte) (cipher.AEAD, error)
}

// Ciphers is the set of AEAD ciphers a box may name. chacha20-poly1305
// is the default; the aesNNN-gcm variants are offered for
// compatibility with cards/keys provisioned against AES management
// keys.
var Ciphers = map[string]CipherSpec{
	// ChaCha20 is a stream cipher; its 8-byte "block size" here only
	// sets the padding granularity, matching the SSH cipher
	// convention.
	"chacha20-poly1305": {
		Name: "chacha20-poly1305", KeyLen: chacha20poly1305.KeySize, IVLen: chacha20poly1305.NonceSize,
		BlockSz: 8, TagLen: chacha20poly1305.Overhead,
		New: func(key []byte) (cipher.AEAD, error) { return chacha20poly1305.New(key) },
	},
	"aes128-gcm": aesGCMSpec("aes128-gcm", 16),
	"aes192-gcm": aesGCMSpec("aes192-gcm", 24),
	"aes256-gcm": aesGCMSpec("aes256-gcm", 32),
}

func aesGCMSpec(name string, keyLen int) CipherSpec {
	return CipherSpec{
		Name: name, KeyLen: keyLen, IVLen: 12, BlockSz: aes.BlockSize, TagLen: 16,
		New: func(key []byte) (cipher.AEAD, error) {
			block, err := aes.NewCipher(key)
			if err != nil {
				return nil, err
			}
			return cipher.NewGCM(block)
		},
	}
}

// DefaultCipher is the default AEAD.
const DefaultCipher = "chacha20-poly1305"

func lookupCipher(name string) (CipherSpec, error) {
	spec, ok := Ciphers[name]
	if !ok {
		return CipherSpec{}, errs.New(errs.KindExtensionMissing, "box: unknown cipher %q", name)
	}
	return spec, nil
}
