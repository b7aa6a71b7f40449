package box

import (
	"crypto/ecdsa"

	"gopiv/errs"
	"gopiv/piv"
)

// Open decrypts b using priv, the recipient's raw private key. The
// returned plaintext is also cached on b.Plaintext; b.IsSealed
// becomes false.
func Open(b *Box, priv *ecdsa.PrivateKey) ([]byte, error) {
	if !priv.PublicKey.Equal(b.Recipient) {
		return nil, errs.New(errs.KindKeysNotEqual, "box: private key does not match box recipient")
	}
	shared, err := ecdhSharedSecret(priv, b.Ephemeral)
	if err != nil {
		return nil, err
	}
	return b.finishOpen(shared)
}

// OpenOnline decrypts b using an on-card ECDH operation against
// slot.
func OpenOnline(b *Box, slot *piv.Slot) ([]byte, error) {
	ephemECDH, err := b.Ephemeral.ECDH()
	if err != nil {
		return nil, errs.Wrap(errs.KindCurve, err, "box: convert ephemeral key to ECDH")
	}
	shared, err := slot.ECDH(ephemECDH)
	if err != nil {
		return nil, err
	}
	return b.finishOpen(shared)
}

// finishOpen runs steps 4'-8' of open given the raw
// ECDH shared secret, however it was produced.
func (b *Box) finishOpen(shared []byte) ([]byte, error) {
	cipherSpec, err := lookupCipher(b.Cipher)
	if err != nil {
		return nil, err
	}
	kdfSpec, err := lookupKDF(b.KDF)
	if err != nil {
		return nil, err
	}
	if len(b.IV) != cipherSpec.IVLen {
		return nil, errs.New(errs.KindLength, "box: iv length %d, want %d", len(b.IV), cipherSpec.IVLen)
	}
	if len(b.Ciphertext) < cipherSpec.BlockSz+cipherSpec.TagLen {
		return nil, errs.New(errs.KindLength, "box: ciphertext too short for block size + tag")
	}
	key, err := deriveKey(kdfSpec, shared, b.Nonce, cipherSpec.KeyLen)
	if err != nil {
		return nil, err
	}
	aead, err := cipherSpec.New(key)
	if err != nil {
		return nil, errs.Wrap(errs.KindUnknown, err, "box: construct cipher")
	}
	padded, err := aead.Open(nil, b.IV, b.Ciphertext, nil)
	if err != nil {
		return nil, errs.Wrap(errs.KindKeyAuth, err, "box: AEAD authentication failed")
	}
	plain, err := pkcs7Unpad(padded, cipherSpec.BlockSz)
	if err != nil {
		zeroBytes(padded)
		return nil, err
	}
	zeroBytes(padded)
	b.Plaintext = plain
	return plain, nil
}
