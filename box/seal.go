package box

import (
	"crypto/ecdsa"
	"crypto/rand"

	"gopiv/errs"
	"gopiv/piv"
)

// sealConfig collects Seal's optional parameters.
type sealConfig struct {
	version       int
	cipher        string
	kdf           string
	nonce         []byte
	ephemeralPriv *ecdsa.PrivateKey
	guid          [16]byte
	guidValid     bool
	slot          byte
}

// Option configures Seal.
type Option func(*sealConfig)

func WithVersion(v int) Option          { return func(c *sealConfig) { c.version = v } }
func WithCipher(name string) Option     { return func(c *sealConfig) { c.cipher = name } }
func WithKDF(name string) Option        { return func(c *sealConfig) { c.kdf = name } }
func WithNonce(nonce []byte) Option     { return func(c *sealConfig) { c.nonce = nonce } }
func WithEphemeral(priv *ecdsa.PrivateKey) Option {
	return func(c *sealConfig) { c.ephemeralPriv = priv }
}
func WithGUIDSlot(guid [16]byte, slot byte) Option {
	return func(c *sealConfig) { c.guid, c.slot, c.guidValid = guid, slot, true }
}

func newSealConfig(opts []Option) *sealConfig {
	c := &sealConfig{version: Version3, cipher: DefaultCipher, kdf: DefaultKDF}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Seal encrypts plaintext to recipient's public key. The padded
// working copy of the plaintext is zeroed once encrypted; the box
// retains only the ciphertext.
func Seal(recipient *ecdsa.PublicKey, plaintext []byte, opts ...Option) (*Box, error) {
	cfg := newSealConfig(opts)

	ephemPriv := cfg.ephemeralPriv
	if ephemPriv == nil {
		var err error
		ephemPriv, err = ecdsa.GenerateKey(recipient.Curve, rand.Reader)
		if err != nil {
			return nil, errs.Wrap(errs.KindUnknown, err, "box: generate ephemeral key")
		}
	}

	shared, err := ecdhSharedSecret(ephemPriv, recipient)
	if err != nil {
		return nil, err
	}

	nonce := cfg.nonce
	if cfg.version >= Version2 && len(nonce) == 0 {
		nonce = make([]byte, 16)
		if _, err := rand.Read(nonce); err != nil {
			return nil, errs.Wrap(errs.KindUnknown, err, "box: generate nonce")
		}
	}
	if cfg.version == VersionLegacy {
		nonce = nil
	}

	cipherSpec, err := lookupCipher(cfg.cipher)
	if err != nil {
		return nil, err
	}
	kdfSpec, err := lookupKDF(cfg.kdf)
	if err != nil {
		return nil, err
	}

	key, err := deriveKey(kdfSpec, shared, nonce, cipherSpec.KeyLen)
	if err != nil {
		return nil, err
	}
	aead, err := cipherSpec.New(key)
	if err != nil {
		return nil, errs.Wrap(errs.KindUnknown, err, "box: construct cipher")
	}

	iv := make([]byte, cipherSpec.IVLen)
	if _, err := rand.Read(iv); err != nil {
		return nil, errs.Wrap(errs.KindUnknown, err, "box: generate iv")
	}

	padded := pkcs7Pad(plaintext, cipherSpec.BlockSz)
	ciphertext := aead.Seal(nil, iv, padded, nil)
	zeroBytes(padded)

	b := &Box{
		Version:       cfg.version,
		GUIDSlotValid: cfg.guidValid,
		GUID:          cfg.guid,
		Slot:          cfg.slot,
		Recipient:     recipient,
		Ephemeral:     &ephemPriv.PublicKey,
		Cipher:        cfg.cipher,
		KDF:           cfg.kdf,
		Nonce:         nonce,
		IV:            iv,
		Ciphertext:    ciphertext,
	}
	if err := b.validate(); err != nil {
		return nil, err
	}
	return b, nil
}

func zeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// SealToSlot encrypts plaintext to the public key held in a token
// slot, binding the box to the token's GUID and the slot id so
// FindToken can locate the recipient directly. The slot's certificate
// is read first if it hasn't been.
func SealToSlot(tok *piv.Token, slot *piv.Slot, plaintext []byte, opts ...Option) (*Box, error) {
	if !slot.HasCert {
		if err := readCertInTxn(tok, slot); err != nil {
			return nil, err
		}
	}
	var pub *ecdsa.PublicKey
	if p, ok := slot.PublicKey.(*ecdsa.PublicKey); ok {
		pub = p
	} else if slot.Cert != nil {
		pub, _ = slot.Cert.PublicKey.(*ecdsa.PublicKey)
	}
	if pub == nil {
		return nil, errs.New(errs.KindBadAlgorithm, "box: slot %02x does not hold an EC key", byte(slot.ID))
	}
	opts = append(opts, WithGUIDSlot(tok.GUID, byte(slot.ID)))
	return Seal(pub, plaintext, opts...)
}
