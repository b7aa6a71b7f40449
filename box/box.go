// Package box implements the ECDH "box" envelope: a self-describing
// binary format that seals data to an ECDSA public key (on a PIV
// token or bare) using ephemeral-static ECDH plus an AEAD cipher.
package box

import (
	"crypto/ecdsa"

	"gopiv/errs"
)

// Version identifies the wire format a Box was encoded with.
const (
	VersionLegacy = 1
	Version2      = 2
	Version3      = 3
	versionNext   = 4 // decoder refuses anything >= this
)

const (
	magicByte0 = 0xB0
	magicByte1 = 0xC5
)

// Box is a sealed or open ECDH envelope. All fields are
// optional until populated by Seal/Decode.
type Box struct {
	Version int

	GUID          [16]byte
	GUIDSlotValid bool
	Slot          byte

	Recipient *ecdsa.PublicKey
	Ephemeral *ecdsa.PublicKey

	Cipher string
	KDF    string

	Nonce      []byte
	IV         []byte
	Ciphertext []byte // includes the AEAD tag
	Plaintext  []byte
}

// IsSealed reports whether the box's plaintext has not been recovered
// yet.
func (b *Box) IsSealed() bool { return len(b.Plaintext) == 0 }

// TakePlaintext hands the recovered plaintext to the caller and
// detaches it from the box, so a later Zero cannot clobber it. Fails
// if the box has not been opened.
func (b *Box) TakePlaintext() ([]byte, error) {
	if b.IsSealed() {
		return nil, errs.New(errs.KindBoxSealed, "box: still sealed, open it first")
	}
	p := b.Plaintext
	b.Plaintext = nil
	return p, nil
}

// Zero overwrites the plaintext buffer before it is released.
func (b *Box) Zero() {
	for i := range b.Plaintext {
		b.Plaintext[i] = 0
	}
	b.Plaintext = nil
}

// validate checks the cross-field invariants: recipient and ephemeral
// must share a curve, the cipher must be authenticated, and the KDF's
// output must be at least as long as the cipher's key.
func (b *Box) validate() error {
	if b.Version < VersionLegacy || b.Version >= versionNext {
		return errs.New(errs.KindVersion, "box: unsupported version %d", b.Version)
	}
	if b.Recipient == nil || b.Ephemeral == nil {
		return errs.New(errs.KindArgument, "box: recipient and ephemeral keys are required")
	}
	if b.Recipient.Curve != b.Ephemeral.Curve {
		return errs.New(errs.KindCurve, "box: recipient and ephemeral keys use different curves")
	}
	cipher, ok := Ciphers[b.Cipher]
	if !ok {
		return errs.New(errs.KindExtensionMissing, "box: unknown cipher %q", b.Cipher)
	}
	if cipher.TagLen == 0 {
		return errs.New(errs.KindArgument, "box: cipher %q is not authenticated", b.Cipher)
	}
	kdf, ok := KDFs[b.KDF]
	if !ok {
		return errs.New(errs.KindExtensionMissing, "box: unknown kdf %q", b.KDF)
	}
	if kdf.DigestLen < cipher.KeyLen {
		return errs.New(errs.KindArgument, "box: kdf %q output shorter than cipher %q key", b.KDF, b.Cipher)
	}
	if b.Version == VersionLegacy && len(b.Nonce) != 0 {
		return errs.New(errs.KindArgument, "box: legacy v1 boxes cannot carry a nonce")
	}
	return nil
}
