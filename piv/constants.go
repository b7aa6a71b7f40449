// Package piv implements the PIV token and slot model, the transaction
// manager and token lifecycle, the slot catalog, and credential
// operations on top of packages apdu and bertlv.
package piv

// AID is the 11-byte PIV application identifier.
var AID = []byte{0xA0, 0x00, 0x00, 0x03, 0x08, 0x00, 0x00, 0x10, 0x00, 0x01, 0x00}

// Slot identifies a key/certificate position on a token.
type SlotID byte

const (
	SlotAuthentication SlotID = 0x9A
	SlotSignature      SlotID = 0x9C
	SlotKeyManagement  SlotID = 0x9D
	SlotCardAuth       SlotID = 0x9E
	SlotAttestation    SlotID = 0xF9
	SlotAdmin          SlotID = 0x9B
	SlotRetiredFirst   SlotID = 0x82
	SlotRetiredLast    SlotID = 0x95
)

// IsRetired reports whether s is one of the 20 retired key-history
// slots (0x82..0x95).
func (s SlotID) IsRetired() bool { return s >= SlotRetiredFirst && s <= SlotRetiredLast }

// PIN kinds for VERIFY/CHANGE/RESET.
type PINKind byte

const (
	PINApp    PINKind = 0x80
	PINGlobal PINKind = 0x00
)

// Algorithm identifies a PIV key/cipher algorithm.
type Algorithm byte

const (
	Alg3DES          Algorithm = 0x03
	AlgRSA1024       Algorithm = 0x06
	AlgRSA2048       Algorithm = 0x07
	AlgAES128        Algorithm = 0x08
	AlgAES192        Algorithm = 0x0A
	AlgAES256        Algorithm = 0x0C
	AlgECCP256       Algorithm = 0x11
	AlgECCP384       Algorithm = 0x14
	AlgECCP256SHA1   Algorithm = 0xF0
	AlgECCP256SHA256 Algorithm = 0xF1
	AlgECCP384SHA1   Algorithm = 0xF2
	AlgECCP384SHA256 Algorithm = 0xF3
	AlgECCP384SHA384 Algorithm = 0xF4
)

// File object tags.
const (
	TagCHUID      uint32 = 0x5FC102
	TagDiscovery  uint32 = 0x7E
	TagKeyHistory uint32 = 0x5FC10C
)

// certTagForSlot returns the GET_DATA tag holding the certificate for
// slot.
func certTagForSlot(slot SlotID) (uint32, bool) {
	switch slot {
	case SlotAuthentication:
		return 0x5FC105, true
	case SlotSignature:
		return 0x5FC10A, true
	case SlotKeyManagement:
		return 0x5FC10B, true
	case SlotCardAuth:
		return 0x5FC101, true
	}
	if slot.IsRetired() {
		return 0x5FC10D + uint32(slot-SlotRetiredFirst), true
	}
	return 0, false
}

// Touch/PIN policy bytes used in slot metadata and ykpiv_generate.
type PINPolicy byte

const (
	PINPolicyDefault PINPolicy = 0x00
	PINPolicyNever   PINPolicy = 0x01
	PINPolicyOnce    PINPolicy = 0x02
	PINPolicyAlways  PINPolicy = 0x03
)

type TouchPolicy byte

const (
	TouchPolicyDefault TouchPolicy = 0x00
	TouchPolicyNever   TouchPolicy = 0x01
	TouchPolicyAlways  TouchPolicy = 0x02
	TouchPolicyCached  TouchPolicy = 0x03
)

// AuthMask records which authentication steps a slot's private key
// operations require.
type AuthMask struct {
	PIN   bool
	Touch bool
}

// PreferredAuth is the kind of PIN/biometric the card prefers.
type PreferredAuth int

const (
	PreferAppPIN PreferredAuth = iota
	PreferGlobalPIN
	PreferOCC
)
