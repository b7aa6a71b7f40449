package piv

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rsa"
)

// algorithmFromKey infers a slot's Algorithm from its public key, used
// when GET_METADATA is unavailable.
func algorithmFromKey(pub crypto.PublicKey) Algorithm {
	switch k := pub.(type) {
	case *rsa.PublicKey:
		if k.N.BitLen() <= 1024 {
			return AlgRSA1024
		}
		return AlgRSA2048
	case *ecdsa.PublicKey:
		switch k.Curve {
		case elliptic.P256():
			return AlgECCP256
		case elliptic.P384():
			return AlgECCP384
		}
	}
	return 0
}

// HashForSign returns the digest algorithm a caller should use to
// pre-hash a message before calling Slot.SignPrehash with alg (Slot.Sign
// hashes on its own). RSA slots have no fixed pairing —
// PKCS#1v1.5/PSS padding chooses the hash — so HashForSign only covers
// the EC algorithm IDs.
func HashForSign(alg Algorithm) crypto.Hash {
	switch alg {
	case AlgECCP256, AlgECCP256SHA256:
		return crypto.SHA256
	case AlgECCP384, AlgECCP384SHA384:
		return crypto.SHA384
	case AlgECCP256SHA1, AlgECCP384SHA1:
		return crypto.SHA1
	case AlgECCP384SHA256:
		return crypto.SHA256
	default:
		return crypto.SHA256
	}
}
