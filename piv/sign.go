package piv

import (
	"crypto"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"

	"gopiv/errs"
)

// pkcs1DigestInfoPrefix holds the DER encoding of the DigestInfo
// AlgorithmIdentifier for each hash this module signs with RSA
// (RFC 8017 Appendix B.1 / RFC 3447).
var pkcs1DigestInfoPrefix = map[crypto.Hash][]byte{
	crypto.SHA1: {
		0x30, 0x21, 0x30, 0x09, 0x06, 0x05, 0x2b, 0x0e, 0x03, 0x02, 0x1a, 0x05, 0x00, 0x04, 0x14,
	},
	crypto.SHA256: {
		0x30, 0x31, 0x30, 0x0d, 0x06, 0x09, 0x60, 0x86, 0x48, 0x01, 0x65, 0x03, 0x04, 0x02, 0x01, 0x05, 0x00, 0x04, 0x20,
	},
	crypto.SHA512: {
		0x30, 0x51, 0x30, 0x0d, 0x06, 0x09, 0x60, 0x86, 0x48, 0x01, 0x65, 0x03, 0x04, 0x02, 0x03, 0x05, 0x00, 0x04, 0x40,
	},
}

// hashData hashes data with alg. Only the hashes this module's sign
// policy ever selects (SHA-1/256/384/512) are wired.
func hashData(alg crypto.Hash, data []byte) ([]byte, error) {
	switch alg {
	case crypto.SHA1:
		h := sha1.Sum(data)
		return h[:], nil
	case crypto.SHA256:
		h := sha256.Sum256(data)
		return h[:], nil
	case crypto.SHA384:
		h := sha512.Sum384(data)
		return h[:], nil
	case crypto.SHA512:
		h := sha512.Sum512(data)
		return h[:], nil
	default:
		return nil, errs.New(errs.KindBadAlgorithm, "piv: unsupported hash algorithm %v", alg)
	}
}

// Sign hashes data per the slot algorithm's hash policy,
// builds the card-ready signing block (PKCS#1v1.5 DigestInfo padded to
// modulus length for RSA; a bare digest, or the raw message when the
// card offers hash-on-card, for EC), and signs it via SignPrehash.
// requested is the caller's preferred digest; the hash actually used
// (which the caller must honor when verifying) is returned alongside
// the signature, since the slot's hash policy can override it (EC
// slots always use their curve's hash or the card-hash variant).
func (s *Slot) Sign(data []byte, requested crypto.Hash) ([]byte, crypto.Hash, error) {
	if !s.HasAlgorithm {
		return nil, 0, errs.New(errs.KindBadAlgorithm, "piv: slot %02x has no known algorithm", byte(s.ID))
	}
	switch s.Algorithm {
	case AlgRSA1024, AlgRSA2048:
		return s.signRSA(data, requested)
	case AlgECCP256, AlgECCP384:
		return s.signEC(data, requested)
	default:
		return nil, 0, errs.New(errs.KindBadAlgorithm, "piv: slot %02x algorithm %02x cannot sign", byte(s.ID), byte(s.Algorithm))
	}
}

func (s *Slot) signRSA(data []byte, requested crypto.Hash) ([]byte, crypto.Hash, error) {
	hashAlg := crypto.SHA256
	switch {
	case requested == crypto.SHA1:
		hashAlg = crypto.SHA1
	case s.Algorithm == AlgRSA2048 && requested == crypto.SHA512:
		hashAlg = crypto.SHA512
	}
	digest, err := hashData(hashAlg, data)
	if err != nil {
		return nil, 0, err
	}
	block, err := s.pkcs1v15Block(hashAlg, digest)
	if err != nil {
		return nil, 0, err
	}
	sig, err := s.SignPrehash(block)
	return sig, hashAlg, err
}

// pkcs1v15Block builds the EMSA-PKCS1-v1_5 encoded block
// 00 01 FF..FF 00 || DigestInfo(hashAlg, digest), left-padded to the
// slot's RSA modulus length.
func (s *Slot) pkcs1v15Block(hashAlg crypto.Hash, digest []byte) ([]byte, error) {
	prefix, ok := pkcs1DigestInfoPrefix[hashAlg]
	if !ok {
		return nil, errs.New(errs.KindBadAlgorithm, "piv: no PKCS#1 DigestInfo prefix for %v", hashAlg)
	}
	modulusLen := s.rsaModulusLen()
	t := append(append([]byte(nil), prefix...), digest...)
	// 3 bytes of 00 01 ... 00 framing plus at least 8 bytes of 0xFF
	// padding (RFC 8017 9.2).
	if modulusLen < len(t)+11 {
		return nil, errs.New(errs.KindLength, "piv: RSA modulus (%d bytes) too small for %v DigestInfo", modulusLen, hashAlg)
	}
	block := make([]byte, modulusLen)
	block[0] = 0x00
	block[1] = 0x01
	padEnd := modulusLen - len(t) - 1
	for i := 2; i < padEnd; i++ {
		block[i] = 0xFF
	}
	block[padEnd] = 0x00
	copy(block[padEnd+1:], t)
	return block, nil
}

// rsaModulusLen returns the slot's RSA key size in bytes, preferring
// the certificate's actual modulus when known over the algorithm's
// nominal size.
func (s *Slot) rsaModulusLen() int {
	if s.HasCert && s.Cert != nil {
		if pub, ok := s.Cert.PublicKey.(*rsa.PublicKey); ok {
			return (pub.N.BitLen() + 7) / 8
		}
	}
	if s.Algorithm == AlgRSA1024 {
		return 128
	}
	return 256
}

func (s *Slot) signEC(data []byte, requested crypto.Hash) ([]byte, crypto.Hash, error) {
	if cardHashAlg, cardVariant := s.cardHashVariant(); cardVariant != 0 {
		sig, err := s.signGeneralAuth(cardVariant, tagChallenge, data)
		return sig, cardHashAlg, err
	}
	hashAlg := crypto.SHA256
	if s.Algorithm == AlgECCP384 {
		hashAlg = crypto.SHA384
	}
	digest, err := hashData(hashAlg, data)
	if err != nil {
		return nil, 0, err
	}
	sig, err := s.SignPrehash(digest)
	return sig, hashAlg, err
}

// cardHashVariant selects the largest hash-on-card algorithm variant
// the token advertised for s's curve (JCOP22x boards), in priority
// order SHA-384 > SHA-256 > SHA-1 on a 384 curve, SHA-256 > SHA-1 on a
// 256 curve. Returns (0, 0) when the card only supports the ordinary
// ECDSA algorithm id (host hashes).
func (s *Slot) cardHashVariant() (crypto.Hash, Algorithm) {
	supports := func(a Algorithm) bool {
		for _, x := range s.token.SupportedAlgorithms {
			if x == a {
				return true
			}
		}
		return false
	}
	switch s.Algorithm {
	case AlgECCP256:
		if supports(AlgECCP256SHA256) {
			return crypto.SHA256, AlgECCP256SHA256
		}
		if supports(AlgECCP256SHA1) {
			return crypto.SHA1, AlgECCP256SHA1
		}
	case AlgECCP384:
		if supports(AlgECCP384SHA384) {
			return crypto.SHA384, AlgECCP384SHA384
		}
		if supports(AlgECCP384SHA256) {
			return crypto.SHA256, AlgECCP384SHA256
		}
		if supports(AlgECCP384SHA1) {
			return crypto.SHA1, AlgECCP384SHA1
		}
	}
	return 0, 0
}
