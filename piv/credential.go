package piv

import (
	"crypto"
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rsa"
	"crypto/x509"
	"math/big"

	"gopiv/apdu"
	"gopiv/bertlv"
	"gopiv/errs"
)

// Dynamic Authentication Template tags used by GENERAL AUTHENTICATE
// (SP 800-73-4 Table 7).
const (
	tagDynAuth   uint32 = 0x7C
	tagWitness   uint32 = 0x80
	tagChallenge uint32 = 0x81
	tagResponse  uint32 = 0x82
	tagExponent  uint32 = 0x85
)

// GENERATE ASYMMETRIC KEY PAIR template tags.
const (
	tagGenTemplate uint32 = 0xAC
	tagGenAlg      uint32 = 0x80
	tagPolicyPIN   uint32 = 0xAA
	tagPolicyTouch uint32 = 0xAB

	tagPubKeyTemplate uint32 = 0x7F49
	tagRSAModulus     uint32 = 0x81
	tagRSAExponent    uint32 = 0x82
	tagECPoint        uint32 = 0x86
)

// IMPORT ASYMMETRIC KEY element tags (YubicoPIV).
const (
	tagImportP    uint32 = 0x01
	tagImportQ    uint32 = 0x02
	tagImportDP   uint32 = 0x03
	tagImportDQ   uint32 = 0x04
	tagImportQInv uint32 = 0x05
	tagImportECD  uint32 = 0x06
)

// SignPrehash sends block unmodified inside the GENERAL AUTHENTICATE
// challenge field and returns the card's raw signature. Callers are
// responsible for having already hashed (and, for RSA, DigestInfo-wrapped
// and padded) block themselves; Slot.Sign builds block for the common
// case.
func (s *Slot) SignPrehash(block []byte) ([]byte, error) {
	return s.signGeneralAuth(s.algorithmForAuth(), tagChallenge, block)
}

func (s *Slot) signGeneralAuth(alg Algorithm, fieldTag uint32, payload []byte) ([]byte, error) {
	body := bertlv.Encode(tagDynAuth,
		append(bertlv.Encode(tagResponse, nil), bertlv.Encode(fieldTag, payload)...))
	resp, err := s.token.exchange(apdu.Command{
		INS: apdu.InsGeneralAuth, P1: byte(alg), P2: byte(s.ID), Data: body, Le: 0,
	})
	if err != nil {
		return nil, err
	}
	if !resp.IsSuccess() {
		if sec, ok := s.securityErr(resp.SW); ok {
			return nil, sec
		}
		return nil, errForStatus("sign", resp.SW)
	}
	return extractDynAuthField(resp.Data, tagResponse)
}

// securityErr maps the security status words a private-key operation
// can hit. A 6982 additionally marks the slot PIN-required so later
// callers know to verify first.
func (s *Slot) securityErr(sw apdu.Status) (error, bool) {
	switch sw {
	case apdu.SWSecurityNotSatisfied:
		s.Auth.PIN = true
		return errs.New(errs.KindPermission, "piv: slot %02x security status not satisfied", byte(s.ID)), true
	case apdu.SWWrongData, apdu.SWWrongP1P2:
		return errs.New(errs.KindNotSupported, "piv: slot %02x does not support this operation", byte(s.ID)), true
	}
	return nil, false
}

func (s *Slot) algorithmForAuth() Algorithm {
	if s.HasAlgorithm {
		return s.Algorithm
	}
	return AlgECCP256
}

// extractDynAuthField unwraps the outer 0x7C template and returns the
// value of the named inner field.
func extractDynAuthField(raw []byte, tag uint32) ([]byte, error) {
	dec := bertlv.NewDecoder(raw)
	outer, ok, err := dec.Next()
	if err != nil {
		return nil, errs.Wrap(errs.KindInvalidData, err, "piv: parse dynamic auth template")
	}
	inner := outer.Value
	if !ok || outer.Tag != tagDynAuth {
		inner = raw
	}
	fields, err := bertlv.NewDecoder(inner).All()
	if err != nil {
		return nil, errs.Wrap(errs.KindInvalidData, err, "piv: parse dynamic auth fields")
	}
	for _, f := range fields {
		if f.Tag == tag {
			return f.Value, nil
		}
	}
	return nil, errs.New(errs.KindInvalidData, "piv: dynamic auth response missing tag %02x", tag)
}

// ECDH performs an on-card ECDH key agreement between s's private key
// and peerPublic, returning the raw shared secret. s must hold an EC
// key; peerPublic's curve must match.
func (s *Slot) ECDH(peerPublic *ecdh.PublicKey) ([]byte, error) {
	if !s.HasAlgorithm || (s.Algorithm != AlgECCP256 && s.Algorithm != AlgECCP384) {
		return nil, errs.New(errs.KindBadAlgorithm, "piv: slot %02x is not an EC key, cannot ECDH", byte(s.ID))
	}
	return s.signGeneralAuth(s.Algorithm, tagExponent, peerPublic.Bytes())
}

// curveForAlgorithm maps a PIV algorithm byte to its Go curve.
func curveForAlgorithm(alg Algorithm) elliptic.Curve {
	switch alg {
	case AlgECCP256:
		return elliptic.P256()
	case AlgECCP384:
		return elliptic.P384()
	}
	return nil
}

// Generate creates a new keypair of alg in s on-card with the card's
// default PIN/touch policy and returns the public half.
func (s *Slot) Generate(alg Algorithm) (crypto.PublicKey, error) {
	return s.generate(alg, PINPolicyDefault, TouchPolicyDefault)
}

// GenerateWithPolicy creates a new keypair with an explicit Yubico
// PIN/touch policy persisted to the slot. TouchPolicyCached requires
// firmware 4.3.0 or later.
func (s *Slot) GenerateWithPolicy(alg Algorithm, pinPolicy PINPolicy, touchPolicy TouchPolicy) (crypto.PublicKey, error) {
	if touchPolicy == TouchPolicyCached && !s.token.firmwareAtLeast(4, 3, 0) {
		return nil, errs.New(errs.KindNotSupported, "piv: cached touch policy requires YubicoPIV firmware 4.3.0 or later")
	}
	return s.generate(alg, pinPolicy, touchPolicy)
}

func (s *Slot) generate(alg Algorithm, pinPolicy PINPolicy, touchPolicy TouchPolicy) (crypto.PublicKey, error) {
	inner := bertlv.Encode(tagGenAlg, []byte{byte(alg)})
	if pinPolicy != PINPolicyDefault {
		inner = append(inner, bertlv.Encode(tagPolicyPIN, []byte{byte(pinPolicy)})...)
	}
	if touchPolicy != TouchPolicyDefault {
		inner = append(inner, bertlv.Encode(tagPolicyTouch, []byte{byte(touchPolicy)})...)
	}
	body := bertlv.Encode(tagGenTemplate, inner)
	resp, err := s.token.exchange(apdu.Command{
		INS: apdu.InsGenerateAsym, P1: 0x00, P2: byte(s.ID), Data: body, Le: 0,
	})
	if err != nil {
		return nil, err
	}
	if !resp.IsSuccess() {
		return nil, errForStatus("generate", resp.SW)
	}
	pub, err := parsePublicKeyTemplate(alg, resp.Data)
	if err != nil {
		return nil, err
	}
	s.Algorithm = alg
	s.HasAlgorithm = true
	s.PublicKey = pub
	s.PINPolicy = pinPolicy
	s.TouchPolicy = touchPolicy
	s.Origin = 0x01
	s.HasMetadata = true
	s.token.mustResetOnEnd = true
	return pub, nil
}

// parsePublicKeyTemplate decodes the 0x7F49 template GENERATE returns:
// modulus and exponent for RSA, an uncompressed point (validated
// against the named curve) for EC.
func parsePublicKeyTemplate(alg Algorithm, raw []byte) (crypto.PublicKey, error) {
	dec := bertlv.NewDecoder(raw)
	outer, ok, err := dec.Next()
	if err != nil || !ok || outer.Tag != tagPubKeyTemplate {
		return nil, errs.Wrap(errs.KindInvalidData, err, "piv: generate response is not a public key template")
	}
	fields, err := bertlv.NewDecoder(outer.Value).All()
	if err != nil {
		return nil, errs.Wrap(errs.KindInvalidData, err, "piv: parse public key template")
	}
	switch alg {
	case AlgRSA1024, AlgRSA2048:
		var modulus, exponent []byte
		for _, f := range fields {
			switch f.Tag {
			case tagRSAModulus:
				modulus = f.Value
			case tagRSAExponent:
				exponent = f.Value
			}
		}
		if modulus == nil || exponent == nil {
			return nil, errs.New(errs.KindInvalidData, "piv: public key template missing RSA modulus or exponent")
		}
		e := new(big.Int).SetBytes(exponent)
		if !e.IsInt64() {
			return nil, errs.New(errs.KindInvalidData, "piv: RSA exponent out of range")
		}
		return &rsa.PublicKey{N: new(big.Int).SetBytes(modulus), E: int(e.Int64())}, nil
	case AlgECCP256, AlgECCP384:
		curve := curveForAlgorithm(alg)
		for _, f := range fields {
			if f.Tag == tagECPoint {
				x, y := elliptic.Unmarshal(curve, f.Value)
				if x == nil {
					return nil, errs.New(errs.KindInvalidData, "piv: generated EC point is not on the named curve")
				}
				return &ecdsa.PublicKey{Curve: curve, X: x, Y: y}, nil
			}
		}
		return nil, errs.New(errs.KindInvalidData, "piv: public key template missing EC point")
	}
	return nil, errs.New(errs.KindBadAlgorithm, "piv: cannot parse public key for algorithm %#x", byte(alg))
}

// Import writes an off-card-generated private key into s (YubicoPIV
// only). key must be an *rsa.PrivateKey or *ecdsa.PrivateKey of a
// supported size. TouchPolicyCached requires firmware 4.3.0 or later.
func (s *Slot) Import(key crypto.PrivateKey, pinPolicy PINPolicy, touchPolicy TouchPolicy) error {
	if touchPolicy == TouchPolicyCached && !s.token.firmwareAtLeast(4, 3, 0) {
		return errs.New(errs.KindNotSupported, "piv: cached touch policy requires YubicoPIV firmware 4.3.0 or later")
	}
	alg, elements, err := encodePrivateKey(key)
	if err != nil {
		return err
	}
	if pinPolicy != PINPolicyDefault {
		elements = append(elements, bertlv.Encode(tagPolicyPIN, []byte{byte(pinPolicy)})...)
	}
	if touchPolicy != TouchPolicyDefault {
		elements = append(elements, bertlv.Encode(tagPolicyTouch, []byte{byte(touchPolicy)})...)
	}
	resp, err := s.token.exchange(apdu.Command{
		INS: apdu.InsYubiImportAsym, P1: byte(alg), P2: byte(s.ID), Data: elements, Le: -1,
	})
	zeroBytes(elements)
	if err != nil {
		return err
	}
	if !resp.IsSuccess() {
		return errForStatus("import", resp.SW)
	}
	s.Algorithm = alg
	s.HasAlgorithm = true
	s.PINPolicy = pinPolicy
	s.TouchPolicy = touchPolicy
	s.Origin = 0x02
	s.HasMetadata = true
	s.token.mustResetOnEnd = true
	return nil
}

// encodePrivateKey renders key as the IMPORT element sequence: CRT
// components for RSA, the scalar for EC. Elements are fixed-width,
// left-padded with zeros.
func encodePrivateKey(key crypto.PrivateKey) (Algorithm, []byte, error) {
	switch k := key.(type) {
	case *rsa.PrivateKey:
		var alg Algorithm
		switch k.N.BitLen() {
		case 1024:
			alg = AlgRSA1024
		case 2048:
			alg = AlgRSA2048
		default:
			return 0, nil, errs.New(errs.KindBadAlgorithm, "piv: unsupported RSA key size %d", k.N.BitLen())
		}
		if len(k.Primes) != 2 {
			return 0, nil, errs.New(errs.KindBadAlgorithm, "piv: RSA key must have exactly two primes")
		}
		k.Precompute()
		elemLen := (k.N.BitLen() + 15) / 16
		var out []byte
		out = append(out, bertlv.Encode(tagImportP, leftPad(k.Primes[0], elemLen))...)
		out = append(out, bertlv.Encode(tagImportQ, leftPad(k.Primes[1], elemLen))...)
		out = append(out, bertlv.Encode(tagImportDP, leftPad(k.Precomputed.Dp, elemLen))...)
		out = append(out, bertlv.Encode(tagImportDQ, leftPad(k.Precomputed.Dq, elemLen))...)
		out = append(out, bertlv.Encode(tagImportQInv, leftPad(k.Precomputed.Qinv, elemLen))...)
		return alg, out, nil
	case *ecdsa.PrivateKey:
		var alg Algorithm
		switch k.Curve {
		case elliptic.P256():
			alg = AlgECCP256
		case elliptic.P384():
			alg = AlgECCP384
		default:
			return 0, nil, errs.New(errs.KindBadAlgorithm, "piv: unsupported EC curve")
		}
		elemLen := (k.Curve.Params().BitSize + 7) / 8
		return alg, bertlv.Encode(tagImportECD, leftPad(k.D, elemLen)), nil
	}
	return 0, nil, errs.New(errs.KindBadAlgorithm, "piv: unsupported private key type")
}

func leftPad(v *big.Int, n int) []byte {
	out := make([]byte, n)
	v.FillBytes(out)
	return out
}

func zeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// WriteCert writes cert bytes into s's certificate data object. raw
// is the DER encoding; gzipCompressed must reflect whether raw was
// already compressed by the caller, so ReadCert inflates it back.
func (s *Slot) WriteCert(raw []byte, gzipCompressed bool) error {
	tag, ok := certTagForSlot(s.ID)
	if !ok {
		return errs.New(errs.KindNotSupported, "piv: slot %02x has no certificate object", byte(s.ID))
	}
	certInfo := byte(0x00)
	if gzipCompressed {
		certInfo = certInfoGZIP
	}
	inner := append(bertlv.Encode(tagCertBody, raw), bertlv.Encode(tagCertInfo, []byte{certInfo})...)
	return s.token.putData(tag, inner)
}

// ReadFile reads an arbitrary PIV data object by tag.
func (t *Token) ReadFile(tag uint32) ([]byte, error) {
	return t.getData(tag)
}

// WriteFile writes raw bytes as the body of a PIV data object.
func (t *Token) WriteFile(tag uint32, body []byte) error {
	return t.putData(tag, body)
}

// WriteKeyHistory rewrites the Key History object. The combined
// retired-key count may not exceed the 20 retired slots, and an
// off-card URL is required exactly when off-card certificates exist.
func (t *Token) WriteKeyHistory(onCard, offCard int, offCardURL string) error {
	if onCard < 0 || offCard < 0 || onCard+offCard > 20 {
		return errs.New(errs.KindArgument, "piv: key history counts %d+%d exceed the 20 retired slots", onCard, offCard)
	}
	if (offCard > 0) != (offCardURL != "") {
		return errs.New(errs.KindArgument, "piv: off-card certificate URL is required exactly when off-card count > 0")
	}
	body := append(bertlv.Encode(tagKHOnCard, []byte{byte(onCard)}),
		bertlv.Encode(tagKHOffCard, []byte{byte(offCard)})...)
	if offCardURL != "" {
		body = append(body, bertlv.Encode(tagKHOffURL, []byte(offCardURL))...)
	}
	if err := t.putData(TagKeyHistory, body); err != nil {
		return err
	}
	t.OnCardCount, t.OffCardCount, t.OffCardURL = onCard, offCard, offCardURL
	return nil
}

func (t *Token) putData(tag uint32, value []byte) error {
	payload := append(bertlv.Encode(0x5C, bertlv.EncodeTag(tag)), bertlv.Encode(0x53, value)...)
	resp, err := t.exchange(apdu.Command{INS: apdu.InsPutData, P1: 0x3F, P2: 0xFF, Data: payload, Le: -1})
	if err != nil {
		return err
	}
	if !resp.IsSuccess() {
		return errForStatus("put data", resp.SW)
	}
	return nil
}

// Attest requests the card's YubicoPIV attestation certificate for
// s's key, proving it was generated (not imported) on this specific
// device.
func (s *Slot) Attest() (*x509.Certificate, error) {
	resp, err := s.token.exchange(apdu.Command{INS: apdu.InsYubiAttest, P1: byte(s.ID), P2: 0x00, Le: 0})
	if err != nil {
		return nil, err
	}
	if !resp.IsSuccess() {
		return nil, errForStatus("attest", resp.SW)
	}
	if len(resp.Data) == 0 {
		return nil, errs.New(errs.KindNotSupported, "piv: card does not support attestation")
	}
	cert, err := x509.ParseCertificate(resp.Data)
	if err != nil {
		return nil, errs.Wrap(errs.KindInvalidData, err, "piv: parse attestation certificate for slot %02x", byte(s.ID))
	}
	return cert, nil
}
