package piv

import (
	"bytes"
	"compress/gzip"
	"crypto"
	"crypto/x509"
	"encoding/asn1"
	"io"

	"gopiv/apdu"
	"gopiv/bertlv"
	"gopiv/errs"
)

// yubicoPinTouchPolicyOID is the Yubico attestation certificate
// extension carrying a slot's PIN/touch policy, read when
// GET_METADATA isn't implemented (firmware < 5.3.0).
var yubicoPinTouchPolicyOID = asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 41482, 3, 8}

// Slot is a single key/certificate position on a token. Entries are
// created lazily: a freshly discovered token has an empty catalog
// until ReadCert/ReadAllCerts (or BindSlot) populates it.
type Slot struct {
	token *Token

	ID SlotID

	HasCert    bool
	Cert       *x509.Certificate
	CertRaw    []byte
	Subject    string
	Compressed bool

	HasAlgorithm bool
	Algorithm    Algorithm
	PublicKey    crypto.PublicKey

	HasMetadata bool
	Auth        AuthMask
	PINPolicy   PINPolicy
	TouchPolicy TouchPolicy
	Origin      byte // 0x01 generated, 0x02 imported, from GET_METADATA
}

// Certificate object tags inside GET_DATA's 0x53 envelope
// (SP 800-73-4 Table 19), and the CertInfo bits.
const (
	tagCertBody uint32 = 0x70
	tagCertInfo uint32 = 0x71

	certInfoGZIP      byte = 0x01
	certInfoX509Compr byte = 0x04
)

// maxCertLen caps the size of a certificate after decompression.
const maxCertLen = 16384

// Slots returns the token's slot catalog in discovery order.
func (t *Token) Slots() []*Slot { return t.slots }

// HasReadAllCerts reports whether ReadAllCerts has already completed
// a full catalog scan for this token.
func (t *Token) HasReadAllCerts() bool { return t.didReadAllCerts }

// BindSlot returns the catalog entry for id, creating and appending
// an empty one bound to this token if no prior read has done so.
func (t *Token) BindSlot(id SlotID) *Slot {
	if s := t.Slot(id); s != nil {
		return s
	}
	s := &Slot{token: t, ID: id}
	t.slots = append(t.slots, s)
	return s
}

// Slot returns the catalog entry for id, or nil if id isn't part of
// this token's catalog yet.
func (t *Token) Slot(id SlotID) *Slot {
	for _, s := range t.slots {
		if s.ID == id {
			return s
		}
	}
	return nil
}

// ReadCert reads and parses the X.509 certificate in s, transparently
// inflating it if the card marked it GZIP-compressed, and refreshes
// the slot's algorithm, public key and auth requirements from it.
func (s *Slot) ReadCert() error {
	tag, ok := certTagForSlot(s.ID)
	if !ok {
		return errs.New(errs.KindNotSupported, "piv: slot %02x has no certificate object", byte(s.ID))
	}
	body, err := s.token.getData(tag)
	if err != nil {
		return err
	}
	fields, err := bertlv.NewDecoder(body).All()
	if err != nil {
		return errs.Wrap(errs.KindInvalidData, err, "piv: parse cert object for slot %02x", byte(s.ID))
	}
	var certBytes []byte
	var certInfo byte
	for _, f := range fields {
		switch f.Tag {
		case tagCertBody:
			certBytes = f.Value
		case tagCertInfo:
			if len(f.Value) >= 1 {
				certInfo = f.Value[0]
			}
		}
	}
	if certBytes == nil {
		return errs.New(errs.KindNotFound, "piv: slot %02x has no certificate body", byte(s.ID))
	}
	if certInfo&certInfoX509Compr != 0 {
		return errs.New(errs.KindCertFlag, "piv: slot %02x uses the X.509 compression scheme, which is not supported", byte(s.ID))
	}
	s.Compressed = certInfo&certInfoGZIP != 0
	if s.Compressed {
		inflated, err := inflateGzip(certBytes)
		if err != nil {
			return errs.Wrap(errs.KindDecompression, err, "piv: inflate cert for slot %02x", byte(s.ID))
		}
		certBytes = inflated
	}
	cert, err := x509.ParseCertificate(certBytes)
	if err != nil {
		return errs.Wrap(errs.KindInvalidData, err, "piv: parse certificate for slot %02x", byte(s.ID))
	}
	alg := algorithmFromKey(cert.PublicKey)
	if alg == 0 {
		return errs.New(errs.KindBadAlgorithm, "piv: slot %02x certificate holds an unsupported key type", byte(s.ID))
	}
	s.CertRaw = certBytes
	s.Cert = cert
	s.Subject = cert.Subject.String()
	s.HasCert = true
	s.Algorithm = alg
	s.HasAlgorithm = true
	s.PublicKey = cert.PublicKey

	// Default auth mask: every slot but card-auth and the Yubico
	// attestation slot requires PIN; touch is unset until metadata
	// says otherwise.
	s.Auth = AuthMask{PIN: s.ID != SlotCardAuth && s.ID != SlotAttestation}

	s.fetchMetadataBestEffort()
	return nil
}

// fetchMetadataBestEffort fuses PIN/touch policy into s.Auth from
// whichever source the card's firmware supports. Failures are
// swallowed: a cert read never fails because policy discovery did.
func (s *Slot) fetchMetadataBestEffort() {
	switch {
	case s.token.firmwareAtLeast(5, 3, 0):
		_ = s.ReadMetadata()
	case s.token.firmwareAtLeast(4, 0, 0):
		_ = s.fuseMetadataFromAttestation()
	}
}

// fuseMetadataFromAttestation calls ATTEST and reads the Yubico
// PIN/touch-policy extension out of the returned certificate, for
// firmware that predates GET_METADATA (< 5.3.0) but still supports
// ATTEST (>= 4.0.0).
func (s *Slot) fuseMetadataFromAttestation() error {
	cert, err := s.Attest()
	if err != nil {
		return err
	}
	for _, ext := range cert.Extensions {
		if !ext.Id.Equal(yubicoPinTouchPolicyOID) {
			continue
		}
		if len(ext.Value) != 2 {
			return errs.New(errs.KindExtensionInvalid, "piv: attestation policy extension has length %d, want 2", len(ext.Value))
		}
		fusePolicy(s, PINPolicy(ext.Value[0]), TouchPolicy(ext.Value[1]))
		s.HasMetadata = true
		return nil
	}
	return errs.New(errs.KindExtensionMissing, "piv: attestation certificate for slot %02x has no PIN/touch policy extension", byte(s.ID))
}

// fusePolicy folds a PIN/touch policy pair into the auth mask: PIN
// NEVER clears the PIN bit, ONCE/ALWAYS set it; touch ALWAYS/CACHED
// set the touch bit, NEVER clears it, and DEFAULT leaves it alone.
func fusePolicy(s *Slot, pin PINPolicy, touch TouchPolicy) {
	s.PINPolicy = pin
	s.TouchPolicy = touch
	switch pin {
	case PINPolicyNever:
		s.Auth.PIN = false
	case PINPolicyOnce, PINPolicyAlways:
		s.Auth.PIN = true
	}
	switch touch {
	case TouchPolicyAlways, TouchPolicyCached:
		s.Auth.Touch = true
	case TouchPolicyNever:
		s.Auth.Touch = false
	}
}

// inflateGzip decompresses b, refusing output beyond maxCertLen.
func inflateGzip(b []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	out, err := io.ReadAll(io.LimitReader(zr, maxCertLen+1))
	if err != nil {
		return nil, err
	}
	if len(out) > maxCertLen {
		return nil, errs.New(errs.KindDecompression, "piv: decompressed certificate exceeds %d bytes", maxCertLen)
	}
	return out, nil
}

// ReadAllCerts reads the certificate of every well-known slot: card
// auth, then the three PIV key slots, then as many retired slots as
// Key History reports on-card. Empty or inaccessible slots (not
// found, security condition, unsupported) are tolerated; any other
// failure aborts the scan.
func (t *Token) ReadAllCerts() error {
	order := []SlotID{SlotCardAuth, SlotAuthentication, SlotSignature, SlotKeyManagement}
	for i := 0; i < t.OnCardCount && SlotRetiredFirst+SlotID(i) <= SlotRetiredLast; i++ {
		order = append(order, SlotRetiredFirst+SlotID(i))
	}
	for _, id := range order {
		s := t.BindSlot(id)
		if err := s.ReadCert(); err != nil && !certScanTolerates(err) {
			return err
		}
	}
	t.didReadAllCerts = true
	return nil
}

func certScanTolerates(err error) bool {
	return errs.CausedBy(err, errs.KindNotFound) ||
		errs.CausedBy(err, errs.KindPermission) ||
		errs.CausedBy(err, errs.KindNotSupported)
}

// ReadMetadata issues GET_METADATA (YubicoPIV INS F7) for s. When the
// card rejects it, an Algorithm already known for s (for example from
// ReadCert) is kept and nil is returned; with no known Algorithm the
// result is a KindNotSupported error. Nothing is derived here.
func (s *Slot) ReadMetadata() error {
	resp, err := s.token.exchange(apdu.Command{INS: apdu.InsYubiGetMeta, P1: 0x00, P2: byte(s.ID), Le: 0})
	if err != nil {
		return err
	}
	if !resp.IsSuccess() {
		if s.HasAlgorithm {
			return nil
		}
		return errs.New(errs.KindNotSupported, "piv: GET_METADATA unsupported for slot %02x", byte(s.ID))
	}
	fields, err := bertlv.NewDecoder(resp.Data).All()
	if err != nil {
		return errs.Wrap(errs.KindInvalidData, err, "piv: parse metadata for slot %02x", byte(s.ID))
	}
	for _, f := range fields {
		switch f.Tag {
		case 0x01: // algorithm
			if len(f.Value) == 1 {
				s.Algorithm = Algorithm(f.Value[0])
				s.HasAlgorithm = true
			}
		case 0x02: // policy: pin byte, touch byte
			if len(f.Value) == 2 {
				fusePolicy(s, PINPolicy(f.Value[0]), TouchPolicy(f.Value[1]))
			}
		case 0x04: // origin
			if len(f.Value) == 1 {
				s.Origin = f.Value[0]
			}
		}
	}
	s.HasMetadata = true
	return nil
}
