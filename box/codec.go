package box

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"encoding/binary"

	"golang.org/x/crypto/ssh"

	"gopiv/errs"
)

var curveByName = map[string]elliptic.Curve{
	"nistp256": elliptic.P256(),
	"nistp384": elliptic.P384(),
}

func nameForCurve(c elliptic.Curve) (string, error) {
	switch c {
	case elliptic.P256():
		return "nistp256", nil
	case elliptic.P384():
		return "nistp384", nil
	default:
		return "", errs.New(errs.KindCurve, "box: unsupported curve")
	}
}

// writer accumulates an encoded box body.
type writer struct{ buf []byte }

func (w *writer) u8(v byte)  { w.buf = append(w.buf, v) }
func (w *writer) string8(b []byte) {
	w.buf = append(w.buf, byte(len(b)))
	w.buf = append(w.buf, b...)
}
func (w *writer) cstring8(s string) { w.string8([]byte(s)) }
func (w *writer) string32(b []byte) {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(b)))
	w.buf = append(w.buf, lenBuf[:]...)
	w.buf = append(w.buf, b...)
}
func (w *writer) cstring32(s string) { w.string32([]byte(s)) }
func (w *writer) ecPoint8(pub *ecdsa.PublicKey) {
	w.string8(elliptic.Marshal(pub.Curve, pub.X, pub.Y))
}

// reader consumes an encoded box body, tracking position and erroring
// on truncation rather than panicking.
type reader struct {
	buf []byte
	pos int
}

func (r *reader) u8() (byte, error) {
	if r.pos >= len(r.buf) {
		return 0, errs.New(errs.KindLength, "box: truncated while reading a byte")
	}
	v := r.buf[r.pos]
	r.pos++
	return v, nil
}

func (r *reader) take(n int) ([]byte, error) {
	if n < 0 || r.pos+n > len(r.buf) {
		return nil, errs.New(errs.KindLength, "box: truncated while reading %d bytes", n)
	}
	v := r.buf[r.pos : r.pos+n]
	r.pos += n
	return v, nil
}

func (r *reader) string8() ([]byte, error) {
	n, err := r.u8()
	if err != nil {
		return nil, err
	}
	return r.take(int(n))
}

func (r *reader) cstring8() (string, error) {
	b, err := r.string8()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (r *reader) string32() ([]byte, error) {
	lenBuf, err := r.take(4)
	if err != nil {
		return nil, err
	}
	return r.take(int(binary.BigEndian.Uint32(lenBuf)))
}

func (r *reader) cstring32() (string, error) {
	b, err := r.string32()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (r *reader) ecPoint8(curve elliptic.Curve) (*ecdsa.PublicKey, error) {
	raw, err := r.string8()
	if err != nil {
		return nil, err
	}
	x, y := elliptic.Unmarshal(curve, raw)
	if x == nil {
		return nil, errs.New(errs.KindCurve, "box: invalid EC point encoding")
	}
	return &ecdsa.PublicKey{Curve: curve, X: x, Y: y}, nil
}

// Encode serializes b into the wire format matching b.Version.
func (b *Box) Encode() ([]byte, error) {
	if b.Version == VersionLegacy {
		return b.encodeLegacy()
	}
	return b.encodeCurrent()
}

func (b *Box) encodeCurrent() ([]byte, error) {
	if b.Version < Version2 || b.Version >= versionNext {
		return nil, errs.New(errs.KindVersion, "box: unsupported version %d", b.Version)
	}
	curveName, err := nameForCurve(b.Recipient.Curve)
	if err != nil {
		return nil, err
	}
	w := &writer{}
	w.u8(magicByte0)
	w.u8(magicByte1)
	w.u8(byte(b.Version))
	if b.GUIDSlotValid {
		w.u8(1)
		w.string8(b.GUID[:])
		w.u8(b.Slot)
	} else {
		w.u8(0)
		w.string8(nil)
		w.u8(0)
	}
	w.cstring8(b.Cipher)
	w.cstring8(b.KDF)
	w.string8(b.Nonce)
	w.cstring8(curveName)
	w.ecPoint8(b.Recipient)
	w.ecPoint8(b.Ephemeral)
	w.string8(b.IV)
	w.string32(b.Ciphertext)
	return w.buf, nil
}

func (b *Box) encodeLegacy() ([]byte, error) {
	w := &writer{}
	w.u8(VersionLegacy)
	if b.GUIDSlotValid {
		w.string32(b.GUID[:])
	} else {
		w.string32(nil)
	}
	w.u8(b.Slot)
	ephemBlob, err := sshBlobForKey(b.Ephemeral)
	if err != nil {
		return nil, err
	}
	recipBlob, err := sshBlobForKey(b.Recipient)
	if err != nil {
		return nil, err
	}
	w.string32(ephemBlob)
	w.string32(recipBlob)
	w.cstring32(b.Cipher)
	w.cstring32(b.KDF)
	w.string32(b.IV)
	w.string32(b.Ciphertext)
	return w.buf, nil
}

// Decode parses raw into a Box, dispatching on the legacy-vs-current
// discriminator.
func Decode(raw []byte) (*Box, error) {
	if len(raw) == 0 {
		return nil, errs.New(errs.KindLength, "box: empty input")
	}
	if raw[0] == VersionLegacy {
		return decodeLegacy(raw)
	}
	return decodeCurrent(raw)
}

func decodeCurrent(raw []byte) (*Box, error) {
	r := &reader{buf: raw}
	m0, err := r.u8()
	if err != nil {
		return nil, err
	}
	m1, err := r.u8()
	if err != nil {
		return nil, err
	}
	if m0 != magicByte0 || m1 != magicByte1 {
		return nil, errs.New(errs.KindMagic, "box: bad magic %02x%02x", m0, m1)
	}
	version, err := r.u8()
	if err != nil {
		return nil, err
	}
	if version < VersionLegacy || version >= versionNext {
		return nil, errs.New(errs.KindVersion, "box: unsupported version %d", version)
	}
	b := &Box{Version: int(version)}

	flag, err := r.u8()
	if err != nil {
		return nil, err
	}
	guid, err := r.string8()
	if err != nil {
		return nil, err
	}
	slot, err := r.u8()
	if err != nil {
		return nil, err
	}
	if flag != 0 {
		if len(guid) != 16 {
			return nil, errs.New(errs.KindLength, "box: guid must be 16 bytes, got %d", len(guid))
		}
		copy(b.GUID[:], guid)
		b.GUIDSlotValid = true
		b.Slot = slot
	}

	if b.Cipher, err = r.cstring8(); err != nil {
		return nil, err
	}
	if b.KDF, err = r.cstring8(); err != nil {
		return nil, err
	}
	if b.Version >= Version2 {
		if b.Nonce, err = r.string8(); err != nil {
			return nil, err
		}
	}
	curveName, err := r.cstring8()
	if err != nil {
		return nil, err
	}
	curve, ok := curveByName[curveName]
	if !ok {
		return nil, errs.New(errs.KindCurve, "box: unknown curve %q", curveName)
	}
	if b.Recipient, err = r.ecPoint8(curve); err != nil {
		return nil, err
	}
	if b.Ephemeral, err = r.ecPoint8(curve); err != nil {
		return nil, err
	}
	if b.IV, err = r.string8(); err != nil {
		return nil, err
	}
	if b.Ciphertext, err = r.string32(); err != nil {
		return nil, err
	}
	return b, nil
}

func decodeLegacy(raw []byte) (*Box, error) {
	r := &reader{buf: raw}
	if _, err := r.u8(); err != nil { // version byte, already matched
		return nil, err
	}
	b := &Box{Version: VersionLegacy}
	guid, err := r.string32()
	if err != nil {
		return nil, err
	}
	if len(guid) != 0 {
		if len(guid) != 16 {
			return nil, errs.New(errs.KindLength, "box: legacy guid must be 16 bytes, got %d", len(guid))
		}
		copy(b.GUID[:], guid)
		b.GUIDSlotValid = true
	}
	if b.Slot, err = r.u8(); err != nil {
		return nil, err
	}
	ephemBlob, err := r.string32()
	if err != nil {
		return nil, err
	}
	recipBlob, err := r.string32()
	if err != nil {
		return nil, err
	}
	if b.Ephemeral, err = keyForSSHBlob(ephemBlob); err != nil {
		return nil, err
	}
	if b.Recipient, err = keyForSSHBlob(recipBlob); err != nil {
		return nil, err
	}
	if b.Cipher, err = r.cstring32(); err != nil {
		return nil, err
	}
	if b.KDF, err = r.cstring32(); err != nil {
		return nil, err
	}
	if b.IV, err = r.string32(); err != nil {
		return nil, err
	}
	if b.Ciphertext, err = r.string32(); err != nil {
		return nil, err
	}
	return b, nil
}

// sshBlobForKey encodes pub as an SSH wire-format public key blob.
func sshBlobForKey(pub *ecdsa.PublicKey) ([]byte, error) {
	sshPub, err := ssh.NewPublicKey(pub)
	if err != nil {
		return nil, errs.Wrap(errs.KindCurve, err, "box: encode SSH key blob")
	}
	return sshPub.Marshal(), nil
}

// keyForSSHBlob decodes an SSH wire-format public key blob back into
// an *ecdsa.PublicKey.
func keyForSSHBlob(blob []byte) (*ecdsa.PublicKey, error) {
	pub, err := ssh.ParsePublicKey(blob)
	if err != nil {
		return nil, errs.Wrap(errs.KindCurve, err, "box: parse SSH key blob")
	}
	cryptoPub, ok := pub.(ssh.CryptoPublicKey)
	if !ok {
		return nil, errs.New(errs.KindCurve, "box: SSH key blob is not an EC key")
	}
	ecdsaPub, ok := cryptoPub.CryptoPublicKey().(*ecdsa.PublicKey)
	if !ok {
		return nil, errs.New(errs.KindCurve, "box: SSH key blob is not an ECDSA key")
	}
	return ecdsaPub, nil
}
