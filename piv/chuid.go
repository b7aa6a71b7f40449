package piv

import (
	"bytes"
	"crypto/sha256"

	"github.com/google/uuid"

	"gopiv/apdu"
	"gopiv/bertlv"
	"gopiv/errs"
)

// CHUID data object tags (SP 800-73-4 Table 9). Org-id, DUNS,
// buffer-length and CRC are ignored.
const (
	tagFASCN        uint32 = 0x30
	tagGUID         uint32 = 0x34
	tagExpiration   uint32 = 0x35
	tagCardholderID uint32 = 0x36
	tagIssuerSig    uint32 = 0x3E
)

// Discovery object inner tags.
const (
	tagDiscoveryAID    uint32 = 0x4F
	tagDiscoveryPolicy uint32 = 0x5F2F
)

// PIN usage policy bits in the first byte of the Discovery policy
// word, plus the low-byte values that force a preference.
const (
	policyAppPIN    byte = 0x40
	policyGlobalPIN byte = 0x20
	policyOCC       byte = 0x10
	policyVCI       byte = 0x08

	preferAppPIN    byte = 0x10
	preferGlobalPIN byte = 0x20
)

// Key History tags (SP 800-73-4 Table 12).
const (
	tagKHOnCard  uint32 = 0xC1
	tagKHOffCard uint32 = 0xC2
	tagKHOffURL  uint32 = 0xF3
)

func (t *Token) getData(tag uint32) ([]byte, error) {
	payload := bertlv.Encode(0x5C, bertlv.EncodeTag(tag))
	resp, err := t.exchange(apdu.Command{INS: apdu.InsGetData, P1: 0x3F, P2: 0xFF, Data: payload, Le: 0})
	if err != nil {
		return nil, err
	}
	if !resp.IsSuccess() {
		// 6A80 is how several card models answer GET DATA for an
		// object they don't hold, alongside the standard 6A82.
		if resp.SW == apdu.SWFileNotFound || resp.SW == apdu.SWWrongData {
			return nil, errs.New(errs.KindNotFound, "piv: GET DATA %06x: object not found, SW=%04x", tag, resp.SW)
		}
		return nil, errForStatus("get data", resp.SW)
	}
	// The card wraps the object in an outer 0x53 TLV.
	dec := bertlv.NewDecoder(resp.Data)
	outer, ok, err := dec.Next()
	if err != nil {
		return nil, errs.Wrap(errs.KindInvalidData, err, "piv: parse GET DATA %06x envelope", tag)
	}
	if !ok || outer.Tag != 0x53 {
		return resp.Data, nil
	}
	return outer.Value, nil
}

// readCHUID reads and parses the CHUID data object. A card without a
// CHUID is not an error: HasCHUID stays false and the GUID is
// unavailable.
func (t *Token) readCHUID() error {
	body, err := t.getData(TagCHUID)
	if err != nil {
		if errs.CausedBy(err, errs.KindNotFound) {
			t.HasCHUID = false
			return nil
		}
		return err
	}
	fields, err := bertlv.NewDecoder(body).All()
	if err != nil {
		return errs.Wrap(errs.KindInvalidData, err, "piv: parse CHUID")
	}
	t.HasCHUID = true
	for _, f := range fields {
		switch f.Tag {
		case tagFASCN:
			t.FASCN = append([]byte(nil), f.Value...)
		case tagGUID:
			if len(f.Value) == 16 {
				copy(t.GUID[:], f.Value)
				t.HasGUID = !isAllZero(f.Value)
			}
		case tagExpiration:
			if len(f.Value) == 8 {
				copy(t.Expiry[:], f.Value)
				t.HasExpiry = true
			}
		case tagCardholderID:
			if id, err := uuid.FromBytes(f.Value); err == nil && id != uuid.Nil {
				t.CardholderUUID = id
				t.HasCardholderID = true
			}
		case tagIssuerSig:
			t.SignedCHUID = len(f.Value) > 0
		}
	}
	if !t.HasGUID {
		t.fallbackGUID()
	}
	return nil
}

// fallbackGUID fills the GUID for cards that predate SP 800-73-2's
// GUID field or zero it out: first the cardholder UUID, then the
// first 16 bytes of SHA-256(FASC-N). A card with none of the three
// simply has no GUID.
func (t *Token) fallbackGUID() {
	if t.HasCardholderID {
		copy(t.GUID[:], t.CardholderUUID[:])
		t.HasGUID = true
		return
	}
	if len(t.FASCN) > 0 {
		sum := sha256.Sum256(t.FASCN)
		copy(t.GUID[:], sum[:16])
		t.HasGUID = true
	}
}

func isAllZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}

// readDiscovery reads the Discovery object (tag 0x7E) if present,
// recording the card's PIN/OCC/VCI capabilities and preferred
// authentication method. Absence of the Discovery object is not an
// error: it falls back to the application PIN.
func (t *Token) readDiscovery() error {
	body, err := t.getData(TagDiscovery)
	if err != nil {
		t.PreferredAuth = PreferAppPIN
		t.PINApp = true
		return nil
	}
	fields, err := bertlv.NewDecoder(body).All()
	if err != nil {
		return errs.Wrap(errs.KindInvalidData, err, "piv: parse discovery object")
	}
	for _, f := range fields {
		switch f.Tag {
		case tagDiscoveryAID:
			if !bytes.HasPrefix(AID, f.Value) && !bytes.HasPrefix(f.Value, AID) {
				return errs.New(errs.KindInvalidData, "piv: discovery object names a foreign AID % x", f.Value)
			}
		case tagDiscoveryPolicy:
			if len(f.Value) >= 2 {
				t.parsePINPolicy(f.Value[0], f.Value[1])
			}
		}
	}
	return nil
}

// parsePINPolicy decodes the two-byte PIN usage policy word. The high
// byte carries capability bits; the low byte may force a preferred
// method, else preference falls back app PIN, then global PIN, then
// OCC.
func (t *Token) parsePINPolicy(hi, lo byte) {
	t.PINApp = hi&policyAppPIN != 0
	t.PINGlobal = hi&policyGlobalPIN != 0
	t.OCC = hi&policyOCC != 0
	t.VCI = hi&policyVCI != 0
	switch {
	case lo == preferAppPIN:
		t.PreferredAuth = PreferAppPIN
	case lo == preferGlobalPIN && t.PINGlobal:
		t.PreferredAuth = PreferGlobalPIN
	case t.PINApp:
		t.PreferredAuth = PreferAppPIN
	case t.PINGlobal:
		t.PreferredAuth = PreferGlobalPIN
	case t.OCC:
		t.PreferredAuth = PreferOCC
	default:
		t.PreferredAuth = PreferAppPIN
	}
}

// readKeyHistory reads the Key History object (tag 0x5FC10C),
// populating retired-slot counts and the off-card certificate URL.
// Absence is tolerated: zero counts are assumed.
func (t *Token) readKeyHistory() error {
	body, err := t.getData(TagKeyHistory)
	if err != nil {
		return nil
	}
	fields, err := bertlv.NewDecoder(body).All()
	if err != nil {
		return errs.Wrap(errs.KindInvalidData, err, "piv: parse key history")
	}
	for _, f := range fields {
		switch f.Tag {
		case tagKHOnCard:
			if len(f.Value) == 1 {
				t.OnCardCount = int(f.Value[0])
			}
		case tagKHOffCard:
			if len(f.Value) == 1 {
				t.OffCardCount = int(f.Value[0])
			}
		case tagKHOffURL:
			t.OffCardURL = string(f.Value)
		}
	}
	return nil
}
