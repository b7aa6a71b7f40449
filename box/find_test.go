package box

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"testing"
	"time"

	"gopiv/errs"
	"gopiv/piv"
)

// noopTransport answers every APDU with success and no data; it's
// enough to let a Token hold a transaction for tests that only need
// in-process slot state, not a real exchange.
type noopTransport struct{}

func (noopTransport) Transmit(cmd []byte) ([]byte, error) { return []byte{0x90, 0x00}, nil }
func (noopTransport) BeginTransaction() error              { return nil }
func (noopTransport) EndTransaction(bool)                  {}

func certFor(t *testing.T, pub *ecdsa.PublicKey, priv *ecdsa.PrivateKey) *x509.Certificate {
	t.Helper()
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "find test"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, pub, priv)
	if err != nil {
		t.Fatalf("CreateCertificate: %v", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("ParseCertificate: %v", err)
	}
	return cert
}

func tokenWithSlotCert(t *testing.T, guid [16]byte, slotID piv.SlotID, priv *ecdsa.PrivateKey) *piv.Token {
	t.Helper()
	tok := piv.NewToken("fake", noopTransport{})
	tok.GUID = guid
	slot := tok.BindSlot(slotID)
	slot.Cert = certFor(t, &priv.PublicKey, priv)
	slot.HasCert = true
	return tok
}

func TestFindTokenByGUIDAndSlot(t *testing.T) {
	priv := genKey(t, elliptic.P256())
	guid := [16]byte{9, 9, 9}
	tok := tokenWithSlotCert(t, guid, piv.SlotKeyManagement, priv)

	b := &Box{GUIDSlotValid: true, GUID: guid, Slot: byte(piv.SlotKeyManagement), Recipient: &priv.PublicKey}
	gotTok, gotSlot, err := FindToken([]*piv.Token{tok}, b)
	if err != nil {
		t.Fatalf("FindToken: %v", err)
	}
	if gotTok != tok || gotSlot.ID != piv.SlotKeyManagement {
		t.Fatal("FindToken returned the wrong token/slot")
	}
}

func TestFindTokenGUIDMismatchedKeyIsHardError(t *testing.T) {
	priv := genKey(t, elliptic.P256())
	other := genKey(t, elliptic.P256())
	guid := [16]byte{1}
	tok := tokenWithSlotCert(t, guid, piv.SlotKeyManagement, priv)

	b := &Box{GUIDSlotValid: true, GUID: guid, Slot: byte(piv.SlotKeyManagement), Recipient: &other.PublicKey}
	_, _, err := FindToken([]*piv.Token{tok}, b)
	if err == nil || !errs.Is(err, errs.KindKeysNotEqual) {
		t.Fatalf("expected KeysNotEqualError, got %v", err)
	}
}

func TestFindTokenProbesDefaultSlotAcrossTokens(t *testing.T) {
	priv1 := genKey(t, elliptic.P256())
	priv2 := genKey(t, elliptic.P256())
	tok1 := tokenWithSlotCert(t, [16]byte{1}, piv.SlotKeyManagement, priv1)
	tok2 := tokenWithSlotCert(t, [16]byte{2}, piv.SlotKeyManagement, priv2)

	b := &Box{Recipient: &priv2.PublicKey}
	gotTok, _, err := FindToken([]*piv.Token{tok1, tok2}, b)
	if err != nil {
		t.Fatalf("FindToken: %v", err)
	}
	if gotTok != tok2 {
		t.Fatal("FindToken should have matched tok2 via the default slot probe")
	}
}

func TestFindTokenNoMatchIsNotFound(t *testing.T) {
	priv := genKey(t, elliptic.P256())
	other := genKey(t, elliptic.P256())
	tok := tokenWithSlotCert(t, [16]byte{3}, piv.SlotKeyManagement, priv)

	b := &Box{Recipient: &other.PublicKey}
	_, _, err := FindToken([]*piv.Token{tok}, b)
	if err == nil || !errs.Is(err, errs.KindNotFound) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
}

func TestSealToSlotBindsGUIDAndSlot(t *testing.T) {
	priv := genKey(t, elliptic.P256())
	guid := [16]byte{0xA5, 0x5A}
	tok := tokenWithSlotCert(t, guid, piv.SlotKeyManagement, priv)

	b, err := SealToSlot(tok, tok.Slot(piv.SlotKeyManagement), []byte("to the card"))
	if err != nil {
		t.Fatalf("SealToSlot: %v", err)
	}
	if !b.GUIDSlotValid || b.GUID != guid || b.Slot != byte(piv.SlotKeyManagement) {
		t.Fatalf("box not bound to the token: %+v", b)
	}

	gotTok, gotSlot, err := FindToken([]*piv.Token{tok}, b)
	if err != nil {
		t.Fatalf("FindToken: %v", err)
	}
	if gotTok != tok || gotSlot.ID != piv.SlotKeyManagement {
		t.Fatal("FindToken should locate the sealing token directly")
	}

	got, err := Open(b, priv)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if string(got) != "to the card" {
		t.Fatalf("plaintext = %q", got)
	}
}
