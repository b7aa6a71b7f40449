package box

import (
	"bytes"
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"testing"

	"gopiv/apdu"
	"gopiv/bertlv"
	"gopiv/piv"
)

func TestSealOpenOfflineRoundTrip(t *testing.T) {
	for _, cipherName := range []string{"chacha20-poly1305", "aes128-gcm", "aes192-gcm", "aes256-gcm"} {
		for _, kdfName := range []string{"sha256", "sha384", "sha512"} {
			t.Run(cipherName+"/"+kdfName, func(t *testing.T) {
				priv := genKey(t, elliptic.P256())
				plaintext := []byte("the quick brown fox jumps over the lazy dog")
				b, err := Seal(&priv.PublicKey, plaintext, WithCipher(cipherName), WithKDF(kdfName))
				if err != nil {
					t.Fatalf("Seal: %v", err)
				}
				if !b.IsSealed() {
					t.Fatal("box should be sealed immediately after Seal")
				}
				got, err := Open(b, priv)
				if err != nil {
					t.Fatalf("Open: %v", err)
				}
				if !bytes.Equal(got, plaintext) {
					t.Fatalf("got %q, want %q", got, plaintext)
				}
				if b.IsSealed() {
					t.Fatal("box should not be sealed after Open")
				}
			})
		}
	}
}

func TestSealOpenOfflineWrongKeyFails(t *testing.T) {
	priv := genKey(t, elliptic.P256())
	other := genKey(t, elliptic.P256())
	b, err := Seal(&priv.PublicKey, []byte("secret"))
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if _, err := Open(b, other); err == nil {
		t.Fatal("expected Open with wrong key to fail")
	}
}

func TestSealLegacyHasNoNonce(t *testing.T) {
	priv := genKey(t, elliptic.P256())
	b, err := Seal(&priv.PublicKey, []byte("hi"), WithVersion(VersionLegacy))
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if len(b.Nonce) != 0 {
		t.Fatal("legacy box must not carry a nonce")
	}
}

// ecdhCardTransport emulates a PIV card's GENERAL AUTHENTICATE ECDH
// response using a real private key, so OpenOnline can be exercised
// end to end.
type ecdhCardTransport struct {
	cardPriv *ecdh.PrivateKey
	slotID   piv.SlotID
}

func (c *ecdhCardTransport) Transmit(raw []byte) ([]byte, error) {
	cmd, _, err := parseTestAPDU(raw)
	if err != nil {
		return nil, err
	}
	if cmd.INS != apdu.InsGeneralAuth || cmd.P2 != byte(c.slotID) {
		return swBytesFor(nil, 0x6A86), nil
	}
	dec := bertlv.NewDecoder(cmd.Data)
	outer, ok, err := dec.Next()
	if err != nil || !ok {
		return swBytesFor(nil, 0x6A80), nil
	}
	fields, err := bertlv.NewDecoder(outer.Value).All()
	if err != nil {
		return swBytesFor(nil, 0x6A80), nil
	}
	var peerRaw []byte
	for _, f := range fields {
		if f.Tag == 0x85 {
			peerRaw = f.Value
		}
	}
	peerPub, err := c.cardPriv.Curve().NewPublicKey(peerRaw)
	if err != nil {
		return swBytesFor(nil, 0x6A80), nil
	}
	shared, err := c.cardPriv.ECDH(peerPub)
	if err != nil {
		return swBytesFor(nil, 0x6A80), nil
	}
	body := bertlv.Encode(0x7C, bertlv.Encode(0x82, shared))
	return swBytesFor(body, 0x9000), nil
}

func (c *ecdhCardTransport) BeginTransaction() error { return nil }
func (c *ecdhCardTransport) EndTransaction(bool)     {}

func swBytesFor(data []byte, sw uint16) []byte {
	return append(append([]byte(nil), data...), byte(sw>>8), byte(sw))
}

func parseTestAPDU(raw []byte) (apdu.Command, apdu.Status, error) {
	cmd := apdu.Command{CLA: raw[0], INS: raw[1], P1: raw[2], P2: raw[3]}
	if len(raw) > 4 {
		lc := int(raw[4])
		if len(raw) >= 5+lc {
			cmd.Data = raw[5 : 5+lc]
		}
	}
	return cmd, 0, nil
}

func TestSealOpenOnlineRoundTrip(t *testing.T) {
	slotKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	plaintext := []byte("online open via the card")
	b, err := Seal(&slotKey.PublicKey, plaintext)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}

	cardECDHPriv, err := slotKey.ECDH()
	if err != nil {
		t.Fatalf("ECDH: %v", err)
	}
	transport := &ecdhCardTransport{cardPriv: cardECDHPriv, slotID: piv.SlotKeyManagement}
	tok := piv.NewToken("test reader", transport)
	if err := tok.Begin(); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	slot := tok.BindSlot(piv.SlotKeyManagement)
	slot.Algorithm, slot.HasAlgorithm = piv.AlgECCP256, true

	got, err := OpenOnline(b, slot)
	if err != nil {
		t.Fatalf("OpenOnline: %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Fatalf("got %q, want %q", got, plaintext)
	}
}

func TestSealDefaultCipherPaddingShape(t *testing.T) {
	// 5 plaintext bytes under chacha20-poly1305 pad to one 8-byte
	// block (pad byte 3), and the tag adds 16.
	priv := genKey(t, elliptic.P256())
	b, err := Seal(&priv.PublicKey, []byte("hello"))
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if len(b.Ciphertext) != 8+16 {
		t.Fatalf("ciphertext+tag length = %d, want 24", len(b.Ciphertext))
	}
	if len(b.Nonce) != 16 {
		t.Fatalf("nonce length = %d, want 16", len(b.Nonce))
	}
}

func TestTakePlaintextRequiresOpen(t *testing.T) {
	priv := genKey(t, elliptic.P256())
	b, err := Seal(&priv.PublicKey, []byte("secret"))
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if _, err := b.TakePlaintext(); err == nil {
		t.Fatal("TakePlaintext on a sealed box must fail")
	}
	if _, err := Open(b, priv); err != nil {
		t.Fatalf("Open: %v", err)
	}
	got, err := b.TakePlaintext()
	if err != nil {
		t.Fatalf("TakePlaintext: %v", err)
	}
	if string(got) != "secret" {
		t.Fatalf("plaintext = %q", got)
	}
	if !b.IsSealed() {
		t.Fatal("the box should report sealed again once the plaintext is taken")
	}
}
