package piv

import (
	"bytes"
	"crypto/cipher"
	"crypto/des"
	"testing"

	"gopiv/apdu"
	"gopiv/bertlv"
	"gopiv/errs"
)

// fakeAdminCard emulates the card side of the GENERAL AUTHENTICATE
// challenge-response for management-key auth, so AdminAuth can be
// exercised end to end without a scripted fixed-reply sequence.
type fakeAdminCard struct {
	block     cipher.Block
	challenge []byte
}

func newFakeAdminCard(t *testing.T, key []byte) *fakeAdminCard {
	t.Helper()
	block, err := des.NewTripleDESCipher(key)
	if err != nil {
		t.Fatalf("NewTripleDESCipher: %v", err)
	}
	return &fakeAdminCard{block: block, challenge: bytes.Repeat([]byte{0x42}, block.BlockSize())}
}

func (c *fakeAdminCard) Transmit(raw []byte) ([]byte, error) {
	cmd, err := parseTestCommand(raw)
	if err != nil {
		return nil, err
	}
	if cmd.INS != apdu.InsGeneralAuth {
		return swBytes(nil, uint16(apdu.SWInsNotSupported)), nil
	}
	fields, err := bertlv.NewDecoder(mustUnwrapDynAuth(cmd.Data)).All()
	if err != nil {
		return swBytes(nil, 0x6A80), nil
	}
	var response []byte
	askedChallenge, gotResponse := false, false
	for _, f := range fields {
		switch f.Tag {
		case tagChallenge:
			if len(f.Value) == 0 {
				askedChallenge = true
			}
		case tagResponse:
			response, gotResponse = f.Value, true
		}
	}
	switch {
	case askedChallenge && !gotResponse:
		body := bertlv.Encode(tagDynAuth, bertlv.Encode(tagChallenge, c.challenge))
		return swBytes(body, 0x9000), nil
	case gotResponse:
		want := make([]byte, c.block.BlockSize())
		c.block.Encrypt(want, c.challenge)
		if !bytes.Equal(response, want) {
			return swBytes(nil, 0x6982), nil
		}
		return swBytes(nil, 0x9000), nil
	}
	return swBytes(nil, 0x6A80), nil
}

func (c *fakeAdminCard) BeginTransaction() error { return nil }
func (c *fakeAdminCard) EndTransaction(bool)     {}

// parseTestCommand decodes a short-form APDU back into its fields,
// the inverse of apdu.Serialize, for fake-card transports that need
// to branch on INS/data.
func parseTestCommand(raw []byte) (apdu.Command, error) {
	if len(raw) < 4 {
		return apdu.Command{}, errs.New(errs.KindLength, "short test APDU")
	}
	cmd := apdu.Command{CLA: raw[0], INS: raw[1], P1: raw[2], P2: raw[3]}
	if len(raw) > 4 {
		lc := int(raw[4])
		if len(raw) >= 5+lc {
			cmd.Data = raw[5 : 5+lc]
		}
	}
	return cmd, nil
}

func mustUnwrapDynAuth(body []byte) []byte {
	dec := bertlv.NewDecoder(body)
	tlv, ok, err := dec.Next()
	if err != nil || !ok || tlv.Tag != tagDynAuth {
		return body
	}
	return tlv.Value
}

func TestAdminAuthSucceeds(t *testing.T) {
	key := bytes.Repeat([]byte{0x01}, 24)
	card := newFakeAdminCard(t, key)
	tok := NewToken("test reader", card)
	if err := tok.Begin(); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := tok.AdminAuth(Alg3DES, key); err != nil {
		t.Fatalf("AdminAuth: %v", err)
	}
	if !tok.mustResetOnEnd {
		t.Fatal("successful AdminAuth must set mustResetOnEnd so admin state doesn't leak across callers")
	}
}

func TestAdminAuthWrongKeyFails(t *testing.T) {
	cardKey := bytes.Repeat([]byte{0x01}, 24)
	wrongKey := bytes.Repeat([]byte{0x02}, 24)
	card := newFakeAdminCard(t, cardKey)
	tok := NewToken("test reader", card)
	if err := tok.Begin(); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	err := tok.AdminAuth(Alg3DES, wrongKey)
	if err == nil || !errs.Is(err, errs.KindPermission) {
		t.Fatalf("expected PermissionError for wrong key, got %v", err)
	}
}

func TestAdminAuthRejectsBadKeyLength(t *testing.T) {
	tok, tr := newTestToken(t, nil)
	err := tok.AdminAuth(Alg3DES, bytes.Repeat([]byte{0x01}, 16))
	if err == nil || !errs.Is(err, errs.KindLength) {
		t.Fatalf("expected LengthError, got %v", err)
	}
	if len(tr.sent) != 0 {
		t.Fatal("a key of the wrong length must be rejected before any APDU")
	}
}

func TestAdminAuthNoKeyConfigured(t *testing.T) {
	tok, _ := newTestToken(t, [][]byte{swBytes(nil, 0x6A80)})
	err := tok.AdminAuth(Alg3DES, bytes.Repeat([]byte{0x01}, 24))
	if err == nil || !errs.Is(err, errs.KindNotFound) {
		t.Fatalf("expected NotFoundError for unconfigured admin key, got %v", err)
	}
}

func TestVerifyPINDecisionTable(t *testing.T) {
	cases := []struct {
		name    string
		sw      uint16
		wantErr bool
		kind    errs.Kind
	}{
		{"success", 0x9000, false, 0},
		{"wrong pin 3 left", 0x63C3, true, errs.KindPermission},
		{"blocked", 0x6983, true, errs.KindPermission},
		{"security not satisfied", 0x6982, true, errs.KindPermission},
		{"unexpected sw", 0x6F00, true, errs.KindAPDU},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tok, _ := newTestToken(t, [][]byte{swBytes(nil, tc.sw)})
			err := tok.VerifyPIN(PINApp, "123456")
			if tc.wantErr && err == nil {
				t.Fatal("expected error")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tc.wantErr && !errs.Is(err, tc.kind) {
				t.Fatalf("kind mismatch for %s: %v", tc.name, err)
			}
		})
	}
}

func TestVerifyProbeStoresRetries(t *testing.T) {
	tok, tr := newTestToken(t, [][]byte{swBytes(nil, 0x63C3)})
	retries := 0
	if err := tok.Verify(PINApp, "", &retries, false); err != nil {
		t.Fatalf("Verify probe: %v", err)
	}
	if retries != 3 {
		t.Fatalf("retries = %d, want 3", retries)
	}
	// A probe must never put PIN bytes on the wire: empty data field.
	if len(tr.sent) != 1 || len(tr.sent[0]) > 5 {
		t.Fatalf("probe APDU carries data: % x", tr.sent[0])
	}
}

func TestVerifyProbeAlreadyAuthed(t *testing.T) {
	tok, _ := newTestToken(t, [][]byte{swBytes(nil, 0x9000)})
	if err := tok.Verify(PINApp, "", nil, false); err != nil {
		t.Fatalf("Verify probe: %v", err)
	}
}

func TestVerifyProbeUnsupportedOnBuggyCard(t *testing.T) {
	tok, _ := newTestToken(t, [][]byte{swBytes(nil, 0x6700)})
	err := tok.Verify(PINApp, "", nil, false)
	if err == nil || !errs.Is(err, errs.KindNotSupported) {
		t.Fatalf("expected NotSupportedError, got %v", err)
	}
}

func TestVerifyMinRetriesRefusesWhenLow(t *testing.T) {
	tok, tr := newTestToken(t, [][]byte{swBytes(nil, 0x63C2)})
	retries := 2
	err := tok.Verify(PINApp, "123456", &retries, false)
	if err == nil || !errs.Is(err, errs.KindMinRetries) {
		t.Fatalf("expected MinRetriesError, got %v", err)
	}
	if retries != 2 {
		t.Fatalf("retries = %d, want 2", retries)
	}
	if len(tr.sent) != 1 {
		t.Fatalf("PIN must not be presented when at the retry floor, sent %d APDUs", len(tr.sent))
	}
}

func TestVerifyMinRetriesProceedsWhenAboveFloor(t *testing.T) {
	tok, _ := newTestToken(t, [][]byte{
		swBytes(nil, 0x63C5), // probe: 5 tries left
		swBytes(nil, 0x9000), // presentation accepted
	})
	retries := 2
	if err := tok.Verify(PINApp, "123456", &retries, false); err != nil {
		t.Fatalf("Verify: %v", err)
	}
}

func TestVerifyMinRetriesProceedsOnBuggyProbe(t *testing.T) {
	tok, _ := newTestToken(t, [][]byte{
		swBytes(nil, 0x6700), // probe rejected outright
		swBytes(nil, 0x9000), // presentation accepted
	})
	retries := 2
	if err := tok.Verify(PINApp, "123456", &retries, false); err != nil {
		t.Fatalf("Verify: %v", err)
	}
}

func TestVerifyCanSkipWhenAuthed(t *testing.T) {
	tok, tr := newTestToken(t, [][]byte{swBytes(nil, 0x9000)})
	if err := tok.Verify(PINApp, "123456", nil, true); err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if len(tr.sent) != 1 {
		t.Fatalf("canSkip on an authed card should stop after the probe, sent %d APDUs", len(tr.sent))
	}
}

func TestVerifyWrongPINWritesRetries(t *testing.T) {
	tok, _ := newTestToken(t, [][]byte{swBytes(nil, 0x63C1)})
	retries := 0
	err := tok.Verify(PINApp, "000000", &retries, false)
	if err == nil || !errs.Is(err, errs.KindPermission) {
		t.Fatalf("expected PermissionError, got %v", err)
	}
	if retries != 1 {
		t.Fatalf("retries = %d, want 1", retries)
	}
}

func TestPINRetriesAuthedIsMinusOne(t *testing.T) {
	tok, _ := newTestToken(t, [][]byte{swBytes(nil, 0x9000)})
	r, err := tok.PINRetries(PINApp)
	if err != nil {
		t.Fatalf("PINRetries: %v", err)
	}
	if r != -1 {
		t.Fatalf("retries = %d, want -1 for an already-authed card", r)
	}
}

func TestVerifyPINSuccessSetsMustResetOnEnd(t *testing.T) {
	tok, _ := newTestToken(t, [][]byte{swBytes(nil, 0x9000)})
	if err := tok.VerifyPIN(PINApp, "123456"); err != nil {
		t.Fatalf("VerifyPIN: %v", err)
	}
	if !tok.mustResetOnEnd {
		t.Fatal("successful VerifyPIN must set mustResetOnEnd")
	}
}

func TestVerifyPINFailureDoesNotSetMustResetOnEnd(t *testing.T) {
	tok, _ := newTestToken(t, [][]byte{swBytes(nil, 0x63C3)})
	if err := tok.VerifyPIN(PINApp, "000000"); err == nil {
		t.Fatal("expected wrong-PIN error")
	}
	if tok.mustResetOnEnd {
		t.Fatal("failed VerifyPIN must not set mustResetOnEnd")
	}
}

func TestChangePINValidatesLengths(t *testing.T) {
	tok, tr := newTestToken(t, nil)
	err := tok.ChangePIN(PINApp, "123456789", "654321")
	if err == nil || !errs.Is(err, errs.KindArgument) {
		t.Fatalf("expected ArgumentError for 9-byte PIN, got %v", err)
	}
	if len(tr.sent) != 0 {
		t.Fatal("an oversized PIN must be rejected before any APDU")
	}
}

func TestResetRefusedWhilePINAlive(t *testing.T) {
	tok, tr := newTestToken(t, [][]byte{swBytes(nil, 0x63C3)}) // PIN probe: 3 tries left
	err := tok.Reset()
	if err == nil || !errs.Is(err, errs.KindResetConditions) {
		t.Fatalf("expected ResetConditionsError, got %v", err)
	}
	for _, raw := range tr.sent {
		if raw[1] == apdu.InsYubiReset {
			t.Fatal("RESET must not reach the card while the PIN is alive")
		}
	}
}

func TestResetClearsDiscoveryState(t *testing.T) {
	tok, _ := newTestToken(t, [][]byte{
		swBytes(nil, 0x63C0), // PIN blocked
		swBytes(nil, 0x6983), // PUK blocked
		swBytes(nil, 0x9000), // RESET accepted
	})
	tok.didSelect = true
	tok.didReadAllCerts = true
	if err := tok.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if tok.didSelect || tok.didReadAllCerts {
		t.Fatal("Reset should clear cached discovery state")
	}
}

func TestSetManagementKeyRequiresSuccess(t *testing.T) {
	tok, _ := newTestToken(t, [][]byte{swBytes(nil, 0x6982)})
	err := tok.SetManagementKey(Alg3DES, bytes.Repeat([]byte{0x03}, 24), TouchPolicyNever)
	if err == nil || !errs.Is(err, errs.KindPermission) {
		t.Fatalf("expected permission error, got %v", err)
	}
}

func TestSetManagementKeyCachedTouchNeedsModernFirmware(t *testing.T) {
	tok, tr := newTestToken(t, nil)
	tok.IsYkPiv = true
	tok.YkFirmware = [3]byte{4, 2, 0}
	err := tok.SetManagementKey(Alg3DES, bytes.Repeat([]byte{0x03}, 24), TouchPolicyCached)
	if err == nil || !errs.Is(err, errs.KindNotSupported) {
		t.Fatalf("expected NotSupportedError, got %v", err)
	}
	if len(tr.sent) != 0 {
		t.Fatal("the firmware gate must fire before any APDU")
	}
}

func TestSetPINRetriesValidatesRange(t *testing.T) {
	tok, tr := newTestToken(t, nil)
	if err := tok.SetPINRetries(0, 3); err == nil || !errs.Is(err, errs.KindArgument) {
		t.Fatalf("expected ArgumentError, got %v", err)
	}
	if len(tr.sent) != 0 {
		t.Fatal("out-of-range retry counts must be rejected before any APDU")
	}
}
