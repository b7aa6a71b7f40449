package piv

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/des"

	"gopiv/apdu"
	"gopiv/bertlv"
	"gopiv/errs"
)

// pukRef is the key reference VERIFY uses to probe the PUK retry
// counter. The PUK itself is only ever presented through RESET RETRY
// COUNTER.
const pukRef byte = 0x81

func newAdminCipher(alg Algorithm, key []byte) (cipher.Block, error) {
	var keyLen int
	switch alg {
	case Alg3DES:
		keyLen = 24
	case AlgAES128:
		keyLen = 16
	case AlgAES192:
		keyLen = 24
	case AlgAES256:
		keyLen = 32
	default:
		return nil, errs.New(errs.KindBadAlgorithm, "piv: unsupported management key algorithm %#x", byte(alg))
	}
	if len(key) != keyLen {
		return nil, errs.New(errs.KindLength, "piv: management key length %d, want %d for algorithm %#x", len(key), keyLen, byte(alg))
	}
	if alg == Alg3DES {
		return des.NewTripleDESCipher(key)
	}
	return aes.NewCipher(key)
}

// AdminAuth proves possession of the 3DES/AES management key to the
// card with a single challenge-response pass: request a challenge,
// encrypt it (one block, zero IV) under the supplied key, and send
// the ciphertext back to the card as the response. Unlocks GENERATE, IMPORT, PUT DATA, SET MANAGEMENT
// KEY and the other administrative operations for the rest of the
// transaction. The key is not retained.
func (t *Token) AdminAuth(alg Algorithm, key []byte) error {
	block, err := newAdminCipher(alg, key)
	if err != nil {
		return err
	}
	blockSize := block.BlockSize()

	req1 := bertlv.Encode(tagDynAuth, bertlv.Encode(tagChallenge, nil))
	resp, err := t.exchange(apdu.Command{INS: apdu.InsGeneralAuth, P1: byte(alg), P2: byte(SlotAdmin), Data: req1, Le: 0})
	if err != nil {
		return err
	}
	switch resp.SW {
	case apdu.SWSuccess:
	case apdu.SWWrongData:
		return errs.New(errs.KindNotFound, "piv: no management key of algorithm %#x is configured", byte(alg))
	case apdu.SWInsNotSupported:
		return errs.New(errs.KindNotSupported, "piv: card does not support management key authentication")
	default:
		return errForStatus("admin_auth", resp.SW)
	}
	challenge, err := extractDynAuthField(resp.Data, tagChallenge)
	if err != nil {
		return err
	}
	if len(challenge) != blockSize {
		return errs.New(errs.KindLength, "piv: admin_auth: challenge length %d, want %d", len(challenge), blockSize)
	}

	response := make([]byte, blockSize)
	block.Encrypt(response, challenge)

	req2 := bertlv.Encode(tagDynAuth, bertlv.Encode(tagResponse, response))
	resp, err = t.exchange(apdu.Command{INS: apdu.InsGeneralAuth, P1: byte(alg), P2: byte(SlotAdmin), Data: req2, Le: 0})
	if err != nil {
		return err
	}
	switch resp.SW {
	case apdu.SWSuccess:
		t.mustResetOnEnd = true
		return nil
	case apdu.SWWrongData, apdu.SWSecurityNotSatisfied:
		return errs.New(errs.KindPermission, "piv: management key rejected")
	default:
		return errForStatus("admin_auth", resp.SW)
	}
}

// ManagementKeyInfo describes the card's management key, from
// GET_METADATA on the admin key reference (YubicoPIV >= 5.3.0).
type ManagementKeyInfo struct {
	Algorithm   Algorithm
	TouchPolicy TouchPolicy
	IsDefault   bool
}

// ManagementKeyMetadata reads the management key's metadata,
// including whether the factory default key is still set.
func (t *Token) ManagementKeyMetadata() (*ManagementKeyInfo, error) {
	if !t.firmwareAtLeast(5, 3, 0) {
		return nil, errs.New(errs.KindNotSupported, "piv: management key metadata requires YubicoPIV firmware 5.3.0 or later")
	}
	resp, err := t.exchange(apdu.Command{INS: apdu.InsYubiGetMeta, P1: 0x00, P2: byte(SlotAdmin), Le: 0})
	if err != nil {
		return nil, err
	}
	if !resp.IsSuccess() {
		return nil, errForStatus("management key metadata", resp.SW)
	}
	fields, err := bertlv.NewDecoder(resp.Data).All()
	if err != nil {
		return nil, errs.Wrap(errs.KindInvalidData, err, "piv: parse management key metadata")
	}
	info := &ManagementKeyInfo{Algorithm: Alg3DES}
	for _, f := range fields {
		switch f.Tag {
		case 0x01:
			if len(f.Value) == 1 {
				info.Algorithm = Algorithm(f.Value[0])
			}
		case 0x02:
			if len(f.Value) == 2 {
				info.TouchPolicy = TouchPolicy(f.Value[1])
			}
		case 0x05:
			info.IsDefault = len(f.Value) == 1 && f.Value[0] != 0
		}
	}
	return info, nil
}

// SetManagementKey replaces the management key (YubicoPIV only).
// Requires a prior successful AdminAuth in the same transaction.
// TouchPolicyCached requires firmware 4.3.0 or later.
func (t *Token) SetManagementKey(alg Algorithm, key []byte, touchPolicy TouchPolicy) error {
	if _, err := newAdminCipher(alg, key); err != nil {
		return err
	}
	var p2 byte
	switch touchPolicy {
	case TouchPolicyDefault, TouchPolicyNever:
		p2 = 0xFF
	case TouchPolicyAlways:
		p2 = 0xFE
	case TouchPolicyCached:
		if !t.firmwareAtLeast(4, 3, 0) {
			return errs.New(errs.KindNotSupported, "piv: cached touch policy requires YubicoPIV firmware 4.3.0 or later")
		}
		p2 = 0xFD
	default:
		return errs.New(errs.KindArgument, "piv: unknown touch policy %#x", byte(touchPolicy))
	}
	body := append([]byte{byte(alg), byte(SlotAdmin), byte(len(key))}, key...)
	resp, err := t.exchange(apdu.Command{INS: apdu.InsYubiSetMgmt, P1: 0xFF, P2: p2, Data: body, Le: -1})
	zeroBytes(body)
	if err != nil {
		return err
	}
	if !resp.IsSuccess() {
		return errForStatus("set_management_key", resp.SW)
	}
	t.mustResetOnEnd = true
	return nil
}

// Verify drives the VERIFY command in all of its call shapes:
//
//   - pin empty, retries nil: probe the authentication state; success
//     means already authenticated, a retry count means not.
//   - pin empty, retries set: probe, storing the remaining tries.
//   - pin set, retries nil: present the PIN.
//   - pin set, *retries == 0: present the PIN; on rejection the
//     remaining tries are written back.
//   - pin set, *retries > 0: probe first and refuse to spend an
//     attempt when the remaining tries are at or below that floor.
//
// canSkip probes before presenting a PIN and skips the presentation
// if the card is already authenticated. The PIN is never sent on a
// pure probe. A successful presentation marks the transaction for a
// card reset on End so the authenticated state cannot leak.
func (t *Token) Verify(kind PINKind, pin string, retries *int, canSkip bool) error {
	probeOnly := pin == ""
	minRetries := 0
	if !probeOnly && retries != nil {
		minRetries = *retries
	}

	if probeOnly || canSkip || minRetries > 0 {
		remaining, authed, err := t.probePIN(kind)
		switch {
		case err != nil && errs.CausedBy(err, errs.KindNotSupported) && !probeOnly:
			// Cards that reject an empty VERIFY outright still take a
			// real PIN presentation.
		case err != nil:
			return err
		case authed && (probeOnly || canSkip):
			return nil
		case probeOnly:
			if retries != nil {
				*retries = remaining
			}
			return nil
		case minRetries > 0 && !authed && remaining <= minRetries:
			*retries = remaining
			return errs.New(errs.KindMinRetries, "piv: %d tries remaining, at or below the requested floor %d", remaining, minRetries)
		}
	}

	if len(pin) < 1 || len(pin) > 8 {
		return errs.New(errs.KindArgument, "piv: PIN must be 1-8 bytes")
	}
	buf := padPIN(pin)
	resp, err := t.exchange(apdu.Command{INS: apdu.InsVerify, P1: 0x00, P2: byte(kind), Data: buf, Le: -1})
	zeroBytes(buf)
	if err != nil {
		return err
	}
	switch {
	case resp.IsSuccess():
		t.mustResetOnEnd = true
		return nil
	case resp.SW == apdu.SWAuthBlocked:
		if retries != nil {
			*retries = 0
		}
		return errs.New(errs.KindPermission, "piv: PIN is blocked")
	default:
		if r, ok := resp.SW.IsWrongPIN(); ok {
			if retries != nil {
				*retries = r
			}
			return errs.New(errs.KindPermission, "piv: wrong PIN, %d tries remaining", r)
		}
		return errForStatus("verify_pin", resp.SW)
	}
}

// probePIN sends an empty VERIFY. It reports either that the card is
// already authenticated or how many tries remain (0 when blocked).
// Cards that reject the empty form with a length/data error get
// KindNotSupported.
func (t *Token) probePIN(kind PINKind) (remaining int, authed bool, err error) {
	return t.probeRef(byte(kind))
}

func (t *Token) probeRef(ref byte) (remaining int, authed bool, err error) {
	resp, err := t.exchange(apdu.Command{INS: apdu.InsVerify, P1: 0x00, P2: ref, Data: nil, Le: -1})
	if err != nil {
		return 0, false, err
	}
	switch {
	case resp.IsSuccess():
		return 0, true, nil
	case resp.SW == apdu.SWAuthBlocked:
		return 0, false, nil
	case resp.SW == apdu.SWWrongLength || resp.SW == apdu.SWWrongData:
		return 0, false, errs.New(errs.KindNotSupported, "piv: card does not support retry-count probing")
	default:
		if r, ok := resp.SW.IsWrongPIN(); ok {
			return r, false, nil
		}
		return 0, false, errForStatus("verify probe", resp.SW)
	}
}

// VerifyPIN presents pin unconditionally.
func (t *Token) VerifyPIN(kind PINKind, pin string) error {
	return t.Verify(kind, pin, nil, false)
}

// PINRetries reports the remaining retry count without spending an
// attempt. Returns -1 when the card is already authenticated for this
// transaction.
func (t *Token) PINRetries(kind PINKind) (int, error) {
	remaining, authed, err := t.probePIN(kind)
	if err != nil {
		return 0, err
	}
	if authed {
		return -1, nil
	}
	return remaining, nil
}

// ChangePIN changes the PIN (or, with the global reference, the
// global PIN) from oldPIN to newPIN.
func (t *Token) ChangePIN(kind PINKind, oldPIN, newPIN string) error {
	return t.changeRef(apdu.InsChangeRef, byte(kind), oldPIN, newPIN, "change_pin")
}

// ResetPIN resets a blocked PIN using the PUK.
func (t *Token) ResetPIN(kind PINKind, puk, newPIN string) error {
	return t.changeRef(apdu.InsResetRetry, byte(kind), puk, newPIN, "reset_pin")
}

func (t *Token) changeRef(ins, ref byte, current, next, op string) error {
	if len(current) < 1 || len(current) > 8 || len(next) < 1 || len(next) > 8 {
		return errs.New(errs.KindArgument, "piv: PIN and PUK must each be 1-8 bytes")
	}
	data := append(padPIN(current), padPIN(next)...)
	resp, err := t.exchange(apdu.Command{INS: ins, P1: 0x00, P2: ref, Data: data, Le: -1})
	zeroBytes(data)
	if err != nil {
		return err
	}
	switch {
	case resp.IsSuccess():
		t.mustResetOnEnd = true
		return nil
	case resp.SW == apdu.SWAuthBlocked:
		return errs.New(errs.KindPermission, "piv: %s: reference data is blocked", op)
	default:
		if r, ok := resp.SW.IsWrongPIN(); ok {
			return errs.New(errs.KindPermission, "piv: %s: rejected, %d tries remaining", op, r)
		}
		return errForStatus(op, resp.SW)
	}
}

// SetPINRetries configures the PIN and PUK retry counters (YubicoPIV
// only). Requires both a prior AdminAuth and a verified PIN in the
// same transaction, and resets both PINs to their factory defaults.
func (t *Token) SetPINRetries(pinTries, pukTries int) error {
	if pinTries < 1 || pinTries > 0xFF || pukTries < 1 || pukTries > 0xFF {
		return errs.New(errs.KindArgument, "piv: retry counts must be in 1-255")
	}
	resp, err := t.exchange(apdu.Command{INS: apdu.InsYubiSetRetries, P1: byte(pinTries), P2: byte(pukTries), Le: -1})
	if err != nil {
		return err
	}
	if !resp.IsSuccess() {
		return errForStatus("set_pin_retries", resp.SW)
	}
	t.mustResetOnEnd = true
	return nil
}

// padPIN pads a PIN/PUK to 8 bytes with trailing 0xFF, the SP 800-73-4
// convention for VERIFY/CHANGE REFERENCE DATA/RESET RETRY COUNTER.
func padPIN(s string) []byte {
	out := make([]byte, 8)
	n := copy(out, s)
	for i := n; i < 8; i++ {
		out[i] = 0xFF
	}
	return out
}

// Reset performs a full factory reset of the PIV application
// (YubicoPIV only). The card only permits this once both the PIN and
// PUK retry counters are exhausted; that precondition is checked
// locally first so a live credential never gets near the RESET
// instruction. After a successful reset the Token's cached state is
// stale and Open/Select should be repeated.
func (t *Token) Reset() error {
	for _, ref := range []byte{byte(PINApp), pukRef} {
		remaining, authed, err := t.probeRef(ref)
		if err != nil && !errs.CausedBy(err, errs.KindNotSupported) {
			return err
		}
		if err == nil && (authed || remaining > 0) {
			return errs.New(errs.KindResetConditions, "piv: reset requires both PIN and PUK to be blocked")
		}
	}
	resp, err := t.exchange(apdu.Command{INS: apdu.InsYubiReset, P1: 0x00, P2: 0x00, Le: -1})
	if err != nil {
		return err
	}
	switch {
	case resp.IsSuccess():
		t.didSelect = false
		t.didReadAllCerts = false
		t.slots = nil
		return nil
	case resp.SW == apdu.SWSecurityNotSatisfied:
		return errs.New(errs.KindResetConditions, "piv: card refused reset, PIN/PUK not exhausted")
	default:
		return errForStatus("reset", resp.SW)
	}
}
