package box

import (
	"crypto/ecdsa"

	"gopiv/errs"
	"gopiv/piv"
)

// defaultSlot is probed when a box doesn't name a specific slot: key
// management is where encryption keys live.
const defaultSlot = piv.SlotKeyManagement

// FindToken locates the box's recipient among an already-opened set
// of tokens. When the box names a token GUID, only that token is
// considered and a key mismatch is a hard error; otherwise the named
// (or default key-management) slot is probed across all tokens, and
// finally every token that hasn't been fully scanned gets a full
// certificate read. The first match wins. Certificate reads open a
// transaction on the token when the caller doesn't already hold one.
func FindToken(tokens []*piv.Token, b *Box) (*piv.Token, *piv.Slot, error) {
	if b.GUIDSlotValid {
		for _, tok := range tokens {
			if tok.GUID != b.GUID {
				continue
			}
			slot := tok.BindSlot(piv.SlotID(b.Slot))
			if !slot.HasCert {
				if err := readCertInTxn(tok, slot); err != nil {
					return nil, nil, err
				}
			}
			if !slotKeyEqual(slot, b.Recipient) {
				return nil, nil, errs.New(errs.KindKeysNotEqual, "box: slot %02x public key does not match box recipient", b.Slot)
			}
			return tok, slot, nil
		}
		return nil, nil, errs.New(errs.KindNotFound, "box: no attached token matches box GUID")
	}

	probeSlot := defaultSlot
	if b.Slot != 0 {
		probeSlot = piv.SlotID(b.Slot)
	}
	for _, tok := range tokens {
		slot := tok.BindSlot(probeSlot)
		if !slot.HasCert {
			if err := readCertInTxn(tok, slot); err != nil {
				continue
			}
		}
		if slotKeyEqual(slot, b.Recipient) {
			return tok, slot, nil
		}
	}

	for _, tok := range tokens {
		if tok.HasReadAllCerts() {
			continue
		}
		if err := readAllCertsInTxn(tok); err != nil {
			continue
		}
		for _, slot := range tok.Slots() {
			if slotKeyEqual(slot, b.Recipient) {
				return tok, slot, nil
			}
		}
	}
	return nil, nil, errs.New(errs.KindNotFound, "box: no attached token holds the box recipient key")
}

func readCertInTxn(tok *piv.Token, slot *piv.Slot) error {
	if tok.InTransaction() {
		return slot.ReadCert()
	}
	if err := tok.Begin(); err != nil {
		return err
	}
	defer tok.End()
	return slot.ReadCert()
}

func readAllCertsInTxn(tok *piv.Token) error {
	if tok.InTransaction() {
		return tok.ReadAllCerts()
	}
	if err := tok.Begin(); err != nil {
		return err
	}
	defer tok.End()
	return tok.ReadAllCerts()
}

func slotKeyEqual(slot *piv.Slot, pub *ecdsa.PublicKey) bool {
	switch {
	case slot == nil || pub == nil:
		return false
	case slot.PublicKey != nil:
		slotPub, ok := slot.PublicKey.(*ecdsa.PublicKey)
		return ok && slotPub.Equal(pub)
	case slot.HasCert && slot.Cert != nil:
		certPub, ok := slot.Cert.PublicKey.(*ecdsa.PublicKey)
		return ok && certPub.Equal(pub)
	}
	return false
}
