package piv

import (
	"gopiv/apdu"
	"gopiv/bertlv"
	"gopiv/errs"
)

// Tags inside the Application Property Template returned by SELECT.
const (
	tagAPT        uint32 = 0x61
	tagAID        uint32 = 0x4F
	tagAuthority  uint32 = 0x79
	tagAppLabel   uint32 = 0x50
	tagURI        uint32 = 0x5F50
	tagAlgorithms uint32 = 0xAC
	tagAlgID      uint32 = 0x80
)

// Select issues SELECT on the PIV AID and parses the returned
// Application Property Template. It must be called once per
// connection, inside a transaction, before any other operation.
// Calling it again is harmless: the algorithm table is rebuilt, not
// appended to.
func (t *Token) Select() error {
	resp, err := t.exchange(apdu.Command{
		CLA: 0x00, INS: apdu.InsSelect, P1: 0x04, P2: 0x00,
		Data: AID, Le: 0,
	})
	if err != nil {
		return err
	}
	if !resp.IsSuccess() {
		return errs.New(errs.KindNotFound, "piv: SELECT failed, SW=%04x", resp.SW)
	}

	dec := bertlv.NewDecoder(resp.Data)
	apt, ok, err := dec.Next()
	if err != nil {
		return errs.Wrap(errs.KindInvalidData, err, "piv: parse APT")
	}
	if !ok || apt.Tag != tagAPT {
		// Some cards return the inner TLVs bare, without the 0x61
		// wrapper; fall back to parsing resp.Data directly.
		return t.parseAPTBody(resp.Data)
	}
	return t.parseAPTBody(apt.Value)
}

func (t *Token) parseAPTBody(body []byte) error {
	fields, err := bertlv.NewDecoder(body).All()
	if err != nil {
		return errs.Wrap(errs.KindInvalidData, err, "piv: parse APT body")
	}
	for _, f := range fields {
		switch f.Tag {
		case tagAID, tagAuthority:
			// Known but unused here.
		case tagAppLabel:
			t.AppLabel = string(f.Value)
		case tagURI:
			t.AppURI = string(f.Value)
		case tagAlgorithms:
			t.parseAlgorithmTable(f.Value)
		default:
			return errs.New(errs.KindPIVTag, "piv: unexpected tag %#x in application property template", f.Tag)
		}
	}
	t.didSelect = true
	return nil
}

// parseAlgorithmTable reads the nested list of supported-algorithm
// TLVs (tag 0x80, one byte each) inside the 0xAC container.
func (t *Token) parseAlgorithmTable(body []byte) {
	fields, err := bertlv.NewDecoder(body).All()
	if err != nil {
		return
	}
	t.SupportedAlgorithms = t.SupportedAlgorithms[:0]
	for _, f := range fields {
		if f.Tag == tagAlgID && len(f.Value) == 1 {
			t.SupportedAlgorithms = append(t.SupportedAlgorithms, Algorithm(f.Value[0]))
		}
	}
}

// SupportsAlgorithm reports whether alg appeared in the SELECT
// algorithm table. Returns true unconditionally if Select never
// populated the table, since absence of the extension is not
// evidence of absence of the algorithm.
func (t *Token) SupportsAlgorithm(alg Algorithm) bool {
	if len(t.SupportedAlgorithms) == 0 {
		return true
	}
	for _, a := range t.SupportedAlgorithms {
		if a == alg {
			return true
		}
	}
	return false
}
