package piv

import (
	"encoding/binary"

	"gopiv/apdu"
)

// probeYubico issues the YubicoPIV GET_VERSION and GET_SERIAL
// instructions.
// Failure of either is not an error at the Token level — it simply
// means IsYkPiv stays false, since these instructions don't exist on
// non-Yubico PIV cards.
func (t *Token) probeYubico() error {
	resp, err := t.exchange(apdu.Command{INS: apdu.InsYubiGetVersion, Le: 0})
	if err != nil {
		return err
	}
	if !resp.IsSuccess() || len(resp.Data) < 3 {
		t.IsYkPiv = false
		return nil
	}
	t.IsYkPiv = true
	copy(t.YkFirmware[:], resp.Data[:3])

	if !t.firmwareAtLeast(5, 0, 0) {
		return nil
	}
	resp, err = t.exchange(apdu.Command{INS: apdu.InsYubiGetSerial, Le: 0})
	if err != nil {
		return err
	}
	if resp.IsSuccess() && len(resp.Data) == 4 {
		t.YkSerial = binary.BigEndian.Uint32(resp.Data)
		t.HasYkSerial = true
	}
	return nil
}

// firmwareAtLeast reports whether t is a Yubico device whose firmware
// is >= major.minor.patch. A non-Yubico token never satisfies this.
func (t *Token) firmwareAtLeast(major, minor, patch byte) bool {
	if !t.IsYkPiv {
		return false
	}
	want := [3]byte{major, minor, patch}
	for i := 0; i < 3; i++ {
		if t.YkFirmware[i] != want[i] {
			return t.YkFirmware[i] > want[i]
		}
	}
	return true
}
