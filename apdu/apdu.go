// Package apdu implements the ISO 7816-4 command/response framing, a
// narrow Transport interface standing in for PC/SC, and the
// SP 800-73-4 command/response chaining loop. It knows nothing about
// PIV data objects; package piv builds on top of it.
package apdu

import (
	"gopiv/errs"
)

// Instructions used across this module.
const (
	InsSelect       byte = 0xA4
	InsVerify       byte = 0x20
	InsChangeRef    byte = 0x24
	InsResetRetry   byte = 0x2C
	InsGeneralAuth  byte = 0x87
	InsGetData      byte = 0xCB
	InsPutData      byte = 0xDB
	InsGenerateAsym byte = 0x47
	InsContinue     byte = 0xC0

	// YubicoPIV vendor extensions.
	InsYubiSetMgmt    byte = 0xFF
	InsYubiImportAsym byte = 0xFE
	InsYubiGetVersion byte = 0xFD
	InsYubiSetRetries byte = 0xFA
	InsYubiAttest     byte = 0xF9
	InsYubiGetSerial  byte = 0xF8
	InsYubiReset      byte = 0xFB
	InsYubiGetMeta    byte = 0xF7
)

// CLA chaining bit: set on every command-chain segment
// except the last.
const claChainMore byte = 0x10

// MaxAPDUSize is the minimum required reply buffer capacity.
const MaxAPDUSize = 261

// maxShortFormData is the largest data length the short-form Lc/Le
// byte can express.
const maxShortFormData = 255

// Command is one APDU command, short form only.
type Command struct {
	CLA, INS, P1, P2 byte
	Data             []byte
	// Le is the expected response length; -1 means "no Le byte" (a
	// pure Case-3 write with no response data expected), 0 means
	// "Le=0x00" (read as much as offered).
	Le int
}

// Status is the two-byte trailer.
type Status uint16

const (
	SWSuccess              Status = 0x9000
	SWWrongLength          Status = 0x6700
	SWSecurityNotSatisfied Status = 0x6982
	SWAuthBlocked          Status = 0x6983
	SWWrongData            Status = 0x6A80
	SWFuncNotSupported     Status = 0x6A81
	SWFileNotFound         Status = 0x6A82
	SWOutOfMemory          Status = 0x6A84
	SWWrongP1P2            Status = 0x6A86
	SWInsNotSupported      Status = 0x6D00
)

// IsChainContinue reports whether sw signals "more segments expected"
// during command chaining: 9000, 61xx, 62xx,
// 63xx all mean "advance past this segment".
func (sw Status) IsChainContinue() bool {
	hi := byte(sw >> 8)
	return sw == SWSuccess || hi == 0x61 || hi == 0x62 || hi == 0x63
}

// IsCorrectLe reports SW 6C xx: resend the
// same segment with LE set to the low byte.
func (sw Status) IsCorrectLe() bool { return byte(sw>>8) == 0x6C }

// IsBytesRemaining reports SW 61 xx: the card
// has more response data, fetch it with INS_CONTINUE.
func (sw Status) IsBytesRemaining() bool { return byte(sw>>8) == 0x61 }

// IsWrongPIN reports SW 63 Cx, returning the retry count in x.
func (sw Status) IsWrongPIN() (retries int, ok bool) {
	if byte(sw>>8) != 0x63 {
		return 0, false
	}
	low := byte(sw)
	if low&0xF0 != 0xC0 {
		return 0, false
	}
	return int(low & 0x0F), true
}

// Response is the decoded result of one chained exchange: concatenated data plus the final (possibly rewritten)
// status word.
type Response struct {
	Data []byte
	SW   Status
}

// IsSuccess reports whether SW == 9000.
func (r Response) IsSuccess() bool { return r.SW == SWSuccess }

// Transport is the narrow interface this module consumes in place of
// PC/SC. Transmit performs one
// synchronous blocking exchange; it does not itself implement
// chaining (apdu.Chain does that on top).
type Transport interface {
	// Transmit sends the serialized command bytes and returns the raw
	// reply bytes including the two trailer bytes.
	Transmit(cmd []byte) ([]byte, error)
}

// Serialize renders cmd in short form. It fails with
// KindLength if len(Data) >= 256: short form only, no extended Lc/Le.
func Serialize(cmd Command, chainMore bool) ([]byte, error) {
	if len(cmd.Data) >= maxShortFormData+1 {
		return nil, errs.New(errs.KindLength, "apdu: short-form data length %d >= 256", len(cmd.Data))
	}
	cla := cmd.CLA
	if chainMore {
		cla |= claChainMore
	}
	out := []byte{cla, cmd.INS, cmd.P1, cmd.P2}
	if len(cmd.Data) > 0 {
		out = append(out, byte(len(cmd.Data)))
		out = append(out, cmd.Data...)
	}
	// LE is omitted on a chained-more segment.
	if !chainMore && cmd.Le >= 0 {
		out = append(out, byte(cmd.Le))
	}
	return out, nil
}

// ParseReply splits raw reply bytes into body and status word.
func ParseReply(raw []byte) (body []byte, sw Status, err error) {
	if len(raw) < 2 {
		return nil, 0, errs.New(errs.KindLength, "apdu: reply too short (%d bytes)", len(raw))
	}
	n := len(raw)
	sw = Status(uint16(raw[n-2])<<8 | uint16(raw[n-1]))
	return raw[:n-2], sw, nil
}
