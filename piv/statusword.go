package piv

import (
	"gopiv/apdu"
	"gopiv/errs"
)

// errForStatus maps a non-success status word to a structured error
// with the appropriate Kind. It is the default SW-to-Kind mapping;
// operations whose status words carry an operation-specific meaning
// (AdminAuth, getData, the security-status checks in credential.go)
// test those words themselves before falling back to it.
func errForStatus(op string, sw apdu.Status) error {
	if retries, ok := sw.IsWrongPIN(); ok {
		return errs.New(errs.KindPermission, "piv: %s: wrong PIN, %d retries remaining", op, retries)
	}
	switch sw {
	case apdu.SWSuccess:
		return nil
	case apdu.SWSecurityNotSatisfied:
		return errs.New(errs.KindPermission, "piv: %s: security condition not satisfied", op)
	case apdu.SWAuthBlocked:
		return errs.New(errs.KindPermission, "piv: %s: authentication method blocked", op)
	case apdu.SWFileNotFound:
		return errs.New(errs.KindNotFound, "piv: %s: object not found", op)
	case apdu.SWFuncNotSupported, apdu.SWInsNotSupported:
		return errs.New(errs.KindNotSupported, "piv: %s: not supported by this card", op)
	case apdu.SWOutOfMemory:
		return errs.New(errs.KindDeviceOutOfMemory, "piv: %s: card out of memory", op)
	case apdu.SWWrongData, apdu.SWWrongP1P2:
		return errs.New(errs.KindInvalidData, "piv: %s: card rejected request data, SW=%04x", op, sw)
	case apdu.SWWrongLength:
		return errs.New(errs.KindLength, "piv: %s: wrong length, SW=%04x", op, sw)
	default:
		return errs.New(errs.KindAPDU, "piv: %s: unexpected status word %04x", op, sw)
	}
}
