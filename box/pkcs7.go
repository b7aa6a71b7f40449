package box

import "gopiv/errs"

// pkcs7Pad pads data to a multiple of blockSz, all pad bytes equal to
// the pad length.
func pkcs7Pad(data []byte, blockSz int) []byte {
	pad := blockSz - len(data)%blockSz
	out := make([]byte, len(data)+pad)
	copy(out, data)
	for i := len(data); i < len(out); i++ {
		out[i] = byte(pad)
	}
	return out
}

// pkcs7Unpad validates and strips PKCS#7 padding with constant
// structure: the last byte p must be in
// [1, blockSz], and every one of the last p bytes must equal p.
func pkcs7Unpad(data []byte, blockSz int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSz != 0 {
		return nil, errs.New(errs.KindPadding, "box: padded plaintext is not a multiple of the block size")
	}
	pad := int(data[len(data)-1])
	if pad < 1 || pad > blockSz {
		return nil, errs.New(errs.KindPadding, "box: invalid padding length %d", pad)
	}
	mismatch := 0
	for i := len(data) - pad; i < len(data); i++ {
		if data[i] != byte(pad) {
			mismatch++
		}
	}
	if mismatch != 0 {
		return nil, errs.New(errs.KindPadding, "box: padding bytes do not match pad length")
	}
	return data[:len(data)-pad], nil
}
