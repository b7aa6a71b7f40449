package box

import (
	"bytes"
	"testing"

	"gopiv/errs"
)

func TestPKCS7RoundTrip(t *testing.T) {
	for n := 0; n < 33; n++ {
		data := bytes.Repeat([]byte{0x7A}, n)
		padded := pkcs7Pad(data, 16)
		if len(padded)%16 != 0 {
			t.Fatalf("len %d not a multiple of 16", n)
		}
		got, err := pkcs7Unpad(padded, 16)
		if err != nil {
			t.Fatalf("n=%d: unpad: %v", n, err)
		}
		if !bytes.Equal(got, data) {
			t.Fatalf("n=%d: got %x, want %x", n, got, data)
		}
	}
}

func TestPKCS7RejectsBadPadLength(t *testing.T) {
	data := []byte{0x01, 0x02, 0x03, 0x00}
	_, err := pkcs7Unpad(data, 16)
	if err == nil || !errs.Is(err, errs.KindPadding) {
		t.Fatalf("expected PaddingError, got %v", err)
	}
}

func TestPKCS7RejectsMismatchedPadBytes(t *testing.T) {
	data := bytes.Repeat([]byte{0x10}, 16)
	data[0] = 0xFF // corrupt one of the pad bytes
	_, err := pkcs7Unpad(data, 16)
	if err == nil || !errs.Is(err, errs.KindPadding) {
		t.Fatalf("expected PaddingError, got %v", err)
	}
}

func TestPKCS7RejectsNonMultipleLength(t *testing.T) {
	_, err := pkcs7Unpad([]byte{0x01, 0x02, 0x03}, 16)
	if err == nil || !errs.Is(err, errs.KindPadding) {
		t.Fatalf("expected PaddingError, got %v", err)
	}
}
