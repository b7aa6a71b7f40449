package apdu

import (
	"bytes"
	"testing"
)

func TestSerializeCase2Read(t *testing.T) {
	raw, err := Serialize(Command{CLA: 0x00, INS: InsSelect, P1: 0x04, P2: 0x00, Le: 0}, false)
	if err != nil {
		t.Fatal(err)
	}
	want := []byte{0x00, InsSelect, 0x04, 0x00, 0x00}
	if !bytes.Equal(raw, want) {
		t.Fatalf("got %x, want %x", raw, want)
	}
}

func TestSerializeCase3Write(t *testing.T) {
	raw, err := Serialize(Command{INS: InsPutData, Data: []byte{0x5c, 0x03}, Le: -1}, false)
	if err != nil {
		t.Fatal(err)
	}
	want := []byte{0x00, InsPutData, 0x00, 0x00, 0x02, 0x5c, 0x03}
	if !bytes.Equal(raw, want) {
		t.Fatalf("got %x, want %x", raw, want)
	}
}

func TestSerializeOmitsLEWhenChaining(t *testing.T) {
	raw, err := Serialize(Command{INS: InsPutData, Data: []byte{0x01}, Le: 0}, true)
	if err != nil {
		t.Fatal(err)
	}
	// CLA chaining bit set, Lc=1, data=01, no trailing LE byte.
	want := []byte{claChainMore, InsPutData, 0x00, 0x00, 0x01, 0x01}
	if !bytes.Equal(raw, want) {
		t.Fatalf("got %x, want %x", raw, want)
	}
}

func TestParseReplyNoTrailerErrors(t *testing.T) {
	if _, _, err := ParseReply([]byte{0x01}); err == nil {
		t.Fatal("expected error for short reply")
	}
}

func TestIsWrongPIN(t *testing.T) {
	retries, ok := Status(0x63C3).IsWrongPIN()
	if !ok || retries != 3 {
		t.Fatalf("retries=%d ok=%v, want 3 true", retries, ok)
	}
	if _, ok := Status(0x9000).IsWrongPIN(); ok {
		t.Fatal("9000 should not parse as wrong-PIN")
	}
}
