package piv

import (
	"testing"

	"gopiv/errs"
)

func newDiscoveredToken(t *testing.T, guid []byte, hasCHUID bool) *Token {
	t.Helper()
	tok, _ := newTestToken(t, nil)
	if hasCHUID {
		tok.HasCHUID = true
		if guid != nil {
			tok.HasGUID = true
			copy(tok.GUID[:], guid)
		}
	}
	return tok
}

func TestSelectByGUIDExactMatch(t *testing.T) {
	want := newDiscoveredToken(t, bytes16(0xAA), true)
	other := newDiscoveredToken(t, bytes16(0xBB), true)

	got, rest, err := selectByGUID([]*Token{other, want}, bytes16(0xAA))
	if err != nil {
		t.Fatalf("selectByGUID: %v", err)
	}
	if got != want {
		t.Fatal("expected the token whose GUID matches")
	}
	if len(rest) != 1 || rest[0] != other {
		t.Fatalf("expected the non-matching token returned for cleanup, got %v", rest)
	}
}

func TestSelectByGUIDPrefixMatch(t *testing.T) {
	want := newDiscoveredToken(t, bytes16(0xAA), true)
	prefix := []byte{0xAA, 0xAA}

	got, _, err := selectByGUID([]*Token{want}, prefix)
	if err != nil {
		t.Fatalf("selectByGUID: %v", err)
	}
	if got != want {
		t.Fatal("expected a prefix match to succeed")
	}
}

func TestSelectByGUIDNoMatch(t *testing.T) {
	tok := newDiscoveredToken(t, bytes16(0xAA), true)
	_, rest, err := selectByGUID([]*Token{tok}, bytes16(0xCC))
	if !errs.Is(err, errs.KindNotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}
	if len(rest) != 1 || rest[0] != tok {
		t.Fatal("the unmatched token should be returned for cleanup")
	}
}

func TestSelectByGUIDEmptyGUIDPicksSoleCHUIDlessToken(t *testing.T) {
	withCHUID := newDiscoveredToken(t, bytes16(0xAA), true)
	without := newDiscoveredToken(t, nil, false)

	got, rest, err := selectByGUID([]*Token{withCHUID, without}, nil)
	if err != nil {
		t.Fatalf("selectByGUID: %v", err)
	}
	if got != without {
		t.Fatal("expected the sole CHUID-less token")
	}
	if len(rest) != 1 || rest[0] != withCHUID {
		t.Fatal("expected the CHUID-bearing token returned for cleanup")
	}
}

func TestSelectByGUIDEmptyGUIDAmbiguous(t *testing.T) {
	a := newDiscoveredToken(t, nil, false)
	b := newDiscoveredToken(t, nil, false)

	_, rest, err := selectByGUID([]*Token{a, b}, nil)
	if !errs.Is(err, errs.KindDuplicate) {
		t.Fatalf("expected Duplicate, got %v", err)
	}
	if len(rest) != 2 {
		t.Fatalf("expected both ambiguous tokens returned for cleanup, got %d", len(rest))
	}
}

func TestSelectByGUIDEmptyGUIDNoneFound(t *testing.T) {
	withCHUID := newDiscoveredToken(t, bytes16(0xAA), true)
	_, rest, err := selectByGUID([]*Token{withCHUID}, nil)
	if !errs.Is(err, errs.KindNotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}
	if len(rest) != 1 {
		t.Fatalf("expected the non-matching token returned for cleanup, got %d", len(rest))
	}
}

func bytes16(fill byte) []byte {
	b := make([]byte, 16)
	for i := range b {
		b[i] = fill
	}
	return b
}
