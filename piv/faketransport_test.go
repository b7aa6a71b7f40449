package piv

import "testing"

// scriptedTransport is an in-memory apdu.Transport + piv.Transport
// fake that replays canned replies in order, recording every APDU it
// was sent. It never touches real hardware.
type scriptedTransport struct {
	replies [][]byte
	sent    [][]byte
	inTxn   bool
}

func (s *scriptedTransport) Transmit(cmd []byte) ([]byte, error) {
	s.sent = append(s.sent, append([]byte(nil), cmd...))
	if len(s.replies) == 0 {
		return []byte{0x90, 0x00}, nil
	}
	r := s.replies[0]
	s.replies = s.replies[1:]
	return r, nil
}

func (s *scriptedTransport) BeginTransaction() error {
	s.inTxn = true
	return nil
}

func (s *scriptedTransport) EndTransaction(reset bool) {
	s.inTxn = false
}

func swBytes(data []byte, sw uint16) []byte {
	return append(append([]byte(nil), data...), byte(sw>>8), byte(sw))
}

func newTestToken(t *testing.T, replies [][]byte) (*Token, *scriptedTransport) {
	t.Helper()
	tr := &scriptedTransport{replies: replies}
	tok := NewToken("test reader", tr)
	if err := tok.Begin(); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	return tok, tr
}
