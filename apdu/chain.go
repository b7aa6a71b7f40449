package apdu

import (
	"gopiv/errs"
	"gopiv/pivlog"
)

// Chain drives the SP 800-73-4 command/response chaining loop
// over a Transport. It has no state beyond its
// options: all chaining state lives on the Go call stack of Exchange.
type Chain struct {
	legacyFixup bool
}

// Option configures a Chain.
type Option func(*Chain)

// WithLegacyChainFixup controls the tail-status
// workaround: if any intermediate command-chain segment returned 9000
// and the final tail returned 6A80 (WRONG_DATA), the tail SW is
// rewritten to 9000. This papers over cards that signal "no more data"
// with an error after a clean segment. Default true; pass false to
// disable for conformant cards that should not be masked.
func WithLegacyChainFixup(enabled bool) Option {
	return func(c *Chain) { c.legacyFixup = enabled }
}

// NewChain builds a Chain with the given options. Defaults:
// legacy fixup enabled.
func NewChain(opts ...Option) *Chain {
	c := &Chain{legacyFixup: true}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Exchange sends cmd over t, transparently chaining both the command
// (if Data is long) and the response (if the card signals more bytes
// remaining).
func (c *Chain) Exchange(t Transport, cmd Command) (Response, error) {
	segments := splitSegments(cmd.Data)
	if len(segments) == 0 {
		segments = [][]byte{nil}
	}

	var sawCleanIntermediate bool

	for i, seg := range segments {
		more := i < len(segments)-1
		segCmd := Command{CLA: cmd.CLA, INS: cmd.INS, P1: cmd.P1, P2: cmd.P2, Data: seg, Le: cmd.Le}

		body, sw, err := c.sendSegment(t, segCmd, more)
		if err != nil {
			return Response{}, err
		}

		if more {
			if !sw.IsChainContinue() {
				// Unexpected SW mid-chain stops immediately; the
				// caller inspects SW.
				return c.finish(t, body, sw, sawCleanIntermediate)
			}
			if sw == SWSuccess {
				sawCleanIntermediate = true
			}
			continue
		}

		// Final segment: hand off to response chaining.
		return c.finish(t, body, sw, sawCleanIntermediate)
	}

	return Response{}, errs.New(errs.KindInvalidData, "apdu: no command segments")
}

// sendSegment sends one command-chain segment, resending with a
// corrected Le whenever the card replies 6C xx.
func (c *Chain) sendSegment(t Transport, cmd Command, chainMore bool) ([]byte, Status, error) {
	for {
		raw, err := Serialize(cmd, chainMore)
		if err != nil {
			return nil, 0, err
		}
		pivlog.DebugAPDU("send", raw)
		replyRaw, err := t.Transmit(raw)
		if err != nil {
			return nil, 0, errs.Wrap(errs.KindIO, err, "apdu: transmit failed")
		}
		pivlog.DebugAPDU("recv", replyRaw)
		body, sw, err := ParseReply(replyRaw)
		if err != nil {
			return nil, 0, err
		}
		if sw.IsCorrectLe() {
			cmd.Le = int(byte(sw))
			continue
		}
		return body, sw, nil
	}
}

// finish drives response chaining starting from
// the final command segment's body/status, then applies the step-4
// tail fixup and collapses the reply into one contiguous buffer.
func (c *Chain) finish(t Transport, firstBody []byte, sw Status, sawCleanIntermediate bool) (Response, error) {
	data := append([]byte(nil), firstBody...)
	lastLen := len(firstBody)

	for sw.IsBytesRemaining() || (sw == SWSuccess && lastLen == maxShortFormData) {
		le := 0
		if sw.IsBytesRemaining() {
			le = int(byte(sw))
		}
		cont := Command{INS: InsContinue, Le: le}
		raw, err := Serialize(cont, false)
		if err != nil {
			return Response{}, err
		}
		pivlog.DebugAPDU("send", raw)
		replyRaw, err := t.Transmit(raw)
		if err != nil {
			return Response{}, errs.Wrap(errs.KindIO, err, "apdu: continue transmit failed")
		}
		pivlog.DebugAPDU("recv", replyRaw)
		body, nextSW, err := ParseReply(replyRaw)
		if err != nil {
			return Response{}, err
		}
		data = append(data, body...)
		lastLen = len(body)
		sw = nextSW
	}

	if c.legacyFixup && sawCleanIntermediate && sw == SWWrongData {
		sw = SWSuccess
	}
	return Response{Data: data, SW: sw}, nil
}

// splitSegments fragments data into <=255-byte chunks.
func splitSegments(data []byte) [][]byte {
	if len(data) == 0 {
		return nil
	}
	var out [][]byte
	for len(data) > 0 {
		n := maxShortFormData
		if n > len(data) {
			n = len(data)
		}
		out = append(out, data[:n])
		data = data[n:]
	}
	return out
}
