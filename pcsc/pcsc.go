// Package pcsc implements apdu.Transport over PC/SC via
// github.com/ebfe/scard, providing the exclusive-transaction and
// reconnect-on-reset semantics a PIV transport requires.
package pcsc

import (
	"gopiv/errs"

	"github.com/ebfe/scard"
)

// Protocol selects the card communication protocol (T=0, T=1, or
// whichever the reader negotiates).
type Protocol int

const (
	ProtocolAny Protocol = iota
	ProtocolT0
	ProtocolT1
)

func (p Protocol) toSCard() scard.Protocol {
	switch p {
	case ProtocolT0:
		return scard.ProtocolT0
	case ProtocolT1:
		return scard.ProtocolT1
	default:
		return scard.ProtocolAny
	}
}

// ListReaders enumerates attached PC/SC reader names.
func ListReaders() ([]string, error) {
	ctx, err := scard.EstablishContext()
	if err != nil {
		return nil, errs.Wrap(errs.KindPCSCContext, err, "pcsc: establish context")
	}
	defer ctx.Release()

	readers, err := ctx.ListReaders()
	if err != nil {
		return nil, errs.Wrap(errs.KindPCSC, err, "pcsc: list readers")
	}
	return readers, nil
}

// Transport is a PC/SC-backed apdu.Transport with exclusive
// transaction and reset-on-release semantics.
type Transport struct {
	ctx      *scard.Context
	card     *scard.Card
	name     string
	protocol Protocol
	atr      []byte
	inTxn    bool
}

// Connect opens readerName with the given protocol preference. The
// protocol is remembered and reused by Reconnect/BeginTransaction.
func Connect(readerName string, protocol Protocol) (*Transport, error) {
	ctx, err := scard.EstablishContext()
	if err != nil {
		return nil, errs.Wrap(errs.KindPCSCContext, err, "pcsc: establish context")
	}
	card, err := ctx.Connect(readerName, scard.ShareShared, protocol.toSCard())
	if err != nil {
		ctx.Release()
		return nil, errs.Wrap(errs.KindPCSC, err, "pcsc: connect to %q", readerName)
	}
	status, err := card.Status()
	if err != nil {
		card.Disconnect(scard.LeaveCard)
		ctx.Release()
		return nil, errs.Wrap(errs.KindPCSC, err, "pcsc: card status")
	}
	return &Transport{ctx: ctx, card: card, name: readerName, protocol: protocol, atr: status.Atr}, nil
}

// Name returns the reader name this Transport is bound to.
func (t *Transport) Name() string { return t.name }

// ATR returns the card's Answer To Reset bytes.
func (t *Transport) ATR() []byte { return t.atr }

// Transmit sends raw command bytes and returns the raw reply
// (apdu.Transport).
func (t *Transport) Transmit(cmd []byte) ([]byte, error) {
	resp, err := t.card.Transmit(cmd)
	if err != nil {
		return nil, errs.Wrap(errs.KindIO, err, "pcsc: transmit")
	}
	return resp, nil
}

// BeginTransaction acquires exclusive access to the card. If the reader reports the card was reset, it
// reconnects and retries once.
func (t *Transport) BeginTransaction() error {
	err := t.card.BeginTransaction()
	if err == nil {
		t.inTxn = true
		return nil
	}
	if err == scard.ErrResetCard {
		if rerr := t.reconnect(false); rerr != nil {
			return errs.Wrap(errs.KindIO, rerr, "pcsc: reconnect after reset")
		}
		if err2 := t.card.BeginTransaction(); err2 != nil {
			return errs.Wrap(errs.KindIO, err2, "pcsc: begin transaction after reset-retry")
		}
		t.inTxn = true
		return nil
	}
	return errs.Wrap(errs.KindIO, err, "pcsc: begin transaction")
}

// EndTransaction releases the transaction, resetting the card iff
// mustResetOnEnd is true. A release failure is
// never propagated — the transaction is considered closed regardless.
func (t *Transport) EndTransaction(mustResetOnEnd bool) {
	disposition := scard.LeaveCard
	if mustResetOnEnd {
		disposition = scard.ResetCard
	}
	_ = t.card.EndTransaction(disposition)
	t.inTxn = false
}

// InTransaction reports whether BeginTransaction succeeded and
// EndTransaction has not yet been called.
func (t *Transport) InTransaction() bool { return t.inTxn }

func (t *Transport) reconnect(cold bool) error {
	init := scard.ResetCard
	if cold {
		init = scard.UnpowerCard
	}
	if err := t.card.Reconnect(scard.ShareShared, t.protocol.toSCard(), init); err != nil {
		return err
	}
	if status, err := t.card.Status(); err == nil {
		t.atr = status.Atr
	}
	return nil
}

// Reconnect performs a card reset/reconnection, requesting the
// Transport's configured protocol. cold selects a cold (power-cycle)
// reset versus a warm reset.
func (t *Transport) Reconnect(cold bool) error { return t.reconnect(cold) }

// Disconnect releases the card and PC/SC context.
func (t *Transport) Disconnect() error {
	if t.card != nil {
		_ = t.card.Disconnect(scard.LeaveCard)
	}
	if t.ctx != nil {
		_ = t.ctx.Release()
	}
	return nil
}
