package piv

import (
	"github.com/google/uuid"

	"gopiv/apdu"
	"gopiv/errs"
)

// Transport is the capability piv.Token needs from its underlying
// reader connection, beyond plain apdu.Transport: exclusive
// transactions and reconnect-on-reset. pcsc.Transport
// implements this; tests use an in-memory fake.
type Transport interface {
	apdu.Transport
	BeginTransaction() error
	EndTransaction(resetCard bool)
}

// Token is a connected PIV card.
type Token struct {
	transport Transport
	chain     *apdu.Chain

	ReaderName string

	inTxn          bool
	mustResetOnEnd bool

	// Identity (populated by readCHUID).
	GUID            [16]byte
	HasGUID         bool
	CardholderUUID  uuid.UUID
	HasCardholderID bool
	FASCN           []byte
	Expiry          [8]byte
	HasExpiry       bool
	HasCHUID        bool
	SignedCHUID     bool

	// Capabilities (SupportedAlgorithms populated by Select, the rest
	// by readDiscovery).
	SupportedAlgorithms []Algorithm
	PINApp              bool
	PINGlobal           bool
	OCC                 bool
	VCI                 bool
	PreferredAuth       PreferredAuth

	// Key history (populated by readKeyHistory).
	OnCardCount  int
	OffCardCount int
	OffCardURL   string

	// Application metadata (populated by Select).
	AppLabel string
	AppURI   string

	// Vendor (populated by probeYubico).
	IsYkPiv     bool
	YkFirmware  [3]byte
	YkSerial    uint32
	HasYkSerial bool

	// Slot catalog.
	slots           []*Slot
	didSelect       bool
	didReadAllCerts bool
}

// NewToken wraps transport as a PIV token bound to readerName. opts
// configure the underlying apdu.Chain (e.g. WithLegacyChainFixup).
func NewToken(readerName string, transport Transport, opts ...apdu.Option) *Token {
	return &Token{
		ReaderName: readerName,
		transport:  transport,
		chain:      apdu.NewChain(opts...),
	}
}

// InTransaction reports whether Begin has been called without a
// matching End.
func (t *Token) InTransaction() bool { return t.inTxn }

// Begin acquires an exclusive transaction on the card. All operations in piv/credential.go and piv/slot.go require
// this.
func (t *Token) Begin() error {
	if err := t.transport.BeginTransaction(); err != nil {
		return errs.Wrap(errs.KindIO, err, "piv: begin transaction")
	}
	t.inTxn = true
	return nil
}

// End releases the transaction, resetting the card iff a prior
// operation set mustResetOnEnd. Always clears both
// flags, even though the underlying release failure (if any) is
// swallowed by the transport.
func (t *Token) End() {
	t.transport.EndTransaction(t.mustResetOnEnd)
	t.inTxn = false
	t.mustResetOnEnd = false
}

// Close releases the underlying reader connection, if the transport
// supports it. Safe to call on a Token whose transaction has already
// ended (or was never begun); it has no effect on a transport that
// doesn't implement disconnect.
func (t *Token) Close() error {
	if closer, ok := t.transport.(interface{ Disconnect() error }); ok {
		return closer.Disconnect()
	}
	return nil
}

// requireTxn rejects any APDU-sending operation outside a held
// transaction.
func (t *Token) requireTxn() error {
	if !t.inTxn {
		return errs.New(errs.KindInvalidData, "piv: operation requires an active transaction")
	}
	return nil
}

// exchange sends cmd through the chain engine, requiring a held
// transaction first.
func (t *Token) exchange(cmd apdu.Command) (apdu.Response, error) {
	if err := t.requireTxn(); err != nil {
		return apdu.Response{}, err
	}
	return t.chain.Exchange(t.transport, cmd)
}
