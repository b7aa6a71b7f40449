package piv

import (
	"bytes"

	"gopiv/apdu"
	"gopiv/errs"
	"gopiv/pcsc"
)

// Open connects to readerName, selects the PIV application, and runs
// the full discovery sequence (CHUID, Discovery, Key History, vendor
// probe) within a single transaction.
// The returned Token is left outside a transaction; callers re-enter
// one via Begin for subsequent operations.
func Open(readerName string, protocol pcsc.Protocol, opts ...apdu.Option) (*Token, error) {
	tr, err := pcsc.Connect(readerName, protocol)
	if err != nil {
		return nil, err
	}
	tok := NewToken(readerName, tr, opts...)
	if err := tok.Begin(); err != nil {
		tr.Disconnect()
		return nil, err
	}
	defer tok.End()

	if err := tok.Select(); err != nil {
		tr.Disconnect()
		return nil, err
	}
	if err := tok.readCHUID(); err != nil {
		tr.Disconnect()
		return nil, err
	}
	if err := tok.readDiscovery(); err != nil {
		tr.Disconnect()
		return nil, err
	}
	if err := tok.readKeyHistory(); err != nil {
		tr.Disconnect()
		return nil, err
	}
	_ = tok.probeYubico() // best-effort; non-Yubico cards don't implement this

	return tok, nil
}

// Enumerate lists every attached PC/SC reader and opens a Token on
// each that answers PIV SELECT, skipping (not failing on) readers
// that don't hold a PIV applet.
func Enumerate(protocol pcsc.Protocol) ([]*Token, error) {
	names, err := pcsc.ListReaders()
	if err != nil {
		return nil, err
	}
	var tokens []*Token
	for _, name := range names {
		tok, err := Open(name, protocol)
		if err != nil {
			continue
		}
		tokens = append(tokens, tok)
	}
	return tokens, nil
}

// FindByGUID searches attached readers for the first token whose
// CHUID GUID has guid as a prefix. If guid has zero length, it
// instead returns the sole token that has no CHUID at all; zero or
// more-than-one CHUID-less tokens among the enumerated set are
// errors. Every opened token that isn't the result is closed before
// returning.
func FindByGUID(protocol pcsc.Protocol, guid []byte) (*Token, error) {
	names, err := pcsc.ListReaders()
	if err != nil {
		return nil, err
	}

	var opened []*Token
	for _, name := range names {
		tok, err := Open(name, protocol)
		if err != nil {
			continue
		}
		opened = append(opened, tok)
	}

	match, rest, err := selectByGUID(opened, guid)
	for _, tok := range rest {
		tok.Close()
	}
	if err != nil {
		return nil, err
	}
	return match, nil
}

// selectByGUID implements the matching rule documented on FindByGUID
// over an already-opened token set. It returns the winner (or nil on
// error) plus every other token, which the caller is responsible for
// closing.
func selectByGUID(tokens []*Token, guid []byte) (*Token, []*Token, error) {
	if len(guid) == 0 {
		var chuidless []*Token
		var rest []*Token
		for _, tok := range tokens {
			if !tok.HasCHUID {
				chuidless = append(chuidless, tok)
			} else {
				rest = append(rest, tok)
			}
		}
		switch len(chuidless) {
		case 0:
			return nil, rest, errs.New(errs.KindNotFound, "piv: no attached token matches requested GUID")
		case 1:
			return chuidless[0], rest, nil
		default:
			return nil, append(rest, chuidless...), errs.New(errs.KindDuplicate, "piv: %d attached tokens have no CHUID; guid is ambiguous", len(chuidless))
		}
	}

	for i, tok := range tokens {
		if tok.HasGUID && len(guid) <= len(tok.GUID) && bytes.Equal(tok.GUID[:len(guid)], guid) {
			rest := append(append([]*Token(nil), tokens[:i]...), tokens[i+1:]...)
			return tok, rest, nil
		}
	}
	return nil, tokens, errs.New(errs.KindNotFound, "piv: no attached token matches requested GUID")
}
