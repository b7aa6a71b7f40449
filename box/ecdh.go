package box

import (
	"crypto/ecdsa"

	"gopiv/errs"
)

// ecdhSharedSecret computes ECDH(priv, pub) via stdlib crypto/ecdh,
// bridging from the ecdsa.PublicKey representation the box wire
// format uses.
func ecdhSharedSecret(priv *ecdsa.PrivateKey, pub *ecdsa.PublicKey) ([]byte, error) {
	ecdhPriv, err := priv.ECDH()
	if err != nil {
		return nil, errs.Wrap(errs.KindCurve, err, "box: convert private key to ECDH")
	}
	ecdhPub, err := pub.ECDH()
	if err != nil {
		return nil, errs.Wrap(errs.KindCurve, err, "box: convert public key to ECDH")
	}
	secret, err := ecdhPriv.ECDH(ecdhPub)
	if err != nil {
		return nil, errs.Wrap(errs.KindCurve, err, "box: compute shared secret")
	}
	return secret, nil
}
