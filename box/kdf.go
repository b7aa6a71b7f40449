package box

import (
	"crypto/sha256"
	"crypto/sha512"

	"gopiv/errs"
)

// KDFSpec is a direct digest KDF: key = H(shared || nonce), truncated
// to the cipher's key length.
type KDFSpec struct {
	Name      string
	DigestLen int
	Sum       func(data []byte) []byte
}

// KDFs is the registry of supported digest KDFs. sha512 is the
// default.
var KDFs = map[string]KDFSpec{
	"sha256": {Name: "sha256", DigestLen: sha256.Size, Sum: func(d []byte) []byte { s := sha256.Sum256(d); return s[:] }},
	"sha384": {Name: "sha384", DigestLen: sha512.Size384, Sum: func(d []byte) []byte { s := sha512.Sum384(d); return s[:] }},
	"sha512": {Name: "sha512", DigestLen: sha512.Size, Sum: func(d []byte) []byte { s := sha512.Sum512(d); return s[:] }},
}

// DefaultKDF is the default KDF.
const DefaultKDF = "sha512"

func lookupKDF(name string) (KDFSpec, error) {
	spec, ok := KDFs[name]
	if !ok {
		return KDFSpec{}, errs.New(errs.KindExtensionMissing, "box: unknown kdf %q", name)
	}
	return spec, nil
}

// deriveKey computes H(shared||nonce) and truncates to keyLen.
func deriveKey(kdf KDFSpec, shared, nonce []byte, keyLen int) ([]byte, error) {
	digest := kdf.Sum(append(append([]byte(nil), shared...), nonce...))
	if len(digest) < keyLen {
		return nil, errs.New(errs.KindArgument, "box: kdf %q digest shorter than requested key length", kdf.Name)
	}
	return digest[:keyLen], nil
}
