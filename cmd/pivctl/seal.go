package pivctl

import (
	"crypto/ecdsa"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"gopiv/box"
	"gopiv/piv"
)

var (
	sealRecipientPath string
	sealCipher        string
	sealKDF           string
	sealVersion       int
	sealGUIDHex       string
	sealSlotHex       byte
	sealOutPath       string
)

var sealCmd = &cobra.Command{
	Use:   "seal",
	Short: "Seal stdin to a recipient key file or an attached token's slot, writing a box to stdout or --out",
	RunE:  runSeal,
}

func init() {
	sealCmd.Flags().StringVar(&sealRecipientPath, "recipient", "", "PEM or DER certificate/public key file (omit to seal to an attached token)")
	sealCmd.Flags().StringVar(&sealCipher, "cipher", box.DefaultCipher, "AEAD cipher name")
	sealCmd.Flags().StringVar(&sealKDF, "kdf", box.DefaultKDF, "KDF digest name")
	sealCmd.Flags().IntVar(&sealVersion, "version", box.Version3, "wire format version (1=legacy, 2, 3)")
	sealCmd.Flags().StringVar(&sealGUIDHex, "guid", "", "bind the box to this token GUID (hex) for targeted recipient-discovery")
	sealCmd.Flags().Uint8Var(&sealSlotHex, "slot", 0, "slot ID: paired with --guid, or the token slot to seal to (default key management)")
	sealCmd.Flags().StringVar(&sealOutPath, "out", "", "output file (default: stdout)")
}

func runSeal(cmd *cobra.Command, args []string) error {
	plaintext, err := readAllStdin()
	if err != nil {
		return fmt.Errorf("read plaintext from stdin: %w", err)
	}

	opts := []box.Option{box.WithVersion(sealVersion), box.WithCipher(sealCipher), box.WithKDF(sealKDF)}

	var b *box.Box
	if sealRecipientPath == "" {
		b, err = sealToToken(plaintext, opts)
	} else {
		b, err = sealToKeyFile(plaintext, opts)
	}
	if err != nil {
		return err
	}
	encoded, err := b.Encode()
	if err != nil {
		return err
	}
	return writeOutput(sealOutPath, encoded)
}

func sealToKeyFile(plaintext []byte, opts []box.Option) (*box.Box, error) {
	pub, err := loadRecipientKey(sealRecipientPath)
	if err != nil {
		return nil, err
	}
	if sealGUIDHex != "" {
		guidBytes, err := hex.DecodeString(sealGUIDHex)
		if err != nil || len(guidBytes) != 16 {
			return nil, fmt.Errorf("--guid must be 32 hex characters (16 bytes)")
		}
		var guid [16]byte
		copy(guid[:], guidBytes)
		opts = append(opts, box.WithGUIDSlot(guid, sealSlotHex))
	}
	return box.Seal(pub, plaintext, opts...)
}

func sealToToken(plaintext []byte, opts []box.Option) (*box.Box, error) {
	name, err := resolveReaderName()
	if err != nil {
		return nil, err
	}
	tok, err := piv.Open(name, protocol())
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	defer tok.Close()

	slotID := piv.SlotKeyManagement
	if sealSlotHex != 0 {
		slotID = piv.SlotID(sealSlotHex)
	}
	if err := tok.Begin(); err != nil {
		return nil, err
	}
	defer tok.End()
	return box.SealToSlot(tok, tok.BindSlot(slotID), plaintext, opts...)
}

func loadRecipientKey(path string) (*ecdsa.PublicKey, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	der := raw
	if block, _ := pem.Decode(raw); block != nil {
		der = block.Bytes
	}
	if cert, err := x509.ParseCertificate(der); err == nil {
		pub, ok := cert.PublicKey.(*ecdsa.PublicKey)
		if !ok {
			return nil, fmt.Errorf("%s: certificate does not hold an EC public key", path)
		}
		return pub, nil
	}
	pub, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, fmt.Errorf("%s: not a certificate or PKIX public key: %w", path, err)
	}
	ecPub, ok := pub.(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%s: not an EC public key", path)
	}
	return ecPub, nil
}

func readAllStdin() ([]byte, error) {
	var buf []byte
	chunk := make([]byte, 4096)
	for {
		n, err := os.Stdin.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
		}
		if err != nil {
			break
		}
	}
	return buf, nil
}

func writeOutput(path string, data []byte) error {
	if path == "" {
		_, err := os.Stdout.Write(data)
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
