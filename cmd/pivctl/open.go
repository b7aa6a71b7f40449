package pivctl

import (
	"crypto/ecdsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"gopiv/box"
	"gopiv/piv"
)

var (
	openInPath  string
	openKeyPath string
	openOutPath string
)

var openCmd = &cobra.Command{
	Use:   "open",
	Short: "Open a box, offline with a private key or online against an attached token",
	RunE:  runOpen,
}

func init() {
	openCmd.Flags().StringVar(&openInPath, "in", "", "box file to open (default: stdin)")
	openCmd.Flags().StringVar(&openKeyPath, "key", "", "PEM EC private key for offline open (omit to search attached tokens)")
	openCmd.Flags().StringVar(&openOutPath, "out", "", "output file for recovered plaintext (default: stdout)")
}

func runOpen(cmd *cobra.Command, args []string) error {
	raw, err := readInput(openInPath)
	if err != nil {
		return fmt.Errorf("read box: %w", err)
	}
	b, err := box.Decode(raw)
	if err != nil {
		return fmt.Errorf("decode box: %w", err)
	}

	var plaintext []byte
	if openKeyPath != "" {
		priv, err := loadPrivateKey(openKeyPath)
		if err != nil {
			return err
		}
		plaintext, err = box.Open(b, priv)
		if err != nil {
			return err
		}
	} else {
		plaintext, err = openOnline(b)
		if err != nil {
			return err
		}
	}
	defer b.Zero()

	if !jsonOutput {
		printSuccess(fmt.Sprintf("recovered %d bytes of plaintext", len(plaintext)))
	}
	return writeOutput(openOutPath, plaintext)
}

// openOnline runs the box recipient-discovery search over every
// attached token and performs the card-side ECDH once a match is
// found.
func openOnline(b *box.Box) ([]byte, error) {
	tokens, err := piv.Enumerate(protocol())
	if err != nil {
		return nil, err
	}
	if len(tokens) == 0 {
		return nil, fmt.Errorf("no attached PIV tokens and no --key supplied")
	}
	tok, slot, err := box.FindToken(tokens, b)
	for _, other := range tokens {
		if other != tok {
			other.Close()
		}
	}
	if err != nil {
		return nil, err
	}
	defer tok.Close()
	if err := tok.Begin(); err != nil {
		return nil, err
	}
	defer tok.End()

	if pinFlag != "" {
		if err := tok.VerifyPIN(piv.PINApp, pinFlag); err != nil {
			return nil, fmt.Errorf("verify PIN: %w", err)
		}
	}
	return box.OpenOnline(b, slot)
}

func readInput(path string) ([]byte, error) {
	if path == "" {
		return readAllStdin()
	}
	return os.ReadFile(path)
}

func loadPrivateKey(path string) (*ecdsa.PrivateKey, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	der := raw
	if block, _ := pem.Decode(raw); block != nil {
		der = block.Bytes
	}
	if key, err := x509.ParseECPrivateKey(der); err == nil {
		return key, nil
	}
	key, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, fmt.Errorf("%s: not an EC private key: %w", path, err)
	}
	ecKey, ok := key.(*ecdsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("%s: not an EC private key", path)
	}
	return ecKey, nil
}
