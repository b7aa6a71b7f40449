package pivctl

import (
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"

	"gopiv/piv"
)

var (
	signSlotHex byte
	signInPath  string
	signOutPath string
)

var signCmd = &cobra.Command{
	Use:   "sign",
	Short: "Sign a digest read from stdin (or --in) with a token slot's private key",
	RunE:  runSign,
}

func init() {
	signCmd.Flags().Uint8Var(&signSlotHex, "slot", byte(piv.SlotSignature), "slot ID to sign with (e.g. 0x9c)")
	signCmd.Flags().StringVar(&signInPath, "in", "", "file holding the pre-hashed digest (default: stdin)")
	signCmd.Flags().StringVar(&signOutPath, "out", "", "output file for the signature (default: stdout, hex-encoded)")
}

func runSign(cmd *cobra.Command, args []string) error {
	digest, err := readInput(signInPath)
	if err != nil {
		return fmt.Errorf("read digest: %w", err)
	}

	name, err := resolveReaderName()
	if err != nil {
		return err
	}
	tok, err := piv.Open(name, protocol())
	if err != nil {
		return fmt.Errorf("open %s: %w", name, err)
	}
	defer tok.Close()

	if err := tok.Begin(); err != nil {
		return err
	}
	defer tok.End()

	if pinFlag != "" {
		if err := tok.VerifyPIN(piv.PINApp, pinFlag); err != nil {
			return fmt.Errorf("verify PIN: %w", err)
		}
	}

	slot := tok.BindSlot(piv.SlotID(signSlotHex))
	if !slot.HasAlgorithm {
		if err := slot.ReadCert(); err != nil {
			return fmt.Errorf("slot %02x has no known algorithm and no certificate to infer one from: %w", signSlotHex, err)
		}
	}

	sig, err := slot.SignPrehash(digest)
	if err != nil {
		return fmt.Errorf("sign: %w", err)
	}

	if signOutPath == "" && !jsonOutput {
		fmt.Println(hex.EncodeToString(sig))
		return nil
	}
	return writeOutput(signOutPath, sig)
}
