package pivctl

import (
	"fmt"

	"github.com/spf13/cobra"

	"gopiv/piv"
)

var slotsCmd = &cobra.Command{
	Use:   "slots",
	Short: "Dump a token's identity and slot/certificate catalog",
	RunE:  runSlots,
}

func runSlots(cmd *cobra.Command, args []string) error {
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
		if !jsonOutput {
			printSuccess("PIN verified")
		}
	}

	if err := tok.ReadAllCerts(); err != nil && !jsonOutput {
		printWarning(fmt.Sprintf("ReadAllCerts: %v", err))
	}
	for _, slot := range tok.Slots() {
		if err := slot.ReadMetadata(); err != nil {
			continue // GET_METADATA is a YubicoPIV extension; absence is fine
		}
	}

	if !jsonOutput {
		printTokenIdentity(tok)
		printSlotTable(tok)
		return nil
	}
	for _, slot := range tok.Slots() {
		fmt.Printf("%02x\t%v\t%v\n", byte(slot.ID), slot.HasCert, slot.HasAlgorithm)
	}
	return nil
}
