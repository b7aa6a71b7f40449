package pivctl

import (
	"fmt"

	"github.com/spf13/cobra"

	"gopiv/pcsc"
	"gopiv/piv"
)

var enumerateCmd = &cobra.Command{
	Use:   "enumerate",
	Short: "List attached readers and PIV tokens",
	RunE:  runEnumerate,
}

func runEnumerate(cmd *cobra.Command, args []string) error {
	names, err := pcsc.ListReaders()
	if err != nil {
		return err
	}
	if !jsonOutput {
		printReaderList(names)
	}

	tokens, err := piv.Enumerate(protocol())
	if err != nil {
		return err
	}
	if len(tokens) == 0 {
		if !jsonOutput {
			printWarning("no PIV applets found on any attached reader")
		}
		return nil
	}
	defer func() {
		for _, tok := range tokens {
			tok.Close()
		}
	}()
	for _, tok := range tokens {
		if jsonOutput {
			fmt.Printf("%s\t%x\n", tok.ReaderName, tok.GUID)
			continue
		}
		printTokenIdentity(tok)
	}
	return nil
}
