// Package pivctl is a cobra-based inspection CLI over the piv and box
// libraries: enumerate readers, dump token/slot state, and seal/open
// ECDH boxes from the command line.
package pivctl

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"gopiv/pcsc"
	"gopiv/pivlog"
)

var (
	version = "0.1.0"

	readerName string
	protoFlag  string
	pinFlag    string
	jsonOutput bool
	debugAPDU  bool
)

var rootCmd = &cobra.Command{
	Use:   "pivctl",
	Short: "PIV token inspector and ECDH box tool",
	Long: `pivctl v` + version + `
Inspect PIV smartcards over PC/SC and seal/open ECDH box envelopes.

This tool supports:
  - Enumerating attached readers and PIV tokens
  - Dumping token identity, capabilities, and slot/certificate state
  - Sealing and opening ECDH box envelopes, online or offline`,
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&readerName, "reader", "r", "",
		"reader name (default: the only attached reader; an error if several are attached)")
	rootCmd.PersistentFlags().StringVar(&protoFlag, "proto", "any",
		"transport protocol: any, t0, or t1")
	rootCmd.PersistentFlags().StringVarP(&pinFlag, "pin", "p", "",
		"PIV application PIN, verified before operations that need it")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false,
		"output plain tab-separated lines instead of tables (not JSON)")
	rootCmd.PersistentFlags().BoolVar(&debugAPDU, "debug-apdu", false,
		"hex-dump every APDU sent and received")

	rootCmd.AddCommand(enumerateCmd)
	rootCmd.AddCommand(slotsCmd)
	rootCmd.AddCommand(signCmd)
	rootCmd.AddCommand(sealCmd)
	rootCmd.AddCommand(openCmd)
}

// Execute runs the root command.
func Execute() {
	cobra.OnInitialize(func() {
		level := slog.LevelWarn
		if debugAPDU {
			level = slog.LevelDebug
		}
		pivlog.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
		pivlog.SetAPDUDebug(debugAPDU)
	})
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func protocol() pcsc.Protocol {
	switch protoFlag {
	case "t0":
		return pcsc.ProtocolT0
	case "t1":
		return pcsc.ProtocolT1
	default:
		return pcsc.ProtocolAny
	}
}

// resolveReaderName returns readerName if the user set -r, else the
// single attached reader. It returns an error rather than printing a
// "multiple readers" table when the choice is ambiguous.
func resolveReaderName() (string, error) {
	if readerName != "" {
		return readerName, nil
	}
	names, err := pcsc.ListReaders()
	if err != nil {
		return "", fmt.Errorf("list readers: %w", err)
	}
	if len(names) == 0 {
		return "", fmt.Errorf("no smart card readers found")
	}
	if len(names) > 1 {
		return "", fmt.Errorf("multiple readers attached, use -r <name> to select one (found %v)", names)
	}
	return names[0], nil
}
