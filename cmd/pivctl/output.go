package pivctl

import (
	"encoding/hex"
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"gopiv/piv"
)

// Color styles for the rendered tables.
var (
	colorHeader  = text.Colors{text.FgCyan, text.Bold}
	colorLabel   = text.Colors{text.FgYellow}
	colorValue   = text.Colors{text.FgWhite}
	colorSuccess = text.Colors{text.FgGreen}
	colorError   = text.Colors{text.FgRed}
	colorWarn    = text.Colors{text.FgYellow}
)

func getTableStyle() table.Style {
	style := table.StyleRounded
	style.Color.Header = colorHeader
	style.Color.Row = text.Colors{text.FgWhite}
	style.Color.RowAlternate = text.Colors{text.FgHiWhite}
	style.Options.SeparateRows = false
	return style
}

func newTable() table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(getTableStyle())
	return t
}

func printSuccess(msg string) { fmt.Println(colorSuccess.Sprintf("✓ %s", msg)) }
func printWarning(msg string) { fmt.Println(colorWarn.Sprintf("⚠ %s", msg)) }
func printError(msg string)   { fmt.Println(colorError.Sprintf("✗ %s", msg)) }

// printReaderList prints the available PC/SC reader names.
func printReaderList(names []string) {
	fmt.Println()
	t := newTable()
	t.SetTitle("AVAILABLE SMART CARD READERS")
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Colors: colorLabel, WidthMin: 8},
		{Number: 2, Colors: colorValue, WidthMin: 50},
	})
	if len(names) == 0 {
		t.AppendRow(table.Row{"Status", colorWarn.Sprint("No readers found")})
	} else {
		for i, n := range names {
			t.AppendRow(table.Row{fmt.Sprintf("[%d]", i), n})
		}
	}
	t.Render()
}

// printTokenIdentity renders a token's CHUID/Discovery/vendor state as
// a title table of label/value pairs.
func printTokenIdentity(tok *piv.Token) {
	fmt.Println()
	t := newTable()
	t.SetTitle("TOKEN IDENTITY — " + tok.ReaderName)
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Colors: colorLabel, WidthMin: 20},
		{Number: 2, Colors: colorValue, WidthMin: 50},
	})

	if tok.HasGUID {
		t.AppendRow(table.Row{"GUID", hex.EncodeToString(tok.GUID[:])})
	} else {
		t.AppendRow(table.Row{"GUID", colorWarn.Sprint("(none)")})
	}
	if tok.HasCardholderID {
		t.AppendRow(table.Row{"Cardholder UUID", tok.CardholderUUID.String()})
	}
	if len(tok.FASCN) > 0 {
		t.AppendRow(table.Row{"FASC-N", hex.EncodeToString(tok.FASCN)})
	}
	t.AppendRow(table.Row{"Signed CHUID", tok.SignedCHUID})
	t.AppendRow(table.Row{"App Label", orDash(tok.AppLabel)})
	t.AppendRow(table.Row{"App URI", orDash(tok.AppURI)})
	t.AppendRow(table.Row{"Preferred Auth", preferredAuthName(tok.PreferredAuth)})
	t.AppendRow(table.Row{"App PIN / Global PIN / OCC", fmt.Sprintf("%v / %v / %v", tok.PINApp, tok.PINGlobal, tok.OCC)})
	t.AppendRow(table.Row{"Key History (on/off-card)", fmt.Sprintf("%d / %d", tok.OnCardCount, tok.OffCardCount)})
	if tok.OffCardURL != "" {
		t.AppendRow(table.Row{"Off-Card Cert URL", tok.OffCardURL})
	}
	if tok.IsYkPiv {
		t.AppendRow(table.Row{"Vendor", "YubicoPIV"})
		t.AppendRow(table.Row{"Firmware", fmt.Sprintf("%d.%d.%d", tok.YkFirmware[0], tok.YkFirmware[1], tok.YkFirmware[2])})
		if tok.HasYkSerial {
			t.AppendRow(table.Row{"Serial", fmt.Sprintf("%d", tok.YkSerial)})
		}
	}
	t.Render()
}

// printSlotTable renders a token's slot catalog as numbered rows with
// colored status for certificate and algorithm state.
func printSlotTable(tok *piv.Token) {
	fmt.Println()
	t := newTable()
	t.SetTitle("SLOT CATALOG — " + tok.ReaderName)
	t.AppendHeader(table.Row{"Slot", "Algorithm", "Has Cert", "Subject", "PIN Policy", "Touch Policy", "Origin"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Colors: colorLabel, WidthMin: 6},
		{Number: 2, Colors: colorValue, WidthMin: 12},
		{Number: 3, WidthMin: 10},
		{Number: 4, Colors: colorValue, WidthMin: 30},
		{Number: 5, WidthMin: 10},
		{Number: 6, WidthMin: 10},
		{Number: 7, WidthMin: 10},
	})

	for _, slot := range tok.Slots() {
		hasCert := colorError.Sprint("✗")
		subject := "-"
		if slot.HasCert {
			hasCert = colorSuccess.Sprint("✓")
			subject = slot.Cert.Subject.String()
		}
		alg := "-"
		if slot.HasAlgorithm {
			alg = algorithmName(slot.Algorithm)
		}
		pinPolicy, touchPolicy, origin := "-", "-", "-"
		if slot.HasMetadata {
			pinPolicy = pinPolicyName(slot.PINPolicy)
			touchPolicy = touchPolicyName(slot.TouchPolicy)
		}
		switch slot.Origin {
		case 0x01:
			origin = "generated"
		case 0x02:
			origin = "imported"
		}
		t.AppendRow(table.Row{fmt.Sprintf("%02X", byte(slot.ID)), alg, hasCert, subject, pinPolicy, touchPolicy, origin})
	}
	t.Render()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func preferredAuthName(a piv.PreferredAuth) string {
	switch a {
	case piv.PreferGlobalPIN:
		return "Global PIN"
	case piv.PreferOCC:
		return "On-Card Comparison"
	default:
		return "Application PIN"
	}
}

func algorithmName(a piv.Algorithm) string {
	switch a {
	case piv.Alg3DES:
		return "3DES"
	case piv.AlgRSA1024:
		return "RSA-1024"
	case piv.AlgRSA2048:
		return "RSA-2048"
	case piv.AlgAES128:
		return "AES-128"
	case piv.AlgAES192:
		return "AES-192"
	case piv.AlgAES256:
		return "AES-256"
	case piv.AlgECCP256:
		return "ECC P-256"
	case piv.AlgECCP384:
		return "ECC P-384"
	default:
		return fmt.Sprintf("%#02x", byte(a))
	}
}

func pinPolicyName(p piv.PINPolicy) string {
	switch p {
	case piv.PINPolicyNever:
		return "never"
	case piv.PINPolicyOnce:
		return "once"
	case piv.PINPolicyAlways:
		return "always"
	default:
		return "default"
	}
}

func touchPolicyName(p piv.TouchPolicy) string {
	switch p {
	case piv.TouchPolicyNever:
		return "never"
	case piv.TouchPolicyAlways:
		return "always"
	case piv.TouchPolicyCached:
		return "cached"
	default:
		return "default"
	}
}
