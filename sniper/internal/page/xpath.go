package page

import (
	"fmt"
	"strings"

	"github.com/hazyhaar/snipebot/sniper/internal/venue"
)

// XPaths of the asset detail page.
const (
	DialogXPath  = "//div[@data-slot='dialog-content']"
	AmountXPath  = "//input[@type='number' and @placeholder='0.00']"
	SellTabXPath = "//button[contains(translate(text(), 'SELL', 'sell'), 'sell')]"
	PanelXPath   = "//input[@type='number' and @placeholder='0.00']/ancestor::div[2]"
	OutcomeXPath = "//*[contains(text(), 'successful') or contains(text(), 'failed')]"
)

// TabXPath matches the buy or sell tab button.
func TabXPath(side venue.Side) string {
	return fmt.Sprintf("//button[contains(translate(text(), 'BUYSELL', 'buysell'), '%s')]", strings.ToLower(string(side)))
}

// ConfirmXPath matches the dialog button labelled "<side> <symbol>",
// compared case-insensitively.
func ConfirmXPath(side venue.Side, symbol string) string {
	label := strings.ToLower(string(side)) + " " + strings.ToLower(xpathSafe(symbol))
	return fmt.Sprintf("%s//button[contains(translate(text(), 'ABCDEFGHIJKLMNOPQRSTUVWXYZ', 'abcdefghijklmnopqrstuvwxyz'), '%s')]", DialogXPath, label)
}

// xpathSafe drops quote characters so a symbol cannot break out of the
// XPath string literal.
func xpathSafe(s string) string {
	return strings.NewReplacer("'", "", `"`, "").Replace(s)
}

// Verdict classifies the outcome text shown after a submission.
type Verdict int

const (
	VerdictUnknown Verdict = iota
	VerdictSuccess
	VerdictFailure
)

// Classify maps outcome text to a verdict: "successful" wins over "failed".
func Classify(text string) Verdict {
	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "successful"):
		return VerdictSuccess
	case strings.Contains(lower, "failed"):
		return VerdictFailure
	}
	return VerdictUnknown
}
