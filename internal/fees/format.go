package fees

import (
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Formatter renders money for operator-facing text.
type Formatter struct {
	printer *message.Printer
	symbol  string
}

// NewFormatter builds a Formatter for the given locale tag and currency
// symbol. Unknown tags fall back to English.
func NewFormatter(tag, symbol string) Formatter {
	lang, err := language.Parse(tag)
	if err != nil {
		lang = language.English
	}
	return Formatter{printer: message.NewPrinter(lang), symbol: symbol}
}

// Money formats an amount with grouping and two decimals, e.g. ₹30,000.00.
func (f Formatter) Money(amount decimal.Decimal) string {
	return f.symbol + f.printer.Sprintf("%.2f", amount.Round(2).InexactFloat64())
}

// Breakdown renders the per-record lines of a due, one "year fee: amount"
// entry per detail.
func (f Formatter) Breakdown(due OutstandingDue) string {
	parts := make([]string, 0, len(due.Details))
	for _, d := range due.Details {
		parts = append(parts, d.YearName+" "+d.FeeType+": "+f.Money(d.Balance))
	}
	return "Carried forward " + f.Money(due.TotalDues) + " (" + strings.Join(parts, "; ") + ")"
}
