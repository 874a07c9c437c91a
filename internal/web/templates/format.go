package templates

import (
	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var printer = message.NewPrinter(language.AmericanEnglish)

// Money renders a price with thousands separators, "$13,500" or "$9,999.95".
func Money(d decimal.Decimal) string {
	if d.IsInteger() {
		return printer.Sprintf("$%d", d.IntPart())
	}
	return printer.Sprintf("$%.2f", d.Round(2).InexactFloat64())
}

// Miles renders an odometer reading, "42,000 mi".
func Miles(n int) string {
	return printer.Sprintf("%d mi", n)
}
