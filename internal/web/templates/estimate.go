package templates

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/a-h/templ"

	"github.com/JonMunkholm/carvalue/internal/core"
)

// EstimateForm holds the submitted form values, echoed back on re-render.
type EstimateForm struct {
	Year    string
	Make    string
	Model   string
	Mileage string
}

// EstimatePageData is everything the estimate page shows.
type EstimatePageData struct {
	Form   EstimateForm
	Errors []string
	// Result is nil before the first submission.
	Result *core.ValuationResult
	// Vehicle is the label of the valued vehicle, e.g. "2018 HONDA CIVIC".
	Vehicle string
}

// EstimatePage renders the valuation form and, after a submission, the
// estimate with its supporting comparables.
func EstimatePage(data EstimatePageData) templ.Component {
	return Layout("Vehicle Valuation", templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		var b strings.Builder
		b.WriteString(`<h1>Used Vehicle Valuation</h1>`)
		writeForm(&b, data.Form)

		if len(data.Errors) > 0 {
			b.WriteString(`<div class="errors" role="alert"><ul>`)
			for _, msg := range data.Errors {
				fmt.Fprintf(&b, `<li>%s</li>`, templ.EscapeString(msg))
			}
			b.WriteString(`</ul></div>`)
		}

		if data.Result != nil {
			writeResult(&b, data.Vehicle, data.Result)
		}

		_, err := io.WriteString(w, b.String())
		return err
	}))
}

func writeForm(b *strings.Builder, f EstimateForm) {
	b.WriteString(`<form method="post" action="/estimate">`)
	writeInput(b, "Year", "year", f.Year, "2018", true)
	writeInput(b, "Make", "make", f.Make, "Honda", true)
	writeInput(b, "Model", "model", f.Model, "Civic", true)
	writeInput(b, "Mileage", "mileage", f.Mileage, "42,000", false)
	b.WriteString(`<button type="submit">Estimate</button></form>`)
}

func writeInput(b *strings.Builder, label, name, value, placeholder string, required bool) {
	req := ""
	if required {
		req = " required"
	}
	fmt.Fprintf(b, `<label>%s<input name="%s" value="%s" placeholder="%s"%s></label>`,
		label, name, templ.EscapeString(value), placeholder, req)
}

func writeResult(b *strings.Builder, vehicle string, r *core.ValuationResult) {
	fmt.Fprintf(b, `<h2>Estimated Market Value</h2><p>%s</p>`, templ.EscapeString(vehicle))
	if !r.Estimate.Valid {
		b.WriteString(`<p class="estimate">No estimate available</p><p>No comparable listings were found for this vehicle.</p>`)
		return
	}
	fmt.Fprintf(b, `<p class="estimate">%s</p>`, Money(r.Estimate.Decimal))

	if len(r.Comparables) == 0 {
		b.WriteString(`<p>No comparable listings</p>`)
		return
	}
	fmt.Fprintf(b, `<h3>Comparable listings (%d)</h3>`, len(r.Comparables))
	b.WriteString(`<table><thead><tr><th>Vehicle</th><th>Price</th><th>Mileage</th><th>Location</th></tr></thead><tbody>`)
	for _, c := range r.Comparables {
		fmt.Fprintf(b, `<tr><td>%s</td><td class="num">%s</td><td class="num">%s</td><td>%s</td></tr>`,
			templ.EscapeString(c.Label), Money(c.Price), Miles(c.Mileage), templ.EscapeString(c.Location))
	}
	b.WriteString(`</tbody></table>`)
}
