// Package templates renders the HTML pages of the valuation UI as templ
// components.
package templates

import (
	"context"
	"fmt"
	"io"

	"github.com/a-h/templ"
)

const styles = `body{font-family:system-ui,sans-serif;margin:0;background:#f6f7f9;color:#1f2933}
main{max-width:960px;margin:0 auto;padding:24px}
form{display:grid;grid-template-columns:repeat(4,1fr) auto;gap:8px;align-items:end}
label{display:flex;flex-direction:column;font-size:13px;gap:4px}
input{padding:6px 8px;border:1px solid #cbd2d9;border-radius:4px}
button{padding:8px 16px;background:#2563eb;color:#fff;border:0;border-radius:4px}
.errors{background:#fdecea;border:1px solid #f5c2c0;padding:8px 16px;border-radius:4px}
.estimate{font-size:32px;font-weight:600;margin:16px 0}
table{width:100%;border-collapse:collapse;background:#fff}
th,td{text-align:left;padding:6px 8px;border-bottom:1px solid #e4e7eb}
td.num{text-align:right}`

// Layout wraps body in the page shell.
func Layout(title string, body templ.Component) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		_, err := fmt.Fprintf(w, `<!DOCTYPE html><html lang="en"><head><meta charset="utf-8">`+
			`<meta name="viewport" content="width=device-width, initial-scale=1">`+
			`<title>%s</title><style>%s</style></head><body><main>`,
			templ.EscapeString(title), styles)
		if err != nil {
			return err
		}
		if err := body.Render(ctx, w); err != nil {
			return err
		}
		_, err = io.WriteString(w, `</main></body></html>`)
		return err
	})
}

// ErrorAlert renders a user-facing error with its support code.
func ErrorAlert(message, action, code string) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		_, err := fmt.Fprintf(w, `<div class="errors" role="alert"><p><strong>%s</strong></p><p>%s</p><p><small>Code: %s</small></p></div>`,
			templ.EscapeString(message), templ.EscapeString(action), templ.EscapeString(code))
		return err
	})
}

// ErrorPage is a full page around ErrorAlert.
func ErrorPage(message, action, code string) templ.Component {
	return Layout("Error", ErrorAlert(message, action, code))
}
