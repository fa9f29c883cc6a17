// Package assets provides embedded prompt templates for the damage analysis
// request. Templates live under prompts/ and are embedded at compile time.
package assets

import (
	"bytes"
	_ "embed"
	"text/template"
)

//go:embed prompts/damage-system.txt
var damageSystemTemplate string

//go:embed prompts/damage-request.txt
var damageRequestTemplate string

// template.Must panics on malformed templates at startup rather than at
// call time.
var (
	damageSystemTmpl  = template.Must(template.New("damage-system").Parse(damageSystemTemplate))
	damageRequestTmpl = template.Must(template.New("damage-request").Parse(damageRequestTemplate))
)

// Default market context for estimates.
const (
	DefaultMarket   = "Nigeria"
	DefaultCurrency = "NGN"
)

// MarketContext selects the pricing market and currency of an estimate.
type MarketContext struct {
	Market   string
	Currency string
}

func (m MarketContext) withDefaults() MarketContext {
	if m.Market == "" {
		m.Market = DefaultMarket
	}
	if m.Currency == "" {
		m.Currency = DefaultCurrency
	}
	return m
}

// RenderDamageSystemPrompt renders the loss adjuster system instruction for
// the given market.
func RenderDamageSystemPrompt(m MarketContext) string {
	return render(damageSystemTmpl, m.withDefaults())
}

// RenderDamageRequestPrompt renders the per-photo request text. metadataContext
// is the formatted EXIF block, or "" when the photo carried none.
func RenderDamageRequestPrompt(metadataContext string) string {
	return render(damageRequestTmpl, struct{ MetadataContext string }{metadataContext})
}

func render(tmpl *template.Template, data any) string {
	var buf bytes.Buffer
	// Execution errors are not expected with these templates; return
	// whatever was rendered.
	_ = tmpl.Execute(&buf, data)
	return buf.String()
}
