// Package prompt renders the system instruction handed to the live model at
// the start of every call.
//
// The built-in template is embedded; a deployment may replace it with its own
// text/template file. Templates see a [View] value.
package prompt

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"text/template"
	"unicode/utf8"

	"github.com/utsavkredmint/exotel-based-call/internal/catalog"
)

//go:embed system.tmpl
var defaultTemplate string

// Data is the input to [Builder.Build].
type Data struct {
	Products []catalog.Product
	Orders   catalog.Orders

	// CustomerPhone selects the caller's order history.
	CustomerPhone string

	// MaxBytes caps each of the catalog and order JSON blocks. Zero means
	// no limit.
	MaxBytes int
}

// View is what a template renders.
type View struct {
	CustomerName string
	CustomerArea string
	CatalogJSON  string
	OrdersJSON   string
}

// Builder renders system instructions. It is safe for concurrent use.
type Builder struct {
	tmpl *template.Template
}

// New returns a Builder using the template file at path, or the embedded
// template when path is empty.
func New(path string) (*Builder, error) {
	text := defaultTemplate
	name := "system.tmpl"
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("prompt: read template: %w", err)
		}
		text, name = string(b), path
	}
	t, err := template.New(name).Option("missingkey=error").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("prompt: parse template: %w", err)
	}
	return &Builder{tmpl: t}, nil
}

// Build renders the system instruction for d.
func (b *Builder) Build(d Data) (string, error) {
	v, err := NewView(d)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := b.tmpl.Execute(&buf, v); err != nil {
		return "", fmt.Errorf("prompt: render: %w", err)
	}
	return buf.String(), nil
}

// NewView resolves the caller and encodes the catalog blocks.
func NewView(d Data) (View, error) {
	v := View{CustomerName: catalog.DefaultCustomerName}
	if c, ok := d.Orders.FindCustomer(d.CustomerPhone); ok {
		if c.Name != "" {
			v.CustomerName = c.Name
		}
		v.CustomerArea = c.Area()
	}

	products := d.Products
	if products == nil {
		products = []catalog.Product{}
	}
	cj, err := encode(products)
	if err != nil {
		return View{}, fmt.Errorf("prompt: encode catalog: %w", err)
	}
	orders := d.Orders
	if orders == nil {
		orders = catalog.Orders{}
	}
	oj, err := encode(orders)
	if err != nil {
		return View{}, fmt.Errorf("prompt: encode orders: %w", err)
	}
	v.CatalogJSON = Truncate(cj, d.MaxBytes)
	v.OrdersJSON = Truncate(oj, d.MaxBytes)
	return v, nil
}

// encode marshals v without HTML escaping so product names stay readable.
func encode(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	return string(bytes.TrimRight(buf.Bytes(), "\n")), nil
}

// Truncate cuts s to at most limit bytes without splitting a UTF-8 sequence.
// A limit of zero or less returns s unchanged.
func Truncate(s string, limit int) string {
	if limit <= 0 || len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
