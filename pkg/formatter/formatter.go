// Package formatter renders payment change events into the chat message
// sent to the configured destination.
package formatter

import (
	"bytes"
	"fmt"
	"os"
	"text/template"
	"time"

	"github.com/zoff-tech/payment-relay/pkg/command"
	"github.com/zoff-tech/payment-relay/schema"
)

// TimeLayout is used for every timestamp the relay renders.
const TimeLayout = "02 Jan 2006, 15:04:05 MST"

const defaultTemplate = `*New Payment Received*

ID: {{.ID}}
Customer: {{.Customer}}
Phone: {{.Phone}}
Email: {{.Email}}

Product: {{.Product}}
Price: {{.Price}}
Variant: {{.Variant}}{{if ne .VariantPrice "N/A"}} ({{.VariantPrice}}){{end}}
Extra Fields: {{.ExtraFields}}
Payment Method: {{.PaymentMethod}}
Time: {{.Timestamp}}

*Quick Actions*
{{.StatusCommand}}
{{.ApproveCommand}}
{{.RejectCommand}}`

// View is the resolved data handed to the message template.
type View struct {
	ID            string
	Customer      string
	Phone         string
	Email         string
	Product       string
	Price         string
	Variant       string
	VariantPrice  string
	ExtraFields   string
	PaymentMethod string
	Timestamp     string

	StatusCommand  string
	ApproveCommand string
	RejectCommand  string
}

// Formatter turns change events into message text. It holds no mutable
// state and is safe for concurrent use.
type Formatter struct {
	tmpl     *template.Template
	location *time.Location
	now      func() time.Time
}

// Option configures a Formatter.
type Option func(*Formatter) error

// WithTemplate replaces the built-in template.
func WithTemplate(text string) Option {
	return func(f *Formatter) error {
		tmpl, err := template.New("notification").Option("missingkey=error").Parse(text)
		if err != nil {
			return fmt.Errorf("parse notification template: %w", err)
		}
		f.tmpl = tmpl
		return nil
	}
}

// WithTemplateFile loads the template override from path. An empty path
// keeps the built-in template.
func WithTemplateFile(path string) Option {
	return func(f *Formatter) error {
		if path == "" {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read notification template: %w", err)
		}
		return WithTemplate(string(data))(f)
	}
}

// WithLocation sets the zone rendered timestamps are shown in.
func WithLocation(loc *time.Location) Option {
	return func(f *Formatter) error {
		if loc != nil {
			f.location = loc
		}
		return nil
	}
}

// WithClock overrides the fallback clock used when a document carries no
// timestamp.
func WithClock(now func() time.Time) Option {
	return func(f *Formatter) error {
		f.now = now
		return nil
	}
}

// New builds a Formatter using the built-in template unless overridden.
func New(opts ...Option) (*Formatter, error) {
	f := &Formatter{
		location: time.UTC,
		now:      time.Now,
	}
	if err := WithTemplate(defaultTemplate)(f); err != nil {
		return nil, err
	}
	for _, opt := range opts {
		if err := opt(f); err != nil {
			return nil, err
		}
	}
	return f, nil
}

// Resolve applies the field resolvers to event.
func (f *Formatter) Resolve(event schema.ChangeEvent) View {
	fields := event.Fields
	variant, variantPrice := ResolveVariant(fields)
	return View{
		ID:            event.ID,
		Customer:      OrNotAvailable(fields.FullName),
		Phone:         OrNotAvailable(fields.Phone),
		Email:         OrNotAvailable(fields.Email),
		Product:       ResolveProductName(fields),
		Price:         ResolvePrice(fields),
		Variant:       variant,
		VariantPrice:  variantPrice,
		ExtraFields:   ResolveExtraFields(fields),
		PaymentMethod: OrNotAvailable(fields.PaymentMethod),
		Timestamp:     f.FormatTime(ResolveTimestamp(fields, f.now)),

		StatusCommand:  command.StatusCheckText(event.ID),
		ApproveCommand: command.ApproveText(event.ID),
		RejectCommand:  command.RejectText(event.ID),
	}
}

// Format renders the notification text for event.
func (f *Formatter) Format(event schema.ChangeEvent) (string, error) {
	var buf bytes.Buffer
	if err := f.tmpl.Execute(&buf, f.Resolve(event)); err != nil {
		return "", fmt.Errorf("render notification for %s: %w", event.ID, err)
	}
	return buf.String(), nil
}

// FormatTime renders t in the formatter's zone.
func (f *Formatter) FormatTime(t time.Time) string {
	return t.In(f.location).Format(TimeLayout)
}

// Now returns the formatter's current time.
func (f *Formatter) Now() time.Time {
	return f.now()
}
