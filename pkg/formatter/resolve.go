package formatter

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/zoff-tech/payment-relay/schema"
)

// NotAvailable is rendered for every field no location can supply.
const NotAvailable = "N/A"

var leadingAmount = regexp.MustCompile(`\d+(?:[.,]\d+)*`)

// ResolveProductName: top-level name, then the first order item's name.
func ResolveProductName(f schema.PaymentFields) string {
	if name := strings.TrimSpace(f.ProductName); name != "" {
		return name
	}
	if item := f.FirstItem(); item != nil {
		if name := strings.TrimSpace(item.Name); name != "" {
			return name
		}
	}
	return NotAvailable
}

// ResolvePrice: numeric token of the formatted order total, then the price
// field, then the variant price, then the first order item's price.
func ResolvePrice(f schema.PaymentFields) string {
	if token := leadingAmount.FindString(f.OrderTotal); token != "" {
		return token
	}
	if price, ok := formatAmount(f.Price); ok {
		return price
	}
	if variant := resolveVariant(f); variant != nil {
		if price, ok := formatAmount(variant.Price); ok {
			return price
		}
	}
	if item := f.FirstItem(); item != nil {
		if price, ok := formatAmount(item.Price); ok {
			return price
		}
	}
	return NotAvailable
}

// ResolveVariant returns the variant label and price: top-level variant,
// then the first order item's variant.
func ResolveVariant(f schema.PaymentFields) (label, price string) {
	variant := resolveVariant(f)
	if variant == nil {
		return NotAvailable, NotAvailable
	}
	label = NotAvailable
	if l := strings.TrimSpace(variant.Label); l != "" {
		label = l
	}
	price = NotAvailable
	if p, ok := formatAmount(variant.Price); ok {
		price = p
	}
	return label, price
}

func resolveVariant(f schema.PaymentFields) *schema.Variant {
	if hasVariant(f.Variant) {
		return f.Variant
	}
	if item := f.FirstItem(); item != nil && hasVariant(item.Variant) {
		return item.Variant
	}
	return nil
}

func hasVariant(v *schema.Variant) bool {
	return v != nil && (strings.TrimSpace(v.Label) != "" || v.Price != nil)
}

// ResolveExtraFields renders "label: value" pairs joined by ", " from the
// top-level list, then from the first order item's list.
func ResolveExtraFields(f schema.PaymentFields) string {
	if rendered := joinExtraFields(f.ExtraFields); rendered != "" {
		return rendered
	}
	if item := f.FirstItem(); item != nil {
		if rendered := joinExtraFields(item.ExtraFields); rendered != "" {
			return rendered
		}
	}
	return NotAvailable
}

func joinExtraFields(fields []schema.ExtraField) string {
	parts := make([]string, 0, len(fields))
	for _, field := range fields {
		label := strings.TrimSpace(field.Label)
		if label == "" {
			continue
		}
		value := NotAvailable
		if field.Value != nil {
			if v := strings.TrimSpace(fmt.Sprint(field.Value)); v != "" {
				value = v
			}
		}
		parts = append(parts, label+": "+value)
	}
	return strings.Join(parts, ", ")
}

// ResolveTimestamp: seconds-based creation time, then either spelling of
// the generic timestamp, then now.
func ResolveTimestamp(f schema.PaymentFields, now func() time.Time) time.Time {
	switch {
	case !f.CreatedAt.IsZero():
		return f.CreatedAt.Time()
	case f.Timestamp != nil && !f.Timestamp.IsZero():
		return *f.Timestamp
	case f.TimeStamp != nil && !f.TimeStamp.IsZero():
		return *f.TimeStamp
	default:
		return now()
	}
}

// OrNotAvailable returns s, or NotAvailable when s is blank.
func OrNotAvailable(s string) string {
	if strings.TrimSpace(s) == "" {
		return NotAvailable
	}
	return s
}

func formatAmount(v any) (string, bool) {
	switch amount := v.(type) {
	case nil:
		return "", false
	case float64:
		return strconv.FormatFloat(amount, 'f', 2, 64), true
	case float32:
		return strconv.FormatFloat(float64(amount), 'f', 2, 32), true
	case int:
		return strconv.Itoa(amount), true
	case int32:
		return strconv.FormatInt(int64(amount), 10), true
	case int64:
		return strconv.FormatInt(amount, 10), true
	case string:
		trimmed := strings.TrimSpace(amount)
		return trimmed, trimmed != ""
	default:
		s := strings.TrimSpace(fmt.Sprint(amount))
		return s, s != ""
	}
}
