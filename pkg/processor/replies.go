package processor

import (
	"fmt"
	"strings"
	"time"

	"github.com/zoff-tech/payment-relay/pkg/formatter"
	"github.com/zoff-tech/payment-relay/schema"
)

const (
	pongReply           = "pong 🏓 The relay is alive."
	startedReply        = "✅ Server started. New payments will be forwarded to this chat."
	alreadyRunningReply = "Server is already running."
)

const helpReply = `*Available Commands*

status <ID> - show a payment
<ID> + approved - approve a payment
<ID> + rejected - reject a payment
start - start forwarding new payments
server status - show relay status
help - show this message
ping - check the relay is alive`

func notFoundReply(id string) string {
	return fmt.Sprintf("❌ Payment %s not found.", id)
}

func apologyReply(operation, id string) string {
	return fmt.Sprintf("⚠️ Sorry, I couldn't %s payment %s right now. Please try again later.", operation, id)
}

func alreadyReply(id string, status schema.Status) string {
	return fmt.Sprintf("ℹ️ Payment %s is already %s.", id, status)
}

func refusalReply(id string, current, requested schema.Status) string {
	return fmt.Sprintf("🚫 Payment %s is already %s and cannot be %s.", id, current, requested)
}

func confirmationReply(f *formatter.Formatter, record *schema.PaymentRecord, status schema.Status, by string, at time.Time) string {
	icon := "✅"
	if status == schema.StatusRejected {
		icon = "❌"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s Payment %s\n\n", icon, strings.ToUpper(string(status)))
	fmt.Fprintf(&b, "ID: %s\n", record.ID)
	fmt.Fprintf(&b, "Customer: %s\n", formatter.OrNotAvailable(record.FullName))
	fmt.Fprintf(&b, "Amount: %s\n", formatter.ResolvePrice(record.PaymentFields))
	fmt.Fprintf(&b, "Status: %s\n", status)
	fmt.Fprintf(&b, "By: %s\n", formatter.OrNotAvailable(by))
	fmt.Fprintf(&b, "Time: %s", f.FormatTime(at))
	return b.String()
}

func statusReport(f *formatter.Formatter, record *schema.PaymentRecord) string {
	variant, _ := formatter.ResolveVariant(record.PaymentFields)
	verification := "no"
	if record.NeedsManualVerification {
		verification = "yes"
	}
	reviewed := formatter.NotAvailable
	if record.ReviewedAt != nil {
		reviewed = f.FormatTime(*record.ReviewedAt)
	}

	var b strings.Builder
	b.WriteString("*Payment Status*\n\n")
	fmt.Fprintf(&b, "ID: %s\n", record.ID)
	fmt.Fprintf(&b, "Customer: %s\n", formatter.OrNotAvailable(record.FullName))
	fmt.Fprintf(&b, "Amount: %s\n", formatter.ResolvePrice(record.PaymentFields))
	fmt.Fprintf(&b, "Variant: %s\n", variant)
	fmt.Fprintf(&b, "Status: %s\n", record.EffectiveStatus())
	fmt.Fprintf(&b, "Needs Manual Verification: %s\n", verification)
	fmt.Fprintf(&b, "Reviewed At: %s\n", reviewed)
	fmt.Fprintf(&b, "Payment Method: %s", formatter.OrNotAvailable(record.PaymentMethod))
	return b.String()
}

func serverStatusReply(s Status) string {
	running := "paused"
	if s.ServerRunning {
		running = "running"
	}
	ready := "not ready"
	if s.Ready {
		ready = "ready"
	}
	var b strings.Builder
	b.WriteString("*Relay Status*\n\n")
	fmt.Fprintf(&b, "Server: %s\n", running)
	fmt.Fprintf(&b, "Session: %s (%s)\n", ready, s.SessionState)
	fmt.Fprintf(&b, "Queued notifications: %d", s.QueueDepth)
	return b.String()
}
