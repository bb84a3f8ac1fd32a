package templates

import (
	"fmt"
	"html"

	"github.com/a-h/templ"
)

// QRCodeDisplay renders the payment QR screen with a live countdown slot.
func QRCodeDisplay(view PaymentView) templ.Component {
	markup := fmt.Sprintf(
		`<div class="payment-qr" id="payment-%s"><h3>Scan to Pay</h3><img src="data:image/png;base64,%s" alt="Payment QR code"/><p class="payment-amount">%.2f</p><div id="payment-progress"></div><p><small>Payment ID: %s</small></p></div>`,
		html.EscapeString(view.PaymentID),
		view.QRBase64,
		view.Amount,
		html.EscapeString(view.PaymentID),
	)
	return templ.Raw(markup)
}

// PaymentProgress renders one countdown tick. The checking pulse swaps the
// status line while a status check is believed to be in flight.
func PaymentProgress(view CountdownView) templ.Component {
	status := fmt.Sprintf(`Next status check in <span id="countdown">%d</span> seconds`, view.SecondsRemaining)
	cls := "payment-progress"
	if view.IsChecking {
		status = "Checking payment status..."
		cls += " checking"
	}

	markup := fmt.Sprintf(
		`<div class="%s" id="payment-progress"><p>%s</p></div>`,
		cls,
		status,
	)
	return templ.Raw(markup)
}

// PaymentOutcome renders one of the three terminal screens.
func PaymentOutcome(view OutcomeView) templ.Component {
	var markup string
	switch view.Outcome {
	case "completed":
		markup = fmt.Sprintf(
			`<div class="payment-result success"><h3>Payment Successful</h3><p>Thank you! Your payment went through.</p><p><small>Payment ID: %s</small></p></div>`,
			html.EscapeString(view.PaymentID),
		)
	case "cancelled":
		markup = fmt.Sprintf(
			`<div class="payment-result cancelled"><h3>Payment Cancelled</h3><p>The payment was cancelled. Returning to the catalog.</p><p><small>Payment ID: %s</small></p></div>`,
			html.EscapeString(view.PaymentID),
		)
	default:
		reason := view.Reason
		if reason == "" {
			reason = "The payment could not be completed."
		}
		markup = fmt.Sprintf(
			`<div class="payment-result failure"><h3>Payment Failed</h3><p>%s</p><p><small>Payment ID: %s</small></p></div>`,
			html.EscapeString(reason),
			html.EscapeString(view.PaymentID),
		)
	}
	return templ.Raw(markup)
}
