/**
 * @description
 * This file models the payment-processor webhook events the billing-service
 * reacts to, and the internal events it publishes to RabbitMQ. Inbound
 * payloads are parsed at the HTTP boundary into one of the tagged variants
 * below; anything unrecognized becomes an UnhandledEvent so downstream code
 * fails closed instead of guessing at loosely-typed JSON.
 */
package domain

// PaymentEvent is a verified, tagged notification from the payment processor.
// It is ephemeral: parsed per delivery and never persisted.
type PaymentEvent interface {
	EventKind() string
}

// CheckoutCompletedEvent reports a completed hosted-checkout session. The
// payment link id and connected account together identify the paid document:
// the account resolves the owning merchant, and the link id is only matched
// within that merchant's documents. The processor's envelope carries the
// link as an id (plink_...), not as the shareable URL.
type CheckoutCompletedEvent struct {
	PaymentLinkID      string
	ConnectedAccountID string
}

func (CheckoutCompletedEvent) EventKind() string { return "checkout.session.completed" }

// UnhandledEvent is any verified event the reconciler does not act on.
type UnhandledEvent struct {
	Kind string
}

func (e UnhandledEvent) EventKind() string { return e.Kind }

// InvoicePaidEvent is the internal event published to RabbitMQ after a
// document has been reconciled to paid. Consumers (receipt email dispatch,
// dashboards) live outside this service.
type InvoicePaidEvent struct {
	MerchantID       string `json:"merchant_id"`
	PaymentLinkID    string `json:"payment_link_id"`
	DocumentsUpdated int64  `json:"documents_updated"`
}
