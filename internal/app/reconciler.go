/**
 * @description
 * This file applies verified payment-processor events to the document store.
 * Signature verification happens at the HTTP boundary (internal/api); by the
 * time an event reaches the Reconciler it is authentic, and from that point
 * on every failure is swallowed: logged, never surfaced. The processor
 * redelivers on non-2xx responses, and a permanently failing event would
 * otherwise redeliver forever.
 *
 * The paid update is idempotent by predicate (merchant + payment link), so
 * duplicate and out-of-order deliveries are harmless: a redelivered event
 * matches zero unpaid rows and does nothing.
 */
package app

import (
	"context"
	"log/slog"

	"github.com/facturio/billing-service/internal/domain"
	"github.com/facturio/billing-service/internal/store"
)

// EventPublisher defines the interface for publishing internal events. The
// exchange is fixed at wiring time; callers route by key only.
type EventPublisher interface {
	Publish(ctx context.Context, routingKey string, body interface{}) error
}

// Reconciler updates document status from verified processor events.
type Reconciler struct {
	repo      store.ServiceRepository
	publisher EventPublisher // nil when the broker is unavailable
	logger    *slog.Logger
}

// NewReconciler creates a new webhook reconciler.
func NewReconciler(repo store.ServiceRepository, publisher EventPublisher, logger *slog.Logger) *Reconciler {
	return &Reconciler{repo: repo, publisher: publisher, logger: logger}
}

// Apply processes one verified event. It never returns an error: the caller
// acknowledges the delivery regardless of the outcome here.
func (r *Reconciler) Apply(ctx context.Context, event domain.PaymentEvent) {
	completed, ok := event.(domain.CheckoutCompletedEvent)
	if !ok {
		r.logger.Info("ignoring unhandled processor event", "kind", event.EventKind())
		return
	}

	if completed.PaymentLinkID == "" || completed.ConnectedAccountID == "" {
		r.logger.Warn("checkout event missing payment link or account reference; dropping",
			"payment_link_set", completed.PaymentLinkID != "",
			"account_set", completed.ConnectedAccountID != "",
		)
		return
	}

	merchant, err := r.repo.FindMerchantByConnectedAccount(ctx, completed.ConnectedAccountID)
	if err != nil {
		r.logger.Error("could not resolve merchant for checkout event; acknowledging anyway",
			"connected_account_id", completed.ConnectedAccountID, "error", err)
		return
	}

	affected, err := r.repo.MarkPaidByPaymentLink(ctx, merchant.ID, completed.PaymentLinkID)
	if err != nil {
		r.logger.Error("failed to mark documents paid; acknowledging anyway",
			"merchant_id", merchant.ID, "error", err)
		return
	}

	if affected == 0 {
		// Duplicate delivery, or a link that was since overwritten.
		r.logger.Info("checkout event matched no unpaid documents", "merchant_id", merchant.ID)
		return
	}

	r.logger.Info("documents reconciled to paid", "merchant_id", merchant.ID, "count", affected)

	if r.publisher == nil {
		return
	}
	paid := domain.InvoicePaidEvent{
		MerchantID:       merchant.ID,
		PaymentLinkID:    completed.PaymentLinkID,
		DocumentsUpdated: affected,
	}
	if err := r.publisher.Publish(ctx, "invoice.paid", paid); err != nil {
		r.logger.Error("failed to publish invoice.paid event", "merchant_id", merchant.ID, "error", err)
	}
}
