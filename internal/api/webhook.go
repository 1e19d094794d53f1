/**
 * @description
 * This file contains the handler for incoming payment processor webhooks.
 * The contract is verify-then-apply: a request that fails signature
 * verification is rejected with 400, but once a payload is authenticated the
 * endpoint always acknowledges with 200, even when applying the event fails
 * internally. Returning an error after verification would make the processor
 * redeliver an event we already know about, so internal failures are logged
 * and reconciled out of band instead.
 *
 * @dependencies
 * - io, net/http: Standard Go libraries.
 * - internal/app: The reconciler that applies verified events.
 * - internal/domain: The normalized event types.
 */

package api

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/facturio/billing-service/internal/app"
	"github.com/facturio/billing-service/internal/domain"
	"github.com/facturio/billing-service/pkg/stripeclient"
)

// maxWebhookBodyBytes caps the webhook payload size before verification.
const maxWebhookBodyBytes = 1 << 16

// WebhookVerifier authenticates a raw webhook payload and normalizes it
// into a domain event.
type WebhookVerifier interface {
	VerifyWebhook(payload []byte, signatureHeader string) (domain.PaymentEvent, error)
}

// WebhookHandler receives payment processor webhooks.
type WebhookHandler struct {
	verifier   WebhookVerifier
	reconciler *app.Reconciler
	logger     *slog.Logger
}

// NewWebhookHandler creates a new WebhookHandler.
func NewWebhookHandler(verifier WebhookVerifier, reconciler *app.Reconciler, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{verifier: verifier, reconciler: reconciler, logger: logger}
}

// HandleWebhook handles POST /webhooks/stripe.
func (h *WebhookHandler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBodyBytes))
	if err != nil {
		h.logger.Error("failed to read webhook body", "error", err)
		http.Error(w, "Failed to read request body", http.StatusBadRequest)
		return
	}

	event, err := h.verifier.VerifyWebhook(payload, r.Header.Get("Stripe-Signature"))
	if err != nil {
		if errors.Is(err, stripeclient.ErrInvalidSignature) {
			h.logger.Warn("rejected webhook with invalid signature", "remote_addr", r.RemoteAddr)
		} else {
			h.logger.Warn("rejected malformed webhook payload", "error", err)
		}
		http.Error(w, "Invalid signature", http.StatusBadRequest)
		return
	}

	// Past this point the payload is authenticated. Apply never returns an
	// error; failures are logged inside the reconciler.
	h.reconciler.Apply(r.Context(), event)

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("Webhook received"))
}
