/**
 * @description
 * This package provides the concrete Stripe implementation of the payment
 * processor gateway. It encapsulates every Stripe API call the billing
 * service makes: fee-split payment intents, Connect-scoped products, prices
 * and payment links, express connected accounts, onboarding account links,
 * and webhook signature verification.
 *
 * Key features:
 * - Destination charges: intents carry the connected account as transfer
 *   destination and the platform fee as ApplicationFeeAmount.
 * - Account scoping: product/price/link calls run against the merchant's
 *   connected account via the per-request Stripe-Account header.
 * - Webhook payloads are verified and parsed here into the tagged domain
 *   event variants; callers never see raw Stripe JSON.
 *
 * @dependencies
 * - github.com/stripe/stripe-go/v81: The official Stripe SDK.
 * - internal/app, internal/domain: Gateway contract and event variants.
 */
package stripeclient

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/account"
	"github.com/stripe/stripe-go/v81/accountlink"
	"github.com/stripe/stripe-go/v81/paymentintent"
	"github.com/stripe/stripe-go/v81/paymentlink"
	"github.com/stripe/stripe-go/v81/price"
	"github.com/stripe/stripe-go/v81/product"
	"github.com/stripe/stripe-go/v81/webhook"

	"github.com/facturio/billing-service/internal/app"
	"github.com/facturio/billing-service/internal/domain"
)

// ErrInvalidSignature is returned when a webhook payload fails verification.
var ErrInvalidSignature = errors.New("invalid webhook signature")

// Client is the Stripe-backed processor gateway. It implements
// app.ProcessorGateway and the api.WebhookVerifier consumed by the webhook
// endpoint.
type Client struct {
	webhookSecret string
}

// NewClient creates a new Stripe gateway. The apiKey is the platform secret
// key (sk_...); webhookSecret is the endpoint signing secret (whsec_...).
func NewClient(apiKey, webhookSecret string) *Client {
	stripe.Key = apiKey
	return &Client{webhookSecret: webhookSecret}
}

// CreatePaymentIntent creates a destination charge routed to the merchant's
// connected account, retaining the platform fee, and returns the client
// secret used by the frontend to confirm the payment.
func (c *Client) CreatePaymentIntent(ctx context.Context, params app.CreateIntentParams) (string, error) {
	piParams := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(params.AmountMinor),
		Currency: stripe.String(strings.ToLower(params.Currency)),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
		ApplicationFeeAmount: stripe.Int64(params.FeeMinor),
		TransferData: &stripe.PaymentIntentTransferDataParams{
			Destination: stripe.String(params.ConnectedAccountID),
		},
	}
	piParams.Context = ctx
	piParams.AddMetadata("document_id", params.DocumentID)

	pi, err := paymentintent.New(piParams)
	if err != nil {
		return "", err
	}
	return pi.ClientSecret, nil
}

// CreateProduct creates a product on the connected account named from the
// document number.
func (c *Client) CreateProduct(ctx context.Context, connectedAccountID, name string) (string, error) {
	params := &stripe.ProductParams{
		Name: stripe.String(name),
	}
	params.Context = ctx
	params.SetStripeAccount(connectedAccountID)

	p, err := product.New(params)
	if err != nil {
		return "", err
	}
	return p.ID, nil
}

// CreatePrice creates a one-time price for the product on the connected
// account, in integer minor units.
func (c *Client) CreatePrice(ctx context.Context, connectedAccountID, productID, currency string, unitAmountMinor int64) (string, error) {
	params := &stripe.PriceParams{
		Product:    stripe.String(productID),
		Currency:   stripe.String(strings.ToLower(currency)),
		UnitAmount: stripe.Int64(unitAmountMinor),
	}
	params.Context = ctx
	params.SetStripeAccount(connectedAccountID)

	pr, err := price.New(params)
	if err != nil {
		return "", err
	}
	return pr.ID, nil
}

// CreatePaymentLink creates a reusable hosted payment link on the connected
// account with a single line item and a completion redirect back to the app.
// It returns both the link id and the shareable URL: checkout webhooks carry
// the id, customers get the URL.
func (c *Client) CreatePaymentLink(ctx context.Context, connectedAccountID, priceID, redirectURL string) (string, string, error) {
	params := &stripe.PaymentLinkParams{
		LineItems: []*stripe.PaymentLinkLineItemParams{
			{
				Price:    stripe.String(priceID),
				Quantity: stripe.Int64(1),
			},
		},
		AfterCompletion: &stripe.PaymentLinkAfterCompletionParams{
			Type: stripe.String(string(stripe.PaymentLinkAfterCompletionTypeRedirect)),
			Redirect: &stripe.PaymentLinkAfterCompletionRedirectParams{
				URL: stripe.String(redirectURL),
			},
		},
	}
	params.Context = ctx
	params.SetStripeAccount(connectedAccountID)

	link, err := paymentlink.New(params)
	if err != nil {
		return "", "", err
	}
	return link.ID, link.URL, nil
}

// CreateConnectedAccount creates a new express connected account keyed by the
// merchant's email.
func (c *Client) CreateConnectedAccount(ctx context.Context, email string) (string, error) {
	params := &stripe.AccountParams{
		Type:  stripe.String(string(stripe.AccountTypeExpress)),
		Email: stripe.String(email),
	}
	params.Context = ctx

	a, err := account.New(params)
	if err != nil {
		return "", err
	}
	return a.ID, nil
}

// CreateAccountLink creates an account onboarding link for a connected account.
func (c *Client) CreateAccountLink(ctx context.Context, accountID, refreshURL, returnURL string) (string, error) {
	params := &stripe.AccountLinkParams{
		Account:    stripe.String(accountID),
		RefreshURL: stripe.String(refreshURL),
		ReturnURL:  stripe.String(returnURL),
		Type:       stripe.String("account_onboarding"),
	}
	params.Context = ctx

	al, err := accountlink.New(params)
	if err != nil {
		return "", err
	}
	return al.URL, nil
}

// VerifyWebhook checks the payload signature against the endpoint secret and
// parses the event into a tagged domain variant. Verification happens before
// any payload field is read; an unrecognized but authentic event comes back
// as UnhandledEvent so the reconciler fails closed.
func (c *Client) VerifyWebhook(payload []byte, signatureHeader string) (domain.PaymentEvent, error) {
	// ConstructEventWithOptions tolerates API version skew between the
	// sending account and the SDK; the signature check is unaffected.
	event, err := webhook.ConstructEventWithOptions(payload, signatureHeader, c.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, ErrInvalidSignature
	}

	if event.Type != stripe.EventTypeCheckoutSessionCompleted {
		return domain.UnhandledEvent{Kind: string(event.Type)}, nil
	}

	// data.object.payment_link holds the link's id (plink_...), not its URL.
	var session struct {
		PaymentLink string `json:"payment_link"`
	}
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return domain.UnhandledEvent{Kind: string(event.Type)}, nil
	}

	return domain.CheckoutCompletedEvent{
		PaymentLinkID:      session.PaymentLink,
		ConnectedAccountID: event.Account,
	}, nil
}
