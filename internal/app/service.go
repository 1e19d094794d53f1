/**
 * @description
 * This file contains the core business logic for the billing-service's
 * payment flows: payment intent creation, hosted payment link issuance, and
 * merchant onboarding to the payment processor. The `Service` struct keeps
 * the API handlers thin and coordinates between the store and the processor
 * gateway.
 *
 * @notes
 * - The processor gateway is consumed through the ProcessorGateway interface
 *   declared here, so tests can stub it without touching the Stripe SDK.
 * - Caller-scoped reads go through store.Repository; the only privileged
 *   writes in this file (profile creation and connected-account claiming)
 *   go through store.ServiceRepository.
 */
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/google/uuid"

	"github.com/facturio/billing-service/internal/store"
)

var (
	// ErrNotOnboarded is returned when a payment operation needs a connected
	// account the merchant does not have yet.
	ErrNotOnboarded = errors.New("merchant has no connected payments account; complete payments onboarding in settings first")
	// ErrEmailRequired is returned when onboarding is attempted without a
	// caller email to key the connected account on.
	ErrEmailRequired = errors.New("user email is required")
)

// CreateIntentParams describes a fee-split destination charge.
type CreateIntentParams struct {
	AmountMinor        int64
	Currency           string
	FeeMinor           int64
	ConnectedAccountID string
	DocumentID         string
}

// ProcessorGateway defines the payment-processor operations the service
// needs. The concrete implementation lives in pkg/stripeclient.
type ProcessorGateway interface {
	CreatePaymentIntent(ctx context.Context, params CreateIntentParams) (clientSecret string, err error)
	CreateProduct(ctx context.Context, connectedAccountID, name string) (productID string, err error)
	CreatePrice(ctx context.Context, connectedAccountID, productID, currency string, unitAmountMinor int64) (priceID string, err error)
	CreatePaymentLink(ctx context.Context, connectedAccountID, priceID, redirectURL string) (linkID, url string, err error)
	CreateConnectedAccount(ctx context.Context, email string) (accountID string, err error)
	CreateAccountLink(ctx context.Context, accountID, refreshURL, returnURL string) (url string, err error)
}

// Service provides the business logic for payment operations.
type Service struct {
	repo        store.Repository
	serviceRepo store.ServiceRepository
	gateway     ProcessorGateway
	logger      *slog.Logger
	feePercent  float64
	appBaseURL  string
}

// NewService creates a new billing service instance.
func NewService(repo store.Repository, serviceRepo store.ServiceRepository, gateway ProcessorGateway, logger *slog.Logger, feePercent float64, appBaseURL string) *Service {
	return &Service{
		repo:        repo,
		serviceRepo: serviceRepo,
		gateway:     gateway,
		logger:      logger,
		feePercent:  feePercent,
		appBaseURL:  strings.TrimSuffix(appBaseURL, "/"),
	}
}

// MinorUnits converts a major-unit total to integer minor units, rounded to
// the nearest unit.
func MinorUnits(total float64) int64 {
	return int64(math.Round(total * 100))
}

// PlatformFeeMinor computes the platform's cut of an amount already expressed
// in minor units. Rounded independently of the amount rounding.
func PlatformFeeMinor(amountMinor int64, percent float64) int64 {
	return int64(math.Round(float64(amountMinor) * percent / 100))
}

// CreatePaymentIntent creates a fee-split payment intent for one document and
// returns the intent's client secret.
//
// Repeated calls for the same document deliberately create distinct intents:
// an unconfirmed intent is inert, so deduplication buys nothing here. Nothing
// cleans up abandoned intents either; if that ever matters operationally it
// needs a sweep against the processor, not logic here.
func (s *Service) CreatePaymentIntent(ctx context.Context, merchantID string, documentID uuid.UUID) (string, error) {
	doc, err := s.repo.FindDocumentByID(ctx, merchantID, documentID)
	if err != nil {
		return "", err
	}

	profile, err := s.repo.GetMerchantProfile(ctx, merchantID)
	if err != nil {
		if errors.Is(err, store.ErrMerchantNotFound) {
			return "", ErrNotOnboarded
		}
		return "", err
	}
	if profile.ConnectedAccountID == nil || *profile.ConnectedAccountID == "" {
		return "", ErrNotOnboarded
	}

	amountMinor := MinorUnits(doc.Total)
	feeMinor := PlatformFeeMinor(amountMinor, s.feePercent)

	clientSecret, err := s.gateway.CreatePaymentIntent(ctx, CreateIntentParams{
		AmountMinor:        amountMinor,
		Currency:           doc.Currency,
		FeeMinor:           feeMinor,
		ConnectedAccountID: *profile.ConnectedAccountID,
		DocumentID:         doc.ID.String(),
	})
	if err != nil {
		return "", fmt.Errorf("failed to create payment intent: %w", err)
	}

	s.logger.Info("payment intent created",
		"merchant_id", merchantID,
		"document_id", doc.ID,
		"amount_minor", amountMinor,
		"fee_minor", feeMinor,
	)
	return clientSecret, nil
}

// IssuePaymentLink creates a reusable hosted payment link for a document,
// scoped to the merchant's connected account, and persists the URL onto the
// document (overwrite semantics).
//
// The product -> price -> link sequence is not compensated: if the price or
// link call fails after the product exists, the product is orphaned on the
// processor. The orphan is logged with its id so an operator sweep can find
// it; a deterministic idempotency key derived from the document id would
// remove the leak entirely.
func (s *Service) IssuePaymentLink(ctx context.Context, merchantID string, documentID uuid.UUID, connectedAccountID string) (string, error) {
	if strings.TrimSpace(connectedAccountID) == "" {
		return "", ErrNotOnboarded
	}

	doc, err := s.repo.FindDocumentByID(ctx, merchantID, documentID)
	if err != nil {
		return "", err
	}

	productID, err := s.gateway.CreateProduct(ctx, connectedAccountID, doc.Number)
	if err != nil {
		return "", fmt.Errorf("failed to create product: %w", err)
	}

	amountMinor := MinorUnits(doc.Total)
	priceID, err := s.gateway.CreatePrice(ctx, connectedAccountID, productID, doc.Currency, amountMinor)
	if err != nil {
		s.logger.Error("price creation failed after product was created; product is orphaned",
			"merchant_id", merchantID, "document_id", doc.ID, "product_id", productID, "error", err)
		return "", fmt.Errorf("failed to create price: %w", err)
	}

	redirectURL := fmt.Sprintf("%s/invoices/paid?document_id=%s", s.appBaseURL, doc.ID)
	linkID, linkURL, err := s.gateway.CreatePaymentLink(ctx, connectedAccountID, priceID, redirectURL)
	if err != nil {
		s.logger.Error("payment link creation failed after product and price were created; both are orphaned",
			"merchant_id", merchantID, "document_id", doc.ID, "product_id", productID, "price_id", priceID, "error", err)
		return "", fmt.Errorf("failed to create payment link: %w", err)
	}

	// Both values are persisted together: checkout webhooks reference the
	// link by its id, so the id is what reconciliation later matches on.
	if err := s.repo.UpdateDocumentPaymentLink(ctx, merchantID, doc.ID, linkID, linkURL); err != nil {
		return "", fmt.Errorf("failed to persist payment link: %w", err)
	}

	s.logger.Info("payment link issued", "merchant_id", merchantID, "document_id", doc.ID)
	return linkURL, nil
}

// EnsureConnectedAccount makes sure the merchant has a connected account and
// returns a fresh onboarding link for it.
//
// The remote account is created before the local claim, so two concurrent
// first-time calls can each create one remotely. The upsert-if-null claim in
// the store guarantees only one id is ever persisted; the loser's remote
// account is orphaned and logged.
func (s *Service) EnsureConnectedAccount(ctx context.Context, userID, userEmail string) (string, error) {
	if strings.TrimSpace(userEmail) == "" {
		return "", ErrEmailRequired
	}

	profile, err := s.serviceRepo.CreateMerchantProfileIfAbsent(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("failed to ensure merchant profile: %w", err)
	}

	var accountID string
	if profile.ConnectedAccountID != nil && *profile.ConnectedAccountID != "" {
		accountID = *profile.ConnectedAccountID
	} else {
		created, err := s.gateway.CreateConnectedAccount(ctx, userEmail)
		if err != nil {
			return "", fmt.Errorf("failed to create connected account: %w", err)
		}

		accountID, err = s.serviceRepo.SetConnectedAccountIfAbsent(ctx, userID, created)
		if err != nil {
			return "", fmt.Errorf("failed to persist connected account id: %w", err)
		}
		if accountID != created {
			s.logger.Warn("lost connected-account race; remote account is orphaned",
				"merchant_id", userID, "orphaned_account_id", created, "persisted_account_id", accountID)
		}
	}

	settingsURL := s.appBaseURL + "/settings/payments"
	linkURL, err := s.gateway.CreateAccountLink(ctx, accountID, settingsURL, settingsURL)
	if err != nil {
		return "", fmt.Errorf("failed to create onboarding link: %w", err)
	}

	s.logger.Info("onboarding link created", "merchant_id", userID, "connected_account_id", accountID)
	return linkURL, nil
}
