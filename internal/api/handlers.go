/**
 * @description
 * This file contains the HTTP handlers for the merchant-facing billing
 * endpoints (payment intents, payment links, onboarding) and the internal
 * scheduler trigger. Handlers translate service-layer sentinel errors into
 * HTTP status codes; upstream failures never leak provider details to the
 * client.
 *
 * @dependencies
 * - encoding/json, net/http: Standard Go libraries.
 * - github.com/google/uuid: Parsing document ids.
 * - internal/app: The service layer.
 * - internal/store: Sentinel errors for status mapping.
 */

package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/facturio/billing-service/internal/app"
	"github.com/facturio/billing-service/internal/store"
)

// PaymentHandler serves the payment intent and payment link endpoints.
type PaymentHandler struct {
	service *app.Service
	logger  *slog.Logger
}

// NewPaymentHandler creates a new PaymentHandler.
func NewPaymentHandler(service *app.Service, logger *slog.Logger) *PaymentHandler {
	return &PaymentHandler{service: service, logger: logger}
}

type createIntentRequest struct {
	DocumentID string `json:"document_id"`
}

type createIntentResponse struct {
	ClientSecret string `json:"client_secret"`
}

// CreatePaymentIntent handles POST /payments/intents. It creates a
// destination-charge payment intent for the caller's document and returns
// the client secret the frontend confirms the payment with.
func (h *PaymentHandler) CreatePaymentIntent(w http.ResponseWriter, r *http.Request) {
	merchantID := MerchantIDFromContext(r.Context())

	var req createIntentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	documentID, err := uuid.Parse(req.DocumentID)
	if err != nil {
		http.Error(w, "Invalid document_id", http.StatusBadRequest)
		return
	}

	clientSecret, err := h.service.CreatePaymentIntent(r.Context(), merchantID, documentID)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrDocumentNotFound):
			http.Error(w, "Document not found", http.StatusNotFound)
		case errors.Is(err, app.ErrNotOnboarded):
			http.Error(w, "Connect your payment account before accepting payments", http.StatusPreconditionFailed)
		default:
			h.logger.Error("failed to create payment intent", "merchant_id", merchantID, "document_id", documentID, "error", err)
			http.Error(w, "Failed to create payment intent", http.StatusInternalServerError)
		}
		return
	}

	writeJSON(w, http.StatusOK, createIntentResponse{ClientSecret: clientSecret})
}

type createLinkRequest struct {
	DocumentID         string `json:"document_id"`
	ConnectedAccountID string `json:"connected_account_id"`
}

type createLinkResponse struct {
	PaymentLinkURL string `json:"payment_link_url"`
}

// CreatePaymentLink handles POST /payments/links. It materializes a hosted
// payment page (product, price, payment link) on the merchant's connected
// account and persists the resulting URL on the document.
func (h *PaymentHandler) CreatePaymentLink(w http.ResponseWriter, r *http.Request) {
	merchantID := MerchantIDFromContext(r.Context())

	var req createLinkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	documentID, err := uuid.Parse(req.DocumentID)
	if err != nil {
		http.Error(w, "Invalid document_id", http.StatusBadRequest)
		return
	}

	url, err := h.service.IssuePaymentLink(r.Context(), merchantID, documentID, req.ConnectedAccountID)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrDocumentNotFound):
			http.Error(w, "Document not found", http.StatusNotFound)
		case errors.Is(err, app.ErrNotOnboarded):
			http.Error(w, "Connect your payment account before issuing payment links", http.StatusPreconditionFailed)
		default:
			h.logger.Error("failed to issue payment link", "merchant_id", merchantID, "document_id", documentID, "error", err)
			http.Error(w, "Failed to create payment link", http.StatusInternalServerError)
		}
		return
	}

	writeJSON(w, http.StatusOK, createLinkResponse{PaymentLinkURL: url})
}

// OnboardingHandler serves the connected-account onboarding endpoint.
type OnboardingHandler struct {
	service *app.Service
	logger  *slog.Logger
}

// NewOnboardingHandler creates a new OnboardingHandler.
func NewOnboardingHandler(service *app.Service, logger *slog.Logger) *OnboardingHandler {
	return &OnboardingHandler{service: service, logger: logger}
}

type onboardingResponse struct {
	URL string `json:"url"`
}

// StartOnboarding handles POST /onboarding. It ensures the caller has a
// connected account (creating one on first call) and returns a fresh
// hosted onboarding link. Safe to call repeatedly.
func (h *OnboardingHandler) StartOnboarding(w http.ResponseWriter, r *http.Request) {
	merchantID := MerchantIDFromContext(r.Context())
	email := MerchantEmailFromContext(r.Context())

	url, err := h.service.EnsureConnectedAccount(r.Context(), merchantID, email)
	if err != nil {
		if errors.Is(err, app.ErrEmailRequired) {
			http.Error(w, "An email address is required to start onboarding", http.StatusBadRequest)
			return
		}
		h.logger.Error("failed to start onboarding", "merchant_id", merchantID, "error", err)
		http.Error(w, "Failed to start onboarding", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, onboardingResponse{URL: url})
}

// JobsHandler serves the internal trigger for the recurring invoice job.
type JobsHandler struct {
	jobs   *app.Jobs
	logger *slog.Logger
}

// NewJobsHandler creates a new JobsHandler.
func NewJobsHandler(jobs *app.Jobs, logger *slog.Logger) *JobsHandler {
	return &JobsHandler{jobs: jobs, logger: logger}
}

type triggerJobResponse struct {
	CreatedCount int `json:"created_count"`
}

// TriggerRecurringInvoices handles POST /internal/jobs/recurring-invoices.
// It runs the same generation pass the cron scheduler runs, for manual
// catch-up after downtime.
func (h *JobsHandler) TriggerRecurringInvoices(w http.ResponseWriter, r *http.Request) {
	created, err := h.jobs.RunRecurringGeneration(r.Context(), time.Now().UTC())
	if err != nil {
		if errors.Is(err, store.ErrRunInProgress) {
			http.Error(w, "A generation run is already in progress", http.StatusConflict)
			return
		}
		h.logger.Error("manual recurring invoice run failed", "error", err)
		http.Error(w, "Failed to generate recurring invoices", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, triggerJobResponse{CreatedCount: created})
}

// writeJSON serializes v as the response body with the given status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
