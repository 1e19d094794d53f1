/**
 * @description
 * This file defines the data access contracts for the billing-service. Two
 * interfaces split the store along the service's authorization boundary:
 *
 * - `Repository` carries caller-scoped operations. Every document query takes
 *   the authenticated merchant id and filters on it, so a caller can never
 *   read or mutate another tenant's documents.
 * - `ServiceRepository` carries the privileged operations performed with the
 *   service's own identity: webhook reconciliation, scheduler batch inserts,
 *   and merchant profile creation/claiming. HTTP handlers never hold this
 *   interface; only the reconciler, the scheduler jobs, and the onboarding
 *   flow do.
 *
 * Both are satisfied by the same PostgresRepository, but keeping the surfaces
 * separate makes the elevated paths explicit and independently stubbable.
 */

package store

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/facturio/billing-service/internal/domain"
)

var (
	ErrDocumentNotFound = errors.New("document not found")
	ErrMerchantNotFound = errors.New("merchant profile not found")
	// ErrRunInProgress is returned when the recurrence lease is already held
	// by another scheduler run.
	ErrRunInProgress = errors.New("recurring generation already in progress")
)

// Occurrence pairs a generated document with the template and period that
// produced it. The (template, period) pair is the idempotency key: inserting
// an occurrence whose pair already exists in the generation ledger is a no-op.
type Occurrence struct {
	TemplateID uuid.UUID
	Period     string
	Document   domain.Document
}

// Repository defines caller-scoped data access.
type Repository interface {
	// FindDocumentByID returns the document only if it is owned by merchantID.
	FindDocumentByID(ctx context.Context, merchantID string, id uuid.UUID) (*domain.Document, error)
	// UpdateDocumentPaymentLink overwrites the document's hosted payment link,
	// both the processor id and the shareable URL (last write wins, no history).
	UpdateDocumentPaymentLink(ctx context.Context, merchantID string, id uuid.UUID, linkID, url string) error
	// GetMerchantProfile returns the caller's own profile.
	GetMerchantProfile(ctx context.Context, merchantID string) (*domain.MerchantProfile, error)
}

// ServiceRepository defines the privileged operations executed under the
// service identity.
type ServiceRepository interface {
	// FindRecurringTemplates returns every document carrying a recurrence rule.
	FindRecurringTemplates(ctx context.Context) ([]domain.Document, error)
	// InsertOccurrences inserts the batch in a single transaction and returns
	// how many occurrences were actually created. Pairs already present in the
	// generation ledger are skipped; any error rolls the whole batch back.
	InsertOccurrences(ctx context.Context, occurrences []Occurrence) (int, error)
	// MarkPaidByPaymentLink transitions to paid every document matching both
	// the merchant and the stored processor payment-link id, returning the
	// affected count. Webhook envelopes reference the link by id, so this is
	// the reconciliation match key.
	MarkPaidByPaymentLink(ctx context.Context, merchantID, paymentLinkID string) (int64, error)
	// FindMerchantByConnectedAccount resolves the owning merchant of a
	// processor connected account.
	FindMerchantByConnectedAccount(ctx context.Context, connectedAccountID string) (*domain.MerchantProfile, error)
	// CreateMerchantProfileIfAbsent ensures a profile row exists and returns it.
	CreateMerchantProfileIfAbsent(ctx context.Context, merchantID string) (*domain.MerchantProfile, error)
	// SetConnectedAccountIfAbsent persists the connected-account id only when
	// none is set, and returns whichever id survives. A concurrent caller that
	// loses the race gets the winner's id back.
	SetConnectedAccountIfAbsent(ctx context.Context, merchantID, connectedAccountID string) (string, error)
	// AcquireRecurrenceLease takes the single-flight scheduler lease. It
	// returns ErrRunInProgress when another run holds it; otherwise the
	// returned release function must be called when the run finishes.
	AcquireRecurrenceLease(ctx context.Context) (release func(), err error)
}
