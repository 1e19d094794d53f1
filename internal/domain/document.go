/**
 * @description
 * This file defines the core domain models for the billing-service. These
 * structs represent billing documents (invoices and quotes), their recurrence
 * rules, and the line items they carry. They map directly to the `documents`
 * and `recurring_generations` tables.
 *
 * @notes
 * - Document totals are stored in major currency units as entered by the
 *   merchant; conversion to integer minor units happens at the payment
 *   boundary (see app.MinorUnits), never in the store.
 * - A document carrying a recurrence rule is a template. Occurrences
 *   generated from it are ordinary documents with the rule cleared.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// Document kinds.
const (
	KindInvoice = "invoice"
	KindQuote   = "quote"
)

// Document statuses.
const (
	StatusDraft = "draft"
	StatusSent  = "sent"
	StatusPaid  = "paid"
	StatusVoid  = "void"
)

// RecurrenceMonthly is the only recurrence frequency currently supported.
const RecurrenceMonthly = "monthly"

// Document represents a billing document owned by a single merchant.
// The document number is unique per merchant and the owning merchant is
// immutable after creation.
//
// A hosted payment link is stored as two values: PaymentLinkURL is what the
// merchant shares with the customer, and PaymentLinkID is the processor's
// identifier for the same link (plink_...). Webhook payloads reference the
// link by id, never by URL, so reconciliation matches on PaymentLinkID.
type Document struct {
	ID             uuid.UUID       `json:"id"`
	MerchantID     string          `json:"merchant_id"`
	Kind           string          `json:"kind"`   // 'invoice' or 'quote'
	Status         string          `json:"status"` // 'draft', 'sent', 'paid', 'void'
	Recurrence     *RecurrenceRule `json:"recurrence,omitempty"`
	IssueDate      time.Time       `json:"issue_date"`
	DueDate        time.Time       `json:"due_date"`
	Total          float64         `json:"total"` // major units
	Currency       string          `json:"currency"`
	Number         string          `json:"number"`
	PaymentLinkID  *string         `json:"payment_link_id,omitempty"`
	PaymentLinkURL *string         `json:"payment_link_url,omitempty"`
	Customer       Customer        `json:"customer"`
	CompanyName    string          `json:"company_name"`
	LineItems      []LineItem      `json:"line_items"`
	CreatedAt      time.Time       `json:"created_at"`
}

// IsTemplate reports whether the document carries a recurrence rule.
func (d *Document) IsTemplate() bool {
	return d.Recurrence != nil
}

// RecurrenceRule describes how a template regenerates. Only monthly rules
// exist today; AnchorDay is the day-of-month the occurrence is issued on.
type RecurrenceRule struct {
	Frequency string `json:"frequency"`
	AnchorDay int    `json:"anchor_day"`
}

// DueOn reports whether a monthly rule is due on the given date. Anchor days
// past the end of a short month fire on that month's last day.
func (r RecurrenceRule) DueOn(now time.Time) bool {
	if r.Frequency != RecurrenceMonthly {
		return false
	}
	anchor := r.AnchorDay
	if last := lastDayOfMonth(now); anchor > last {
		anchor = last
	}
	return now.Day() == anchor
}

func lastDayOfMonth(t time.Time) int {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location()).
		AddDate(0, 1, -1).Day()
}

// PeriodKey returns the generation period for a run timestamp, e.g. "2026-08".
// Periods are derived from the run time in UTC so a template generates at most
// one occurrence per calendar month regardless of server timezone.
func PeriodKey(now time.Time) string {
	return now.UTC().Format("2006-01")
}

// Customer identifies the billed party on a document.
type Customer struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// LineItem is a single billed line on a document. Stored as JSONB; the
// billing engine copies line items verbatim when generating occurrences and
// never interprets them.
type LineItem struct {
	Description string  `json:"description"`
	Quantity    float64 `json:"quantity"`
	UnitPrice   float64 `json:"unit_price"` // major units
}
