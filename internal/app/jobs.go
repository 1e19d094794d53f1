/**
 * @description
 * Scheduled job implementations for the billing-service. The only job today
 * is recurring invoice generation: materializing fresh draft documents from
 * templates whose monthly rule is due.
 */
package app

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/facturio/billing-service/internal/domain"
	"github.com/facturio/billing-service/internal/store"
)

// Jobs contains the logic for all scheduled tasks.
type Jobs struct {
	repo   store.ServiceRepository
	logger *slog.Logger
}

// NewJobs creates a new Jobs runner.
func NewJobs(repo store.ServiceRepository, logger *slog.Logger) *Jobs {
	return &Jobs{repo: repo, logger: logger}
}

// GenerateRecurringInvoices is the cron entry point.
func (j *Jobs) GenerateRecurringInvoices() {
	j.logger.Info("starting recurring invoice generation job")
	ctx := context.Background()

	created, err := j.RunRecurringGeneration(ctx, time.Now().UTC())
	if err != nil {
		if errors.Is(err, store.ErrRunInProgress) {
			j.logger.Info("recurring generation already running; skipping this tick")
			return
		}
		j.logger.Error("recurring invoice generation failed", "error", err)
		return
	}

	j.logger.Info("recurring invoice generation job finished", "created", created)
}

// RunRecurringGeneration evaluates every template against now and inserts all
// due occurrences as one batch, returning the count actually created.
//
// The run is serialized by the store's advisory-lock lease, and the
// (template, period) generation ledger guarantees at most one occurrence per
// template per calendar month even across retries, overlapping triggers, and
// redeploys. A read failure aborts before any write; an insert failure rolls
// the whole batch back.
func (j *Jobs) RunRecurringGeneration(ctx context.Context, now time.Time) (int, error) {
	release, err := j.repo.AcquireRecurrenceLease(ctx)
	if err != nil {
		return 0, err
	}
	defer release()

	templates, err := j.repo.FindRecurringTemplates(ctx)
	if err != nil {
		return 0, err
	}

	period := domain.PeriodKey(now)
	var due []store.Occurrence
	for _, template := range templates {
		if template.Recurrence == nil || !template.Recurrence.DueOn(now) {
			continue
		}
		due = append(due, store.Occurrence{
			TemplateID: template.ID,
			Period:     period,
			Document:   materializeOccurrence(template, period, now),
		})
	}

	if len(due) == 0 {
		return 0, nil
	}

	created, err := j.repo.InsertOccurrences(ctx, due)
	if err != nil {
		return 0, err
	}
	return created, nil
}

// materializeOccurrence builds the generated document for a due template:
// fresh id, deterministic per-period number, dates anchored on the run time,
// status draft, recurrence cleared, everything else copied verbatim.
func materializeOccurrence(template domain.Document, period string, now time.Time) domain.Document {
	items := make([]domain.LineItem, len(template.LineItems))
	copy(items, template.LineItems)

	return domain.Document{
		ID:          uuid.New(),
		MerchantID:  template.MerchantID,
		Kind:        template.Kind,
		Status:      domain.StatusDraft,
		Recurrence:  nil,
		IssueDate:   now,
		DueDate:     now.AddDate(0, 0, 30),
		Total:       template.Total,
		Currency:    template.Currency,
		Number:      template.Number + "-" + period,
		Customer:    template.Customer,
		CompanyName: template.CompanyName,
		LineItems:   items,
	}
}
