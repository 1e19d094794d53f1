/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository` and
 * `ServiceRepository` interfaces. It contains all the SQL for the billing
 * tables: documents, merchant profiles, and the recurring-generation ledger.
 *
 * @dependencies
 * - context, encoding/json: Standard Go libraries.
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: Contains the domain models used for data transfer.
 */

package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/facturio/billing-service/internal/domain"
)

// recurrenceLeaseKey is the advisory-lock key for the scheduler's
// single-flight lease. Arbitrary but stable across deployments.
const recurrenceLeaseKey int64 = 7245_2026

const documentColumns = `
	id, merchant_id, kind, status,
	recurrence_frequency, recurrence_anchor_day,
	issue_date, due_date, total, currency, number,
	payment_link_id, payment_link_url,
	customer_name, customer_email, company_name, line_items, created_at
`

// PostgresRepository is the concrete PostgreSQL store. It satisfies both
// Repository and ServiceRepository; consumers receive only the interface
// matching their privilege level.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// schemaDDL is applied idempotently at startup. The constraints are load
// bearing: the (template_id, period) primary key is what makes the
// generation ledger's ON CONFLICT DO NOTHING an at-most-once guarantee,
// (merchant_id, number) keeps document numbers unique per merchant, and the
// unique connected_account_id lets webhook events resolve exactly one
// merchant.
const schemaDDL = `
	CREATE TABLE IF NOT EXISTS documents (
		id UUID PRIMARY KEY,
		merchant_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		status TEXT NOT NULL,
		recurrence_frequency TEXT,
		recurrence_anchor_day INT,
		issue_date TIMESTAMPTZ NOT NULL,
		due_date TIMESTAMPTZ NOT NULL,
		total NUMERIC(12,2) NOT NULL,
		currency TEXT NOT NULL,
		number TEXT NOT NULL,
		payment_link_id TEXT,
		payment_link_url TEXT,
		customer_name TEXT NOT NULL DEFAULT '',
		customer_email TEXT NOT NULL DEFAULT '',
		company_name TEXT NOT NULL DEFAULT '',
		line_items JSONB NOT NULL DEFAULT '[]',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (merchant_id, number)
	);
	CREATE INDEX IF NOT EXISTS idx_documents_templates
		ON documents (merchant_id) WHERE recurrence_frequency IS NOT NULL;
	CREATE INDEX IF NOT EXISTS idx_documents_payment_link
		ON documents (merchant_id, payment_link_id);
	CREATE TABLE IF NOT EXISTS merchant_profiles (
		id TEXT PRIMARY KEY,
		connected_account_id TEXT UNIQUE,
		onboarding_complete BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
	CREATE TABLE IF NOT EXISTS recurring_generations (
		template_id UUID NOT NULL,
		period TEXT NOT NULL,
		document_id UUID NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (template_id, period)
	);
`

// EnsureSchema creates the billing tables if they do not exist yet.
func (r *PostgresRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, schemaDDL); err != nil {
		return fmt.Errorf("failed to ensure schema: %w", err)
	}
	return nil
}

// FindDocumentByID retrieves a document scoped to its owning merchant.
// A document owned by another merchant is indistinguishable from a missing one.
func (r *PostgresRepository) FindDocumentByID(ctx context.Context, merchantID string, id uuid.UUID) (*domain.Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents WHERE merchant_id = $1 AND id = $2`
	doc, err := scanDocument(r.db.QueryRow(ctx, query, merchantID, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrDocumentNotFound
		}
		return nil, err
	}
	return doc, nil
}

// UpdateDocumentPaymentLink overwrites the document's payment link id and
// URL together. Last write wins; no history is kept.
func (r *PostgresRepository) UpdateDocumentPaymentLink(ctx context.Context, merchantID string, id uuid.UUID, linkID, url string) error {
	query := `UPDATE documents SET payment_link_id = $1, payment_link_url = $2 WHERE merchant_id = $3 AND id = $4`
	tag, err := r.db.Exec(ctx, query, linkID, url, merchantID, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrDocumentNotFound
	}
	return nil
}

// GetMerchantProfile retrieves a merchant profile by id.
func (r *PostgresRepository) GetMerchantProfile(ctx context.Context, merchantID string) (*domain.MerchantProfile, error) {
	query := `SELECT id, connected_account_id, onboarding_complete, created_at FROM merchant_profiles WHERE id = $1`
	return r.scanProfile(r.db.QueryRow(ctx, query, merchantID))
}

// FindRecurringTemplates returns every document carrying a recurrence rule.
func (r *PostgresRepository) FindRecurringTemplates(ctx context.Context) ([]domain.Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents WHERE recurrence_frequency IS NOT NULL`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var templates []domain.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		templates = append(templates, *doc)
	}
	return templates, rows.Err()
}

// InsertOccurrences inserts generated documents and their generation-ledger
// rows in one transaction. The ledger insert uses ON CONFLICT DO NOTHING on
// (template_id, period); a pair already recorded skips its document entirely,
// which is what makes repeated runs in the same period safe. Any failure
// rolls back the whole batch.
func (r *PostgresRepository) InsertOccurrences(ctx context.Context, occurrences []Occurrence) (int, error) {
	if len(occurrences) == 0 {
		return 0, nil
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	created := 0
	for _, occ := range occurrences {
		tag, err := tx.Exec(ctx, `
			INSERT INTO recurring_generations (template_id, period, document_id, created_at)
			VALUES ($1, $2, $3, NOW())
			ON CONFLICT (template_id, period) DO NOTHING
		`, occ.TemplateID, occ.Period, occ.Document.ID)
		if err != nil {
			return 0, fmt.Errorf("failed to record generation for template %s: %w", occ.TemplateID, err)
		}
		if tag.RowsAffected() == 0 {
			// Another run already generated this period.
			continue
		}

		if err := insertDocumentTx(ctx, tx, occ.Document); err != nil {
			return 0, fmt.Errorf("failed to insert occurrence for template %s: %w", occ.TemplateID, err)
		}
		created++
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return created, nil
}

// MarkPaidByPaymentLink transitions matching documents to paid and reports
// how many actually changed. The match key is the processor's link id, which
// is what checkout webhooks carry. The merchant predicate keeps a colliding
// id from leaking a status change across tenants, and excluding already-paid
// rows makes redelivered events register as zero-row no-ops.
func (r *PostgresRepository) MarkPaidByPaymentLink(ctx context.Context, merchantID, paymentLinkID string) (int64, error) {
	query := `
		UPDATE documents
		SET status = 'paid'
		WHERE merchant_id = $1
		  AND payment_link_id = $2
		  AND status <> 'paid'
	`
	tag, err := r.db.Exec(ctx, query, merchantID, paymentLinkID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// FindMerchantByConnectedAccount resolves the merchant owning a processor
// connected account.
func (r *PostgresRepository) FindMerchantByConnectedAccount(ctx context.Context, connectedAccountID string) (*domain.MerchantProfile, error) {
	query := `SELECT id, connected_account_id, onboarding_complete, created_at FROM merchant_profiles WHERE connected_account_id = $1`
	return r.scanProfile(r.db.QueryRow(ctx, query, connectedAccountID))
}

// CreateMerchantProfileIfAbsent lazily creates a default profile row. Covers
// the case where an authenticated identity exists before its profile does.
func (r *PostgresRepository) CreateMerchantProfileIfAbsent(ctx context.Context, merchantID string) (*domain.MerchantProfile, error) {
	_, err := r.db.Exec(ctx, `
		INSERT INTO merchant_profiles (id, onboarding_complete, created_at)
		VALUES ($1, FALSE, NOW())
		ON CONFLICT (id) DO NOTHING
	`, merchantID)
	if err != nil {
		return nil, err
	}
	return r.GetMerchantProfile(ctx, merchantID)
}

// SetConnectedAccountIfAbsent writes the connected-account id only when the
// profile has none, and returns the id that ended up persisted. Two
// concurrent onboarding calls both get the single surviving id back.
func (r *PostgresRepository) SetConnectedAccountIfAbsent(ctx context.Context, merchantID, connectedAccountID string) (string, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE merchant_profiles
		SET connected_account_id = $1
		WHERE id = $2 AND connected_account_id IS NULL
	`, connectedAccountID, merchantID)
	if err != nil {
		return "", err
	}
	if tag.RowsAffected() > 0 {
		return connectedAccountID, nil
	}

	profile, err := r.GetMerchantProfile(ctx, merchantID)
	if err != nil {
		return "", err
	}
	if profile.ConnectedAccountID == nil {
		return "", ErrMerchantNotFound
	}
	return *profile.ConnectedAccountID, nil
}

// AcquireRecurrenceLease takes the scheduler's single-flight advisory lock on
// a dedicated pool connection. The lock is session-scoped, so the connection
// is held until release is called.
func (r *PostgresRepository) AcquireRecurrenceLease(ctx context.Context) (func(), error) {
	conn, err := r.db.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	var acquired bool
	if err := conn.QueryRow(ctx, `SELECT pg_try_advisory_lock($1)`, recurrenceLeaseKey).Scan(&acquired); err != nil {
		conn.Release()
		return nil, err
	}
	if !acquired {
		conn.Release()
		return nil, ErrRunInProgress
	}

	release := func() {
		// Best effort: the lock also drops if the session dies.
		_, _ = conn.Exec(context.Background(), `SELECT pg_advisory_unlock($1)`, recurrenceLeaseKey)
		conn.Release()
	}
	return release, nil
}

func insertDocumentTx(ctx context.Context, tx pgx.Tx, doc domain.Document) error {
	items, err := json.Marshal(doc.LineItems)
	if err != nil {
		return err
	}

	var freq *string
	var anchor *int
	if doc.Recurrence != nil {
		freq = &doc.Recurrence.Frequency
		anchor = &doc.Recurrence.AnchorDay
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO documents (
			id, merchant_id, kind, status,
			recurrence_frequency, recurrence_anchor_day,
			issue_date, due_date, total, currency, number,
			payment_link_id, payment_link_url,
			customer_name, customer_email, company_name, line_items, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, NOW())
	`,
		doc.ID, doc.MerchantID, doc.Kind, doc.Status,
		freq, anchor,
		doc.IssueDate, doc.DueDate, doc.Total, doc.Currency, doc.Number,
		doc.PaymentLinkID, doc.PaymentLinkURL,
		doc.Customer.Name, doc.Customer.Email, doc.CompanyName, items,
	)
	return err
}

func (r *PostgresRepository) scanProfile(row pgx.Row) (*domain.MerchantProfile, error) {
	var profile domain.MerchantProfile
	err := row.Scan(&profile.ID, &profile.ConnectedAccountID, &profile.OnboardingComplete, &profile.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrMerchantNotFound
		}
		return nil, err
	}
	return &profile, nil
}

func scanDocument(row pgx.Row) (*domain.Document, error) {
	var (
		doc    domain.Document
		freq   *string
		anchor *int
		items  []byte
	)
	err := row.Scan(
		&doc.ID, &doc.MerchantID, &doc.Kind, &doc.Status,
		&freq, &anchor,
		&doc.IssueDate, &doc.DueDate, &doc.Total, &doc.Currency, &doc.Number,
		&doc.PaymentLinkID, &doc.PaymentLinkURL,
		&doc.Customer.Name, &doc.Customer.Email, &doc.CompanyName, &items, &doc.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if freq != nil {
		rule := domain.RecurrenceRule{Frequency: *freq}
		if anchor != nil {
			rule.AnchorDay = *anchor
		}
		doc.Recurrence = &rule
	}
	if len(items) > 0 {
		if err := json.Unmarshal(items, &doc.LineItems); err != nil {
			return nil, fmt.Errorf("failed to decode line items: %w", err)
		}
	}
	return &doc, nil
}
