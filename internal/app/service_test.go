package app

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/facturio/billing-service/internal/domain"
	"github.com/facturio/billing-service/internal/store"
)

type repoStub struct {
	documents   map[uuid.UUID]*domain.Document
	profile     *domain.MerchantProfile
	savedLinkID string
	savedURL    string
	saveErr     error
}

func newRepoStub() *repoStub {
	return &repoStub{documents: make(map[uuid.UUID]*domain.Document)}
}

func (s *repoStub) FindDocumentByID(ctx context.Context, merchantID string, id uuid.UUID) (*domain.Document, error) {
	doc, ok := s.documents[id]
	if !ok || doc.MerchantID != merchantID {
		return nil, store.ErrDocumentNotFound
	}
	return doc, nil
}

func (s *repoStub) UpdateDocumentPaymentLink(ctx context.Context, merchantID string, id uuid.UUID, linkID, url string) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	s.savedLinkID = linkID
	s.savedURL = url
	return nil
}

func (s *repoStub) GetMerchantProfile(ctx context.Context, merchantID string) (*domain.MerchantProfile, error) {
	if s.profile == nil || s.profile.ID != merchantID {
		return nil, store.ErrMerchantNotFound
	}
	return s.profile, nil
}

type gatewayStub struct {
	intentParams   *CreateIntentParams
	intentErr      error
	priceErr       error
	linkErr        error
	accountCreated int
	accountErr     error

	productAccount string
	priceAmount    int64
	linkRedirect   string
	accountLinkID  string
}

func (g *gatewayStub) CreatePaymentIntent(ctx context.Context, params CreateIntentParams) (string, error) {
	if g.intentErr != nil {
		return "", g.intentErr
	}
	g.intentParams = &params
	return "pi_test_secret_123", nil
}

func (g *gatewayStub) CreateProduct(ctx context.Context, connectedAccountID, name string) (string, error) {
	g.productAccount = connectedAccountID
	return "prod_123", nil
}

func (g *gatewayStub) CreatePrice(ctx context.Context, connectedAccountID, productID, currency string, unitAmountMinor int64) (string, error) {
	if g.priceErr != nil {
		return "", g.priceErr
	}
	g.priceAmount = unitAmountMinor
	return "price_123", nil
}

func (g *gatewayStub) CreatePaymentLink(ctx context.Context, connectedAccountID, priceID, redirectURL string) (string, string, error) {
	if g.linkErr != nil {
		return "", "", g.linkErr
	}
	g.linkRedirect = redirectURL
	// The processor hands back an opaque id plus a URL that shares no
	// substring with it, like the real thing.
	return "plink_123", "https://buy.example.test/c/pay/abc123", nil
}

func (g *gatewayStub) CreateConnectedAccount(ctx context.Context, email string) (string, error) {
	if g.accountErr != nil {
		return "", g.accountErr
	}
	g.accountCreated++
	return "acct_new", nil
}

func (g *gatewayStub) CreateAccountLink(ctx context.Context, accountID, refreshURL, returnURL string) (string, error) {
	g.accountLinkID = accountID
	return "https://connect.example.test/onboard/" + accountID, nil
}

func newTestService(repo *repoStub, serviceRepo *serviceRepoStub, gateway *gatewayStub) *Service {
	return NewService(repo, serviceRepo, gateway, testLogger(), 3.0, "https://app.example.test/")
}

func strPtr(s string) *string { return &s }

func TestCreatePaymentIntent_SplitsFeeFromTotal(t *testing.T) {
	repo := newRepoStub()
	docID := uuid.New()
	repo.documents[docID] = &domain.Document{ID: docID, MerchantID: "merchant_1", Total: 100.00, Currency: "eur"}
	repo.profile = &domain.MerchantProfile{ID: "merchant_1", ConnectedAccountID: strPtr("acct_42")}
	gateway := &gatewayStub{}
	service := newTestService(repo, newServiceRepoStub(), gateway)

	secret, err := service.CreatePaymentIntent(context.Background(), "merchant_1", docID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if secret != "pi_test_secret_123" {
		t.Fatalf("unexpected client secret %s", secret)
	}

	params := gateway.intentParams
	if params == nil {
		t.Fatal("expected gateway call")
	}
	if params.AmountMinor != 10000 {
		t.Fatalf("expected amount 10000 minor units, got %d", params.AmountMinor)
	}
	if params.FeeMinor != 300 {
		t.Fatalf("expected 3%% fee of 300 minor units, got %d", params.FeeMinor)
	}
	if params.ConnectedAccountID != "acct_42" {
		t.Fatalf("expected charge routed to acct_42, got %s", params.ConnectedAccountID)
	}
	if params.DocumentID != docID.String() {
		t.Fatalf("expected document id in metadata, got %s", params.DocumentID)
	}
}

func TestCreatePaymentIntent_RoundsFractionalAmounts(t *testing.T) {
	repo := newRepoStub()
	docID := uuid.New()
	repo.documents[docID] = &domain.Document{ID: docID, MerchantID: "merchant_1", Total: 33.33, Currency: "eur"}
	repo.profile = &domain.MerchantProfile{ID: "merchant_1", ConnectedAccountID: strPtr("acct_42")}
	gateway := &gatewayStub{}
	service := newTestService(repo, newServiceRepoStub(), gateway)

	if _, err := service.CreatePaymentIntent(context.Background(), "merchant_1", docID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gateway.intentParams.AmountMinor != 3333 {
		t.Fatalf("expected 3333 minor units, got %d", gateway.intentParams.AmountMinor)
	}
	// 3% of 3333 is 99.99, rounded to 100.
	if gateway.intentParams.FeeMinor != 100 {
		t.Fatalf("expected fee of 100 minor units, got %d", gateway.intentParams.FeeMinor)
	}
}

func TestCreatePaymentIntent_OtherTenantsDocumentIsNotFound(t *testing.T) {
	repo := newRepoStub()
	docID := uuid.New()
	repo.documents[docID] = &domain.Document{ID: docID, MerchantID: "merchant_2", Total: 50}
	repo.profile = &domain.MerchantProfile{ID: "merchant_1", ConnectedAccountID: strPtr("acct_42")}
	service := newTestService(repo, newServiceRepoStub(), &gatewayStub{})

	_, err := service.CreatePaymentIntent(context.Background(), "merchant_1", docID)
	if !errors.Is(err, store.ErrDocumentNotFound) {
		t.Fatalf("expected ErrDocumentNotFound for another tenant's document, got %v", err)
	}
}

func TestCreatePaymentIntent_RequiresConnectedAccount(t *testing.T) {
	repo := newRepoStub()
	docID := uuid.New()
	repo.documents[docID] = &domain.Document{ID: docID, MerchantID: "merchant_1", Total: 50}
	gateway := &gatewayStub{}
	service := newTestService(repo, newServiceRepoStub(), gateway)

	// No profile at all.
	_, err := service.CreatePaymentIntent(context.Background(), "merchant_1", docID)
	if !errors.Is(err, ErrNotOnboarded) {
		t.Fatalf("expected ErrNotOnboarded without a profile, got %v", err)
	}

	// Profile exists but the connected account is unset.
	repo.profile = &domain.MerchantProfile{ID: "merchant_1"}
	_, err = service.CreatePaymentIntent(context.Background(), "merchant_1", docID)
	if !errors.Is(err, ErrNotOnboarded) {
		t.Fatalf("expected ErrNotOnboarded without a connected account, got %v", err)
	}
	if gateway.intentParams != nil {
		t.Fatal("expected no gateway call before onboarding")
	}
}

func TestIssuePaymentLink_PersistsLinkAndBuildsRedirect(t *testing.T) {
	repo := newRepoStub()
	docID := uuid.New()
	repo.documents[docID] = &domain.Document{ID: docID, MerchantID: "merchant_1", Total: 75.50, Currency: "eur", Number: "INV-0007"}
	gateway := &gatewayStub{}
	service := newTestService(repo, newServiceRepoStub(), gateway)

	url, err := service.IssuePaymentLink(context.Background(), "merchant_1", docID, "acct_42")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if url != "https://buy.example.test/c/pay/abc123" {
		t.Fatalf("unexpected link url %s", url)
	}
	if repo.savedURL != url {
		t.Fatalf("expected link url persisted on the document, got %q", repo.savedURL)
	}
	// The processor id is persisted too; it is what checkout webhooks carry.
	if repo.savedLinkID != "plink_123" {
		t.Fatalf("expected link id persisted on the document, got %q", repo.savedLinkID)
	}
	if gateway.productAccount != "acct_42" {
		t.Fatalf("expected product created on acct_42, got %s", gateway.productAccount)
	}
	if gateway.priceAmount != 7550 {
		t.Fatalf("expected price of 7550 minor units, got %d", gateway.priceAmount)
	}
	wantRedirect := "https://app.example.test/invoices/paid?document_id=" + docID.String()
	if gateway.linkRedirect != wantRedirect {
		t.Fatalf("expected redirect %s, got %s", wantRedirect, gateway.linkRedirect)
	}
}

func TestIssuePaymentLink_RequiresConnectedAccount(t *testing.T) {
	repo := newRepoStub()
	service := newTestService(repo, newServiceRepoStub(), &gatewayStub{})

	_, err := service.IssuePaymentLink(context.Background(), "merchant_1", uuid.New(), "  ")
	if !errors.Is(err, ErrNotOnboarded) {
		t.Fatalf("expected ErrNotOnboarded for blank account id, got %v", err)
	}
}

func TestIssuePaymentLink_DoesNotPersistOnGatewayFailure(t *testing.T) {
	repo := newRepoStub()
	docID := uuid.New()
	repo.documents[docID] = &domain.Document{ID: docID, MerchantID: "merchant_1", Total: 75.50, Currency: "eur", Number: "INV-0007"}
	gateway := &gatewayStub{linkErr: errors.New("upstream 500")}
	service := newTestService(repo, newServiceRepoStub(), gateway)

	_, err := service.IssuePaymentLink(context.Background(), "merchant_1", docID, "acct_42")
	if err == nil {
		t.Fatal("expected error when link creation fails")
	}
	if repo.savedLinkID != "" || repo.savedURL != "" {
		t.Fatal("expected no persisted link after gateway failure")
	}
}

func TestEnsureConnectedAccount_CreatesAccountOnFirstCall(t *testing.T) {
	serviceRepo := newServiceRepoStub()
	gateway := &gatewayStub{}
	service := newTestService(newRepoStub(), serviceRepo, gateway)

	url, err := service.EnsureConnectedAccount(context.Background(), "merchant_1", "owner@acme.test")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gateway.accountCreated != 1 {
		t.Fatalf("expected one remote account created, got %d", gateway.accountCreated)
	}
	if !strings.HasSuffix(url, "/onboard/acct_new") {
		t.Fatalf("expected onboarding link for acct_new, got %s", url)
	}
	profile := serviceRepo.profiles["merchant_1"]
	if profile == nil || profile.ConnectedAccountID == nil || *profile.ConnectedAccountID != "acct_new" {
		t.Fatal("expected connected account id persisted on the profile")
	}
}

func TestEnsureConnectedAccount_ReusesExistingAccount(t *testing.T) {
	serviceRepo := newServiceRepoStub()
	serviceRepo.profiles["merchant_1"] = &domain.MerchantProfile{ID: "merchant_1", ConnectedAccountID: strPtr("acct_existing")}
	gateway := &gatewayStub{}
	service := newTestService(newRepoStub(), serviceRepo, gateway)

	url, err := service.EnsureConnectedAccount(context.Background(), "merchant_1", "owner@acme.test")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gateway.accountCreated != 0 {
		t.Fatal("expected no new remote account for an onboarded merchant")
	}
	if !strings.HasSuffix(url, "/onboard/acct_existing") {
		t.Fatalf("expected link for the existing account, got %s", url)
	}
}

func TestEnsureConnectedAccount_LosingRaceUsesPersistedID(t *testing.T) {
	serviceRepo := newServiceRepoStub()
	// The profile looks unclaimed when read, but a concurrent request
	// commits acct_winner before our write lands.
	serviceRepo.profiles["merchant_1"] = &domain.MerchantProfile{ID: "merchant_1"}
	serviceRepo.claimRace = "acct_winner"
	gateway := &gatewayStub{}
	service := newTestService(newRepoStub(), serviceRepo, gateway)

	url, err := service.EnsureConnectedAccount(context.Background(), "merchant_1", "owner@acme.test")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gateway.accountCreated != 1 {
		t.Fatal("expected the loser to have created its own remote account")
	}
	if !strings.HasSuffix(url, "/onboard/acct_winner") {
		t.Fatalf("expected the winner's account id on the link, got %s", url)
	}
	if got := *serviceRepo.profiles["merchant_1"].ConnectedAccountID; got != "acct_winner" {
		t.Fatalf("expected acct_winner to stay persisted, got %s", got)
	}
}

func TestEnsureConnectedAccount_RequiresEmail(t *testing.T) {
	service := newTestService(newRepoStub(), newServiceRepoStub(), &gatewayStub{})

	_, err := service.EnsureConnectedAccount(context.Background(), "merchant_1", "   ")
	if !errors.Is(err, ErrEmailRequired) {
		t.Fatalf("expected ErrEmailRequired, got %v", err)
	}
}
