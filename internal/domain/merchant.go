package domain

import "time"

// MerchantProfile holds a merchant's payment-processor state. The profile id
// is the authenticated user id. ConnectedAccountID is nil until onboarding
// starts and immutable once set; the store enforces this with an
// upsert-if-null write path.
type MerchantProfile struct {
	ID                 string    `json:"id"`
	ConnectedAccountID *string   `json:"connected_account_id,omitempty"`
	OnboardingComplete bool      `json:"onboarding_complete"`
	CreatedAt          time.Time `json:"created_at"`
}
