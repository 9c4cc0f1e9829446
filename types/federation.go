package types

import "time"

// Token is a signed bearer credential together with the claims it carries.
type Token struct {
	Value     string    `json:"token"`
	SubjectID string    `json:"-"`
	Email     string    `json:"-"`
	Role      Role      `json:"-"`
	IssuedAt  time.Time `json:"issuedAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Assertion is a verified identity statement returned by an external
// provider after a successful authorization callback.
type Assertion struct {
	Provider        string
	ProviderSubject string
	Email           string
	EmailVerified   bool
	DisplayName     string
	GivenName       string
	FamilyName      string
}

// PendingFederatedIdentity holds a provider assertion between the callback
// and profile completion. It is discarded once an account is created or
// when it expires.
type PendingFederatedIdentity struct {
	ID              string    `json:"id"`
	Provider        string    `json:"provider"`
	ProviderSubject string    `json:"providerSubject"`
	Email           string    `json:"email"`
	DisplayName     string    `json:"displayName,omitempty"`
	FirstName       string    `json:"firstName,omitempty"`
	LastName        string    `json:"lastName,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
	ExpiresAt       time.Time `json:"expiresAt"`
}

// ProfileInput is submitted to finish provisioning an account, either
// through direct registration or federated profile completion.
type ProfileInput struct {
	Email            string `json:"email"`
	FirstName        string `json:"firstName"`
	LastName         string `json:"lastName"`
	Role             Role   `json:"role"`
	Password         string `json:"password"`
	OrganizationName string `json:"organizationName,omitempty"`
	Phone            string `json:"phone,omitempty"`
}
