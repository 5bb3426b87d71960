package store

import (
	"fmt"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

const (
	// GrantTTL is how long an issued application link stays usable.
	GrantTTL = 7 * 24 * time.Hour

	tokenPrefix   = "tk_"
	tokenAlphabet = "0123456789abcdef"
	tokenLength   = 32
)

// Grant is a single-use, time-bounded authorization to submit one application.
type Grant struct {
	Token     string     `json:"token"`
	Issuer    string     `json:"recruiterEmail"`
	Recipient string     `json:"applicantEmail,omitempty"`
	IssuedAt  time.Time  `json:"createdAt"`
	ExpiresAt time.Time  `json:"expiresAt"`
	UsedAt    *time.Time `json:"usedAt"`
}

// Valid reports whether the grant can still be consumed at now.
func (g Grant) Valid(now time.Time) bool {
	return g.UsedAt == nil && now.Before(g.ExpiresAt)
}

// Expired reports whether now is at or past the expiry instant.
func (g Grant) Expired(now time.Time) bool {
	return !now.Before(g.ExpiresAt)
}

// Consumed reports whether an application was already submitted with the grant.
func (g Grant) Consumed() bool {
	return g.UsedAt != nil
}

// NewToken returns a fresh grant token: "tk_" followed by 32 lowercase hex characters.
func NewToken() (string, error) {
	id, err := gonanoid.Generate(tokenAlphabet, tokenLength)
	if err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return tokenPrefix + id, nil
}

func newGrant(issuer, recipient string, now time.Time) (Grant, error) {
	token, err := NewToken()
	if err != nil {
		return Grant{}, err
	}
	return Grant{
		Token:     token,
		Issuer:    issuer,
		Recipient: recipient,
		IssuedAt:  now,
		ExpiresAt: now.Add(GrantTTL),
	}, nil
}
