package entity

import (
	"time"

	"github.com/guregu/null/v6"
)

const (
	TestStatusSuccess = "SUCCESS"
	TestStatusFailed  = "FAILED"
)

// Credential is encrypted-at-rest API key material for one (user, venue).
// At most one active row exists per (user, venue); enforced by a partial
// unique index in the migration.
type Credential struct {
	ID                  string      `db:"id" json:"id"`
	UserID              string      `db:"user_id" json:"user_id"`
	Venue               string      `db:"venue" json:"venue"`
	EncryptedAPIKey     string      `db:"encrypted_api_key" json:"-"`
	EncryptedAPISecret  string      `db:"encrypted_api_secret" json:"-"`
	EncryptedPassphrase null.String `db:"encrypted_passphrase" json:"-"`
	IsActive            bool        `db:"is_active" json:"is_active"`
	LastUsedAt          null.Time   `db:"last_used_at" json:"last_used_at"`
	TestStatus          null.String `db:"test_status" json:"test_status"`
	TestedAt            null.Time   `db:"tested_at" json:"tested_at"`
	CreatedAt           time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time   `db:"updated_at" json:"updated_at"`
}

func (c Credential) TableName() string {
	return "credentials"
}

func (c *Credential) TouchLastUsed() {
	now := time.Now().UTC()
	c.LastUsedAt = null.TimeFrom(now)
	c.UpdatedAt = now
}

func (c *Credential) RecordTestResult(status string) {
	now := time.Now().UTC()
	c.TestStatus = null.StringFrom(status)
	c.TestedAt = null.TimeFrom(now)
	c.UpdatedAt = now
}
