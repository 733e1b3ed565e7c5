package models

import "time"

// Customer is a local mirror of a CRM household used for phone-suffix
// resolution during ticket creation.
type Customer struct {
	ID          string    `json:"id" badgerhold:"key"`
	TenantID    string    `json:"tenant_id" badgerhold:"index"`
	ExternalID  string    `json:"external_id"` // CRM household id; empty when not yet synced
	Name        string    `json:"name"`
	Phone       string    `json:"phone"`
	PhoneSuffix string    `json:"phone_suffix" badgerhold:"index"`
	CreatedAt   time.Time `json:"created_at"`
}

// Agent maps a telephony extension to a CRM agent identity
type Agent struct {
	ID         string `json:"id" badgerhold:"key"`
	TenantID   string `json:"tenant_id" badgerhold:"index"`
	Extension  string `json:"extension" badgerhold:"index"`
	ExternalID string `json:"external_id"` // CRM user id
	Name       string `json:"name"`
}
