package models

import (
	"time"

	"github.com/google/uuid"
)

// TicketSource tags which path created the ticket
type TicketSource string

const (
	TicketSourceWebhook TicketSource = "webhook"
	TicketSourcePoll    TicketSource = "poll"
)

// ServiceTicket mirrors a ticket created in the external CRM. WrapupID is
// unique: at most one ticket exists per wrapup, which is what makes concurrent
// auto-creation attempts collapse to a single row.
type ServiceTicket struct {
	ID       string `json:"id" badgerhold:"key"`
	TenantID string `json:"tenant_id" badgerhold:"index"`
	WrapupID string `json:"wrapup_id" badgerhold:"unique"`

	ExternalTicketID string `json:"external_ticket_id"`
	ExternalHouseID  string `json:"external_house_id"` // CRM household/customer id

	Subject     string `json:"subject"`
	Description string `json:"description"`

	PipelineID int64 `json:"pipeline_id"`
	StageID    int64 `json:"stage_id"`
	CategoryID int64 `json:"category_id"`
	PriorityID int64 `json:"priority_id"`

	AssignedAgentID   string `json:"assigned_agent_id"`
	AssignedAgentName string `json:"assigned_agent_name"`

	// CustomerPhone is kept for the cross-path duplicate window check: two
	// wrapups for one physical call share a phone suffix within the hour.
	CustomerPhone string `json:"customer_phone"`

	Source    TicketSource `json:"source"`
	CreatedAt time.Time    `json:"created_at"`
}

// NewServiceTicket creates a local mirror row for a CRM ticket
func NewServiceTicket(tenantID, wrapupID string) *ServiceTicket {
	return &ServiceTicket{
		ID:        uuid.New().String(),
		TenantID:  tenantID,
		WrapupID:  wrapupID,
		CreatedAt: time.Now(),
	}
}
