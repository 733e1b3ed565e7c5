// Package tickets creates CRM service tickets from completed call wrapups.
// Creation is guarded and idempotent: at most one ticket per wrapup, and at
// most one per caller inside the cross-path dedup window.
package tickets

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/wrapline/internal/common"
	"github.com/ternarybob/wrapline/internal/interfaces"
	"github.com/ternarybob/wrapline/internal/models"
)

// SkipReason explains why no ticket was created for a wrapup
type SkipReason string

const (
	SkipDisabled        SkipReason = "disabled"
	SkipTestPhone       SkipReason = "test_phone"
	SkipInvalidPhone    SkipReason = "invalid_phone"
	SkipAlreadyExists   SkipReason = "ticket_exists"
	SkipRecentDuplicate SkipReason = "recent_duplicate"
)

// ErrSkipped is returned with a SkipReason when guards reject creation
type ErrSkipped struct {
	Reason SkipReason
}

func (e *ErrSkipped) Error() string {
	return fmt.Sprintf("ticket creation skipped: %s", e.Reason)
}

// Service implements guarded auto-ticket creation
type Service struct {
	storage  interfaces.StorageManager
	crm      interfaces.CRMService
	logger   arbor.ILogger
	config   *common.Config
	dedupWin time.Duration
}

// NewService creates the ticket service
func NewService(storage interfaces.StorageManager, crm interfaces.CRMService, config *common.Config, logger arbor.ILogger) *Service {
	return &Service{
		storage:  storage,
		crm:      crm,
		logger:   logger,
		config:   config,
		dedupWin: common.MustDuration(config.Tickets.DedupWindow),
	}
}

// autoCreateEnabled resolves the global flag plus the per-tenant override
func (s *Service) autoCreateEnabled(tenantID string) bool {
	if !s.config.Tickets.Enabled {
		return false
	}
	if tenant, ok := s.config.Tenants[tenantID]; ok {
		return tenant.AutoCreateTickets
	}
	return true
}

// isTestPhone reports whether the caller value is a known placeholder
func (s *Service) isTestPhone(phone string) bool {
	for _, test := range s.config.Tickets.TestPhones {
		if strings.EqualFold(phone, test) {
			return true
		}
	}
	return false
}

// hasIdentity reports whether the extraction produced enough caller identity
// to make a ticket useful despite a bad phone value
func (s *Service) hasIdentity(wrapup *models.WrapupDraft) bool {
	if wrapup.CustomerName != "" {
		return true
	}
	return len(strings.TrimSpace(s.summaryFor(wrapup))) >= 10
}

// checkGuards runs every pre-creation guard in order. Any match aborts
// without creating a ticket.
func (s *Service) checkGuards(ctx context.Context, wrapup *models.WrapupDraft) *ErrSkipped {
	if !s.autoCreateEnabled(wrapup.TenantID) {
		return &ErrSkipped{Reason: SkipDisabled}
	}
	if s.isTestPhone(wrapup.CustomerPhone) {
		return &ErrSkipped{Reason: SkipTestPhone}
	}

	digits := common.NormalizePhone(wrapup.CustomerPhone)
	if (len(digits) < s.config.Tickets.MinPhoneDigits || common.IsShortExtension(wrapup.CustomerPhone)) && !s.hasIdentity(wrapup) {
		return &ErrSkipped{Reason: SkipInvalidPhone}
	}

	if _, err := s.storage.TicketStorage().GetByWrapupID(ctx, wrapup.ID); err == nil {
		return &ErrSkipped{Reason: SkipAlreadyExists}
	}
	if wrapup.ExternalTicketID != "" {
		// Covers a race where the webhook path already created the ticket
		return &ErrSkipped{Reason: SkipAlreadyExists}
	}

	// Cross-path window: the webhook and poll paths can both materialize the
	// same physical call. A recent ticket sharing the phone suffix wins.
	suffix := common.PhoneSuffix(wrapup.CustomerPhone, s.config.Tickets.MinPhoneDigits)
	cutoff := time.Now().Add(-s.dedupWin)
	recent, err := s.storage.TicketStorage().RecentByPhoneSuffix(ctx, suffix, cutoff)
	if err != nil {
		s.logger.Warn().Err(err).Str("wrapup_id", wrapup.ID).Msg("Recent-ticket lookup failed, continuing without window check")
	} else if len(recent) > 0 {
		return &ErrSkipped{Reason: SkipRecentDuplicate}
	}

	return nil
}

// CreateForWrapup creates the CRM ticket for a wrapup. Concurrent calls for
// the same wrapup collapse to one ticket through the unique local insert,
// which acts as the reservation.
func (s *Service) CreateForWrapup(ctx context.Context, wrapup *models.WrapupDraft) (*models.ServiceTicket, error) {
	if skip := s.checkGuards(ctx, wrapup); skip != nil {
		s.logger.Info().
			Str("wrapup_id", wrapup.ID).
			Str("reason", string(skip.Reason)).
			Msg("Ticket creation skipped")
		return nil, skip
	}

	ticket := models.NewServiceTicket(wrapup.TenantID, wrapup.ID)
	ticket.Subject = s.buildSubject(wrapup)
	ticket.Description = s.buildDescription(wrapup)
	ticket.CustomerPhone = wrapup.CustomerPhone
	ticket.PipelineID = s.config.CRM.PipelineID
	ticket.StageID = s.config.CRM.StageID
	ticket.CategoryID = s.config.CRM.CategoryID
	ticket.PriorityID = s.config.CRM.PriorityID
	ticket.Source = models.TicketSourceWebhook
	if wrapup.Extraction != nil && wrapup.Extraction.Source == models.SourcePoll {
		ticket.Source = models.TicketSourcePoll
	}

	household, agentID, agentName := s.resolveParties(ctx, wrapup)
	ticket.ExternalHouseID = household
	ticket.AssignedAgentID = agentID
	ticket.AssignedAgentName = agentName

	// Reserve locally before touching the CRM; the unique WrapupID constraint
	// makes racing creators collapse to one row.
	if err := s.storage.TicketStorage().Insert(ctx, ticket); err != nil {
		if errors.Is(err, interfaces.ErrTicketExists) {
			existing, getErr := s.storage.TicketStorage().GetByWrapupID(ctx, wrapup.ID)
			if getErr != nil {
				return nil, &ErrSkipped{Reason: SkipAlreadyExists}
			}
			return existing, &ErrSkipped{Reason: SkipAlreadyExists}
		}
		return nil, fmt.Errorf("failed to reserve ticket: %w", err)
	}

	externalID, err := s.crm.CreateTicket(ctx, interfaces.CreateTicketParams{
		HouseholdID: household,
		Subject:     ticket.Subject,
		Description: ticket.Description,
		PipelineID:  ticket.PipelineID,
		StageID:     ticket.StageID,
		CategoryID:  ticket.CategoryID,
		PriorityID:  ticket.PriorityID,
		AgentID:     agentID,
	})
	if err != nil {
		// Release the reservation so a later attempt retries the CRM instead
		// of tripping the ticket-exists guard on a row no CRM ticket backs.
		if delErr := s.storage.TicketStorage().Delete(ctx, ticket.WrapupID); delErr != nil {
			s.logger.Error().
				Err(delErr).
				Str("wrapup_id", wrapup.ID).
				Msg("Failed to release ticket reservation")
		}
		return nil, fmt.Errorf("CRM ticket creation failed: %w", err)
	}

	ticket.ExternalTicketID = externalID
	if err := s.saveTicket(ctx, ticket); err != nil {
		s.logger.Error().
			Err(err).
			Str("wrapup_id", wrapup.ID).
			Str("external_ticket_id", externalID).
			Msg("Ticket created in CRM but local update failed")
	}

	s.logger.Info().
		Str("wrapup_id", wrapup.ID).
		Str("external_ticket_id", externalID).
		Str("subject", ticket.Subject).
		Msg("Service ticket created")

	return ticket, nil
}

// saveTicket updates the reserved row with the external id
func (s *Service) saveTicket(ctx context.Context, ticket *models.ServiceTicket) error {
	existing, err := s.storage.TicketStorage().GetByWrapupID(ctx, ticket.WrapupID)
	if err != nil {
		return err
	}
	existing.ExternalTicketID = ticket.ExternalTicketID
	existing.ExternalHouseID = ticket.ExternalHouseID
	return s.storage.TicketStorage().Update(ctx, existing)
}

// resolveParties finds the CRM household and assigned agent for the ticket.
// Unresolvable callers land in the configured unmatched household; unknown
// extensions fall back to the system agent identity.
func (s *Service) resolveParties(ctx context.Context, wrapup *models.WrapupDraft) (household, agentID, agentName string) {
	household = s.config.CRM.UnmatchedHouseholdID
	agentID = s.config.CRM.SystemAgentID
	agentName = s.config.CRM.SystemAgentName

	suffix := common.PhoneSuffix(wrapup.CustomerPhone, 7)
	if customer, err := s.storage.CustomerStorage().FindByPhoneSuffix(ctx, suffix); err == nil && customer != nil && customer.ExternalID != "" {
		household = customer.ExternalID
	} else if crmCustomer, err := s.crm.SearchCustomerByPhone(ctx, wrapup.CustomerPhone); err == nil && crmCustomer != nil {
		household = crmCustomer.ExternalID
		s.cacheCustomer(ctx, wrapup.TenantID, crmCustomer)
	} else if err != nil {
		s.logger.Warn().Err(err).Str("wrapup_id", wrapup.ID).Msg("CRM customer search failed, using unmatched household")
	}

	if wrapup.AgentExtension != "" {
		if agent, err := s.storage.AgentStorage().FindByExtension(ctx, wrapup.AgentExtension); err == nil && agent != nil && agent.ExternalID != "" {
			agentID = agent.ExternalID
			agentName = agent.Name
		}
	}

	return household, agentID, agentName
}

// cacheCustomer stores a CRM search hit locally for the next resolution
func (s *Service) cacheCustomer(ctx context.Context, tenantID string, customer *models.Customer) {
	if customer.ID == "" {
		customer.ID = common.NewID()
	}
	customer.TenantID = tenantID
	customer.CreatedAt = time.Now()
	if err := s.storage.CustomerStorage().Save(ctx, customer); err != nil {
		s.logger.Warn().Err(err).Str("external_id", customer.ExternalID).Msg("Failed to cache CRM customer")
	}
}

// buildSubject produces "Inbound Call: <request>" from the extraction
func (s *Service) buildSubject(wrapup *models.WrapupDraft) string {
	direction := "Inbound"
	if wrapup.Direction == models.DirectionOutbound {
		direction = "Outbound"
	}

	request := s.summaryFor(wrapup)
	if len(request) > 120 {
		request = request[:120]
	}

	if wrapup.RequestType == "voicemail" {
		return fmt.Sprintf("%s Voicemail: %s", direction, request)
	}
	return fmt.Sprintf("%s Call: %s", direction, request)
}

// buildDescription assembles the ticket body from the wrapup fields
func (s *Service) buildDescription(wrapup *models.WrapupDraft) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Caller: %s\n", wrapup.CustomerPhone)
	if wrapup.CustomerName != "" {
		fmt.Fprintf(&b, "Customer: %s\n", wrapup.CustomerName)
	}
	if len(wrapup.PolicyNumbers) > 0 {
		fmt.Fprintf(&b, "Policies: %s\n", strings.Join(wrapup.PolicyNumbers, ", "))
	}
	if wrapup.InsuranceType != "" {
		fmt.Fprintf(&b, "Insurance type: %s\n", wrapup.InsuranceType)
	}
	fmt.Fprintf(&b, "\nSummary:\n%s\n", s.summaryFor(wrapup))

	if wrapup.Extraction != nil && len(wrapup.Extraction.ActionItems) > 0 {
		b.WriteString("\nAction items:\n")
		for _, item := range wrapup.Extraction.ActionItems {
			fmt.Fprintf(&b, "- %s\n", item)
		}
	}
	return b.String()
}

// summaryFor prefers the wrapup summary and falls back to the extraction
func (s *Service) summaryFor(wrapup *models.WrapupDraft) string {
	if wrapup.Summary != "" {
		return wrapup.Summary
	}
	if wrapup.Extraction != nil {
		return wrapup.Extraction.Summary
	}
	return ""
}
