package badger

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/wrapline/internal/common"
	"github.com/ternarybob/wrapline/internal/interfaces"
	"github.com/ternarybob/wrapline/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// TicketStorage implements interfaces.TicketStorage for Badger.
// Tickets are keyed by wrapup id, so the key itself is the uniqueness
// constraint: concurrent inserts for one wrapup collapse to a single row.
type TicketStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewTicketStorage creates a new TicketStorage instance
func NewTicketStorage(db *BadgerDB, logger arbor.ILogger) interfaces.TicketStorage {
	return &TicketStorage{
		db:     db,
		logger: logger,
	}
}

func (s *TicketStorage) Insert(ctx context.Context, ticket *models.ServiceTicket) error {
	if ticket.WrapupID == "" {
		return fmt.Errorf("ticket wrapup ID is required")
	}

	if err := s.db.Store().Insert(s.key(ticket.WrapupID), ticket); err != nil {
		if err == badgerhold.ErrKeyExists || err == badgerhold.ErrUniqueExists {
			return interfaces.ErrTicketExists
		}
		return fmt.Errorf("failed to insert service ticket: %w", err)
	}
	return nil
}

func (s *TicketStorage) Update(ctx context.Context, ticket *models.ServiceTicket) error {
	if ticket.WrapupID == "" {
		return fmt.Errorf("ticket wrapup ID is required")
	}
	if err := s.db.Store().Update(s.key(ticket.WrapupID), ticket); err != nil {
		if err == badgerhold.ErrNotFound {
			return interfaces.ErrNotFound
		}
		return fmt.Errorf("failed to update service ticket: %w", err)
	}
	return nil
}

func (s *TicketStorage) Delete(ctx context.Context, wrapupID string) error {
	if err := s.db.Store().Delete(s.key(wrapupID), &models.ServiceTicket{}); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil
		}
		return fmt.Errorf("failed to delete service ticket: %w", err)
	}
	return nil
}

func (s *TicketStorage) GetByWrapupID(ctx context.Context, wrapupID string) (*models.ServiceTicket, error) {
	var ticket models.ServiceTicket
	if err := s.db.Store().Get(s.key(wrapupID), &ticket); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, interfaces.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get ticket: %w", err)
	}
	return &ticket, nil
}

func (s *TicketStorage) RecentByPhoneSuffix(ctx context.Context, suffix string, cutoff time.Time) ([]*models.ServiceTicket, error) {
	if suffix == "" {
		return nil, nil
	}

	var tickets []models.ServiceTicket
	if err := s.db.Store().Find(&tickets, badgerhold.Where("CreatedAt").Ge(cutoff)); err != nil {
		return nil, fmt.Errorf("failed to query recent tickets: %w", err)
	}

	result := make([]*models.ServiceTicket, 0)
	for i := range tickets {
		t := tickets[i]
		if common.PhoneSuffix(t.CustomerPhone, len(suffix)) == suffix {
			result = append(result, &t)
		}
	}
	return result, nil
}

func (s *TicketStorage) key(wrapupID string) string {
	return "ticket:" + wrapupID
}
