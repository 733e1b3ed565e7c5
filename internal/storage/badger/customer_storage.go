package badger

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/wrapline/internal/interfaces"
	"github.com/ternarybob/wrapline/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// CustomerStorage implements interfaces.CustomerStorage for Badger
type CustomerStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewCustomerStorage creates a new CustomerStorage instance
func NewCustomerStorage(db *BadgerDB, logger arbor.ILogger) interfaces.CustomerStorage {
	return &CustomerStorage{
		db:     db,
		logger: logger,
	}
}

func (s *CustomerStorage) FindByPhoneSuffix(ctx context.Context, suffix string) (*models.Customer, error) {
	if suffix == "" {
		return nil, interfaces.ErrNotFound
	}

	var customers []models.Customer
	if err := s.db.Store().Find(&customers, badgerhold.Where("PhoneSuffix").Eq(suffix)); err != nil {
		return nil, fmt.Errorf("failed to query customers by suffix: %w", err)
	}
	if len(customers) == 0 {
		return nil, interfaces.ErrNotFound
	}
	return &customers[0], nil
}

func (s *CustomerStorage) Save(ctx context.Context, customer *models.Customer) error {
	if customer.ID == "" {
		return fmt.Errorf("customer ID is required")
	}
	if err := s.db.Store().Upsert(customer.ID, customer); err != nil {
		return fmt.Errorf("failed to save customer: %w", err)
	}
	return nil
}

// AgentStorage implements interfaces.AgentStorage for Badger
type AgentStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewAgentStorage creates a new AgentStorage instance
func NewAgentStorage(db *BadgerDB, logger arbor.ILogger) interfaces.AgentStorage {
	return &AgentStorage{
		db:     db,
		logger: logger,
	}
}

func (s *AgentStorage) FindByExtension(ctx context.Context, extension string) (*models.Agent, error) {
	if extension == "" {
		return nil, interfaces.ErrNotFound
	}

	var agents []models.Agent
	if err := s.db.Store().Find(&agents, badgerhold.Where("Extension").Eq(extension)); err != nil {
		return nil, fmt.Errorf("failed to query agents by extension: %w", err)
	}
	if len(agents) == 0 {
		return nil, interfaces.ErrNotFound
	}
	return &agents[0], nil
}

func (s *AgentStorage) Save(ctx context.Context, agent *models.Agent) error {
	if agent.ID == "" {
		return fmt.Errorf("agent ID is required")
	}
	if err := s.db.Store().Upsert(agent.ID, agent); err != nil {
		return fmt.Errorf("failed to save agent: %w", err)
	}
	return nil
}
