package badger

import (
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/wrapline/internal/common"
	"github.com/ternarybob/wrapline/internal/interfaces"
)

// Manager implements interfaces.StorageManager over a single BadgerDB
type Manager struct {
	db         *BadgerDB
	jobs       interfaces.JobStorage
	wrapups    interfaces.WrapupStorage
	tickets    interfaces.TicketStorage
	calls      interfaces.CallStorage
	customers  interfaces.CustomerStorage
	agents     interfaces.AgentStorage
	deadletter interfaces.DeadLetterStorage
}

// NewManager opens the database and wires every storage concern
func NewManager(logger arbor.ILogger, config *common.BadgerConfig) (*Manager, error) {
	db, err := NewBadgerDB(logger, config)
	if err != nil {
		return nil, err
	}

	return &Manager{
		db:         db,
		jobs:       NewJobStorage(db, logger),
		wrapups:    NewWrapupStorage(db, logger),
		tickets:    NewTicketStorage(db, logger),
		calls:      NewCallStorage(db, logger),
		customers:  NewCustomerStorage(db, logger),
		agents:     NewAgentStorage(db, logger),
		deadletter: NewDeadLetterStorage(db, logger),
	}, nil
}

func (m *Manager) JobStorage() interfaces.JobStorage               { return m.jobs }
func (m *Manager) WrapupStorage() interfaces.WrapupStorage         { return m.wrapups }
func (m *Manager) TicketStorage() interfaces.TicketStorage         { return m.tickets }
func (m *Manager) CallStorage() interfaces.CallStorage             { return m.calls }
func (m *Manager) CustomerStorage() interfaces.CustomerStorage     { return m.customers }
func (m *Manager) AgentStorage() interfaces.AgentStorage           { return m.agents }
func (m *Manager) DeadLetterStorage() interfaces.DeadLetterStorage { return m.deadletter }

// Close closes the underlying database
func (m *Manager) Close() error {
	return m.db.Close()
}
